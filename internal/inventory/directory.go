package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"dcops-backend/internal/models"
)

// Directory answers asset questions against the inventory database. Lookups
// that find nothing return (nil, nil).
type Directory interface {
	DeviceByIP(ctx context.Context, ip string) (*models.Device, error)
	VMByIP(ctx context.Context, ip string) (*models.VM, error)
	GroupOf(ctx context.Context, asset models.AssetRef) (*string, error)
	Ping(ctx context.Context) error
	Close() error
}

type ConnectionConfig struct {
	Type        string // postgres | mysql | mssql
	DSN         string // used verbatim when set
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	DeviceTable string
	VMTable     string
}

const (
	defaultDeviceTable = "device_items"
	defaultVMTable     = "vm_items"
)

// dialect captures what differs between the supported SQL servers.
type dialect struct {
	name        string
	quote       func(string) string
	placeholder string
	top         bool
}

type sqlDirectory struct {
	db      *sql.DB
	dialect dialect
	devices string
	vms     string
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// quoteQualified validates a schema-qualified table name and quotes each part.
func quoteQualified(ident string, quote func(string) string) (string, error) {
	trimmed := strings.TrimSpace(ident)
	if trimmed == "" {
		return "", errors.New("identifier is empty")
	}
	parts := strings.Split(trimmed, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("identifier %q has too many segments", ident)
	}
	for i, part := range parts {
		if !identPattern.MatchString(part) {
			return "", fmt.Errorf("invalid identifier segment %q", part)
		}
		parts[i] = quote(part)
	}
	return strings.Join(parts, "."), nil
}

func newSQLDirectory(db *sql.DB, d dialect, cfg ConnectionConfig) (*sqlDirectory, error) {
	deviceTable := cfg.DeviceTable
	if deviceTable == "" {
		deviceTable = defaultDeviceTable
	}
	vmTable := cfg.VMTable
	if vmTable == "" {
		vmTable = defaultVMTable
	}
	devices, err := quoteQualified(deviceTable, d.quote)
	if err != nil {
		return nil, fmt.Errorf("device table: %w", err)
	}
	vms, err := quoteQualified(vmTable, d.quote)
	if err != nil {
		return nil, fmt.Errorf("vm table: %w", err)
	}
	return &sqlDirectory{db: db, dialect: d, devices: devices, vms: vms}, nil
}

// byIPQuery selects one asset by address.
func (d *sqlDirectory) byIPQuery(table string) string {
	if d.dialect.top {
		return fmt.Sprintf("SELECT TOP 1 id, ip_address, metric_group_id FROM %s WHERE ip_address = %s", table, d.dialect.placeholder)
	}
	return fmt.Sprintf("SELECT id, ip_address, metric_group_id FROM %s WHERE ip_address = %s LIMIT 1", table, d.dialect.placeholder)
}

func (d *sqlDirectory) groupQuery(table string) string {
	return fmt.Sprintf("SELECT metric_group_id FROM %s WHERE id = %s", table, d.dialect.placeholder)
}

type assetRow struct {
	id      string
	ip      sql.NullString
	groupID sql.NullString
}

func (d *sqlDirectory) lookupByIP(ctx context.Context, table, ip string) (*assetRow, error) {
	var row assetRow
	err := d.db.QueryRowContext(ctx, d.byIPQuery(table), ip).Scan(&row.id, &row.ip, &row.groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s lookup by ip: %w", d.dialect.name, err)
	}
	return &row, nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	s := ns.String
	return &s
}

func (d *sqlDirectory) DeviceByIP(ctx context.Context, ip string) (*models.Device, error) {
	row, err := d.lookupByIP(ctx, d.devices, ip)
	if err != nil || row == nil {
		return nil, err
	}
	return &models.Device{ID: row.id, IPAddress: row.ip.String, GroupID: nullableString(row.groupID)}, nil
}

func (d *sqlDirectory) VMByIP(ctx context.Context, ip string) (*models.VM, error) {
	row, err := d.lookupByIP(ctx, d.vms, ip)
	if err != nil || row == nil {
		return nil, err
	}
	return &models.VM{ID: row.id, IPAddress: row.ip.String, GroupID: nullableString(row.groupID)}, nil
}

// GroupOf returns the metric group of an asset. When both sides are set the
// VM's group wins, matching how VMs are placed inside devices.
func (d *sqlDirectory) GroupOf(ctx context.Context, asset models.AssetRef) (*string, error) {
	table, id := d.devices, asset.DeviceID
	if asset.VMID != nil {
		table, id = d.vms, asset.VMID
	}
	if id == nil {
		return nil, nil
	}
	var group sql.NullString
	err := d.db.QueryRowContext(ctx, d.groupQuery(table), *id).Scan(&group)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s group lookup: %w", d.dialect.name, err)
	}
	return nullableString(group), nil
}

func (d *sqlDirectory) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", d.dialect.name, err)
	}
	return nil
}

func (d *sqlDirectory) Close() error {
	return d.db.Close()
}
