package inventory

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"dcops-backend/internal/models"
)

func TestQuoteQualified(t *testing.T) {
	quoted, err := quoteQualified("cmdb.vm_items", postgresDialect.quote)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quoted != `"cmdb"."vm_items"` {
		t.Fatalf("unexpected quoted value: %s", quoted)
	}
	if _, err := quoteQualified("a.b.c", postgresDialect.quote); err == nil {
		t.Fatalf("expected error for too many segments")
	}
	if _, err := quoteQualified("vm_items; DROP TABLE x", postgresDialect.quote); err == nil {
		t.Fatalf("expected error for invalid identifier")
	}
}

func TestByIPQueryPerDialect(t *testing.T) {
	tests := []struct {
		d    dialect
		want string
	}{
		{postgresDialect, `SELECT id, ip_address, metric_group_id FROM "vm_items" WHERE ip_address = $1 LIMIT 1`},
		{mysqlDialect, "SELECT id, ip_address, metric_group_id FROM `vm_items` WHERE ip_address = ? LIMIT 1"},
		{mssqlDialect, "SELECT TOP 1 id, ip_address, metric_group_id FROM [vm_items] WHERE ip_address = @p1"},
	}
	for _, tt := range tests {
		t.Run(tt.d.name, func(t *testing.T) {
			dir, err := newSQLDirectory(nil, tt.d, ConnectionConfig{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := dir.byIPQuery(dir.vms); got != tt.want {
				t.Fatalf("unexpected query:\n got %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestNewDirectoryRejectsUnknownType(t *testing.T) {
	if _, err := NewDirectory(ConnectionConfig{}); err == nil {
		t.Fatalf("expected error for empty type")
	}
	if _, err := NewDirectory(ConnectionConfig{Type: "oracle"}); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported type error, got %v", err)
	}
}

func TestDSNBuilders(t *testing.T) {
	pg := postgresDSN(ConnectionConfig{Host: "db", User: "u", Password: "p", Database: "cmdb"})
	if !strings.Contains(pg, "port=5432") || !strings.Contains(pg, "sslmode=disable") {
		t.Fatalf("unexpected postgres dsn %s", pg)
	}
	my := mysqlDSN(ConnectionConfig{Host: "db", User: "u", Password: "p", Database: "cmdb", SSLMode: "disable"})
	if my != "u:p@tcp(db:3306)/cmdb?parseTime=true&tls=false" {
		t.Fatalf("unexpected mysql dsn %s", my)
	}
	ms := mssqlDSN(ConnectionConfig{Host: "db", User: "u", Password: "p@ss", Database: "cmdb"})
	if ms != "sqlserver://u:p%40ss@db:1433?database=cmdb&encrypt=true" {
		t.Fatalf("unexpected mssql dsn %s", ms)
	}
}

func TestPostgresDirectoryLookups(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	dir, err := NewDirectory(ConnectionConfig{Type: "postgres", DSN: dsn})
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	defer dir.Close()
	ctx := context.Background()
	sqlDir := dir.(*sqlDirectory)
	schema, err := os.ReadFile("../../migrations/0002_inventory.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if _, err := sqlDir.db.ExecContext(ctx, string(schema)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	ip := "10.99." + uuid.NewString()[:4]
	deviceID, vmID := uuid.NewString(), uuid.NewString()
	if _, err := sqlDir.db.ExecContext(ctx, `INSERT INTO device_items (id, name, ip_address, metric_group_id) VALUES ($1,'d',$2,'dev-group')`, deviceID, ip); err != nil {
		t.Fatalf("insert device: %v", err)
	}
	if _, err := sqlDir.db.ExecContext(ctx, `INSERT INTO vm_items (id, name, ip_address, metric_group_id) VALUES ($1,'v',$2,'vm-group')`, vmID, ip); err != nil {
		t.Fatalf("insert vm: %v", err)
	}

	vm, err := dir.VMByIP(ctx, ip)
	if err != nil || vm == nil || vm.ID != vmID {
		t.Fatalf("expected vm %s, got %+v err=%v", vmID, vm, err)
	}
	group, err := dir.GroupOf(ctx, models.AssetRef{DeviceID: &deviceID, VMID: &vmID})
	if err != nil || group == nil || *group != "vm-group" {
		t.Fatalf("expected vm group to win, got %v err=%v", group, err)
	}
	missing, err := dir.DeviceByIP(ctx, "192.0.2.254")
	if err != nil || missing != nil {
		t.Fatalf("expected no device, got %+v err=%v", missing, err)
	}
}
