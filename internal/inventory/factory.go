package inventory

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
)

var (
	postgresDialect = dialect{name: "postgres", quote: func(s string) string { return `"` + s + `"` }, placeholder: "$1"}
	mysqlDialect    = dialect{name: "mysql", quote: func(s string) string { return "`" + s + "`" }, placeholder: "?"}
	mssqlDialect    = dialect{name: "mssql", quote: func(s string) string { return "[" + s + "]" }, placeholder: "@p1", top: true}
)

func NewDirectory(cfg ConnectionConfig) (Directory, error) {
	if strings.TrimSpace(cfg.Type) == "" {
		return nil, errors.New("inventory type is required")
	}
	var (
		d      dialect
		driver string
		dsn    = cfg.DSN
	)
	switch strings.ToLower(cfg.Type) {
	case "postgres", "postgresql":
		d, driver = postgresDialect, "postgres"
		if dsn == "" {
			dsn = postgresDSN(cfg)
		}
	case "mysql":
		d, driver = mysqlDialect, "mysql"
		if dsn == "" {
			dsn = mysqlDSN(cfg)
		}
	case "mssql", "sqlserver":
		d, driver = mssqlDialect, "sqlserver"
		if dsn == "" {
			dsn = mssqlDSN(cfg)
		}
	default:
		return nil, fmt.Errorf("unsupported inventory type %q", cfg.Type)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s inventory: %w", d.name, err)
	}
	dir, err := newSQLDirectory(db, d, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return dir, nil
}

func postgresDSN(cfg ConnectionConfig) string {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)
}

func mysqlDSN(cfg ConnectionConfig) string {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "disable" {
		dsn += "&tls=false"
	} else if sslMode != "" {
		dsn += "&tls=true"
	}
	return dsn
}

func mssqlDSN(cfg ConnectionConfig) string {
	if cfg.Port == 0 {
		cfg.Port = 1433
	}
	encrypt := "true"
	if strings.ToLower(strings.TrimSpace(cfg.SSLMode)) == "disable" {
		encrypt = "disable"
	}
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s",
		url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password), cfg.Host, cfg.Port, url.QueryEscape(cfg.Database), encrypt)
}
