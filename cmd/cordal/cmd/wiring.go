package cmd

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// sqlDriverName maps a gatewayconfig store driver name to the
// registered database/sql driver name, matching internal/dbpool's own
// per-driver choice (NewPostgresPool/NewMySQLPool/NewSQLitePool).
func sqlDriverName(driver string) (string, error) {
	switch driver {
	case "postgres":
		return "pgx", nil
	case "mysql":
		return "mysql", nil
	case "sqlite":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported store driver %q", driver)
	}
}

// openStoreDB opens the relational store backing store-source
// configuration and, when used, its own schema migrations.
func openStoreDB(driver, dsn string) (*sqlx.DB, error) {
	driverName, err := sqlDriverName(driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store connection: %w", err)
	}
	return db, nil
}
