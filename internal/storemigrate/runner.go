// Package storemigrate applies the store-source schema (config_databases,
// config_queries, config_query_parameters, config_endpoints,
// config_invalidation_rules) with goose, used only when
// gatewayconfig.ConfigSourceConfig.Selector is "store".
package storemigrate

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where migration .sql files live relative to the process
// working directory.
const DefaultDir = "migrations"

// Dialect maps a dbpool driver name to goose's dialect identifier; the
// names happen to coincide for every driver CORDAL supports.
func Dialect(driver string) string {
	return driver
}

// Up runs every not-yet-applied migration in dir against db, using
// goose's own goose_db_version bookkeeping table.
func Up(db *sql.DB, driver, dir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = DefaultDir
	}
	if err := goose.SetDialect(Dialect(driver)); err != nil {
		return fmt.Errorf("storemigrate: unsupported dialect %q: %w", driver, err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("storemigrate: applying migrations from %q: %w", dir, err)
	}
	logger.Info("store schema migrations applied", "dir", dir, "driver", driver)
	return nil
}

// Status reports the applied/pending state of every migration in dir,
// used by `cordal migrate status`.
func Status(db *sql.DB, driver, dir string) error {
	if dir == "" {
		dir = DefaultDir
	}
	if err := goose.SetDialect(Dialect(driver)); err != nil {
		return fmt.Errorf("storemigrate: unsupported dialect %q: %w", driver, err)
	}
	return goose.Status(db, dir)
}
