package dbpool

import (
	"context"
	"fmt"
	"time"
)

// SchemaInspector mirrors configvalidate.SchemaInspector; declared here
// too so dbpool has no import dependency on configvalidate (the
// dependency runs the other way: cmd/cordal wires a dbpool.Manager in
// wherever configvalidate.Inspectors is expected).
type SchemaInspector interface {
	TableExists(ctx context.Context, table string) (bool, error)
	ColumnExists(ctx context.Context, table, column string) (bool, error)
}

// schemaInspector implements SchemaInspector against a sqlPool's
// database/sql handle. Each driver's catalog query differs, resolved
// here rather than in configvalidate so that package stays
// driver-agnostic.
type schemaInspector struct {
	pool   *sqlPool
	driver string
}

// Inspector returns a schema inspector for the named database if its
// pool is currently reachable, or ok=false otherwise — the caller
// degrades the live-schema check to a warning in that case.
func (m *Manager) Inspector(ctx context.Context, name string) (SchemaInspector, bool) {
	p, err := m.DataSource(ctx, name)
	if err != nil {
		return nil, false
	}
	sp, ok := p.(*sqlPool)
	if !ok {
		return nil, false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sp.db.PingContext(probeCtx); err != nil {
		return nil, false
	}
	m.mu.RLock()
	driver := m.defs[name].Driver
	m.mu.RUnlock()
	return &schemaInspector{pool: sp, driver: driver}, true
}

func (s *schemaInspector) TableExists(ctx context.Context, table string) (bool, error) {
	query, args := s.tableExistsQuery(table)
	var count int
	if err := s.pool.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *schemaInspector) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	query, args := s.columnExistsQuery(table, column)
	var count int
	if err := s.pool.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *schemaInspector) tableExistsQuery(table string) (string, []interface{}) {
	switch s.driver {
	case "postgres":
		return "SELECT count(*) FROM information_schema.tables WHERE table_name = $1", []interface{}{table}
	case "mysql":
		return "SELECT count(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", []interface{}{table}
	default: // sqlite
		return "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", []interface{}{table}
	}
}

func (s *schemaInspector) columnExistsQuery(table, column string) (string, []interface{}) {
	switch s.driver {
	case "postgres":
		return "SELECT count(*) FROM information_schema.columns WHERE table_name = $1 AND column_name = $2", []interface{}{table, column}
	case "mysql":
		return "SELECT count(*) FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? AND column_name = ?", []interface{}{table, column}
	default: // sqlite: pragma table_info doesn't support bind params for the table name safely via driver, but table existence was already confirmed via sqlite_master, and table names here never come from request input — only from configuration loaded at startup.
		return fmt.Sprintf("SELECT count(*) FROM pragma_table_info('%s') WHERE name = ?", table), []interface{}{column}
	}
}
