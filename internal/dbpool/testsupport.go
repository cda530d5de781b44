package dbpool

import (
	"github.com/jmoiron/sqlx"

	"github.com/cordal/gateway/internal/model"
)

// NewManagerForTest builds a Manager pre-populated with already-open
// pools, bypassing real driver dialing. Exported (rather than living in
// a _test.go file) so other packages' tests — queryexec, dispatch,
// reload — can exercise a real Manager against a fake or sqlmock-backed
// Pool without opening an actual database connection.
func NewManagerForTest(pools map[string]Pool, defs map[string]*model.DatabaseDefinition) *Manager {
	m := NewManager(nil)
	for name, p := range pools {
		m.pools[name] = p
	}
	for name, d := range defs {
		m.defs[name] = d
	}
	return m
}

// NewTestPool wraps an already-open *sqlx.DB (typically sqlmock-backed)
// as a Pool without dialing a real driver, for use by other packages'
// tests (queryexec, dispatch, reload). db must have been constructed
// with sqlx.NewDb using a real driver name (e.g. "postgres") so
// sqlx.Rebind applies that driver's bindvar style to the mocked query
// text, matching what a real pool would produce.
func NewTestPool(name string, db *sqlx.DB) Pool {
	return &sqlPool{name: name, db: db}
}
