// Package dbpool implements the Connection-Pool Manager (C3): one pooled
// data source per named backend database, created lazily and replaced
// wholesale by the reload orchestrator. Driver differences stay behind
// the Pool interface below.
package dbpool

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cordal/gateway/internal/model"
)

// Stats mirrors the subset of sql.DBStats callers care about, independent
// of which driver backs the pool.
type Stats struct {
	OpenConnections int
	InUse           int
	Idle            int
}

// Pool is the driver-agnostic contract the Query Executor (C4) and the
// Connection-Pool Manager operate against. Every concrete pool
// (postgres, mysql, sqlite) exposes its connections through *sqlx.DB so
// the executor never imports a driver package directly.
type Pool interface {
	// DB returns the underlying sqlx handle for query execution.
	DB() *sqlx.DB
	// Ping probes the connection with the given timeout budget.
	Ping(ctx context.Context) error
	// Stats reports pool occupancy for /api/health.
	Stats() Stats
	// Close quiesces the pool. Safe to call once.
	Close() error
	// DatabaseName is the configured logical name (not the driver DSN).
	DatabaseName() string
}

// sqlPool is the shared implementation backing the postgres, mysql and
// sqlite Pool variants, since database/sql's pooling is driver-agnostic once a
// *sql.DB has been opened against the right driver name and DSN.
type sqlPool struct {
	name string
	db   *sqlx.DB
}

func newSQLPool(ctx context.Context, def *model.DatabaseDefinition, driverName, dsn string) (Pool, error) {
	raw, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(def.MaxPoolSize)
	raw.SetMaxIdleConns(def.MinIdle)
	if def.MaxLifetimeMs > 0 {
		raw.SetConnMaxLifetime(time.Duration(def.MaxLifetimeMs) * time.Millisecond)
	}
	if def.IdleTimeoutMs > 0 {
		raw.SetConnMaxIdleTime(time.Duration(def.IdleTimeoutMs) * time.Millisecond)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout(def))
	defer cancel()
	if err := raw.PingContext(connectCtx); err != nil {
		raw.Close()
		return nil, err
	}

	return &sqlPool{name: def.Name, db: sqlx.NewDb(raw, driverName)}, nil
}

func connectTimeout(def *model.DatabaseDefinition) time.Duration {
	if def.ConnectionTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(def.ConnectionTimeoutMs) * time.Millisecond
}

func (p *sqlPool) DB() *sqlx.DB { return p.db }

func (p *sqlPool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *sqlPool) Stats() Stats {
	s := p.db.Stats()
	return Stats{OpenConnections: s.OpenConnections, InUse: s.InUse, Idle: s.Idle}
}

func (p *sqlPool) Close() error {
	return p.db.Close()
}

func (p *sqlPool) DatabaseName() string { return p.name }
