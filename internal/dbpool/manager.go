package dbpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cordal/gateway/internal/cordalerr"
	"github.com/cordal/gateway/internal/model"
)

// Manager owns one Pool per named backend database, created lazily and
// swapped wholesale by the reload orchestrator (C11).
type Manager struct {
	mu     sync.RWMutex
	pools  map[string]Pool
	defs   map[string]*model.DatabaseDefinition
	logger *slog.Logger
}

// NewManager creates an empty pool manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pools:  make(map[string]Pool),
		defs:   make(map[string]*model.DatabaseDefinition),
		logger: logger,
	}
}

func openPool(ctx context.Context, def *model.DatabaseDefinition) (Pool, error) {
	switch def.Driver {
	case "postgres":
		return NewPostgresPool(ctx, def)
	case "mysql":
		return NewMySQLPool(ctx, def)
	case "sqlite":
		return NewSQLitePool(ctx, def)
	default:
		return nil, fmt.Errorf("unsupported driver %q for database %q", def.Driver, def.Name)
	}
}

// EnsureAll lazily opens a pool for every database not already pooled.
// Called once at startup and after every reload so dataSource lookups
// never block on first use.
func (m *Manager) EnsureAll(ctx context.Context, defs map[string]*model.DatabaseDefinition) error {
	for name, def := range defs {
		if _, err := m.ensure(ctx, name, def); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) ensure(ctx context.Context, name string, def *model.DatabaseDefinition) (Pool, error) {
	m.mu.RLock()
	if p, ok := m.pools[name]; ok {
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	pool, err := openPool(ctx, def)
	if err != nil {
		m.logger.Error("failed to open database pool", "database", name, "driver", def.Driver, "error", err)
		return nil, cordalerr.DatabaseUnavailable(name, err)
	}

	m.mu.Lock()
	m.pools[name] = pool
	m.defs[name] = def
	m.mu.Unlock()

	m.logger.Info("opened database pool", "database", name, "driver", def.Driver)
	return pool, nil
}

// DataSource returns the pool for name, lazily opening it against the
// definition previously registered via EnsureAll/UpdatePools, or fails
// with UnknownDatabaseError-equivalent CodeDatabaseUnavailable.
func (m *Manager) DataSource(ctx context.Context, name string) (Pool, error) {
	m.mu.RLock()
	p, ok := m.pools[name]
	def, defOk := m.defs[name]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}
	if !defOk {
		return nil, cordalerr.New(cordalerr.CodeDatabaseUnavailable, fmt.Sprintf("unknown database %q", name))
	}
	return m.ensure(ctx, name, def)
}

// IsAvailable performs a non-blocking connect-and-ping probe with a
// short timeout.
func (m *Manager) IsAvailable(ctx context.Context, name string) bool {
	p, err := m.DataSource(ctx, name)
	if err != nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.Ping(probeCtx) == nil
}

// PoolDelta lists which databases were added, updated, or removed between
// two configuration generations.
type PoolDelta struct {
	Added   map[string]*model.DatabaseDefinition
	Updated map[string]*model.DatabaseDefinition
	Removed []string
}

// UpdatePools applies a PoolDelta in two phases. Every replacement pool
// for added/updated databases is opened first, off to the side; only
// once all of them are open does the live map change, swapping the new
// pools in and removing the removed names in one critical section, then
// closing the displaced pools. A failed open therefore leaves the
// previous pool set fully intact and serving — the caller's rollback
// needs no pool work of its own. In-flight borrows are never
// interrupted: displaced pools close after the swap, and a borrow
// issued after this returns always observes the new pool for an updated
// name.
func (m *Manager) UpdatePools(ctx context.Context, delta PoolDelta) error {
	staged := make(map[string]Pool, len(delta.Added)+len(delta.Updated))
	stagedDefs := make(map[string]*model.DatabaseDefinition, len(staged))
	closeStaged := func() {
		for name, p := range staged {
			if err := p.Close(); err != nil {
				m.logger.Warn("error closing staged pool", "database", name, "error", err)
			}
		}
	}
	for _, defs := range []map[string]*model.DatabaseDefinition{delta.Updated, delta.Added} {
		for name, def := range defs {
			pool, err := openPool(ctx, def)
			if err != nil {
				m.logger.Error("failed to open replacement pool, previous pools untouched",
					"database", name, "driver", def.Driver, "error", err)
				closeStaged()
				return cordalerr.DatabaseUnavailable(name, err)
			}
			staged[name] = pool
			stagedDefs[name] = def
		}
	}

	m.mu.Lock()
	displaced := make(map[string]Pool, len(staged)+len(delta.Removed))
	for name, pool := range staged {
		if old, ok := m.pools[name]; ok {
			displaced[name] = old
		}
		m.pools[name] = pool
		m.defs[name] = stagedDefs[name]
	}
	for _, name := range delta.Removed {
		if p, ok := m.pools[name]; ok {
			displaced[name] = p
			delete(m.pools, name)
		}
		delete(m.defs, name)
	}
	m.mu.Unlock()

	for name, p := range displaced {
		if err := p.Close(); err != nil {
			m.logger.Warn("error closing retired pool", "database", name, "error", err)
		}
	}
	return nil
}

// Shutdown quiesces every open pool.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, p := range m.pools {
		if err := p.Close(); err != nil {
			m.logger.Warn("error closing pool during shutdown", "database", name, "error", err)
		}
	}
	m.pools = make(map[string]Pool)
}

// Health returns an up/down map suitable for /api/health.
func (m *Manager) Health(ctx context.Context) map[string]string {
	m.mu.RLock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	m.mu.RUnlock()

	out := make(map[string]string, len(names))
	for _, name := range names {
		if m.IsAvailable(ctx, name) {
			out[name] = "up"
		} else {
			out[name] = "down"
		}
	}
	return out
}
