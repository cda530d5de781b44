package dbpool

import (
	"context"

	_ "modernc.org/sqlite"

	"github.com/cordal/gateway/internal/model"
)

// NewSQLitePool opens a pooled sqlite data source using the pure-Go
// modernc.org/sqlite driver. Sqlite serializes writers internally, so
// the pool is capped at a single open connection regardless of the
// configured maxPoolSize.
func NewSQLitePool(ctx context.Context, def *model.DatabaseDefinition) (Pool, error) {
	capped := *def
	capped.MaxPoolSize = 1
	capped.MinIdle = 0
	return newSQLPool(ctx, &capped, "sqlite", def.URL)
}
