package dbpool

import (
	"context"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cordal/gateway/internal/model"
)

// NewPostgresPool opens a pooled postgres data source through pgx's
// database/sql adapter. The Query Executor (C4) must bind and scan
// identically across every driver, so every Pool — postgres included —
// is backed by the same *sqlx.DB surface; pool tuning (max/min
// connections, lifetimes) goes through sql.DB's Set* calls.
func NewPostgresPool(ctx context.Context, def *model.DatabaseDefinition) (Pool, error) {
	return newSQLPool(ctx, def, "pgx", def.URL)
}
