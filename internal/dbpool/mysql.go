package dbpool

import (
	"context"

	_ "github.com/go-sql-driver/mysql"

	"github.com/cordal/gateway/internal/model"
)

// NewMySQLPool opens a pooled mysql data source over a plain *sql.DB.
func NewMySQLPool(ctx context.Context, def *model.DatabaseDefinition) (Pool, error) {
	return newSQLPool(ctx, def, "mysql", def.URL)
}
