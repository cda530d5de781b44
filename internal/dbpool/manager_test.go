package dbpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordal/gateway/internal/cordalerr"
	"github.com/cordal/gateway/internal/model"
)

func sqliteDef(name string) *model.DatabaseDefinition {
	return &model.DatabaseDefinition{
		Name:                name,
		URL:                 ":memory:",
		Driver:              "sqlite",
		MaxPoolSize:         1,
		ConnectionTimeoutMs: 2000,
	}
}

func TestUpdatePoolsFailureKeepsOldPoolServing(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil)
	t.Cleanup(m.Shutdown)

	require.NoError(t, m.EnsureAll(ctx, map[string]*model.DatabaseDefinition{"db1": sqliteDef("db1")}))
	before, err := m.DataSource(ctx, "db1")
	require.NoError(t, err)

	bad := sqliteDef("db1")
	bad.Driver = "bogus"
	err = m.UpdatePools(ctx, PoolDelta{
		Updated: map[string]*model.DatabaseDefinition{"db1": bad},
	})
	require.Error(t, err)
	assert.Equal(t, cordalerr.CodeDatabaseUnavailable, cordalerr.CodeOf(err))

	// The old pool must still be registered and usable.
	after, err := m.DataSource(ctx, "db1")
	require.NoError(t, err)
	assert.Same(t, before, after)
	assert.NoError(t, after.Ping(ctx))
}

func TestUpdatePoolsSwapsUpdatedPoolAndClosesOld(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil)
	t.Cleanup(m.Shutdown)

	require.NoError(t, m.EnsureAll(ctx, map[string]*model.DatabaseDefinition{"db1": sqliteDef("db1")}))
	before, err := m.DataSource(ctx, "db1")
	require.NoError(t, err)

	require.NoError(t, m.UpdatePools(ctx, PoolDelta{
		Updated: map[string]*model.DatabaseDefinition{"db1": sqliteDef("db1")},
	}))

	after, err := m.DataSource(ctx, "db1")
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	assert.NoError(t, after.Ping(ctx))
	assert.Error(t, before.Ping(ctx), "the displaced pool must be closed after the swap")
}

func TestUpdatePoolsRemovesNamedPool(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil)
	t.Cleanup(m.Shutdown)

	require.NoError(t, m.EnsureAll(ctx, map[string]*model.DatabaseDefinition{"db1": sqliteDef("db1")}))

	require.NoError(t, m.UpdatePools(ctx, PoolDelta{Removed: []string{"db1"}}))

	_, err := m.DataSource(ctx, "db1")
	require.Error(t, err)
	assert.Equal(t, cordalerr.CodeDatabaseUnavailable, cordalerr.CodeOf(err))
}
