package configstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordal/gateway/internal/model"
)

func sampleConfig() *model.ConfigSet {
	cfg := model.NewConfigSet()
	cfg.Databases["db1"] = &model.DatabaseDefinition{Name: "db1", Driver: "postgres", MaxPoolSize: 5}
	cfg.Queries["q1"] = &model.QueryDefinition{Name: "q1", DatabaseName: "db1", SQL: "SELECT 1"}
	cfg.Endpoints["e1"] = &model.EndpointDefinition{Name: "e1", Path: "/a", Method: "GET", QueryName: "q1"}
	return cfg
}

func TestSnapshotAndLive(t *testing.T) {
	m := New(0)
	assert.Nil(t, m.Live())

	v1 := m.Snapshot(sampleConfig())
	require.NotEmpty(t, v1)
	live := m.Live()
	require.NotNil(t, live)
	assert.Equal(t, v1, live.Version)
}

// Round-trip of configuration law: load -> snapshot -> delta against
// itself -> empty delta.
func TestDeltaAgainstSelfIsEmpty(t *testing.T) {
	cfg := sampleConfig()
	delta := Delta(cfg, cfg)
	assert.True(t, delta.Empty())
}

func TestDeltaDetectsAddedUpdatedRemoved(t *testing.T) {
	old := sampleConfig()
	next := sampleConfig()
	next.Queries["q1"].SQL = "SELECT 2" // updated
	next.Endpoints["e2"] = &model.EndpointDefinition{Name: "e2", Path: "/b", Method: "GET", QueryName: "q1"} // added
	delete(next.Databases, "db1") // removed

	delta := Delta(old, next)
	assert.Contains(t, delta.QueriesUpdated, "q1")
	assert.Contains(t, delta.EndpointsAdded, "e2")
	assert.Contains(t, delta.DatabasesRemoved, "db1")
	assert.False(t, delta.Empty())
}

func TestDeltaFromNilTreatsEverythingAsAdded(t *testing.T) {
	next := sampleConfig()
	delta := Delta(nil, next)
	assert.Contains(t, delta.DatabasesAdded, "db1")
	assert.Contains(t, delta.QueriesAdded, "q1")
	assert.Contains(t, delta.EndpointsAdded, "e1")
}

func TestHistoryBounded(t *testing.T) {
	m := New(2)
	m.Snapshot(sampleConfig())
	m.Snapshot(sampleConfig())
	m.Snapshot(sampleConfig())

	assert.LessOrEqual(t, len(m.History()), 2)
}

// Rollback is idempotent: applying rollback twice yields the same live
// state.
func TestRollbackIdempotent(t *testing.T) {
	m := New(0)
	v1 := m.Snapshot(sampleConfig())
	m.Snapshot(sampleConfig())

	snap1, err := m.Rollback(v1)
	require.NoError(t, err)
	assert.Equal(t, v1, snap1.Version)
	assert.Equal(t, v1, m.Live().Version)

	// Applying rollback twice yields the same live state.
	snap2, err := m.Rollback(v1)
	require.NoError(t, err)
	assert.Equal(t, v1, snap2.Version)
	assert.Equal(t, v1, m.Live().Version)
}

func TestRollbackUnknownVersionErrors(t *testing.T) {
	m := New(0)
	m.Snapshot(sampleConfig())
	_, err := m.Rollback("does-not-exist")
	assert.Error(t, err)
}

func TestValidateDeltaCatchesDanglingReferences(t *testing.T) {
	cfg := sampleConfig()
	cfg.Queries["q1"].DatabaseName = "ghost"

	report := ValidateDelta(cfg)
	require.False(t, report.OK())
	assert.Contains(t, report.Errors[0], "ghost")
}

func TestValidateDeltaCleanConfigPasses(t *testing.T) {
	report := ValidateDelta(sampleConfig())
	assert.True(t, report.OK())
}
