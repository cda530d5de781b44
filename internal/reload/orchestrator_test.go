package reload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordal/gateway/internal/configstate"
	"github.com/cordal/gateway/internal/configvalidate"
	"github.com/cordal/gateway/internal/dbpool"
	"github.com/cordal/gateway/internal/model"
)

type fakeLoader struct {
	cfg *model.ConfigSet
	err error
}

func (f *fakeLoader) Load(ctx context.Context) (*model.ConfigSet, error) {
	return f.cfg, f.err
}

type fakeCacheConfigurator struct {
	configured []string
}

func (f *fakeCacheConfigurator) Configure(name string, maxEntries int, ttl time.Duration) {
	f.configured = append(f.configured, name)
}

type fakeRuleSetter struct {
	rules []model.InvalidationRule
}

func (f *fakeRuleSetter) SetRules(rules []model.InvalidationRule) { f.rules = rules }
func (f *fakeRuleSetter) Subscribe()                              {}

func cleanConfig() *model.ConfigSet {
	cfg := model.NewConfigSet()
	cfg.Databases["db1"] = &model.DatabaseDefinition{Name: "db1", Driver: "sqlite", URL: ":memory:", MaxPoolSize: 5}
	cfg.Queries["q1"] = &model.QueryDefinition{
		Name: "q1", DatabaseName: "db1", SQL: "SELECT 1 WHERE id = ?",
		Parameters: []model.QueryParameter{{Name: "id", ScalarType: model.ScalarLong, Source: model.SourcePath, Required: true}},
	}
	cfg.Endpoints["e1"] = &model.EndpointDefinition{Name: "e1", Path: "/api/x/{id}", Method: "GET", QueryName: "q1"}
	return cfg
}

func noopValidate(ctx context.Context, cfg *model.ConfigSet) *configvalidate.Report {
	return configvalidate.Validate(ctx, cfg, nil)
}

func newTestOrchestrator(loader *fakeLoader) (*Orchestrator, *fakeCacheConfigurator, *fakeRuleSetter) {
	state := configstate.New(0)
	pools := dbpool.NewManagerForTest(nil, nil)
	caches := &fakeCacheConfigurator{}
	rules := &fakeRuleSetter{}
	o := New(loader, noopValidate, state, pools, caches, rules, Options{}, nil)
	return o, caches, rules
}

func TestReloadAppliesCleanConfig(t *testing.T) {
	o, _, _ := newTestOrchestrator(&fakeLoader{cfg: cleanConfig()})

	result, err := o.Reload(context.Background(), TriggerManual, false)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StatusWatching, o.Status())

	_, ok := o.Registry().Lookup("e1")
	assert.True(t, ok)
}

// A reload with a query that has mismatched placeholder/parameter arity
// fails validation and no registry swap occurs.
func TestReloadValidationFailureLeavesLiveStateUnchanged(t *testing.T) {
	loader := &fakeLoader{cfg: cleanConfig()}
	o, _, _ := newTestOrchestrator(loader)
	_, err := o.Reload(context.Background(), TriggerManual, false)
	require.NoError(t, err)
	before := o.Registry()

	bad := cleanConfig()
	bad.Queries["q1"].SQL = "SELECT 1 WHERE id = ? AND extra = ?" // arity mismatch now
	loader.cfg = bad

	o.opts.MaxAttempts = 1 // validation failures aren't transient, but keep this fast regardless
	_, err = o.Reload(context.Background(), TriggerManual, false)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, o.Status())

	// No registry swap occurred: the live registry is still the one from
	// the first, successful reload.
	assert.Same(t, before, o.Registry())
}

func TestReloadDryRunDoesNotSwapRegistry(t *testing.T) {
	o, _, _ := newTestOrchestrator(&fakeLoader{cfg: cleanConfig()})
	before := o.Registry()

	result, err := o.Reload(context.Background(), TriggerManual, true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Same(t, before, o.Registry())
}

func TestReloadConfiguresCachesForCacheEnabledEndpoints(t *testing.T) {
	cfg := cleanConfig()
	cfg.Endpoints["e1"].Cache = &model.CacheSpec{Enabled: true, CacheName: "e1-cache", TTLSeconds: 30}
	o, caches, _ := newTestOrchestrator(&fakeLoader{cfg: cfg})

	_, err := o.Reload(context.Background(), TriggerManual, false)
	require.NoError(t, err)
	assert.Contains(t, caches.configured, "e1-cache")
}

// While requests execute against the old registry, a
// reload swaps to a new registry that removes one endpoint and adds
// another; in-flight requests complete successfully, and the next
// request to the removed endpoint 404s while the new endpoint 200s.
func TestHotReloadSwapIsAtomicAndInFlightRequestsSurvive(t *testing.T) {
	first := cleanConfig()
	o, _, _ := newTestOrchestrator(&fakeLoader{cfg: first})
	_, err := o.Reload(context.Background(), TriggerManual, false)
	require.NoError(t, err)

	oldRegistry := o.Registry()
	router := mux.NewRouter()
	oldRegistry.Mount(router, func(ep *model.EndpointDefinition) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	})

	// Simulate an in-flight request bound to the old registry/router.
	req := httptest.NewRequest(http.MethodGet, "/api/x/1", nil)
	rec := httptest.NewRecorder()

	second := model.NewConfigSet()
	second.Databases["db1"] = first.Databases["db1"]
	second.Queries["q2"] = &model.QueryDefinition{Name: "q2", DatabaseName: "db1", SQL: "SELECT 2"}
	second.Endpoints["e2"] = &model.EndpointDefinition{Name: "e2", Path: "/api/y", Method: "GET", QueryName: "q2"}

	loader2 := &fakeLoader{cfg: second}
	o.loader = loader2
	_, err = o.Reload(context.Background(), TriggerManual, false)
	require.NoError(t, err)

	// The in-flight request, dispatched against oldRegistry's router
	// before the swap, still completes successfully.
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A fresh lookup against the now-live registry no longer has e1...
	_, ok := o.Registry().Lookup("e1")
	assert.False(t, ok)
	// ...and does have the newly added e2.
	_, ok = o.Registry().Lookup("e2")
	assert.True(t, ok)
}

// A reload whose pool update fails (replacement pool cannot open) must
// leave both the live registry and the previous pool serving.
func TestReloadPoolUpdateFailureKeepsLiveState(t *testing.T) {
	loader := &fakeLoader{cfg: cleanConfig()}
	o, _, _ := newTestOrchestrator(loader)
	_, err := o.Reload(context.Background(), TriggerManual, false)
	require.NoError(t, err)
	before := o.Registry()
	poolBefore, err := o.pools.DataSource(context.Background(), "db1")
	require.NoError(t, err)

	bad := cleanConfig()
	bad.Databases["db1"].Driver = "bogus" // updated database whose pool cannot open
	loader.cfg = bad

	o.opts.MaxAttempts = 1
	_, err = o.Reload(context.Background(), TriggerManual, false)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, o.Status())

	assert.Same(t, before, o.Registry())
	poolAfter, err := o.pools.DataSource(context.Background(), "db1")
	require.NoError(t, err)
	assert.Same(t, poolBefore, poolAfter)
	assert.NoError(t, poolAfter.Ping(context.Background()))
}

func TestReloadSingleFlightQueuesFollowUp(t *testing.T) {
	o, _, _ := newTestOrchestrator(&fakeLoader{cfg: cleanConfig()})

	var inProgress int32
	o.mu.Lock()
	atomic.StoreInt32(&inProgress, 1)
	result, err := o.Reload(context.Background(), TriggerFile, false)
	o.mu.Unlock()

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "queued")
}
