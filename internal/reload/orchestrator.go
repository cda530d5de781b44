// Package reload implements the Reload Orchestrator (C11): the state
// machine that drives configuration ingestion from IDLE through
// LOADING, VALIDATING, and APPLYING, ending at WATCHING on success or
// ROLLING_BACK/FAILED on failure, swapping the live EndpointRegistry and
// ConnectionPoolManager atomically. Each phase delegates to its owning
// component: loading to configsource, validation to configvalidate,
// snapshot/delta bookkeeping to configstate.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cordal/gateway/internal/cache"
	"github.com/cordal/gateway/internal/configsource"
	"github.com/cordal/gateway/internal/configstate"
	"github.com/cordal/gateway/internal/configvalidate"
	"github.com/cordal/gateway/internal/cordalerr"
	"github.com/cordal/gateway/internal/dbpool"
	"github.com/cordal/gateway/internal/metrics"
	"github.com/cordal/gateway/internal/model"
	"github.com/cordal/gateway/internal/registry"
)

// Status is one state of the reload state machine.
type Status string

const (
	StatusIdle        Status = "IDLE"
	StatusLoading     Status = "LOADING"
	StatusValidating  Status = "VALIDATING"
	StatusApplying    Status = "APPLYING"
	StatusWatching    Status = "WATCHING"
	StatusRollingBack Status = "ROLLING_BACK"
	StatusFailed      Status = "FAILED"
)

// Trigger names what initiated a reload cycle, carried onto the Result
// for observability.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerFile   Trigger = "file_watch"
	TriggerForced Trigger = "forced"
)

// Result is the outcome of one Reload call, returned verbatim by
// POST /api/generic/reload.
type Result struct {
	Success    bool                      `json:"success"`
	DryRun     bool                      `json:"dryRun,omitempty"`
	Version    string                    `json:"version,omitempty"`
	Delta      *model.ConfigurationDelta `json:"delta,omitempty"`
	Report     *configvalidate.Report    `json:"report,omitempty"`
	Message    string                    `json:"message"`
	RolledBack bool                      `json:"rolledBack,omitempty"`
	Duration   time.Duration             `json:"durationNs,omitempty"`
}

// CacheConfigurator is the subset of cache.Layer the orchestrator needs
// to (re)register named caches referenced by the live endpoint set.
type CacheConfigurator interface {
	Configure(name string, maxEntries int, defaultTTL time.Duration)
}

// RuleSetter is the subset of eventbus.Invalidator the orchestrator
// needs to install a freshly loaded invalidation rule set.
type RuleSetter interface {
	SetRules(rules []model.InvalidationRule)
	Subscribe()
}

// Options tunes orchestrator behavior; zero values fall back to
// sensible defaults.
type Options struct {
	MaxAttempts            int
	RetryBackoff           time.Duration
	CacheDefaultMaxEntries int
	CacheDefaultTTL        time.Duration
}

// Orchestrator owns the live Registry pointer (atomically swapped, read
// lock-free by the dispatcher) and drives the reload pipeline from
// load through validate, delta, and atomic apply.
type Orchestrator struct {
	loader      configsource.Loader
	validator   func(ctx context.Context, cfg *model.ConfigSet) *configvalidate.Report
	state       *configstate.Manager
	pools       *dbpool.Manager
	cacheLayer  CacheConfigurator
	invalidator RuleSetter
	opts        Options
	logger      *slog.Logger

	liveRegistry atomic.Pointer[registry.Registry]

	mu      sync.Mutex // single-flight reload lock
	status  atomic.Value
	pending bool
}

// New creates an Orchestrator. validate should wrap configvalidate.Validate
// bound to the pool manager's schema inspectors (or nil to skip the
// optional live-schema check).
func New(
	loader configsource.Loader,
	validate func(ctx context.Context, cfg *model.ConfigSet) *configvalidate.Report,
	state *configstate.Manager,
	pools *dbpool.Manager,
	cacheLayer CacheConfigurator,
	invalidator RuleSetter,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.CacheDefaultMaxEntries <= 0 {
		opts.CacheDefaultMaxEntries = 1000
	}
	if opts.CacheDefaultTTL <= 0 {
		opts.CacheDefaultTTL = 5 * time.Minute
	}
	o := &Orchestrator{
		loader:      loader,
		validator:   validate,
		state:       state,
		pools:       pools,
		cacheLayer:  cacheLayer,
		invalidator: invalidator,
		opts:        opts,
		logger:      logger,
	}
	o.status.Store(StatusIdle)
	o.liveRegistry.Store(registry.New(nil))
	return o
}

// Status reports the orchestrator's current state-machine status.
func (o *Orchestrator) Status() Status {
	return o.status.Load().(Status)
}

// Registry returns the currently live, atomically-swapped Registry.
// Safe to call concurrently with Reload; a request always observes a
// single consistent registry for its full lifetime.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.liveRegistry.Load()
}

// Reload runs one cycle of the load/validate/apply pipeline. If a reload
// is already in progress, it queues at most one follow-up (run after the
// in-flight cycle completes) and returns immediately with a
// not-an-error "queued" result.
func (o *Orchestrator) Reload(ctx context.Context, trigger Trigger, dryRun bool) (*Result, error) {
	if !o.mu.TryLock() {
		o.pending = true
		o.logger.Info("reload already in progress, queuing follow-up", "trigger", trigger)
		return &Result{Success: true, Message: "reload already in progress; queued a follow-up"}, nil
	}
	defer o.mu.Unlock()

	result, err := o.runWithRetries(ctx, trigger, dryRun)

	if o.pending {
		o.pending = false
		o.logger.Info("running queued follow-up reload")
		go func() {
			if _, err := o.runWithRetries(context.Background(), TriggerForced, false); err != nil {
				o.logger.Error("queued follow-up reload failed", "error", err)
			}
		}()
	}

	return result, err
}

func (o *Orchestrator) runWithRetries(ctx context.Context, trigger Trigger, dryRun bool) (*Result, error) {
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		result, err := o.runOnce(ctx, trigger, dryRun)
		if err == nil {
			metrics.ReloadDuration.Observe(time.Since(start).Seconds())
			return result, nil
		}
		lastErr = err
		if !isTransient(err) {
			metrics.ReloadTotal.WithLabelValues("failed").Inc()
			o.status.Store(StatusFailed)
			return nil, err
		}
		o.logger.Warn("transient reload failure, retrying", "attempt", attempt, "max_attempts", o.opts.MaxAttempts, "error", err)
		if attempt < o.opts.MaxAttempts {
			time.Sleep(o.opts.RetryBackoff * time.Duration(attempt))
		}
	}

	metrics.ReloadTotal.WithLabelValues("failed").Inc()
	o.status.Store(StatusFailed)
	return nil, fmt.Errorf("reload: exhausted %d attempts: %w", o.opts.MaxAttempts, lastErr)
}

func isTransient(err error) bool {
	return cordalerr.CodeOf(err) == cordalerr.CodeDatabaseUnavailable
}

func (o *Orchestrator) runOnce(ctx context.Context, trigger Trigger, dryRun bool) (*Result, error) {
	start := time.Now()

	// Phase: LOADING
	o.status.Store(StatusLoading)
	cfg, err := o.loader.Load(ctx)
	if err != nil {
		metrics.ReloadTotal.WithLabelValues("load_failed").Inc()
		o.status.Store(StatusWatching)
		return nil, fmt.Errorf("reload: load phase failed: %w", err)
	}

	// Phase: VALIDATING
	o.status.Store(StatusValidating)
	var report *configvalidate.Report
	if o.validator != nil {
		report = o.validator(ctx, cfg)
		if !report.OK() {
			metrics.ReloadTotal.WithLabelValues("validation_failed").Inc()
			o.status.Store(StatusWatching)
			return &Result{Success: false, Report: report, Message: "validation failed, live configuration unchanged"},
				cordalerr.ConfigInvalid(fmt.Sprintf("%d validation error(s)", len(report.Errors)))
		}
	}

	live := o.state.Live()
	var liveCfg *model.ConfigSet
	if live != nil {
		liveCfg = live.Config
	}
	delta := configstate.Delta(liveCfg, cfg)

	var rules []model.InvalidationRule
	if rl, ok := o.loader.(configsource.RuleLoader); ok {
		rules, err = rl.LoadRules(ctx)
		if err != nil {
			o.status.Store(StatusWatching)
			return nil, fmt.Errorf("reload: loading invalidation rules: %w", err)
		}
	}

	if dryRun {
		o.status.Store(StatusWatching)
		return &Result{Success: true, DryRun: true, Delta: delta, Report: report, Duration: time.Since(start),
			Message: "dry run: delta computed, live configuration unchanged"}, nil
	}

	// Phase: APPLYING
	o.status.Store(StatusApplying)
	newRegistry, err := o.apply(ctx, cfg, delta, rules)
	if err != nil {
		o.status.Store(StatusRollingBack)
		o.logger.Error("apply phase failed, rolling back", "error", err)
		metrics.ReloadTotal.WithLabelValues("rolled_back").Inc()
		o.status.Store(StatusWatching)
		return &Result{Success: false, RolledBack: true, Message: "apply failed, rolled back to previous configuration"},
			fmt.Errorf("reload: apply phase failed: %w", err)
	}

	version := o.state.Snapshot(cfg)
	o.liveRegistry.Store(newRegistry)

	o.status.Store(StatusWatching)
	metrics.ReloadTotal.WithLabelValues("success").Inc()

	o.logger.Info("reload completed", "trigger", trigger, "version", version,
		"added_endpoints", len(delta.EndpointsAdded), "removed_endpoints", len(delta.EndpointsRemoved),
		"duration_ms", time.Since(start).Milliseconds())

	return &Result{Success: true, Version: version, Delta: delta, Report: report, Duration: time.Since(start),
		Message: "reload applied"}, nil
}

// apply builds the shadow registry, updates the pool manager's pools,
// reconfigures named caches, and installs the new invalidation rule set.
// Pool changes go first and are transactional: UpdatePools opens every
// replacement pool before swapping any in, so its failure leaves the
// previous pool set serving. apply never mutates o.liveRegistry or
// o.state, so a failure at any step leaves the full previous
// (snapshot, registry, poolSet) triple live — rollback is the absence
// of the swap.
func (o *Orchestrator) apply(ctx context.Context, cfg *model.ConfigSet, delta *model.ConfigurationDelta, rules []model.InvalidationRule) (*registry.Registry, error) {
	poolDelta := dbpool.PoolDelta{
		Added:   make(map[string]*model.DatabaseDefinition),
		Updated: make(map[string]*model.DatabaseDefinition),
		Removed: delta.DatabasesRemoved,
	}
	for _, name := range delta.DatabasesAdded {
		poolDelta.Added[name] = cfg.Databases[name]
	}
	for _, name := range delta.DatabasesUpdated {
		poolDelta.Updated[name] = cfg.Databases[name]
	}
	if err := o.pools.UpdatePools(ctx, poolDelta); err != nil {
		return nil, err
	}

	newRegistry := registry.New(orderedEndpoints(cfg.Endpoints))

	if o.cacheLayer != nil {
		for _, ep := range cfg.Endpoints {
			if ep.CacheEnabled() {
				ttl := o.opts.CacheDefaultTTL
				if ep.Cache.TTLSeconds > 0 {
					ttl = time.Duration(ep.Cache.TTLSeconds) * time.Second
				}
				o.cacheLayer.Configure(ep.Cache.CacheName, o.opts.CacheDefaultMaxEntries, ttl)
			}
		}
	}

	if o.invalidator != nil {
		o.invalidator.SetRules(rules)
		o.invalidator.Subscribe()
	}

	return newRegistry, nil
}

// orderedEndpoints produces a deterministic slice from cfg's name-keyed
// map, sorted by name — the registry's specificity sort is stable, so
// this fixes the tie-break order across reloads regardless of Go's
// randomized map iteration.
func orderedEndpoints(endpoints map[string]*model.EndpointDefinition) []*model.EndpointDefinition {
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*model.EndpointDefinition, 0, len(names))
	for _, name := range names {
		out = append(out, endpoints[name])
	}
	return out
}

// PoolHealthGauges refreshes the cordal_pool_health gauge for every
// currently-pooled database. Reload does not call it; the gauge changes
// only when this method is invoked.
func (o *Orchestrator) PoolHealthGauges(ctx context.Context) {
	for name, status := range o.pools.Health(ctx) {
		v := 0.0
		if status == "up" {
			v = 1.0
		}
		metrics.PoolHealth.WithLabelValues(name).Set(v)
	}
}

// cacheStatsRefresher is satisfied by cache.Layer; kept as an interface
// so tests can substitute a fake without importing the concrete type.
type cacheStatsRefresher interface {
	Names() []string
	Stats(name string) cache.Stats
}

// CacheMetricsGauges refreshes the cordal_cache_size/hit_ratio gauges
// for every currently-registered named cache.
func (o *Orchestrator) CacheMetricsGauges(layer cacheStatsRefresher) {
	for _, name := range layer.Names() {
		s := layer.Stats(name)
		metrics.CacheSize.WithLabelValues(name).Set(float64(s.Size))
		metrics.CacheHitRatio.WithLabelValues(name).Set(s.HitRate)
	}
}
