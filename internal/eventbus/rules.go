package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cordal/gateway/internal/cache"
	"github.com/cordal/gateway/internal/model"
)

// cacheRemover is the subset of cache.Layer the invalidation engine
// needs, kept as an interface so rules can be tested without a real
// Layer.
type cacheRemover interface {
	RemovePattern(name, pattern string) int
	RemovePatternAll(pattern string) int
}

// Invalidator subscribes itself to a Bus and, on every published event,
// evaluates each registered InvalidationRule whose EventType matches and
// removes the matching cache entries — immediately, delayed, or async,
// per the rule's own Delay/Async fields.
type Invalidator struct {
	mu        sync.RWMutex
	rules     map[string][]*model.InvalidationRule
	caches    cacheRemover
	bus       *Bus
	logger    *slog.Logger
	unsub     func()
	pending   map[uint64]func()
	nextID    uint64
	pendingMu sync.Mutex
}

// NewInvalidator creates an Invalidator bound to caches and bus. It
// receives no events until Subscribe is called.
func NewInvalidator(bus *Bus, caches cacheRemover, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{
		rules:   make(map[string][]*model.InvalidationRule),
		caches:  caches,
		bus:     bus,
		logger:  logger,
		pending: make(map[uint64]func()),
	}
}

// SetRules replaces the full rule set, indexed by EventType. Safe to call
// at any time, including mid-reload: a rule set swap never drops an
// event already in flight since rulesFor hands each event its own copy
// of the matching rules.
func (iv *Invalidator) SetRules(rules []model.InvalidationRule) {
	byType := make(map[string][]*model.InvalidationRule)
	for i := range rules {
		r := &rules[i]
		byType[r.EventType] = append(byType[r.EventType], r)
	}
	iv.mu.Lock()
	iv.rules = byType
	iv.mu.Unlock()
}

func (iv *Invalidator) rulesFor(eventType string) []*model.InvalidationRule {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return append([]*model.InvalidationRule(nil), iv.rules[eventType]...)
}

// Subscribe wires the invalidator into the bus through one wildcard
// subscription, so it sees every published event whatever event types
// the rule set holds, and SetRules needs no re-subscribe. Calling it
// again replaces the previous subscription.
func (iv *Invalidator) Subscribe() {
	if iv.unsub != nil {
		iv.unsub()
	}
	iv.unsub = iv.bus.subscribeAll(iv.handle)
}

func (iv *Invalidator) handle(ctx context.Context, e Event) {
	for _, rule := range iv.rulesFor(e.Type) {
		rule := rule
		if !EvaluateCondition(rule.Condition, e.Data) {
			continue
		}
		iv.schedule(ctx, rule, e)
	}
}

// schedule runs the rule's removal immediately, after rule.Delay, or on
// the bus's bounded async pool, per the rule's own fields. Delay takes
// precedence over Async: a delayed rule fires on its own timer
// goroutine regardless of the Async flag.
func (iv *Invalidator) schedule(ctx context.Context, rule *model.InvalidationRule, e Event) {
	switch {
	case rule.Delay > 0:
		iv.pendingMu.Lock()
		iv.nextID++
		id := iv.nextID
		iv.pending[id] = ScheduleDelayed(rule.Delay, func() {
			iv.apply(rule, e)
			iv.pendingMu.Lock()
			delete(iv.pending, id)
			iv.pendingMu.Unlock()
		})
		iv.pendingMu.Unlock()
	case rule.Async:
		iv.bus.runAsync(func() { iv.apply(rule, e) })
	default:
		iv.apply(rule, e)
	}
}

func (iv *Invalidator) apply(rule *model.InvalidationRule, e Event) {
	values := stringData(e.Data)
	for _, pattern := range rule.Patterns {
		resolved := cache.SubstituteVars(pattern, values)
		if len(rule.Caches) == 0 {
			n := iv.caches.RemovePatternAll(resolved)
			iv.logger.Debug("invalidation applied", "event_type", rule.EventType, "pattern", resolved, "removed", n, "scope", "all")
			continue
		}
		for _, cacheName := range rule.Caches {
			n := iv.caches.RemovePattern(cacheName, resolved)
			iv.logger.Debug("invalidation applied", "event_type", rule.EventType, "pattern", resolved, "removed", n, "cache", cacheName)
		}
	}
}

// CancelPending stops every delayed invalidation not yet fired, used on
// shutdown so no timer outlives the process.
func (iv *Invalidator) CancelPending() {
	iv.pendingMu.Lock()
	defer iv.pendingMu.Unlock()
	for rule, cancel := range iv.pending {
		cancel()
		delete(iv.pending, rule)
	}
}

// stringData renders an event's data map to strings for pattern
// substitution, reusing condition.go's numeric-aware toStr so a field
// like retryCount=3 substitutes as "3", not "3.0" or Go's %v default.
func stringData(data map[string]interface{}) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = toStr(v)
	}
	return out
}

// subscribeAll subscribes l to the well-known wildcard event type that
// PublishSync (and, transitively, PublishAsync) always notifies in
// addition to an event's own type, so the invalidation engine sees
// every event without needing to know its rule set's event types in
// advance.
func (b *Bus) subscribeAll(l Listener) func() {
	return b.Subscribe(wildcardEventType, l)
}

const wildcardEventType = "*"

// runAsync submits fn to the bus's bounded worker pool via the same
// backlog queue PublishAsync uses, dropping and logging fn if the
// backlog is full.
func (b *Bus) runAsync(fn func()) {
	select {
	case b.queue <- fn:
	default:
		b.logger.Warn("event bus backlog full, dropping async invalidation")
	}
}
