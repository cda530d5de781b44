// Package eventbus implements the Event Bus & Invalidation Engine (C6):
// an in-process pub/sub keyed by event type, plus the rule-matching
// invalidation engine that subscribes to it. Async delivery runs on a
// bounded worker pool behind a bounded backlog; overflow drops the
// event with a log line rather than blocking the publisher.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// Event is one published occurrence: a type plus an arbitrary data map
// rules and listeners can inspect.
type Event struct {
	Type string
	Data map[string]interface{}
}

// Listener receives events published for the types it was subscribed to.
type Listener func(ctx context.Context, e Event)

// Bus is a synchronous-or-asynchronous, in-process publish/subscribe
// dispatcher. The listener set is copied on every publish (copy-on-write)
// so Subscribe never blocks an in-flight Publish.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
	asyncPool *pool.Pool
	queue     chan func()
	logger    *slog.Logger
}

// New creates a Bus whose async dispatch is bounded to maxConcurrent
// in-flight deliveries; further PublishAsync calls beyond the pool's
// capacity queue behind a bounded backlog and are dropped-with-log once
// that backlog is full.
func New(maxConcurrent int, queueDepth int, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	b := &Bus{
		listeners: make(map[string][]Listener),
		logger:    logger,
	}
	b.asyncPool = pool.New().WithMaxGoroutines(maxConcurrent)
	if queueDepth <= 0 {
		queueDepth = 64
	}
	b.queue = make(chan func(), queueDepth)
	go b.drainQueue()
	return b
}

// The conc pool itself bounds concurrency, not backlog depth; the
// buffered channel in front of it is what gives PublishAsync its
// drop-with-log overflow behavior.

// Subscribe registers listener for eventType. Returns an unsubscribe func.
func (b *Bus) Subscribe(eventType string, l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[eventType] = append(b.listeners[eventType], l)
	idx := len(b.listeners[eventType]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		ls := b.listeners[eventType]
		if idx < len(ls) {
			ls[idx] = nil
		}
	}
}

func (b *Bus) snapshot(eventType string) []Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.listeners[eventType]
	out := make([]Listener, 0, len(src))
	for _, l := range src {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

// PublishSync dispatches e to every subscriber on the caller's goroutine,
// both listeners registered for e.Type and wildcard subscribers (see
// wildcardEventType in rules.go, used by the invalidation engine). A
// listener panic/error is logged and does not prevent the remaining
// listeners from firing.
func (b *Bus) PublishSync(ctx context.Context, e Event) {
	for _, l := range b.snapshot(e.Type) {
		b.invokeSafely(ctx, l, e)
	}
	if e.Type != wildcardEventType {
		for _, l := range b.snapshot(wildcardEventType) {
			b.invokeSafely(ctx, l, e)
		}
	}
}

// PublishAsync dispatches e on the shared bounded worker pool. If the
// backlog is full the event is dropped and logged rather than blocking
// the publisher.
func (b *Bus) PublishAsync(ctx context.Context, e Event) {
	select {
	case b.queue <- func() { b.PublishSync(ctx, e) }:
	default:
		b.logger.Warn("event bus backlog full, dropping event", "event_type", e.Type)
	}
}

func (b *Bus) drainQueue() {
	for fn := range b.queue {
		f := fn
		b.asyncPool.Go(func() { f() })
	}
}

func (b *Bus) invokeSafely(ctx context.Context, l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event bus listener panicked", "event_type", e.Type, "recover", r)
		}
	}()
	l(ctx, e)
}

// Shutdown waits for in-flight async deliveries to drain and stops
// accepting new ones.
func (b *Bus) Shutdown() {
	close(b.queue)
	b.asyncPool.Wait()
}

// ScheduleDelayed runs fn after delay, returning a cancel func so
// pending invalidations can be stopped at shutdown.
func ScheduleDelayed(delay time.Duration, fn func()) (cancel func()) {
	timer := time.AfterFunc(delay, fn)
	return func() { timer.Stop() }
}
