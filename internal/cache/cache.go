// Package cache implements the Cache Layer (C5): named, bounded,
// TTL+LRU in-memory caches with statistics and glob pattern removal.
// All caches are process-local; there is no shared second tier.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Stats is the snapshot returned by Cache.Stats.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	HitRate   float64
}

type entry struct {
	value   interface{}
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// namedCache is one bounded, TTL-aware cache instance.
type namedCache struct {
	mu         sync.Mutex
	lru        *lru.Cache[string, entry]
	defaultTTL time.Duration
	hits       int64
	misses     int64
	evictions  int64
}

func newNamedCache(maxEntries int, defaultTTL time.Duration) *namedCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	nc := &namedCache{defaultTTL: defaultTTL}
	// Evictions are counted in Put from Add's evicted result, so explicit
	// removes, expiry and Purge leave the counter alone and it tracks
	// capacity pressure only.
	l, _ := lru.New[string, entry](maxEntries)
	nc.lru = l
	return nc
}

// Layer holds every named cache the gateway's endpoints reference, plus a
// background sweeper that proactively removes expired entries.
type Layer struct {
	mu      sync.RWMutex
	caches  map[string]*namedCache
	sweep   time.Duration
	stop    chan struct{}
	stopped bool
}

// NewLayer creates a Cache Layer with the given sweep period (0 disables
// the background sweeper; expiry is still enforced lazily on read).
func NewLayer(sweepPeriod time.Duration) *Layer {
	l := &Layer{
		caches: make(map[string]*namedCache),
		sweep:  sweepPeriod,
		stop:   make(chan struct{}),
	}
	if sweepPeriod > 0 {
		go l.sweepLoop()
	}
	return l
}

// Configure registers (or re-registers) a named cache with the given
// capacity and default TTL. Calling it again on a name that already
// exists replaces the whole named cache: its entries and its hit, miss
// and eviction counters are dropped.
func (l *Layer) Configure(name string, maxEntries int, defaultTTL time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.caches[name] = newNamedCache(maxEntries, defaultTTL)
}

func (l *Layer) get(name string) *namedCache {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.caches[name]
}

// Get looks up key in the named cache, updating LRU recency and
// hit/miss statistics. Returns (value, true) on a live hit.
func (l *Layer) Get(name, key string) (interface{}, bool) {
	nc := l.get(name)
	if nc == nil || key == "" {
		return nil, false
	}
	nc.mu.Lock()
	defer nc.mu.Unlock()

	e, ok := nc.lru.Get(key)
	if !ok {
		nc.misses++
		return nil, false
	}
	if e.expired(time.Now()) {
		nc.lru.Remove(key)
		nc.misses++
		return nil, false
	}
	nc.hits++
	return e.value, true
}

// Put stores value under key with the given ttl (or the cache's default
// when ttl <= 0). An empty key or nil value is silently ignored.
func (l *Layer) Put(name, key string, value interface{}, ttl time.Duration) {
	nc := l.get(name)
	if nc == nil || key == "" || value == nil {
		return
	}
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if ttl <= 0 {
		ttl = nc.defaultTTL
	}
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	if nc.lru.Add(key, entry{value: value, expires: expires}) {
		nc.evictions++
	}
}

// Remove deletes a single key from the named cache.
func (l *Layer) Remove(name, key string) {
	nc := l.get(name)
	if nc == nil {
		return
	}
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.lru.Remove(key)
}

// RemovePattern deletes every key in the named cache matching the glob
// pattern (only "*" is a wildcard metacharacter, matching any run of
// characters). Atomic with respect to other operations
// on the same cache since it holds the cache's lock for its duration.
func (l *Layer) RemovePattern(name, pattern string) int {
	nc := l.get(name)
	if nc == nil {
		return 0
	}
	nc.mu.Lock()
	defer nc.mu.Unlock()
	removed := 0
	for _, key := range nc.lru.Keys() {
		if MatchGlob(pattern, key) {
			nc.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// RemovePatternAll applies RemovePattern across every registered cache
// (a "broadcast" invalidation).
func (l *Layer) RemovePatternAll(pattern string) int {
	l.mu.RLock()
	names := make([]string, 0, len(l.caches))
	for name := range l.caches {
		names = append(names, name)
	}
	l.mu.RUnlock()

	total := 0
	for _, name := range names {
		total += l.RemovePattern(name, pattern)
	}
	return total
}

// Clear empties a single named cache.
func (l *Layer) Clear(name string) {
	nc := l.get(name)
	if nc == nil {
		return
	}
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.lru.Purge()
}

// ClearAll empties every registered cache.
func (l *Layer) ClearAll() {
	l.mu.RLock()
	names := make([]string, 0, len(l.caches))
	for name := range l.caches {
		names = append(names, name)
	}
	l.mu.RUnlock()
	for _, name := range names {
		l.Clear(name)
	}
}

// Stats reports hit/miss/eviction counters and current size for a named
// cache.
func (l *Layer) Stats(name string) Stats {
	nc := l.get(name)
	if nc == nil {
		return Stats{}
	}
	nc.mu.Lock()
	defer nc.mu.Unlock()
	total := nc.hits + nc.misses
	var rate float64
	if total > 0 {
		rate = float64(nc.hits) / float64(total)
	}
	return Stats{
		Hits:      nc.hits,
		Misses:    nc.misses,
		Evictions: nc.evictions,
		Size:      nc.lru.Len(),
		HitRate:   rate,
	}
}

// Names lists every registered cache.
func (l *Layer) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.caches))
	for name := range l.caches {
		names = append(names, name)
	}
	return names
}

func (l *Layer) sweepLoop() {
	ticker := time.NewTicker(l.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweepOnce()
		case <-l.stop:
			return
		}
	}
}

func (l *Layer) sweepOnce() {
	now := time.Now()
	l.mu.RLock()
	caches := make([]*namedCache, 0, len(l.caches))
	for _, nc := range l.caches {
		caches = append(caches, nc)
	}
	l.mu.RUnlock()

	for _, nc := range caches {
		nc.mu.Lock()
		for _, key := range nc.lru.Keys() {
			if e, ok := nc.lru.Peek(key); ok && e.expired(now) {
				nc.lru.Remove(key)
			}
		}
		nc.mu.Unlock()
	}
}

// Shutdown stops the background sweeper. Safe to call once.
func (l *Layer) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.stop)
}
