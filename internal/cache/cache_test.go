package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	l := NewLayer(0)
	l.Configure("c1", 10, time.Minute)

	l.Put("c1", "k1", "v1", 0)
	v, ok := l.Get("c1", "k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestGetMissOnUnknownCacheOrKey(t *testing.T) {
	l := NewLayer(0)
	l.Configure("c1", 10, time.Minute)

	_, ok := l.Get("c1", "missing")
	assert.False(t, ok)

	_, ok = l.Get("unknown-cache", "k1")
	assert.False(t, ok)
}

func TestPutIgnoresEmptyKeyOrNilValue(t *testing.T) {
	l := NewLayer(0)
	l.Configure("c1", 10, time.Minute)

	l.Put("c1", "", "v1", 0)
	l.Put("c1", "k1", nil, 0)

	assert.Equal(t, 0, l.Stats("c1").Size)
}

// maxEntries=3, insert k1,k2,k3, get(k1), insert k4 ->
// k2 is evicted (least recently used), k1/k3/k4 remain.
func TestLRUEvictsLeastRecentlyUsedWhenFull(t *testing.T) {
	l := NewLayer(0)
	l.Configure("c1", 3, time.Minute)

	l.Put("c1", "k1", "v1", 0)
	l.Put("c1", "k2", "v2", 0)
	l.Put("c1", "k3", "v3", 0)

	_, ok := l.Get("c1", "k1")
	require.True(t, ok)

	l.Put("c1", "k4", "v4", 0)

	_, ok = l.Get("c1", "k2")
	assert.False(t, ok, "k2 should have been evicted as least recently used")

	for _, k := range []string{"k1", "k3", "k4"} {
		_, ok := l.Get("c1", k)
		assert.True(t, ok, "%s should still be present", k)
	}

	assert.Equal(t, int64(1), l.Stats("c1").Evictions)
}

func TestTTLExpiryLazyOnRead(t *testing.T) {
	l := NewLayer(0)
	l.Configure("c1", 10, 0)

	l.Put("c1", "k1", "v1", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := l.Get("c1", "k1")
	assert.False(t, ok)
	assert.Equal(t, 0, l.Stats("c1").Size)
}

func TestTTLSweeperRemovesExpiredEntries(t *testing.T) {
	l := NewLayer(20 * time.Millisecond)
	defer l.Shutdown()
	l.Configure("c1", 10, 0)

	l.Put("c1", "k1", "v1", 10*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, 0, l.Stats("c1").Size)
}

// populate several keys, removePattern
// with a glob, confirm only matching keys are gone.
func TestRemovePatternOnlyMatchesGlob(t *testing.T) {
	l := NewLayer(0)
	l.Configure("c1", 10, time.Minute)

	l.Put("c1", "user:123:profile", "p", 0)
	l.Put("c1", "user:123:settings", "s", 0)
	l.Put("c1", "user:456:profile", "p2", 0)

	removed := l.RemovePattern("c1", "user:123:*")
	assert.Equal(t, 2, removed)

	_, ok := l.Get("c1", "user:123:profile")
	assert.False(t, ok)
	_, ok = l.Get("c1", "user:123:settings")
	assert.False(t, ok)
	_, ok = l.Get("c1", "user:456:profile")
	assert.True(t, ok)
}

func TestRemovePatternAllBroadcastsAcrossCaches(t *testing.T) {
	l := NewLayer(0)
	l.Configure("c1", 10, time.Minute)
	l.Configure("c2", 10, time.Minute)

	l.Put("c1", "user:1:a", "x", 0)
	l.Put("c2", "user:1:b", "y", 0)
	l.Put("c2", "user:2:b", "z", 0)

	removed := l.RemovePatternAll("user:1:*")
	assert.Equal(t, 2, removed)

	_, ok := l.Get("c1", "user:1:a")
	assert.False(t, ok)
	_, ok = l.Get("c2", "user:1:b")
	assert.False(t, ok)
	_, ok = l.Get("c2", "user:2:b")
	assert.True(t, ok)
}

func TestClearAndClearAll(t *testing.T) {
	l := NewLayer(0)
	l.Configure("c1", 10, time.Minute)
	l.Configure("c2", 10, time.Minute)
	l.Put("c1", "k", "v", 0)
	l.Put("c2", "k", "v", 0)

	l.Clear("c1")
	assert.Equal(t, 0, l.Stats("c1").Size)
	assert.Equal(t, 1, l.Stats("c2").Size)

	l.ClearAll()
	assert.Equal(t, 0, l.Stats("c2").Size)
}

func TestStatsHitRate(t *testing.T) {
	l := NewLayer(0)
	l.Configure("c1", 10, time.Minute)
	l.Put("c1", "k1", "v1", 0)

	l.Get("c1", "k1")
	l.Get("c1", "k1")
	l.Get("c1", "missing")

	stats := l.Stats("c1")
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}

func TestConfigureIsIdempotentPerReload(t *testing.T) {
	l := NewLayer(0)
	l.Configure("c1", 10, time.Minute)
	l.Put("c1", "k1", "v1", 0)

	l.Configure("c1", 10, time.Minute)
	_, ok := l.Get("c1", "k1")
	assert.False(t, ok, "re-Configure should reset the named cache's entries")
}

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"user:123:*", "user:123:profile", true},
		{"user:123:*", "user:456:profile", false},
		{"*", "anything", true},
		{"exact", "exact", true},
		{"exact", "exactly", false},
		{"a*b*c", "aXbYc", true},
		{"a*b*c", "aXbYd", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, MatchGlob(c.pattern, c.key), "pattern=%q key=%q", c.pattern, c.key)
	}
}

func TestSubstituteVars(t *testing.T) {
	out := SubstituteVars("user:{user_id}:*", map[string]string{"user_id": "123"})
	assert.Equal(t, "user:123:*", out)

	out = SubstituteVars("user:{missing}:*", map[string]string{})
	assert.Equal(t, "user:{missing}:*", out)
}
