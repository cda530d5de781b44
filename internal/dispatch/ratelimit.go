package dispatch

import (
	"sync"
	"time"

	"github.com/cordal/gateway/internal/model"
)

// rateLimiter enforces per-endpoint request caps with a fixed window:
// the first request of a window stamps its start, and requests past the
// cap are rejected until the window rolls over. State is keyed by
// endpoint name, so a reload that re-creates an endpoint under the same
// name continues its window rather than resetting it.
type rateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	start time.Time
	count int
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{windows: make(map[string]*rateWindow)}
}

// allow records one request against the endpoint's current window and
// reports whether it is within spec.Requests.
func (rl *rateLimiter) allow(endpoint string, spec *model.RateLimitSpec, now time.Time) bool {
	window := time.Duration(spec.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[endpoint]
	if !ok || now.Sub(w.start) >= window {
		rl.windows[endpoint] = &rateWindow{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= spec.Requests
}
