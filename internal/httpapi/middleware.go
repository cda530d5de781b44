package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cordal/gateway/internal/metrics"
)

// statusWriter captures the status code a handler wrote, since
// net/http's ResponseWriter does not expose it after the fact.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// instrument wraps a dynamic endpoint's handler to record its outcome
// into the Prometheus histogram/counter pair and the in-process
// EndpointStats aggregator, labeled by the endpoint's declared method
// and path template (not the realized path, so /stock-trades/{id}
// aggregates across every id).
func instrument(stats *metrics.EndpointStats, method, path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next(sw, r)

		duration := time.Since(start)
		isError := sw.status >= 400
		metrics.EndpointLatency.WithLabelValues(method, path).Observe(duration.Seconds())
		metrics.EndpointRequestsTotal.WithLabelValues(method, path, strconv.Itoa(sw.status)).Inc()
		if stats != nil {
			stats.Record(method, path, duration, isError)
		}
	}
}
