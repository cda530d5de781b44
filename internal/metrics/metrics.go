// Package metrics holds the Prometheus collectors, all registered once
// at init via promauto. The reload orchestrator writes the reload, pool
// and cache collectors; the HTTP layer's request middleware writes the
// per-endpoint ones.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReloadTotal counts reload outcomes by status: success for an applied
	// reload; load_failed, validation_failed and rolled_back for each
	// attempt that fails in that phase; and failed once more for every
	// reload that ends in failure. Dry runs are not counted.
	ReloadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cordal_reload_total",
			Help: "Total configuration reload attempts by outcome",
		},
		[]string{"status"},
	)

	// ReloadDuration observes end-to-end reload duration.
	ReloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cordal_reload_duration_seconds",
			Help:    "Duration of configuration reload cycles",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	// CacheHitRatio reports each named cache's current hit rate.
	CacheHitRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cordal_cache_hit_ratio",
			Help: "Hit ratio of a named cache as of the last stats read",
		},
		[]string{"cache"},
	)

	// CacheSize reports each named cache's current entry count.
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cordal_cache_size",
			Help: "Current entry count of a named cache",
		},
		[]string{"cache"},
	)

	// PoolHealth is 1 when a database pool is reachable, 0 otherwise.
	PoolHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cordal_pool_health",
			Help: "1 if the named database pool is reachable, 0 otherwise",
		},
		[]string{"database"},
	)

	// EndpointLatency observes per-endpoint request duration.
	EndpointLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cordal_endpoint_duration_seconds",
			Help:    "Request duration by endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EndpointRequestsTotal counts requests by endpoint and response code.
	EndpointRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cordal_endpoint_requests_total",
			Help: "Total requests by endpoint and status code",
		},
		[]string{"method", "path", "code"},
	)
)
