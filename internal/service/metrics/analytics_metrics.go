package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// AnalyticsLatency tracks end-to-end handler time per API endpoint.
	AnalyticsLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "geovar",
			Subsystem: "analytics",
			Name:      "latency_seconds",
			Help:      "Handler latency by endpoint",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// AnalyticsErrors counts failed requests per API endpoint.
	AnalyticsErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geovar",
			Subsystem: "analytics",
			Name:      "errors_total",
			Help:      "Failed requests by endpoint",
		},
		[]string{"endpoint"},
	)

	// CacheLookups counts response-cache hits and misses on the read
	// endpoints.
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geovar",
			Subsystem: "analytics",
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by outcome",
		},
		[]string{"outcome"},
	)
)

// Register installs the handler metrics into the default registry.
// Safe to call from every handler constructor.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(AnalyticsLatency, AnalyticsErrors, CacheLookups)
	})
}
