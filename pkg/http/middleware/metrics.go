package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	httpMetricsInit sync.Once

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geovar_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geovar_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route", "method", "status", "class"},
	)
	httpInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geovar_http_in_flight_requests",
			Help: "Current number of in-flight HTTP requests",
		},
		[]string{"route", "method"},
	)
	httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geovar_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: []float64{200, 500, 1_000, 2_000, 5_000, 10_000, 50_000, 100_000, 500_000, 1_000_000},
		},
		[]string{"route", "method", "status", "class"},
	)
)

// Metrics records per-request Prometheus metrics. Routes are labeled
// with the echo template path (e.g. /api/var) rather than the raw URL
// to keep label cardinality bounded. Requests slower than
// slowThreshold are logged as warnings; zero disables that.
func Metrics(slowThreshold time.Duration) echo.MiddlewareFunc {
	httpMetricsInit.Do(func() {
		prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInFlight, httpResponseSize)
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			method := c.Request().Method

			httpInFlight.WithLabelValues(route, method).Inc()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			elapsed := time.Since(start)
			code := c.Response().Status
			status := strconv.Itoa(code)
			class := statusClass(code)

			httpRequestsTotal.WithLabelValues(route, method, status).Inc()
			httpRequestDuration.WithLabelValues(route, method, status, class).Observe(elapsed.Seconds())
			httpResponseSize.WithLabelValues(route, method, status, class).Observe(float64(c.Response().Size))
			httpInFlight.WithLabelValues(route, method).Dec()

			if slowThreshold > 0 && elapsed >= slowThreshold {
				log.Warn().
					Str("route", route).
					Str("method", method).
					Int("status", code).
					Dur("latency", elapsed).
					Msg("http request slow")
			}
			return nil
		}
	}
}

func statusClass(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
