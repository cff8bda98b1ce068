package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	analysesTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	fitIterations   *prometheus.GaugeVec
	degeneracyTotal *prometheus.CounterVec
	latency         *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		analysesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geovar_analyses_total",
				Help: "Total number of completed analysis runs",
			},
			[]string{"symbol"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geovar_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		fitIterations: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "geovar_fit_iterations",
				Help: "EM iterations used by the last fit for a symbol",
			},
			[]string{"symbol"},
		),
		degeneracyTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geovar_filter_degeneracy_total",
				Help: "Filtering steps that required renormalization recovery",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "geovar_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordAnalysis records a completed analysis run.
func (r *Recorder) RecordAnalysis(symbol string) {
	r.analysesTotal.WithLabelValues(symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordFitIterations records how many EM iterations the last fit took.
func (r *Recorder) RecordFitIterations(symbol string, iterations int) {
	r.fitIterations.WithLabelValues(symbol).Set(float64(iterations))
}

// RecordDegeneracy records a degenerate filtering step.
func (r *Recorder) RecordDegeneracy(symbol string) {
	r.degeneracyTotal.WithLabelValues(symbol).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
