package usecase

import (
	"context"
	"encoding/json"
	"time"

	"geovar/internal/domain/models"
	domrepo "geovar/internal/domain/repository"
	"geovar/internal/services/features"
	pkgkafka "geovar/pkg/kafka"
	xutil "geovar/pkg/util"
)

// KafkaJobsHandler consumes analysis job messages and runs the full pipeline
// for each. Jobs for different instruments land on independent consumer
// workers, so fan-out comes from the consumer pool; every job still owns its
// own series and results.
type KafkaJobsHandler struct {
	topic   string
	runner  *AnalysisRunner
	sink    Deliverer
	source  domrepo.SignalSource
	metrics domrepo.Metrics
}

func NewKafkaJobsHandler(topic string, runner *AnalysisRunner, sink Deliverer, metrics domrepo.Metrics) *KafkaJobsHandler {
	return &KafkaJobsHandler{topic: topic, runner: runner, sink: sink, metrics: metrics}
}

// SetSignalSource enables jobs that ask for an externally fetched index.
func (h *KafkaJobsHandler) SetSignalSource(s domrepo.SignalSource) { h.source = s }

func (h *KafkaJobsHandler) Topic() string { return h.topic }

// incoming message schema mirrors the HTTP AnalyzeRequest
func (h *KafkaJobsHandler) Handle(ctx context.Context, b []byte) error {
	var req models.AnalyzeRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.metrics.RecordError("job_unmarshal")
		return err
	}

	series, err := BuildSeries(&req)
	if err != nil {
		h.metrics.RecordError("job_series")
		return err
	}
	if req.FetchSignal {
		if err := FetchAndApplySignal(ctx, h.source, series); err != nil {
			h.metrics.RecordError("job_signal_fetch")
			return err
		}
	}

	runner, err := h.runner.ForRequest(&req)
	if err != nil {
		h.metrics.RecordError("job_engine")
		return err
	}

	start := time.Now()
	result, err := runner.Analyze(ctx, series)
	if err != nil {
		h.metrics.RecordError("job_analyze")
		return err
	}
	h.metrics.RecordLatency("job_analyze_seconds", time.Since(start).Seconds())

	if h.sink != nil {
		return h.sink.Deliver(ctx, result)
	}
	return nil
}

// BuildSeries converts a transport request into a validated ObservationSeries,
// synthesizing a GPR signal from the returns when asked to.
func BuildSeries(req *models.AnalyzeRequest) (*models.ObservationSeries, error) {
	if req.SynthesizeSignal && req.FetchSignal {
		return nil, models.NewValidationError("fetch_signal", "cannot combine with synthesize_signal")
	}
	obs := make([]models.Observation, len(req.Observations))
	returns := make([]float64, len(req.Observations))
	for i, o := range req.Observations {
		ts, ok := xutil.ParseTime(o.Timestamp)
		if !ok {
			return nil, models.NewValidationError("timestamp", "index %d: unrecognized timestamp %q", i, o.Timestamp)
		}
		obs[i] = models.Observation{Timestamp: ts, Return: o.Return, Signal: o.Signal, Secondary: o.Secondary}
		returns[i] = o.Return
	}
	if req.SynthesizeSignal {
		gpr := features.SyntheticGPR(returns, 252)
		for i := range obs {
			obs[i].Signal = gpr[i]
		}
	}
	return models.NewObservationSeries(req.Symbol, obs, req.HasSecondary)
}

var _ pkgkafka.MessageHandler = (*KafkaJobsHandler)(nil)
