package usecase

import (
	"context"
	"fmt"
	"time"

	"geovar/internal/domain/models"
	drepo "geovar/internal/domain/repository"
)

// Deliverer abstracts result delivery so middleware can sit in front of the
// sink.
type Deliverer interface {
	Deliver(ctx context.Context, result *models.AnalysisResult) error
}

// ResultSink routes completed analysis results to the configured backends:
// ClickHouse for the reporting tables, Kafka for downstream consumers, or
// both.
type ResultSink struct {
	pub     drepo.Publisher
	store   drepo.ResultStore
	metrics drepo.Metrics
	backend string
}

// NewResultSink creates a new ResultSink instance.
func NewResultSink(pub drepo.Publisher, store drepo.ResultStore, metrics drepo.Metrics, backend string) *ResultSink {
	return &ResultSink{pub: pub, store: store, metrics: metrics, backend: backend}
}

// Deliver persists and/or publishes one result.
func (s *ResultSink) Deliver(ctx context.Context, result *models.AnalysisResult) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}

	start := time.Now()
	var err error
	switch s.backend {
	case "kafka":
		err = s.pub.Publish(ctx, result)
	case "clickhouse":
		err = s.storeAll(ctx, result)
	case "both":
		if err = s.storeAll(ctx, result); err == nil {
			err = s.pub.Publish(ctx, result)
		}
	default:
		err = fmt.Errorf("unknown backend: %s", s.backend)
	}

	if err != nil {
		s.metrics.RecordError("deliver")
		return fmt.Errorf("deliver result: %w", err)
	}
	s.metrics.RecordLatency("deliver", time.Since(start).Seconds())
	return nil
}

func (s *ResultSink) storeAll(ctx context.Context, result *models.AnalysisResult) error {
	if err := s.store.StoreVaRSeries(ctx, result); err != nil {
		return err
	}
	if result.Comparison == nil {
		return nil
	}
	if err := s.store.StoreBacktest(ctx, result.Symbol, &result.Comparison.Adaptive); err != nil {
		return err
	}
	return s.store.StoreBacktest(ctx, result.Symbol, &result.Comparison.Baseline)
}

// Close closes underlying resources if available.
func (s *ResultSink) Close() {
	if s.pub != nil {
		_ = s.pub.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}
