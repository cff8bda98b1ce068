package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"geovar/internal/domain/models"
)

type recordingSink struct {
	mu        sync.Mutex
	delivered []string
	fail      bool
}

func (s *recordingSink) Deliver(_ context.Context, r *models.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("downstream unavailable")
	}
	s.delivered = append(s.delivered, r.Symbol)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func (s *recordingSink) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

type nullMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func newNullMetrics() *nullMetrics { return &nullMetrics{errors: make(map[string]int)} }

func (m *nullMetrics) RecordAnalysis(string)           {}
func (m *nullMetrics) RecordFitIterations(string, int) {}
func (m *nullMetrics) RecordDegeneracy(string)         {}
func (m *nullMetrics) RecordLatency(string, float64)   {}

func (m *nullMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *nullMetrics) errCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func sampleResult(symbol string) *models.AnalysisResult {
	return &models.AnalysisResult{
		Symbol: symbol,
		VaR: &models.VaRSeries{
			Symbol:     symbol,
			Confidence: 0.95,
			Estimates:  []models.VaREstimate{{Value: 0.02, ES: 0.025}},
		},
	}
}

func TestDeliverForwards(t *testing.T) {
	sink := &recordingSink{}
	p := NewDeliveryPipeline(sink, newNullMetrics())

	if err := p.Deliver(context.Background(), sampleResult("EURUSD")); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("delivered %d, want 1", sink.count())
	}
}

func TestDeliverRejectsInvalid(t *testing.T) {
	sink := &recordingSink{}
	m := newNullMetrics()
	p := NewDeliveryPipeline(sink, m)

	cases := []*models.AnalysisResult{
		nil,
		{Symbol: "", VaR: &models.VaRSeries{Estimates: []models.VaREstimate{{}}}},
		{Symbol: "EURUSD"},
		{Symbol: "EURUSD", VaR: &models.VaRSeries{}},
	}
	for i, r := range cases {
		if err := p.Deliver(context.Background(), r); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if sink.count() != 0 {
		t.Fatalf("invalid results reached the sink")
	}
	if m.errCount("pipeline_validate") != len(cases) {
		t.Fatalf("validate errors %d, want %d", m.errCount("pipeline_validate"), len(cases))
	}
}

func TestDeliverThrottlesPerSymbol(t *testing.T) {
	sink := &recordingSink{}
	m := newNullMetrics()
	p := NewDeliveryPipeline(sink, m, WithMinGap(time.Hour))

	for i := 0; i < 3; i++ {
		if err := p.Deliver(context.Background(), sampleResult("EURUSD")); err != nil {
			t.Fatalf("deliver %d: %v", i, err)
		}
	}
	// a different symbol has its own gap
	if err := p.Deliver(context.Background(), sampleResult("GBPUSD")); err != nil {
		t.Fatalf("deliver other symbol: %v", err)
	}

	if sink.count() != 2 {
		t.Fatalf("delivered %d, want 2 (one per symbol)", sink.count())
	}
	if m.errCount("pipeline_throttle") != 2 {
		t.Fatalf("throttled %d, want 2", m.errCount("pipeline_throttle"))
	}
}

func TestDeliverBuffersOnFailure(t *testing.T) {
	sink := &recordingSink{fail: true}
	m := newNullMetrics()
	p := NewDeliveryPipeline(sink, m, WithBufferSize(4))

	if err := p.Deliver(context.Background(), sampleResult("EURUSD")); err == nil {
		t.Fatalf("expected downstream error")
	}
	if m.errCount("pipeline_deliver") != 1 {
		t.Fatalf("deliver error not recorded")
	}

	// downstream recovers; the flush goroutine drains the buffer
	sink.setFail(false)
	p.Start(context.Background())
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("buffered result never flushed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	p := NewDeliveryPipeline(&recordingSink{}, newNullMetrics())
	p.Start(context.Background())
	p.Start(context.Background())
	p.Stop()
	p.Stop()
}

func TestPipelineOptions(t *testing.T) {
	p := NewDeliveryPipeline(&recordingSink{}, newNullMetrics(),
		WithBufferSize(16),
		WithFlushBackoffCap(500*time.Millisecond),
	)
	if cap(p.bufCh) != 16 {
		t.Fatalf("buffer capacity %d, want 16", cap(p.bufCh))
	}
	if p.flushCap != 500*time.Millisecond {
		t.Fatalf("flush backoff cap %v, want 500ms", p.flushCap)
	}

	// Non-positive values keep the defaults.
	p = NewDeliveryPipeline(&recordingSink{}, newNullMetrics(),
		WithBufferSize(0),
		WithFlushBackoffCap(0),
	)
	if cap(p.bufCh) != 256 || p.flushCap != 2*time.Second {
		t.Fatalf("zero-valued options should keep defaults, got cap %d backoff %v", cap(p.bufCh), p.flushCap)
	}
}
