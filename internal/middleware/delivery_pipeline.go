package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"geovar/internal/domain/models"
	domrepo "geovar/internal/domain/repository"
)

// Sink is the minimal delivery interface the pipeline needs.
type Sink interface {
	Deliver(ctx context.Context, result *models.AnalysisResult) error
}

// DeliveryPipeline sits between the analysis runner and the result sink.
// It validates, throttles repeated runs per symbol, and buffers results when
// the downstream store or broker is unavailable, flushing with backoff.
type DeliveryPipeline struct {
	sink     Sink
	metrics  domrepo.Metrics
	minGap   time.Duration
	flushCap time.Duration
	bufSize  int
	bufCh    chan *models.AnalysisResult
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[string]time.Time // per-symbol last accepted delivery
}

type PipelineOption func(*DeliveryPipeline)

// WithMinGap sets the minimum spacing between deliveries for one symbol.
func WithMinGap(d time.Duration) PipelineOption {
	return func(p *DeliveryPipeline) {
		if d > 0 {
			p.minGap = d
		}
	}
}

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *DeliveryPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithFlushBackoffCap caps the backoff between failed flush attempts.
func WithFlushBackoffCap(d time.Duration) PipelineOption {
	return func(p *DeliveryPipeline) {
		if d > 0 {
			p.flushCap = d
		}
	}
}

// NewDeliveryPipeline creates a new pipeline.
func NewDeliveryPipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *DeliveryPipeline {
	p := &DeliveryPipeline{
		sink:     sink,
		metrics:  metrics,
		flushCap: 2 * time.Second,
		bufSize:  256,
		bufCh:    make(chan *models.AnalysisResult, 256),
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufSize != cap(p.bufCh) {
		p.bufCh = make(chan *models.AnalysisResult, p.bufSize)
	}
	return p
}

// Start launches background flushing of buffered results.
func (p *DeliveryPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case r := <-p.bufCh:
				if r == nil {
					continue
				}
				if err := p.sink.Deliver(ctx, r); err != nil {
					// exponential backoff with cap
					if backoff < p.flushCap {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- r:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *DeliveryPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Deliver validates, throttles, and forwards a result downstream, buffering
// on errors.
func (p *DeliveryPipeline) Deliver(ctx context.Context, r *models.AnalysisResult) error {
	start := time.Now()
	if err := validateResult(r); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.allow(r.Symbol, start) {
		// throttled; record and drop silently
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.sink.Deliver(ctx, r); err != nil {
		p.metrics.RecordError("pipeline_deliver")
		// buffer non-blocking
		select {
		case p.bufCh <- r:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_deliver", time.Since(start).Seconds())
	return nil
}

func validateResult(r *models.AnalysisResult) error {
	if r == nil {
		return fmt.Errorf("result nil")
	}
	if r.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if r.VaR == nil || len(r.VaR.Estimates) == 0 {
		return fmt.Errorf("empty var series")
	}
	return nil
}

func (p *DeliveryPipeline) allow(symbol string, now time.Time) bool {
	if p.minGap <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[symbol]
	if last.IsZero() {
		p.lastSeen[symbol] = now
		return true
	}
	if now.Sub(last) < p.minGap {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
