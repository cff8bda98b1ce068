package usecase

import (
	"context"
	"sync"

	"geovar/internal/domain/models"
	applogger "geovar/pkg/logger"
)

// SeriesOutcome pairs one instrument's result with its error; exactly one of
// the two is set.
type SeriesOutcome struct {
	Symbol string
	Result *models.AnalysisResult
	Err    error
}

// AnalyzeMany fans independent series out across isolated workers. Each run
// owns its own parameters, filter state and results, so there is no shared
// mutable state between workers; the outcome order matches the input order.
func (r *AnalysisRunner) AnalyzeMany(ctx context.Context, series []*models.ObservationSeries, workers int) []SeriesOutcome {
	if workers <= 0 {
		workers = r.workers
	}
	if workers > len(series) {
		workers = len(series)
	}

	outcomes := make([]SeriesOutcome, len(series))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				s := series[idx]
				res, err := r.Analyze(ctx, s)
				outcomes[idx] = SeriesOutcome{Symbol: s.Symbol, Result: res, Err: err}
				if err != nil && r.l != nil {
					r.l.Error("series analysis failed",
						applogger.String("symbol", s.Symbol),
						applogger.Error(err),
					)
				}
			}
		}()
	}

	for i := range series {
		select {
		case jobs <- i:
		case <-ctx.Done():
			outcomes[i] = SeriesOutcome{Symbol: series[i].Symbol, Err: ctx.Err()}
		}
	}
	close(jobs)
	wg.Wait()
	return outcomes
}
