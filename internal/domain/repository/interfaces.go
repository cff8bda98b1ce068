package repository

import (
	"context"

	"geovar/internal/domain/models"
)

// ResultStore persists completed analysis output for the reporting side.
type ResultStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	StoreVaRSeries(ctx context.Context, result *models.AnalysisResult) error
	StoreBacktest(ctx context.Context, symbol string, suite *models.BacktestSuite) error
	QueryVaRSeries(ctx context.Context, symbol string, limit int) ([]models.VaREstimate, error)
	QueryBacktests(ctx context.Context, symbol string) ([]models.BacktestSuite, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// Publisher pushes completed results to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, result *models.AnalysisResult) error
	Close() error
}

// SignalSource is the ingestion collaborator contract: a one-shot fetch of an
// exogenous geopolitical index aligned to the requested range, completed
// before the core starts. The core itself never opens a connection.
type SignalSource interface {
	Fetch(ctx context.Context, from, to string) ([]float64, error)
}

// Metrics abstracts the operational counters recorded during a run.
type Metrics interface {
	RecordAnalysis(symbol string)
	RecordError(kind string)
	RecordFitIterations(symbol string, iterations int)
	RecordDegeneracy(symbol string)
	RecordLatency(op string, seconds float64)
}
