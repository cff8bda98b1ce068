package service

import (
	"context"

	"geovar/internal/domain/models"
)

// RegimeClassifier fits hidden volatility regimes to a return series.
type RegimeClassifier interface {
	Fit(ctx context.Context, returns []float64) (*models.RegimeModel, error)
}

// RiskEstimator turns one step of regime probabilities into VaR and ES.
type RiskEstimator interface {
	Estimate(prob []float64, params []models.RegimeParams, signal float64) (varVal, esVal float64, err error)
	StaticVaR(mean, sigma float64) float64
	Confidence() float64
}

// BacktestValidator assesses a completed VaR series against realized returns.
type BacktestValidator interface {
	Run(model string, returns, varSeries []float64) (*models.BacktestSuite, error)
	Compare(returns, adaptiveVaR, baselineVaR []float64) (*models.Comparison, error)
}
