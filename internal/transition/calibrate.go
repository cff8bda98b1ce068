package transition

import (
	"context"
	"fmt"
	"math"

	"geovar/internal/domain/models"
)

// CalibrateConfig bounds the gradient ascent.
type CalibrateConfig struct {
	Tolerance     float64
	MaxIterations int
	LearningRate  float64
}

// DefaultCalibrateConfig matches the classifier's convergence policy.
func DefaultCalibrateConfig() CalibrateConfig {
	return CalibrateConfig{Tolerance: 1e-6, MaxIterations: 500, LearningRate: 0.05}
}

// CalibrateResult carries the fitted coefficients with the same
// non-convergence reporting as the classifier fit.
type CalibrateResult struct {
	Coefficients  Coefficients
	Iterations    int
	NonConverged  bool
	LogLikelihood float64
}

// Calibrate fits coefficients by maximizing the one-step-ahead transition
// log-likelihood of the regime path recovered from the classifier: for each
// consecutive (s_t → s_{t+1}) pair it scores the model-implied probability
// of that transition under signal_t, and ascends the summed log-likelihood
// by full-batch gradient steps.
//
// Pure function of its inputs; no state survives between invocations. The
// regime path and the signal series must be aligned and of equal length.
func Calibrate(ctx context.Context, start Coefficients, path []models.RegimeState, signals, secondary []float64, cfg CalibrateConfig) (*CalibrateResult, error) {
	if len(path) != len(signals) {
		return nil, models.NewValidationError("path", "regime path length %d does not match signal length %d", len(path), len(signals))
	}
	if len(path) < 2 {
		return nil, models.NewValidationError("path", "need at least 2 steps to observe a transition")
	}
	if secondary != nil && len(secondary) != len(signals) {
		return nil, models.NewValidationError("secondary", "secondary signal length mismatch")
	}
	for _, s := range path {
		if int(s) < 0 || int(s) >= start.K {
			return nil, models.NewValidationError("path", "regime label %d out of range for K=%d", int(s), start.K)
		}
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 1e-6
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 500
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.05
	}

	c := cloneCoefficients(start)
	prevLL := logLikelihood(c, path, signals, secondary)
	res := &CalibrateResult{NonConverged: true, LogLikelihood: prevLL}

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("calibration cancelled: %w", err)
		}

		grad := gradient(c, path, signals, secondary)
		for i := 0; i < c.K; i++ {
			for j := 0; j < c.K; j++ {
				c.Cells[i][j].Intercept += cfg.LearningRate * grad[i][j].Intercept
				c.Cells[i][j].Signal += cfg.LearningRate * grad[i][j].Signal
				c.Cells[i][j].Secondary += cfg.LearningRate * grad[i][j].Secondary
			}
		}

		ll := logLikelihood(c, path, signals, secondary)
		res.Iterations = iter + 1
		res.LogLikelihood = ll
		if ll-prevLL < cfg.Tolerance && ll >= prevLL {
			res.NonConverged = false
			break
		}
		prevLL = ll
	}

	res.Coefficients = c
	return res, nil
}

func logLikelihood(c Coefficients, path []models.RegimeState, signals, secondary []float64) float64 {
	var ll float64
	for t := 0; t+1 < len(path); t++ {
		m := Evaluate(c, signals[t], secondaryAt(c, secondary, t))
		p := m[path[t]][path[t+1]]
		if p <= 0 {
			p = 1e-300
		}
		ll += math.Log(p)
	}
	return ll
}

// gradient of the log-likelihood in the softmax parameterization: for an
// observed transition i→j at signal s, cell (i, j') receives
// (1{j'=j} − p_ij'(s)) scaled by 1, s, s2 for the three coefficients.
func gradient(c Coefficients, path []models.RegimeState, signals, secondary []float64) [][]Coef {
	grad := make([][]Coef, c.K)
	for i := range grad {
		grad[i] = make([]Coef, c.K)
	}
	n := float64(len(path) - 1)
	for t := 0; t+1 < len(path); t++ {
		i, j := int(path[t]), int(path[t+1])
		sig := signals[t]
		sec := secondaryAt(c, secondary, t)
		m := Evaluate(c, sig, sec)
		s := (sig - c.Baseline) / c.Scale
		s2 := (sec - c.Baseline) / c.Scale
		for jp := 0; jp < c.K; jp++ {
			ind := 0.0
			if jp == j {
				ind = 1.0
			}
			d := (ind - m[i][jp]) / n
			grad[i][jp].Intercept += d
			grad[i][jp].Signal += d * s
			grad[i][jp].Secondary += d * s2
		}
	}
	return grad
}

// secondaryAt falls back to the baseline when no secondary signal exists, so
// the standardized value is exactly zero and the term drops out.
func secondaryAt(c Coefficients, secondary []float64, t int) float64 {
	if secondary == nil {
		return c.Baseline
	}
	return secondary[t]
}

func cloneCoefficients(c Coefficients) Coefficients {
	cells := make([][]Coef, c.K)
	for i := range cells {
		cells[i] = make([]Coef, c.K)
		copy(cells[i], c.Cells[i])
	}
	return Coefficients{K: c.K, Cells: cells, Baseline: c.Baseline, Scale: c.Scale}
}
