package risk

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"geovar/internal/domain/models"
)

// Config fixes the estimator once at construction; nothing here is global.
type Config struct {
	Confidence   float64
	Distribution models.DistributionFamily
	// StudentTDof is only read for the student-t family.
	StudentTDof float64
	Adjustment  AdjustmentConfig
	// ProbTolerance bounds how far a regime probability vector may drift
	// from summing to 1 before it is rejected.
	ProbTolerance float64
}

// Estimator turns filtered regime probabilities into one VaR/ES value per
// step. It is a pure function of its inputs: no state, no side effects.
type Estimator struct {
	cfg Config
	// tail quantities at the configured confidence, precomputed once:
	// quantile is Q(1−confidence) on the lower tail (negative), tailExp the
	// standardized expected value conditional on falling below it.
	quantile float64
	tailExp  float64
}

// New validates the configuration and precomputes the tail quantities.
// Confidence must lie strictly inside (0,1).
func New(cfg Config) (*Estimator, error) {
	if cfg.Confidence <= 0 || cfg.Confidence >= 1 {
		return nil, models.NewValidationError("confidence", "must be in (0,1) exclusive, got %v", cfg.Confidence)
	}
	if cfg.Distribution == "" {
		cfg.Distribution = models.DistNormal
	}
	if !cfg.Distribution.Valid() {
		return nil, models.NewValidationError("distribution", "unsupported family %q", cfg.Distribution)
	}
	if cfg.StudentTDof <= 2 {
		cfg.StudentTDof = 5
	}
	if cfg.Adjustment == (AdjustmentConfig{}) {
		cfg.Adjustment = DefaultAdjustment()
	}
	if cfg.ProbTolerance <= 0 {
		cfg.ProbTolerance = 1e-6
	}

	alpha := 1 - cfg.Confidence
	e := &Estimator{cfg: cfg}
	switch cfg.Distribution {
	case models.DistNormal:
		n := distuv.UnitNormal
		e.quantile = n.Quantile(alpha)
		// E[Z | Z < q] = −φ(q)/α for a standard normal
		e.tailExp = -n.Prob(e.quantile) / alpha
	case models.DistStudentT:
		nu := cfg.StudentTDof
		t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: nu}
		e.quantile = t.Quantile(alpha)
		// E[T | T < q] = −pdf(q)/α · (ν + q²)/(ν − 1)
		e.tailExp = -t.Prob(e.quantile) / alpha * (nu + e.quantile*e.quantile) / (nu - 1)
	}
	return e, nil
}

// Confidence returns the configured confidence level.
func (e *Estimator) Confidence() float64 { return e.cfg.Confidence }

// Estimate computes the regime-mixture VaR and ES for one step:
//
//	VaR = −Σ_k p_k (μ_k + σ_k · f(signal) · Q(1−confidence))
//
// with ES substituting the conditional tail expectation for the quantile.
// Both come back as positive loss magnitudes (the negative-return
// threshold). Holding the probability vector fixed, the VaR magnitude is
// non-decreasing in f.
func (e *Estimator) Estimate(prob []float64, params []models.RegimeParams, signal float64) (varVal, esVal float64, err error) {
	if len(prob) != len(params) {
		return 0, 0, models.NewValidationError("prob", "probability vector length %d does not match %d regimes", len(prob), len(params))
	}
	var sum float64
	for _, p := range prob {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return 0, 0, models.NewValidationError("prob", "entry %v outside [0,1]", p)
		}
		sum += p
	}
	if math.Abs(sum-1) > e.cfg.ProbTolerance {
		return 0, 0, models.NewValidationError("prob", "probabilities sum to %v, expected 1", sum)
	}

	f := e.cfg.Adjustment.Factor(signal)
	var v, es float64
	for k, p := range prob {
		v += p * (params[k].Mean + params[k].Sigma*f*e.quantile)
		es += p * (params[k].Mean + params[k].Sigma*f*e.tailExp)
	}
	return -v, -es, nil
}

// StaticVaR is the non-adaptive baseline: a single parametric VaR from the
// whole-series mean and standard deviation, with no regime mixture and no
// signal adjustment.
func (e *Estimator) StaticVaR(mean, sigma float64) float64 {
	return -(mean + sigma*e.quantile)
}
