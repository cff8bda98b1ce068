package regime

import (
	"context"
	"fmt"
	"math"
	"sort"

	"geovar/internal/domain/models"
	applogger "geovar/pkg/logger"
)

// Config controls the EM fit and the filtering recurrence.
type Config struct {
	K             int
	Tolerance     float64
	MaxIterations int
	// Epsilon floors the posterior when the update step would otherwise
	// renormalize an all-zero vector.
	Epsilon float64
	// SigmaFloor keeps per-regime volatilities away from zero so emission
	// densities stay defined.
	SigmaFloor float64
}

// DefaultConfig returns the fit configuration used when the caller does not
// override anything: three regimes, 1e-6 tolerance, 200 iterations.
func DefaultConfig() Config {
	return Config{
		K:             3,
		Tolerance:     1e-6,
		MaxIterations: 200,
		Epsilon:       1e-12,
		SigmaFloor:    1e-8,
	}
}

// Classifier fits hidden volatility regimes to a return series and exposes
// the causal filtering step. The fitted model is immutable once returned.
type Classifier struct {
	cfg Config
	l   *applogger.Logger
}

func New(cfg Config) *Classifier {
	if cfg.K <= 0 {
		cfg.K = 3
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 1e-6
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 200
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 1e-12
	}
	if cfg.SigmaFloor <= 0 {
		cfg.SigmaFloor = 1e-8
	}
	return &Classifier{cfg: cfg}
}

// SetLogger injects a structured logger.
func (c *Classifier) SetLogger(l *applogger.Logger) { c.l = l }

// Fit estimates per-regime (mean, sigma), the static transition matrix and
// the initial distribution by EM, starting from a volatility-quantile
// bucketing of the series. The context is checked between iterations so long
// fits can be cancelled; a cancelled fit returns ctx.Err().
//
// Hitting the iteration cap without meeting tolerance is not an error: the
// last iterate is returned with NonConverged set.
func (c *Classifier) Fit(ctx context.Context, returns []float64) (*models.RegimeModel, error) {
	if len(returns) < 2*c.cfg.K {
		return nil, models.NewValidationError("returns", "need at least %d observations for %d regimes", 2*c.cfg.K, c.cfg.K)
	}

	m := c.initModel(returns)

	var prevLL float64
	converged := false
	iters := 0
	for i := 0; i < c.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("regime fit cancelled: %w", err)
		}
		ll, err := c.emStep(returns, m)
		if err != nil {
			return nil, fmt.Errorf("em iteration %d: %w", i, err)
		}
		iters = i + 1
		if i > 0 && ll-prevLL < c.cfg.Tolerance {
			converged = true
			m.LogLikelihood = ll
			break
		}
		prevLL = ll
		m.LogLikelihood = ll
	}

	m.Iterations = iters
	m.NonConverged = !converged
	sortBySeverity(m)

	if c.l != nil {
		c.l.Info("regime fit done",
			applogger.Int("k", m.K),
			applogger.Int("iterations", m.Iterations),
			applogger.Bool("converged", converged),
		)
	}
	return m, nil
}

// initModel buckets time steps into K quantiles of short-window volatility
// and seeds per-regime parameters from the bucketed returns. The transition
// matrix starts sticky (0.9 on the diagonal) and the initial distribution
// uniform.
func (c *Classifier) initModel(returns []float64) *models.RegimeModel {
	k := c.cfg.K
	vol := shortVolatility(returns, 10)

	idx := make([]int, len(returns))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return vol[idx[a]] < vol[idx[b]] })

	params := make([]models.RegimeParams, k)
	bucket := len(returns) / k
	for j := 0; j < k; j++ {
		lo := j * bucket
		hi := lo + bucket
		if j == k-1 {
			hi = len(returns)
		}
		var sum, sum2 float64
		n := float64(hi - lo)
		for _, i := range idx[lo:hi] {
			sum += returns[i]
			sum2 += returns[i] * returns[i]
		}
		mean := sum / n
		variance := sum2/n - mean*mean
		if variance < c.cfg.SigmaFloor*c.cfg.SigmaFloor {
			variance = c.cfg.SigmaFloor * c.cfg.SigmaFloor
		}
		params[j] = models.RegimeParams{Mean: mean, Sigma: math.Sqrt(variance)}
	}

	trans := make([][]float64, k)
	for i := range trans {
		trans[i] = make([]float64, k)
		for j := range trans[i] {
			if i == j {
				trans[i][j] = 0.9
			} else {
				trans[i][j] = 0.1 / float64(k-1)
			}
		}
	}
	initial := make([]float64, k)
	for i := range initial {
		initial[i] = 1 / float64(k)
	}

	return &models.RegimeModel{K: k, Params: params, Transition: trans, Initial: initial}
}

// sortBySeverity relabels regimes by ascending sigma so state 0 is always the
// calmest regardless of which label the raw fit assigned. Transition rows and
// columns and the initial distribution are permuted consistently.
func sortBySeverity(m *models.RegimeModel) {
	perm := make([]int, m.K)
	for i := range perm {
		perm[i] = i
	}
	sort.Slice(perm, func(a, b int) bool { return m.Params[perm[a]].Sigma < m.Params[perm[b]].Sigma })

	params := make([]models.RegimeParams, m.K)
	initial := make([]float64, m.K)
	trans := make([][]float64, m.K)
	for newI, oldI := range perm {
		params[newI] = m.Params[oldI]
		initial[newI] = m.Initial[oldI]
		trans[newI] = make([]float64, m.K)
		for newJ, oldJ := range perm {
			trans[newI][newJ] = m.Transition[oldI][oldJ]
		}
	}
	m.Params = params
	m.Initial = initial
	m.Transition = trans
}

// shortVolatility is a backward-looking rolling standard deviation used only
// for initialization; early steps reuse the first full window.
func shortVolatility(returns []float64, window int) []float64 {
	out := make([]float64, len(returns))
	for i := range returns {
		lo := i + 1 - window
		if lo < 0 {
			lo = 0
		}
		n := float64(i + 1 - lo)
		if n < 2 {
			out[i] = 0
			continue
		}
		var sum, sum2 float64
		for _, r := range returns[lo : i+1] {
			sum += r
			sum2 += r * r
		}
		mean := sum / n
		v := sum2/n - mean*mean
		if v < 0 {
			v = 0
		}
		out[i] = math.Sqrt(v)
	}
	return out
}
