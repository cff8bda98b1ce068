package regime

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"geovar/internal/domain/models"
)

// emStep runs one expectation-maximization pass in place and returns the
// log-likelihood of the data under the parameters it started from.
//
// The forward and backward recursions are scaled per step (the classic
// rescaling trick): alpha_t is renormalized to sum 1 and the scale factors
// are accumulated in log space, which keeps the recursion stable over
// arbitrarily long series.
func (c *Classifier) emStep(returns []float64, m *models.RegimeModel) (float64, error) {
	n := len(returns)
	k := m.K

	emis := make([][]float64, n)
	for t := 0; t < n; t++ {
		emis[t] = make([]float64, k)
		for j := 0; j < k; j++ {
			d := distuv.Normal{Mu: m.Params[j].Mean, Sigma: m.Params[j].Sigma}
			emis[t][j] = d.Prob(returns[t])
		}
	}

	alpha := make([][]float64, n)
	scale := make([]float64, n)
	alpha[0] = make([]float64, k)
	s := 0.0
	for j := 0; j < k; j++ {
		alpha[0][j] = m.Initial[j] * emis[0][j]
		s += alpha[0][j]
	}
	if s <= 0 {
		s = floorInPlace(alpha[0], c.cfg.Epsilon)
	}
	scale[0] = s
	for j := 0; j < k; j++ {
		alpha[0][j] /= s
	}
	for t := 1; t < n; t++ {
		alpha[t] = make([]float64, k)
		s = 0
		for j := 0; j < k; j++ {
			var pred float64
			for i := 0; i < k; i++ {
				pred += alpha[t-1][i] * m.Transition[i][j]
			}
			alpha[t][j] = pred * emis[t][j]
			s += alpha[t][j]
		}
		if s <= 0 {
			s = floorInPlace(alpha[t], c.cfg.Epsilon)
		}
		scale[t] = s
		for j := 0; j < k; j++ {
			alpha[t][j] /= s
		}
	}

	beta := make([][]float64, n)
	beta[n-1] = make([]float64, k)
	for j := 0; j < k; j++ {
		beta[n-1][j] = 1
	}
	for t := n - 2; t >= 0; t-- {
		beta[t] = make([]float64, k)
		for i := 0; i < k; i++ {
			var b float64
			for j := 0; j < k; j++ {
				b += m.Transition[i][j] * emis[t+1][j] * beta[t+1][j]
			}
			beta[t][i] = b / scale[t+1]
		}
	}

	var ll float64
	for t := 0; t < n; t++ {
		ll += math.Log(scale[t])
	}
	if math.IsNaN(ll) || math.IsInf(ll, 0) {
		return 0, fmt.Errorf("log-likelihood not finite")
	}

	// gamma_t(i) = P(S_t = i | all data); xi accumulates transition counts
	gamma := make([][]float64, n)
	for t := 0; t < n; t++ {
		gamma[t] = make([]float64, k)
		s = 0
		for j := 0; j < k; j++ {
			gamma[t][j] = alpha[t][j] * beta[t][j]
			s += gamma[t][j]
		}
		if s <= 0 {
			s = floorInPlace(gamma[t], c.cfg.Epsilon)
		}
		for j := 0; j < k; j++ {
			gamma[t][j] /= s
		}
	}

	xiSum := make([][]float64, k)
	for i := range xiSum {
		xiSum[i] = make([]float64, k)
	}
	for t := 0; t < n-1; t++ {
		var denom float64
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				denom += alpha[t][i] * m.Transition[i][j] * emis[t+1][j] * beta[t+1][j]
			}
		}
		if denom <= 0 {
			continue
		}
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				xiSum[i][j] += alpha[t][i] * m.Transition[i][j] * emis[t+1][j] * beta[t+1][j] / denom
			}
		}
	}

	// M-step
	for j := 0; j < k; j++ {
		m.Initial[j] = gamma[0][j]
	}
	for i := 0; i < k; i++ {
		var rowSum float64
		for j := 0; j < k; j++ {
			rowSum += xiSum[i][j]
		}
		if rowSum <= 0 {
			continue
		}
		for j := 0; j < k; j++ {
			m.Transition[i][j] = xiSum[i][j] / rowSum
		}
	}
	for j := 0; j < k; j++ {
		var w, wr, wr2 float64
		for t := 0; t < n; t++ {
			w += gamma[t][j]
			wr += gamma[t][j] * returns[t]
			wr2 += gamma[t][j] * returns[t] * returns[t]
		}
		if w <= 0 {
			continue
		}
		mean := wr / w
		variance := wr2/w - mean*mean
		if variance < c.cfg.SigmaFloor*c.cfg.SigmaFloor {
			variance = c.cfg.SigmaFloor * c.cfg.SigmaFloor
		}
		m.Params[j] = models.RegimeParams{Mean: mean, Sigma: math.Sqrt(variance)}
	}

	return ll, nil
}

// floorInPlace replaces an all-zero probability vector with a uniform epsilon
// floor and returns the new sum, so callers never divide by zero.
func floorInPlace(v []float64, eps float64) float64 {
	for i := range v {
		v[i] = eps
	}
	return eps * float64(len(v))
}
