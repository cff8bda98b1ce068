package models

import (
	"strconv"
	"time"
)

// RegimeState labels a hidden volatility regime, ordered by severity.
type RegimeState int

const (
	RegimeCalm RegimeState = iota
	RegimeTension
	RegimeCrisis
)

func (s RegimeState) String() string {
	switch s {
	case RegimeCalm:
		return "calm"
	case RegimeTension:
		return "tension"
	case RegimeCrisis:
		return "crisis"
	default:
		return "regime_" + strconv.Itoa(int(s))
	}
}

// RegimeParams holds the conditional return distribution of one regime.
type RegimeParams struct {
	Mean  float64
	Sigma float64
}

// RegimeModel is the frozen output of a classifier fit: per-regime
// distribution parameters (sorted by ascending Sigma), the fitted static
// transition matrix, and the initial state distribution.
type RegimeModel struct {
	K          int
	Params     []RegimeParams
	Transition [][]float64
	Initial    []float64
	// Iterations is the EM iteration count actually used.
	Iterations int
	// NonConverged is set when the iteration cap was hit before the
	// log-likelihood improvement fell under tolerance. The last iterate is
	// still usable; callers may retry with a looser tolerance.
	NonConverged  bool
	LogLikelihood float64
}

// FilteredProbability is the causal posterior over regimes at one step,
// conditioned on observations up to and including that step.
type FilteredProbability struct {
	Timestamp time.Time
	Prob      []float64
}

// MostLikely returns the index of the highest-probability regime.
func (f FilteredProbability) MostLikely() RegimeState {
	best := 0
	for i, p := range f.Prob {
		if p > f.Prob[best] {
			best = i
		}
	}
	return RegimeState(best)
}
