package regime

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"geovar/internal/domain/models"
)

// FilterState threads the filtering recurrence forward. Belief at step t
// depends on belief at t-1, so one state must never be shared across series.
type FilterState struct {
	Belief []float64
	// ConsecutiveDegenerate counts back-to-back steps where the posterior
	// had to be epsilon-floored; it resets on any healthy step.
	ConsecutiveDegenerate int
}

// NewFilterState seeds the recurrence with the fitted initial distribution.
func NewFilterState(m *models.RegimeModel) *FilterState {
	b := make([]float64, m.K)
	copy(b, m.Initial)
	return &FilterState{Belief: b}
}

// Step advances the filter by one observation: predict through the supplied
// transition matrix (static or signal-conditioned), update by the emission
// likelihood of the observed return, renormalize. Emission likelihoods are
// evaluated in log space and shifted by their maximum before exponentiation
// so long series cannot underflow.
//
// The returned slice is freshly allocated; the state is updated in place.
// The boolean reports whether this step needed the epsilon floor.
func (st *FilterState) Step(m *models.RegimeModel, transition [][]float64, ret float64, eps float64) ([]float64, bool) {
	k := m.K

	pred := make([]float64, k)
	for j := 0; j < k; j++ {
		var p float64
		for i := 0; i < k; i++ {
			p += st.Belief[i] * transition[i][j]
		}
		pred[j] = p
	}

	logPost := make([]float64, k)
	maxLog := math.Inf(-1)
	for j := 0; j < k; j++ {
		d := distuv.Normal{Mu: m.Params[j].Mean, Sigma: m.Params[j].Sigma}
		lp := math.Inf(-1)
		if pred[j] > 0 {
			lp = math.Log(pred[j]) + d.LogProb(ret)
		}
		logPost[j] = lp
		if lp > maxLog {
			maxLog = lp
		}
	}

	post := make([]float64, k)
	degenerate := false
	var sum float64
	if math.IsInf(maxLog, -1) {
		degenerate = true
	} else {
		for j := 0; j < k; j++ {
			post[j] = math.Exp(logPost[j] - maxLog)
			sum += post[j]
		}
		if sum <= 0 || math.IsNaN(sum) {
			degenerate = true
		}
	}
	if degenerate {
		sum = floorInPlace(post, eps)
	}
	for j := 0; j < k; j++ {
		post[j] /= sum
	}

	copy(st.Belief, post)
	if degenerate {
		st.ConsecutiveDegenerate++
	} else {
		st.ConsecutiveDegenerate = 0
	}
	return post, degenerate
}
