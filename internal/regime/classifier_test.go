package regime

import (
	"context"
	"math"
	"math/rand"
	"testing"
)

// twoPhaseReturns draws calm returns for the first part of the series and
// crisis-scale returns afterwards.
func twoPhaseReturns(rng *rand.Rand, calmN, crisisN int, calmSigma, crisisSigma float64) []float64 {
	out := make([]float64, 0, calmN+crisisN)
	for i := 0; i < calmN; i++ {
		out = append(out, rng.NormFloat64()*calmSigma)
	}
	for i := 0; i < crisisN; i++ {
		out = append(out, rng.NormFloat64()*crisisSigma)
	}
	return out
}

func TestFitOrdersRegimesBySigma(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	returns := twoPhaseReturns(rng, 300, 300, 0.005, 0.03)

	c := New(Config{K: 3})
	m, err := c.Fit(context.Background(), returns)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if m.K != 3 {
		t.Fatalf("expected 3 regimes, got %d", m.K)
	}
	for j := 1; j < m.K; j++ {
		if m.Params[j].Sigma < m.Params[j-1].Sigma {
			t.Fatalf("sigma not ascending: %v >= %v expected", m.Params[j].Sigma, m.Params[j-1].Sigma)
		}
	}
	if m.Params[0].Sigma <= 0 {
		t.Fatalf("sigma floor violated: %v", m.Params[0].Sigma)
	}
	for i := 0; i < m.K; i++ {
		var row float64
		for j := 0; j < m.K; j++ {
			if m.Transition[i][j] < 0 {
				t.Fatalf("negative transition at (%d,%d)", i, j)
			}
			row += m.Transition[i][j]
		}
		if math.Abs(row-1) > 1e-9 {
			t.Fatalf("transition row %d sums to %v", i, row)
		}
	}
}

func TestFitSeparatesVolLevels(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	returns := twoPhaseReturns(rng, 400, 400, 0.005, 0.03)

	c := New(Config{K: 2})
	m, err := c.Fit(context.Background(), returns)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if m.Params[1].Sigma < 2*m.Params[0].Sigma {
		t.Fatalf("regimes not separated: sigmas %v vs %v", m.Params[0].Sigma, m.Params[1].Sigma)
	}
}

func TestFitTooShort(t *testing.T) {
	c := New(Config{K: 3})
	if _, err := c.Fit(context.Background(), []float64{0.01, -0.01}); err == nil {
		t.Fatalf("expected error for short series")
	}
}

func TestFitCancelled(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	returns := twoPhaseReturns(rng, 200, 200, 0.005, 0.03)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(Config{K: 3})
	if _, err := c.Fit(ctx, returns); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestFitIterationCapSetsNonConverged(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	returns := twoPhaseReturns(rng, 300, 300, 0.005, 0.03)

	c := New(Config{K: 3, MaxIterations: 1})
	m, err := c.Fit(context.Background(), returns)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if !m.NonConverged {
		t.Fatalf("expected NonConverged after 1 iteration")
	}
	if m.Iterations != 1 {
		t.Fatalf("expected 1 iteration, got %d", m.Iterations)
	}
}

func TestFilterProbabilitiesSumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	returns := twoPhaseReturns(rng, 300, 300, 0.005, 0.03)

	c := New(Config{K: 3})
	m, err := c.Fit(context.Background(), returns)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	st := NewFilterState(m)
	for t0, r := range returns {
		prob, _ := st.Step(m, m.Transition, r, 1e-12)
		var sum float64
		for _, p := range prob {
			if p < 0 || p > 1 {
				t.Fatalf("step %d: probability %v outside [0,1]", t0, p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("step %d: probabilities sum to %v", t0, sum)
		}
	}
}

func TestFilterDetectsVolShift(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	returns := twoPhaseReturns(rng, 200, 100, 0.005, 0.03)

	c := New(Config{K: 2})
	m, err := c.Fit(context.Background(), returns)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	st := NewFilterState(m)
	var shiftAt int = -1
	for t0, r := range returns {
		prob, _ := st.Step(m, m.Transition, r, 1e-12)
		if t0 >= 200 && prob[1] > 0.5 && shiftAt < 0 {
			shiftAt = t0
		}
	}
	if shiftAt < 0 {
		t.Fatalf("filter never favored the high-vol regime after the shift")
	}
	if shiftAt > 205 {
		t.Fatalf("filter took until step %d to react to the shift at 200", shiftAt)
	}
}

func TestFilterDegenerateRecovery(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	returns := twoPhaseReturns(rng, 150, 150, 0.005, 0.03)

	c := New(Config{K: 2})
	m, err := c.Fit(context.Background(), returns)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	// an absurd outlier relative to both regimes
	st := NewFilterState(m)
	prob, _ := st.Step(m, m.Transition, 1e6, 1e-12)
	var sum float64
	for _, p := range prob {
		if math.IsNaN(p) {
			t.Fatalf("NaN probability after outlier")
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("posterior not renormalized after outlier: sum %v", sum)
	}

	// a normal observation afterwards resets the degeneracy counter
	st.Step(m, m.Transition, 0.001, 1e-12)
	if st.ConsecutiveDegenerate != 0 {
		t.Fatalf("degeneracy counter not reset, got %d", st.ConsecutiveDegenerate)
	}
}
