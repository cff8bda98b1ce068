package features

import (
	"math"
	"math/rand"
	"testing"
)

func TestRollingVolatilityWindow(t *testing.T) {
	rng := rand.New(rand.NewSource(71))
	returns := make([]float64, 60)
	for i := range returns {
		returns[i] = rng.NormFloat64() * 0.01
	}

	vol := RollingVolatility(returns, 20, 252)
	if len(vol) != len(returns) {
		t.Fatalf("length %d, want %d", len(vol), len(returns))
	}
	for i := 0; i < 19; i++ {
		if !math.IsNaN(vol[i]) {
			t.Fatalf("entry %d before a full window should be NaN, got %v", i, vol[i])
		}
	}
	for i := 19; i < len(vol); i++ {
		if math.IsNaN(vol[i]) || vol[i] <= 0 {
			t.Fatalf("entry %d: %v, want positive annualized vol", i, vol[i])
		}
	}
}

func TestRollingVolatilityAnnualization(t *testing.T) {
	// alternating ±1% has sample std 0.01005... over any even window
	returns := make([]float64, 40)
	for i := range returns {
		returns[i] = 0.01
		if i%2 == 1 {
			returns[i] = -0.01
		}
	}
	vol := RollingVolatility(returns, 20, 252)
	want := 0.01 * math.Sqrt(20.0/19.0) * math.Sqrt(252) * 100
	if math.Abs(vol[39]-want) > 1e-9 {
		t.Fatalf("annualized vol %v, want %v", vol[39], want)
	}
}

func TestSyntheticGPRDense(t *testing.T) {
	rng := rand.New(rand.NewSource(73))
	returns := make([]float64, 250)
	for i := range returns {
		returns[i] = rng.NormFloat64() * 0.01
	}

	gpr := SyntheticGPR(returns, 252)
	if len(gpr) != len(returns) {
		t.Fatalf("length %d, want %d", len(gpr), len(returns))
	}
	for i, g := range gpr {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			t.Fatalf("entry %d not finite: %v", i, g)
		}
	}
	// warm-up region falls back to the baseline
	if gpr[0] != 100 {
		t.Fatalf("warm-up entry %v, want baseline 100", gpr[0])
	}
}

func TestSyntheticGPRTracksVolatility(t *testing.T) {
	rng := rand.New(rand.NewSource(79))
	returns := make([]float64, 300)
	for i := range returns {
		sigma := 0.005
		if i >= 200 {
			sigma = 0.03
		}
		returns[i] = rng.NormFloat64() * sigma
	}

	gpr := SyntheticGPR(returns, 252)
	if gpr[150] >= gpr[260] {
		t.Fatalf("proxy did not rise with volatility: %v calm vs %v stressed", gpr[150], gpr[260])
	}
}

func TestSyntheticGPRShortSeries(t *testing.T) {
	gpr := SyntheticGPR([]float64{0.01, -0.02, 0.005}, 252)
	for i, g := range gpr {
		if g != 100 {
			t.Fatalf("entry %d: %v, want baseline fill", i, g)
		}
	}
}

func TestMaxDrawdown(t *testing.T) {
	// 1.0 → 1.1 → 0.88 → 0.968: worst decline is 0.88/1.1 - 1 = -20%
	returns := []float64{0.10, -0.20, 0.10}
	dd := MaxDrawdown(returns)
	if math.Abs(dd-(-0.20)) > 1e-12 {
		t.Fatalf("drawdown %v, want -0.20", dd)
	}
}

func TestMaxDrawdownMonotoneUp(t *testing.T) {
	if dd := MaxDrawdown([]float64{0.01, 0.02, 0.03}); dd != 0 {
		t.Fatalf("drawdown %v on a rising path, want 0", dd)
	}
}
