package transition

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"geovar/internal/domain/models"
)

func assertStochastic(t *testing.T, m [][]float64) {
	t.Helper()
	for i, row := range m {
		var sum float64
		for j, p := range row {
			if p < 0 || p > 1 || math.IsNaN(p) {
				t.Fatalf("entry (%d,%d) = %v not a probability", i, j, p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %d sums to %v", i, sum)
		}
	}
}

func TestEvaluateRowStochastic(t *testing.T) {
	c := Default(3)
	rng := rand.New(rand.NewSource(23))
	signals := []float64{0, 50, 100, 150, 250, 1e6, -1e6}
	for i := 0; i < 50; i++ {
		signals = append(signals, rng.Float64()*400)
	}
	for _, s := range signals {
		assertStochastic(t, Evaluate(c, s, c.Baseline))
	}
}

func TestEvaluateSignalShiftsMassToSevereRegimes(t *testing.T) {
	c := Default(3)
	calm := Evaluate(c, 100, c.Baseline)
	crisis := Evaluate(c, 300, c.Baseline)
	for i := 0; i < 3; i++ {
		if crisis[i][2] <= calm[i][2] {
			t.Fatalf("row %d: crisis signal did not raise P(->2): %v vs %v", i, crisis[i][2], calm[i][2])
		}
		if crisis[i][0] >= calm[i][0] {
			t.Fatalf("row %d: crisis signal did not lower P(->0): %v vs %v", i, crisis[i][0], calm[i][0])
		}
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	c := Default(4)
	a := Evaluate(c, 137.5, 90)
	b := Evaluate(c, 137.5, 90)
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("entry (%d,%d) differs between identical calls", i, j)
			}
		}
	}
}

// syntheticPath builds a regime path whose transitions depend on the signal:
// high signal pulls toward regime K-1, low toward 0.
func syntheticPath(rng *rand.Rand, n, k int) ([]models.RegimeState, []float64) {
	path := make([]models.RegimeState, n)
	signals := make([]float64, n)
	state := 0
	for t := 0; t < n; t++ {
		signals[t] = 60 + rng.Float64()*180
		path[t] = models.RegimeState(state)
		if signals[t] > 150 && state < k-1 && rng.Float64() < 0.7 {
			state++
		} else if signals[t] < 110 && state > 0 && rng.Float64() < 0.7 {
			state--
		}
	}
	return path, signals
}

func TestCalibrateImprovesLikelihood(t *testing.T) {
	rng := rand.New(rand.NewSource(29))
	path, signals := syntheticPath(rng, 400, 3)

	start := Default(3)
	before := logLikelihood(start, path, signals, nil)

	res, err := Calibrate(context.Background(), start, path, signals, nil, DefaultCalibrateConfig())
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if res.LogLikelihood < before {
		t.Fatalf("calibration decreased log-likelihood: %v -> %v", before, res.LogLikelihood)
	}
	if res.Iterations == 0 {
		t.Fatalf("expected at least one iteration")
	}

	// the fitted model must still produce stochastic rows everywhere
	for _, s := range signals {
		assertStochastic(t, Evaluate(res.Coefficients, s, res.Coefficients.Baseline))
	}
}

func TestCalibrateLengthMismatch(t *testing.T) {
	path := []models.RegimeState{0, 1, 0}
	if _, err := Calibrate(context.Background(), Default(2), path, []float64{100, 100}, nil, CalibrateConfig{}); err == nil {
		t.Fatalf("expected length mismatch error")
	}
}

func TestCalibrateRejectsOutOfRangeLabel(t *testing.T) {
	path := []models.RegimeState{0, 3}
	signals := []float64{100, 100}
	if _, err := Calibrate(context.Background(), Default(2), path, signals, nil, CalibrateConfig{}); err == nil {
		t.Fatalf("expected out-of-range label error")
	}
}

func TestCalibrateCancelled(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	path, signals := syntheticPath(rng, 100, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Calibrate(ctx, Default(2), path, signals, nil, CalibrateConfig{}); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestCalibrateDoesNotMutateStart(t *testing.T) {
	rng := rand.New(rand.NewSource(37))
	path, signals := syntheticPath(rng, 200, 2)

	start := Default(2)
	saved := cloneCoefficients(start)
	if _, err := Calibrate(context.Background(), start, path, signals, nil, DefaultCalibrateConfig()); err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	for i := 0; i < start.K; i++ {
		for j := 0; j < start.K; j++ {
			if start.Cells[i][j] != saved.Cells[i][j] {
				t.Fatalf("start coefficients mutated at (%d,%d)", i, j)
			}
		}
	}
}
