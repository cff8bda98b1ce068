package risk

import (
	"math"
	"testing"

	"geovar/internal/domain/models"
)

func mustEstimator(t *testing.T, cfg Config) *Estimator {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("new estimator: %v", err)
	}
	return e
}

func TestNewRejectsBoundaryConfidence(t *testing.T) {
	for _, conf := range []float64{0, 1, -0.5, 1.5} {
		if _, err := New(Config{Confidence: conf}); err == nil {
			t.Fatalf("expected error for confidence %v", conf)
		}
	}
}

func TestNewRejectsUnknownDistribution(t *testing.T) {
	if _, err := New(Config{Confidence: 0.95, Distribution: "cauchy"}); err == nil {
		t.Fatalf("expected error for unknown family")
	}
}

func TestEstimateSingleRegimeNormal(t *testing.T) {
	e := mustEstimator(t, Config{Confidence: 0.95})
	params := []models.RegimeParams{{Mean: 0, Sigma: 0.02}}

	v, es, err := e.Estimate([]float64{1}, params, 100)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	// at the baseline signal f=1, VaR = -sigma*Q(0.05) = sigma*1.6449
	want := 0.02 * 1.6449
	if math.Abs(v-want) > 1e-4 {
		t.Fatalf("VaR %v, want ~%v", v, want)
	}
	if es <= v {
		t.Fatalf("ES %v should exceed VaR %v", es, v)
	}
}

func TestEstimateMonotoneInSignal(t *testing.T) {
	e := mustEstimator(t, Config{Confidence: 0.99})
	params := []models.RegimeParams{{Mean: 0, Sigma: 0.01}, {Mean: -0.001, Sigma: 0.03}}
	prob := []float64{0.6, 0.4}

	prev := -math.MaxFloat64
	for _, sig := range []float64{0, 50, 100, 200, 400, 1200, 5000} {
		v, _, err := e.Estimate(prob, params, sig)
		if err != nil {
			t.Fatalf("signal %v: %v", sig, err)
		}
		if v < prev {
			t.Fatalf("VaR decreased from %v to %v as signal rose to %v", prev, v, sig)
		}
		prev = v
	}
}

func TestEstimateAdjustmentClamps(t *testing.T) {
	e := mustEstimator(t, Config{Confidence: 0.95})
	params := []models.RegimeParams{{Mean: 0, Sigma: 0.02}}

	atCap, _, err := e.Estimate([]float64{1}, params, 1100) // f = 3 exactly
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	beyond, _, err := e.Estimate([]float64{1}, params, 1e9)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if math.Abs(atCap-beyond) > 1e-12 {
		t.Fatalf("adjustment not clamped: %v vs %v", atCap, beyond)
	}
}

func TestEstimateRejectsBadProbabilities(t *testing.T) {
	e := mustEstimator(t, Config{Confidence: 0.95})
	params := []models.RegimeParams{{Sigma: 0.01}, {Sigma: 0.02}}

	cases := [][]float64{
		{0.5},                    // length mismatch
		{0.7, 0.7},               // sums past 1
		{-0.1, 1.1},              // entries outside [0,1]
		{0.2, 0.2},               // sums short of 1
		{math.NaN(), 1},          // NaN entry
		{math.NaN(), math.NaN()}, // NaN sum
	}
	for i, prob := range cases {
		if _, _, err := e.Estimate(prob, params, 100); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestStudentTFatterTail(t *testing.T) {
	normal := mustEstimator(t, Config{Confidence: 0.99})
	studentT := mustEstimator(t, Config{Confidence: 0.99, Distribution: models.DistStudentT, StudentTDof: 4})
	params := []models.RegimeParams{{Mean: 0, Sigma: 0.02}}

	vn, _, err := normal.Estimate([]float64{1}, params, 100)
	if err != nil {
		t.Fatalf("normal: %v", err)
	}
	vt, _, err := studentT.Estimate([]float64{1}, params, 100)
	if err != nil {
		t.Fatalf("student-t: %v", err)
	}
	if vt <= vn {
		t.Fatalf("student-t VaR %v should exceed normal VaR %v at 99%%", vt, vn)
	}
}

func TestStaticVaR(t *testing.T) {
	e := mustEstimator(t, Config{Confidence: 0.95})
	v := e.StaticVaR(0, 0.02)
	want := 0.02 * 1.6449
	if math.Abs(v-want) > 1e-4 {
		t.Fatalf("static VaR %v, want ~%v", v, want)
	}
}

func TestAdjustmentFactor(t *testing.T) {
	a := DefaultAdjustment()
	if f := a.Factor(100); f != 1 {
		t.Fatalf("f(100) = %v, want 1", f)
	}
	if f := a.Factor(-1e9); f != 0.5 {
		t.Fatalf("lower clamp broken: %v", f)
	}
	if f := a.Factor(1e9); f != 3 {
		t.Fatalf("upper clamp broken: %v", f)
	}
	if f := a.Factor(600); math.Abs(f-2) > 1e-12 {
		t.Fatalf("f(600) = %v, want 2", f)
	}
}
