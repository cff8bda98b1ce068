package usecase

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"geovar/internal/backtest"
	"geovar/internal/domain/models"
	domsvc "geovar/internal/domain/service"
	"geovar/internal/regime"
	"geovar/internal/risk"
)

type stubMetrics struct {
	mu         sync.Mutex
	analyses   int
	errors     map[string]int
	degeneracy int
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{errors: make(map[string]int)}
}

func (m *stubMetrics) RecordAnalysis(string) {
	m.mu.Lock()
	m.analyses++
	m.mu.Unlock()
}

func (m *stubMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *stubMetrics) RecordFitIterations(string, int) {}

func (m *stubMetrics) RecordDegeneracy(string) {
	m.mu.Lock()
	m.degeneracy++
	m.mu.Unlock()
}

func (m *stubMetrics) RecordLatency(string, float64) {}

func testRunner(t *testing.T, k int, confidence float64) (*AnalysisRunner, *stubMetrics) {
	t.Helper()
	estimator, err := risk.New(risk.Config{Confidence: confidence})
	if err != nil {
		t.Fatalf("estimator: %v", err)
	}
	validator, err := backtest.New(backtest.Config{Confidence: confidence})
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	m := newStubMetrics()
	return NewAnalysisRunner(regime.New(regime.Config{K: k}), estimator, validator, m), m
}

// crisisSeries has calm returns and a calm signal for the first 200 steps,
// then 3% volatility with the signal jumping to 250.
func crisisSeries(t *testing.T, symbol string, seed int64) *models.ObservationSeries {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := make([]models.Observation, 300)
	for i := range obs {
		sigma, signal := 0.005, 95.0
		if i >= 200 {
			sigma, signal = 0.03, 250.0
		}
		obs[i] = models.Observation{
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
			Return:    rng.NormFloat64() * sigma,
			Signal:    signal,
		}
	}
	s, err := models.NewObservationSeries(symbol, obs, false)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	return s
}

func TestAnalyzeEndToEnd(t *testing.T) {
	runner, m := testRunner(t, 2, 0.95)
	series := crisisSeries(t, "EURUSD", 43)

	res, err := runner.Analyze(context.Background(), series)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Symbol != "EURUSD" {
		t.Fatalf("symbol %q", res.Symbol)
	}
	if len(res.Filtered) != series.Len() || len(res.VaR.Estimates) != series.Len() {
		t.Fatalf("expected one filtered distribution and one estimate per step")
	}
	for i, e := range res.VaR.Estimates {
		if e.Value <= 0 || math.IsNaN(e.Value) {
			t.Fatalf("step %d: VaR %v not a positive magnitude", i, e.Value)
		}
		if e.ES < e.Value {
			t.Fatalf("step %d: ES %v below VaR %v", i, e.ES, e.Value)
		}
	}
	if res.Comparison == nil {
		t.Fatalf("missing backtest comparison")
	}
	if m.analyses != 1 {
		t.Fatalf("analysis not recorded")
	}
}

func TestAnalyzeVaRWidensInCrisis(t *testing.T) {
	runner, _ := testRunner(t, 2, 0.95)
	series := crisisSeries(t, "EURUSD", 47)

	res, err := runner.Analyze(context.Background(), series)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	calm := res.VaR.Estimates[195].Value
	crisis := res.VaR.Estimates[210].Value
	if crisis <= calm {
		t.Fatalf("VaR did not widen into the crisis: %v at 195 vs %v at 210", calm, crisis)
	}
}

func TestAnalyzeFilteredSumsToOne(t *testing.T) {
	runner, _ := testRunner(t, 3, 0.99)
	series := crisisSeries(t, "GBPUSD", 53)

	res, err := runner.Analyze(context.Background(), series)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for i, f := range res.Filtered {
		var sum float64
		for _, p := range f.Prob {
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("step %d: filtered probabilities sum to %v", i, sum)
		}
	}
}

func TestAnalyzeCancelled(t *testing.T) {
	runner, _ := testRunner(t, 2, 0.95)
	series := crisisSeries(t, "EURUSD", 59)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runner.Analyze(ctx, series); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestBuildSeries(t *testing.T) {
	req := &models.AnalyzeRequest{
		Symbol: "EURUSD",
		Observations: []models.ObservationPayload{
			{Timestamp: "2024-01-01T00:00:00Z", Return: 0.001, Signal: 100},
			{Timestamp: "2024-01-02T00:00:00Z", Return: -0.002, Signal: 110},
		},
	}
	series, err := BuildSeries(req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if series.Len() != 2 || series.Observations[1].Signal != 110 {
		t.Fatalf("series not built from payload: %+v", series)
	}
}

func TestBuildSeriesUnixTimestamps(t *testing.T) {
	req := &models.AnalyzeRequest{
		Symbol: "EURUSD",
		Observations: []models.ObservationPayload{
			{Timestamp: "1704067200", Return: 0.001, Signal: 100},
			{Timestamp: "1704153600", Return: 0.002, Signal: 100},
		},
	}
	series, err := BuildSeries(req)
	if err != nil {
		t.Fatalf("build with unix seconds: %v", err)
	}
	if !series.Observations[1].Timestamp.After(series.Observations[0].Timestamp) {
		t.Fatalf("unix timestamps not ordered after parse")
	}
}

func TestBuildSeriesBadTimestamp(t *testing.T) {
	req := &models.AnalyzeRequest{
		Symbol: "EURUSD",
		Observations: []models.ObservationPayload{
			{Timestamp: "yesterday", Return: 0.001, Signal: 100},
		},
	}
	if _, err := BuildSeries(req); err == nil {
		t.Fatalf("expected error on unparseable timestamp")
	}
}

func TestBuildSeriesSynthesizesSignal(t *testing.T) {
	rng := rand.New(rand.NewSource(67))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	payload := make([]models.ObservationPayload, 120)
	for i := range payload {
		payload[i] = models.ObservationPayload{
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour).Format(time.RFC3339),
			Return:    rng.NormFloat64() * 0.01,
		}
	}
	req := &models.AnalyzeRequest{Symbol: "EURUSD", Observations: payload, SynthesizeSignal: true}
	series, err := BuildSeries(req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for i, o := range series.Observations {
		if o.Signal == 0 {
			t.Fatalf("observation %d: signal not synthesized", i)
		}
	}
}

func TestBuildSeriesRejectsSignalModeConflict(t *testing.T) {
	req := &models.AnalyzeRequest{
		Symbol:           "EURUSD",
		SynthesizeSignal: true,
		FetchSignal:      true,
		Observations: []models.ObservationPayload{
			{Timestamp: "2024-01-01T00:00:00Z", Return: 0.001},
		},
	}
	if _, err := BuildSeries(req); err == nil {
		t.Fatalf("expected error combining synthesize_signal and fetch_signal")
	}
}

func TestAnalyzeManyPreservesOrder(t *testing.T) {
	runner, _ := testRunner(t, 2, 0.95)
	symbols := []string{"A", "B", "C", "D", "E"}
	series := make([]*models.ObservationSeries, len(symbols))
	for i, sym := range symbols {
		series[i] = crisisSeries(t, sym, int64(61+i))
	}

	outcomes := runner.AnalyzeMany(context.Background(), series, 3)
	if len(outcomes) != len(series) {
		t.Fatalf("expected %d outcomes, got %d", len(series), len(outcomes))
	}
	for i, out := range outcomes {
		if out.Symbol != symbols[i] {
			t.Fatalf("outcome %d: symbol %q, want %q", i, out.Symbol, symbols[i])
		}
		if out.Err != nil {
			t.Fatalf("outcome %d: %v", i, out.Err)
		}
		if out.Result == nil || out.Result.Symbol != symbols[i] {
			t.Fatalf("outcome %d: missing or mislabeled result", i)
		}
	}
}

func testEngineFactory(t *testing.T) EngineFactory {
	t.Helper()
	return func(confidence float64, regimes int, distribution string) (domsvc.RegimeClassifier, domsvc.RiskEstimator, domsvc.BacktestValidator, error) {
		if confidence == 0 {
			confidence = 0.95
		}
		if regimes == 0 {
			regimes = 3
		}
		estimator, err := risk.New(risk.Config{
			Confidence:   confidence,
			Distribution: models.DistributionFamily(distribution),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		validator, err := backtest.New(backtest.Config{Confidence: confidence})
		if err != nil {
			return nil, nil, nil, err
		}
		return regime.New(regime.Config{K: regimes}), estimator, validator, nil
	}
}

func TestAnalyzeHonorsRequestParameters(t *testing.T) {
	runner, _ := testRunner(t, 3, 0.95)
	runner.SetEngineFactory(testEngineFactory(t))

	req := &models.AnalyzeRequest{Symbol: "EURUSD", Confidence: 0.99, Regimes: 5, Distribution: "student-t"}
	derived, err := runner.ForRequest(req)
	if err != nil {
		t.Fatalf("derive runner: %v", err)
	}
	if derived == runner {
		t.Fatalf("request with engine parameters did not derive a new runner")
	}

	res, err := derived.Analyze(context.Background(), crisisSeries(t, "EURUSD", 71))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Regimes.K != 5 {
		t.Fatalf("fitted %d regimes, request asked for 5", res.Regimes.K)
	}
	if len(res.Filtered[0].Prob) != 5 {
		t.Fatalf("filtered distribution has %d states, want 5", len(res.Filtered[0].Prob))
	}
	if res.VaR.Confidence != 0.99 {
		t.Fatalf("VaR confidence %v, request asked for 0.99", res.VaR.Confidence)
	}
}

func TestForRequestDefaults(t *testing.T) {
	runner, _ := testRunner(t, 3, 0.95)
	runner.SetEngineFactory(testEngineFactory(t))

	// Zero-valued engine parameters mean "use the configured engines".
	derived, err := runner.ForRequest(&models.AnalyzeRequest{Symbol: "EURUSD"})
	if err != nil {
		t.Fatalf("derive runner: %v", err)
	}
	if derived != runner {
		t.Fatalf("request without engine parameters should reuse the runner")
	}
}

func TestForRequestRejectsBadParameters(t *testing.T) {
	runner, _ := testRunner(t, 3, 0.95)
	runner.SetEngineFactory(testEngineFactory(t))

	req := &models.AnalyzeRequest{Symbol: "EURUSD", Confidence: 1.5}
	if _, err := runner.ForRequest(req); err == nil {
		t.Fatalf("expected error for confidence outside (0,1)")
	}
}

func TestRunnerTuning(t *testing.T) {
	runner, _ := testRunner(t, 2, 0.95)

	runner.SetDegeneracyWarn(40)
	runner.SetDegeneracyWarn(0) // ignored
	if runner.degeneracyWarn != 40 {
		t.Fatalf("degeneracy threshold %d, want 40", runner.degeneracyWarn)
	}

	runner.SetWorkers(2)
	runner.SetWorkers(-1) // ignored
	if runner.workers != 2 {
		t.Fatalf("default workers %d, want 2", runner.workers)
	}

	// AnalyzeMany falls back to the configured width when none is given.
	series := []*models.ObservationSeries{crisisSeries(t, "A", 73), crisisSeries(t, "B", 74)}
	outcomes := runner.AnalyzeMany(context.Background(), series, 0)
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for i, out := range outcomes {
		if out.Err != nil {
			t.Fatalf("outcome %d: %v", i, out.Err)
		}
	}
}

// onsetSeries is one trading year of observations: calm through index 200,
// then a volatility and signal spike from index 201 onward.
func onsetSeries(t *testing.T, seed int64) *models.ObservationSeries {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := make([]models.Observation, 252)
	for i := range obs {
		sigma, signal := 0.005, 95.0
		if i >= 201 {
			sigma, signal = 0.04, 250.0
		}
		obs[i] = models.Observation{
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
			Return:    rng.NormFloat64() * sigma,
			Signal:    signal,
		}
	}
	s, err := models.NewObservationSeries("EURUSD", obs, false)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	return s
}

func TestAnalyzeDetectsCrisisOnset(t *testing.T) {
	runner, _ := testRunner(t, 3, 0.95)
	series := onsetSeries(t, 79)

	res, err := runner.Analyze(context.Background(), series)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	// The highest-severity regime must dominate within five steps of the spike.
	crisis := models.RegimeState(res.Regimes.K - 1)
	detected := -1
	for i := 201; i <= 206 && i < len(res.Filtered); i++ {
		if res.Filtered[i].MostLikely() == crisis {
			detected = i
			break
		}
	}
	if detected < 0 {
		t.Fatalf("crisis regime not dominant within five steps of the spike at 201")
	}
	if before, after := res.VaR.Estimates[195].Value, res.VaR.Estimates[205].Value; after <= before {
		t.Fatalf("VaR did not widen across the spike: %v at 195 vs %v at 205", before, after)
	}
}
