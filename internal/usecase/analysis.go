package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/montanaflynn/stats"

	"geovar/internal/domain/models"
	domrepo "geovar/internal/domain/repository"
	domsvc "geovar/internal/domain/service"
	"geovar/internal/regime"
	"geovar/internal/transition"
	applogger "geovar/pkg/logger"
)

// AnalysisRunner drives one series through the full pipeline:
// fit → calibrate → filter → estimate → backtest. Each run owns its own
// parameters and results; runners are safe to use from concurrent workers as
// long as every call gets its own series.
type AnalysisRunner struct {
	classifier   domsvc.RegimeClassifier
	estimator    domsvc.RiskEstimator
	validator    domsvc.BacktestValidator
	calibrateCfg transition.CalibrateConfig
	engines      EngineFactory
	// degeneracyWarn is the number of consecutive epsilon-floored filter
	// steps tolerated before the run carries a warning.
	degeneracyWarn int
	// workers is the default fan-out width for AnalyzeMany.
	workers int

	metrics domrepo.Metrics
	l       *applogger.Logger
}

// EngineFactory builds engines for one request's parameters. Zero values
// fall back to the configured defaults.
type EngineFactory func(confidence float64, regimes int, distribution string) (domsvc.RegimeClassifier, domsvc.RiskEstimator, domsvc.BacktestValidator, error)

func NewAnalysisRunner(
	classifier domsvc.RegimeClassifier,
	estimator domsvc.RiskEstimator,
	validator domsvc.BacktestValidator,
	metrics domrepo.Metrics,
) *AnalysisRunner {
	return &AnalysisRunner{
		classifier:     classifier,
		estimator:      estimator,
		validator:      validator,
		calibrateCfg:   transition.DefaultCalibrateConfig(),
		degeneracyWarn: 25,
		workers:        4,
		metrics:        metrics,
	}
}

// SetLogger injects a structured logger.
func (r *AnalysisRunner) SetLogger(l *applogger.Logger) { r.l = l }

// SetCalibrateConfig overrides the transition calibration bounds.
func (r *AnalysisRunner) SetCalibrateConfig(cfg transition.CalibrateConfig) { r.calibrateCfg = cfg }

// SetEngineFactory enables per-request engine parameters via ForRequest.
func (r *AnalysisRunner) SetEngineFactory(f EngineFactory) { r.engines = f }

// SetDegeneracyWarn overrides how many consecutive floored filter steps are
// tolerated before the run carries a warning.
func (r *AnalysisRunner) SetDegeneracyWarn(n int) {
	if n > 0 {
		r.degeneracyWarn = n
	}
}

// SetWorkers sets the default fan-out width for AnalyzeMany.
func (r *AnalysisRunner) SetWorkers(n int) {
	if n > 0 {
		r.workers = n
	}
}

// ForRequest returns the runner to use for one request: the shared runner
// when no engine factory is installed or the request carries no engine
// parameters, otherwise a derived runner bound to engines built from the
// request's confidence, regime count and distribution.
func (r *AnalysisRunner) ForRequest(req *models.AnalyzeRequest) (*AnalysisRunner, error) {
	if r.engines == nil || (req.Confidence == 0 && req.Regimes == 0 && req.Distribution == "") {
		return r, nil
	}
	classifier, estimator, validator, err := r.engines(req.Confidence, req.Regimes, req.Distribution)
	if err != nil {
		return nil, err
	}
	derived := *r
	derived.classifier = classifier
	derived.estimator = estimator
	derived.validator = validator
	return &derived, nil
}

// Analyze runs the complete analysis for one observation series.
func (r *AnalysisRunner) Analyze(ctx context.Context, series *models.ObservationSeries) (*models.AnalysisResult, error) {
	start := time.Now()
	returns := series.Returns()
	signals := series.Signals()

	result := &models.AnalysisResult{Symbol: series.Symbol, RunAt: time.Now().UTC()}

	// 1. batch fit; frozen for the rest of the run
	model, err := r.classifier.Fit(ctx, returns)
	if err != nil {
		r.recordError("fit")
		return nil, fmt.Errorf("fit regimes: %w", err)
	}
	result.Regimes = model
	if model.NonConverged {
		result.Warnings = append(result.Warnings, fmt.Sprintf("regime fit hit iteration cap (%d) before tolerance", model.Iterations))
	}
	if r.metrics != nil {
		r.metrics.RecordFitIterations(series.Symbol, model.Iterations)
	}

	// 2. first causal pass with the static fitted matrix to recover the
	// regime path the transition calibration targets
	path := r.filterPath(model, returns)

	var secondary []float64
	if series.HasSecondary {
		secondary = make([]float64, series.Len())
		for i, o := range series.Observations {
			secondary[i] = o.Secondary
		}
	}
	calib, err := transition.Calibrate(ctx, transition.Default(model.K), path, signals, secondary, r.calibrateCfg)
	if err != nil {
		r.recordError("calibrate")
		return nil, fmt.Errorf("calibrate transitions: %w", err)
	}
	if calib.NonConverged {
		result.Warnings = append(result.Warnings, fmt.Sprintf("transition calibration hit iteration cap (%d) before tolerance", calib.Iterations))
	}

	// 3. second causal pass with the signal-conditioned transition, one VaR
	// and ES per step
	filtered, varSeries, degWarn, err := r.filterAndEstimate(model, calib.Coefficients, series)
	if err != nil {
		r.recordError("estimate")
		return nil, fmt.Errorf("estimate var: %w", err)
	}
	result.Filtered = filtered
	result.VaR = varSeries
	if degWarn {
		result.Warnings = append(result.Warnings, fmt.Sprintf("filtered probabilities floored for more than %d consecutive steps", r.degeneracyWarn))
	}

	// 4. backtests: adaptive vs static parametric baseline
	mean, _ := stats.Mean(returns)
	sigma, _ := stats.StandardDeviationSample(returns)
	staticVaR := r.estimator.StaticVaR(mean, sigma)
	baseline := make([]float64, len(returns))
	for i := range baseline {
		baseline[i] = staticVaR
	}
	cmp, err := r.validator.Compare(returns, varSeries.Values(), baseline)
	if err != nil {
		r.recordError("backtest")
		return nil, fmt.Errorf("backtest: %w", err)
	}
	result.Comparison = cmp

	if r.metrics != nil {
		r.metrics.RecordAnalysis(series.Symbol)
		r.metrics.RecordLatency("analyze", time.Since(start).Seconds())
	}
	if r.l != nil {
		r.l.Info("analysis done",
			applogger.String("symbol", series.Symbol),
			applogger.Int("observations", series.Len()),
			applogger.Int("violations", cmp.Adaptive.Violations),
			applogger.String("kupiec", string(cmp.Adaptive.Kupiec.Decision)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return result, nil
}

// filterPath runs the causal filter under the static fitted transition
// matrix and returns the most-likely regime at each step.
func (r *AnalysisRunner) filterPath(model *models.RegimeModel, returns []float64) []models.RegimeState {
	st := regime.NewFilterState(model)
	path := make([]models.RegimeState, len(returns))
	for t := range returns {
		prob, _ := st.Step(model, model.Transition, returns[t], filterEpsilon)
		path[t] = models.FilteredProbability{Prob: prob}.MostLikely()
	}
	return path
}

// filterAndEstimate is the production pass: the transition into step t is
// reshaped by the signal observed at t-1 (strictly one-step-ahead), and each
// filtered distribution feeds the regime-mixture estimator.
func (r *AnalysisRunner) filterAndEstimate(
	model *models.RegimeModel,
	coeffs transition.Coefficients,
	series *models.ObservationSeries,
) ([]models.FilteredProbability, *models.VaRSeries, bool, error) {
	st := regime.NewFilterState(model)
	obs := series.Observations

	filtered := make([]models.FilteredProbability, len(obs))
	estimates := make([]models.VaREstimate, len(obs))
	degWarned := false

	for t, o := range obs {
		prev := obs[0]
		if t > 0 {
			prev = obs[t-1]
		}
		sec := coeffs.Baseline
		if series.HasSecondary {
			sec = prev.Secondary
		}
		trans := transition.Evaluate(coeffs, prev.Signal, sec)

		prob, degenerate := st.Step(model, trans, o.Return, filterEpsilon)
		if degenerate && r.metrics != nil {
			r.metrics.RecordDegeneracy(series.Symbol)
		}
		if st.ConsecutiveDegenerate > r.degeneracyWarn {
			degWarned = true
		}
		filtered[t] = models.FilteredProbability{Timestamp: o.Timestamp, Prob: prob}

		varVal, esVal, err := r.estimator.Estimate(prob, model.Params, o.Signal)
		if err != nil {
			return nil, nil, false, fmt.Errorf("step %d: %w", t, err)
		}
		estimates[t] = models.VaREstimate{
			Timestamp:  o.Timestamp,
			Confidence: r.estimator.Confidence(),
			Value:      varVal,
			ES:         esVal,
		}
	}

	vs := &models.VaRSeries{Symbol: series.Symbol, Confidence: r.estimator.Confidence(), Estimates: estimates}
	return filtered, vs, degWarned, nil
}

func (r *AnalysisRunner) recordError(kind string) {
	if r.metrics != nil {
		r.metrics.RecordError(kind)
	}
}

const filterEpsilon = 1e-12
