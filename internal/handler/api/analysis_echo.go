package api

import (
	"encoding/json"
	"net/http"
	"time"

	models "geovar/internal/domain/models"
	domrepo "geovar/internal/domain/repository"
	icache "geovar/internal/service/cache"
	"geovar/internal/service/metrics"
	"geovar/internal/service/ratelimit"
	"geovar/internal/usecase"
	pkgcache "geovar/pkg/cache"
	xhttp "geovar/pkg/http"
	xlogger "geovar/pkg/logger"

	"github.com/labstack/echo/v4"
)

// AnalysisEchoHandler exposes the analysis pipeline over HTTP.
type AnalysisEchoHandler struct {
	logger   *xlogger.Logger
	runner   *usecase.AnalysisRunner
	sink     usecase.Deliverer
	store    domrepo.ResultStore
	source   domrepo.SignalSource
	cache    icache.BytesCache
	cacheTTL time.Duration
	rl       *ratelimit.Limiter
}

func NewAnalysisEchoHandler(logger *xlogger.Logger, runner *usecase.AnalysisRunner, sink usecase.Deliverer, store domrepo.ResultStore) *AnalysisEchoHandler {
	metrics.Register()
	return &AnalysisEchoHandler{
		logger:   logger,
		runner:   runner,
		sink:     sink,
		store:    store,
		cacheTTL: 30 * time.Second,
		rl:       ratelimit.New(),
	}
}

// SetSignalSource enables requests that ask for an externally fetched index.
func (h *AnalysisEchoHandler) SetSignalSource(s domrepo.SignalSource) { h.source = s }

// SetCache enables response caching for the read endpoints.
func (h *AnalysisEchoHandler) SetCache(c icache.BytesCache) { h.cache = c }

// SetCacheTTL overrides how long cached responses stay fresh; backtest
// responses keep twice the VaR TTL.
func (h *AnalysisEchoHandler) SetCacheTTL(d time.Duration) {
	if d > 0 {
		h.cacheTTL = d
	}
}

func (h *AnalysisEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/analyze", h.Analyze)
	g.GET("/var", h.VaRSeries)
	g.GET("/backtest", h.Backtests)
}

func (h *AnalysisEchoHandler) Analyze(c echo.Context) error {
	start := time.Now()
	endpoint := "analyze"
	defer func() { metrics.AnalyticsLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.AnalyzeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":analyze", 2, 0.5) {
		h.logger.Warn("analyze rate_limited", xlogger.String("remote", c.RealIP()))
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("rate_limited", "", "too many analysis requests", http.StatusTooManyRequests))
	}

	series, err := usecase.BuildSeries(req)
	if err != nil {
		metrics.AnalyticsErrors.WithLabelValues(endpoint).Inc()
		return xhttp.BadRequestResponse(c, err.Error())
	}
	if req.FetchSignal {
		if err := usecase.FetchAndApplySignal(c.Request().Context(), h.source, series); err != nil {
			metrics.AnalyticsErrors.WithLabelValues(endpoint).Inc()
			h.logger.Error("signal fetch error", xlogger.Error(err))
			return xhttp.BadRequestResponse(c, err.Error())
		}
	}

	runner, err := h.runner.ForRequest(req)
	if err != nil {
		metrics.AnalyticsErrors.WithLabelValues(endpoint).Inc()
		return xhttp.BadRequestResponse(c, err.Error())
	}
	result, err := runner.Analyze(c.Request().Context(), series)
	if err != nil {
		metrics.AnalyticsErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("analyze usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	if h.sink != nil {
		if err := h.sink.Deliver(c.Request().Context(), result); err != nil {
			// analysis succeeded; persistence failure is reported, not fatal
			h.logger.Warn("analyze deliver error", xlogger.Error(err))
			result.Warnings = append(result.Warnings, "result delivery failed: "+err.Error())
		}
	}
	return xhttp.SuccessResponse(c, result)
}

func (h *AnalysisEchoHandler) VaRSeries(c echo.Context) error {
	start := time.Now()
	endpoint := "var"
	defer func() { metrics.AnalyticsLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.ResultRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":var", 5, 2) {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("rate_limited", "", "rate limited", http.StatusTooManyRequests))
	}

	cacheKey := pkgcache.GenerateKeyWithParams("var", req.Symbol, req.Limit)
	if b, ok := h.cached(cacheKey); ok {
		var out []models.VaREstimate
		if err := json.Unmarshal(b, &out); err == nil {
			return xhttp.SuccessResponse(c, out)
		}
	}

	rows, err := h.store.QueryVaRSeries(c.Request().Context(), req.Symbol, req.Limit)
	if err != nil {
		metrics.AnalyticsErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("var query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	h.cacheSet(cacheKey, rows, h.cacheTTL)
	return xhttp.SuccessResponse(c, rows)
}

func (h *AnalysisEchoHandler) Backtests(c echo.Context) error {
	start := time.Now()
	endpoint := "backtest"
	defer func() { metrics.AnalyticsLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":backtest", 5, 2) {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("rate_limited", "", "rate limited", http.StatusTooManyRequests))
	}

	cacheKey := pkgcache.GenerateKey("backtest", req.Symbol)
	if b, ok := h.cached(cacheKey); ok {
		var out []models.BacktestSuite
		if err := json.Unmarshal(b, &out); err == nil {
			return xhttp.SuccessResponse(c, out)
		}
	}

	rows, err := h.store.QueryBacktests(c.Request().Context(), req.Symbol)
	if err != nil {
		metrics.AnalyticsErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("backtest query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	h.cacheSet(cacheKey, rows, 2*h.cacheTTL)
	return xhttp.SuccessResponse(c, rows)
}

func (h *AnalysisEchoHandler) cached(key string) ([]byte, bool) {
	if h.cache == nil {
		return nil, false
	}
	b, ok, err := h.cache.GetBytes(key)
	if err != nil {
		h.logger.Warn("cache get error", xlogger.Error(err))
		return nil, false
	}
	if ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}
	return b, ok
}

func (h *AnalysisEchoHandler) cacheSet(key string, v interface{}, ttl time.Duration) {
	if h.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := h.cache.SetBytes(key, b, ttl); err != nil {
		h.logger.Warn("cache set error", xlogger.Error(err))
	}
}
