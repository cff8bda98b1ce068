package di

import (
	"context"
	"fmt"
	"time"

	"geovar/internal/backtest"
	"geovar/internal/domain/models"
	"geovar/internal/domain/repository"
	domsvc "geovar/internal/domain/service"
	"geovar/internal/handler/api"
	mid "geovar/internal/middleware"
	"geovar/internal/regime"
	internalrepo "geovar/internal/repository"
	"geovar/internal/risk"
	icache "geovar/internal/service/cache"
	"geovar/internal/service/gprindex"
	"geovar/internal/usecase"
	pkgcache "geovar/pkg/cache"
	pkgch "geovar/pkg/clickhouse"
	"geovar/pkg/config"
	xhttp "geovar/pkg/http"
	pkgkafka "geovar/pkg/kafka"
	applogger "geovar/pkg/logger"
	"geovar/pkg/metrics"
	"geovar/pkg/server"
)

// ProvideLogger creates the shared application logger. When an errors
// topic is configured, error lines are deduplicated and shipped to it
// through the Kafka producer.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	level := "info"
	if cfg.Environment == "development" {
		level = "debug"
	}
	l, err := applogger.New(&applogger.Config{Level: level, Format: "console", Output: "stdout"})
	if err != nil {
		return nil, err
	}
	if cfg.Kafka.ErrorsTopic != "" && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 50,
			Topic:          cfg.Kafka.ErrorsTopic,
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideResultStore creates the ClickHouse result store and ensures its
// schema exists.
func ProvideResultStore(chClient *pkgch.Client, logger *applogger.Logger, cfg *config.Config) (repository.ResultStore, error) {
	store := internalrepo.NewClickHouseResultStore(chClient)
	if s, ok := store.(interface{ SetLogger(*applogger.Logger) }); ok {
		s.SetLogger(logger)
	}
	if s, ok := store.(interface{ SetBatchSize(int) }); ok {
		s.SetBatchSize(cfg.Backend.BatchSize)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideResultPublisher creates the Kafka result publisher.
func ProvideResultPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	return internalrepo.NewKafkaResultPublisher(producer, cfg.Kafka.ResultsTopic)
}

// ProvideSignalSource creates the external GPR index client, or nil when no
// provider is configured.
func ProvideSignalSource(cfg *config.Config) repository.SignalSource {
	if cfg.SignalIndex.BaseURL == "" {
		return nil
	}
	return gprindex.New(cfg.SignalIndex.BaseURL, cfg.SignalIndex.APIKey, cfg.SignalIndex.Timeout)
}

// buildClassifier constructs a classifier; k overrides the configured
// regime count when positive.
func buildClassifier(cfg *config.Config, k int, logger *applogger.Logger) domsvc.RegimeClassifier {
	rc := regime.DefaultConfig()
	if k > 0 {
		rc.K = k
	} else if cfg.Engine.Regimes > 0 {
		rc.K = cfg.Engine.Regimes
	}
	if cfg.Engine.EMTolerance > 0 {
		rc.Tolerance = cfg.Engine.EMTolerance
	}
	if cfg.Engine.EMMaxIters > 0 {
		rc.MaxIterations = cfg.Engine.EMMaxIters
	}
	c := regime.New(rc)
	c.SetLogger(logger)
	return c
}

// buildEstimator constructs an estimator; confidence and distribution
// override the configured values when set.
func buildEstimator(cfg *config.Config, confidence float64, distribution string) (domsvc.RiskEstimator, error) {
	conf := confidence
	if conf == 0 {
		conf = cfg.Engine.Confidence
	}
	if conf == 0 {
		conf = 0.95
	}
	dist := distribution
	if dist == "" {
		dist = cfg.Engine.Distribution
	}
	rc := risk.Config{
		Confidence:   conf,
		Distribution: models.DistributionFamily(dist),
		StudentTDof:  cfg.Engine.StudentTDof,
	}
	if cfg.Engine.Adjustment.Scale > 0 {
		rc.Adjustment = risk.AdjustmentConfig{
			Baseline: cfg.Engine.Adjustment.Baseline,
			Scale:    cfg.Engine.Adjustment.Scale,
			Min:      cfg.Engine.Adjustment.Min,
			Max:      cfg.Engine.Adjustment.Max,
		}
	}
	return risk.New(rc)
}

// buildValidator constructs a validator at the given confidence, falling
// back to the configured level.
func buildValidator(cfg *config.Config, confidence float64) (domsvc.BacktestValidator, error) {
	conf := confidence
	if conf == 0 {
		conf = cfg.Engine.Confidence
	}
	if conf == 0 {
		conf = 0.95
	}
	return backtest.New(backtest.Config{
		Confidence:   conf,
		Significance: cfg.Engine.Significance,
	})
}

// ProvideClassifier creates the regime classifier from engine config.
func ProvideClassifier(cfg *config.Config, logger *applogger.Logger) domsvc.RegimeClassifier {
	return buildClassifier(cfg, 0, logger)
}

// ProvideEstimator creates the VaR estimator from engine config.
func ProvideEstimator(cfg *config.Config) (domsvc.RiskEstimator, error) {
	return buildEstimator(cfg, 0, "")
}

// ProvideValidator creates the backtest validator from engine config.
func ProvideValidator(cfg *config.Config) (domsvc.BacktestValidator, error) {
	return buildValidator(cfg, 0)
}

// ProvideAnalysisRunner creates the core analysis use case. The engine
// factory lets requests override confidence, regime count and distribution
// without touching the shared engines.
func ProvideAnalysisRunner(
	classifier domsvc.RegimeClassifier,
	estimator domsvc.RiskEstimator,
	validator domsvc.BacktestValidator,
	m repository.Metrics,
	logger *applogger.Logger,
	cfg *config.Config,
) *usecase.AnalysisRunner {
	runner := usecase.NewAnalysisRunner(classifier, estimator, validator, m)
	runner.SetLogger(logger)
	runner.SetDegeneracyWarn(cfg.Engine.DegeneracyCap)
	runner.SetWorkers(cfg.Engine.Workers)
	runner.SetEngineFactory(func(confidence float64, regimes int, distribution string) (domsvc.RegimeClassifier, domsvc.RiskEstimator, domsvc.BacktestValidator, error) {
		est, err := buildEstimator(cfg, confidence, distribution)
		if err != nil {
			return nil, nil, nil, err
		}
		val, err := buildValidator(cfg, confidence)
		if err != nil {
			return nil, nil, nil, err
		}
		return buildClassifier(cfg, regimes, logger), est, val, nil
	})
	return runner
}

// ProvideResultSink creates the backend router for completed results.
func ProvideResultSink(pub repository.Publisher, store repository.ResultStore, m repository.Metrics, cfg *config.Config) *usecase.ResultSink {
	return usecase.NewResultSink(pub, store, m, cfg.Backend.Type)
}

// ProvideDeliveryPipeline wraps the sink with buffering and per-symbol
// throttling. The backend batch settings size the retry buffer and cap the
// flush backoff.
func ProvideDeliveryPipeline(sink *usecase.ResultSink, m repository.Metrics, cfg *config.Config) *mid.DeliveryPipeline {
	opts := []mid.PipelineOption{mid.WithBufferSize(512)}
	if cfg.Backend.BatchSize > 0 {
		opts = []mid.PipelineOption{mid.WithBufferSize(cfg.Backend.BatchSize)}
	}
	if cfg.Backend.BatchTimeout > 0 {
		opts = append(opts, mid.WithFlushBackoffCap(cfg.Backend.BatchTimeout))
	}
	return mid.NewDeliveryPipeline(sink, m, opts...)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKafkaJobsHandler registers the handler for the jobs topic.
func ProvideKafkaJobsHandler(
	runner *usecase.AnalysisRunner,
	pipeline *mid.DeliveryPipeline,
	source repository.SignalSource,
	m repository.Metrics,
	cfg *config.Config,
) *usecase.KafkaJobsHandler {
	h := usecase.NewKafkaJobsHandler(cfg.Kafka.JobsTopic, runner, pipeline, m)
	if source != nil {
		h.SetSignalSource(source)
	}
	return h
}

// ProvideBytesCache chooses the response cache backend: layered redis+memory
// when redis is enabled, process-local TTL cache otherwise.
func ProvideBytesCache(cfg *config.Config) (icache.BytesCache, error) {
	if !cfg.Cache.Redis.Enabled {
		return icache.NewTTLCache(), nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Cache.Redis.Host),
		pkgcache.WithRedisPort(cfg.Cache.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Cache.Redis.Password),
		pkgcache.WithRedisDB(cfg.Cache.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return icache.NewServiceAdapter(pkgcache.NewLayeredCache(rc)), nil
}

// ProvideHTTPHandler creates the Echo API handler.
func ProvideHTTPHandler(
	logger *applogger.Logger,
	runner *usecase.AnalysisRunner,
	pipeline *mid.DeliveryPipeline,
	store repository.ResultStore,
	source repository.SignalSource,
	bc icache.BytesCache,
	cfg *config.Config,
) xhttp.Handler {
	h := api.NewAnalysisEchoHandler(logger, runner, pipeline, store)
	h.SetCache(bc)
	h.SetCacheTTL(cfg.Cache.ResultTTL)
	if source != nil {
		h.SetSignalSource(source)
	}
	return h
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaJobsHandler,
	chClient *pkgch.Client,
	handler xhttp.Handler,
	sink *usecase.ResultSink,
	pipeline *mid.DeliveryPipeline,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}
	app := server.New(cfg, consumer, kh, chClient)
	app.SetHTTPHandler(handler)
	app.Sink = sink
	app.Pipeline = pipeline
	return app
}
