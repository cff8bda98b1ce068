//go:build wireinject
// +build wireinject

package di

import (
	"geovar/pkg/config"
	"geovar/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideResultStore,
		ProvideResultPublisher,
		ProvideSignalSource,
		ProvideBytesCache,

		// Engine
		ProvideClassifier,
		ProvideEstimator,
		ProvideValidator,

		// Use cases
		ProvideAnalysisRunner,
		ProvideResultSink,
		ProvideDeliveryPipeline,
		ProvideKafkaJobsHandler,

		// Transport
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
