package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	mid "geovar/internal/middleware"
	"geovar/internal/usecase"
	pkgch "geovar/pkg/clickhouse"
	"geovar/pkg/config"
	xhttp "geovar/pkg/http"
	pkgkafka "geovar/pkg/kafka"
	applogger "geovar/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	consumer    *pkgkafka.Consumer
	kh          pkgkafka.MessageHandler
	chClient    *pkgch.Client
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
	l           *applogger.Logger
	Sink        *usecase.ResultSink
	Pipeline    *mid.DeliveryPipeline
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	chClient *pkgch.Client,
) *App {
	return &App{
		cfg:      cfg,
		consumer: consumer,
		kh:       kh,
		chClient: chClient,
	}
}

// SetHTTPHandler allows DI to inject an HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// lifecycle logger, console info by default
	l, err := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})
	if err != nil {
		return err
	}
	a.l = l

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsEndpoint(a.cfg.Metrics.Enabled, a.cfg.Metrics.Path),
	)

	// Verify storage before accepting work
	if a.chClient != nil {
		if err := a.chClient.Health(ctx); err != nil {
			l.Warn("clickhouse not reachable at startup", applogger.Error(err))
		}
	}

	// Start the delivery pipeline flusher before anything produces results
	if a.Pipeline != nil {
		a.Pipeline.Start(ctx)
	}

	// Start jobs consumer if configured
	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka jobs consumer started", applogger.String("topic", a.kh.Topic()))
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}
	l.Info("analysis server started", applogger.Int("port", a.cfg.Server.Port))

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	l := a.l
	l.Info("shutting down...")

	// Shutdown HTTP server
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	// Stop consumer before closing the sinks it writes to
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.Pipeline != nil {
		a.Pipeline.Stop()
	}

	// Close result sink resources (publisher/storage)
	if a.Sink != nil {
		a.Sink.Close()
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}
