package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/teller/internal/config"
	"github.com/haasonsaas/teller/internal/gateway"
	"github.com/haasonsaas/teller/internal/observability"
)

// runServe starts every configured component and blocks until a shutdown
// signal.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, debug)
	slog.SetDefault(logger)

	logger.Info("starting teller",
		"version", version,
		"commit", commit,
		"config", resolveConfigPath(configPath),
		"llm_provider", cfg.LLM.DefaultProvider,
		"session_backend", cfg.Session.Backend,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracer, shutdownTracer := newTracer(cfg.Tracing)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	rt, err := gateway.NewRuntime(ctx, cfg, gateway.RuntimeOptions{
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer rt.Close()

	server, err := gateway.NewServer(gateway.ServerConfig{
		Runtime:  rt,
		Logger:   logger,
		Gatherer: prometheus.DefaultGatherer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("teller started", "metrics_addr", server.HTTPAddr(), "channels", len(server.Adapters()))

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}
	logger.Info("teller stopped")
	return nil
}

func newTracer(cfg config.TracingConfig) (*observability.Tracer, func(context.Context) error) {
	return observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Endpoint,
		SamplingRate:   cfg.SamplingRate,
		Attributes:     cfg.Attributes,
		EnableInsecure: cfg.Insecure,
	})
}
