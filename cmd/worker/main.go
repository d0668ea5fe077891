package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/app"
	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   cfg.ServiceName,
		Endpoint:      cfg.TracingEndpoint,
		Exporter:      cfg.TracingExporter,
		SamplingRatio: cfg.TracingSampleRatio,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init tracer")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}()

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, prometheus.DefaultRegisterer)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	deps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build dependencies")
	}
	defer deps.Close()

	srv, err := app.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init task server")
	}
	mux := asynq.NewServeMux()
	deps.Handlers.Register(mux)

	logger.Info().
		Bool("postgres_catalog", cfg.UsePostgresCatalog()).
		Str("rules", cfg.RulesPath).
		Int("concurrency", cfg.WorkerConcurrency).
		Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}

	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics listener stopped")
	}
}
