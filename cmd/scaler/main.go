package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/factory"
	"github.com/lychee-technology/strata/internal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the scaler's admin API.
type Server struct {
	manager  *internal.ScalingManager
	registry strata.WorkerRegistry
	mux      *http.ServeMux
}

// NewServer creates a new Server instance
func NewServer(manager *internal.ScalingManager, registry strata.WorkerRegistry) *Server {
	return &Server{
		manager:  manager,
		registry: registry,
		mux:      http.NewServeMux(),
	}
}

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/v1/scaling/provision", s.handleProvision)
	s.mux.HandleFunc("/api/v1/scaling/terminate", s.handleTerminate)
	s.mux.HandleFunc("/api/v1/workers", s.workersHandler)
	s.mux.HandleFunc("/api/v1/workers/", s.workerHandler)
}

func main() {
	config := loadConfigFromEnv()

	logger, err := newLogger(config.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if err := config.Validate(); err != nil {
		sugar.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := internal.S3HealthCheck(ctx, config.AWS, 5*time.Second); err != nil {
		sugar.Warnw("aws endpoint health check failed", "endpoint", config.AWS.Endpoint, "err", err)
	}

	var pool *pgxpool.Pool
	if config.Registry.Backend == "postgres" {
		pool, err = internal.NewRegistryPool(ctx, config.Registry, config.AWS)
		if err != nil {
			sugar.Fatalf("failed to create registry pool: %v", err)
		}
		defer pool.Close()
	}

	registry, err := factory.NewWorkerRegistryWithConfig(config, pool)
	if err != nil {
		sugar.Fatalf("failed to create worker registry: %v", err)
	}

	if _, err := factory.RegisterPrometheusTelemetry(config, prometheus.DefaultRegisterer); err != nil {
		sugar.Fatalf("failed to register metrics: %v", err)
	}

	strategy, err := factory.NewAutoScalingStrategyWithConfig(ctx, config, nil, registry)
	if err != nil {
		sugar.Fatalf("failed to create scaling strategy: %v", err)
	}
	manager := factory.NewScalingManagerWithConfig(config, strategy, registry, logger)

	server := NewServer(manager, registry)
	server.RegisterRoutes()

	if config.Metrics.Enabled && config.Metrics.Endpoint != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		go func() {
			sugar.Infow("serving metrics", "endpoint", config.Metrics.Endpoint)
			if err := http.ListenAndServe(config.Metrics.Endpoint, metricsMux); err != nil {
				sugar.Errorf("metrics server error: %v", err)
			}
		}()
	}

	port := getEnv("PORT", "8081")
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           server.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		sugar.Infow("starting admin server", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Errorf("admin server error: %v", err)
			stop()
		}
	}()

	if err := manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Errorf("scaling manager stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("admin server shutdown", "err", err)
	}
}

// newLogger builds a production logger, or a development one for debug level
// or console format.
func newLogger(cfg strata.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapCfg := zap.NewProductionConfig()
	if cfg.Level == "debug" || cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = level
	return zapCfg.Build()
}
