package factory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
	"github.com/lychee-technology/strata/internal/ec2provider"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// NewWorkerRegistryWithConfig returns the registry selected by
// config.Registry.Backend. pool is required for the postgres backend and
// ignored otherwise.
//
// Usage:
//
//	config := strata.DefaultConfig()
//	config.Registry.Backend = "postgres"
//	pool, err := internal.NewRegistryPool(ctx, config.Registry, config.AWS)
//	registry, err := factory.NewWorkerRegistryWithConfig(config, pool)
func NewWorkerRegistryWithConfig(config *strata.Config, pool *pgxpool.Pool) (strata.WorkerRegistry, error) {
	switch config.Registry.Backend {
	case "", "memory":
		return internal.NewMemoryWorkerRegistry(nil), nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("postgres registry requires a connection pool")
		}
		registry, err := internal.NewPostgresWorkerRegistry(pool, internal.WorkerTables{
			Workers: config.Registry.WorkersTable,
			Tasks:   config.Registry.TasksTable,
		}, config.Registry.SnapshotTimeout)
		if err != nil {
			return nil, err
		}
		return registry, nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q", config.Registry.Backend)
	}
}

// NewAutoScalingStrategyWithConfig builds the EC2 strategy. When provider is
// nil an EC2 client is created from config.AWS. Every provider call is
// instrumented and bounded by config.Scaling.ProviderTimeout.
func NewAutoScalingStrategyWithConfig(ctx context.Context, config *strata.Config, provider strata.CloudProvider, registry strata.WorkerRegistry) (strata.AutoScalingStrategy, error) {
	if provider == nil {
		if err := internal.ValidateAWSConfig(config.AWS); err != nil {
			return nil, err
		}
		p, err := ec2provider.NewFromConfig(ctx, config.AWS)
		if err != nil {
			return nil, fmt.Errorf("create ec2 provider: %w", err)
		}
		provider = p
	}
	provider = internal.InstrumentProvider(provider, config.Scaling.ProviderTimeout)
	strategy, err := internal.NewEC2AutoScalingStrategy(provider, registry, config.Scaling)
	if err != nil {
		return nil, err
	}
	return strategy, nil
}

// NewScalingManagerWithConfig wraps strategy in a coordinator with the
// configured tick interval and circuit breaker.
func NewScalingManagerWithConfig(config *strata.Config, strategy strata.AutoScalingStrategy, registry strata.WorkerRegistry, logger *zap.Logger) *internal.ScalingManager {
	breaker := internal.NewCircuitBreaker(
		config.Scaling.BreakerFailureThreshold,
		config.Scaling.BreakerWindow,
		config.Scaling.BreakerCooldown,
	)
	return internal.NewScalingManager(strategy, registry, breaker, config.Scaling.TickInterval, logger)
}

// NewBlobStoreWithConfig returns the segment store selected by config.Segment.Store.
func NewBlobStoreWithConfig(ctx context.Context, config *strata.Config) (internal.BlobStore, error) {
	switch config.Segment.Store {
	case "", "memory":
		return internal.NewMemoryBlobStore(), nil
	case "file":
		return internal.NewFileBlobStore(config.Segment.Prefix), nil
	case "s3":
		if err := internal.ValidateAWSConfig(config.AWS); err != nil {
			return nil, err
		}
		store, err := internal.NewS3BlobStore(ctx, config.AWS, config.Segment.Bucket, config.Segment.Prefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown segment store %q", config.Segment.Store)
	}
}

// NewSegmentLoaderWithConfig creates a loader over store. When DuckDB is
// enabled the returned client backs query columns and must be closed by the caller.
func NewSegmentLoaderWithConfig(config *strata.Config, store internal.BlobStore) (*internal.SegmentLoader, *internal.DuckDBClient, error) {
	var duck *internal.DuckDBClient
	if config.DuckDB.Enabled {
		client, err := internal.NewDuckDBClient(config.DuckDB)
		if err != nil {
			return nil, nil, fmt.Errorf("open duckdb: %w", err)
		}
		duck = client
	}
	loader := internal.NewSegmentLoader(store, duck, config.Segment.ManifestName, config.Column.BuildBitmapIndexes)
	return loader, duck, nil
}

// RegisterPrometheusTelemetry installs a Prometheus-backed telemetry emitter
// when metrics are enabled. reg defaults to prometheus.DefaultRegisterer.
func RegisterPrometheusTelemetry(config *strata.Config, reg prometheus.Registerer) (*internal.PrometheusEmitter, error) {
	if !config.Metrics.Enabled || config.Metrics.Provider != "prometheus" {
		return nil, nil
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(config.Metrics.Labels) > 0 {
		reg = prometheus.WrapRegistererWith(prometheus.Labels(config.Metrics.Labels), reg)
	}
	emitter, err := internal.NewPrometheusEmitter(reg, config.Metrics.Namespace)
	if err != nil {
		return nil, err
	}
	internal.RegisterTelemetryEmitter(emitter.Emit)
	return emitter, nil
}
