package strata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Scaling.WorkerPort)
	assert.Equal(t, 1, cfg.Scaling.MinNumInstancesToProvision)
	assert.Equal(t, 1, cfg.Scaling.MaxNumInstancesToProvision)
	assert.Equal(t, CountPolicyMin, cfg.Scaling.CountPolicy)
	assert.Equal(t, FilterPrivateIPAddress, cfg.Scaling.TerminateFilter)
	assert.Equal(t, 10*time.Minute, cfg.Scaling.IdleTimeout)
	assert.Equal(t, "memory", cfg.Segment.Store)
	assert.Equal(t, "memory", cfg.Registry.Backend)
	assert.Equal(t, "strata", cfg.Metrics.Namespace)
}

func TestScalingConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ScalingConfig)
		field  string
	}{
		{name: "empty port", mutate: func(c *ScalingConfig) { c.WorkerPort = "" }, field: "scaling.workerPort"},
		{name: "negative min", mutate: func(c *ScalingConfig) { c.MinNumInstancesToProvision = -1 }, field: "scaling.minNumInstancesToProvision"},
		{name: "max below min", mutate: func(c *ScalingConfig) { c.MinNumInstancesToProvision = 3; c.MaxNumInstancesToProvision = 2 }, field: "scaling.maxNumInstancesToProvision"},
		{name: "negative fleet ceiling", mutate: func(c *ScalingConfig) { c.MaxWorkers = -1 }, field: "scaling.maxWorkers"},
		{name: "threshold above one", mutate: func(c *ScalingConfig) { c.SaturationThreshold = 1.5 }, field: "scaling.saturationThreshold"},
		{name: "unknown policy", mutate: func(c *ScalingConfig) { c.CountPolicy = "double" }, field: "scaling.countPolicy"},
		{name: "unknown filter", mutate: func(c *ScalingConfig) { c.TerminateFilter = "vpc-id" }, field: "scaling.terminateFilter"},
		{name: "bare tag filter", mutate: func(c *ScalingConfig) { c.TerminateFilter = "tag:" }, field: "scaling.terminateFilter"},
		{name: "negative idle timeout", mutate: func(c *ScalingConfig) { c.IdleTimeout = -time.Second }, field: "scaling.idleTimeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig().Scaling
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestScalingConfigAcceptsTagFilter(t *testing.T) {
	cfg := DefaultConfig().Scaling
	cfg.TerminateFilter = "tag:Name"
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidateBackends(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Segment.Store = "s3"
	assert.Error(t, cfg.Validate())
	cfg.Segment.Bucket = "segments"
	assert.NoError(t, cfg.Validate())

	cfg.Segment.Store = "gcs"
	assert.Error(t, cfg.Validate())

	cfg.Segment.Store = "file"
	cfg.Segment.Prefix = ""
	assert.Error(t, cfg.Validate())
	cfg.Segment.Prefix = "/var/lib/strata/segments"
	assert.NoError(t, cfg.Validate())
	cfg.Segment.Store = "memory"

	cfg.Registry.Backend = "postgres"
	assert.NoError(t, cfg.Validate())
	cfg.Registry.MaxConnections = 0
	assert.Error(t, cfg.Validate())
	cfg.Registry.MaxConnections = 5
	cfg.Registry.TasksTable = ""
	assert.Error(t, cfg.Validate())

	cfg.Registry.Backend = "etcd"
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateDuckDB(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DuckDB.Enabled = true
	cfg.DuckDB.Threads = 0
	assert.Error(t, cfg.Validate())
}
