package strata

import (
	"strings"
	"time"
)

// Count policies for Provision.
const (
	CountPolicyMin        = "min"
	CountPolicySaturation = "saturation"
)

// Terminate filters understood by the EC2 strategy.
const (
	FilterPrivateIPAddress = "private-ip-address"
	FilterPrivateDNSName   = "private-dns-name"
	FilterInstanceID       = "instance-id"
)

// Config consolidates settings for the column layer and the scaler
type Config struct {
	Scaling  ScalingConfig  `json:"scaling"`
	Column   ColumnConfig   `json:"column"`
	Segment  SegmentConfig  `json:"segment"`
	Registry RegistryConfig `json:"registry"`
	AWS      AWSConfig      `json:"aws"`
	DuckDB   DuckDBConfig   `json:"duckdb"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// ScalingConfig controls how the fleet grows and shrinks
type ScalingConfig struct {
	AmiID                      string            `json:"amiId"`
	WorkerPort                 string            `json:"workerPort"`
	InstanceType               string            `json:"instanceType"`
	MinNumInstancesToProvision int               `json:"minNumInstancesToProvision"`
	MaxNumInstancesToProvision int               `json:"maxNumInstancesToProvision"`
	MaxWorkers                 int               `json:"maxWorkers"`          // 0 means unbounded
	SaturationThreshold        float64           `json:"saturationThreshold"` // 0 disables the mean-saturation trigger
	CountPolicy                string            `json:"countPolicy"`
	IdleTimeout                time.Duration     `json:"idleTimeout"`
	TerminateFilter            string            `json:"terminateFilter"`
	SubnetID                   string            `json:"subnetId,omitempty"`
	SecurityGroupIDs           []string          `json:"securityGroupIds,omitempty"`
	KeyName                    string            `json:"keyName,omitempty"`
	UserData                   string            `json:"userData,omitempty"`
	Tags                       map[string]string `json:"tags,omitempty"`
	TickInterval               time.Duration     `json:"tickInterval"`
	ProviderTimeout            time.Duration     `json:"providerTimeout"`
	BreakerFailureThreshold    int               `json:"breakerFailureThreshold"`
	BreakerWindow              time.Duration     `json:"breakerWindow"`
	BreakerCooldown            time.Duration     `json:"breakerCooldown"`
}

// ColumnConfig contains column construction settings
type ColumnConfig struct {
	BuildBitmapIndexes bool `json:"buildBitmapIndexes"`
	CompressionEnabled bool `json:"compressionEnabled"`
	PreviewRows        int  `json:"previewRows"`
}

// SegmentConfig tells the loader where segment manifests and blobs live
type SegmentConfig struct {
	Store           string        `json:"store"` // s3, file or memory
	Bucket          string        `json:"bucket"`
	Prefix          string        `json:"prefix"` // root directory for the file store
	ManifestName    string        `json:"manifestName"`
	LoadTimeout     time.Duration `json:"loadTimeout"`
	EvictionTimeout time.Duration `json:"evictionTimeout"`
}

// RegistryConfig contains worker registry connection settings
type RegistryConfig struct {
	Backend         string        `json:"backend"` // memory or postgres
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"sslMode"`
	UseIAM          bool          `json:"useIam"`
	MaxConnections  int           `json:"maxConnections"`
	Timeout         time.Duration `json:"timeout"`
	WorkersTable    string        `json:"workersTable"`
	TasksTable      string        `json:"tasksTable"`
	SnapshotTimeout time.Duration `json:"snapshotTimeout"`
}

// AWSConfig contains credentials and endpoints for the AWS clients
type AWSConfig struct {
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint,omitempty"`
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	UsePathStyle    bool   `json:"usePathStyle"`
}

// DuckDBConfig contains settings for the embedded DuckDB engine
type DuckDBConfig struct {
	Enabled      bool          `json:"enabled"`
	DBPath       string        `json:"dbPath"`
	MemoryLimit  string        `json:"memoryLimit"`
	Threads      int           `json:"threads"`
	Extensions   []string      `json:"extensions,omitempty"`
	QueryTimeout time.Duration `json:"queryTimeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// MetricsConfig contains metrics collection settings
type MetricsConfig struct {
	Enabled   bool              `json:"enabled"`
	Provider  string            `json:"provider"` // prometheus or noop
	Endpoint  string            `json:"endpoint"`
	Namespace string            `json:"namespace"`
	Labels    map[string]string `json:"labels"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Scaling: ScalingConfig{
			WorkerPort:                 "8080",
			InstanceType:               "m5.large",
			MinNumInstancesToProvision: 1,
			MaxNumInstancesToProvision: 1,
			CountPolicy:                CountPolicyMin,
			IdleTimeout:                10 * time.Minute,
			TerminateFilter:            FilterPrivateIPAddress,
			TickInterval:               1 * time.Minute,
			ProviderTimeout:            30 * time.Second,
			BreakerFailureThreshold:    3,
			BreakerWindow:              5 * time.Minute,
			BreakerCooldown:            2 * time.Minute,
		},
		Column: ColumnConfig{
			BuildBitmapIndexes: true,
			CompressionEnabled: true,
			PreviewRows:        5,
		},
		Segment: SegmentConfig{
			Store:           "memory",
			ManifestName:    "manifest.json",
			LoadTimeout:     30 * time.Second,
			EvictionTimeout: 1 * time.Minute,
		},
		Registry: RegistryConfig{
			Backend:         "memory",
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxConnections:  5,
			Timeout:         30 * time.Second,
			WorkersTable:    "workers",
			TasksTable:      "worker_tasks",
			SnapshotTimeout: 10 * time.Second,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		DuckDB: DuckDBConfig{
			Enabled:      false,
			MemoryLimit:  "1GB",
			Threads:      2,
			QueryTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Provider:  "prometheus",
			Endpoint:  ":9090",
			Namespace: "strata",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Scaling.Validate(); err != nil {
		return err
	}

	switch c.Segment.Store {
	case "memory":
	case "s3":
		if c.Segment.Bucket == "" {
			return &ConfigError{Field: "segment.bucket", Message: "is required when store is s3"}
		}
	case "file":
		if c.Segment.Prefix == "" {
			return &ConfigError{Field: "segment.prefix", Message: "is required when store is file"}
		}
	default:
		return &ConfigError{Field: "segment.store", Message: "must be one of memory, file, s3"}
	}

	switch c.Registry.Backend {
	case "memory":
	case "postgres":
		if c.Registry.Host == "" {
			return &ConfigError{Field: "registry.host", Message: "is required when backend is postgres"}
		}
		if c.Registry.MaxConnections <= 0 {
			return &ConfigError{Field: "registry.maxConnections", Message: "must be greater than 0"}
		}
		if c.Registry.WorkersTable == "" || c.Registry.TasksTable == "" {
			return &ConfigError{Field: "registry.workersTable", Message: "table names must not be empty"}
		}
	default:
		return &ConfigError{Field: "registry.backend", Message: "must be one of memory, postgres"}
	}

	if c.DuckDB.Enabled && c.DuckDB.Threads <= 0 {
		return &ConfigError{Field: "duckdb.threads", Message: "must be greater than 0"}
	}

	return nil
}

// Validate checks the scaling section on its own. The scaler binaries call it
// without a full Config.
func (s *ScalingConfig) Validate() error {
	if s.WorkerPort == "" {
		return &ConfigError{Field: "scaling.workerPort", Message: "must not be empty"}
	}
	if s.MinNumInstancesToProvision < 0 {
		return &ConfigError{Field: "scaling.minNumInstancesToProvision", Message: "must not be negative"}
	}
	if s.MaxNumInstancesToProvision < s.MinNumInstancesToProvision {
		return &ConfigError{Field: "scaling.maxNumInstancesToProvision", Message: "must be greater than or equal to minNumInstancesToProvision"}
	}
	if s.MaxWorkers < 0 {
		return &ConfigError{Field: "scaling.maxWorkers", Message: "must not be negative"}
	}
	if s.SaturationThreshold < 0 || s.SaturationThreshold > 1 {
		return &ConfigError{Field: "scaling.saturationThreshold", Message: "must be within [0, 1]"}
	}
	switch s.CountPolicy {
	case "", CountPolicyMin, CountPolicySaturation:
	default:
		return &ConfigError{Field: "scaling.countPolicy", Message: "must be one of min, saturation"}
	}
	switch {
	case s.TerminateFilter == "",
		s.TerminateFilter == FilterPrivateIPAddress,
		s.TerminateFilter == FilterPrivateDNSName,
		s.TerminateFilter == FilterInstanceID,
		strings.HasPrefix(s.TerminateFilter, "tag:") && len(s.TerminateFilter) > len("tag:"):
	default:
		return &ConfigError{Field: "scaling.terminateFilter", Message: "unsupported filter " + s.TerminateFilter}
	}
	if s.IdleTimeout < 0 {
		return &ConfigError{Field: "scaling.idleTimeout", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
