package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/factory"
	"github.com/lychee-technology/strata/internal"
)

// segmentSource holds the flags shared by the segment commands.
type segmentSource struct {
	store     string
	root      string
	bucket    string
	prefix    string
	manifest  string
	region    string
	endpoint  string
	pathStyle bool
	duckdb    bool
	dir       string
}

func (s *segmentSource) register(flags *flag.FlagSet) {
	flags.StringVar(&s.store, "store", getenvDefault("SEGMENT_STORE", "file"), "segment store: file or s3")
	flags.StringVar(&s.root, "root", getenvDefault("SEGMENT_ROOT", "."), "root directory of the file store")
	flags.StringVar(&s.bucket, "bucket", getenvDefault("SEGMENT_BUCKET", ""), "S3 bucket of the s3 store")
	flags.StringVar(&s.prefix, "prefix", getenvDefault("SEGMENT_PREFIX", ""), "key prefix of the s3 store")
	flags.StringVar(&s.manifest, "manifest", "manifest.json", "manifest file name")
	flags.StringVar(&s.region, "aws-region", getenvDefault("AWS_REGION", "us-east-1"), "AWS region")
	flags.StringVar(&s.endpoint, "aws-endpoint", getenvDefault("AWS_ENDPOINT_URL", ""), "custom S3 endpoint")
	flags.BoolVar(&s.pathStyle, "path-style", false, "use path-style S3 addressing")
	flags.BoolVar(&s.duckdb, "duckdb", false, "enable DuckDB for query-backed columns")
	flags.StringVar(&s.dir, "dir", "", "segment directory below the store root (required)")
}

func (s *segmentSource) config() *strata.Config {
	config := strata.DefaultConfig()
	config.Segment.Store = s.store
	config.Segment.ManifestName = s.manifest
	config.Segment.Bucket = s.bucket
	config.Segment.Prefix = s.prefix
	if s.store == "file" {
		config.Segment.Prefix = s.root
	}
	config.AWS.Region = s.region
	config.AWS.Endpoint = s.endpoint
	config.AWS.UsePathStyle = s.pathStyle
	config.DuckDB.Enabled = s.duckdb
	return config
}

// open returns a loader over the configured store and a func releasing its resources.
func (s *segmentSource) open(ctx context.Context) (*internal.SegmentLoader, *strata.Config, func(), error) {
	if s.dir == "" {
		return nil, nil, nil, fmt.Errorf("-dir is required")
	}
	config := s.config()
	if err := config.Validate(); err != nil {
		return nil, nil, nil, err
	}

	store, err := factory.NewBlobStoreWithConfig(ctx, config)
	if err != nil {
		return nil, nil, nil, err
	}
	loader, duck, err := factory.NewSegmentLoaderWithConfig(config, store)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() {
		if duck != nil {
			_ = duck.Close()
		}
	}
	return loader, config, closeFn, nil
}
