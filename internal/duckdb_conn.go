package internal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

// DuckDBClient wraps a database/sql DB opened with the DuckDB driver.
type DuckDBClient struct {
	DB  *sql.DB
	cfg strata.DuckDBConfig
}

// ValidateDuckDBConfig performs basic sanity checks on user-provided DuckDB configuration.
func ValidateDuckDBConfig(cfg strata.DuckDBConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Threads < 0 {
		return fmt.Errorf("invalid threads: must be >= 0")
	}
	if cfg.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be > 0")
	}
	return nil
}

// NewDuckDBClient creates and configures a DuckDB client according to the provided config.
func NewDuckDBClient(cfg strata.DuckDBConfig) (*DuckDBClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("duckdb disabled in config")
	}
	if err := ValidateDuckDBConfig(cfg); err != nil {
		return nil, err
	}

	dsn := cfg.DBPath
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	for _, ext := range cfg.Extensions {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("INSTALL %s;", ext)); err != nil {
			zap.S().Warnw("duckdb: install extension failed", "extension", ext, "err", err)
			continue
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("LOAD %s;", ext)); err != nil {
			zap.S().Warnw("duckdb: load extension failed", "extension", ext, "err", err)
		}
	}

	if cfg.MemoryLimit != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA memory_limit='%s';", cfg.MemoryLimit)); err != nil {
			zap.S().Warnw("duckdb: set memory_limit failed", "err", err, "memoryLimit", cfg.MemoryLimit)
		}
	}
	if cfg.Threads > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA threads=%d;", cfg.Threads)); err != nil {
			zap.S().Warnw("duckdb: set threads failed", "err", err, "threads", cfg.Threads)
		}
	}

	return &DuckDBClient{DB: db, cfg: cfg}, nil
}

// Close closes the underlying DuckDB DB.
func (c *DuckDBClient) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// HealthCheck performs a simple query to validate the DuckDB connection.
func (c *DuckDBClient) HealthCheck(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return fmt.Errorf("duckdb client not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var v int
	if err := c.DB.QueryRowContext(ctx, "SELECT 1;").Scan(&v); err != nil {
		return fmt.Errorf("duckdb health query failed: %w", err)
	}
	if v != 1 {
		return fmt.Errorf("unexpected duckdb health result: %d", v)
	}

	if c.cfg.Threads > 0 {
		var threads int
		if err := c.DB.QueryRowContext(ctx, "SELECT current_setting('threads');").Scan(&threads); err != nil {
			zap.S().Warnw("duckdb: threads setting query failed (non-fatal)", "err", err)
		} else if threads <= 0 {
			zap.S().Warnw("duckdb: threads setting invalid (non-fatal)", "threads", threads)
		}
	}
	return nil
}

// LongsQuery returns a supplier that runs query on each call and materializes
// its first result column into an Arrow buffer. SQL NULLs become null slots.
func (c *DuckDBClient) LongsQuery(query string, args ...any) strata.LongsSupplier {
	return func() (strata.IndexedLongs, error) {
		values, valid, err := c.scanColumn(query, args, func(rows *sql.Rows) (any, bool, error) {
			var v sql.NullInt64
			err := rows.Scan(&v)
			return v.Int64, v.Valid, err
		})
		if err != nil {
			logSupplierFailure("duckdb", err)
			return nil, strata.NewNotAvailableError("duckdb long buffer").WithCause(err)
		}
		longs := make([]int64, len(values))
		for i, v := range values {
			longs[i] = v.(int64)
		}
		return BuildArrowLongs(memory.DefaultAllocator, longs, valid), nil
	}
}

// FloatsQuery is the float counterpart of LongsQuery.
func (c *DuckDBClient) FloatsQuery(query string, args ...any) strata.FloatsSupplier {
	return func() (strata.IndexedFloats, error) {
		values, valid, err := c.scanColumn(query, args, func(rows *sql.Rows) (any, bool, error) {
			var v sql.NullFloat64
			err := rows.Scan(&v)
			return v.Float64, v.Valid, err
		})
		if err != nil {
			logSupplierFailure("duckdb", err)
			return nil, strata.NewNotAvailableError("duckdb float buffer").WithCause(err)
		}
		floats := make([]float64, len(values))
		for i, v := range values {
			floats[i] = v.(float64)
		}
		return BuildArrowFloats(memory.DefaultAllocator, floats, valid), nil
	}
}

func (c *DuckDBClient) scanColumn(query string, args []any, scan func(*sql.Rows) (any, bool, error)) ([]any, []bool, error) {
	if c == nil || c.DB == nil {
		return nil, nil, fmt.Errorf("duckdb client not initialized")
	}
	timeout := c.cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rows, err := c.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("duckdb query: %w", err)
	}
	defer rows.Close()

	var values []any
	var valid []bool
	for rows.Next() {
		v, ok, err := scan(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("duckdb scan: %w", err)
		}
		values = append(values, v)
		valid = append(valid, ok)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("duckdb rows: %w", err)
	}
	return values, valid, nil
}
