package internal

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

// ValidateRegistryConfig performs basic sanity checks on the Postgres registry settings.
func ValidateRegistryConfig(cfg strata.RegistryConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("registry.host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("registry.port must be a valid TCP port")
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("registry.maxConnections must be greater than 0")
	}
	return nil
}

// RegistryDSN renders a postgres:// URL for cfg with the given password.
func RegistryDSN(cfg strata.RegistryConfig, password string) string {
	var user *url.Userinfo
	if password != "" {
		user = url.UserPassword(cfg.Username, password)
	} else {
		user = url.User(cfg.Username)
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   user,
		Host:   cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:   "/" + cfg.Database,
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// NewRegistryPool opens the registry connection pool. With UseIAM each new
// connection authenticates with a freshly generated DSQL token.
func NewRegistryPool(ctx context.Context, cfg strata.RegistryConfig, awsCfg strata.AWSConfig) (*pgxpool.Pool, error) {
	if err := ValidateRegistryConfig(cfg); err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(RegistryDSN(cfg, cfg.Password))
	if err != nil {
		return nil, fmt.Errorf("parse registry dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConnections)
	poolCfg.ConnConfig.ConnectTimeout = cfg.Timeout

	if cfg.UseIAM {
		sdkCfg, err := LoadAWSConfig(ctx, awsCfg)
		if err != nil {
			return nil, err
		}
		endpoint := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		poolCfg.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
			token, err := auth.GenerateDbConnectAuthToken(ctx, endpoint, sdkCfg.Region, sdkCfg.Credentials)
			if err != nil {
				return fmt.Errorf("generate registry auth token: %w", err)
			}
			cc.Password = token
			return nil
		}
		zap.S().Infow("registry pool uses IAM authentication", "endpoint", endpoint)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create registry pool: %w", err)
	}
	return pool, nil
}

// PostgresHealthCheck attempts to connect and ping a Postgres instance using a DSN.
// timeout may be 0 to use a sensible default (5s).
func PostgresHealthCheck(ctx context.Context, dsn string, timeout time.Duration) error {
	if dsn == "" {
		return fmt.Errorf("empty dsn")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("postgres simple query failed: %w", err)
	}
	return nil
}
