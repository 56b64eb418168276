package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
)

type initDBOptions struct {
	registry strata.RegistryConfig
	aws      strata.AWSConfig
}

func runInitDB(args []string) error {
	flags := flag.NewFlagSet("init-db", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: strata-tools init-db [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	defaults := strata.DefaultConfig()
	opts := initDBOptions{registry: defaults.Registry, aws: defaults.AWS}
	flags.StringVar(&opts.registry.Host, "db-host", getenvDefault("DB_HOST", "localhost"), "database host")
	flags.IntVar(&opts.registry.Port, "db-port", getenvDefaultInt("DB_PORT", 5432), "database port")
	flags.StringVar(&opts.registry.Database, "db-name", getenvDefault("DB_NAME", "strata"), "database name")
	flags.StringVar(&opts.registry.Username, "db-user", getenvDefault("DB_USER", "postgres"), "database user")
	flags.StringVar(&opts.registry.Password, "db-password", getenvDefault("DB_PASSWORD", "postgres"), "database password")
	flags.StringVar(&opts.registry.SSLMode, "db-ssl-mode", getenvDefault("DB_SSL_MODE", "disable"), "database sslmode")
	flags.BoolVar(&opts.registry.UseIAM, "db-use-iam", false, "authenticate with an IAM token instead of a password")
	flags.StringVar(&opts.aws.Region, "aws-region", getenvDefault("AWS_REGION", opts.aws.Region), "AWS region used for IAM tokens")
	flags.StringVar(&opts.registry.WorkersTable, "workers-table", getenvDefault("WORKERS_TABLE", "workers"), "workers table name")
	flags.StringVar(&opts.registry.TasksTable, "tasks-table", getenvDefault("WORKER_TASKS_TABLE", "worker_tasks"), "running tasks table name")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	return initDatabase(opts)
}

func initDatabase(opts initDBOptions) error {
	ctx := context.Background()

	pool, err := internal.NewRegistryPool(ctx, opts.registry, opts.aws)
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tables := internal.WorkerTables{Workers: opts.registry.WorkersTable, Tasks: opts.registry.TasksTable}
	if err := withTx(ctx, conn, func(tx pgx.Tx) error {
		for _, stmt := range tables.Schema() {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("ensure registry schema: %w", err)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	fmt.Printf("Created worker registry tables: %s, %s\n", tables.Workers, tables.Tasks)
	fmt.Println("Database initialized successfully.")
	return nil
}

func withTx(ctx context.Context, conn *pgxpool.Conn, fn func(pgx.Tx) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w; rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvDefaultInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}
