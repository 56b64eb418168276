package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
	"go.uber.org/zap"
)

type options struct {
	registry     strata.RegistryConfig
	purge        bool
	workerCount  int
	maxCapacity  int
	fillRatio    float64
	chunkSize    int
	snapshots    int
	countPolicy  string
	maxPerLaunch int
	seed         int64
	seedProvided bool
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(fmt.Errorf("failed to set up logger: %w", err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	opts := parseFlags()
	ctx := context.Background()

	pool, err := internal.NewRegistryPool(ctx, opts.registry, strata.DefaultConfig().AWS)
	if err != nil {
		sugar.Fatalf("failed to create connection pool: %v", err)
	}
	defer pool.Close()

	tables := internal.WorkerTables{Workers: opts.registry.WorkersTable, Tasks: opts.registry.TasksTable}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		sugar.Fatalf("failed to acquire connection: %v", err)
	}
	if err := withTx(ctx, conn, func(tx pgx.Tx) error {
		for _, stmt := range tables.Schema() {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		if opts.purge {
			return purgeRegistry(ctx, tx, tables)
		}
		return nil
	}); err != nil {
		sugar.Fatalf("failed to prepare registry tables: %v", err)
	}

	if !opts.seedProvided {
		sugar.Infof("Using random seed %d", opts.seed)
	}
	random := rand.New(rand.NewSource(opts.seed))

	workers, tasks := buildFleet(opts, random)
	if err := copyInChunks(ctx, conn, tables.Workers, []string{"host", "ip", "capacity", "version", "state", "last_completed_at"}, workers, opts.chunkSize); err != nil {
		sugar.Fatalf("failed to insert workers: %v", err)
	}
	if err := copyInChunks(ctx, conn, tables.Tasks, []string{"host", "task_id"}, tasks, opts.chunkSize); err != nil {
		sugar.Fatalf("failed to insert worker tasks: %v", err)
	}
	conn.Release()
	sugar.Infof("Seeded %d workers with %d running tasks", len(workers), len(tasks))

	registry, err := internal.NewPostgresWorkerRegistry(pool, tables, opts.registry.SnapshotTimeout)
	if err != nil {
		sugar.Fatalf("failed to create registry: %v", err)
	}

	durations := make([]time.Duration, 0, opts.snapshots)
	var last []strata.WorkerSnapshot
	for i := 0; i < opts.snapshots; i++ {
		start := time.Now()
		last, err = registry.Workers(ctx)
		if err != nil {
			sugar.Fatalf("snapshot %d failed: %v", i, err)
		}
		durations = append(durations, time.Since(start))
	}
	p50, p95, maxD := percentiles(durations)
	sugar.Infof("Snapshot latency over %d runs: p50=%v p95=%v max=%v", len(durations), p50, p95, maxD)

	atCapacity := 0
	saturation := 0.0
	for _, w := range last {
		if w.IsAtCapacity() {
			atCapacity++
		}
		saturation += w.Saturation()
	}
	if len(last) > 0 {
		saturation /= float64(len(last))
	}
	sugar.Infof("Fleet: %d workers, %d at capacity, mean saturation %.3f", len(last), atCapacity, saturation)

	cfg := strata.DefaultConfig().Scaling
	cfg.AmiID = "ami-benchmark"
	cfg.CountPolicy = opts.countPolicy
	cfg.MaxNumInstancesToProvision = opts.maxPerLaunch
	provider := &dryRunProvider{}
	strategy, err := internal.NewEC2AutoScalingStrategy(provider, registry, cfg)
	if err != nil {
		sugar.Fatalf("failed to create strategy: %v", err)
	}
	start := time.Now()
	result, err := strategy.Provision(ctx)
	if err != nil {
		sugar.Fatalf("dry-run provision failed: %v", err)
	}
	sugar.Infof("Dry-run provision (%s policy) would launch %d nodes, decided in %v", cfg.CountPolicy, result.Len(), time.Since(start))
}

// dryRunProvider answers launches with synthetic instances and never calls a cloud API.
type dryRunProvider struct {
	launched int
}

func (p *dryRunProvider) Launch(ctx context.Context, req strata.LaunchRequest) (*strata.Reservation, error) {
	res := &strata.Reservation{ReservationID: "r-dry-run"}
	for i := 0; i < req.MaxCount; i++ {
		p.launched++
		res.Instances = append(res.Instances, strata.Instance{
			InstanceID:       fmt.Sprintf("i-dry-%d", p.launched),
			ImageID:          req.ImageID,
			PrivateIPAddress: fmt.Sprintf("192.168.%d.%d", p.launched/250, p.launched%250+1),
			LaunchTime:       time.Now(),
		})
	}
	return res, nil
}

func (p *dryRunProvider) Describe(ctx context.Context, filter strata.InstanceFilter) ([]strata.Reservation, error) {
	return nil, nil
}

func (p *dryRunProvider) Terminate(ctx context.Context, instanceIDs []string) error {
	return nil
}

func parseFlags() options {
	var opts options
	opts.registry = strata.DefaultConfig().Registry

	flag.StringVar(&opts.registry.Host, "db-host", getenvDefault("DB_HOST", "localhost"), "database host")
	flag.IntVar(&opts.registry.Port, "db-port", getenvDefaultInt("DB_PORT", 5432), "database port")
	flag.StringVar(&opts.registry.Database, "db-name", getenvDefault("DB_NAME", "strata"), "database name")
	flag.StringVar(&opts.registry.Username, "db-user", getenvDefault("DB_USER", "postgres"), "database user")
	flag.StringVar(&opts.registry.Password, "db-password", getenvDefault("DB_PASSWORD", "postgres"), "database password")
	flag.StringVar(&opts.registry.SSLMode, "db-ssl-mode", getenvDefault("DB_SSL_MODE", "disable"), "database sslmode")
	flag.StringVar(&opts.registry.WorkersTable, "workers-table", getenvDefault("WORKERS_TABLE", "workers_bench"), "workers table")
	flag.StringVar(&opts.registry.TasksTable, "tasks-table", getenvDefault("WORKER_TASKS_TABLE", "worker_tasks_bench"), "running tasks table")
	flag.BoolVar(&opts.purge, "purge", false, "delete existing registry rows before seeding")
	flag.IntVar(&opts.workerCount, "workers", 1000, "number of workers to generate")
	flag.IntVar(&opts.maxCapacity, "max-capacity", 16, "largest worker capacity")
	flag.Float64Var(&opts.fillRatio, "fill", 0.6, "average fraction of capacity in use")
	flag.IntVar(&opts.chunkSize, "chunk-size", 1000, "number of rows to copy per batch")
	flag.IntVar(&opts.snapshots, "snapshots", 50, "number of timed registry snapshots")
	flag.StringVar(&opts.countPolicy, "count-policy", strata.CountPolicySaturation, "count policy for the dry-run provision")
	flag.IntVar(&opts.maxPerLaunch, "max-per-launch", 10, "maxNumInstancesToProvision for the dry-run provision")
	seed := flag.Int64("seed", 0, "random seed (0 uses current time)")

	flag.Parse()

	if *seed == 0 {
		opts.seed = time.Now().UnixNano()
		opts.seedProvided = false
	} else {
		opts.seed = *seed
		opts.seedProvided = true
	}

	if opts.chunkSize < 100 {
		opts.chunkSize = 100
	}
	if opts.snapshots < 1 {
		opts.snapshots = 1
	}

	if opts.workerCount < 0 || opts.maxCapacity < 1 {
		fmt.Fprintln(os.Stderr, "worker count must be non-negative and max capacity positive")
		os.Exit(1)
	}

	return opts
}

// buildFleet generates worker rows and their running task rows.
func buildFleet(opts options, r *rand.Rand) (workers [][]any, tasks [][]any) {
	now := time.Now().UTC()
	versions := []string{"v1.8.0", "v1.8.1", "v1.9.0"}

	for i := 0; i < opts.workerCount; i++ {
		ip := fmt.Sprintf("10.%d.%d.%d", i/65536%256, i/256%256, i%256)
		host := ip + ":8080"
		capacity := 1 + r.Intn(opts.maxCapacity)

		running := int(float64(capacity)*opts.fillRatio*2*r.Float64() + 0.5)
		running = min(running, capacity)

		state := strata.WorkerStateIdle
		if running > 0 {
			state = strata.WorkerStateBusy
		}
		lastCompleted := now.Add(-time.Duration(r.Intn(3600)) * time.Second)

		workers = append(workers, []any{host, ip, capacity, versions[r.Intn(len(versions))], string(state), lastCompleted})
		for j := 0; j < running; j++ {
			tasks = append(tasks, []any{host, uuid.NewString()})
		}
	}
	return workers, tasks
}

func copyInChunks(ctx context.Context, conn *pgxpool.Conn, table string, columns []string, rows [][]any, chunkSize int) error {
	if len(rows) == 0 {
		return nil
	}

	tableIdent := pgx.Identifier(splitIdentifier(table))

	for start := 0; start < len(rows); start += chunkSize {
		end := min(start+chunkSize, len(rows))

		if err := withTx(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.CopyFrom(ctx, tableIdent, columns, pgx.CopyFromRows(rows[start:end])); err != nil {
				return fmt.Errorf("copy into %s: %w", table, err)
			}
			zap.S().Debugw("copied rows", "table", table, "start", start, "end", end)
			return nil
		}); err != nil {
			return err
		}
	}

	return nil
}

func purgeRegistry(ctx context.Context, tx pgx.Tx, tables internal.WorkerTables) error {
	query := fmt.Sprintf(`TRUNCATE %s, %s`, quoteIdentifier(tables.Tasks), quoteIdentifier(tables.Workers))
	if _, err := tx.Exec(ctx, query); err != nil {
		return fmt.Errorf("purge registry: %w", err)
	}
	return nil
}

func percentiles(durations []time.Duration) (p50, p95, maxD time.Duration) {
	if len(durations) == 0 {
		return 0, 0, 0
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	at := func(q float64) time.Duration {
		idx := int(q*float64(len(sorted)-1) + 0.5)
		return sorted[idx]
	}
	return at(0.50), at(0.95), sorted[len(sorted)-1]
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

func quoteIdentifier(name string) string {
	return pgx.Identifier(splitIdentifier(name)).Sanitize()
}

func splitIdentifier(name string) []string {
	parts := strings.Split(name, ".")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return []string{name}
	}
	return result
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
