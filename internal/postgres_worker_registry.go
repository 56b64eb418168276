package internal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

type workerRegistryPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// WorkerTables names the registry tables.
type WorkerTables struct {
	Workers string
	Tasks   string
}

// Schema returns the statements that create the registry tables and indexes.
func (t WorkerTables) Schema() []string {
	workers := sanitizeIdentifier(t.Workers)
	tasks := sanitizeIdentifier(t.Tasks)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		host              TEXT PRIMARY KEY,
		ip                TEXT NOT NULL,
		capacity          INTEGER NOT NULL CHECK (capacity >= 0),
		version           TEXT NOT NULL DEFAULT '',
		state             TEXT NOT NULL DEFAULT 'IDLE',
		last_completed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, workers),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		host        TEXT NOT NULL REFERENCES %s (host) ON DELETE CASCADE,
		task_id     TEXT NOT NULL,
		assigned_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (host, task_id)
	)`, tasks, workers),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (state)`,
			sanitizeIdentifier(indexName(t.Workers, "state")), workers),
	}
}

func indexName(table, suffix string) string {
	base := strings.ReplaceAll(table, ".", "_")
	base = strings.ReplaceAll(base, `"`, "")
	return base + "_" + suffix + "_idx"
}

// PostgresWorkerRegistry reads worker descriptors from Postgres. Each snapshot
// runs in one read-only repeatable-read transaction so the worker rows and
// their running tasks are mutually consistent.
type PostgresWorkerRegistry struct {
	pool            workerRegistryPool
	tables          WorkerTables
	snapshotTimeout time.Duration
}

func NewPostgresWorkerRegistry(pool workerRegistryPool, tables WorkerTables, snapshotTimeout time.Duration) (*PostgresWorkerRegistry, error) {
	if tables.Workers == "" {
		return nil, fmt.Errorf("workers table name cannot be empty")
	}
	if tables.Tasks == "" {
		return nil, fmt.Errorf("worker tasks table name cannot be empty")
	}
	return &PostgresWorkerRegistry{
		pool:            pool,
		tables:          tables,
		snapshotTimeout: snapshotTimeout,
	}, nil
}

// Workers returns one snapshot per worker, ordered by host.
func (r *PostgresWorkerRegistry) Workers(ctx context.Context) ([]strata.WorkerSnapshot, error) {
	if r.snapshotTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.snapshotTimeout)
		defer cancel()
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, snapshotError("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	workerQuery := fmt.Sprintf(
		`SELECT host, ip, capacity, version, state, last_completed_at FROM %s ORDER BY host`,
		sanitizeIdentifier(r.tables.Workers),
	)
	rows, err := tx.Query(ctx, workerQuery)
	if err != nil {
		return nil, snapshotError("query workers", err)
	}

	var snapshots []strata.WorkerSnapshot
	index := make(map[string]int)
	for rows.Next() {
		var (
			w         strata.Worker
			state     string
			completed time.Time
		)
		if err := rows.Scan(&w.Host, &w.IP, &w.Capacity, &w.Version, &state, &completed); err != nil {
			rows.Close()
			return nil, snapshotError("scan worker", err)
		}
		index[w.Host] = len(snapshots)
		snapshots = append(snapshots, strata.WorkerSnapshot{
			Descriptor:    w,
			Tasks:         []string{},
			LastCompleted: completed,
			Status:        strata.WorkerState(state),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, snapshotError("iterate workers", err)
	}

	taskQuery := fmt.Sprintf(
		`SELECT host, task_id FROM %s ORDER BY host, task_id`,
		sanitizeIdentifier(r.tables.Tasks),
	)
	taskRows, err := tx.Query(ctx, taskQuery)
	if err != nil {
		return nil, snapshotError("query worker tasks", err)
	}
	for taskRows.Next() {
		var host, taskID string
		if err := taskRows.Scan(&host, &taskID); err != nil {
			taskRows.Close()
			return nil, snapshotError("scan worker task", err)
		}
		i, ok := index[host]
		if !ok {
			zap.S().Debugw("task row for unknown worker", "host", host, "task_id", taskID)
			continue
		}
		snapshots[i].Tasks = append(snapshots[i].Tasks, taskID)
	}
	taskRows.Close()
	if err := taskRows.Err(); err != nil {
		return nil, snapshotError("iterate worker tasks", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, snapshotError("commit", err)
	}
	committed = true

	for _, s := range snapshots {
		if len(s.Tasks) > s.Descriptor.Capacity {
			zap.S().Warnw("worker reports more running tasks than capacity",
				"host", s.Descriptor.Host, "tasks", len(s.Tasks), "capacity", s.Descriptor.Capacity)
		}
	}
	return snapshots, nil
}

// Register upserts a worker row in the IDLE state.
func (r *PostgresWorkerRegistry) Register(ctx context.Context, w strata.Worker, now time.Time) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (host, ip, capacity, version, state, last_completed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (host)
			DO UPDATE SET ip = EXCLUDED.ip, capacity = EXCLUDED.capacity, version = EXCLUDED.version`,
		sanitizeIdentifier(r.tables.Workers),
	)
	if _, err := r.pool.Exec(ctx, query, w.Host, w.IP, w.Capacity, w.Version, string(strata.WorkerStateIdle), now); err != nil {
		return fmt.Errorf("register worker %s: %w", w.Host, err)
	}
	return nil
}

// MarkDrainCandidates flags idle workers the scaler is about to drain.
func (r *PostgresWorkerRegistry) MarkDrainCandidates(ctx context.Context, hosts []string) error {
	if len(hosts) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		`UPDATE %s SET state = $1 WHERE host = ANY($2) AND state = $3`,
		sanitizeIdentifier(r.tables.Workers),
	)
	if _, err := r.pool.Exec(ctx, query, string(strata.WorkerStateDrainCandidate), hosts, string(strata.WorkerStateIdle)); err != nil {
		return fmt.Errorf("mark drain candidates: %w", err)
	}
	return nil
}

// MarkTerminated records the scaler's terminate decision for hosts.
func (r *PostgresWorkerRegistry) MarkTerminated(ctx context.Context, hosts []string) error {
	if len(hosts) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		`UPDATE %s SET state = $1 WHERE host = ANY($2)`,
		sanitizeIdentifier(r.tables.Workers),
	)
	if _, err := r.pool.Exec(ctx, query, string(strata.WorkerStateTerminated), hosts); err != nil {
		return fmt.Errorf("mark workers terminated: %w", err)
	}
	return nil
}

func snapshotError(step string, err error) *strata.StrataError {
	return strata.NewStrataError(strata.ErrorTypeNotAvailable, strata.ErrCodeRegistrySnapshot,
		"worker registry snapshot failed: "+step).WithCause(err)
}
