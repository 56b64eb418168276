package e2e_harness

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
)

// FleetWorker is one seeded worker row plus the tasks it is running.
type FleetWorker struct {
	Worker        strata.Worker
	State         strata.WorkerState
	Tasks         []string
	LastCompleted time.Time
}

// CreateRegistrySchema creates the registry tables.
func CreateRegistrySchema(ctx context.Context, db *sql.DB, tables internal.WorkerTables) error {
	for _, stmt := range tables.Schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create registry schema: %w", err)
		}
	}
	return nil
}

// SeedWorkers inserts the given workers and their running tasks in one transaction.
func SeedWorkers(ctx context.Context, db *sql.DB, tables internal.WorkerTables, fleet []FleetWorker) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	insertWorker := fmt.Sprintf(
		`INSERT INTO %s (host, ip, capacity, version, state, last_completed_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		tables.Workers,
	)
	insertTask := fmt.Sprintf(`INSERT INTO %s (host, task_id) VALUES ($1, $2)`, tables.Tasks)

	for _, fw := range fleet {
		state := fw.State
		if state == "" {
			state = strata.WorkerStateIdle
		}
		completed := fw.LastCompleted
		if completed.IsZero() {
			completed = time.Now().UTC()
		}
		w := fw.Worker
		if _, err := tx.ExecContext(ctx, insertWorker, w.Host, w.IP, w.Capacity, w.Version, string(state), completed); err != nil {
			return fmt.Errorf("insert worker %s: %w", w.Host, err)
		}
		for _, task := range fw.Tasks {
			if _, err := tx.ExecContext(ctx, insertTask, w.Host, task); err != nil {
				return fmt.Errorf("insert task %s/%s: %w", w.Host, task, err)
			}
		}
	}
	return tx.Commit()
}

// S3Config returns the AWS settings that reach the harness S3 container.
func S3Config(endpoint string) strata.AWSConfig {
	return strata.AWSConfig{
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     S3AccessKey,
		SecretAccessKey: S3SecretKey,
		UsePathStyle:    true,
	}
}

// WriteSampleSegment writes a small segment with one column per value type
// below dir and returns its manifest.
func WriteSampleSegment(ctx context.Context, loader *internal.SegmentLoader, dir string) (*internal.SegmentManifest, error) {
	m := &internal.SegmentManifest{
		SegmentID: "e2e-segment",
		RowCount:  4,
		Columns: []internal.ManifestColumn{
			{Name: "clicks", Type: "long", Blob: "clicks.bin", Nulls: []uint32{2}},
			{Name: "price", Type: "float", Blob: "price.bin"},
			{Name: "country", Type: "string", Blob: "country.json"},
			{Name: "payload", Type: "complex", Blob: "payload.json", TypeName: "event"},
		},
	}
	data := map[string]any{
		"clicks":  []int64{5, 7, 0, 11},
		"price":   []float64{0.5, 1.25, 2, 4},
		"country": []string{"us", "fr", "us", "jp"},
		"payload": []any{map[string]any{"id": "a"}, nil, []any{"x"}, "raw"},
	}
	if err := loader.Write(ctx, dir, m, data, true); err != nil {
		return nil, err
	}
	return m, nil
}
