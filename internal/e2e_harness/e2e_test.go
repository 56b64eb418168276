package e2e_harness

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
)

type scriptedProvider struct {
	launches []strata.LaunchRequest
}

func (p *scriptedProvider) Launch(ctx context.Context, req strata.LaunchRequest) (*strata.Reservation, error) {
	p.launches = append(p.launches, req)
	return &strata.Reservation{
		ReservationID: "r-e2e",
		Instances: []strata.Instance{
			{InstanceID: "i-e2e", ImageID: req.ImageID, PrivateIPAddress: "10.1.0.7", LaunchTime: time.Now()},
		},
	}, nil
}

func (p *scriptedProvider) Describe(ctx context.Context, filter strata.InstanceFilter) ([]strata.Reservation, error) {
	return nil, nil
}

func (p *scriptedProvider) Terminate(ctx context.Context, instanceIDs []string) error {
	return nil
}

func TestE2ERegistryDrivesProvisioning(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E harness in -short mode")
	}
	ctx := context.Background()
	h := &TestHarness{}

	if _, err := h.StartPostgres(ctx); err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer h.StopPostgres(ctx)

	tables := internal.WorkerTables{Workers: "workers", Tasks: "worker_tasks"}
	if err := CreateRegistrySchema(ctx, h.PGDB, tables); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	idleSince := time.Now().UTC().Add(-time.Hour)
	fleet := []FleetWorker{
		{Worker: strata.Worker{Host: "10.1.0.1:8080", IP: "10.1.0.1", Capacity: 2, Version: "1"}, State: strata.WorkerStateBusy, Tasks: []string{"t1", "t2"}},
		{Worker: strata.Worker{Host: "10.1.0.2:8080", IP: "10.1.0.2", Capacity: 2, Version: "1"}, LastCompleted: idleSince},
	}
	if err := SeedWorkers(ctx, h.PGDB, tables, fleet); err != nil {
		t.Fatalf("seed workers: %v", err)
	}

	registry, err := internal.NewPostgresWorkerRegistry(h.PGPool, tables, 5*time.Second)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	snapshots, err := registry.Workers(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(snapshots))
	}
	if !snapshots[0].IsAtCapacity() || !slices.Equal(snapshots[0].RunningTasks(), []string{"t1", "t2"}) {
		t.Fatalf("unexpected first worker snapshot: %+v", snapshots[0])
	}
	if snapshots[1].State() != strata.WorkerStateIdle {
		t.Fatalf("expected second worker idle, got %s", snapshots[1].State())
	}

	provider := &scriptedProvider{}
	cfg := strata.DefaultConfig().Scaling
	cfg.AmiID = "ami-e2e"
	cfg.MaxNumInstancesToProvision = 2
	cfg.IdleTimeout = 10 * time.Minute
	strategy, err := internal.NewEC2AutoScalingStrategy(provider, registry, cfg)
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}

	data, err := strategy.Provision(ctx)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !slices.Equal(data.NodeIDs, []string{"10.1.0.7:8080"}) {
		t.Fatalf("unexpected provisioned nodes: %v", data.NodeIDs)
	}
	if len(provider.launches) != 1 || provider.launches[0].ImageID != "ami-e2e" {
		t.Fatalf("unexpected launches: %+v", provider.launches)
	}

	candidates, err := strategy.DrainCandidates(ctx)
	if err != nil {
		t.Fatalf("drain candidates: %v", err)
	}
	if !slices.Equal(candidates, []string{"10.1.0.2:8080"}) {
		t.Fatalf("unexpected drain candidates: %v", candidates)
	}
}

func TestE2ESegmentOverS3(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E harness in -short mode")
	}
	ctx := context.Background()
	h := &TestHarness{}

	if _, err := h.StartS3(ctx); err != nil {
		t.Fatalf("start rustfs: %v", err)
	}
	defer h.StopS3(ctx)

	duckCfg := strata.DefaultConfig().DuckDB
	duckCfg.Enabled = true
	if err := h.StartDuckDB(duckCfg); err != nil {
		t.Fatalf("start duckdb: %v", err)
	}
	defer h.StopDuckDB()

	store, err := internal.NewS3BlobStore(ctx, S3Config(h.S3Endpoint), "segments", "e2e")
	if err != nil {
		t.Fatalf("new s3 store: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		t.Fatalf("ensure bucket: %v", err)
	}

	loader := internal.NewSegmentLoader(store, h.Duck, "", true)
	m, err := WriteSampleSegment(ctx, loader, "day=1")
	if err != nil {
		t.Fatalf("write segment: %v", err)
	}

	seg, err := loader.Load(ctx, "day=1")
	if err != nil {
		t.Fatalf("load segment: %v", err)
	}
	if seg.ID() != m.SegmentID || seg.RowCount() != 4 {
		t.Fatalf("unexpected segment %s with %d rows", seg.ID(), seg.RowCount())
	}

	country, err := seg.Column("country")
	if err != nil {
		t.Fatalf("country column: %v", err)
	}
	index, err := country.AsBitmapIndex()
	if err != nil {
		t.Fatalf("bitmap index: %v", err)
	}
	if index.Cardinality() != 3 {
		t.Fatalf("expected 3 distinct countries, got %d", index.Cardinality())
	}

	clicks, err := seg.Column("clicks")
	if err != nil {
		t.Fatalf("clicks column: %v", err)
	}
	gen, err := clicks.AsGeneric()
	if err != nil {
		t.Fatalf("clicks generic: %v", err)
	}
	defer gen.Close()
	if v, err := gen.GetLong(3); err != nil || v != 11 {
		t.Fatalf("expected clicks[3] = 11, got %d (%v)", v, err)
	}
	if null, err := gen.IsNull(2); err != nil || !null {
		t.Fatalf("expected clicks[2] null, got %v (%v)", null, err)
	}

	// A query-backed column reads through DuckDB instead of a blob.
	queried, err := loader.Build(ctx, "day=1", &internal.SegmentManifest{
		SegmentID: "e2e-query",
		RowCount:  4,
		Columns:   []internal.ManifestColumn{{Name: "seq", Type: "long", Query: "SELECT range FROM range(4)"}},
	})
	if err != nil {
		t.Fatalf("build query segment: %v", err)
	}
	seq, err := queried.Column("seq")
	if err != nil {
		t.Fatalf("seq column: %v", err)
	}
	seqGen, err := seq.AsGeneric()
	if err != nil {
		t.Fatalf("seq generic: %v", err)
	}
	defer seqGen.Close()
	if v, err := seqGen.GetLong(3); err != nil || v != 3 {
		t.Fatalf("expected seq[3] = 3, got %d (%v)", v, err)
	}
}
