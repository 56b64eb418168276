package e2e_harness

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Credentials accepted by the S3 container.
const (
	S3AccessKey = "minio"
	S3SecretKey = "minio"
)

const (
	postgresImage = "postgres:16"
	s3Image       = "rustfs/rustfs:latest"
)

// TestHarness owns the containers and clients an E2E test runs against.
// Each Start method has a matching Stop; Stop methods are safe to call twice.
type TestHarness struct {
	PGContainer testcontainers.Container
	PGDSN       string
	PGDB        *sql.DB
	PGPool      *pgxpool.Pool
	S3Container testcontainers.Container
	S3Endpoint  string
	Duck        *internal.DuckDBClient
}

// startContainer runs image, waits for port to listen and returns host:mappedPort.
func startContainer(ctx context.Context, image, port string, env map[string]string) (testcontainers.Container, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{port + "/tcp"},
			Env:          env,
			WaitingFor:   wait.ForListeningPort(nat.Port(port + "/tcp")).WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("start %s: %w", image, err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	return container, fmt.Sprintf("%s:%s", host, mapped.Port()), nil
}

// StartPostgres starts Postgres and opens both a database/sql handle (for
// fixtures) and a pgx pool (for the registry under test).
func (h *TestHarness) StartPostgres(ctx context.Context) (string, error) {
	container, addr, err := startContainer(ctx, postgresImage, "5432", map[string]string{
		"POSTGRES_PASSWORD": "password",
		"POSTGRES_USER":     "postgres",
		"POSTGRES_DB":       "postgres",
	})
	if err != nil {
		return "", err
	}
	h.PGContainer = container
	h.PGDSN = fmt.Sprintf("postgres://postgres:password@%s/postgres?sslmode=disable", addr)

	db, err := sql.Open("postgres", h.PGDSN)
	if err != nil {
		return "", err
	}
	if err := waitReady(ctx, db, 20*time.Second); err != nil {
		db.Close()
		return "", err
	}
	h.PGDB = db

	pool, err := pgxpool.New(ctx, h.PGDSN)
	if err != nil {
		return "", fmt.Errorf("open pgx pool: %w", err)
	}
	h.PGPool = pool
	return h.PGDSN, nil
}

// The port listens before initdb finishes, so ping until the server answers.
func waitReady(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := db.PingContext(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("postgres did not become ready: %w", err)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func (h *TestHarness) StopPostgres(ctx context.Context) error {
	if h.PGPool != nil {
		h.PGPool.Close()
		h.PGPool = nil
	}
	if h.PGDB != nil {
		h.PGDB.Close()
		h.PGDB = nil
	}
	return terminate(ctx, &h.PGContainer)
}

// StartS3 starts an S3-compatible object store and returns its endpoint URL.
func (h *TestHarness) StartS3(ctx context.Context) (string, error) {
	container, addr, err := startContainer(ctx, s3Image, "9000", map[string]string{
		"RUSTFS_ACCESS_KEY": S3AccessKey,
		"RUSTFS_SECRET_KEY": S3SecretKey,
	})
	if err != nil {
		return "", err
	}
	h.S3Container = container
	h.S3Endpoint = "http://" + addr
	return h.S3Endpoint, nil
}

func (h *TestHarness) StopS3(ctx context.Context) error {
	return terminate(ctx, &h.S3Container)
}

// StartDuckDB creates the DuckDB client that backs query columns.
func (h *TestHarness) StartDuckDB(cfg strata.DuckDBConfig) error {
	c, err := internal.NewDuckDBClient(cfg)
	if err != nil {
		return err
	}
	h.Duck = c
	return nil
}

func (h *TestHarness) StopDuckDB() error {
	if h.Duck == nil {
		return nil
	}
	err := h.Duck.Close()
	h.Duck = nil
	return err
}

func terminate(ctx context.Context, c *testcontainers.Container) error {
	if *c == nil {
		return nil
	}
	if err := (*c).Terminate(ctx); err != nil {
		return err
	}
	*c = nil
	return nil
}
