package infra

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"disputeflow/db"
)

// Harness owns the lifecycle of the Postgres test container and pgx pool.
type Harness struct {
	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
	dsn       string
}

// NewHarness boots a Postgres 16 container, or reuses STRESS_TEST_PG_DSN
// when set, and applies the embedded migrations.
func NewHarness(ctx context.Context) (*Harness, error) {
	h := &Harness{dsn: os.Getenv("STRESS_TEST_PG_DSN")}

	if h.dsn == "" {
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("disputeflow"),
			postgres.WithUsername("disputeflow"),
			postgres.WithPassword("disputeflow"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			return nil, fmt.Errorf("start postgres container: %w", err)
		}
		h.container = pgContainer

		dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			h.Close(ctx)
			return nil, fmt.Errorf("resolve connection string: %w", err)
		}
		h.dsn = dsn
	}

	pool, err := db.NewPool(ctx, h.dsn, db.PoolOptions{
		MaxConns:        64,
		MaxConnIdleTime: 30 * time.Second,
		MaxConnLifetime: 5 * time.Minute,
	})
	if err != nil {
		h.Close(ctx)
		return nil, fmt.Errorf("create pool: %w", err)
	}
	h.pool = pool

	if err := db.Migrate(ctx, pool); err != nil {
		h.Close(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return h, nil
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections.
func (h *Harness) DSN() string {
	return h.dsn
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.container != nil {
		_ = h.container.Terminate(ctx)
	}
}

// Reset truncates every table so the next run starts clean.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"kv_entries",
		"users",
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}

	return nil
}
