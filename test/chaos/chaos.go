package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"disputeflow/chain"
)

// JumpBlocks advances clock by a random stretch every few milliseconds, so
// deadlines and voting windows close underneath in-flight commands.
func JumpBlocks(ctx context.Context, clock *chain.ManualClock, seed int64, stop <-chan struct{}) {
	rng := rand.New(rand.NewSource(seed))
	ticker := time.NewTicker(15 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			clock.Advance(uint64(rng.Intn(60)))
		}
	}
}

// TerminateRandomBackend kills a random backend connection of the current
// database now and then. Commands in flight on it must roll back cleanly.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) == 0 {
				_, _ = pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = current_database() AND pid <> pg_backend_pid() ORDER BY random() LIMIT 1`)
			}
		}
	}
}
