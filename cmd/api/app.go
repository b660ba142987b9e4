package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"disputeflow/auth"
	"disputeflow/chain"
	"disputeflow/config"
	"disputeflow/db"
	"disputeflow/dispute"
	"disputeflow/juror"
	"disputeflow/kv"
	"disputeflow/kv/pebblekv"
	"disputeflow/kv/pgkv"
	"disputeflow/kv/sqlkv"
	"disputeflow/ledger"
	"disputeflow/logging"
	"disputeflow/observability"
	"disputeflow/outbox"
	"disputeflow/policy"
	"disputeflow/project"
	"disputeflow/reputation"
)

// app is the assembled process: one store, the services on top of it and
// the background workers that drain it.
type app struct {
	cfg     config.Config
	store   kv.Store
	pool    *pgxpool.Pool
	redis   *redis.Client
	obs     *observability.Provider
	server  *Server
	relay   *outbox.Relay
	limiter *rateLimiter
}

// openStore opens the configured backend. The pool is non-nil only for
// postgres, where it also backs the user repository.
func openStore(ctx context.Context, cfg config.StoreConfig) (kv.Store, *pgxpool.Pool, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return kv.NewMemoryStore(), nil, nil
	case config.BackendPebble:
		s, err := pebblekv.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case config.BackendSQLite:
		s, err := sqlkv.Open(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.Pool.Options())
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgkv.New(pool), pool, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ready := false
	defer func() {
		if !ready {
			_ = a.close(context.Background())
		}
	}()

	var err error
	a.obs, err = observability.New(ctx, observability.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: kv.FormatVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Interval:       cfg.Telemetry.Interval,
	})
	if err != nil {
		return nil, err
	}

	a.store, a.pool, err = openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	version, err := kv.EnsureVersion(ctx, a.store)
	if err != nil {
		return nil, err
	}
	logging.Store.Info().Str("backend", cfg.Store.Backend).Str("format", version).Msg("store ready")

	eval, err := policy.NewEvaluator()
	if err != nil {
		return nil, err
	}
	oracle, err := policy.NewRule(eval, cfg.Auth.OracleRule)
	if err != nil {
		return nil, fmt.Errorf("oracle rule: %w", err)
	}
	admin, err := policy.NewRule(eval, cfg.Auth.AdminRule)
	if err != nil {
		return nil, fmt.Errorf("admin rule: %w", err)
	}

	var users auth.Repository = auth.NewMemoryRepository()
	if a.pool != nil {
		users = auth.NewRepository(a.pool)
	}

	clock := chain.NewWallClock(cfg.Chain.Genesis, cfg.Chain.BlockTime)
	led := ledger.New()
	rep := reputation.NewStore(cfg.Classifier())
	registry := juror.NewRegistry(led, rep, cfg.JurorSettings(), juror.WithLogger(logging.Registry))
	projects := project.NewManager(led, rep)

	a.server = &Server{
		authService:       auth.NewService(users, cfg.Auth.JWTSecret, auth.WithTokenTTL(cfg.Auth.TokenTTL)),
		ledgerService:     ledger.NewService(a.store, led),
		reputationService: reputation.NewService(a.store, rep, clock),
		projectService:    project.NewService(a.store, projects, clock, a.obs),
		jurorService:      juror.NewService(a.store, registry, clock, admin, a.obs),
		disputeService: dispute.NewService(a.store, cfg.DisputeSettings(), dispute.Deps{
			Ledger:     led,
			Reputation: rep,
			Registry:   registry,
			Projects:   projects,
			Clock:      clock,
			Oracle:     oracle,
			Obs:        a.obs,
		}, dispute.WithLogger(logging.Dispute)),
		admin: admin,
	}

	var pub outbox.Publisher = outbox.NewLogPublisher(logging.Outbox)
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		pub = outbox.NewRedisPublisher(a.redis, cfg.Redis.Stream)
	}
	a.relay = outbox.NewRelay(a.store, pub,
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithLogger(logging.Outbox),
	)
	a.limiter = newRateLimiter(cfg.HTTP.RatePerSecond, cfg.HTTP.Burst)
	ready = true
	return a, nil
}

func (a *app) handler() http.Handler {
	return requestLog(a.limiter.middleware(a.server.routes()))
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.obs.Shutdown(ctx))
	return errors.Join(errs...)
}
