package juror

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"disputeflow/chain"
	"disputeflow/event"
	"disputeflow/kv"
	"disputeflow/ledger"
	"disputeflow/observability"
	"disputeflow/outbox"
	"disputeflow/policy"
	"disputeflow/reputation"
)

// Service runs registry commands, one transaction each.
type Service struct {
	kv    kv.Store
	reg   *Registry
	clock chain.Clock
	admin *policy.Rule
	obs   *observability.Provider
	locks kv.KeyedMutex
}

// NewService wires the registry commands. admin gates SlashJuror; obs may be
// nil.
func NewService(store kv.Store, reg *Registry, clock chain.Clock, admin *policy.Rule, obs *observability.Provider) *Service {
	return &Service{kv: store, reg: reg, clock: clock, admin: admin, obs: obs}
}

func (s *Service) run(ctx context.Context, command, account string, fn func(ctx context.Context, tx kv.Tx, log *event.Log) error) (evs []event.Event, err error) {
	ctx, done := s.obs.Track(ctx, command, attribute.String("account", account))
	defer func() { done(err) }()

	unlock := s.locks.Lock(account)
	defer unlock()
	return outbox.WithTx(ctx, s.kv, s.clock.Now(), fn)
}

// RegisterJuror opts the caller into the registry.
func (s *Service) RegisterJuror(ctx context.Context, caller policy.Caller) ([]event.Event, error) {
	return s.run(ctx, "juror.register", caller.ID, func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		return s.reg.Register(ctx, tx, log, caller.ID)
	})
}

// DeregisterJuror opts the caller out and releases its stake.
func (s *Service) DeregisterJuror(ctx context.Context, caller policy.Caller) ([]event.Event, error) {
	return s.run(ctx, "juror.deregister", caller.ID, func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		return s.reg.Deregister(ctx, tx, log, caller.ID)
	})
}

// SlashJuror punishes account on behalf of an administrator.
func (s *Service) SlashJuror(ctx context.Context, caller policy.Caller, account string) (ledger.Balance, []event.Event, error) {
	if err := s.admin.Check(ctx, caller); err != nil {
		return 0, nil, err
	}
	var slashed ledger.Balance
	evs, err := s.run(ctx, "juror.slash", account, func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		var err error
		slashed, err = s.reg.Slash(ctx, tx, log, account)
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return slashed, evs, nil
}

func (s *Service) read(ctx context.Context, fn func(tx kv.Tx) error) error {
	tx, err := s.kv.Begin(ctx)
	if err != nil {
		return fmt.Errorf("juror: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	return fn(tx)
}

func (s *Service) Get(ctx context.Context, account string) (Info, error) {
	var info Info
	err := s.read(ctx, func(tx kv.Tx) error {
		var err error
		info, err = s.reg.Get(ctx, tx, account)
		return err
	})
	return info, err
}

// Pools lists the members of every paid tier.
func (s *Service) Pools(ctx context.Context) (map[reputation.Tier][]string, error) {
	out := make(map[reputation.Tier][]string, len(reputation.Tiers))
	err := s.read(ctx, func(tx kv.Tx) error {
		for _, t := range reputation.Tiers {
			pool, err := s.reg.Pool(ctx, tx, t)
			if err != nil {
				return err
			}
			out[t] = pool
		}
		return nil
	})
	return out, err
}
