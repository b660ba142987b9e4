// Package juror runs the staked juror registry: opt-in and opt-out, tier
// pools that follow reputation, slashing, and round-robin jury selection.
package juror

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"disputeflow/errs"
	"disputeflow/event"
	"disputeflow/kv"
	"disputeflow/ledger"
	"disputeflow/reputation"
)

var (
	ErrAlreadyRegistered = errs.New(errs.ErrAlreadyActed, "juror: already registered")
	ErrNotRegistered     = errs.New(errs.ErrNotFound, "juror: not registered")
	ErrInsufficientTier  = errs.New(errs.ErrInsufficientEligibility, "juror: tier below bronze")
	ErrPoolFull          = errs.New(errs.ErrCapacity, "juror: tier pool is full")
	ErrBusy              = errs.New(errs.ErrInvalidState, "juror: sitting on an open jury")
)

// PoolCaps bounds each tier pool. Zero means unbounded.
type PoolCaps struct {
	Gold   int `yaml:"gold" json:"gold"`
	Silver int `yaml:"silver" json:"silver"`
	Bronze int `yaml:"bronze" json:"bronze"`
}

func (c PoolCaps) of(t reputation.Tier) int {
	switch t {
	case reputation.Gold:
		return c.Gold
	case reputation.Silver:
		return c.Silver
	case reputation.Bronze:
		return c.Bronze
	default:
		return 0
	}
}

type Config struct {
	Stake         ledger.Balance
	SlashRatioPct uint64
	Caps          PoolCaps
}

func DefaultConfig() Config {
	return Config{
		Stake:         10 * ledger.Unit,
		SlashRatioPct: 10,
		Caps:          PoolCaps{Gold: 100, Silver: 200, Bronze: 200},
	}
}

func stakeKey(account string) []byte { return kv.Key("juror", "stake", account) }
func tierKey(account string) []byte  { return kv.Key("juror", "tier", account) }
func busyKey(account string) []byte  { return kv.Key("juror", "busy", account) }

func poolKey(t reputation.Tier) []byte   { return kv.Key("juror", "pool", t.String()) }
func cursorKey(t reputation.Tier) []byte { return kv.Key("juror", "cursor", t.String()) }

// Registry owns every juror/* key. Its methods run inside the caller's
// transaction.
type Registry struct {
	ledger *ledger.Ledger
	rep    *reputation.Store
	cfg    Config
	log    zerolog.Logger
}

type Option func(*Registry)

func WithLogger(log zerolog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// NewRegistry builds a registry and subscribes it to reputation changes.
func NewRegistry(l *ledger.Ledger, rep *reputation.Store, cfg Config, opts ...Option) *Registry {
	r := &Registry{ledger: l, rep: rep, cfg: cfg, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	rep.SetObserver(r)
	return r
}

// Info describes one registered juror.
type Info struct {
	Account string          `json:"account"`
	Tier    reputation.Tier `json:"tier"`
	Stake   ledger.Balance  `json:"stake"`
	Busy    uint32          `json:"busy"`
}

func (r *Registry) stake(ctx context.Context, rd kv.Reader, account string) (ledger.Balance, bool, error) {
	s, err := kv.Load[ledger.Balance](ctx, rd, stakeKey(account))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("juror: load stake %s: %w", account, err)
	}
	return s, true, nil
}

// Get returns the registry entry of account.
func (r *Registry) Get(ctx context.Context, rd kv.Reader, account string) (Info, error) {
	stake, ok, err := r.stake(ctx, rd, account)
	if err != nil {
		return Info{}, err
	}
	if !ok {
		return Info{}, ErrNotRegistered
	}
	tier, err := kv.LoadOr(ctx, rd, tierKey(account), reputation.Ineligible)
	if err != nil {
		return Info{}, fmt.Errorf("juror: load tier %s: %w", account, err)
	}
	busy, err := r.busy(ctx, rd, account)
	if err != nil {
		return Info{}, err
	}
	return Info{Account: account, Tier: tier, Stake: stake, Busy: busy}, nil
}

// Pool returns the members of a tier pool in rotation order.
func (r *Registry) Pool(ctx context.Context, rd kv.Reader, t reputation.Tier) ([]string, error) {
	pool, err := kv.LoadOr(ctx, rd, poolKey(t), []string(nil))
	if err != nil {
		return nil, fmt.Errorf("juror: load %s pool: %w", t, err)
	}
	return pool, nil
}

func (r *Registry) savePool(ctx context.Context, tx kv.Tx, t reputation.Tier, pool []string) error {
	if len(pool) == 0 {
		return tx.Delete(ctx, poolKey(t))
	}
	return kv.Save(ctx, tx, poolKey(t), pool)
}

func (r *Registry) addToPool(ctx context.Context, tx kv.Tx, t reputation.Tier, account string) error {
	pool, err := r.Pool(ctx, tx, t)
	if err != nil {
		return err
	}
	if slices.Contains(pool, account) {
		return nil
	}
	if limit := r.cfg.Caps.of(t); limit > 0 && len(pool) >= limit {
		return fmt.Errorf("%w: %s holds %d", ErrPoolFull, t, len(pool))
	}
	return r.savePool(ctx, tx, t, append(pool, account))
}

func (r *Registry) removeFromPool(ctx context.Context, tx kv.Tx, t reputation.Tier, account string) error {
	if t == reputation.Ineligible {
		return nil
	}
	pool, err := r.Pool(ctx, tx, t)
	if err != nil {
		return err
	}
	i := slices.Index(pool, account)
	if i < 0 {
		return nil
	}
	return r.savePool(ctx, tx, t, slices.Delete(pool, i, i+1))
}

// Register opts account in: it reserves the flat stake and joins the pool of
// its current tier.
func (r *Registry) Register(ctx context.Context, tx kv.Tx, log *event.Log, account string) error {
	_, ok, err := r.stake(ctx, tx, account)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyRegistered
	}
	tier, err := r.rep.Tier(ctx, tx, account)
	if err != nil {
		return err
	}
	if tier < reputation.Bronze {
		return ErrInsufficientTier
	}
	if err := r.addToPool(ctx, tx, tier, account); err != nil {
		return err
	}
	if err := r.ledger.Reserve(ctx, tx, account, r.cfg.Stake); err != nil {
		return fmt.Errorf("juror: reserve stake: %w", err)
	}
	if err := kv.Save(ctx, tx, stakeKey(account), r.cfg.Stake); err != nil {
		return fmt.Errorf("juror: save stake: %w", err)
	}
	if err := kv.Save(ctx, tx, tierKey(account), tier); err != nil {
		return fmt.Errorf("juror: save tier: %w", err)
	}
	log.Emit(event.JurorRegistered, "", map[string]any{
		"account": account,
		"tier":    tier.String(),
		"stake":   r.cfg.Stake.String(),
	})
	return nil
}

// Deregister opts account out. Jurors sitting on an open jury must wait.
func (r *Registry) Deregister(ctx context.Context, tx kv.Tx, log *event.Log, account string) error {
	_, ok, err := r.stake(ctx, tx, account)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRegistered
	}
	busy, err := r.busy(ctx, tx, account)
	if err != nil {
		return err
	}
	if busy > 0 {
		return ErrBusy
	}
	released, err := r.evict(ctx, tx, account)
	if err != nil {
		return err
	}
	log.Emit(event.JurorDeregistered, "", map[string]any{
		"account":  account,
		"released": released.String(),
	})
	return nil
}

// evict drops every trace of account from the registry and returns the stake
// that went back to its free balance.
func (r *Registry) evict(ctx context.Context, tx kv.Tx, account string) (ledger.Balance, error) {
	stake, _, err := r.stake(ctx, tx, account)
	if err != nil {
		return 0, err
	}
	tier, err := kv.LoadOr(ctx, tx, tierKey(account), reputation.Ineligible)
	if err != nil {
		return 0, fmt.Errorf("juror: load tier %s: %w", account, err)
	}
	if err := r.removeFromPool(ctx, tx, tier, account); err != nil {
		return 0, err
	}
	released, err := r.ledger.Unreserve(ctx, tx, account, stake)
	if err != nil {
		return 0, fmt.Errorf("juror: release stake: %w", err)
	}
	for _, key := range [][]byte{stakeKey(account), tierKey(account)} {
		if err := tx.Delete(ctx, key); err != nil {
			return 0, fmt.Errorf("juror: evict %s: %w", account, err)
		}
	}
	return released, nil
}

// Refresh recomputes the tier of a registered juror after its reputation
// changed. It implements reputation.Observer.
func (r *Registry) Refresh(ctx context.Context, tx kv.Tx, log *event.Log, account string) error {
	_, ok, err := r.stake(ctx, tx, account)
	if err != nil || !ok {
		return err
	}
	current, err := r.rep.Tier(ctx, tx, account)
	if err != nil {
		return err
	}
	cached, err := kv.LoadOr(ctx, tx, tierKey(account), reputation.Ineligible)
	if err != nil {
		return fmt.Errorf("juror: load tier %s: %w", account, err)
	}
	if current == cached {
		return nil
	}

	if current == reputation.Ineligible {
		return r.autoDeregister(ctx, tx, log, account, "ineligible")
	}
	if err := r.removeFromPool(ctx, tx, cached, account); err != nil {
		return err
	}
	if err := r.addToPool(ctx, tx, current, account); err != nil {
		if errors.Is(err, ErrPoolFull) {
			return r.autoDeregister(ctx, tx, log, account, "pool_full")
		}
		return err
	}
	if err := kv.Save(ctx, tx, tierKey(account), current); err != nil {
		return fmt.Errorf("juror: save tier: %w", err)
	}
	r.log.Debug().Str("account", account).Stringer("from", cached).Stringer("to", current).Msg("tier changed")
	log.Emit(event.JurorTierUpdated, "", map[string]any{
		"account": account,
		"from":    cached.String(),
		"to":      current.String(),
	})
	return nil
}

func (r *Registry) autoDeregister(ctx context.Context, tx kv.Tx, log *event.Log, account, reason string) error {
	released, err := r.evict(ctx, tx, account)
	if err != nil {
		return err
	}
	r.log.Info().Str("account", account).Str("reason", reason).Msg("juror evicted")
	log.Emit(event.JurorAutoDeregistered, "", map[string]any{
		"account":  account,
		"reason":   reason,
		"released": released.String(),
	})
	return nil
}

// Slash burns SlashRatioPct of the juror's stake. A juror left with nothing
// is evicted.
func (r *Registry) Slash(ctx context.Context, tx kv.Tx, log *event.Log, account string) (ledger.Balance, error) {
	stake, ok, err := r.stake(ctx, tx, account)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotRegistered
	}
	slashed, err := r.ledger.SlashReserved(ctx, tx, account, stake.Percent(r.cfg.SlashRatioPct))
	if err != nil {
		return 0, fmt.Errorf("juror: slash %s: %w", account, err)
	}
	remaining := stake.Sub(slashed)
	if remaining == 0 {
		if _, err := r.evict(ctx, tx, account); err != nil {
			return 0, err
		}
		log.Emit(event.JurorAutoDeregistered, "", map[string]any{
			"account": account,
			"reason":  "stake_depleted",
		})
	} else if err := kv.Save(ctx, tx, stakeKey(account), remaining); err != nil {
		return 0, fmt.Errorf("juror: save stake: %w", err)
	}
	log.Emit(event.JurorSlashed, "", map[string]any{
		"account": account,
		"amount":  slashed.String(),
	})
	return slashed, nil
}

func (r *Registry) busy(ctx context.Context, rd kv.Reader, account string) (uint32, error) {
	n, err := kv.LoadOr(ctx, rd, busyKey(account), uint32(0))
	if err != nil {
		return 0, fmt.Errorf("juror: load busy %s: %w", account, err)
	}
	return n, nil
}

// MarkBusy records that account sits on one more open jury.
func (r *Registry) MarkBusy(ctx context.Context, tx kv.Tx, account string) error {
	n, err := r.busy(ctx, tx, account)
	if err != nil {
		return err
	}
	return kv.Save(ctx, tx, busyKey(account), n+1)
}

// ReleaseBusy undoes one MarkBusy.
func (r *Registry) ReleaseBusy(ctx context.Context, tx kv.Tx, account string) error {
	n, err := r.busy(ctx, tx, account)
	if err != nil {
		return err
	}
	if n <= 1 {
		return tx.Delete(ctx, busyKey(account))
	}
	return kv.Save(ctx, tx, busyKey(account), n-1)
}
