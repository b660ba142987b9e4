// Package reputation keeps per-account marketplace statistics and derives
// juror tiers from them.
package reputation

import (
	"context"
	"errors"
	"fmt"

	"disputeflow/chain"
	"disputeflow/errs"
	"disputeflow/event"
	"disputeflow/kv"
	"disputeflow/ledger"
	"disputeflow/outbox"
)

const MaxRating = 5000

var (
	ErrAlreadyRegistered = errs.New(errs.ErrAlreadyActed, "reputation: user already registered")
	ErrUserNotRegistered = errs.New(errs.ErrNotFound, "reputation: user not registered")
	ErrInvalidRating     = errs.New(errs.ErrInvalidArgument, "reputation: rating exceeds 5000")
)

// Observer is told about every account whose statistics changed, inside the
// same transaction.
type Observer interface {
	Refresh(ctx context.Context, tx kv.Tx, log *event.Log, account string) error
}

func recordKey(account string) []byte {
	return kv.Key("reputation", "r", account)
}

func attestKey(account, project string) []byte {
	return kv.Key("reputation", "attest", account, project)
}

// Store applies reputation hooks inside the caller's transaction.
type Store struct {
	classifier Classifier
	observer   Observer
}

func NewStore(classifier Classifier) *Store {
	return &Store{classifier: classifier}
}

// SetObserver installs the tier observer. It must be called before the store
// is shared between goroutines.
func (s *Store) SetObserver(o Observer) {
	s.observer = o
}

func (s *Store) Classifier() Classifier {
	return s.classifier
}

// Register creates an empty record for account.
func (s *Store) Register(ctx context.Context, tx kv.Tx, log *event.Log, account string) (Record, error) {
	if account == "" {
		return Record{}, errs.New(errs.ErrInvalidArgument, "reputation: empty account")
	}
	exists, err := kv.Exists(ctx, tx, recordKey(account))
	if err != nil {
		return Record{}, fmt.Errorf("reputation: register: %w", err)
	}
	if exists {
		return Record{}, ErrAlreadyRegistered
	}
	rec := Record{Account: account, RegisteredAt: log.Block(), LastActivity: log.Block()}
	if err := kv.Save(ctx, tx, recordKey(account), rec); err != nil {
		return Record{}, fmt.Errorf("reputation: register: %w", err)
	}
	log.Emit(event.UserRegistered, "", map[string]any{"account": account})
	return rec, nil
}

// Get returns the record of account.
func (s *Store) Get(ctx context.Context, r kv.Reader, account string) (Record, error) {
	rec, err := kv.Load[Record](ctx, r, recordKey(account))
	if errors.Is(err, kv.ErrNotFound) {
		return Record{}, ErrUserNotRegistered
	}
	if err != nil {
		return Record{}, fmt.Errorf("reputation: get %s: %w", account, err)
	}
	return rec, nil
}

// Tier classifies the current record of account.
func (s *Store) Tier(ctx context.Context, r kv.Reader, account string) (Tier, error) {
	rec, err := s.Get(ctx, r, account)
	if err != nil {
		return Ineligible, err
	}
	return s.classifier.TierOf(rec), nil
}

func (s *Store) mutate(ctx context.Context, tx kv.Tx, log *event.Log, account string, fn func(*Record)) error {
	rec, err := s.Get(ctx, tx, account)
	if err != nil {
		return err
	}
	fn(&rec)
	rec.LastActivity = log.Block()
	if err := kv.Save(ctx, tx, recordKey(account), rec); err != nil {
		return fmt.Errorf("reputation: save %s: %w", account, err)
	}
	if s.observer == nil {
		return nil
	}
	return s.observer.Refresh(ctx, tx, log, account)
}

// OnProjectCompleted credits a freelancer for accepted work.
func (s *Store) OnProjectCompleted(ctx context.Context, tx kv.Tx, log *event.Log, freelancer string, value ledger.Balance, rating uint32, project string) error {
	if rating > MaxRating {
		return ErrInvalidRating
	}
	if err := s.mutate(ctx, tx, log, freelancer, func(r *Record) {
		r.ProjectsCompleted = satAdd32(r.ProjectsCompleted, 1)
		r.TotalEarned = r.TotalEarned.Add(value)
		r.RatingSum += uint64(rating)
		r.RatingCount = satAdd32(r.RatingCount, 1)
	}); err != nil {
		return err
	}
	return s.attest(ctx, tx, log, Attestation{
		Account: freelancer, Project: project, Attestor: ClientApproval,
		Outcome: Positive, Value: value, Rating: rating,
	})
}

// OnDisputeOutcome records a finished dispute for both parties.
func (s *Store) OnDisputeOutcome(ctx context.Context, tx kv.Tx, log *event.Log, winner, loser, project string, value ledger.Balance) error {
	if err := s.mutate(ctx, tx, log, winner, func(r *Record) {
		r.DisputesWon = satAdd32(r.DisputesWon, 1)
	}); err != nil {
		return err
	}
	if err := s.mutate(ctx, tx, log, loser, func(r *Record) {
		r.DisputesLost = satAdd32(r.DisputesLost, 1)
		r.ProjectsFailed = satAdd32(r.ProjectsFailed, 1)
	}); err != nil {
		return err
	}
	if err := s.attest(ctx, tx, log, Attestation{
		Account: winner, Project: project, Attestor: ArbitrationWin, Outcome: Positive, Value: value,
	}); err != nil {
		return err
	}
	return s.attest(ctx, tx, log, Attestation{
		Account: loser, Project: project, Attestor: ArbitrationLoss, Outcome: Negative, Value: value,
	})
}

func (s *Store) OnProjectCreated(ctx context.Context, tx kv.Tx, log *event.Log, client string, budget ledger.Balance) error {
	return s.mutate(ctx, tx, log, client, func(r *Record) {
		r.ProjectsPosted = satAdd32(r.ProjectsPosted, 1)
		r.TotalSpent = r.TotalSpent.Add(budget)
	})
}

func (s *Store) OnProjectCancelled(ctx context.Context, tx kv.Tx, log *event.Log, client string) error {
	return s.mutate(ctx, tx, log, client, func(r *Record) {
		r.ProjectsFailed = satAdd32(r.ProjectsFailed, 1)
	})
}

// OnWorkAccepted counts a project the client saw through to acceptance.
func (s *Store) OnWorkAccepted(ctx context.Context, tx kv.Tx, log *event.Log, client, project string) error {
	return s.mutate(ctx, tx, log, client, func(r *Record) {
		r.ProjectsCompleted = satAdd32(r.ProjectsCompleted, 1)
	})
}

// OnJuryVote folds one vote on project into the juror's running accuracy.
func (s *Store) OnJuryVote(ctx context.Context, tx kv.Tx, log *event.Log, juror, project string, withMajority bool) error {
	if err := s.mutate(ctx, tx, log, juror, func(r *Record) {
		r.JuryParticipation = satAdd32(r.JuryParticipation, 1)
		n := uint64(r.JuryParticipation)
		var v uint64
		if withMajority {
			v = 1_000_000
		}
		r.JuryAccuracyPPM = uint32((uint64(r.JuryAccuracyPPM)*(n-1) + v) / n)
	}); err != nil {
		return err
	}
	outcome := Neutral
	if withMajority {
		outcome = Positive
	}
	return s.attest(ctx, tx, log, Attestation{
		Account: juror, Project: project, Attestor: JuryParticipation, Outcome: outcome,
	})
}

func (s *Store) attest(ctx context.Context, tx kv.Tx, log *event.Log, a Attestation) error {
	a.Block = log.Block()
	if err := kv.Save(ctx, tx, attestKey(a.Account, a.Project), a); err != nil {
		return fmt.Errorf("reputation: attest %s/%s: %w", a.Account, a.Project, err)
	}
	return nil
}

// Attestations lists the entries of account ordered by project key.
func (s *Store) Attestations(ctx context.Context, r kv.Reader, account string) ([]Attestation, error) {
	var out []Attestation
	err := r.Scan(ctx, kv.Key("reputation", "attest", account), func(key, raw []byte) error {
		a, err := kv.Decode[Attestation](raw)
		if err != nil {
			return fmt.Errorf("reputation: decode %q: %w", key, err)
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) OnDisputeInitiated(ctx context.Context, tx kv.Tx, log *event.Log, account string) error {
	return s.mutate(ctx, tx, log, account, func(r *Record) {
		r.DisputesInitiated = satAdd32(r.DisputesInitiated, 1)
	})
}

func satAdd32(a, b uint32) uint32 {
	if a > ^uint32(0)-b {
		return ^uint32(0)
	}
	return a + b
}

// Service exposes registration and lookups as standalone commands.
type Service struct {
	kv    kv.Store
	rep   *Store
	clock chain.Clock
}

func NewService(store kv.Store, rep *Store, clock chain.Clock) *Service {
	return &Service{kv: store, rep: rep, clock: clock}
}

func (s *Service) RegisterUser(ctx context.Context, account string) (Record, []event.Event, error) {
	var rec Record
	evs, err := outbox.WithTx(ctx, s.kv, s.clock.Now(), func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		var err error
		rec, err = s.rep.Register(ctx, tx, log, account)
		return err
	})
	if err != nil {
		return Record{}, nil, err
	}
	return rec, evs, nil
}

// Profile is a record together with its tier.
type Profile struct {
	Record
	Tier          Tier   `json:"tier"`
	AverageRating uint32 `json:"average_rating"`
}

func (s *Service) Get(ctx context.Context, account string) (Profile, error) {
	tx, err := s.kv.Begin(ctx)
	if err != nil {
		return Profile{}, fmt.Errorf("reputation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	rec, err := s.rep.Get(ctx, tx, account)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Record: rec, Tier: s.rep.classifier.TierOf(rec), AverageRating: rec.AverageRating()}, nil
}

// Attestations returns the audit trail of a registered account.
func (s *Service) Attestations(ctx context.Context, account string) ([]Attestation, error) {
	tx, err := s.kv.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("reputation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := s.rep.Get(ctx, tx, account); err != nil {
		return nil, err
	}
	return s.rep.Attestations(ctx, tx, account)
}
