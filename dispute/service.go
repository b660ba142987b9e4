// Package dispute runs the arbitration state machine of a project: an oracle
// ruling, up to two appeals decided by juries, and the final settlement of
// bonds, costs and juror rewards.
package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"disputeflow/bond"
	"disputeflow/chain"
	"disputeflow/event"
	"disputeflow/juror"
	"disputeflow/kv"
	"disputeflow/ledger"
	"disputeflow/observability"
	"disputeflow/outbox"
	"disputeflow/policy"
	"disputeflow/project"
	"disputeflow/reputation"
)

// Arbitrable is the project side of a dispute. Every method runs inside the
// command's transaction.
type Arbitrable interface {
	Budget(ctx context.Context, r kv.Reader, id string) (ledger.Balance, error)
	Parties(ctx context.Context, r kv.Reader, id string) (client, freelancer string, err error)
	Status(ctx context.Context, r kv.Reader, id string) (project.Status, error)
	EvidenceURIs(ctx context.Context, r kv.Reader, id string) (requirements, submission string, err error)
	SetInDispute(ctx context.Context, tx kv.Tx, id string) error
	OnRuling(ctx context.Context, tx kv.Tx, log *event.Log, id string, ruling project.Ruling) error
}

// Deps are the collaborators a Service drives.
type Deps struct {
	Ledger     *ledger.Ledger
	Reputation *reputation.Store
	Registry   *juror.Registry
	Projects   Arbitrable
	Clock      chain.Clock
	// Oracle gates SubmitRuling.
	Oracle *policy.Rule
	// Obs may be nil.
	Obs *observability.Provider
}

type Service struct {
	kv  kv.Store
	cfg Config
	Deps
	log   zerolog.Logger
	locks kv.KeyedMutex
}

type Option func(*Service)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func NewService(store kv.Store, cfg Config, deps Deps, opts ...Option) *Service {
	s := &Service{kv: store, cfg: cfg, Deps: deps, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) run(ctx context.Context, command, id string, fn func(ctx context.Context, tx kv.Tx, log *event.Log) error) (evs []event.Event, err error) {
	ctx, done := s.Obs.Track(ctx, command, attribute.String("project", id))
	defer func() { done(err) }()

	unlock := s.locks.Lock(id)
	defer unlock()
	return outbox.WithTx(ctx, s.kv, s.Clock.Now(), fn)
}

// CreateDispute opens arbitration on a project whose work is under review or
// was rejected. Only the freelancer may open it, posting the first bond.
func (s *Service) CreateDispute(ctx context.Context, caller policy.Caller, id string, evidence []byte) (Dispute, []event.Event, error) {
	var d Dispute
	evs, err := s.run(ctx, "dispute.create", id, func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		if len(evidence) > s.cfg.MaxEvidence {
			return ErrEvidenceTooLong
		}
		client, freelancer, err := s.Projects.Parties(ctx, tx, id)
		if err != nil {
			return err
		}
		if caller.ID != freelancer {
			return ErrNotFreelancer
		}
		ok, err := kv.Exists(ctx, tx, disputeKey(id))
		if err != nil {
			return fmt.Errorf("dispute: lookup %s: %w", id, err)
		}
		if ok {
			return ErrAlreadyExists
		}
		budget, err := s.Projects.Budget(ctx, tx, id)
		if err != nil {
			return err
		}
		amount, err := s.postBond(ctx, tx, id, bond.FirstRound, freelancer, budget)
		if err != nil {
			return err
		}
		if err := s.Projects.SetInDispute(ctx, tx, id); err != nil {
			return err
		}
		if err := s.Reputation.OnDisputeInitiated(ctx, tx, log, freelancer); err != nil {
			return err
		}
		d = Dispute{
			Project:    id,
			Client:     client,
			Freelancer: freelancer,
			Status:     StatusAIProcessing,
			Evidence:   evidence,
			StartBlock: log.Block(),
			Round:      bond.FirstRound,
		}
		if err := save(ctx, tx, d); err != nil {
			return err
		}
		log.Emit(event.DisputeCreated, id, map[string]any{
			"client":     client,
			"freelancer": freelancer,
			"bond":       amount.String(),
		})
		return nil
	})
	if err != nil {
		return Dispute{}, nil, err
	}
	return d, evs, nil
}

// postBond reserves the round's bond from appellant and adds the round's
// arbitration cost.
func (s *Service) postBond(ctx context.Context, tx kv.Tx, id string, round uint8, appellant string, budget ledger.Balance) (ledger.Balance, error) {
	amount, err := s.cfg.Schedule.Bond(budget, round)
	if err != nil {
		return 0, err
	}
	cost, err := s.cfg.Schedule.Cost(budget, round)
	if err != nil {
		return 0, err
	}
	if err := s.Ledger.Reserve(ctx, tx, appellant, amount); err != nil {
		return 0, fmt.Errorf("dispute: reserve bond: %w", err)
	}
	if err := saveBond(ctx, tx, id, AppealBond{Round: round, Appellant: appellant, Amount: amount}); err != nil {
		return 0, err
	}
	if _, err := addCost(ctx, tx, id, cost); err != nil {
		return 0, err
	}
	return amount, nil
}

// SubmitRuling records the oracle's first-instance decision.
func (s *Service) SubmitRuling(ctx context.Context, caller policy.Caller, id string, ruling project.Ruling) ([]event.Event, error) {
	if err := s.Oracle.Check(ctx, caller); err != nil {
		return nil, err
	}
	if !ruling.Valid() {
		return nil, ErrInvalidRuling
	}
	return s.run(ctx, "dispute.submit_ruling", id, func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		d, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.Status != StatusAIProcessing {
			return fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id, d.Status)
		}
		d.Ruling = &ruling
		d.Status = StatusAppealable
		d.StartBlock = log.Block()
		if err := save(ctx, tx, d); err != nil {
			return err
		}
		log.Emit(event.DisputeRulingSubmitted, id, map[string]any{"ruling": string(ruling)})
		return nil
	})
}

// jury returns the minimum tier and size of the jury for round.
func (s *Service) jury(round uint8) (reputation.Tier, int) {
	if round == bond.LastRound {
		return reputation.Silver, s.cfg.MaxJurors
	}
	return reputation.Bronze, s.cfg.MinJurors
}

// AppealRuling escalates the dispute to a jury round. The losing party posts
// the round's bond and the jury is drawn from the registry.
func (s *Service) AppealRuling(ctx context.Context, caller policy.Caller, id string, evidence []byte) ([]event.Event, error) {
	return s.run(ctx, "dispute.appeal", id, func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		if len(evidence) > s.cfg.MaxEvidence {
			return ErrEvidenceTooLong
		}
		d, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.Status != StatusAppealable || d.Ruling == nil {
			return fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id, d.Status)
		}
		if log.Block() > d.StartBlock+s.cfg.AppealPeriod {
			return ErrAppealClosed
		}
		if _, loser := d.Parties(*d.Ruling); caller.ID != loser {
			return ErrNotLosingParty
		}
		next := d.Round + 1
		if next > bond.LastRound {
			return ErrMaxAppealsReached
		}
		budget, err := s.Projects.Budget(ctx, tx, id)
		if err != nil {
			return err
		}
		amount, err := s.postBond(ctx, tx, id, next, caller.ID, budget)
		if err != nil {
			return err
		}

		tier, size := s.jury(next)
		selected, err := s.Registry.Select(ctx, tx, tier, []string{d.Client, d.Freelancer}, size)
		if err != nil {
			return err
		}
		if len(selected) < size {
			return fmt.Errorf("%w: need %d %s jurors, found %d", ErrNotEnoughJurors, size, tier, len(selected))
		}
		base, bonus, err := s.cfg.Schedule.JurorFee(budget, next)
		if err != nil {
			return err
		}
		seats := make([]Seat, 0, len(selected))
		for _, j := range selected {
			if err := kv.Save(ctx, tx, feeKey(id, next, j), FeeOwed{Base: base, Bonus: bonus}); err != nil {
				return fmt.Errorf("dispute: save fee %s/%s: %w", id, j, err)
			}
			if err := s.Registry.MarkBusy(ctx, tx, j); err != nil {
				return err
			}
			seats = append(seats, Seat{Account: j})
		}

		d.Round = next
		d.Jurors = seats
		d.Votes = nil
		d.Ruling = nil
		d.Status = StatusVoting
		d.StartBlock = log.Block()
		d.Evidence = evidence
		if err := save(ctx, tx, d); err != nil {
			return err
		}
		log.Emit(event.DisputeAppealStarted, id, map[string]any{
			"appellant": caller.ID,
			"bond":      amount.String(),
			"round":     next,
			"jurors":    selected,
		})
		return nil
	})
}

// CastVote records a juror's ballot for the current round.
func (s *Service) CastVote(ctx context.Context, caller policy.Caller, id string, vote Vote) ([]event.Event, error) {
	if !vote.Valid() {
		return nil, ErrInvalidVote
	}
	return s.run(ctx, "dispute.vote", id, func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		d, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.Status != StatusVoting {
			return fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id, d.Status)
		}
		if log.Block() > d.StartBlock+s.cfg.VotingPeriod {
			return ErrVotingClosed
		}
		seat := d.seat(caller.ID)
		if seat == nil {
			return ErrNotJuror
		}
		if seat.Voted {
			return ErrAlreadyVoted
		}
		if len(d.Votes) >= len(d.Jurors) {
			return ErrVotesFull
		}
		if d.Votes == nil {
			d.Votes = make(map[string]Vote, len(d.Jurors))
		}
		d.Votes[caller.ID] = vote
		seat.Voted = true
		if err := save(ctx, tx, d); err != nil {
			return err
		}
		log.Emit(event.DisputeVoteCast, id, map[string]any{
			"juror": caller.ID,
			"round": d.Round,
		})
		return nil
	})
}

// tally returns the ruling the votes support. A tie favours the freelancer.
func tally(votes map[string]Vote) (ruling project.Ruling, forClient, forFreelancer int) {
	for _, v := range votes {
		if v == ForClient {
			forClient++
		} else {
			forFreelancer++
		}
	}
	if forClient > forFreelancer {
		return project.ClientWins, forClient, forFreelancer
	}
	return project.FreelancerWins, forClient, forFreelancer
}

// FinalizeRound closes voting once the period has elapsed, credits the
// jurors and makes the jury's ruling appealable.
func (s *Service) FinalizeRound(ctx context.Context, caller policy.Caller, id string) ([]event.Event, error) {
	return s.run(ctx, "dispute.finalize_round", id, func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		d, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.Status != StatusVoting {
			return fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id, d.Status)
		}
		if log.Block() <= d.StartBlock+s.cfg.VotingPeriod {
			return fmt.Errorf("%w: voting open until block %d", ErrPeriodOpen, d.StartBlock+s.cfg.VotingPeriod)
		}

		ruling, forClient, forFreelancer := tally(d.Votes)
		for _, seat := range d.Jurors {
			if seat.Voted {
				if err := s.creditJuror(ctx, tx, log, d, seat.Account, d.Votes[seat.Account].Ruling() == ruling); err != nil {
					return err
				}
			}
			if err := s.Registry.ReleaseBusy(ctx, tx, seat.Account); err != nil {
				return err
			}
		}

		d.Ruling = &ruling
		d.Status = StatusAppealable
		d.StartBlock = log.Block()
		if err := save(ctx, tx, d); err != nil {
			return err
		}
		log.Emit(event.DisputeRoundFinalized, id, map[string]any{
			"round":          d.Round,
			"ruling":         string(ruling),
			"for_client":     forClient,
			"for_freelancer": forFreelancer,
		})
		return nil
	})
}

func (s *Service) creditJuror(ctx context.Context, tx kv.Tx, log *event.Log, d Dispute, account string, withMajority bool) error {
	fee, err := loadFee(ctx, tx, d.Project, d.Round, account)
	if err != nil {
		return err
	}
	amount := fee.Base
	if withMajority {
		amount = amount.Add(fee.Bonus)
	}
	if err := credit(ctx, tx, d.Project, account, amount); err != nil {
		return err
	}
	if err := s.Reputation.OnJuryVote(ctx, tx, log, account, d.Project, withMajority); err != nil {
		return err
	}
	if withMajority || s.cfg.Minority != MinoritySlash {
		return nil
	}
	if _, err := s.Registry.Slash(ctx, tx, log, account); err != nil {
		if errors.Is(err, juror.ErrNotRegistered) {
			s.log.Debug().Str("juror", account).Msg("minority juror already left the registry")
			return nil
		}
		return err
	}
	return nil
}

// EnforceFinalRuling executes the standing ruling once nobody appealed in
// time, settles the dispute's funds and records the outcome.
func (s *Service) EnforceFinalRuling(ctx context.Context, caller policy.Caller, id string) ([]event.Event, error) {
	return s.run(ctx, "dispute.enforce", id, func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		d, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.Status != StatusAppealable || d.Ruling == nil {
			return fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id, d.Status)
		}
		if log.Block() <= d.StartBlock+s.cfg.AppealPeriod {
			return fmt.Errorf("%w: appeal open until block %d", ErrPeriodOpen, d.StartBlock+s.cfg.AppealPeriod)
		}
		ruling := *d.Ruling
		winner, loser := d.Parties(ruling)
		budget, err := s.Projects.Budget(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.Projects.OnRuling(ctx, tx, log, id, ruling); err != nil {
			return err
		}
		if err := s.settle(ctx, tx, log, id, winner, loser); err != nil {
			return err
		}
		if err := s.Reputation.OnDisputeOutcome(ctx, tx, log, winner, loser, id, budget); err != nil {
			return err
		}
		d.Status = StatusFinalized
		if err := save(ctx, tx, d); err != nil {
			return err
		}
		s.log.Info().Str("project", id).Str("winner", winner).Uint8("rounds", d.Round).Msg("dispute resolved")
		log.Emit(event.DisputeResolved, id, map[string]any{
			"winner": winner,
			"ruling": string(ruling),
		})
		return nil
	})
}

func (s *Service) read(ctx context.Context, fn func(tx kv.Tx) error) error {
	tx, err := s.kv.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	return fn(tx)
}

func (s *Service) Get(ctx context.Context, id string) (View, error) {
	var v View
	err := s.read(ctx, func(tx kv.Tx) error {
		d, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		v.Dispute = d
		if v.ProjectStatus, err = s.Projects.Status(ctx, tx, id); err != nil {
			return err
		}
		v.RequirementsURI, v.SubmissionURI, err = s.Projects.EvidenceURIs(ctx, tx, id)
		if errors.Is(err, project.ErrNoSubmission) {
			return nil
		}
		return err
	})
	return v, err
}

// Bonds lists the bonds still held for a dispute, by round.
func (s *Service) Bonds(ctx context.Context, id string) ([]AppealBond, error) {
	var out []AppealBond
	err := s.read(ctx, func(tx kv.Tx) error {
		var err error
		out, err = bonds(ctx, tx, id)
		return err
	})
	return out, err
}

// Cost returns the arbitration cost accumulated so far. It is zero once the
// dispute is settled.
func (s *Service) Cost(ctx context.Context, id string) (ledger.Balance, error) {
	var cost ledger.Balance
	err := s.read(ctx, func(tx kv.Tx) error {
		var err error
		cost, err = loadCost(ctx, tx, id)
		return err
	})
	return cost, err
}

func (s *Service) Rewards(ctx context.Context, id string) ([]Reward, error) {
	var out []Reward
	err := s.read(ctx, func(tx kv.Tx) error {
		var err error
		out, err = rewards(ctx, tx, id)
		return err
	})
	return out, err
}
