package dispute

import (
	"context"
	"errors"
	"fmt"

	"disputeflow/errs"
	"disputeflow/kv"
	"disputeflow/ledger"
)

var (
	ErrNotFound          = errs.New(errs.ErrNotFound, "dispute: not found")
	ErrAlreadyExists     = errs.New(errs.ErrAlreadyActed, "dispute: project already has a dispute")
	ErrNotFreelancer     = errs.New(errs.ErrUnauthorized, "dispute: only the freelancer can open a dispute")
	ErrNotLosingParty    = errs.New(errs.ErrUnauthorized, "dispute: only the losing party can appeal")
	ErrNotJuror          = errs.New(errs.ErrUnauthorized, "dispute: caller is not on the jury")
	ErrAlreadyVoted      = errs.New(errs.ErrAlreadyActed, "dispute: juror already voted")
	ErrInvalidStatus     = errs.New(errs.ErrInvalidState, "dispute: invalid status for operation")
	ErrEvidenceTooLong   = errs.New(errs.ErrCapacity, "dispute: evidence too long")
	ErrMaxAppealsReached = errs.New(errs.ErrCapacity, "dispute: maximum appeals reached")
	ErrVotesFull         = errs.New(errs.ErrCapacity, "dispute: vote set full")
	ErrNotEnoughJurors   = errs.New(errs.ErrInsufficientEligibility, "dispute: not enough eligible jurors")
	ErrAppealClosed      = errs.New(errs.ErrTiming, "dispute: appeal period over")
	ErrVotingClosed      = errs.New(errs.ErrTiming, "dispute: voting period over")
	ErrPeriodOpen        = errs.New(errs.ErrTiming, "dispute: period has not elapsed")
	ErrInvalidVote       = errs.New(errs.ErrInvalidArgument, "dispute: unknown vote")
	ErrInvalidRuling     = errs.New(errs.ErrInvalidArgument, "dispute: unknown ruling")
)

func disputeKey(id string) []byte { return kv.Key("dispute", "d", id) }
func costKey(id string) []byte    { return kv.Key("dispute", "cost", id) }

func bondPrefix(id string) []byte { return kv.Key("dispute", "bond", id) }
func bondKey(id string, round uint8) []byte {
	return kv.Key("dispute", "bond", id, kv.Num(uint64(round)))
}

func feePrefix(id string) []byte { return kv.Key("dispute", "fee", id) }
func feeKey(id string, round uint8, juror string) []byte {
	return kv.Key("dispute", "fee", id, kv.Num(uint64(round)), juror)
}

func rewardPrefix(id string) []byte     { return kv.Key("dispute", "reward", id) }
func rewardKey(id, juror string) []byte { return kv.Key("dispute", "reward", id, juror) }

func load(ctx context.Context, r kv.Reader, id string) (Dispute, error) {
	d, err := kv.Load[Dispute](ctx, r, disputeKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return Dispute{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: load %s: %w", id, err)
	}
	return d, nil
}

func save(ctx context.Context, tx kv.Tx, d Dispute) error {
	if err := kv.Save(ctx, tx, disputeKey(d.Project), d); err != nil {
		return fmt.Errorf("dispute: save %s: %w", d.Project, err)
	}
	return nil
}

func loadCost(ctx context.Context, r kv.Reader, id string) (ledger.Balance, error) {
	cost, err := kv.LoadOr(ctx, r, costKey(id), ledger.Balance(0))
	if err != nil {
		return 0, fmt.Errorf("dispute: load cost %s: %w", id, err)
	}
	return cost, nil
}

func addCost(ctx context.Context, tx kv.Tx, id string, amount ledger.Balance) (ledger.Balance, error) {
	cost, err := loadCost(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	cost = cost.Add(amount)
	if err := kv.Save(ctx, tx, costKey(id), cost); err != nil {
		return 0, fmt.Errorf("dispute: save cost %s: %w", id, err)
	}
	return cost, nil
}

func saveBond(ctx context.Context, tx kv.Tx, id string, b AppealBond) error {
	if err := kv.Save(ctx, tx, bondKey(id, b.Round), b); err != nil {
		return fmt.Errorf("dispute: save bond %s/%d: %w", id, b.Round, err)
	}
	return nil
}

func bonds(ctx context.Context, r kv.Reader, id string) ([]AppealBond, error) {
	var out []AppealBond
	err := r.Scan(ctx, bondPrefix(id), func(_, value []byte) error {
		b, err := kv.Decode[AppealBond](value)
		if err != nil {
			return err
		}
		out = append(out, b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dispute: scan bonds %s: %w", id, err)
	}
	return out, nil
}

func loadFee(ctx context.Context, r kv.Reader, id string, round uint8, juror string) (FeeOwed, error) {
	fee, err := kv.LoadOr(ctx, r, feeKey(id, round, juror), FeeOwed{})
	if err != nil {
		return FeeOwed{}, fmt.Errorf("dispute: load fee %s/%s: %w", id, juror, err)
	}
	return fee, nil
}

func credit(ctx context.Context, tx kv.Tx, id, juror string, amount ledger.Balance) error {
	if amount == 0 {
		return nil
	}
	key := rewardKey(id, juror)
	total, err := kv.LoadOr(ctx, tx, key, ledger.Balance(0))
	if err != nil {
		return fmt.Errorf("dispute: load reward %s/%s: %w", id, juror, err)
	}
	if err := kv.Save(ctx, tx, key, total.Add(amount)); err != nil {
		return fmt.Errorf("dispute: save reward %s/%s: %w", id, juror, err)
	}
	return nil
}

// Reward is the running total a juror has earned on one dispute.
type Reward struct {
	Juror  string         `json:"juror"`
	Amount ledger.Balance `json:"amount"`
}

func rewards(ctx context.Context, r kv.Reader, id string) ([]Reward, error) {
	var out []Reward
	err := r.Scan(ctx, rewardPrefix(id), func(key, value []byte) error {
		amount, err := kv.Decode[ledger.Balance](value)
		if err != nil {
			return err
		}
		parts := kv.Parts(key)
		out = append(out, Reward{Juror: parts[len(parts)-1], Amount: amount})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dispute: scan rewards %s: %w", id, err)
	}
	return out, nil
}
