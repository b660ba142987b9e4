// Package bond prices appeal rounds: the bond an appellant posts, the
// arbitration cost a round adds and the fee each juror earns.
package bond

import (
	"fmt"

	"disputeflow/errs"
	"disputeflow/ledger"
)

const (
	FirstRound = 1
	LastRound  = 3
)

var ErrInvalidRound = errs.New(errs.ErrInvalidArgument, "bond: round must be between 1 and 3")

type rate struct {
	bondPct uint64
	costPct uint64
	feePct  uint64
}

var rates = [LastRound]rate{
	{bondPct: 5, costPct: 2},
	{bondPct: 20, costPct: 5, feePct: 1},
	{bondPct: 50, costPct: 8, feePct: 2},
}

// BonusPct is the majority bonus as a percentage of the base fee.
const BonusPct = 25

// Schedule holds the per-round bond floors.
type Schedule struct {
	Floors [LastRound]ledger.Balance
}

func DefaultSchedule() Schedule {
	return Schedule{Floors: [LastRound]ledger.Balance{ledger.Unit / 2, 2 * ledger.Unit, 5 * ledger.Unit}}
}

func lookup(round uint8) (rate, error) {
	if round < FirstRound || round > LastRound {
		return rate{}, fmt.Errorf("%w: got %d", ErrInvalidRound, round)
	}
	return rates[round-1], nil
}

// Bond is max(budget·pct, floor) for the round.
func (s Schedule) Bond(budget ledger.Balance, round uint8) (ledger.Balance, error) {
	r, err := lookup(round)
	if err != nil {
		return 0, err
	}
	amount := budget.Percent(r.bondPct)
	if floor := s.Floors[round-1]; amount < floor {
		return floor, nil
	}
	return amount, nil
}

// Cost is the arbitration cost the round adds.
func (s Schedule) Cost(budget ledger.Balance, round uint8) (ledger.Balance, error) {
	r, err := lookup(round)
	if err != nil {
		return 0, err
	}
	return budget.Percent(r.costPct), nil
}

// JurorFee is the per-juror base fee and majority bonus for the round. The
// first round has no jury.
func (s Schedule) JurorFee(budget ledger.Balance, round uint8) (base, bonus ledger.Balance, err error) {
	r, err := lookup(round)
	if err != nil {
		return 0, 0, err
	}
	base = budget.Percent(r.feePct)
	return base, base.Percent(BonusPct), nil
}
