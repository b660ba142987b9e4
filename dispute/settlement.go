package dispute

import (
	"context"
	"fmt"

	"disputeflow/errs"
	"disputeflow/event"
	"disputeflow/kv"
	"disputeflow/ledger"
)

var ErrPayoutFailed = errs.New(errs.ErrPaymentFailed, "dispute: juror payout failed")

// settle moves every fund the dispute holds. The winner gets its bonds back,
// the loser's bonds go to the settlement account and the loser covers whatever
// of the arbitration cost the bonds did not. Jurors are then paid out of that
// money; a reward it cannot cover is settled short and counted. All
// per-dispute financial records are removed afterwards.
func (s *Service) settle(ctx context.Context, tx kv.Tx, log *event.Log, id, winner, loser string) error {
	pot := s.cfg.SettlementAccount

	held, err := bonds(ctx, tx, id)
	if err != nil {
		return err
	}
	var collected ledger.Balance
	for _, b := range held {
		if b.Appellant == winner {
			if _, err := s.Ledger.Unreserve(ctx, tx, b.Appellant, b.Amount); err != nil {
				return fmt.Errorf("dispute: return bond %d: %w", b.Round, err)
			}
			continue
		}
		moved, err := s.Ledger.RepatriateReserved(ctx, tx, b.Appellant, pot, b.Amount)
		if err != nil {
			return fmt.Errorf("dispute: collect bond %d: %w", b.Round, err)
		}
		collected = collected.Add(moved)
	}

	cost, err := loadCost(ctx, tx, id)
	if err != nil {
		return err
	}
	var topup ledger.Balance
	if cost > collected {
		shortfall := cost - collected
		if err := s.Ledger.Transfer(ctx, tx, loser, pot, shortfall); err != nil {
			s.log.Warn().Err(err).Str("project", id).Str("loser", loser).
				Stringer("shortfall", shortfall).Msg("arbitration cost top-up failed")
			s.Obs.TopupFailed(ctx, id)
		} else {
			topup = shortfall
		}
	}

	owed, err := rewards(ctx, tx, id)
	if err != nil {
		return err
	}
	// Jurors are paid from what this dispute funded, never from what other
	// disputes left in the settlement account.
	budget := collected.Add(topup)
	var paid, unpaid ledger.Balance
	for _, r := range owed {
		amount := r.Amount.Min(budget)
		if amount > 0 {
			if err := s.Ledger.Transfer(ctx, tx, pot, r.Juror, amount); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrPayoutFailed, r.Juror, err)
			}
			budget = budget.Sub(amount)
			paid = paid.Add(amount)
			s.Obs.JurorPaid(ctx)
		}
		if short := r.Amount.Sub(amount); short > 0 {
			unpaid = unpaid.Add(short)
			s.log.Warn().Str("project", id).Str("juror", r.Juror).
				Stringer("owed", r.Amount).Stringer("paid", amount).Msg("juror reward underfunded")
			s.Obs.PayoutDeficit(ctx, id)
		}
	}

	if err := tx.Delete(ctx, costKey(id)); err != nil {
		return fmt.Errorf("dispute: clear cost %s: %w", id, err)
	}
	for _, prefix := range [][]byte{bondPrefix(id), feePrefix(id), rewardPrefix(id)} {
		if _, err := kv.DeletePrefix(ctx, tx, prefix); err != nil {
			return fmt.Errorf("dispute: clear %s records: %w", id, err)
		}
	}

	log.Emit(event.DisputeCostsPaid, id, map[string]any{
		"cost":      cost.String(),
		"collected": collected.String(),
		"topup":     topup.String(),
		"rewards":   paid.String(),
		"unpaid":    unpaid.String(),
	})
	return nil
}
