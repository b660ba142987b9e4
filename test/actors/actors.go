// Package actors drives the marketplace services from concurrent goroutines
// the way independent users would.
package actors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"disputeflow/chain"
	"disputeflow/dispute"
	"disputeflow/errs"
	"disputeflow/juror"
	"disputeflow/ledger"
	"disputeflow/outbox"
	"disputeflow/policy"
	"disputeflow/project"
	"disputeflow/reputation"
)

// World is the set of services every actor shares.
type World struct {
	Ledger     *ledger.Service
	Reputation *reputation.Service
	Projects   *project.Service
	Disputes   *dispute.Service
	Jurors     *juror.Service
	Relay      *outbox.Relay
	Clock      *chain.ManualClock
	Oracle     policy.Caller
	// Transient, when set, marks infrastructure errors an actor may shrug off.
	Transient func(error) bool
}

// expected reports whether err is a domain refusal. Under contention
// commands lose races all the time; anything without a kind is a real
// failure.
func (w *World) expected(err error) bool {
	if err == nil || errs.Kind(err) != nil {
		return true
	}
	return w.Transient != nil && w.Transient(err)
}

func done(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

func pause(rng *rand.Rand) {
	time.Sleep(time.Duration(2+rng.Intn(8)) * time.Millisecond)
}

// Complete drives one project from creation to accepted work and returns
// its id.
func Complete(ctx context.Context, w *World, client, freelancer policy.Caller, budget ledger.Balance) (string, error) {
	id, err := Deliver(ctx, w, client, freelancer, budget)
	if err != nil {
		return "", err
	}
	if _, err := w.Projects.AcceptWork(ctx, client, id, 4); err != nil {
		return "", fmt.Errorf("accept %s: %w", id, err)
	}
	return id, nil
}

// Deliver drives a project up to a submitted deliverable.
func Deliver(ctx context.Context, w *World, client, freelancer policy.Caller, budget ledger.Balance) (string, error) {
	p, _, err := w.Projects.Create(ctx, client, project.CreateRequest{Budget: budget, URI: "ipfs://brief", Duration: 1_000_000})
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	if _, err := w.Projects.Apply(ctx, freelancer, p.ID); err != nil {
		return "", fmt.Errorf("apply %s: %w", p.ID, err)
	}
	if _, err := w.Projects.StartWork(ctx, client, p.ID, freelancer.ID); err != nil {
		return "", fmt.Errorf("start %s: %w", p.ID, err)
	}
	req := project.SubmitRequest{ContentHash: "0xfeed", URI: "ipfs://work/" + p.ID}
	if _, err := w.Projects.SubmitWork(ctx, freelancer, p.ID, req); err != nil {
		return "", fmt.Errorf("submit %s: %w", p.ID, err)
	}
	return p.ID, nil
}

// Litigant keeps opening projects between client and freelancer, rejecting
// the work and fighting the dispute through every round it can.
func Litigant(ctx context.Context, w *World, client, freelancer policy.Caller, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for {
		if end, err := done(ctx, stop); end {
			return err
		}
		budget := ledger.Balance(1_000 + rng.Intn(9_000))
		id, err := Deliver(ctx, w, client, freelancer, budget)
		if !w.expected(err) {
			return err
		}
		if err != nil {
			pause(rng)
			continue
		}
		if rng.Intn(4) == 0 {
			if _, err := w.Projects.AcceptWork(ctx, client, id, uint8(1+rng.Intn(5))); !w.expected(err) {
				return err
			}
			continue
		}
		if err := litigate(ctx, w, rng, client, freelancer, id); err != nil {
			return err
		}
	}
}

func litigate(ctx context.Context, w *World, rng *rand.Rand, client, freelancer policy.Caller, id string) error {
	if _, err := w.Projects.RejectWork(ctx, client, id, "ipfs://reasons"); !w.expected(err) {
		return err
	}
	if _, _, err := w.Disputes.CreateDispute(ctx, freelancer, id, []byte("delivered as specified")); err != nil {
		if w.expected(err) {
			return nil
		}
		return err
	}
	ruling := project.ClientWins
	if rng.Intn(2) == 0 {
		ruling = project.FreelancerWins
	}
	if _, err := w.Disputes.SubmitRuling(ctx, w.Oracle, id, ruling); !w.expected(err) {
		return err
	}

	// three rounds with retries fit well inside this bound
	for step := 0; step < 32; step++ {
		view, err := w.Disputes.Get(ctx, id)
		if err != nil {
			if w.expected(err) {
				return nil
			}
			return err
		}
		if view.Status == dispute.StatusFinalized {
			return nil
		}
		switch view.Status {
		case dispute.StatusAppealable:
			if rng.Intn(3) > 0 && view.Ruling != nil {
				loser := client
				if *view.Ruling == project.ClientWins {
					loser = freelancer
				}
				_, err := w.Disputes.AppealRuling(ctx, loser, id, []byte("please reconsider"))
				if !w.expected(err) {
					return err
				}
				if err == nil {
					continue
				}
			}
			w.Clock.Advance(1_000)
			if _, err := w.Disputes.EnforceFinalRuling(ctx, client, id); !w.expected(err) {
				return err
			}
		case dispute.StatusVoting:
			for _, seat := range view.Jurors {
				vote := dispute.ForClient
				if rng.Intn(2) == 0 {
					vote = dispute.ForFreelancer
				}
				if _, err := w.Disputes.CastVote(ctx, policy.Caller{ID: seat.Account, Role: "member"}, id, vote); !w.expected(err) {
					return err
				}
			}
			w.Clock.Advance(1_000)
			if _, err := w.Disputes.FinalizeRound(ctx, client, id); !w.expected(err) {
				return err
			}
		default:
			return fmt.Errorf("dispute %s stuck in %s", id, view.Status)
		}
		pause(rng)
	}
	return nil
}

// Churner opts eligible accounts in and out of the juror registry.
func Churner(ctx context.Context, w *World, accounts []policy.Caller, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for {
		if end, err := done(ctx, stop); end {
			return err
		}
		who := accounts[rng.Intn(len(accounts))]
		var err error
		if rng.Intn(2) == 0 {
			_, err = w.Jurors.RegisterJuror(ctx, who)
		} else {
			_, err = w.Jurors.DeregisterJuror(ctx, who)
		}
		if !w.expected(err) {
			return err
		}
		pause(rng)
	}
}

// Relayer drains the outbox until stopped.
func Relayer(ctx context.Context, w *World, stop <-chan struct{}) error {
	for {
		if end, err := done(ctx, stop); end {
			return err
		}
		if _, err := w.Relay.Drain(ctx); !w.expected(err) {
			return fmt.Errorf("relay: %w", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
