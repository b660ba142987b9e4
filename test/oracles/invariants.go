// Package oracles checks global invariants over a snapshot of the store.
package oracles

import (
	"context"
	"fmt"

	"disputeflow/dispute"
	"disputeflow/kv"
	"disputeflow/ledger"
	"disputeflow/project"
)

// snapshot is everything the oracles look at, read in one transaction.
type snapshot struct {
	issuance ledger.Balance
	accounts map[string]ledger.Account
	projects map[string]project.Project
	disputes map[string]dispute.Dispute
	costs    map[string]bool
	bonds    map[string]int
	stakes   map[string]ledger.Balance
	pools    map[string][]string
	outbox   []uint64
	seq      uint64
}

type Oracle struct {
	Name  string
	Check func(s *snapshot) string
}

// scan decodes every record under prefix and hands it over together with
// the key parts after the prefix.
func scan[T any](ctx context.Context, r kv.Reader, prefix []byte, fn func(rest []string, v T)) error {
	depth := len(kv.Parts(prefix))
	return r.Scan(ctx, prefix, func(key, raw []byte) error {
		v, err := kv.Decode[T](raw)
		if err != nil {
			return fmt.Errorf("decode %q: %w", key, err)
		}
		fn(kv.Parts(key)[depth:], v)
		return nil
	})
}

func load(ctx context.Context, r kv.Reader) (*snapshot, error) {
	s := &snapshot{
		accounts: map[string]ledger.Account{},
		projects: map[string]project.Project{},
		disputes: map[string]dispute.Dispute{},
		costs:    map[string]bool{},
		bonds:    map[string]int{},
		stakes:   map[string]ledger.Balance{},
		pools:    map[string][]string{},
	}
	var err error
	if s.issuance, err = kv.LoadOr(ctx, r, kv.Key("ledger", "issuance"), ledger.Balance(0)); err != nil {
		return nil, err
	}
	if s.seq, err = kv.LoadOr(ctx, r, kv.Key("outbox", "seq"), uint64(0)); err != nil {
		return nil, err
	}
	steps := []error{
		scan(ctx, r, kv.Key("ledger", "acct"), func(rest []string, a ledger.Account) { s.accounts[rest[0]] = a }),
		scan(ctx, r, kv.Key("project", "p"), func(rest []string, p project.Project) { s.projects[rest[0]] = p }),
		scan(ctx, r, kv.Key("dispute", "d"), func(rest []string, d dispute.Dispute) { s.disputes[rest[0]] = d }),
		scan(ctx, r, kv.Key("dispute", "cost"), func(rest []string, _ ledger.Balance) { s.costs[rest[0]] = true }),
		scan(ctx, r, kv.Key("dispute", "bond"), func(rest []string, _ dispute.AppealBond) { s.bonds[rest[0]]++ }),
		scan(ctx, r, kv.Key("juror", "stake"), func(rest []string, b ledger.Balance) { s.stakes[rest[0]] = b }),
		scan(ctx, r, kv.Key("juror", "pool"), func(rest []string, m []string) { s.pools[rest[0]] = m }),
		r.Scan(ctx, kv.Key("outbox", "e"), func(key, _ []byte) error {
			var seq uint64
			if _, err := fmt.Sscan(kv.Parts(key)[2], &seq); err != nil {
				return fmt.Errorf("outbox key %q: %w", key, err)
			}
			s.outbox = append(s.outbox, seq)
			return nil
		}),
	}
	for _, err := range steps {
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// escrowed reports whether a project in status st still holds its budget.
func escrowed(st project.Status) bool {
	switch st {
	case project.StatusCreated, project.StatusInProgress, project.StatusInReview,
		project.StatusRejected, project.StatusInDispute:
		return true
	default:
		return false
	}
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_issuance_conserved",
			Check: func(s *snapshot) string {
				var total ledger.Balance
				for _, a := range s.accounts {
					total = total.Add(a.Total())
				}
				if total != s.issuance {
					return fmt.Sprintf("accounts hold %s, issuance %s", total, s.issuance)
				}
				return ""
			},
		},
		{
			Name: "O2_escrow_matches_open_projects",
			Check: func(s *snapshot) string {
				want := map[string]ledger.Balance{}
				for _, p := range s.projects {
					if escrowed(p.Status) {
						want[p.Client] = want[p.Client].Add(p.Budget)
					}
				}
				for who, a := range s.accounts {
					if a.Locked != want[who] {
						return fmt.Sprintf("%s locks %s, open budgets %s", who, a.Locked, want[who])
					}
					delete(want, who)
				}
				for who, b := range want {
					if b != 0 {
						return fmt.Sprintf("%s has open budgets %s but no account", who, b)
					}
				}
				return ""
			},
		},
		{
			Name: "O3_dispute_project_linkage",
			Check: func(s *snapshot) string {
				for id, d := range s.disputes {
					p, ok := s.projects[id]
					if !ok {
						return fmt.Sprintf("dispute %s has no project", id)
					}
					open := d.Status != dispute.StatusFinalized
					if open && p.Status != project.StatusInDispute {
						return fmt.Sprintf("open dispute %s on %s project", id, p.Status)
					}
					if !open && p.Status != project.StatusCompleted {
						return fmt.Sprintf("finalized dispute %s on %s project", id, p.Status)
					}
				}
				for id, p := range s.projects {
					if _, ok := s.disputes[id]; p.Status == project.StatusInDispute && !ok {
						return fmt.Sprintf("project %s in dispute without a record", id)
					}
				}
				return ""
			},
		},
		{
			Name: "O4_settled_disputes_clean",
			Check: func(s *snapshot) string {
				for id, d := range s.disputes {
					if d.Status != dispute.StatusFinalized {
						continue
					}
					if s.costs[id] || s.bonds[id] > 0 {
						return fmt.Sprintf("finalized dispute %s keeps cost=%t bonds=%d", id, s.costs[id], s.bonds[id])
					}
				}
				return ""
			},
		},
		{
			Name: "O5_juror_stake_reserved",
			Check: func(s *snapshot) string {
				for who, stake := range s.stakes {
					if s.accounts[who].Reserved < stake {
						return fmt.Sprintf("juror %s stakes %s, reserves %s", who, stake, s.accounts[who].Reserved)
					}
				}
				for tier, members := range s.pools {
					for _, m := range members {
						if _, ok := s.stakes[m]; !ok {
							return fmt.Sprintf("%s pool lists unstaked %s", tier, m)
						}
					}
				}
				return ""
			},
		},
		{
			Name: "O6_outbox_seq_monotonic",
			Check: func(s *snapshot) string {
				for i, seq := range s.outbox {
					if seq > s.seq {
						return fmt.Sprintf("entry %d beyond counter %d", seq, s.seq)
					}
					if i > 0 && seq <= s.outbox[i-1] {
						return fmt.Sprintf("entry %d follows %d", seq, s.outbox[i-1])
					}
				}
				return ""
			},
		},
	}
}

// Run snapshots store and returns the first failing oracle with its detail,
// or an empty name when every oracle holds.
func Run(ctx context.Context, store kv.Store) (string, string, error) {
	tx, err := store.Begin(ctx)
	if err != nil {
		return "", "", fmt.Errorf("oracles: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := load(ctx, tx)
	if err != nil {
		return "", "", fmt.Errorf("oracles: snapshot: %w", err)
	}
	for _, o := range All() {
		if detail := o.Check(s); detail != "" {
			return o.Name, detail, nil
		}
	}
	return "", "", nil
}
