package ledger

import (
	"context"
	"fmt"

	"disputeflow/kv"
)

// Service exposes balances and minting outside of any domain command.
type Service struct {
	kv     kv.Store
	ledger *Ledger
}

func NewService(store kv.Store, l *Ledger) *Service {
	return &Service{kv: store, ledger: l}
}

// Mint credits who with freshly issued funds in its own transaction.
func (s *Service) Mint(ctx context.Context, who string, amount Balance) (Account, error) {
	tx, err := s.kv.Begin(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.ledger.Mint(ctx, tx, who, amount); err != nil {
		return Account{}, err
	}
	acct, err := s.ledger.Account(ctx, tx, who)
	if err != nil {
		return Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("ledger: commit: %w", err)
	}
	return acct, nil
}

func (s *Service) Account(ctx context.Context, who string) (Account, error) {
	tx, err := s.kv.Begin(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	return s.ledger.Account(ctx, tx, who)
}
