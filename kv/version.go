package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// FormatVersion is the record layout written by this build.
const FormatVersion = "1.0.0"

const formatConstraint = "^1.0.0"

var ErrIncompatibleFormat = errors.New("kv: incompatible store format")

var versionKey = Key("meta", "version")

// EnsureVersion stamps a fresh store with FormatVersion, or checks that an
// existing store was written by a compatible build.
func EnsureVersion(ctx context.Context, s Store) (string, error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("kv: begin version check: %w", err)
	}
	defer tx.Rollback(ctx)

	raw, err := tx.Get(ctx, versionKey)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := tx.Put(ctx, versionKey, []byte(FormatVersion)); err != nil {
			return "", fmt.Errorf("kv: stamp version: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return "", fmt.Errorf("kv: commit version: %w", err)
		}
		return FormatVersion, nil
	case err != nil:
		return "", fmt.Errorf("kv: read version: %w", err)
	}

	stored, err := semver.NewVersion(string(raw))
	if err != nil {
		return "", fmt.Errorf("kv: parse stored version %q: %w", raw, err)
	}
	constraint, err := semver.NewConstraint(formatConstraint)
	if err != nil {
		return "", fmt.Errorf("kv: parse constraint: %w", err)
	}
	if !constraint.Check(stored) {
		return stored.String(), fmt.Errorf("%w: store has %s, want %s", ErrIncompatibleFormat, stored, formatConstraint)
	}
	return stored.String(), nil
}
