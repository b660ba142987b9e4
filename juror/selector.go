package juror

import (
	"context"
	"fmt"

	"disputeflow/kv"
	"disputeflow/reputation"
)

// Select draws up to count distinct jurors, walking the pools from Gold down
// to minTier. Each pool resumes where its previous draw stopped, so repeated
// selections spread across the whole pool. Fewer than count jurors are
// returned when the pools run dry.
func (r *Registry) Select(ctx context.Context, tx kv.Tx, minTier reputation.Tier, exclude []string, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	if minTier < reputation.Bronze {
		minTier = reputation.Bronze
	}
	skip := make(map[string]struct{}, len(exclude)+count)
	for _, a := range exclude {
		skip[a] = struct{}{}
	}

	selected := make([]string, 0, count)
	for _, tier := range reputation.Tiers {
		if tier < minTier || len(selected) >= count {
			break
		}
		pool, err := r.Pool(ctx, tx, tier)
		if err != nil {
			return nil, err
		}
		if len(pool) == 0 {
			continue
		}
		cursor, err := kv.LoadOr(ctx, tx, cursorKey(tier), uint32(0))
		if err != nil {
			return nil, fmt.Errorf("juror: load %s cursor: %w", tier, err)
		}

		start := int(cursor) % len(pool)
		attempts := 0
		for len(selected) < count && attempts < len(pool) {
			candidate := pool[(start+attempts)%len(pool)]
			attempts++
			if _, taken := skip[candidate]; taken {
				continue
			}
			skip[candidate] = struct{}{}
			selected = append(selected, candidate)
		}

		next := uint32((start + attempts) % len(pool))
		if err := kv.Save(ctx, tx, cursorKey(tier), next); err != nil {
			return nil, fmt.Errorf("juror: save %s cursor: %w", tier, err)
		}
	}
	return selected, nil
}
