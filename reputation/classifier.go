package reputation

import (
	"fmt"

	"disputeflow/ledger"
)

// LossPolicy selects how lost disputes affect eligibility.
type LossPolicy string

const (
	// LossStrict disqualifies on any lost dispute.
	LossStrict LossPolicy = "strict"
	// LossRate disqualifies only on a sustained loss rate.
	LossRate LossPolicy = "rate"
)

type threshold struct {
	tier      Tier
	completed uint32
	earned    ledger.Balance
}

var thresholds = []threshold{
	{tier: Gold, completed: 50, earned: 50_000},
	{tier: Silver, completed: 20, earned: 10_000},
	{tier: Bronze, completed: 5, earned: 1_000},
}

// Classifier maps statistics to a tier. The zero value uses the strict policy.
type Classifier struct {
	Policy         LossPolicy
	MinDisputes    uint32
	MaxLossRatePct uint32
}

func DefaultClassifier() Classifier {
	return Classifier{Policy: LossStrict, MinDisputes: 2, MaxLossRatePct: 50}
}

func (c Classifier) Validate() error {
	switch c.Policy {
	case "", LossStrict:
		return nil
	case LossRate:
		if c.MaxLossRatePct > 100 {
			return fmt.Errorf("reputation: max loss rate %d%% exceeds 100", c.MaxLossRatePct)
		}
		return nil
	default:
		return fmt.Errorf("reputation: unknown loss policy %q", c.Policy)
	}
}

func (c Classifier) disqualified(won, lost uint32) bool {
	if lost == 0 {
		return false
	}
	if c.Policy != LossRate {
		return true
	}
	total := uint64(won) + uint64(lost)
	if total <= uint64(c.MinDisputes) {
		return false
	}
	return uint64(lost)*100 > total*uint64(c.MaxLossRatePct)
}

// Classify is a pure function of the four statistics that gate eligibility.
func (c Classifier) Classify(completed uint32, earned ledger.Balance, won, lost uint32) Tier {
	if c.disqualified(won, lost) {
		return Ineligible
	}
	for _, th := range thresholds {
		if completed >= th.completed && earned >= th.earned {
			return th.tier
		}
	}
	return Ineligible
}

// TierOf classifies a record.
func (c Classifier) TierOf(r Record) Tier {
	return c.Classify(r.ProjectsCompleted, r.TotalEarned, r.DisputesWon, r.DisputesLost)
}
