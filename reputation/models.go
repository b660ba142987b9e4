package reputation

import (
	"fmt"

	"disputeflow/ledger"
)

// Record is the reputation statistics of one account. Ratings are on a 0..5000
// scale; accuracy is in parts per million.
type Record struct {
	Account           string         `json:"account"`
	RegisteredAt      uint64         `json:"registered_at"`
	LastActivity      uint64         `json:"last_activity"`
	ProjectsCompleted uint32         `json:"projects_completed"`
	ProjectsFailed    uint32         `json:"projects_failed"`
	ProjectsPosted    uint32         `json:"projects_posted"`
	TotalEarned       ledger.Balance `json:"total_earned"`
	TotalSpent        ledger.Balance `json:"total_spent"`
	DisputesInitiated uint32         `json:"disputes_initiated"`
	DisputesWon       uint32         `json:"disputes_won"`
	DisputesLost      uint32         `json:"disputes_lost"`
	RatingSum         uint64         `json:"rating_sum"`
	RatingCount       uint32         `json:"rating_count"`
	JuryParticipation uint32         `json:"jury_participation"`
	JuryAccuracyPPM   uint32         `json:"jury_accuracy_ppm"`
}

// AverageRating returns the mean rating received, or 0 without ratings.
func (r Record) AverageRating() uint32 {
	if r.RatingCount == 0 {
		return 0
	}
	return uint32(r.RatingSum / uint64(r.RatingCount))
}

// Tier is a juror eligibility class. Tiers are totally ordered.
type Tier uint8

const (
	Ineligible Tier = iota
	Bronze
	Silver
	Gold
)

// Tiers lists the paid tiers from highest to lowest.
var Tiers = []Tier{Gold, Silver, Bronze}

func (t Tier) String() string {
	switch t {
	case Ineligible:
		return "ineligible"
	case Bronze:
		return "bronze"
	case Silver:
		return "silver"
	case Gold:
		return "gold"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

func ParseTier(s string) (Tier, error) {
	for _, t := range []Tier{Ineligible, Bronze, Silver, Gold} {
		if t.String() == s {
			return t, nil
		}
	}
	return Ineligible, fmt.Errorf("reputation: unknown tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Attestor names what produced an attestation.
type Attestor string

const (
	ClientApproval    Attestor = "client_approval"
	ArbitrationWin    Attestor = "arbitration_win"
	ArbitrationLoss   Attestor = "arbitration_loss"
	JuryParticipation Attestor = "jury_participation"
)

type Outcome string

const (
	Positive Outcome = "positive"
	Negative Outcome = "negative"
	Neutral  Outcome = "neutral"
)

// Attestation is the audit entry an account receives for one project. A
// later hook on the same project replaces the earlier entry.
type Attestation struct {
	Account  string         `json:"account"`
	Project  string         `json:"project"`
	Attestor Attestor       `json:"attestor"`
	Outcome  Outcome        `json:"outcome"`
	Value    ledger.Balance `json:"value"`
	Block    uint64         `json:"block"`
	Rating   uint32         `json:"rating,omitempty"`
}
