package dispute

import (
	"errors"
	"fmt"

	"disputeflow/bond"
)

// MinorityPolicy decides what happens to jurors who voted against the
// majority.
type MinorityPolicy string

const (
	// MinorityBonus only withholds the performance bonus.
	MinorityBonus MinorityPolicy = "bonus"
	// MinoritySlash also slashes the juror's stake.
	MinoritySlash MinorityPolicy = "slash"
)

type Config struct {
	VotingPeriod      uint64
	AppealPeriod      uint64
	MaxEvidence       int
	MinJurors         int
	MaxJurors         int
	Minority          MinorityPolicy
	SettlementAccount string
	Schedule          bond.Schedule
}

func DefaultConfig() Config {
	return Config{
		VotingPeriod:      200,
		AppealPeriod:      100,
		MaxEvidence:       256,
		MinJurors:         3,
		MaxJurors:         5,
		Minority:          MinorityBonus,
		SettlementAccount: "arbitration-settlement",
		Schedule:          bond.DefaultSchedule(),
	}
}

func (c Config) Validate() error {
	switch {
	case c.VotingPeriod == 0 || c.AppealPeriod == 0:
		return errors.New("dispute: periods must be positive")
	case c.MaxEvidence <= 0:
		return errors.New("dispute: max evidence must be positive")
	case c.MinJurors <= 0 || c.MaxJurors < c.MinJurors:
		return fmt.Errorf("dispute: jury sizes %d..%d out of order", c.MinJurors, c.MaxJurors)
	case c.Minority != MinorityBonus && c.Minority != MinoritySlash:
		return fmt.Errorf("dispute: unknown minority policy %q", c.Minority)
	case c.SettlementAccount == "":
		return errors.New("dispute: settlement account required")
	}
	return nil
}
