package dispute

import (
	"disputeflow/ledger"
	"disputeflow/project"
)

// Status is the phase a dispute is in.
type Status string

const (
	StatusAIProcessing Status = "ai_processing"
	StatusAppealable   Status = "appealable"
	StatusVoting       Status = "voting"
	StatusFinalized    Status = "finalized"
)

// Vote is a juror's ballot.
type Vote string

const (
	ForClient     Vote = "for_client"
	ForFreelancer Vote = "for_freelancer"
)

func (v Vote) Valid() bool {
	return v == ForClient || v == ForFreelancer
}

// Ruling maps the ballot to the side it favours.
func (v Vote) Ruling() project.Ruling {
	if v == ForClient {
		return project.ClientWins
	}
	return project.FreelancerWins
}

// Seat is one place on the jury of the current round.
type Seat struct {
	Account string `json:"account"`
	Voted   bool   `json:"voted"`
}

// Dispute is the arbitration record of one project. It is never deleted;
// Finalized is terminal.
type Dispute struct {
	Project    string          `json:"project"`
	Client     string          `json:"client"`
	Freelancer string          `json:"freelancer"`
	Status     Status          `json:"status"`
	Evidence   []byte          `json:"evidence,omitempty"`
	StartBlock uint64          `json:"start_block"`
	Ruling     *project.Ruling `json:"ruling,omitempty"`
	Round      uint8           `json:"round"`
	Jurors     []Seat          `json:"jurors,omitempty"`
	Votes      map[string]Vote `json:"votes,omitempty"`
}

// Parties returns winner and loser under ruling.
func (d Dispute) Parties(ruling project.Ruling) (winner, loser string) {
	if ruling == project.ClientWins {
		return d.Client, d.Freelancer
	}
	return d.Freelancer, d.Client
}

func (d *Dispute) seat(account string) *Seat {
	for i := range d.Jurors {
		if d.Jurors[i].Account == account {
			return &d.Jurors[i]
		}
	}
	return nil
}

// AppealBond is the deposit posted to open a round.
type AppealBond struct {
	Round     uint8          `json:"round"`
	Appellant string         `json:"appellant"`
	Amount    ledger.Balance `json:"amount"`
}

// FeeOwed is what a juror of a round earns for voting, fixed when the round
// opens.
type FeeOwed struct {
	Base  ledger.Balance `json:"base"`
	Bonus ledger.Balance `json:"bonus"`
}

// View is a dispute together with the project context jurors review.
type View struct {
	Dispute
	ProjectStatus   project.Status `json:"project_status"`
	RequirementsURI string         `json:"requirements_uri,omitempty"`
	SubmissionURI   string         `json:"submission_uri,omitempty"`
}
