package project

import (
	"disputeflow/ledger"
)

// Status is the lifecycle state of a project.
type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusInReview   Status = "in_review"
	StatusRejected   Status = "rejected"
	StatusInDispute  Status = "in_dispute"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Ruling names the side a dispute was decided for.
type Ruling string

const (
	ClientWins     Ruling = "client_wins"
	FreelancerWins Ruling = "freelancer_wins"
)

func (r Ruling) Valid() bool {
	return r == ClientWins || r == FreelancerWins
}

// Opposite returns the other side.
func (r Ruling) Opposite() Ruling {
	if r == ClientWins {
		return FreelancerWins
	}
	return ClientWins
}

const (
	MaxURI        = 256
	MaxMetadata   = 1024
	MaxApplicants = 50
)

// Submission is the work a freelancer hands in for review.
type Submission struct {
	ContentHash string `json:"content_hash"`
	URI         string `json:"uri"`
	Metadata    string `json:"metadata,omitempty"`
	Block       uint64 `json:"block"`
}

// Project is an escrowed job between a client and, once work starts, a
// freelancer. The budget stays locked in the client's account until the
// project completes or is cancelled.
type Project struct {
	ID           string         `json:"id"`
	Client       string         `json:"client"`
	Freelancer   string         `json:"freelancer,omitempty"`
	Budget       ledger.Balance `json:"budget"`
	URI          string         `json:"uri"`
	Duration     uint64         `json:"duration"`
	Deadline     uint64         `json:"deadline,omitempty"`
	Status       Status         `json:"status"`
	CreatedAt    uint64         `json:"created_at"`
	Submission   *Submission    `json:"submission,omitempty"`
	RejectionURI string         `json:"rejection_uri,omitempty"`
}

// CreateRequest carries the fields a client supplies for a new project.
type CreateRequest struct {
	Budget   ledger.Balance `json:"budget"`
	URI      string         `json:"uri"`
	Duration uint64         `json:"duration"`
}

// SubmitRequest carries a freelancer's submission.
type SubmitRequest struct {
	ContentHash string `json:"content_hash"`
	URI         string `json:"uri"`
	Metadata    string `json:"metadata"`
}
