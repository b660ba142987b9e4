// Package event defines the domain events commands return to their callers.
package event

import (
	"github.com/google/uuid"
)

type Topic string

const (
	DisputeCreated         Topic = "dispute.created"
	DisputeRulingSubmitted Topic = "dispute.ai_ruling_submitted"
	DisputeAppealStarted   Topic = "dispute.appeal_started"
	DisputeVoteCast        Topic = "dispute.vote_cast"
	DisputeRoundFinalized  Topic = "dispute.round_finalized"
	DisputeResolved        Topic = "dispute.resolved"
	DisputeCostsPaid       Topic = "dispute.costs_paid"

	JurorRegistered       Topic = "juror.registered"
	JurorDeregistered     Topic = "juror.deregistered"
	JurorAutoDeregistered Topic = "juror.auto_deregistered"
	JurorTierUpdated      Topic = "juror.tier_updated"
	JurorSlashed          Topic = "juror.slashed"

	UserRegistered Topic = "user.registered"

	ProjectCreated              Topic = "project.created"
	ProjectApplicationSubmitted Topic = "project.application_submitted"
	ProjectWorkStarted          Topic = "project.work_started"
	ProjectWorkSubmitted        Topic = "project.work_submitted"
	ProjectWorkAccepted         Topic = "project.work_accepted"
	ProjectWorkRejected         Topic = "project.work_rejected"
	ProjectCancelled            Topic = "project.cancelled"
	ProjectCompleted            Topic = "project.completed"
)

// Event is one fact a command produced. Events are informational; no state
// depends on them being delivered.
type Event struct {
	ID      uuid.UUID      `json:"id"`
	Topic   Topic          `json:"topic"`
	Block   uint64         `json:"block"`
	Project string         `json:"project,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Log collects the events of a single command in emission order. A nil *Log
// discards everything, which suits read paths that share write helpers.
type Log struct {
	block  uint64
	events []Event
}

func NewLog(block uint64) *Log {
	return &Log{block: block}
}

// Emit appends an event with a fresh ID at the log's block height.
func (l *Log) Emit(topic Topic, project string, payload map[string]any) {
	if l == nil {
		return
	}
	l.events = append(l.events, Event{
		ID:      uuid.New(),
		Topic:   topic,
		Block:   l.block,
		Project: project,
		Payload: payload,
	})
}

func (l *Log) Block() uint64 {
	if l == nil {
		return 0
	}
	return l.block
}

// Events returns a copy of everything emitted so far.
func (l *Log) Events() []Event {
	if l == nil || len(l.events) == 0 {
		return nil
	}
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Topics lists the topics emitted so far, mostly for assertions.
func (l *Log) Topics() []Topic {
	if l == nil {
		return nil
	}
	out := make([]Topic, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Topic)
	}
	return out
}
