package project

import (
	"context"
	"fmt"
	"slices"

	"disputeflow/event"
	"disputeflow/kv"
	"disputeflow/ledger"
	"disputeflow/reputation"
)

// DisputeRating is the rating a freelancer is credited with when a dispute,
// rather than the client, accepts the work.
const DisputeRating uint32 = 3000

// Manager owns project records and the escrow behind them. Its methods run
// inside the caller's transaction.
type Manager struct {
	ledger *ledger.Ledger
	rep    *reputation.Store
}

func NewManager(l *ledger.Ledger, rep *reputation.Store) *Manager {
	return &Manager{ledger: l, rep: rep}
}

func (m *Manager) Get(ctx context.Context, r kv.Reader, id string) (Project, error) {
	return load(ctx, r, id)
}

func (m *Manager) Applicants(ctx context.Context, r kv.Reader, id string) ([]string, error) {
	if _, err := load(ctx, r, id); err != nil {
		return nil, err
	}
	return applicants(ctx, r, id)
}

// Parties returns the client and the assigned freelancer.
func (m *Manager) Parties(ctx context.Context, r kv.Reader, id string) (client, freelancer string, err error) {
	p, err := load(ctx, r, id)
	if err != nil {
		return "", "", err
	}
	if p.Freelancer == "" {
		return "", "", ErrNoFreelancer
	}
	return p.Client, p.Freelancer, nil
}

func (m *Manager) Status(ctx context.Context, r kv.Reader, id string) (Status, error) {
	p, err := load(ctx, r, id)
	if err != nil {
		return "", err
	}
	return p.Status, nil
}

func (m *Manager) Budget(ctx context.Context, r kv.Reader, id string) (ledger.Balance, error) {
	p, err := load(ctx, r, id)
	if err != nil {
		return 0, err
	}
	return p.Budget, nil
}

// EvidenceURIs returns the requirements and the submitted work.
func (m *Manager) EvidenceURIs(ctx context.Context, r kv.Reader, id string) (requirements, submission string, err error) {
	p, err := load(ctx, r, id)
	if err != nil {
		return "", "", err
	}
	if p.Submission == nil {
		return "", "", ErrNoSubmission
	}
	return p.URI, p.Submission.URI, nil
}

// SetInDispute freezes a project whose work is under review or was rejected.
func (m *Manager) SetInDispute(ctx context.Context, tx kv.Tx, id string) error {
	p, err := load(ctx, tx, id)
	if err != nil {
		return err
	}
	if p.Status != StatusInReview && p.Status != StatusRejected {
		return fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id, p.Status)
	}
	p.Status = StatusInDispute
	return save(ctx, tx, p)
}

// OnRuling applies a final dispute ruling to the escrow. A freelancer win
// pays out the budget; a client win returns it to the client's usable
// balance. Either way the project completes.
func (m *Manager) OnRuling(ctx context.Context, tx kv.Tx, log *event.Log, id string, ruling Ruling) error {
	p, err := load(ctx, tx, id)
	if err != nil {
		return err
	}
	if p.Status != StatusInDispute {
		return fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id, p.Status)
	}
	if err := m.ledger.Unlock(ctx, tx, p.Client, p.Budget); err != nil {
		return err
	}
	if ruling == FreelancerWins {
		if err := m.ledger.Transfer(ctx, tx, p.Client, p.Freelancer, p.Budget); err != nil {
			return err
		}
		if err := m.rep.OnProjectCompleted(ctx, tx, log, p.Freelancer, p.Budget, DisputeRating, id); err != nil {
			return err
		}
	}
	p.Status = StatusCompleted
	if err := save(ctx, tx, p); err != nil {
		return err
	}
	log.Emit(event.ProjectCompleted, id, map[string]any{
		"ruling": string(ruling),
	})
	return nil
}

// Create locks budget in client's account and opens a project for
// applications.
func (m *Manager) Create(ctx context.Context, tx kv.Tx, log *event.Log, client string, req CreateRequest) (Project, error) {
	if req.Budget == 0 || req.Duration == 0 {
		return Project{}, fmt.Errorf("%w: budget and duration must be positive", ErrInvalidInput)
	}
	if req.URI == "" || len(req.URI) > MaxURI {
		return Project{}, fmt.Errorf("%w: uri length", ErrInvalidInput)
	}
	id, err := nextID(ctx, tx)
	if err != nil {
		return Project{}, err
	}
	if err := m.ledger.Lock(ctx, tx, client, req.Budget); err != nil {
		return Project{}, err
	}
	if err := m.rep.OnProjectCreated(ctx, tx, log, client, req.Budget); err != nil {
		return Project{}, err
	}
	p := Project{
		ID:        id,
		Client:    client,
		Budget:    req.Budget,
		URI:       req.URI,
		Duration:  req.Duration,
		Status:    StatusCreated,
		CreatedAt: log.Block(),
	}
	if err := save(ctx, tx, p); err != nil {
		return Project{}, err
	}
	log.Emit(event.ProjectCreated, id, map[string]any{
		"client": client,
		"budget": req.Budget.String(),
	})
	return p, nil
}

func (m *Manager) Apply(ctx context.Context, tx kv.Tx, log *event.Log, id, freelancer string) error {
	p, err := load(ctx, tx, id)
	if err != nil {
		return err
	}
	if p.Status != StatusCreated {
		return fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id, p.Status)
	}
	if p.Client == freelancer {
		return fmt.Errorf("%w: client cannot apply to own project", ErrInvalidInput)
	}
	if _, err := m.rep.Get(ctx, tx, freelancer); err != nil {
		return err
	}
	list, err := applicants(ctx, tx, id)
	if err != nil {
		return err
	}
	if slices.Contains(list, freelancer) {
		return ErrAlreadyApplied
	}
	if len(list) >= MaxApplicants {
		return ErrTooManyApplicants
	}
	if err := kv.Save(ctx, tx, applicantsKey(id), append(list, freelancer)); err != nil {
		return fmt.Errorf("project: save applicants %s: %w", id, err)
	}
	log.Emit(event.ProjectApplicationSubmitted, id, map[string]any{"freelancer": freelancer})
	return nil
}

// StartWork assigns freelancer, starts the deadline and drops the other
// applications.
func (m *Manager) StartWork(ctx context.Context, tx kv.Tx, log *event.Log, id, client, freelancer string) error {
	p, err := load(ctx, tx, id)
	if err != nil {
		return err
	}
	if p.Client != client {
		return ErrNotClient
	}
	if p.Status != StatusCreated {
		return fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id, p.Status)
	}
	list, err := applicants(ctx, tx, id)
	if err != nil {
		return err
	}
	if !slices.Contains(list, freelancer) {
		return ErrNotApplicant
	}
	p.Freelancer = freelancer
	p.Deadline = log.Block() + p.Duration
	p.Status = StatusInProgress
	if err := save(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Delete(ctx, applicantsKey(id)); err != nil {
		return fmt.Errorf("project: clear applicants %s: %w", id, err)
	}
	log.Emit(event.ProjectWorkStarted, id, map[string]any{
		"freelancer": freelancer,
		"deadline":   p.Deadline,
	})
	return nil
}

func (m *Manager) SubmitWork(ctx context.Context, tx kv.Tx, log *event.Log, id, freelancer string, req SubmitRequest) error {
	p, err := load(ctx, tx, id)
	if err != nil {
		return err
	}
	if p.Freelancer != freelancer {
		return ErrNotFreelancer
	}
	if p.Status != StatusInProgress || p.Submission != nil {
		return fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id, p.Status)
	}
	if log.Block() > p.Deadline {
		return fmt.Errorf("%w: deadline %d, now %d", ErrDeadlinePassed, p.Deadline, log.Block())
	}
	if req.URI == "" || len(req.URI) > MaxURI || len(req.Metadata) > MaxMetadata {
		return fmt.Errorf("%w: submission fields", ErrInvalidInput)
	}
	p.Submission = &Submission{
		ContentHash: req.ContentHash,
		URI:         req.URI,
		Metadata:    req.Metadata,
		Block:       log.Block(),
	}
	p.Status = StatusInReview
	if err := save(ctx, tx, p); err != nil {
		return err
	}
	log.Emit(event.ProjectWorkSubmitted, id, map[string]any{"uri": req.URI})
	return nil
}

// AcceptWork releases the escrow to the freelancer. rating is on a 1 to 5
// scale.
func (m *Manager) AcceptWork(ctx context.Context, tx kv.Tx, log *event.Log, id, client string, rating uint8) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	p, err := m.reviewable(ctx, tx, id, client)
	if err != nil {
		return err
	}
	if err := m.ledger.Unlock(ctx, tx, p.Client, p.Budget); err != nil {
		return err
	}
	if err := m.ledger.Transfer(ctx, tx, p.Client, p.Freelancer, p.Budget); err != nil {
		return err
	}
	if err := m.rep.OnProjectCompleted(ctx, tx, log, p.Freelancer, p.Budget, uint32(rating)*1000, id); err != nil {
		return err
	}
	if err := m.rep.OnWorkAccepted(ctx, tx, log, p.Client, id); err != nil {
		return err
	}
	p.Status = StatusCompleted
	if err := save(ctx, tx, p); err != nil {
		return err
	}
	log.Emit(event.ProjectWorkAccepted, id, map[string]any{
		"freelancer": p.Freelancer,
		"rating":     rating,
	})
	return nil
}

// RejectWork marks the submission as rejected, which opens the way to a
// dispute.
func (m *Manager) RejectWork(ctx context.Context, tx kv.Tx, log *event.Log, id, client, reasonURI string) error {
	if reasonURI == "" || len(reasonURI) > MaxURI {
		return fmt.Errorf("%w: reason uri length", ErrInvalidInput)
	}
	p, err := m.reviewable(ctx, tx, id, client)
	if err != nil {
		return err
	}
	p.Status = StatusRejected
	p.RejectionURI = reasonURI
	if err := save(ctx, tx, p); err != nil {
		return err
	}
	log.Emit(event.ProjectWorkRejected, id, map[string]any{"reason_uri": reasonURI})
	return nil
}

func (m *Manager) reviewable(ctx context.Context, r kv.Reader, id, client string) (Project, error) {
	p, err := load(ctx, r, id)
	if err != nil {
		return Project{}, err
	}
	if p.Client != client {
		return Project{}, ErrNotClient
	}
	if p.Status != StatusInReview {
		return Project{}, fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id, p.Status)
	}
	if p.Submission == nil {
		return Project{}, ErrNoSubmission
	}
	return p, nil
}

// Cancel returns the escrow to the client. Only projects that have not
// reached review can be cancelled.
func (m *Manager) Cancel(ctx context.Context, tx kv.Tx, log *event.Log, id, client string) error {
	p, err := load(ctx, tx, id)
	if err != nil {
		return err
	}
	if p.Client != client {
		return ErrNotClient
	}
	if p.Status != StatusCreated && p.Status != StatusInProgress {
		return fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id, p.Status)
	}
	if err := m.ledger.Unlock(ctx, tx, p.Client, p.Budget); err != nil {
		return err
	}
	if err := m.rep.OnProjectCancelled(ctx, tx, log, p.Client); err != nil {
		return err
	}
	p.Status = StatusCancelled
	if err := save(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Delete(ctx, applicantsKey(id)); err != nil {
		return fmt.Errorf("project: clear applicants %s: %w", id, err)
	}
	log.Emit(event.ProjectCancelled, id, nil)
	return nil
}
