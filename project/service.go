package project

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"disputeflow/chain"
	"disputeflow/event"
	"disputeflow/kv"
	"disputeflow/observability"
	"disputeflow/outbox"
	"disputeflow/policy"
)

// Service runs project commands, one transaction each.
type Service struct {
	kv    kv.Store
	mgr   *Manager
	clock chain.Clock
	obs   *observability.Provider
	locks kv.KeyedMutex
}

func NewService(store kv.Store, mgr *Manager, clock chain.Clock, obs *observability.Provider) *Service {
	return &Service{kv: store, mgr: mgr, clock: clock, obs: obs}
}

func (s *Service) run(ctx context.Context, command, id string, fn func(ctx context.Context, tx kv.Tx, log *event.Log) error) (evs []event.Event, err error) {
	ctx, done := s.obs.Track(ctx, command, attribute.String("project", id))
	defer func() { done(err) }()

	if id != "" {
		unlock := s.locks.Lock(id)
		defer unlock()
	}
	return outbox.WithTx(ctx, s.kv, s.clock.Now(), fn)
}

// Create opens a project owned by the caller.
func (s *Service) Create(ctx context.Context, caller policy.Caller, req CreateRequest) (Project, []event.Event, error) {
	var p Project
	evs, err := s.run(ctx, "project.create", "", func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		var err error
		p, err = s.mgr.Create(ctx, tx, log, caller.ID, req)
		return err
	})
	if err != nil {
		return Project{}, nil, err
	}
	return p, evs, nil
}

func (s *Service) Apply(ctx context.Context, caller policy.Caller, id string) ([]event.Event, error) {
	return s.run(ctx, "project.apply", id, func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		return s.mgr.Apply(ctx, tx, log, id, caller.ID)
	})
}

func (s *Service) StartWork(ctx context.Context, caller policy.Caller, id, freelancer string) ([]event.Event, error) {
	return s.run(ctx, "project.start_work", id, func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		return s.mgr.StartWork(ctx, tx, log, id, caller.ID, freelancer)
	})
}

func (s *Service) SubmitWork(ctx context.Context, caller policy.Caller, id string, req SubmitRequest) ([]event.Event, error) {
	return s.run(ctx, "project.submit_work", id, func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		return s.mgr.SubmitWork(ctx, tx, log, id, caller.ID, req)
	})
}

func (s *Service) AcceptWork(ctx context.Context, caller policy.Caller, id string, rating uint8) ([]event.Event, error) {
	return s.run(ctx, "project.accept_work", id, func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		return s.mgr.AcceptWork(ctx, tx, log, id, caller.ID, rating)
	})
}

func (s *Service) RejectWork(ctx context.Context, caller policy.Caller, id, reasonURI string) ([]event.Event, error) {
	return s.run(ctx, "project.reject_work", id, func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		return s.mgr.RejectWork(ctx, tx, log, id, caller.ID, reasonURI)
	})
}

func (s *Service) Cancel(ctx context.Context, caller policy.Caller, id string) ([]event.Event, error) {
	return s.run(ctx, "project.cancel", id, func(ctx context.Context, tx kv.Tx, log *event.Log) error {
		return s.mgr.Cancel(ctx, tx, log, id, caller.ID)
	})
}

// View is a project together with its open applications.
type View struct {
	Project
	Applicants []string `json:"applicants,omitempty"`
}

func (s *Service) Get(ctx context.Context, id string) (View, error) {
	tx, err := s.kv.Begin(ctx)
	if err != nil {
		return View{}, fmt.Errorf("project: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.mgr.Get(ctx, tx, id)
	if err != nil {
		return View{}, err
	}
	list, err := applicants(ctx, tx, id)
	if err != nil {
		return View{}, err
	}
	return View{Project: p, Applicants: list}, nil
}
