package project

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"disputeflow/errs"
	"disputeflow/kv"
)

var (
	ErrNotFound          = errs.New(errs.ErrNotFound, "project: not found")
	ErrNotClient         = errs.New(errs.ErrUnauthorized, "project: caller is not the client")
	ErrNotFreelancer     = errs.New(errs.ErrUnauthorized, "project: caller is not the freelancer")
	ErrInvalidStatus     = errs.New(errs.ErrInvalidState, "project: invalid status for operation")
	ErrNoFreelancer      = errs.New(errs.ErrInvalidState, "project: no freelancer assigned")
	ErrNoSubmission      = errs.New(errs.ErrInvalidState, "project: no work submitted")
	ErrAlreadyApplied    = errs.New(errs.ErrAlreadyActed, "project: already applied")
	ErrTooManyApplicants = errs.New(errs.ErrCapacity, "project: too many applicants")
	ErrNotApplicant      = errs.New(errs.ErrInvalidArgument, "project: freelancer has not applied")
	ErrDeadlinePassed    = errs.New(errs.ErrTiming, "project: submission deadline passed")
	ErrInvalidRating     = errs.New(errs.ErrInvalidArgument, "project: rating must be between 1 and 5")
	ErrInvalidInput      = errs.New(errs.ErrInvalidArgument, "project: invalid input")
)

var nextKey = kv.Key("project", "next")

func projectKey(id string) []byte    { return kv.Key("project", "p", id) }
func applicantsKey(id string) []byte { return kv.Key("project", "applicants", id) }

func nextID(ctx context.Context, tx kv.Tx) (string, error) {
	n, err := kv.LoadOr(ctx, tx, nextKey, uint64(0))
	if err != nil {
		return "", fmt.Errorf("project: load next id: %w", err)
	}
	if err := kv.Save(ctx, tx, nextKey, n+1); err != nil {
		return "", fmt.Errorf("project: save next id: %w", err)
	}
	return strconv.FormatUint(n, 10), nil
}

func load(ctx context.Context, r kv.Reader, id string) (Project, error) {
	p, err := kv.Load[Project](ctx, r, projectKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return Project{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Project{}, fmt.Errorf("project: load %s: %w", id, err)
	}
	return p, nil
}

func save(ctx context.Context, tx kv.Tx, p Project) error {
	if err := kv.Save(ctx, tx, projectKey(p.ID), p); err != nil {
		return fmt.Errorf("project: save %s: %w", p.ID, err)
	}
	return nil
}

func applicants(ctx context.Context, r kv.Reader, id string) ([]string, error) {
	list, err := kv.LoadOr(ctx, r, applicantsKey(id), []string(nil))
	if err != nil {
		return nil, fmt.Errorf("project: load applicants %s: %w", id, err)
	}
	return list, nil
}
