// Package errs holds the error kinds shared by every command. Packages declare
// their own sentinels with New so callers can match either the specific error
// or its kind with errors.Is.
package errs

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidState            = errors.New("invalid state")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrTiming                  = errors.New("timing")
	ErrCapacity                = errors.New("capacity exceeded")
	ErrAlreadyActed            = errors.New("already acted")
	ErrInsufficientEligibility = errors.New("insufficient eligibility")
	ErrPaymentFailed           = errors.New("payment failed")
	ErrInvalidArgument         = errors.New("invalid argument")
)

var kinds = []error{
	ErrNotFound,
	ErrInvalidState,
	ErrUnauthorized,
	ErrTiming,
	ErrCapacity,
	ErrAlreadyActed,
	ErrInsufficientEligibility,
	ErrPaymentFailed,
	ErrInvalidArgument,
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// New returns a sentinel error with message msg that matches kind.
func New(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Kind reports which of the shared kinds err belongs to, or nil.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
