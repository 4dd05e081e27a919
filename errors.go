package permit

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidInput is returned when a request is rejected before any lookup
// (empty principal, action or resource type).
var ErrInvalidInput = errors.New("permit: invalid input")

// ErrStoreUnavailable marks failures of the underlying store. Callers decide
// fail-open/fail-closed; the resolver never converts these into a verdict.
var ErrStoreUnavailable = errors.New("permit: store unavailable")

// StoreError wraps a store failure with the operation that produced it.
// It matches ErrStoreUnavailable under errors.Is.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("permit: store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// wrapStore classifies an error from a store call. Context cancellation
// passes through untouched so callers can distinguish it from store trouble.
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
