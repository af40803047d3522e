// Package apperr holds the two error categories every timekeeping operation
// reports: bad input and conflicting state. Neither is ever returned after a
// mutation has been written.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyActive    = errors.New("a work session is already active")
	ErrNoActiveSession  = errors.New("no active work session")
	ErrAlreadyClosed    = errors.New("session already checked out")
	ErrDuplicateEntry   = errors.New("a special day is already registered for this date")
	ErrFutureDateTooFar = errors.New("date is too far in the future")
	ErrNotFound         = errors.New("not found")
)

// ValidationError reports input that was rejected before any state was read
// or written.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StateConflictError reports an operation that is not allowed in the current
// state (start while active, duplicate registration, cancel after stop).
type StateConflictError struct {
	Op     string
	Reason string
	Err    error
}

func (e *StateConflictError) Error() string {
	reason := e.Reason
	if reason == "" && e.Err != nil {
		reason = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, reason)
}

func (e *StateConflictError) Unwrap() error { return e.Err }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func Conflict(op string, err error) error {
	return &StateConflictError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsConflict(err error) bool {
	var ce *StateConflictError
	return errors.As(err, &ce)
}
