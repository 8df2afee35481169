package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrBatchNotFound        = errors.New("batch not found")
	ErrEventNotFound        = errors.New("event not found")
	ErrRegistrationNotFound = errors.New("registration not found")
)

// ValidationError is returned when spreadsheet rows contain field-level
// errors. It carries the full per-row error list so the caller can fix
// the upload; nothing is persisted when it is returned.
type ValidationError struct {
	Errors []RowError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%d row validation errors", len(e.Errors))
}

// BatchLockedError is returned when a mutation targets a batch whose
// payment has completed. Never retried automatically.
type BatchLockedError struct {
	Reference string
	Operation string
}

func (e *BatchLockedError) Error() string {
	return fmt.Sprintf("batch %s is locked by completed payment, %s rejected", e.Reference, e.Operation)
}

// ConflictError is returned when an optimistic version check fails
// because the batch changed since it was read. Safe to retry after
// re-reading.
type ConflictError struct {
	Reference string
	Operation string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("batch %s was concurrently modified during %s", e.Reference, e.Operation)
}

// InvalidOperationError is returned for operations rejected before any
// write, such as removing the last remaining student or deleting a
// non-draft batch.
type InvalidOperationError struct {
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return e.Reason
}

// PersistenceError is returned when an atomic write failed. On the
// sequential fallback path the already-written state has been
// compensated best-effort before this is surfaced; the caller may
// retry the whole operation.
type PersistenceError struct {
	Reference string
	Operation string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting batch %s during %s: %v", e.Reference, e.Operation, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TransitionError is returned when a status transition is not allowed.
type TransitionError struct {
	Event   string
	Current string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
}
