/*
errors.go - Error kinds returned by the ledger and workflow

PURPOSE:
  Every failure the core can produce is one of a closed set of kinds.
  Callers (the API layer) match on them with errors.Is / errors.As and map
  them to user-facing responses.

ERROR CATEGORIES:
  1. Client errors - bad dates, insufficient balance, overlap, bad state
  2. Authorization - PermissionDenied
  3. Contention - ConcurrentModification (retried by the core first)
  4. Storage - anything unexpected from the backing store

SEE ALSO:
  - ledger.go: retry wrapper for ConcurrentModification
  - api/errors.go: HTTP mapping
*/
package leave

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when no balance or request exists for a key.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientBalance is returned when requested days exceed available.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOverlapConflict is returned when a date range collides with an
	// existing active request of the same user.
	ErrOverlapConflict = errors.New("overlapping leave request")

	// ErrInvalidDateRange is returned when end is before start or start is
	// in the past.
	ErrInvalidDateRange = errors.New("invalid date range")

	// ErrInvalidTransition is returned when an action is illegal for the
	// request's current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPermissionDenied is returned when the actor lacks a capability or scope.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConcurrentModification is returned when a conditional write lost
	// the race against another writer.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrStorageFailure wraps unexpected backing-store errors.
	ErrStorageFailure = errors.New("storage failure")

	// ErrInvalidInput is returned for malformed operation input such as a
	// non-positive day amount or an unknown assignment mode.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type InsufficientBalanceError struct {
	BalanceID BalanceID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available.String(), e.Requested.String())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

type OverlapError struct {
	UserID      UserID
	Conflicting RequestID
	Start       Date
	End         Date
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("range %s..%s overlaps request %s", e.Start, e.End, e.Conflicting)
}

func (e *OverlapError) Unwrap() error { return ErrOverlapConflict }

type TransitionError struct {
	RequestID RequestID
	From      RequestState
	Action    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s request %s in state %s", e.Action, e.RequestID, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

type PermissionError struct {
	ActorID    UserID
	Capability Capability
	Reason     string
}

func (e *PermissionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("permission denied: %s (%s): %s", e.ActorID, e.Capability, e.Reason)
	}
	return fmt.Sprintf("permission denied: %s lacks %s", e.ActorID, e.Capability)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// StorageError wraps an unexpected backing-store error. It matches both
// ErrStorageFailure and the underlying cause.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorageFailure, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input or
// a business rule.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrOverlapConflict) ||
		errors.Is(err, ErrInvalidDateRange) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidInput)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// known reports whether err is one of the core's own kinds.
func known(err error) bool {
	return IsClientError(err) ||
		IsNotFound(err) ||
		IsRetryable(err) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrStorageFailure)
}

// wrapStorage passes the core's own error kinds through and wraps anything
// else as a StorageError.
func wrapStorage(op string, err error) error {
	if err == nil || known(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
