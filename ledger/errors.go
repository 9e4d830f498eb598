/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All error types in one place for consistency and discoverability.

TWO CHANNELS:
  1. Hard failures are returned as error values: unknown ids, invalid
     lifecycle transitions, failed preconditions, malformed input, and
     infrastructure errors from the Store.
  2. Business rejections are NOT errors. The Engine returns a Transaction
     with Status=rejected and a Reason, and a nil error.

  Rule of thumb: if the ledger cannot tell which account to blame, it
  returns an error. Once the accounts are known, a rule violation becomes
  a rejected transaction.

USAGE:
  if ledger.IsNotFound(err) { ... 404 ... }

  var te *ledger.TransitionError
  if errors.As(err, &te) { log te.From, te.Action }

SEE ALSO:
  - engine.go: Produces rejections
  - customers.go, accounts.go: Produce transition/precondition errors
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a customer or account id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a lifecycle change is not allowed
	// from the current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrPreconditionFailed is returned when a transition is allowed in
	// principle but the entity is not ready (non-zero balance, open accounts).
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrInvalidArgument is returned for malformed input (blank name,
	// unknown account type, bad currency code).
	ErrInvalidArgument = errors.New("invalid argument")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Entity names used in structured errors.
const (
	EntityCustomer = "customer"
	EntityAccount  = "account"
)

// NotFoundError identifies which record was missing.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func customerNotFound(id CustomerID) error {
	return &NotFoundError{Entity: EntityCustomer, ID: int64(id)}
}

func accountNotFound(id AccountID) error {
	return &NotFoundError{Entity: EntityAccount, ID: int64(id)}
}

// TransitionError describes a rejected lifecycle change.
type TransitionError struct {
	Entity string
	ID     int64
	From   string // status at the time of the attempt
	Action string // "block", "unblock", "close", "open"
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %d (status %s): %s", e.Action, e.Entity, e.ID, e.From, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// PreconditionError describes a transition blocked by the entity's state.
type PreconditionError struct {
	Entity string
	ID     int64
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Entity, e.ID, e.Reason)
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionFailed
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing customer or account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is a lifecycle rule violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrPreconditionFailed)
}

// IsClientError returns true if the error is due to caller misuse rather than
// infrastructure failure.
func IsClientError(err error) bool {
	return IsNotFound(err) || IsConflict(err) || errors.Is(err, ErrInvalidArgument)
}
