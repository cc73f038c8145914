/*
errors.go - Centralized error types for the reward ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Service packages wrap these errors with additional context; the HTTP
  layer maps them to status codes.

ERROR CATEGORIES:
  1. Lookup errors - Missing accounts, tasks, transactions, offerings
  2. Validation errors - Bad amounts, bad referrers, illegal transitions
  3. Store errors - Duplicate keys and serialization conflicts

USAGE:
    if errors.Is(err, ledger.ErrNotFound) {
        // 404
    }

    var terr *ledger.TransitionError
    if errors.As(err, &terr) {
        log.Println(terr.Reason) // "task already completed"
    }

SEE ALSO:
  - store.go: Store contracts that return these errors
  - ../api/handlers.go: writeServiceError maps them to HTTP
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is the root of every lookup failure.
	ErrNotFound = errors.New("not found")

	ErrAccountNotFound     = fmt.Errorf("account %w", ErrNotFound)
	ErrTaskNotFound        = fmt.Errorf("task %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)
	ErrOfferingNotFound    = fmt.Errorf("offering %w", ErrNotFound)

	// ErrInvalidState is returned when an operation is illegal for the
	// current status of a task, transaction or account.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidAmount is returned for negative grants and withdrawals below
	// the configured minimum.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidInput is returned for missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientBalance is returned when a debit would drive a balance
	// below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConcurrencyConflict is returned when the store could not serialize
	// a write. Callers may retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrAlreadyExists is returned when a unique account attribute (email,
	// referral code) is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidReferrer is returned for self-referral, unknown invite codes
	// and referral loops.
	ErrInvalidReferrer = errors.New("invalid referrer")

	// ErrSoldOut is returned when an offering has no remaining quantity.
	ErrSoldOut = errors.New("offering sold out")

	// ErrAlreadyClaimed is returned when an account already holds a task for
	// the offering.
	ErrAlreadyClaimed = errors.New("offering already claimed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s",
		e.AccountID, e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// TransitionError is an illegal state change. Reason is shown to auditors.
type TransitionError struct {
	Entity string // "task", "transaction", "account"
	ID     string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s %s: cannot transition from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidState
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidReferrer) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrSoldOut) ||
		errors.Is(err, ErrAlreadyClaimed)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
