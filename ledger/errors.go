/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place. Every rejection is distinguishable by kind
  so callers can render an appropriate response without parsing storage
  error text.

ERROR CATEGORIES:
  1. Not-found errors  - referenced record is absent
  2. State errors      - transition precondition violated by event history
  3. Funds errors      - debit would drive a balance negative
  4. Conflict errors   - concurrent transition lost a race (retryable)
  5. Storage errors    - unclassified backing-store failure

PROPAGATION POLICY:
  Precondition violations are terminal: never retried, no side effect.
  ErrConflict may be retried once by the engine against fresh state.
  ErrStorage is surfaced as-is; retry policy belongs to the caller.
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
	// ErrTransactionNotFound is returned when a transaction id does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAccountNotFound is returned when an account id does not exist
	// (or is soft-deleted).
	ErrAccountNotFound = errors.New("account not found")

	// ErrAlreadyPaid rejects a second Pay, or a Delete of a paid transaction.
	ErrAlreadyPaid = errors.New("transaction already paid")

	// ErrAlreadyTaxed rejects a second Tax.
	ErrAlreadyTaxed = errors.New("transaction already taxed")

	// ErrAlreadyReturned rejects a second Return.
	ErrAlreadyReturned = errors.New("transaction already returned")

	// ErrAlreadyDeleted rejects a second Delete.
	ErrAlreadyDeleted = errors.New("transaction already deleted")

	// ErrNotPaid rejects Tax or Return of an unpaid transaction.
	ErrNotPaid = errors.New("transaction not paid")

	// ErrTransactionDeleted rejects any transition after a Deleted event.
	// Deletion is terminal.
	ErrTransactionDeleted = errors.New("transaction deleted")

	// ErrSelfPay rejects a creator paying their own transaction.
	ErrSelfPay = errors.New("cannot pay own transaction")

	// ErrInsufficientFunds rejects a debit that would go negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrValidation is returned for malformed input (amount, reason, ...).
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a concurrent transition won the race.
	// The engine retries once against fresh state before surfacing it.
	ErrConflict = errors.New("concurrent transition conflict")

	// ErrLogAnomaly is returned when the event log itself violates an
	// invariant (e.g. two Paid events). This should be impossible with the
	// storage constraints in place; it is never treated as client error.
	ErrLogAnomaly = errors.New("event log anomaly")

	// ErrStorage wraps unclassified backing-store failures.
	ErrStorage = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports a balance shortage on a debit.
type InsufficientFundsError struct {
	AccountID AccountID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %s has %s, needs %s",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// LogAnomalyError reports a duplicate lifecycle code in a transaction's
// event log. The deriver reports this rather than silently picking one.
type LogAnomalyError struct {
	TransactionID TransactionID
	Code          EventCode
	Count         int
}

func (e *LogAnomalyError) Error() string {
	return fmt.Sprintf("event log anomaly: transaction %s has %d %s events",
		e.TransactionID, e.Count, e.Code)
}

func (e *LogAnomalyError) Unwrap() error {
	return ErrLogAnomaly
}

// ValidationError reports which input field failed which rule.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Rule)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrAccountNotFound)
}

// IsInvalidState returns true if a transition precondition was violated
// by the transaction's event history.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrAlreadyTaxed) ||
		errors.Is(err, ErrAlreadyReturned) ||
		errors.Is(err, ErrAlreadyDeleted) ||
		errors.Is(err, ErrNotPaid) ||
		errors.Is(err, ErrTransactionDeleted)
}

// IsClientError returns true if the error is a terminal, user-visible
// rejection with no side effect.
func IsClientError(err error) bool {
	return IsInvalidState(err) ||
		errors.Is(err, ErrSelfPay) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrValidation)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
