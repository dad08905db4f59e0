/*
store.go - Persistence interfaces for accounts, transactions and events

PURPOSE:
  Defines the interface between the lifecycle engine and the database.
  Different implementations back this with SQLite or in-memory storage.

APPEND-ONLY CONTRACT:
  The event log exposes AppendEvent and EventsByTransaction. NO update or
  delete methods exist. Transactions are immutable after creation except
  for their soft-deletion marker; accounts and transactions are tombstoned,
  never physically removed.

ATOMIC MUTATION PRIMITIVE:
  Credit, Debit, SetBalance and Transfer are each an atomic
  read-modify-write against the backing store. Debit fails with
  ErrInsufficientFunds rather than allowing a negative balance. Transfer
  debits one account and credits another as a unit - if the credit cannot
  be applied, the debit must not be either.

CONCURRENCY:
  WithTx serializes a transition's read-validate-write sequence against
  every other transition touching the same transaction or accounts. Without
  it, two concurrent Pay calls can both observe "not yet paid" and both
  commit.

IMPLEMENTATIONS:
  - store/sqlite:       Production SQLite store
  - ledger/store:       In-memory store for tests
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT STORE
// =============================================================================

// AccountStore persists accounts and exposes the atomic balance primitives.
type AccountStore interface {
	// CreateAccount persists a new account. The username must be unique.
	CreateAccount(ctx context.Context, account Account) error

	// Account returns an active (non-deleted) account by id.
	Account(ctx context.Context, id AccountID) (Account, error)

	// AccountByUsername returns an active account by username.
	AccountByUsername(ctx context.Context, username string) (Account, error)

	// UpdateAccount updates username, email, password hash and OTP secret.
	// Balance and role are NOT touched here.
	UpdateAccount(ctx context.Context, account Account) error

	// SoftDeleteAccount tombstones an account. The row is never removed.
	SoftDeleteAccount(ctx context.Context, id AccountID) error

	// SetBalance sets an account's balance. Admin action only.
	SetBalance(ctx context.Context, id AccountID, amount decimal.Decimal) error

	// Credit atomically increments an account's balance.
	Credit(ctx context.Context, id AccountID, amount decimal.Decimal) error

	// Debit atomically decrements an account's balance. Fails with
	// ErrInsufficientFunds rather than going negative.
	Debit(ctx context.Context, id AccountID, amount decimal.Decimal) error

	// Transfer debits `from` and credits `to` as a single unit.
	Transfer(ctx context.Context, from, to AccountID, amount decimal.Decimal) error
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

// TransactionStore persists transaction records.
type TransactionStore interface {
	// CreateTransaction persists a new transaction.
	CreateTransaction(ctx context.Context, tx Transaction) error

	// Transaction returns a transaction by id. When includeDeleted is
	// true, soft-deleted rows are visible (soft-deletion is
	// visibility-only, not data loss).
	Transaction(ctx context.Context, id TransactionID, includeDeleted bool) (Transaction, error)

	// TransactionsByCreator returns a creator's transactions with
	// CreatedAt in [from, to], including soft-deleted rows, ordered by
	// creation time.
	TransactionsByCreator(ctx context.Context, creator AccountID, from, to time.Time) ([]Transaction, error)

	// SoftDeleteTransaction tombstones a transaction.
	SoftDeleteTransaction(ctx context.Context, id TransactionID) error
}

// =============================================================================
// EVENT LOG - Append-only
// =============================================================================

// EventLog persists lifecycle events. Append-only: no update, no delete.
type EventLog interface {
	// AppendEvent appends a single event and returns it with its assigned
	// id. Returns ErrConflict if an event with the same code already
	// exists for the transaction (a concurrent transition won the race).
	AppendEvent(ctx context.Context, ev Event) (Event, error)

	// EventsByTransaction returns the full ordered event sequence for a
	// transaction.
	EventsByTransaction(ctx context.Context, id TransactionID) ([]Event, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store combines all persistence concerns the engine needs.
type Store interface {
	AccountStore
	TransactionStore
	EventLog
}

// TxStore wraps Store with transaction support.
//
// The engine wraps every transition's derive-validate-mutate-append
// sequence in WithTx so the paired balance mutation and event append are
// never observed in a torn state.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
