/*
Package ledger implements the transaction lifecycle state machine.

PURPOSE:
  One party registers a monetary claim (a Transaction) against another and
  drives it through a restricted lifecycle: paid, taxed, returned, or
  deleted. A transaction has NO status field. Its status is derived by
  replaying the append-only event log, so status can never drift from the
  history that justifies it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account:     A balance-carrying user or a privileged (balance-less) role
  - Transaction: An immutable claim record (amount, reason, creator)
  - Event:       An append-only lifecycle entry (Paid/Taxed/Returned/Deleted)
  - Status:      The derived lifecycle summary of a transaction

DESIGN PRINCIPLES:
  1. Immutability: Transactions never change after creation (soft-deletion
     is a visibility marker, not an edit)
  2. Precision: Uses decimal.Decimal for money, never float
  3. Auditability: Every balance change is matched 1:1 with an event

SEE ALSO:
  - status.go: Event sequence -> Status derivation
  - engine.go: The transition engine (the core)
  - store.go:  Persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransactionID string

// EventID is assigned by the store on append, in sequence order.
type EventID int64

// =============================================================================
// ROLES
// =============================================================================

// Role determines what lifecycle actions an account may request.
// Only RoleUser accounts carry a balance; privileged accounts never
// participate in payment transfers.
type Role int

const (
	RoleUser      Role = 1
	RoleAuthority Role = 2
	RoleAdmin     Role = 4
)

func (r Role) Privileged() bool {
	return r == RoleAuthority || r == RoleAdmin
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAuthority:
		return "authority"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// =============================================================================
// EVENT CODES
// =============================================================================

// EventCode identifies a lifecycle transition. At most one event of each
// code may ever exist per transaction.
type EventCode int

const (
	CodePaid     EventCode = 1
	CodeTaxed    EventCode = 2
	CodeReturned EventCode = 3
	CodeDeleted  EventCode = 4
)

func (c EventCode) String() string {
	switch c {
	case CodePaid:
		return "Paid"
	case CodeTaxed:
		return "Taxed"
	case CodeReturned:
		return "Returned"
	case CodeDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// =============================================================================
// RECORDS
// =============================================================================

// Account is a user of the ledger. Balance is mutated only through the
// store's atomic primitives (Credit/Debit/SetBalance/Transfer).
type Account struct {
	ID           AccountID
	Username     string
	Email        string
	PasswordHash string
	Balance      decimal.Decimal
	Role         Role
	OTPSecret    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time // soft-deletion marker, nil while active
}

// Transaction is a monetary claim by its creator against whoever pays it.
// Immutable after creation except for the soft-deletion marker.
type Transaction struct {
	ID        TransactionID
	Amount    decimal.Decimal
	Reason    string
	CreatorID AccountID
	CreatedAt time.Time
	DeletedAt *time.Time // soft-deletion marker, nil while active
}

// Event records a single lifecycle transition. Append-only: once written,
// never mutated or deleted. The ordered event sequence is the sole source
// of truth for a transaction's lifecycle status.
type Event struct {
	ID            EventID
	Code          EventCode
	TransactionID TransactionID
	ActorID       AccountID
	CreatedAt     time.Time
}

// =============================================================================
// STATUS - Derived lifecycle summary
// =============================================================================

// Status summarizes a transaction's lifecycle. It is always computed from
// the event log (see DeriveStatus), never stored.
type Status struct {
	Paid     bool
	PayerID  AccountID // actor of the Paid event, empty while unpaid
	Taxed    bool
	Returned bool
	Deleted  bool
}

// BalanceAction names an administrative balance mutation. These share the
// store's atomic primitives but sit outside the lifecycle state machine.
type BalanceAction string

const (
	BalanceSet      BalanceAction = "set"
	BalanceDeposit  BalanceAction = "deposit"
	BalanceWithdraw BalanceAction = "withdraw"
)
