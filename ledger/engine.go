/*
engine.go - The transition engine

PURPOSE:
  One operation per lifecycle transition. Each operation:
    1. Loads the transaction (soft-deleted rows visible; the Deleted event
       in the log is what gates further transitions)
    2. Loads the full event sequence and derives status
    3. Validates the transition's preconditions
    4. Performs the balance mutation(s) and the event append as one atomic
       unit; invalid requests return a classified rejection with no side
       effect

TRANSITIONS:
  Pay     not paid, actor != creator, actor covers amount
          -> debit actor, credit creator, append Paid
  Tax     paid, not taxed              -> append Taxed (record-only)
  Return  paid, not returned, creator covers amount
          -> debit creator, credit payer, append Returned (actor = payer)
  Delete  not paid                     -> tombstone transaction, append Deleted

  Deletion is terminal: every transition on a deleted transaction is
  rejected, including Pay.

CONCURRENCY:
  Steps 2-4 run inside Store.WithTx. The storage layer additionally
  enforces at-most-one event per (transaction, code), so a race loser that
  slipped past the status check fails the append with ErrConflict. The
  engine retries ErrConflict once against fresh state - the retry then
  sees the winner's event and returns the proper precondition rejection.

AUTHORIZATION:
  Role and ownership checks belong to the access gate (api middleware).
  The engine trusts actor identity as a passed-in fact; it only enforces
  ledger-level rules such as self-pay and balance coverage.

SEE ALSO:
  - status.go: Status derivation
  - store.go:  WithTx and the atomic balance primitives
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine drives transactions through their lifecycle. Stateless: all
// per-request state lives in the store transaction.
type Engine struct {
	store TxStore
}

func NewEngine(store TxStore) *Engine {
	return &Engine{store: store}
}

// =============================================================================
// TRANSACTION CREATION
// =============================================================================

// CreateTransaction registers a new claim by creatorID.
func (e *Engine) CreateTransaction(ctx context.Context, creatorID AccountID, amount decimal.Decimal, reason string) (Transaction, error) {
	if err := ValidateAmount(amount); err != nil {
		return Transaction{}, err
	}
	if err := ValidateReason(reason); err != nil {
		return Transaction{}, err
	}

	tx := Transaction{
		ID:        TransactionID(uuid.NewString()),
		Amount:    amount,
		Reason:    reason,
		CreatorID: creatorID,
		CreatedAt: time.Now().UTC(),
	}

	err := e.store.WithTx(ctx, func(s Store) error {
		if _, err := s.Account(ctx, creatorID); err != nil {
			return err
		}
		return s.CreateTransaction(ctx, tx)
	})
	if err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// =============================================================================
// LIFECYCLE TRANSITIONS
// =============================================================================

// Pay settles a transaction: the actor's balance moves to the creator's.
// The caller is expected to have already passed the one-time-password
// check; the engine does not verify it.
func (e *Engine) Pay(ctx context.Context, id TransactionID, actorID AccountID) (Event, error) {
	return e.transition(ctx, CodePaid, id, actorID)
}

// Tax records that a privileged account taxed a paid transaction.
// Record-only: no balance moves.
func (e *Engine) Tax(ctx context.Context, id TransactionID, actorID AccountID) (Event, error) {
	return e.transition(ctx, CodeTaxed, id, actorID)
}

// Return reverses a payment: the creator's balance moves back to the
// original payer. The Returned event's actor is the payer, regardless of
// who initiated the return. OTP precondition as for Pay.
func (e *Engine) Return(ctx context.Context, id TransactionID, actorID AccountID) (Event, error) {
	return e.transition(ctx, CodeReturned, id, actorID)
}

// Delete tombstones a never-paid transaction and records the Deleted
// event. The event history stays queryable.
func (e *Engine) Delete(ctx context.Context, id TransactionID, actorID AccountID) (Event, error) {
	return e.transition(ctx, CodeDeleted, id, actorID)
}

// transition runs the shared read-validate-write sequence, retrying once
// when a concurrent transition wins the race.
func (e *Engine) transition(ctx context.Context, code EventCode, id TransactionID, actorID AccountID) (Event, error) {
	ev, err := e.runTransition(ctx, code, id, actorID)
	if IsRetryable(err) {
		// Re-read status and re-validate against the winner's event.
		ev, err = e.runTransition(ctx, code, id, actorID)
	}
	return ev, err
}

func (e *Engine) runTransition(ctx context.Context, code EventCode, id TransactionID, actorID AccountID) (Event, error) {
	var appended Event

	err := e.store.WithTx(ctx, func(s Store) error {
		tx, err := s.Transaction(ctx, id, true)
		if err != nil {
			return err
		}
		events, err := s.EventsByTransaction(ctx, id)
		if err != nil {
			return err
		}
		status, err := DeriveStatus(id, events)
		if err != nil {
			return err
		}

		actor := actorID
		switch code {
		case CodePaid:
			if err := checkPay(status, tx, actorID); err != nil {
				return err
			}
			if err := s.Transfer(ctx, actorID, tx.CreatorID, tx.Amount); err != nil {
				return err
			}

		case CodeTaxed:
			if err := checkTax(status); err != nil {
				return err
			}

		case CodeReturned:
			if err := checkReturn(status); err != nil {
				return err
			}
			if err := s.Transfer(ctx, tx.CreatorID, status.PayerID, tx.Amount); err != nil {
				return err
			}
			// The Returned event carries the original payer, even when
			// the return is initiated by the creator or an admin.
			actor = status.PayerID

		case CodeDeleted:
			if err := checkDelete(status); err != nil {
				return err
			}
			if err := s.SoftDeleteTransaction(ctx, id); err != nil {
				return err
			}
		}

		appended, err = s.AppendEvent(ctx, Event{
			Code:          code,
			TransactionID: id,
			ActorID:       actor,
			CreatedAt:     time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return Event{}, err
	}
	return appended, nil
}

// =============================================================================
// TRANSITION PRECONDITIONS
// =============================================================================

func checkPay(status Status, tx Transaction, actorID AccountID) error {
	if status.Deleted {
		return ErrTransactionDeleted
	}
	if status.Paid {
		return ErrAlreadyPaid
	}
	if actorID == tx.CreatorID {
		return ErrSelfPay
	}
	return nil
}

func checkTax(status Status) error {
	if status.Deleted {
		return ErrTransactionDeleted
	}
	if status.Taxed {
		return ErrAlreadyTaxed
	}
	if !status.Paid {
		return ErrNotPaid
	}
	return nil
}

func checkReturn(status Status) error {
	if status.Deleted {
		return ErrTransactionDeleted
	}
	if status.Returned {
		return ErrAlreadyReturned
	}
	if !status.Paid {
		return ErrNotPaid
	}
	return nil
}

func checkDelete(status Status) error {
	if status.Deleted {
		return ErrAlreadyDeleted
	}
	if status.Paid {
		return ErrAlreadyPaid
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Events returns the ordered event sequence for a transaction.
// Soft-deleted transactions keep their history.
func (e *Engine) Events(ctx context.Context, id TransactionID) ([]Event, error) {
	if _, err := e.store.Transaction(ctx, id, true); err != nil {
		return nil, err
	}
	return e.store.EventsByTransaction(ctx, id)
}

// Status derives the current lifecycle status of a transaction.
func (e *Engine) Status(ctx context.Context, id TransactionID) (Status, error) {
	events, err := e.Events(ctx, id)
	if err != nil {
		return Status{}, err
	}
	return DeriveStatus(id, events)
}

// =============================================================================
// ADMINISTRATIVE BALANCE ACTIONS
// =============================================================================

// UpdateBalance performs an administrative set/deposit/withdraw on a
// plain-user account, sharing the atomic mutation primitive with the
// lifecycle transitions but exempt from the zero-sum rule. Returns the
// new balance.
func (e *Engine) UpdateBalance(ctx context.Context, id AccountID, action BalanceAction, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err := e.store.WithTx(ctx, func(s Store) error {
		account, err := s.Account(ctx, id)
		if err != nil {
			return err
		}
		// Only plain users carry a balance.
		if account.Role != RoleUser {
			return &ValidationError{Field: "account", Rule: "only user accounts carry a balance"}
		}

		switch action {
		case BalanceSet:
			err = s.SetBalance(ctx, id, amount)
		case BalanceDeposit:
			err = s.Credit(ctx, id, amount)
		case BalanceWithdraw:
			err = s.Debit(ctx, id, amount)
		default:
			return &ValidationError{Field: "action", Rule: "must be set, deposit or withdraw"}
		}
		if err != nil {
			return err
		}

		updated, err := s.Account(ctx, id)
		if err != nil {
			return err
		}
		balance = updated.Balance
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}
