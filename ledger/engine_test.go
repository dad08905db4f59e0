package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vector/ledger-engine/ledger"
	"github.com/vector/ledger-engine/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestEngine() (*ledger.Engine, *store.Memory) {
	mem := store.NewMemory()
	return ledger.NewEngine(mem), mem
}

func seedAccount(t *testing.T, mem *store.Memory, username string, role ledger.Role, balance string) ledger.Account {
	t.Helper()
	account := ledger.Account{
		ID:        ledger.AccountID(uuid.NewString()),
		Username:  username,
		Email:     username + "@vector.example",
		Balance:   dec(balance),
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if err := mem.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("failed to seed account %s: %v", username, err)
	}
	return account
}

func balanceOf(t *testing.T, mem *store.Memory, id ledger.AccountID) decimal.Decimal {
	t.Helper()
	account, err := mem.Account(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load account: %v", err)
	}
	return account.Balance
}

// paidClaim sets up the standard fixture: Alice creates a 100.00 claim,
// Bob pays it.
func paidClaim(t *testing.T) (*ledger.Engine, *store.Memory, ledger.Account, ledger.Account, ledger.Transaction) {
	t.Helper()
	ctx := context.Background()
	engine, mem := newTestEngine()

	alice := seedAccount(t, mem, "alice.carter", ledger.RoleUser, "0")
	bob := seedAccount(t, mem, "bob.harris", ledger.RoleUser, "500.00")

	tx, err := engine.CreateTransaction(ctx, alice.ID, dec("100.00"), "Monthly rent share")
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}
	if _, err := engine.Pay(ctx, tx.ID, bob.ID); err != nil {
		t.Fatalf("failed to pay transaction: %v", err)
	}
	return engine, mem, alice, bob, tx
}

// =============================================================================
// PAY
// =============================================================================

func TestPay_MovesBalanceAndRecordsEvent(t *testing.T) {
	// GIVEN: Alice created a 100.00 claim, Bob holds 500.00
	// WHEN: Bob pays it
	// THEN: Bob -100.00, Alice +100.00, one Paid event with actor Bob
	engine, mem, alice, bob, tx := paidClaim(t)
	ctx := context.Background()

	if got := balanceOf(t, mem, bob.ID); !got.Equal(dec("400.00")) {
		t.Errorf("expected bob balance 400.00, got %s", got)
	}
	if got := balanceOf(t, mem, alice.ID); !got.Equal(dec("100.00")) {
		t.Errorf("expected alice balance 100.00, got %s", got)
	}

	events, err := engine.Events(ctx, tx.ID)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 1 || events[0].Code != ledger.CodePaid {
		t.Fatalf("expected one Paid event, got %+v", events)
	}
	if events[0].ActorID != bob.ID {
		t.Errorf("expected actor bob, got %s", events[0].ActorID)
	}
}

func TestPay_Twice_SecondRejected(t *testing.T) {
	// GIVEN: A paid transaction
	engine, mem, alice, bob, tx := paidClaim(t)
	ctx := context.Background()

	// WHEN: Bob pays again
	_, err := engine.Pay(ctx, tx.ID, bob.ID)

	// THEN: AlreadyPaid, balances unchanged, still one Paid event
	if !errors.Is(err, ledger.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
	if got := balanceOf(t, mem, bob.ID); !got.Equal(dec("400.00")) {
		t.Errorf("expected bob balance unchanged at 400.00, got %s", got)
	}
	if got := balanceOf(t, mem, alice.ID); !got.Equal(dec("100.00")) {
		t.Errorf("expected alice balance unchanged at 100.00, got %s", got)
	}
	events, _ := engine.Events(ctx, tx.ID)
	if len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
}

func TestPay_SelfPay_Rejected(t *testing.T) {
	ctx := context.Background()
	engine, mem := newTestEngine()
	alice := seedAccount(t, mem, "alice.carter", ledger.RoleUser, "500.00")

	tx, err := engine.CreateTransaction(ctx, alice.ID, dec("10.00"), "Lunch")
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}

	if _, err := engine.Pay(ctx, tx.ID, alice.ID); !errors.Is(err, ledger.ErrSelfPay) {
		t.Fatalf("expected ErrSelfPay, got %v", err)
	}
	if got := balanceOf(t, mem, alice.ID); !got.Equal(dec("500.00")) {
		t.Errorf("expected balance unchanged, got %s", got)
	}
}

func TestPay_InsufficientFunds_NoSideEffect(t *testing.T) {
	// GIVEN: Bob holds less than the claim amount
	ctx := context.Background()
	engine, mem := newTestEngine()
	alice := seedAccount(t, mem, "alice.carter", ledger.RoleUser, "0")
	bob := seedAccount(t, mem, "bob.harris", ledger.RoleUser, "50.00")

	tx, err := engine.CreateTransaction(ctx, alice.ID, dec("100.00"), "Monthly rent share")
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}

	// WHEN: Bob tries to pay
	_, err = engine.Pay(ctx, tx.ID, bob.ID)

	// THEN: InsufficientFunds, no balance moved, no event appended
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	var funds *ledger.InsufficientFundsError
	if !errors.As(err, &funds) {
		t.Fatalf("expected InsufficientFundsError, got %T", err)
	}
	if got := balanceOf(t, mem, bob.ID); !got.Equal(dec("50.00")) {
		t.Errorf("expected bob balance unchanged, got %s", got)
	}
	if got := balanceOf(t, mem, alice.ID); !got.Equal(dec("0")) {
		t.Errorf("expected alice balance unchanged, got %s", got)
	}
	events, _ := engine.Events(ctx, tx.ID)
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestPay_UnknownTransaction_NotFound(t *testing.T) {
	ctx := context.Background()
	engine, mem := newTestEngine()
	bob := seedAccount(t, mem, "bob.harris", ledger.RoleUser, "500.00")

	if _, err := engine.Pay(ctx, "missing", bob.ID); !errors.Is(err, ledger.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

// =============================================================================
// TAX
// =============================================================================

func TestTax_PaidTransaction_RecordOnly(t *testing.T) {
	// GIVEN: A paid transaction and an authority account
	engine, mem, alice, bob, tx := paidClaim(t)
	ctx := context.Background()
	authority := seedAccount(t, mem, "vector.gov", ledger.RoleAuthority, "0")

	// WHEN: The authority taxes it
	ev, err := engine.Tax(ctx, tx.ID, authority.ID)

	// THEN: One Taxed event, balances untouched
	if err != nil {
		t.Fatalf("failed to tax: %v", err)
	}
	if ev.Code != ledger.CodeTaxed || ev.ActorID != authority.ID {
		t.Errorf("unexpected event: %+v", ev)
	}
	if got := balanceOf(t, mem, bob.ID); !got.Equal(dec("400.00")) {
		t.Errorf("expected bob balance unchanged, got %s", got)
	}
	if got := balanceOf(t, mem, alice.ID); !got.Equal(dec("100.00")) {
		t.Errorf("expected alice balance unchanged, got %s", got)
	}
}

func TestTax_Unpaid_Rejected(t *testing.T) {
	ctx := context.Background()
	engine, mem := newTestEngine()
	alice := seedAccount(t, mem, "alice.carter", ledger.RoleUser, "0")
	authority := seedAccount(t, mem, "vector.gov", ledger.RoleAuthority, "0")

	tx, err := engine.CreateTransaction(ctx, alice.ID, dec("10.00"), "Lunch")
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}

	if _, err := engine.Tax(ctx, tx.ID, authority.ID); !errors.Is(err, ledger.ErrNotPaid) {
		t.Fatalf("expected ErrNotPaid, got %v", err)
	}
}

func TestTax_Twice_Rejected(t *testing.T) {
	engine, mem, _, _, tx := paidClaim(t)
	ctx := context.Background()
	authority := seedAccount(t, mem, "vector.gov", ledger.RoleAuthority, "0")

	if _, err := engine.Tax(ctx, tx.ID, authority.ID); err != nil {
		t.Fatalf("first tax should succeed: %v", err)
	}
	if _, err := engine.Tax(ctx, tx.ID, authority.ID); !errors.Is(err, ledger.ErrAlreadyTaxed) {
		t.Fatalf("expected ErrAlreadyTaxed, got %v", err)
	}
}

// =============================================================================
// RETURN
// =============================================================================

func TestReturn_RestoresBalances_ActorIsPayer(t *testing.T) {
	// GIVEN: Alice's claim paid by Bob
	engine, mem, alice, bob, tx := paidClaim(t)
	ctx := context.Background()

	// WHEN: Alice initiates the return
	ev, err := engine.Return(ctx, tx.ID, alice.ID)

	// THEN: Both balances back to original; the Returned event names Bob
	// (the original payer), not Alice
	if err != nil {
		t.Fatalf("failed to return: %v", err)
	}
	if ev.Code != ledger.CodeReturned {
		t.Errorf("expected Returned event, got %v", ev.Code)
	}
	if ev.ActorID != bob.ID {
		t.Errorf("expected event actor to be the payer %s, got %s", bob.ID, ev.ActorID)
	}
	if got := balanceOf(t, mem, bob.ID); !got.Equal(dec("500.00")) {
		t.Errorf("expected bob balance restored to 500.00, got %s", got)
	}
	if got := balanceOf(t, mem, alice.ID); !got.Equal(dec("0")) {
		t.Errorf("expected alice balance restored to 0, got %s", got)
	}
}

func TestReturn_Unpaid_Rejected(t *testing.T) {
	ctx := context.Background()
	engine, mem := newTestEngine()
	alice := seedAccount(t, mem, "alice.carter", ledger.RoleUser, "0")

	tx, err := engine.CreateTransaction(ctx, alice.ID, dec("10.00"), "Lunch")
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}

	if _, err := engine.Return(ctx, tx.ID, alice.ID); !errors.Is(err, ledger.ErrNotPaid) {
		t.Fatalf("expected ErrNotPaid, got %v", err)
	}
}

func TestReturn_Twice_Rejected(t *testing.T) {
	engine, _, alice, _, tx := paidClaim(t)
	ctx := context.Background()

	if _, err := engine.Return(ctx, tx.ID, alice.ID); err != nil {
		t.Fatalf("first return should succeed: %v", err)
	}
	if _, err := engine.Return(ctx, tx.ID, alice.ID); !errors.Is(err, ledger.ErrAlreadyReturned) {
		t.Fatalf("expected ErrAlreadyReturned, got %v", err)
	}
}

func TestReturn_CreatorCannotCover_Rejected(t *testing.T) {
	// GIVEN: Alice spent the payment she received
	engine, mem, alice, bob, tx := paidClaim(t)
	ctx := context.Background()
	if err := mem.SetBalance(ctx, alice.ID, dec("20.00")); err != nil {
		t.Fatalf("failed to drain alice: %v", err)
	}

	// WHEN: The return is attempted
	_, err := engine.Return(ctx, tx.ID, alice.ID)

	// THEN: InsufficientFunds; Bob is not partially credited
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := balanceOf(t, mem, bob.ID); !got.Equal(dec("400.00")) {
		t.Errorf("expected bob balance unchanged, got %s", got)
	}
	events, _ := engine.Events(ctx, tx.ID)
	if len(events) != 1 {
		t.Errorf("expected only the Paid event, got %d", len(events))
	}
}

// =============================================================================
// DELETE
// =============================================================================

func TestDelete_UnpaidTransaction_Tombstoned(t *testing.T) {
	// GIVEN: A never-paid claim
	ctx := context.Background()
	engine, mem := newTestEngine()
	alice := seedAccount(t, mem, "alice.carter", ledger.RoleUser, "0")

	tx, err := engine.CreateTransaction(ctx, alice.ID, dec("10.00"), "Lunch")
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}

	// WHEN: Alice deletes it
	ev, err := engine.Delete(ctx, tx.ID, alice.ID)

	// THEN: Deleted event appended, row tombstoned but history queryable
	if err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if ev.Code != ledger.CodeDeleted {
		t.Errorf("expected Deleted event, got %v", ev.Code)
	}

	if _, err := mem.Transaction(ctx, tx.ID, false); !errors.Is(err, ledger.ErrTransactionNotFound) {
		t.Errorf("expected tombstoned row hidden from normal queries, got %v", err)
	}
	deleted, err := mem.Transaction(ctx, tx.ID, true)
	if err != nil {
		t.Fatalf("expected tombstoned row visible with includeDeleted: %v", err)
	}
	if deleted.DeletedAt == nil {
		t.Error("expected deletion marker set")
	}
	events, _ := engine.Events(ctx, tx.ID)
	if len(events) != 1 {
		t.Errorf("expected event history preserved, got %d events", len(events))
	}
}

func TestDelete_Paid_Rejected(t *testing.T) {
	engine, _, alice, _, tx := paidClaim(t)
	ctx := context.Background()

	if _, err := engine.Delete(ctx, tx.ID, alice.ID); !errors.Is(err, ledger.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
}

func TestDelete_IsTerminal(t *testing.T) {
	// GIVEN: A deleted claim
	ctx := context.Background()
	engine, mem := newTestEngine()
	alice := seedAccount(t, mem, "alice.carter", ledger.RoleUser, "0")
	bob := seedAccount(t, mem, "bob.harris", ledger.RoleUser, "500.00")

	tx, err := engine.CreateTransaction(ctx, alice.ID, dec("10.00"), "Lunch")
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}
	if _, err := engine.Delete(ctx, tx.ID, alice.ID); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	// WHEN/THEN: Every further transition is rejected deterministically
	if _, err := engine.Delete(ctx, tx.ID, alice.ID); !errors.Is(err, ledger.ErrAlreadyDeleted) {
		t.Errorf("expected ErrAlreadyDeleted on second delete, got %v", err)
	}
	if _, err := engine.Pay(ctx, tx.ID, bob.ID); !errors.Is(err, ledger.ErrTransactionDeleted) {
		t.Errorf("expected ErrTransactionDeleted on pay, got %v", err)
	}
	if _, err := engine.Tax(ctx, tx.ID, alice.ID); !errors.Is(err, ledger.ErrTransactionDeleted) {
		t.Errorf("expected ErrTransactionDeleted on tax, got %v", err)
	}
	if _, err := engine.Return(ctx, tx.ID, alice.ID); !errors.Is(err, ledger.ErrTransactionDeleted) {
		t.Errorf("expected ErrTransactionDeleted on return, got %v", err)
	}
	if got := balanceOf(t, mem, bob.ID); !got.Equal(dec("500.00")) {
		t.Errorf("expected bob balance unchanged, got %s", got)
	}
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestPay_Concurrent_ExactlyOneSucceeds(t *testing.T) {
	// GIVEN: N payers racing on one never-paid transaction
	// WHEN: All fire Pay concurrently
	// THEN: Exactly one success; the creator is credited exactly once
	ctx := context.Background()
	engine, mem := newTestEngine()
	alice := seedAccount(t, mem, "alice.carter", ledger.RoleUser, "0")

	const n = 16
	payers := make([]ledger.Account, n)
	for i := range payers {
		payers[i] = seedAccount(t, mem, fmt.Sprintf("payer.%02d", i), ledger.RoleUser, "100.00")
	}

	tx, err := engine.CreateTransaction(ctx, alice.ID, dec("100.00"), "Shared expense")
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}

	results := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(payer ledger.AccountID) {
			defer wg.Done()
			_, err := engine.Pay(ctx, tx.ID, payer)
			results <- err
		}(payers[i].ID)
	}
	wg.Wait()
	close(results)

	successes, rejections := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ledger.ErrAlreadyPaid) || errors.Is(err, ledger.ErrConflict):
			rejections++
		default:
			t.Errorf("unexpected error kind: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("expected exactly 1 success, got %d", successes)
	}
	if rejections != n-1 {
		t.Errorf("expected %d rejections, got %d", n-1, rejections)
	}

	if got := balanceOf(t, mem, alice.ID); !got.Equal(dec("100.00")) {
		t.Errorf("expected alice credited exactly once (100.00), got %s", got)
	}
	events, _ := engine.Events(ctx, tx.ID)
	if len(events) != 1 {
		t.Errorf("expected exactly one Paid event, got %d", len(events))
	}
}

// racingStore simulates a lost storage race: the first conflictsLeft
// appends fail with ErrConflict, as the unique event index does when a
// concurrent transition commits first. If winner is set, that event is
// committed after the conflicted attempt rolls back, so the retry derives
// status against the winner's log.
type racingStore struct {
	*store.Memory
	conflictsLeft int
	winner        *ledger.Event
}

func (r *racingStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	err := r.Memory.WithTx(ctx, func(s ledger.Store) error {
		return fn(&conflictingLog{Store: s, owner: r})
	})
	if errors.Is(err, ledger.ErrConflict) && r.winner != nil {
		ev := *r.winner
		r.winner = nil
		if _, aerr := r.Memory.AppendEvent(ctx, ev); aerr != nil {
			return aerr
		}
	}
	return err
}

type conflictingLog struct {
	ledger.Store
	owner *racingStore
}

func (c *conflictingLog) AppendEvent(ctx context.Context, ev ledger.Event) (ledger.Event, error) {
	if c.owner.conflictsLeft > 0 {
		c.owner.conflictsLeft--
		return ledger.Event{}, ledger.ErrConflict
	}
	return c.Store.AppendEvent(ctx, ev)
}

func TestPay_ConflictRetriedAgainstFreshState(t *testing.T) {
	// GIVEN: the event append loses one race
	ctx := context.Background()
	mem := store.NewMemory()
	racing := &racingStore{Memory: mem, conflictsLeft: 1}
	engine := ledger.NewEngine(racing)

	alice := seedAccount(t, mem, "alice.carter", ledger.RoleUser, "0")
	bob := seedAccount(t, mem, "bob.harris", ledger.RoleUser, "500.00")

	tx, err := engine.CreateTransaction(ctx, alice.ID, dec("100.00"), "Monthly rent share")
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}

	// WHEN: Bob pays
	_, err = engine.Pay(ctx, tx.ID, bob.ID)

	// THEN: the retry succeeds and the rolled-back first attempt leaves
	// no torn balances
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := balanceOf(t, mem, bob.ID); !got.Equal(dec("400.00")) {
		t.Errorf("expected bob balance 400.00, got %s", got)
	}
	if got := balanceOf(t, mem, alice.ID); !got.Equal(dec("100.00")) {
		t.Errorf("expected alice balance 100.00, got %s", got)
	}
	events, _ := engine.Events(ctx, tx.ID)
	if len(events) != 1 || events[0].Code != ledger.CodePaid {
		t.Fatalf("expected exactly one Paid event, got %+v", events)
	}
}

func TestPay_ConflictRetrySeesWinner(t *testing.T) {
	// GIVEN: another payer commits between the attempts
	ctx := context.Background()
	mem := store.NewMemory()
	alice := seedAccount(t, mem, "alice.carter", ledger.RoleUser, "0")
	bob := seedAccount(t, mem, "bob.harris", ledger.RoleUser, "500.00")
	carol := seedAccount(t, mem, "carol.dwyer", ledger.RoleUser, "500.00")

	plain := ledger.NewEngine(mem)
	tx, err := plain.CreateTransaction(ctx, alice.ID, dec("100.00"), "Monthly rent share")
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}

	racing := &racingStore{
		Memory:        mem,
		conflictsLeft: 1,
		winner: &ledger.Event{
			Code:          ledger.CodePaid,
			TransactionID: tx.ID,
			ActorID:       carol.ID,
			CreatedAt:     time.Now().UTC(),
		},
	}
	engine := ledger.NewEngine(racing)

	// WHEN: Bob's pay loses the race
	_, err = engine.Pay(ctx, tx.ID, bob.ID)

	// THEN: the retry re-derives status and surfaces the precondition
	// rejection, not the raw conflict; Bob is not debited
	if !errors.Is(err, ledger.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid after retry, got %v", err)
	}
	if got := balanceOf(t, mem, bob.ID); !got.Equal(dec("500.00")) {
		t.Errorf("expected bob balance unchanged, got %s", got)
	}
	events, _ := engine.Events(ctx, tx.ID)
	if len(events) != 1 || events[0].ActorID != carol.ID {
		t.Fatalf("expected only the winner's Paid event, got %+v", events)
	}
}

func TestPay_PersistentConflictSurfaced(t *testing.T) {
	// A second conflict on the retry is returned to the caller.
	ctx := context.Background()
	mem := store.NewMemory()
	racing := &racingStore{Memory: mem, conflictsLeft: 2}
	engine := ledger.NewEngine(racing)

	alice := seedAccount(t, mem, "alice.carter", ledger.RoleUser, "0")
	bob := seedAccount(t, mem, "bob.harris", ledger.RoleUser, "500.00")

	tx, err := engine.CreateTransaction(ctx, alice.ID, dec("100.00"), "Monthly rent share")
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}

	if _, err := engine.Pay(ctx, tx.ID, bob.ID); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("expected ErrConflict after exhausted retry, got %v", err)
	}
	if got := balanceOf(t, mem, bob.ID); !got.Equal(dec("500.00")) {
		t.Errorf("expected bob balance unchanged, got %s", got)
	}
}

// =============================================================================
// ZERO-SUM PROPERTY
// =============================================================================

func TestTransitions_BalanceDeltasSumToZero(t *testing.T) {
	// Total money in the system is invariant across the full lifecycle.
	ctx := context.Background()
	engine, mem := newTestEngine()
	alice := seedAccount(t, mem, "alice.carter", ledger.RoleUser, "250.00")
	bob := seedAccount(t, mem, "bob.harris", ledger.RoleUser, "250.00")

	total := func() decimal.Decimal {
		return balanceOf(t, mem, alice.ID).Add(balanceOf(t, mem, bob.ID))
	}
	initial := total()

	tx, err := engine.CreateTransaction(ctx, alice.ID, dec("75.25"), "Utilities")
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}

	if _, err := engine.Pay(ctx, tx.ID, bob.ID); err != nil {
		t.Fatalf("failed to pay: %v", err)
	}
	if !total().Equal(initial) {
		t.Errorf("total changed after pay: %s != %s", total(), initial)
	}

	if _, err := engine.Return(ctx, tx.ID, alice.ID); err != nil {
		t.Fatalf("failed to return: %v", err)
	}
	if !total().Equal(initial) {
		t.Errorf("total changed after return: %s != %s", total(), initial)
	}
}

// =============================================================================
// CREATE + ADMIN BALANCE ACTIONS
// =============================================================================

func TestCreateTransaction_Validation(t *testing.T) {
	ctx := context.Background()
	engine, mem := newTestEngine()
	alice := seedAccount(t, mem, "alice.carter", ledger.RoleUser, "0")

	if _, err := engine.CreateTransaction(ctx, alice.ID, dec("0"), "Lunch"); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("expected amount validation error, got %v", err)
	}
	if _, err := engine.CreateTransaction(ctx, alice.ID, dec("10.00"), "bad; reason"); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("expected reason validation error, got %v", err)
	}
	if _, err := engine.CreateTransaction(ctx, "ghost", dec("10.00"), "Lunch"); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestUpdateBalance_Actions(t *testing.T) {
	ctx := context.Background()
	engine, mem := newTestEngine()
	alice := seedAccount(t, mem, "alice.carter", ledger.RoleUser, "100.00")

	balance, err := engine.UpdateBalance(ctx, alice.ID, ledger.BalanceDeposit, dec("50.00"))
	if err != nil || !balance.Equal(dec("150.00")) {
		t.Errorf("deposit: expected 150.00, got %s (%v)", balance, err)
	}

	balance, err = engine.UpdateBalance(ctx, alice.ID, ledger.BalanceWithdraw, dec("30.00"))
	if err != nil || !balance.Equal(dec("120.00")) {
		t.Errorf("withdraw: expected 120.00, got %s (%v)", balance, err)
	}

	balance, err = engine.UpdateBalance(ctx, alice.ID, ledger.BalanceSet, dec("42.00"))
	if err != nil || !balance.Equal(dec("42.00")) {
		t.Errorf("set: expected 42.00, got %s (%v)", balance, err)
	}

	if _, err := engine.UpdateBalance(ctx, alice.ID, ledger.BalanceWithdraw, dec("1000.00")); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestUpdateBalance_PrivilegedTarget_Rejected(t *testing.T) {
	// Only plain users carry a balance.
	ctx := context.Background()
	engine, mem := newTestEngine()
	authority := seedAccount(t, mem, "vector.gov", ledger.RoleAuthority, "0")

	if _, err := engine.UpdateBalance(ctx, authority.ID, ledger.BalanceDeposit, dec("50.00")); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("expected validation error for privileged target, got %v", err)
	}
}
