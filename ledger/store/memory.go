// Package store provides an in-memory ledger.TxStore for testing and dev.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vector/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.Mutex
	accounts     map[ledger.AccountID]ledger.Account
	byUsername   map[string]ledger.AccountID
	transactions map[ledger.TransactionID]ledger.Transaction
	events       map[ledger.TransactionID][]ledger.Event
	nextEventID  ledger.EventID
}

func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[ledger.AccountID]ledger.Account),
		byUsername:   make(map[string]ledger.AccountID),
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
		events:       make(map[ledger.TransactionID][]ledger.Event),
		nextEventID:  1,
	}
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, account ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(account)
}

func (m *Memory) createAccountLocked(account ledger.Account) error {
	if _, exists := m.byUsername[account.Username]; exists {
		return &ledger.ValidationError{Field: "username", Rule: "already taken"}
	}
	m.accounts[account.ID] = account
	m.byUsername[account.Username] = account.ID
	return nil
}

func (m *Memory) Account(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accountLocked(id)
}

func (m *Memory) accountLocked(id ledger.AccountID) (ledger.Account, error) {
	account, ok := m.accounts[id]
	if !ok || account.DeletedAt != nil {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return account, nil
}

func (m *Memory) AccountByUsername(_ context.Context, username string) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byUsername[username]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return m.accountLocked(id)
}

func (m *Memory) UpdateAccount(_ context.Context, account ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAccountLocked(account)
}

func (m *Memory) updateAccountLocked(account ledger.Account) error {
	current, err := m.accountLocked(account.ID)
	if err != nil {
		return err
	}
	if account.Username != current.Username {
		if _, taken := m.byUsername[account.Username]; taken {
			return &ledger.ValidationError{Field: "username", Rule: "already taken"}
		}
		delete(m.byUsername, current.Username)
		m.byUsername[account.Username] = account.ID
	}
	current.Username = account.Username
	current.Email = account.Email
	current.PasswordHash = account.PasswordHash
	current.OTPSecret = account.OTPSecret
	current.UpdatedAt = time.Now().UTC()
	m.accounts[account.ID] = current
	return nil
}

func (m *Memory) SoftDeleteAccount(_ context.Context, id ledger.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, err := m.accountLocked(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	account.DeletedAt = &now
	m.accounts[id] = account
	return nil
}

func (m *Memory) SetBalance(_ context.Context, id ledger.AccountID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setBalanceLocked(id, amount)
}

func (m *Memory) setBalanceLocked(id ledger.AccountID, amount decimal.Decimal) error {
	account, err := m.accountLocked(id)
	if err != nil {
		return err
	}
	account.Balance = amount
	account.UpdatedAt = time.Now().UTC()
	m.accounts[id] = account
	return nil
}

func (m *Memory) Credit(_ context.Context, id ledger.AccountID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditLocked(id, amount)
}

func (m *Memory) creditLocked(id ledger.AccountID, amount decimal.Decimal) error {
	account, err := m.accountLocked(id)
	if err != nil {
		return err
	}
	return m.setBalanceLocked(id, account.Balance.Add(amount))
}

func (m *Memory) Debit(_ context.Context, id ledger.AccountID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debitLocked(id, amount)
}

func (m *Memory) debitLocked(id ledger.AccountID, amount decimal.Decimal) error {
	account, err := m.accountLocked(id)
	if err != nil {
		return err
	}
	if account.Balance.LessThan(amount) {
		return &ledger.InsufficientFundsError{
			AccountID: id,
			Available: account.Balance,
			Requested: amount,
		}
	}
	return m.setBalanceLocked(id, account.Balance.Sub(amount))
}

func (m *Memory) Transfer(_ context.Context, from, to ledger.AccountID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transferLocked(from, to, amount)
}

func (m *Memory) transferLocked(from, to ledger.AccountID, amount decimal.Decimal) error {
	// Verify the credit side before debiting so a failed credit cannot
	// leave a dangling debit.
	if _, err := m.accountLocked(to); err != nil {
		return err
	}
	if err := m.debitLocked(from, amount); err != nil {
		return err
	}
	return m.creditLocked(to, amount)
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

func (m *Memory) CreateTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = tx
	return nil
}

func (m *Memory) Transaction(_ context.Context, id ledger.TransactionID, includeDeleted bool) (ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transactionLocked(id, includeDeleted)
}

func (m *Memory) transactionLocked(id ledger.TransactionID, includeDeleted bool) (ledger.Transaction, error) {
	tx, ok := m.transactions[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	if tx.DeletedAt != nil && !includeDeleted {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return tx, nil
}

func (m *Memory) TransactionsByCreator(_ context.Context, creator ledger.AccountID, from, to time.Time) ([]ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []ledger.Transaction
	for _, tx := range m.transactions {
		if tx.CreatorID != creator {
			continue
		}
		if tx.CreatedAt.Before(from) || tx.CreatedAt.After(to) {
			continue
		}
		result = append(result, tx)
	}
	sortTransactions(result)
	return result, nil
}

func (m *Memory) SoftDeleteTransaction(_ context.Context, id ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.softDeleteTransactionLocked(id)
}

func (m *Memory) softDeleteTransactionLocked(id ledger.TransactionID) error {
	tx, err := m.transactionLocked(id, false)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tx.DeletedAt = &now
	m.transactions[id] = tx
	return nil
}

func sortTransactions(txs []ledger.Transaction) {
	for i := 1; i < len(txs); i++ {
		for j := i; j > 0 && txs[j].CreatedAt.Before(txs[j-1].CreatedAt); j-- {
			txs[j], txs[j-1] = txs[j-1], txs[j]
		}
	}
}

// =============================================================================
// EVENT LOG
// =============================================================================

func (m *Memory) AppendEvent(_ context.Context, ev ledger.Event) (ledger.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEventLocked(ev)
}

func (m *Memory) appendEventLocked(ev ledger.Event) (ledger.Event, error) {
	// Same invariant the sqlite store enforces with a unique index:
	// at most one event per (transaction, code).
	for _, existing := range m.events[ev.TransactionID] {
		if existing.Code == ev.Code {
			return ledger.Event{}, ledger.ErrConflict
		}
	}
	ev.ID = m.nextEventID
	m.nextEventID++
	m.events[ev.TransactionID] = append(m.events[ev.TransactionID], ev)
	return ev, nil
}

func (m *Memory) EventsByTransaction(_ context.Context, id ledger.TransactionID) ([]ledger.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventsLocked(id), nil
}

func (m *Memory) eventsLocked(id ledger.TransactionID) []ledger.Event {
	result := make([]ledger.Event, len(m.events[id]))
	copy(result, m.events[id])
	return result
}

// =============================================================================
// TRANSACTIONAL VIEW - WithTx via snapshot + rollback
// =============================================================================

// WithTx executes fn while holding the store lock, restoring a snapshot on
// error. This serializes transitions the same way the sqlite store's
// database transaction does.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	view := &txMemoryView{parent: m}

	if err := fn(view); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts     map[ledger.AccountID]ledger.Account
	byUsername   map[string]ledger.AccountID
	transactions map[ledger.TransactionID]ledger.Transaction
	events       map[ledger.TransactionID][]ledger.Event
	nextEventID  ledger.EventID
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		accounts:     make(map[ledger.AccountID]ledger.Account, len(m.accounts)),
		byUsername:   make(map[string]ledger.AccountID, len(m.byUsername)),
		transactions: make(map[ledger.TransactionID]ledger.Transaction, len(m.transactions)),
		events:       make(map[ledger.TransactionID][]ledger.Event, len(m.events)),
		nextEventID:  m.nextEventID,
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.byUsername {
		s.byUsername[k] = v
	}
	for k, v := range m.transactions {
		s.transactions[k] = v
	}
	for k, v := range m.events {
		s.events[k] = append([]ledger.Event{}, v...)
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.byUsername = s.byUsername
	m.transactions = s.transactions
	m.events = s.events
	m.nextEventID = s.nextEventID
}

// txMemoryView routes store calls to the parent's locked methods.
// The parent mutex is held for the duration of WithTx.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) CreateAccount(_ context.Context, account ledger.Account) error {
	return tv.parent.createAccountLocked(account)
}

func (tv *txMemoryView) Account(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	return tv.parent.accountLocked(id)
}

func (tv *txMemoryView) AccountByUsername(_ context.Context, username string) (ledger.Account, error) {
	id, ok := tv.parent.byUsername[username]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return tv.parent.accountLocked(id)
}

func (tv *txMemoryView) UpdateAccount(_ context.Context, account ledger.Account) error {
	return tv.parent.updateAccountLocked(account)
}

func (tv *txMemoryView) SoftDeleteAccount(_ context.Context, id ledger.AccountID) error {
	account, err := tv.parent.accountLocked(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	account.DeletedAt = &now
	tv.parent.accounts[id] = account
	return nil
}

func (tv *txMemoryView) SetBalance(_ context.Context, id ledger.AccountID, amount decimal.Decimal) error {
	return tv.parent.setBalanceLocked(id, amount)
}

func (tv *txMemoryView) Credit(_ context.Context, id ledger.AccountID, amount decimal.Decimal) error {
	return tv.parent.creditLocked(id, amount)
}

func (tv *txMemoryView) Debit(_ context.Context, id ledger.AccountID, amount decimal.Decimal) error {
	return tv.parent.debitLocked(id, amount)
}

func (tv *txMemoryView) Transfer(_ context.Context, from, to ledger.AccountID, amount decimal.Decimal) error {
	return tv.parent.transferLocked(from, to, amount)
}

func (tv *txMemoryView) CreateTransaction(_ context.Context, tx ledger.Transaction) error {
	tv.parent.transactions[tx.ID] = tx
	return nil
}

func (tv *txMemoryView) Transaction(_ context.Context, id ledger.TransactionID, includeDeleted bool) (ledger.Transaction, error) {
	return tv.parent.transactionLocked(id, includeDeleted)
}

func (tv *txMemoryView) TransactionsByCreator(_ context.Context, creator ledger.AccountID, from, to time.Time) ([]ledger.Transaction, error) {
	var result []ledger.Transaction
	for _, tx := range tv.parent.transactions {
		if tx.CreatorID == creator && !tx.CreatedAt.Before(from) && !tx.CreatedAt.After(to) {
			result = append(result, tx)
		}
	}
	sortTransactions(result)
	return result, nil
}

func (tv *txMemoryView) SoftDeleteTransaction(_ context.Context, id ledger.TransactionID) error {
	return tv.parent.softDeleteTransactionLocked(id)
}

func (tv *txMemoryView) AppendEvent(_ context.Context, ev ledger.Event) (ledger.Event, error) {
	return tv.parent.appendEventLocked(ev)
}

func (tv *txMemoryView) EventsByTransaction(_ context.Context, id ledger.TransactionID) ([]ledger.Event, error) {
	return tv.parent.eventsLocked(id), nil
}
