/*
Package sqlite provides the SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Implements account, transaction and event persistence using SQLite. The
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements touch the events table
  - Accounts and transactions are tombstoned via deleted_at, never removed

KEY TABLES:
  accounts:     Balances, roles, credentials
  transactions: Immutable claim records (amount, reason, creator)
  events:       Append-only lifecycle log

INVARIANT INDEX:
  idx_unique_event_code enforces at-most-one event per (transaction, code)
  at the storage level. A transition that slipped past the status check in
  a race trips this index; the violation surfaces as ledger.ErrConflict
  and the engine re-validates against fresh state.

CONCURRENCY:
  Uses a sync.Mutex so a transition's read-validate-write sequence
  (WithTx) is serialized against every other mutation. SQLite is opened
  with WAL for better read concurrency and crash recovery. In production
  with PostgreSQL, row locks (SELECT ... FOR UPDATE) take this role.

MONEY:
  Balances and amounts are stored as decimal strings, never floats.

USAGE:
  store, err := sqlite.New("./data/vector.db")
  if err != nil { ... }
  defer store.Close()
  engine := ledger.NewEngine(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/vector/ledger-engine/ledger"
)

// timeLayout is fixed-width (fractional zeros kept), so the lexicographic
// ordering SQL applies to the TEXT columns matches chronological order.
// RFC3339Nano drops trailing zeros and breaks that property.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Accounts (soft-deleted, never removed)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		role INTEGER NOT NULL DEFAULT 1,
		otp_secret TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);

	-- Transactions (immutable after creation; soft-deleted)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		amount TEXT NOT NULL,
		reason TEXT NOT NULL,
		creator_id TEXT NOT NULL REFERENCES accounts(id),
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_creator_date
		ON transactions(creator_id, created_at);

	-- Events (append-only lifecycle log)
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code INTEGER NOT NULL,
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		actor_id TEXT NOT NULL REFERENCES accounts(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_transaction
		ON events(transaction_id, created_at);

	-- CRITICAL: at most one event per lifecycle code per transaction.
	-- A race loser that slipped past the status check fails here.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_event_code
		ON events(transaction_id, code);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is the subset of *sql.DB / *sql.Tx the queries need, so the same
// code runs standalone and inside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNT STORE (ledger.AccountStore interface)
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, account ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createAccount(ctx, s.db, account)
}

func (s *Store) createAccount(ctx context.Context, db dbtx, account ledger.Account) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := db.ExecContext(ctx, `
		INSERT INTO accounts (id, username, email, password_hash, balance, role, otp_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.Username,
		account.Email,
		account.PasswordHash,
		account.Balance.String(),
		account.Role,
		account.OTPSecret,
		now,
		now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.ValidationError{Field: "username", Rule: "already taken"}
		}
		return fmt.Errorf("%w: failed to create account: %v", ledger.ErrStorage, err)
	}
	return nil
}

const accountColumns = `id, username, email, password_hash, balance, role, otp_secret, created_at, updated_at, deleted_at`

func (s *Store) Account(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account(ctx, s.db, id)
}

func (s *Store) account(ctx context.Context, db dbtx, id ledger.AccountID) (ledger.Account, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ? AND deleted_at IS NULL`, id)
	return scanAccount(row)
}

func (s *Store) AccountByUsername(ctx context.Context, username string) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = ? AND deleted_at IS NULL`, username)
	return scanAccount(row)
}

func (s *Store) UpdateAccount(ctx context.Context, account ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateAccount(ctx, s.db, account)
}

func (s *Store) updateAccount(ctx context.Context, db dbtx, account ledger.Account) error {
	res, err := db.ExecContext(ctx, `
		UPDATE accounts
		SET username = ?, email = ?, password_hash = ?, otp_secret = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		account.Username,
		account.Email,
		account.PasswordHash,
		account.OTPSecret,
		time.Now().UTC().Format(timeLayout),
		account.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.ValidationError{Field: "username", Rule: "already taken"}
		}
		return fmt.Errorf("%w: failed to update account: %v", ledger.ErrStorage, err)
	}
	return requireRow(res, ledger.ErrAccountNotFound)
}

func (s *Store) SoftDeleteAccount(ctx context.Context, id ledger.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.softDeleteAccount(ctx, s.db, id)
}

func (s *Store) softDeleteAccount(ctx context.Context, db dbtx, id ledger.AccountID) error {
	res, err := db.ExecContext(ctx,
		`UPDATE accounts SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("%w: failed to delete account: %v", ledger.ErrStorage, err)
	}
	return requireRow(res, ledger.ErrAccountNotFound)
}

// SetBalance sets an account balance. Atomic under the store mutex.
func (s *Store) SetBalance(ctx context.Context, id ledger.AccountID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setBalance(ctx, s.db, id, amount)
}

func (s *Store) setBalance(ctx context.Context, db dbtx, id ledger.AccountID, amount decimal.Decimal) error {
	res, err := db.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		amount.String(), time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("%w: failed to set balance: %v", ledger.ErrStorage, err)
	}
	return requireRow(res, ledger.ErrAccountNotFound)
}

func (s *Store) Credit(ctx context.Context, id ledger.AccountID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credit(ctx, s.db, id, amount)
}

func (s *Store) credit(ctx context.Context, db dbtx, id ledger.AccountID, amount decimal.Decimal) error {
	account, err := s.account(ctx, db, id)
	if err != nil {
		return err
	}
	return s.setBalance(ctx, db, id, account.Balance.Add(amount))
}

func (s *Store) Debit(ctx context.Context, id ledger.AccountID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debit(ctx, s.db, id, amount)
}

func (s *Store) debit(ctx context.Context, db dbtx, id ledger.AccountID, amount decimal.Decimal) error {
	account, err := s.account(ctx, db, id)
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
	return s.setBalance(ctx, db, id, account.Balance.Sub(amount))
}

// Transfer debits `from` and credits `to` as a unit. Standalone calls run
// inside their own database transaction; inside WithTx the enclosing
// transaction provides atomicity.
func (s *Store) Transfer(ctx context.Context, from, to ledger.AccountID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ledger.ErrStorage, err)
	}
	defer sqlTx.Rollback()

	if err := s.transfer(ctx, sqlTx, from, to, amount); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) transfer(ctx context.Context, db dbtx, from, to ledger.AccountID, amount decimal.Decimal) error {
	if err := s.debit(ctx, db, from, amount); err != nil {
		return err
	}
	return s.credit(ctx, db, to, amount)
}

// =============================================================================
// TRANSACTION STORE (ledger.TransactionStore interface)
// =============================================================================

func (s *Store) CreateTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTransaction(ctx, s.db, tx)
}

func (s *Store) createTransaction(ctx context.Context, db dbtx, tx ledger.Transaction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transactions (id, amount, reason, creator_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		tx.ID,
		tx.Amount.String(),
		tx.Reason,
		tx.CreatorID,
		tx.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to create transaction: %v", ledger.ErrStorage, err)
	}
	return nil
}

const transactionColumns = `id, amount, reason, creator_id, created_at, deleted_at`

func (s *Store) Transaction(ctx context.Context, id ledger.TransactionID, includeDeleted bool) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transaction(ctx, s.db, id, includeDeleted)
}

func (s *Store) transaction(ctx context.Context, db dbtx, id ledger.TransactionID, includeDeleted bool) (ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	return scanTransaction(db.QueryRowContext(ctx, query, id))
}

func (s *Store) TransactionsByCreator(ctx context.Context, creator ledger.AccountID, from, to time.Time) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transactionsByCreator(ctx, s.db, creator, from, to)
}

func (s *Store) transactionsByCreator(ctx context.Context, db dbtx, creator ledger.AccountID, from, to time.Time) ([]ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE creator_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC`,
		creator,
		from.UTC().Format(timeLayout),
		to.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query transactions: %v", ledger.ErrStorage, err)
	}
	defer rows.Close()

	var result []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func (s *Store) SoftDeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.softDeleteTransaction(ctx, s.db, id)
}

func (s *Store) softDeleteTransaction(ctx context.Context, db dbtx, id ledger.TransactionID) error {
	res, err := db.ExecContext(ctx,
		`UPDATE transactions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("%w: failed to delete transaction: %v", ledger.ErrStorage, err)
	}
	return requireRow(res, ledger.ErrTransactionNotFound)
}

// =============================================================================
// EVENT LOG (ledger.EventLog interface) - append-only
// =============================================================================

func (s *Store) AppendEvent(ctx context.Context, ev ledger.Event) (ledger.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEvent(ctx, s.db, ev)
}

func (s *Store) appendEvent(ctx context.Context, db dbtx, ev ledger.Event) (ledger.Event, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO events (code, transaction_id, actor_id, created_at)
		VALUES (?, ?, ?, ?)`,
		ev.Code,
		ev.TransactionID,
		ev.ActorID,
		ev.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			// idx_unique_event_code: a concurrent transition already
			// appended this code.
			return ledger.Event{}, ledger.ErrConflict
		}
		return ledger.Event{}, fmt.Errorf("%w: failed to append event: %v", ledger.ErrStorage, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return ledger.Event{}, fmt.Errorf("%w: failed to read event id: %v", ledger.ErrStorage, err)
	}
	ev.ID = ledger.EventID(id)
	return ev, nil
}

func (s *Store) EventsByTransaction(ctx context.Context, id ledger.TransactionID) ([]ledger.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventsByTransaction(ctx, s.db, id)
}

func (s *Store) eventsByTransaction(ctx context.Context, db dbtx, id ledger.TransactionID) ([]ledger.Event, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, code, transaction_id, actor_id, created_at
		FROM events
		WHERE transaction_id = ?
		ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query events: %v", ledger.ErrStorage, err)
	}
	defer rows.Close()

	var events []ledger.Event
	for rows.Next() {
		var ev ledger.Event
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.Code, &ev.TransactionID, &ev.ActorID, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan event: %v", ledger.ErrStorage, err)
		}
		ev.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction, holding the store
// mutex so concurrent transitions serialize.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ledger.ErrStorage, err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes store calls through the enclosing *sql.Tx.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) CreateAccount(ctx context.Context, account ledger.Account) error {
	return ts.parent.createAccount(ctx, ts.tx, account)
}

func (ts *txStore) Account(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	return ts.parent.account(ctx, ts.tx, id)
}

func (ts *txStore) AccountByUsername(ctx context.Context, username string) (ledger.Account, error) {
	row := ts.tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = ? AND deleted_at IS NULL`, username)
	return scanAccount(row)
}

func (ts *txStore) UpdateAccount(ctx context.Context, account ledger.Account) error {
	return ts.parent.updateAccount(ctx, ts.tx, account)
}

func (ts *txStore) SoftDeleteAccount(ctx context.Context, id ledger.AccountID) error {
	return ts.parent.softDeleteAccount(ctx, ts.tx, id)
}

func (ts *txStore) SetBalance(ctx context.Context, id ledger.AccountID, amount decimal.Decimal) error {
	return ts.parent.setBalance(ctx, ts.tx, id, amount)
}

func (ts *txStore) Credit(ctx context.Context, id ledger.AccountID, amount decimal.Decimal) error {
	return ts.parent.credit(ctx, ts.tx, id, amount)
}

func (ts *txStore) Debit(ctx context.Context, id ledger.AccountID, amount decimal.Decimal) error {
	return ts.parent.debit(ctx, ts.tx, id, amount)
}

func (ts *txStore) Transfer(ctx context.Context, from, to ledger.AccountID, amount decimal.Decimal) error {
	return ts.parent.transfer(ctx, ts.tx, from, to, amount)
}

func (ts *txStore) CreateTransaction(ctx context.Context, tx ledger.Transaction) error {
	return ts.parent.createTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) Transaction(ctx context.Context, id ledger.TransactionID, includeDeleted bool) (ledger.Transaction, error) {
	return ts.parent.transaction(ctx, ts.tx, id, includeDeleted)
}

func (ts *txStore) TransactionsByCreator(ctx context.Context, creator ledger.AccountID, from, to time.Time) ([]ledger.Transaction, error) {
	return ts.parent.transactionsByCreator(ctx, ts.tx, creator, from, to)
}

func (ts *txStore) SoftDeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	return ts.parent.softDeleteTransaction(ctx, ts.tx, id)
}

func (ts *txStore) AppendEvent(ctx context.Context, ev ledger.Event) (ledger.Event, error) {
	return ts.parent.appendEvent(ctx, ts.tx, ev)
}

func (ts *txStore) EventsByTransaction(ctx context.Context, id ledger.TransactionID) ([]ledger.Event, error) {
	return ts.parent.eventsByTransaction(ctx, ts.tx, id)
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (ledger.Account, error) {
	var (
		account   ledger.Account
		balance   string
		otpSecret sql.NullString
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)

	err := row.Scan(
		&account.ID, &account.Username, &account.Email, &account.PasswordHash,
		&balance, &account.Role, &otpSecret, &createdAt, &updatedAt, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("%w: failed to scan account: %v", ledger.ErrStorage, err)
	}

	account.Balance = parseDecimal(balance)
	account.OTPSecret = otpSecret.String
	account.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	account.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	account.DeletedAt = parseNullTime(deletedAt)
	return account, nil
}

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var (
		tx        ledger.Transaction
		amount    string
		createdAt string
		deletedAt sql.NullString
	)

	err := row.Scan(&tx.ID, &amount, &tx.Reason, &tx.CreatorID, &createdAt, &deletedAt)
	if err == sql.ErrNoRows {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("%w: failed to scan transaction: %v", ledger.ErrStorage, err)
	}

	tx.Amount = parseDecimal(amount)
	tx.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	tx.DeletedAt = parseNullTime(deletedAt)
	return tx, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStorage, err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
