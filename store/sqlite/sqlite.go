/*
Package sqlite provides a SQLite-backed implementation of the ledger store.

PURPOSE:
  Implements ledger.TxStore plus the settings and reconciliation-run
  persistence used by the server.

INTERFACES IMPLEMENTED:
  ledger.TxStore:      Accounts, transactions, offerings, user tasks, WithTx
  settings.Repository: system_config rows

KEY TABLES:
  accounts:            Balance holders; balance and total_earnings as TEXT decimals
  transactions:        Ledger rows; idempotency_key UNIQUE
  offerings:           Claimable tasks with remaining quantity
  user_tasks:          One row per (account, offering)
  system_config:       Typed settings stored as JSON values
  reconciliation_runs: History of ledger checks

ATOMICITY:
  Single-statement writes (status compare-and-set, quantity decrement) are
  conditional UPDATEs checked by rows affected. AdjustBalance reads and
  writes inside a SQL transaction. WithTx runs the callback on one SQL
  transaction; the callback's Store view shares it.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single open connection, which
  also keeps ":memory:" databases alive across calls. SQLITE_BUSY and
  SQLITE_LOCKED surface as ledger.ErrConcurrencyConflict.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

USAGE:
  store, err := sqlite.New("./data/rewards.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/ruanggamer/reward-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE,
		phone TEXT,
		country TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance TEXT NOT NULL,
		total_earnings TEXT NOT NULL,
		referrer_id TEXT REFERENCES accounts(id),
		referral_code TEXT UNIQUE,
		invited_count INTEGER NOT NULL DEFAULT 0,
		banned INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_referrer
		ON accounts(referrer_id) WHERE referrer_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		reference_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_kind_status
		ON transactions(kind, status);

	CREATE TABLE IF NOT EXISTS offerings (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		reward_amount TEXT NOT NULL,
		remaining_qty INTEGER NOT NULL,
		total_qty INTEGER NOT NULL,
		online INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_tasks (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		offering_id TEXT NOT NULL REFERENCES offerings(id),
		offering_name TEXT NOT NULL,
		reward_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		proof_url TEXT,
		reject_reason TEXT,
		started_at TEXT NOT NULL,
		submitted_at TEXT,
		completed_at TEXT,
		UNIQUE(account_id, offering_id)
	);

	CREATE INDEX IF NOT EXISTS idx_user_tasks_account
		ON user_tasks(account_id, started_at);

	CREATE TABLE IF NOT EXISTS system_config (
		key TEXT PRIMARY KEY,
		value_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		accounts_checked INTEGER NOT NULL DEFAULT 0,
		discrepancies INTEGER NOT NULL DEFAULT 0,
		details_json TEXT,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_started
		ON reconciliation_runs(started_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL SUPPORT
// =============================================================================

// WithTx executes fn within a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTxLocked(ctx, fn)
}

func (s *Store) withTxLocked(ctx context.Context, fn func(store ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", mapError(err))
	}
	return nil
}

func (s *Store) read() *conn { return &conn{q: s.db} }

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetAccount(ctx, id)
}

func (s *Store) CreateAccount(ctx context.Context, acc ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().CreateAccount(ctx, acc)
}

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().FindAccountByEmail(ctx, email)
}

func (s *Store) FindAccountByReferralCode(ctx context.Context, code string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().FindAccountByReferralCode(ctx, code)
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListAccounts(ctx)
}

// AdjustBalance runs the read-check-write in its own SQL transaction.
func (s *Store) AdjustBalance(ctx context.Context, id ledger.AccountID, balanceDelta, earningsDelta decimal.Decimal) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *ledger.Account
	err := s.withTxLocked(ctx, func(st ledger.Store) error {
		acc, err := st.AdjustBalance(ctx, id, balanceDelta, earningsDelta)
		out = acc
		return err
	})
	return out, err
}

func (s *Store) IncrementInvitedCount(ctx context.Context, id ledger.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().IncrementInvitedCount(ctx, id)
}

func (s *Store) SetBanned(ctx context.Context, id ledger.AccountID, banned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().SetBanned(ctx, id, banned)
}

func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().AppendTransaction(ctx, tx)
}

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetTransaction(ctx, id)
}

func (s *Store) SetTransactionStatus(ctx context.Context, id ledger.TransactionID, from, to ledger.TxStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().SetTransactionStatus(ctx, id, from, to)
}

func (s *Store) ListTransactions(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListTransactions(ctx, accountID)
}

func (s *Store) ListTransactionsByStatus(ctx context.Context, kind ledger.Kind, status ledger.TxStatus) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListTransactionsByStatus(ctx, kind, status)
}

func (s *Store) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().HasIdempotencyKey(ctx, key)
}

func (s *Store) CreateOffering(ctx context.Context, o ledger.Offering) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().CreateOffering(ctx, o)
}

func (s *Store) GetOffering(ctx context.Context, id ledger.OfferingID) (*ledger.Offering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetOffering(ctx, id)
}

func (s *Store) ListOfferings(ctx context.Context) ([]ledger.Offering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListOfferings(ctx)
}

func (s *Store) DecrementRemaining(ctx context.Context, id ledger.OfferingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().DecrementRemaining(ctx, id)
}

func (s *Store) CreateUserTask(ctx context.Context, t ledger.UserTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().CreateUserTask(ctx, t)
}

func (s *Store) GetUserTask(ctx context.Context, id ledger.TaskID) (*ledger.UserTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetUserTask(ctx, id)
}

func (s *Store) ListUserTasks(ctx context.Context, accountID ledger.AccountID) ([]ledger.UserTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListUserTasks(ctx, accountID)
}

func (s *Store) UpdateUserTask(ctx context.Context, t ledger.UserTask, expected ledger.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateUserTask(ctx, t, expected)
}

// =============================================================================
// CONN - Statement layer shared by the DB and WithTx views
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type conn struct {
	q queryer
}

const accountColumns = `id, email, phone, country, currency, balance, total_earnings,
	referrer_id, referral_code, invited_count, banned, created_at`

func (c *conn) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, string(id))
	return scanAccount(row)
}

func (c *conn) CreateAccount(ctx context.Context, acc ledger.Account) error {
	var referrer *string
	if acc.ReferrerID != nil {
		r := string(*acc.ReferrerID)
		referrer = &r
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(acc.ID), nullString(strings.ToLower(acc.Email)), nullString(acc.Phone),
		acc.Country, acc.Currency, acc.Balance, acc.TotalEarnings,
		referrer, nullString(acc.ReferralCode), acc.InvitedCount, acc.Banned,
		formatTime(acc.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create account %s: %w", acc.ID, mapError(err))
	}
	return nil
}

func (c *conn) FindAccountByEmail(ctx context.Context, email string) (*ledger.Account, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, strings.ToLower(email))
	return scanAccount(row)
}

func (c *conn) FindAccountByReferralCode(ctx context.Context, code string) (*ledger.Account, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE referral_code = ?`, code)
	return scanAccount(row)
}

func (c *conn) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, rowid`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

func (c *conn) AdjustBalance(ctx context.Context, id ledger.AccountID, balanceDelta, earningsDelta decimal.Decimal) (*ledger.Account, error) {
	acc, err := c.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	next := acc.Balance.Add(balanceDelta)
	if next.IsNegative() {
		return nil, &ledger.InsufficientBalanceError{AccountID: id, Available: acc.Balance, Requested: balanceDelta.Neg()}
	}
	acc.Balance = next
	acc.TotalEarnings = acc.TotalEarnings.Add(earningsDelta)

	if _, err := c.q.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, total_earnings = ? WHERE id = ?`,
		acc.Balance, acc.TotalEarnings, string(id),
	); err != nil {
		return nil, fmt.Errorf("adjust balance %s: %w", id, mapError(err))
	}
	return acc, nil
}

func (c *conn) IncrementInvitedCount(ctx context.Context, id ledger.AccountID) error {
	return c.execOne(ctx, ledger.ErrAccountNotFound,
		`UPDATE accounts SET invited_count = invited_count + 1 WHERE id = ?`, string(id))
}

func (c *conn) SetBanned(ctx context.Context, id ledger.AccountID, banned bool) error {
	return c.execOne(ctx, ledger.ErrAccountNotFound,
		`UPDATE accounts SET banned = ? WHERE id = ?`, banned, string(id))
}

const txColumns = `id, account_id, kind, amount, description, status, idempotency_key, reference_id, created_at`

func (c *conn) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(tx.ID), string(tx.AccountID), string(tx.Kind), tx.Amount,
		nullString(tx.Description), string(tx.Status),
		nullString(tx.IdempotencyKey), nullString(tx.ReferenceID),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", tx.ID, mapError(err))
	}
	return nil
}

func (c *conn) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, string(id))
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrTransactionNotFound
	}
	return tx, err
}

func (c *conn) SetTransactionStatus(ctx context.Context, id ledger.TransactionID, from, to ledger.TxStatus) error {
	res, err := c.q.ExecContext(ctx,
		`UPDATE transactions SET status = ? WHERE id = ? AND status = ? AND kind = ?`,
		string(to), string(id), string(from), string(ledger.KindWithdraw),
	)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	cur, err := c.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	return &ledger.TransitionError{
		Entity: "transaction", ID: string(id), From: string(cur.Status), To: string(to),
	}
}

func (c *conn) ListTransactions(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	return c.queryTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE account_id = ? ORDER BY created_at, rowid`,
		string(accountID))
}

func (c *conn) ListTransactionsByStatus(ctx context.Context, kind ledger.Kind, status ledger.TxStatus) ([]ledger.Transaction, error) {
	return c.queryTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE kind = ? AND status = ? ORDER BY created_at, rowid`,
		string(kind), string(status))
}

func (c *conn) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var count int
	err := c.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?`, key,
	).Scan(&count)
	return count > 0, mapError(err)
}

func (c *conn) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

const offeringColumns = `id, name, reward_amount, remaining_qty, total_qty, online, created_at`

func (c *conn) CreateOffering(ctx context.Context, o ledger.Offering) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO offerings (`+offeringColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(o.ID), o.Name, o.RewardAmount, o.RemainingQty, o.TotalQty, o.Online, formatTime(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create offering %s: %w", o.ID, mapError(err))
	}
	return nil
}

func (c *conn) GetOffering(ctx context.Context, id ledger.OfferingID) (*ledger.Offering, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+offeringColumns+` FROM offerings WHERE id = ?`, string(id))
	o, err := scanOffering(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrOfferingNotFound
	}
	return o, err
}

func (c *conn) ListOfferings(ctx context.Context) ([]ledger.Offering, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+offeringColumns+` FROM offerings ORDER BY created_at, rowid`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []ledger.Offering
	for rows.Next() {
		o, err := scanOffering(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (c *conn) DecrementRemaining(ctx context.Context, id ledger.OfferingID) error {
	res, err := c.q.ExecContext(ctx,
		`UPDATE offerings SET remaining_qty = remaining_qty - 1 WHERE id = ? AND remaining_qty > 0`, string(id))
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := c.GetOffering(ctx, id); err != nil {
		return err
	}
	return ledger.ErrSoldOut
}

const taskColumns = `id, account_id, offering_id, offering_name, reward_amount, status,
	proof_url, reject_reason, started_at, submitted_at, completed_at`

func (c *conn) CreateUserTask(ctx context.Context, t ledger.UserTask) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO user_tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(t.ID), string(t.AccountID), string(t.OfferingID), t.OfferingName, t.RewardAmount,
		string(t.Status), nullString(t.ProofURL), nullString(t.RejectReason),
		formatTime(t.StartedAt), formatTimePtr(t.SubmittedAt), formatTimePtr(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create user task %s: %w", t.ID, mapError(err))
	}
	return nil
}

func (c *conn) GetUserTask(ctx context.Context, id ledger.TaskID) (*ledger.UserTask, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM user_tasks WHERE id = ?`, string(id))
	t, err := scanUserTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrTaskNotFound
	}
	return t, err
}

func (c *conn) ListUserTasks(ctx context.Context, accountID ledger.AccountID) ([]ledger.UserTask, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM user_tasks WHERE account_id = ? ORDER BY started_at, rowid`, string(accountID))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []ledger.UserTask
	for rows.Next() {
		t, err := scanUserTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateUserTask writes the mutable columns. Identity and the captured
// reward are never rewritten.
func (c *conn) UpdateUserTask(ctx context.Context, t ledger.UserTask, expected ledger.TaskStatus) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE user_tasks
		SET status = ?, proof_url = ?, reject_reason = ?, submitted_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(t.Status), nullString(t.ProofURL), nullString(t.RejectReason),
		formatTimePtr(t.SubmittedAt), formatTimePtr(t.CompletedAt),
		string(t.ID), string(expected),
	)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	cur, err := c.GetUserTask(ctx, t.ID)
	if err != nil {
		return err
	}
	return &ledger.TransitionError{
		Entity: "task", ID: string(t.ID), From: string(cur.Status), To: string(t.Status),
	}
}

// execOne runs an UPDATE that must touch exactly one row.
func (c *conn) execOne(ctx context.Context, notFound error, query string, args ...any) error {
	res, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound
	}
	return nil
}

// =============================================================================
// SCANNING
// =============================================================================

func scanAccount(row scanner) (*ledger.Account, error) {
	var acc ledger.Account
	var email, phone, referrer, code sql.NullString
	var createdAt string
	err := row.Scan(
		&acc.ID, &email, &phone, &acc.Country, &acc.Currency, &acc.Balance, &acc.TotalEarnings,
		&referrer, &code, &acc.InvitedCount, &acc.Banned, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	acc.Email = email.String
	acc.Phone = phone.String
	acc.ReferralCode = code.String
	if referrer.Valid {
		id := ledger.AccountID(referrer.String)
		acc.ReferrerID = &id
	}
	if acc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &acc, nil
}

func scanTransaction(row scanner) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	var description, idemKey, refID sql.NullString
	var createdAt string
	if err := row.Scan(
		&tx.ID, &tx.AccountID, &tx.Kind, &tx.Amount, &description, &tx.Status,
		&idemKey, &refID, &createdAt,
	); err != nil {
		return nil, err
	}
	tx.Description = description.String
	tx.IdempotencyKey = idemKey.String
	tx.ReferenceID = refID.String
	var err error
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &tx, nil
}

func scanOffering(row scanner) (*ledger.Offering, error) {
	var o ledger.Offering
	var createdAt string
	if err := row.Scan(&o.ID, &o.Name, &o.RewardAmount, &o.RemainingQty, &o.TotalQty, &o.Online, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanUserTask(row scanner) (*ledger.UserTask, error) {
	var t ledger.UserTask
	var proof, reason, submittedAt, completedAt sql.NullString
	var startedAt string
	if err := row.Scan(
		&t.ID, &t.AccountID, &t.OfferingID, &t.OfferingName, &t.RewardAmount, &t.Status,
		&proof, &reason, &startedAt, &submittedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	t.ProofURL = proof.String
	t.RejectReason = reason.String
	var err error
	if t.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if t.SubmittedAt, err = parseTimePtr(submittedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// =============================================================================
// SETTINGS PERSISTENCE
// =============================================================================

// LoadConfig returns every system_config row as raw JSON.
func (s *Store) LoadConfig(ctx context.Context) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value_json FROM system_config`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

// SaveConfig upserts the given keys in one SQL transaction.
func (s *Store) SaveConfig(ctx context.Context, values map[string]json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer sqlTx.Rollback()

	now := formatTime(time.Now().UTC())
	for key, value := range values {
		if _, err := sqlTx.ExecContext(ctx, `
			INSERT INTO system_config (key, value_json, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at`,
			key, string(value), now,
		); err != nil {
			return fmt.Errorf("save config %s: %w", key, mapError(err))
		}
	}
	return mapError(sqlTx.Commit())
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

// ReconciliationRun records one execution of ledger.Reconcile.
type ReconciliationRun struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"` // running, completed, failed
	AccountsChecked int        `json:"accounts_checked"`
	Discrepancies   int        `json:"discrepancies"`
	DetailsJSON     string     `json:"details_json,omitempty"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// SaveReconciliationRun inserts or updates a run by id.
func (s *Store) SaveReconciliationRun(ctx context.Context, r ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, status, accounts_checked, discrepancies,
			details_json, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			accounts_checked = excluded.accounts_checked,
			discrepancies = excluded.discrepancies,
			details_json = excluded.details_json,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		r.ID, r.Status, r.AccountsChecked, r.Discrepancies,
		nullString(r.DetailsJSON), nullString(r.Error),
		formatTime(r.StartedAt), formatTimePtr(r.CompletedAt),
	)
	return mapError(err)
}

// ListReconciliationRuns returns the newest runs first. limit <= 0 means all.
func (s *Store) ListReconciliationRuns(ctx context.Context, limit int) ([]ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, status, accounts_checked, discrepancies, details_json, error, started_at, completed_at
		FROM reconciliation_runs
		ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var runs []ReconciliationRun
	for rows.Next() {
		var r ReconciliationRun
		var details, runErr, completedAt sql.NullString
		var startedAt string
		if err := rows.Scan(
			&r.ID, &r.Status, &r.AccountsChecked, &r.Discrepancies,
			&details, &runErr, &startedAt, &completedAt,
		); err != nil {
			return nil, err
		}
		r.DetailsJSON = details.String
		r.Error = runErr.String
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// mapError translates driver errors into ledger sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", ledger.ErrConcurrencyConflict, err)
	case se.ExtendedCode == sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: %v", ledger.ErrNotFound, err)
	case isUniqueConstraintError(se):
		msg := se.Error()
		switch {
		case strings.Contains(msg, "transactions.idempotency_key"), strings.Contains(msg, "transactions.id"):
			return ledger.ErrDuplicateIdempotencyKey
		case strings.Contains(msg, "user_tasks.account_id"):
			return ledger.ErrAlreadyClaimed
		default:
			return fmt.Errorf("%w: %v", ledger.ErrAlreadyExists, err)
		}
	}
	return err
}

func isUniqueConstraintError(se sqlite3.Error) bool {
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
