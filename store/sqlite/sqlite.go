/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists customers, accounts and the transaction log in a single SQLite
  file. The PostgreSQL store in store/postgres implements the same contract
  for multi-process deployments.

APPEND-ONLY ENFORCEMENT:
  The transactions table is protected twice:
  - The Store exposes no UPDATE or DELETE path for it
  - Triggers abort any UPDATE or DELETE that reaches the table anyway

KEY TABLES:
  customers:    id, name, status
  accounts:     id, customer_id, type, currency, balance (CHECK >= 0), status
  transactions: Immutable log of every attempted money movement

  transactions.source_account_id/target_account_id carry no foreign key.
  A same-account transfer is logged before the id is ever looked up, so
  the log may name an account that does not exist.

INDEXES:
  - idx_accounts_customer:        AccountsForCustomer (cascade hot path)
  - idx_transactions_source:      History lookups
  - idx_transactions_target:      History lookups

CONCURRENCY:
  The pool is limited to one connection. SQLite allows a single writer, and
  ":memory:" databases are per-connection, so one connection keeps both
  file and in-memory stores consistent. Store.mu serialises WithTx against
  the non-transactional writers.

USAGE:
  s, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer s.Close()

  l := ledger.New(s)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/ledger-core/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens (and migrates) the database at dbPath.
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

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('active', 'blocked', 'closed')),
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL REFERENCES customers(id),
		type TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		status TEXT NOT NULL CHECK (status IN ('active', 'blocked', 'closed')),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_customer
		ON accounts(customer_id);

	-- Transactions (append-only log)
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		source_account_id INTEGER,
		target_account_id INTEGER,
		status TEXT NOT NULL CHECK (status IN ('success', 'rejected')),
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_source
		ON transactions(source_account_id) WHERE source_account_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_target
		ON transactions(target_account_id) WHERE target_account_id IS NOT NULL;

	CREATE TRIGGER IF NOT EXISTS transactions_no_update
		BEFORE UPDATE ON transactions
	BEGIN
		SELECT RAISE(ABORT, 'transactions are append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS transactions_no_delete
		BEFORE DELETE ON transactions
	BEGIN
		SELECT RAISE(ABORT, 'transactions are append-only');
	END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (s *Store) CreateCustomer(ctx context.Context, c ledger.Customer) (ledger.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createCustomer(ctx, s.db, c)
}

func (s *Store) FindCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findCustomer(ctx, s.db, id)
}

func (s *Store) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveCustomer(ctx, s.db, c)
}

func (s *Store) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCustomers(ctx, s.db)
}

func createCustomer(ctx context.Context, q querier, c ledger.Customer) (ledger.Customer, error) {
	c.CreatedAt = now()
	res, err := q.ExecContext(ctx,
		`INSERT INTO customers (name, status, created_at) VALUES (?, ?, ?)`,
		c.Name, c.Status, formatTime(c.CreatedAt),
	)
	if err != nil {
		return ledger.Customer{}, fmt.Errorf("failed to insert customer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.Customer{}, fmt.Errorf("failed to read customer id: %w", err)
	}
	c.ID = ledger.CustomerID(id)
	return c, nil
}

func findCustomer(ctx context.Context, q querier, id ledger.CustomerID) (*ledger.Customer, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, name, status, created_at FROM customers WHERE id = ?`, id)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func saveCustomer(ctx context.Context, q querier, c ledger.Customer) error {
	res, err := q.ExecContext(ctx,
		`UPDATE customers SET name = ?, status = ? WHERE id = ?`,
		c.Name, c.Status, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	return requireRow(res, ledger.EntityCustomer, int64(c.ID))
}

func listCustomers(ctx context.Context, q querier) ([]ledger.Customer, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, status, created_at FROM customers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	customers := make([]ledger.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createAccount(ctx, s.db, a)
}

func (s *Store) FindAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findAccount(ctx, s.db, id)
}

func (s *Store) SaveAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAccount(ctx, s.db, a)
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAccounts(ctx, s.db, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

func (s *Store) AccountsForCustomer(ctx context.Context, id ledger.CustomerID) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAccounts(ctx, s.db,
		`SELECT `+accountColumns+` FROM accounts WHERE customer_id = ? ORDER BY id`, id)
}

const accountColumns = `id, customer_id, type, currency, balance, status, created_at`

func createAccount(ctx context.Context, q querier, a ledger.Account) (ledger.Account, error) {
	a.CreatedAt = now()
	res, err := q.ExecContext(ctx,
		`INSERT INTO accounts (customer_id, type, currency, balance, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.CustomerID, a.Type, a.Currency, a.Balance, a.Status, formatTime(a.CreatedAt),
	)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to read account id: %w", err)
	}
	a.ID = ledger.AccountID(id)
	return a, nil
}

func findAccount(ctx context.Context, q querier, id ledger.AccountID) (*ledger.Account, error) {
	row := q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func saveAccount(ctx context.Context, q querier, a ledger.Account) error {
	res, err := q.ExecContext(ctx,
		`UPDATE accounts SET type = ?, currency = ?, balance = ?, status = ? WHERE id = ?`,
		a.Type, a.Currency, a.Balance, a.Status, a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return requireRow(res, ledger.EntityAccount, int64(a.ID))
}

func queryAccounts(ctx context.Context, q querier, query string, args ...any) ([]ledger.Account, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]ledger.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// =============================================================================
// TRANSACTION LOG (append-only)
// =============================================================================

// AppendTransaction adds a transaction to the log.
func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransaction(ctx, s.db, tx)
}

func (s *Store) TransactionsForAccount(ctx context.Context, id ledger.AccountID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryTransactions(ctx, s.db,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE source_account_id = ? OR target_account_id = ?
		 ORDER BY id`, id, id)
}

func (s *Store) ListTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryTransactions(ctx, s.db, `SELECT `+transactionColumns+` FROM transactions ORDER BY id`)
}

const transactionColumns = `id, tx_type, amount, source_account_id, target_account_id, status, reason, created_at`

func appendTransaction(ctx context.Context, q querier, tx ledger.Transaction) (ledger.Transaction, error) {
	if err := ledger.ValidateForAppend(tx); err != nil {
		return ledger.Transaction{}, err
	}

	tx.Timestamp = now()
	res, err := q.ExecContext(ctx,
		`INSERT INTO transactions
		 (tx_type, amount, source_account_id, target_account_id, status, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.Type,
		tx.Amount,
		nullAccount(tx.SourceAccountID),
		nullAccount(tx.TargetAccountID),
		tx.Status,
		nullString(tx.Reason),
		formatTime(tx.Timestamp),
	)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to append transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to read transaction id: %w", err)
	}
	tx.ID = ledger.TransactionID(id)
	return tx, nil
}

func queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]ledger.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every call on the open *sql.Tx. It must not touch Store.mu,
// which WithTx already holds.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateCustomer(ctx context.Context, c ledger.Customer) (ledger.Customer, error) {
	return createCustomer(ctx, ts.tx, c)
}

func (ts *txStore) FindCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	return findCustomer(ctx, ts.tx, id)
}

func (ts *txStore) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	return saveCustomer(ctx, ts.tx, c)
}

func (ts *txStore) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	return listCustomers(ctx, ts.tx)
}

func (ts *txStore) CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	return createAccount(ctx, ts.tx, a)
}

func (ts *txStore) FindAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return findAccount(ctx, ts.tx, id)
}

func (ts *txStore) SaveAccount(ctx context.Context, a ledger.Account) error {
	return saveAccount(ctx, ts.tx, a)
}

func (ts *txStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return queryAccounts(ctx, ts.tx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

func (ts *txStore) AccountsForCustomer(ctx context.Context, id ledger.CustomerID) ([]ledger.Account, error) {
	return queryAccounts(ctx, ts.tx,
		`SELECT `+accountColumns+` FROM accounts WHERE customer_id = ? ORDER BY id`, id)
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	return appendTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) TransactionsForAccount(ctx context.Context, id ledger.AccountID) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, ts.tx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE source_account_id = ? OR target_account_id = ?
		 ORDER BY id`, id, id)
}

func (ts *txStore) ListTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, ts.tx, `SELECT `+transactionColumns+` FROM transactions ORDER BY id`)
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ ledger.Store   = (*txStore)(nil)
)

// =============================================================================
// SCANNING
// =============================================================================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (ledger.Customer, error) {
	var (
		c         ledger.Customer
		createdAt string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan customer: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

func scanAccount(row scanner) (ledger.Account, error) {
	var (
		a         ledger.Account
		createdAt string
	)
	err := row.Scan(&a.ID, &a.CustomerID, &a.Type, &a.Currency, &a.Balance, &a.Status, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan account: %w", err)
	}
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		tx        ledger.Transaction
		source    sql.NullInt64
		target    sql.NullInt64
		reason    sql.NullString
		createdAt string
	)
	err := row.Scan(&tx.ID, &tx.Type, &tx.Amount, &source, &target, &tx.Status, &reason, &createdAt)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	if source.Valid {
		tx.SourceAccountID = ledger.AccountRef(ledger.AccountID(source.Int64))
	}
	if target.Valid {
		tx.TargetAccountID = ledger.AccountRef(ledger.AccountID(target.Int64))
	}
	tx.Reason = reason.String
	tx.Timestamp = parseTime(createdAt)
	return tx, nil
}

// Helper functions

func now() time.Time {
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullAccount(id *ledger.AccountID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

// requireRow turns an UPDATE that matched nothing into a NotFoundError.
func requireRow(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return &ledger.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}
