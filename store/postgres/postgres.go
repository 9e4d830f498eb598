/*
Package postgres provides a PostgreSQL-backed implementation of ledger.TxStore.

PURPOSE:
  Same contract as store/sqlite, for deployments where several ledger
  processes share one database. In-process keyed locks only protect one
  process, so WithTx additionally row-locks what it reads:

    SELECT ... FROM accounts WHERE id = $1 FOR UPDATE

  Two processes transferring from the same account therefore serialise on
  the row, and the ledger's reload-and-recheck sees the committed balance.

SCHEMA:
  Migrate() creates the tables idempotently. The transactions table gets a
  trigger that raises on UPDATE or DELETE, so the log stays append-only
  even against ad-hoc SQL.

ERRORS:
  23503 (foreign_key_violation) on account insert -> ledger.NotFoundError
  Everything else is wrapped and returned as an infrastructure error.

SEE ALSO:
  - store/sqlite/sqlite.go: Single-file implementation
  - ledger/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/ledger-core/ledger"
)

type Store struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to databaseURL and runs Migrate.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool exposes the underlying pool, mainly for tests that reset tables.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('active', 'blocked', 'closed')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		customer_id BIGINT NOT NULL REFERENCES customers(id),
		type TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		status TEXT NOT NULL CHECK (status IN ('active', 'blocked', 'closed')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_customer ON accounts(customer_id)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id BIGSERIAL PRIMARY KEY,
		tx_type TEXT NOT NULL,
		amount BIGINT NOT NULL,
		source_account_id BIGINT,
		target_account_id BIGINT,
		status TEXT NOT NULL CHECK (status IN ('success', 'rejected')),
		reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_source
		ON transactions(source_account_id) WHERE source_account_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_target
		ON transactions(target_account_id) WHERE target_account_id IS NOT NULL`,
	`CREATE OR REPLACE FUNCTION ledger_transactions_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'transactions are append-only';
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS transactions_append_only ON transactions`,
	`CREATE TRIGGER transactions_append_only
		BEFORE UPDATE OR DELETE ON transactions
		FOR EACH ROW EXECUTE FUNCTION ledger_transactions_append_only()`,
}

// Migrate creates the schema. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// =============================================================================
// STORE (non-transactional, runs on the pool)
// =============================================================================

func (s *Store) CreateCustomer(ctx context.Context, c ledger.Customer) (ledger.Customer, error) {
	return createCustomer(ctx, s.pool, c)
}

func (s *Store) FindCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	return findCustomer(ctx, s.pool, id, false)
}

func (s *Store) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	return saveCustomer(ctx, s.pool, c)
}

func (s *Store) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	return listCustomers(ctx, s.pool)
}

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	return createAccount(ctx, s.pool, a)
}

func (s *Store) FindAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return findAccount(ctx, s.pool, id, false)
}

func (s *Store) SaveAccount(ctx context.Context, a ledger.Account) error {
	return saveAccount(ctx, s.pool, a)
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return queryAccounts(ctx, s.pool, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

func (s *Store) AccountsForCustomer(ctx context.Context, id ledger.CustomerID) ([]ledger.Account, error) {
	return queryAccounts(ctx, s.pool,
		`SELECT `+accountColumns+` FROM accounts WHERE customer_id = $1 ORDER BY id`, int64(id))
}

func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	return appendTransaction(ctx, s.pool, tx)
}

func (s *Store) TransactionsForAccount(ctx context.Context, id ledger.AccountID) ([]ledger.Transaction, error) {
	return transactionsForAccount(ctx, s.pool, id)
}

func (s *Store) ListTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, s.pool, `SELECT `+transactionColumns+` FROM transactions ORDER BY id`)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx runs fn inside a database transaction. Customer and account reads
// made through the view take row locks until commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (t *txStore) CreateCustomer(ctx context.Context, c ledger.Customer) (ledger.Customer, error) {
	return createCustomer(ctx, t.tx, c)
}

func (t *txStore) FindCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	return findCustomer(ctx, t.tx, id, true)
}

func (t *txStore) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	return saveCustomer(ctx, t.tx, c)
}

func (t *txStore) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	return listCustomers(ctx, t.tx)
}

func (t *txStore) CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	return createAccount(ctx, t.tx, a)
}

func (t *txStore) FindAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return findAccount(ctx, t.tx, id, true)
}

func (t *txStore) SaveAccount(ctx context.Context, a ledger.Account) error {
	return saveAccount(ctx, t.tx, a)
}

func (t *txStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return queryAccounts(ctx, t.tx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

// AccountsForCustomer locks the returned rows; the cascade rewrites them.
func (t *txStore) AccountsForCustomer(ctx context.Context, id ledger.CustomerID) ([]ledger.Account, error) {
	return queryAccounts(ctx, t.tx,
		`SELECT `+accountColumns+` FROM accounts WHERE customer_id = $1 ORDER BY id FOR UPDATE`, int64(id))
}

func (t *txStore) AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	return appendTransaction(ctx, t.tx, tx)
}

func (t *txStore) TransactionsForAccount(ctx context.Context, id ledger.AccountID) ([]ledger.Transaction, error) {
	return transactionsForAccount(ctx, t.tx, id)
}

func (t *txStore) ListTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, t.tx, `SELECT `+transactionColumns+` FROM transactions ORDER BY id`)
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ ledger.Store   = (*txStore)(nil)
)

// =============================================================================
// QUERIES
// =============================================================================

const (
	customerColumns    = `id, name, status, created_at`
	accountColumns     = `id, customer_id, type, currency, balance, status, created_at`
	transactionColumns = `id, tx_type, amount, source_account_id, target_account_id, status, reason, created_at`
)

func createCustomer(ctx context.Context, q querier, c ledger.Customer) (ledger.Customer, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO customers (name, status)
		VALUES ($1, $2)
		RETURNING `+customerColumns,
		c.Name, string(c.Status),
	)
	created, err := scanCustomer(row)
	if err != nil {
		return ledger.Customer{}, fmt.Errorf("insert customer: %w", err)
	}
	return created, nil
}

func findCustomer(ctx context.Context, q querier, id ledger.CustomerID, forUpdate bool) (*ledger.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanCustomer(q.QueryRow(ctx, query, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	return &c, nil
}

func saveCustomer(ctx context.Context, q querier, c ledger.Customer) error {
	tag, err := q.Exec(ctx,
		`UPDATE customers SET name = $1, status = $2 WHERE id = $3`,
		c.Name, string(c.Status), int64(c.ID),
	)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ledger.NotFoundError{Entity: ledger.EntityCustomer, ID: int64(c.ID)}
	}
	return nil
}

func listCustomers(ctx context.Context, q querier) ([]ledger.Customer, error) {
	rows, err := q.Query(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
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

func createAccount(ctx context.Context, q querier, a ledger.Account) (ledger.Account, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO accounts (customer_id, type, currency, balance, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+accountColumns,
		int64(a.CustomerID), string(a.Type), a.Currency, a.Balance, string(a.Status),
	)
	created, err := scanAccount(row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ledger.Account{}, &ledger.NotFoundError{Entity: ledger.EntityCustomer, ID: int64(a.CustomerID)}
		}
		return ledger.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return created, nil
}

func findAccount(ctx context.Context, q querier, id ledger.AccountID, forUpdate bool) (*ledger.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	a, err := scanAccount(q.QueryRow(ctx, query, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &a, nil
}

func saveAccount(ctx context.Context, q querier, a ledger.Account) error {
	tag, err := q.Exec(ctx,
		`UPDATE accounts SET type = $1, currency = $2, balance = $3, status = $4 WHERE id = $5`,
		string(a.Type), a.Currency, a.Balance, string(a.Status), int64(a.ID),
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ledger.NotFoundError{Entity: ledger.EntityAccount, ID: int64(a.ID)}
	}
	return nil
}

func queryAccounts(ctx context.Context, q querier, query string, args ...any) ([]ledger.Account, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
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

func appendTransaction(ctx context.Context, q querier, tx ledger.Transaction) (ledger.Transaction, error) {
	if err := ledger.ValidateForAppend(tx); err != nil {
		return ledger.Transaction{}, err
	}

	var reason *string
	if tx.Reason != "" {
		reason = &tx.Reason
	}

	row := q.QueryRow(ctx, `
		INSERT INTO transactions (tx_type, amount, source_account_id, target_account_id, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+transactionColumns,
		string(tx.Type), tx.Amount, accountParam(tx.SourceAccountID), accountParam(tx.TargetAccountID),
		string(tx.Status), reason,
	)
	logged, err := scanTransaction(row)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("append transaction: %w", err)
	}
	return logged, nil
}

func transactionsForAccount(ctx context.Context, q querier, id ledger.AccountID) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, q, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE source_account_id = $1 OR target_account_id = $1
		ORDER BY id`, int64(id))
}

func queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
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
// SCANNING
// =============================================================================

func scanCustomer(row pgx.Row) (ledger.Customer, error) {
	var (
		c      ledger.Customer
		id     int64
		status string
	)
	if err := row.Scan(&id, &c.Name, &status, &c.CreatedAt); err != nil {
		return ledger.Customer{}, err
	}
	c.ID = ledger.CustomerID(id)
	c.Status = ledger.CustomerStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		a              ledger.Account
		id, customerID int64
		typ, status    string
	)
	if err := row.Scan(&id, &customerID, &typ, &a.Currency, &a.Balance, &status, &a.CreatedAt); err != nil {
		return ledger.Account{}, err
	}
	a.ID = ledger.AccountID(id)
	a.CustomerID = ledger.CustomerID(customerID)
	a.Type = ledger.AccountType(typ)
	a.Status = ledger.AccountStatus(status)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var (
		tx             ledger.Transaction
		id             int64
		typ, status    string
		source, target *int64
		reason         *string
	)
	err := row.Scan(&id, &typ, &tx.Amount, &source, &target, &status, &reason, &tx.Timestamp)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx.ID = ledger.TransactionID(id)
	tx.Type = ledger.TransactionType(typ)
	tx.Status = ledger.TransactionStatus(status)
	if source != nil {
		tx.SourceAccountID = ledger.AccountRef(ledger.AccountID(*source))
	}
	if target != nil {
		tx.TargetAccountID = ledger.AccountRef(ledger.AccountID(*target))
	}
	if reason != nil {
		tx.Reason = *reason
	}
	tx.Timestamp = tx.Timestamp.UTC()
	return tx, nil
}

func accountParam(id *ledger.AccountID) *int64 {
	if id == nil {
		return nil
	}
	v := int64(*id)
	return &v
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503"
}
