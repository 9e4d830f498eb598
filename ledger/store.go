/*
store.go - Persistence interface for customers, accounts and the transaction log

PURPOSE:
  Defines the interface between the ledger rules and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:   Record lookup/save and the append-only transaction log
  TxStore: Store plus an atomic boundary (WithTx)

ABSENT RECORDS:
  FindCustomer and FindAccount return (nil, nil) when the id is unknown.
  An error always means the store itself failed. The managers turn a nil
  record into a NotFoundError.

APPEND-ONLY CONTRACT:
  Customers and accounts are mutable records. Transactions are not:
  - AppendTransaction(): the ONLY write on the log
  - NO UpdateTransaction() or DeleteTransaction() methods exist
  The store assigns ID and Timestamp; callers leave them zero.

ATOMIC BOUNDARY:
  WithTx(fn) runs fn against a transactional view of the store. If fn
  returns an error every write made through the view is rolled back; if
  fn returns nil the writes are committed together. The Engine uses this
  for the reload-recheck-write-append sequence of every money movement.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and local runs
  - store/sqlite/sqlite.go: SQLite via database/sql
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - engine.go: Uses WithTx for every balance change
  - customers.go: Uses WithTx for the block/unblock cascade
*/
package ledger

import "context"

// =============================================================================
// STORE - Records plus append-only transaction log
// =============================================================================

type Store interface {
	// CreateCustomer assigns ID and CreatedAt and persists c.
	CreateCustomer(ctx context.Context, c Customer) (Customer, error)
	FindCustomer(ctx context.Context, id CustomerID) (*Customer, error)
	SaveCustomer(ctx context.Context, c Customer) error
	ListCustomers(ctx context.Context) ([]Customer, error)

	// CreateAccount assigns ID and CreatedAt and persists a.
	CreateAccount(ctx context.Context, a Account) (Account, error)
	FindAccount(ctx context.Context, id AccountID) (*Account, error)
	SaveAccount(ctx context.Context, a Account) error
	ListAccounts(ctx context.Context) ([]Account, error)
	AccountsForCustomer(ctx context.Context, id CustomerID) ([]Account, error)

	// AppendTransaction assigns ID and Timestamp and stores tx permanently.
	// This is the ONLY write operation on the log.
	AppendTransaction(ctx context.Context, tx Transaction) (Transaction, error)

	// TransactionsForAccount returns every transaction naming id as source
	// or target, ordered by ID.
	TransactionsForAccount(ctx context.Context, id AccountID) ([]Transaction, error)

	// ListTransactions returns the whole log ordered by ID.
	ListTransactions(ctx context.Context) ([]Transaction, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
