/*
Package ledger provides the core of the banking ledger: customers, accounts,
and the transaction engine that moves money between them.

PURPOSE:
  This package owns every rule about who may hold money, when an account
  may change, and how a balance is allowed to move. HTTP, persistence and
  event transport live elsewhere and only talk to this package through the
  Store and EventPublisher interfaces.

KEY CONCEPTS IN THIS FILE (types.go):
  - Customer: a person or company owning zero or more accounts
  - Account: a balance in minor units of one currency
  - Transaction: an immutable log entry for every attempted money movement
  - Typed IDs: CustomerID, AccountID, TransactionID cannot be mixed up

DESIGN PRINCIPLES:
  1. Integers only: amounts are int64 minor units (cents), never floats
  2. Immutability: transactions are appended once and never edited
  3. Single mutator: only the Engine changes Account.Balance
  4. Explicit state: statuses are closed string enums with Valid()

USAGE:
  l := ledger.New(store.NewTxMemory())
  c, _ := l.Customers.Create(ctx, "Ada Lovelace")
  a, _ := l.Accounts.Open(ctx, c.ID, ledger.AccountPersonal, "EUR")
  tx, _ := l.Transactions.Deposit(ctx, a.ID, 500)

SEE ALSO:
  - store.go: Persistence contract
  - engine.go: Deposits, withdrawals, transfers
  - customers.go, accounts.go: Lifecycle managers
*/
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID int64
type AccountID int64
type TransactionID int64

func (id CustomerID) String() string    { return fmt.Sprintf("%d", int64(id)) }
func (id AccountID) String() string     { return fmt.Sprintf("%d", int64(id)) }
func (id TransactionID) String() string { return fmt.Sprintf("%d", int64(id)) }

// AccountRef returns a pointer to id, for the optional source/target fields.
func AccountRef(id AccountID) *AccountID {
	return &id
}

// =============================================================================
// CUSTOMER
// =============================================================================

type CustomerStatus string

const (
	CustomerActive  CustomerStatus = "active"
	CustomerBlocked CustomerStatus = "blocked"
	CustomerClosed  CustomerStatus = "closed"
)

func (s CustomerStatus) Valid() bool {
	switch s {
	case CustomerActive, CustomerBlocked, CustomerClosed:
		return true
	}
	return false
}

type Customer struct {
	ID        CustomerID
	Name      string
	Status    CustomerStatus
	CreatedAt time.Time
}

func (c Customer) IsActive() bool  { return c.Status == CustomerActive }
func (c Customer) IsBlocked() bool { return c.Status == CustomerBlocked }
func (c Customer) IsClosed() bool  { return c.Status == CustomerClosed }

// =============================================================================
// ACCOUNT
// =============================================================================

type AccountType string

const (
	AccountPersonal AccountType = "personal"
	AccountSavings  AccountType = "savings"
	AccountBusiness AccountType = "business"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountPersonal, AccountSavings, AccountBusiness:
		return true
	}
	return false
}

// ParseAccountType accepts the lower-case names used on the wire.
func ParseAccountType(s string) (AccountType, error) {
	t := AccountType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown account type %q", ErrInvalidArgument, s)
	}
	return t, nil
}

type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountBlocked AccountStatus = "blocked"
	AccountClosed  AccountStatus = "closed"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountBlocked, AccountClosed:
		return true
	}
	return false
}

// Account holds a balance in minor units of Currency.
//
// INVARIANTS:
//   - Balance >= 0 at every observable point
//   - Balance changes only through the Engine
//   - Closed is terminal and only reachable at Balance == 0
type Account struct {
	ID         AccountID
	CustomerID CustomerID
	Type       AccountType
	Currency   string
	Balance    int64
	Status     AccountStatus
	CreatedAt  time.Time
}

func (a Account) IsActive() bool  { return a.Status == AccountActive }
func (a Account) IsBlocked() bool { return a.Status == AccountBlocked }
func (a Account) IsClosed() bool  { return a.Status == AccountClosed }

// =============================================================================
// TRANSACTION - Immutable log entry
// =============================================================================

type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
	TxTransfer   TransactionType = "transfer"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxTransfer:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TxSuccess  TransactionStatus = "success"
	TxRejected TransactionStatus = "rejected"
)

func (s TransactionStatus) Valid() bool {
	return s == TxSuccess || s == TxRejected
}

// Transaction records one attempted money movement.
// A deposit has no source, a withdrawal has no target, a transfer has both.
// Reason is set iff Status is TxRejected.
type Transaction struct {
	ID              TransactionID
	Type            TransactionType
	Amount          int64
	Timestamp       time.Time
	SourceAccountID *AccountID
	TargetAccountID *AccountID
	Status          TransactionStatus
	Reason          string
}

func (t Transaction) IsRejected() bool { return t.Status == TxRejected }

// Touches reports whether the transaction names id as source or target.
func (t Transaction) Touches(id AccountID) bool {
	return (t.SourceAccountID != nil && *t.SourceAccountID == id) ||
		(t.TargetAccountID != nil && *t.TargetAccountID == id)
}

// ValidateForAppend checks the fields every Store requires before appending.
func ValidateForAppend(t Transaction) error {
	if !t.Type.Valid() {
		return fmt.Errorf("%w: transaction type %q", ErrInvalidArgument, t.Type)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: transaction status %q", ErrInvalidArgument, t.Status)
	}
	if (t.Status == TxRejected) != (t.Reason != "") {
		return fmt.Errorf("%w: reason must be set iff rejected", ErrInvalidArgument)
	}
	return nil
}

// =============================================================================
// REJECTION REASONS
// =============================================================================

// Reasons recorded on rejected transactions. These strings are part of the
// public contract; callers match on them.
const (
	ReasonAmountNotPositive        = "Amount must be positive"
	ReasonAccountNotActive         = "Account is not active"
	ReasonInsufficientFunds        = "Insufficient funds"
	ReasonSameAccount              = "Source and target accounts must be different"
	ReasonBothAccountsMustBeActive = "Both accounts must be active"
	ReasonInsufficientSourceFunds  = "Insufficient funds on source account"
	ReasonBalanceLimitExceeded     = "Balance limit exceeded"
)
