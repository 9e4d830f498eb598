package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// =============================================================================
// LEDGER - Wires the managers around one store
// =============================================================================

// Ledger bundles the three components that share a store and its locks.
// Construct one per process (or per test) and pass it around; there is no
// package-level state.
type Ledger struct {
	Customers    *CustomerManager
	Accounts     *AccountManager
	Transactions *Engine

	core *core
}

// core is the state shared by every manager of one Ledger.
type core struct {
	store         TxStore
	customerLocks *keyedLocks[CustomerID]
	accountLocks  *keyedLocks[AccountID]
	logger        *zap.Logger
	publisher     EventPublisher
}

type Option func(*core)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *core) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPublisher sets where committed transactions are announced.
func WithPublisher(p EventPublisher) Option {
	return func(c *core) {
		if p != nil {
			c.publisher = p
		}
	}
}

func New(store TxStore, opts ...Option) *Ledger {
	c := &core{
		store:         store,
		customerLocks: newKeyedLocks[CustomerID](),
		accountLocks:  newKeyedLocks[AccountID](),
		logger:        zap.NewNop(),
		publisher:     nopPublisher{},
	}
	for _, opt := range opts {
		opt(c)
	}

	return &Ledger{
		Customers:    &CustomerManager{core: c},
		Accounts:     &AccountManager{core: c},
		Transactions: &Engine{core: c},
		core:         c,
	}
}

// Audit checks the stored state against the ledger invariants.
func (l *Ledger) Audit(ctx context.Context) (AuditReport, error) {
	return Audit(ctx, l.core.store)
}

// =============================================================================
// SHARED LOOKUPS
// =============================================================================

func requireCustomer(ctx context.Context, s Store, id CustomerID) (Customer, error) {
	c, err := s.FindCustomer(ctx, id)
	if err != nil {
		return Customer{}, fmt.Errorf("find customer %d: %w", id, err)
	}
	if c == nil {
		return Customer{}, customerNotFound(id)
	}
	return *c, nil
}

func requireAccount(ctx context.Context, s Store, id AccountID) (Account, error) {
	a, err := s.FindAccount(ctx, id)
	if err != nil {
		return Account{}, fmt.Errorf("find account %d: %w", id, err)
	}
	if a == nil {
		return Account{}, accountNotFound(id)
	}
	return *a, nil
}

func accountIDs(accounts []Account) []AccountID {
	ids := make([]AccountID, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	return ids
}
