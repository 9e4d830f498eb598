// Package store provides in-memory ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/ledger-core/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state
}

// state is the unlocked data. Memory guards it with mu; the WithTx view
// uses it directly while Memory.mu is already held.
type state struct {
	customers    map[ledger.CustomerID]ledger.Customer
	accounts     map[ledger.AccountID]ledger.Account
	transactions []ledger.Transaction

	nextCustomerID    ledger.CustomerID
	nextAccountID     ledger.AccountID
	nextTransactionID ledger.TransactionID

	now func() time.Time
}

func newState() *state {
	return &state{
		customers: make(map[ledger.CustomerID]ledger.Customer),
		accounts:  make(map[ledger.AccountID]ledger.Account),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func (m *Memory) CreateCustomer(_ context.Context, c ledger.Customer) (ledger.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createCustomer(c), nil
}

func (m *Memory) FindCustomer(_ context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.findCustomer(id), nil
}

func (m *Memory) SaveCustomer(_ context.Context, c ledger.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saveCustomer(c)
}

func (m *Memory) ListCustomers(_ context.Context) ([]ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listCustomers(), nil
}

func (m *Memory) CreateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createAccount(a), nil
}

func (m *Memory) FindAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.findAccount(id), nil
}

func (m *Memory) SaveAccount(_ context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saveAccount(a)
}

func (m *Memory) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listAccounts(nil), nil
}

func (m *Memory) AccountsForCustomer(_ context.Context, id ledger.CustomerID) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listAccounts(&id), nil
}

// AppendTransaction adds a single transaction. Append-only.
func (m *Memory) AppendTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.appendTransaction(tx)
}

func (m *Memory) TransactionsForAccount(_ context.Context, id ledger.AccountID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.transactionsFor(&id), nil
}

func (m *Memory) ListTransactions(_ context.Context) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.transactionsFor(nil), nil
}

// =============================================================================
// UNLOCKED STATE OPERATIONS
// =============================================================================

func (s *state) createCustomer(c ledger.Customer) ledger.Customer {
	s.nextCustomerID++
	c.ID = s.nextCustomerID
	c.CreatedAt = s.now()
	s.customers[c.ID] = c
	return c
}

func (s *state) findCustomer(id ledger.CustomerID) *ledger.Customer {
	c, ok := s.customers[id]
	if !ok {
		return nil
	}
	return &c
}

func (s *state) saveCustomer(c ledger.Customer) error {
	if _, ok := s.customers[c.ID]; !ok {
		return &ledger.NotFoundError{Entity: ledger.EntityCustomer, ID: int64(c.ID)}
	}
	s.customers[c.ID] = c
	return nil
}

func (s *state) listCustomers() []ledger.Customer {
	out := make([]ledger.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) createAccount(a ledger.Account) ledger.Account {
	s.nextAccountID++
	a.ID = s.nextAccountID
	a.CreatedAt = s.now()
	s.accounts[a.ID] = a
	return a
}

func (s *state) findAccount(id ledger.AccountID) *ledger.Account {
	a, ok := s.accounts[id]
	if !ok {
		return nil
	}
	return &a
}

func (s *state) saveAccount(a ledger.Account) error {
	if _, ok := s.accounts[a.ID]; !ok {
		return &ledger.NotFoundError{Entity: ledger.EntityAccount, ID: int64(a.ID)}
	}
	s.accounts[a.ID] = a
	return nil
}

// listAccounts returns all accounts, or only customer's when non-nil.
func (s *state) listAccounts(customer *ledger.CustomerID) []ledger.Account {
	out := make([]ledger.Account, 0)
	for _, a := range s.accounts {
		if customer == nil || a.CustomerID == *customer {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) appendTransaction(tx ledger.Transaction) (ledger.Transaction, error) {
	if err := ledger.ValidateForAppend(tx); err != nil {
		return ledger.Transaction{}, err
	}
	s.nextTransactionID++
	tx.ID = s.nextTransactionID
	tx.Timestamp = s.now()
	tx = cloneTx(tx)

	// IDs are assigned in order, so the slice stays sorted by ID.
	s.transactions = append(s.transactions, tx)
	return cloneTx(tx), nil
}

// transactionsFor returns the log, or only entries touching account when non-nil.
func (s *state) transactionsFor(account *ledger.AccountID) []ledger.Transaction {
	out := make([]ledger.Transaction, 0)
	for _, tx := range s.transactions {
		if account == nil || tx.Touches(*account) {
			out = append(out, cloneTx(tx))
		}
	}
	return out
}

func (s *state) clone() *state {
	c := &state{
		customers:         make(map[ledger.CustomerID]ledger.Customer, len(s.customers)),
		accounts:          make(map[ledger.AccountID]ledger.Account, len(s.accounts)),
		transactions:      append([]ledger.Transaction(nil), s.transactions...),
		nextCustomerID:    s.nextCustomerID,
		nextAccountID:     s.nextAccountID,
		nextTransactionID: s.nextTransactionID,
		now:               s.now,
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	return c
}

// cloneTx detaches the optional account pointers so callers cannot edit
// stored history through them.
func cloneTx(tx ledger.Transaction) ledger.Transaction {
	if tx.SourceAccountID != nil {
		tx.SourceAccountID = ledger.AccountRef(*tx.SourceAccountID)
	}
	if tx.TargetAccountID != nil {
		tx.TargetAccountID = ledger.AccountRef(*tx.TargetAccountID)
	}
	return tx
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The store lock is held for the whole of fn, so transactions are serial.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.st.clone()

	if err := fn(&txMemoryView{st: tm.st}); err != nil {
		tm.st = snapshot
		return err
	}
	return nil
}

// txMemoryView is the Store handed to WithTx callbacks. Its methods must not
// take Memory.mu, which the caller already holds.
type txMemoryView struct {
	st *state
}

func (v *txMemoryView) CreateCustomer(_ context.Context, c ledger.Customer) (ledger.Customer, error) {
	return v.st.createCustomer(c), nil
}

func (v *txMemoryView) FindCustomer(_ context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	return v.st.findCustomer(id), nil
}

func (v *txMemoryView) SaveCustomer(_ context.Context, c ledger.Customer) error {
	return v.st.saveCustomer(c)
}

func (v *txMemoryView) ListCustomers(_ context.Context) ([]ledger.Customer, error) {
	return v.st.listCustomers(), nil
}

func (v *txMemoryView) CreateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	return v.st.createAccount(a), nil
}

func (v *txMemoryView) FindAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return v.st.findAccount(id), nil
}

func (v *txMemoryView) SaveAccount(_ context.Context, a ledger.Account) error {
	return v.st.saveAccount(a)
}

func (v *txMemoryView) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	return v.st.listAccounts(nil), nil
}

func (v *txMemoryView) AccountsForCustomer(_ context.Context, id ledger.CustomerID) ([]ledger.Account, error) {
	return v.st.listAccounts(&id), nil
}

func (v *txMemoryView) AppendTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	return v.st.appendTransaction(tx)
}

func (v *txMemoryView) TransactionsForAccount(_ context.Context, id ledger.AccountID) ([]ledger.Transaction, error) {
	return v.st.transactionsFor(&id), nil
}

func (v *txMemoryView) ListTransactions(_ context.Context) ([]ledger.Transaction, error) {
	return v.st.transactionsFor(nil), nil
}

var (
	_ ledger.TxStore = (*TxMemory)(nil)
	_ ledger.Store   = (*txMemoryView)(nil)
)
