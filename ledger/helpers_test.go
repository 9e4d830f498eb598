package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-core/ledger"
	"github.com/warp/ledger-core/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var errBoom = errors.New("boom")

func newTestLedger(t *testing.T, opts ...ledger.Option) (*ledger.Ledger, *store.TxMemory) {
	t.Helper()
	s := store.NewTxMemory()
	return ledger.New(s, opts...), s
}

// fundedAccount opens an account for a fresh customer and deposits balance.
func fundedAccount(t *testing.T, l *ledger.Ledger, balance int64) (ledger.Customer, ledger.Account) {
	t.Helper()
	ctx := context.Background()

	c, err := l.Customers.Create(ctx, "Test Customer")
	require.NoError(t, err)
	a := openAccount(t, l, c.ID, balance)
	return c, a
}

func openAccount(t *testing.T, l *ledger.Ledger, customerID ledger.CustomerID, balance int64) ledger.Account {
	t.Helper()
	ctx := context.Background()

	a, err := l.Accounts.Open(ctx, customerID, ledger.AccountPersonal, "EUR")
	require.NoError(t, err)
	if balance > 0 {
		tx, err := l.Transactions.Deposit(ctx, a.ID, balance)
		require.NoError(t, err)
		require.Equal(t, ledger.TxSuccess, tx.Status)
	}
	a, err = l.Accounts.Show(ctx, a.ID)
	require.NoError(t, err)
	return a
}

func balanceOf(t *testing.T, l *ledger.Ledger, id ledger.AccountID) int64 {
	t.Helper()
	a, err := l.Accounts.Show(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func logSize(t *testing.T, s ledger.Store) int {
	t.Helper()
	txs, err := s.ListTransactions(context.Background())
	require.NoError(t, err)
	return len(txs)
}

// =============================================================================
// STORE DOUBLES
// =============================================================================

// hookedStore runs beforeTx ahead of every WithTx and lets the transactional
// view fail chosen writes.
type hookedStore struct {
	*store.TxMemory
	beforeTx     func()
	failAppend   bool
	failSaveAcct bool
}

func (h *hookedStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if h.beforeTx != nil {
		h.beforeTx()
	}
	return h.TxMemory.WithTx(ctx, func(s ledger.Store) error {
		return fn(&failingView{Store: s, h: h})
	})
}

type failingView struct {
	ledger.Store
	h *hookedStore
}

func (v *failingView) AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if v.h.failAppend {
		return ledger.Transaction{}, errBoom
	}
	return v.Store.AppendTransaction(ctx, tx)
}

func (v *failingView) SaveAccount(ctx context.Context, a ledger.Account) error {
	if v.h.failSaveAcct {
		return errBoom
	}
	return v.Store.SaveAccount(ctx, a)
}

// recordingPublisher keeps every event it receives.
type recordingPublisher struct {
	mu     sync.Mutex
	events []ledger.TransactionEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e ledger.TransactionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Events() []ledger.TransactionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ledger.TransactionEvent(nil), p.events...)
}

// gatedPublisher signals entered on its first Publish and blocks there
// until release is closed.
type gatedPublisher struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{entered: make(chan struct{}), release: make(chan struct{})}
}

func (p *gatedPublisher) Publish(ctx context.Context, _ ledger.TransactionEvent) error {
	p.once.Do(func() { close(p.entered) })
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
