package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-core/ledger"
	"github.com/warp/ledger-core/ledger/storetest"
	"github.com/warp/ledger-core/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.TxStore { return newTestStore(t) })
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	// GIVEN: A file-backed store with one deposit
	// WHEN: The store is closed and reopened
	// THEN: Balances and the log are still there

	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	first, err := sqlite.New(path)
	require.NoError(t, err)

	l := ledger.New(first)
	c, err := l.Customers.Create(ctx, "Durable")
	require.NoError(t, err)
	a, err := l.Accounts.Open(ctx, c.ID, ledger.AccountPersonal, "CHF")
	require.NoError(t, err)
	_, err = l.Transactions.Deposit(ctx, a.ID, 4200)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	got, err := second.FindAccount(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(4200), got.Balance)
	assert.Equal(t, "CHF", got.Currency)

	txs, err := second.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestStore_RejectsNegativeBalance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c, err := store.CreateCustomer(ctx, ledger.Customer{Name: "Neg", Status: ledger.CustomerActive})
	require.NoError(t, err)
	a, err := store.CreateAccount(ctx, ledger.Account{
		CustomerID: c.ID, Type: ledger.AccountPersonal, Currency: "EUR", Status: ledger.AccountActive,
	})
	require.NoError(t, err)

	a.Balance = -1
	assert.Error(t, store.SaveAccount(ctx, a))
}

func TestStore_SameAccountRejectionNeedsNoAccount(t *testing.T) {
	store := newTestStore(t)
	l := ledger.New(store)

	tx, err := l.Transactions.Transfer(context.Background(), 999, 999, 10)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonSameAccount, tx.Reason)
}

func TestStore_Ping(t *testing.T) {
	assert.NoError(t, newTestStore(t).Ping(context.Background()))
}
