package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-core/ledger"
	"github.com/warp/ledger-core/ledger/store"
	"github.com/warp/ledger-core/ledger/storetest"
)

func TestTxMemory_Contract(t *testing.T) {
	storetest.Run(t, func(*testing.T) ledger.TxStore { return store.NewTxMemory() })
}

func TestMemory_AssignsIDsAndTimestamps(t *testing.T) {
	s := store.NewTxMemory()
	ctx := context.Background()

	c1, err := s.CreateCustomer(ctx, ledger.Customer{Name: "A", Status: ledger.CustomerActive})
	require.NoError(t, err)
	c2, err := s.CreateCustomer(ctx, ledger.Customer{Name: "B", Status: ledger.CustomerActive})
	require.NoError(t, err)
	assert.Equal(t, ledger.CustomerID(1), c1.ID)
	assert.Equal(t, ledger.CustomerID(2), c2.ID)
	assert.False(t, c1.CreatedAt.IsZero())

	a, err := s.CreateAccount(ctx, ledger.Account{CustomerID: c1.ID, Type: ledger.AccountPersonal, Currency: "EUR", Status: ledger.AccountActive})
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountID(1), a.ID)

	tx, err := s.AppendTransaction(ctx, ledger.Transaction{
		Type: ledger.TxDeposit, Amount: 5, TargetAccountID: ledger.AccountRef(a.ID), Status: ledger.TxSuccess,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.TransactionID(1), tx.ID)
	assert.False(t, tx.Timestamp.IsZero())
}

func TestMemory_FindUnknown_ReturnsNil(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	c, err := s.FindCustomer(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, c)

	a, err := s.FindAccount(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, a)

	err = s.SaveAccount(ctx, ledger.Account{ID: 1})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestMemory_AppendRejectsInvalid(t *testing.T) {
	s := store.NewMemory()

	_, err := s.AppendTransaction(context.Background(), ledger.Transaction{Type: ledger.TxDeposit, Status: ledger.TxRejected})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestMemory_HistoryIsDetached(t *testing.T) {
	// Editing a returned transaction must not edit the log.
	s := store.NewMemory()
	ctx := context.Background()

	target := ledger.AccountID(3)
	_, err := s.AppendTransaction(ctx, ledger.Transaction{
		Type: ledger.TxDeposit, Amount: 5, TargetAccountID: &target, Status: ledger.TxSuccess,
	})
	require.NoError(t, err)
	target = 99

	txs, err := s.TransactionsForAccount(ctx, 3)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	*txs[0].TargetAccountID = 42

	again, err := s.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountID(3), *again[0].TargetAccountID)
}

func TestMemory_TransactionsForAccount_Filters(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	one, two := ledger.AccountID(1), ledger.AccountID(2)
	for _, tx := range []ledger.Transaction{
		{Type: ledger.TxDeposit, Amount: 1, TargetAccountID: &one, Status: ledger.TxSuccess},
		{Type: ledger.TxDeposit, Amount: 1, TargetAccountID: &two, Status: ledger.TxSuccess},
		{Type: ledger.TxTransfer, Amount: 1, SourceAccountID: &two, TargetAccountID: &one, Status: ledger.TxSuccess},
	} {
		_, err := s.AppendTransaction(ctx, tx)
		require.NoError(t, err)
	}

	txs, err := s.TransactionsForAccount(ctx, one)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TransactionID(1), txs[0].ID)
	assert.Equal(t, ledger.TransactionID(3), txs[1].ID)
}

func TestTxMemory_WithTx_RollsBackOnError(t *testing.T) {
	s := store.NewTxMemory()
	ctx := context.Background()

	c, err := s.CreateCustomer(ctx, ledger.Customer{Name: "A", Status: ledger.CustomerActive})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx ledger.Store) error {
		c.Status = ledger.CustomerBlocked
		require.NoError(t, tx.SaveCustomer(ctx, c))
		_, err := tx.CreateCustomer(ctx, ledger.Customer{Name: "B", Status: ledger.CustomerActive})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.FindCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.CustomerActive, got.Status)

	all, err := s.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// IDs handed out inside the failed transaction are reused.
	next, err := s.CreateCustomer(ctx, ledger.Customer{Name: "C", Status: ledger.CustomerActive})
	require.NoError(t, err)
	assert.Equal(t, ledger.CustomerID(2), next.ID)
}

func TestTxMemory_WithTx_Commits(t *testing.T) {
	s := store.NewTxMemory()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		c, err := tx.CreateCustomer(ctx, ledger.Customer{Name: "A", Status: ledger.CustomerActive})
		if err != nil {
			return err
		}
		_, err = tx.CreateAccount(ctx, ledger.Account{CustomerID: c.ID, Type: ledger.AccountSavings, Currency: "EUR", Status: ledger.AccountActive})
		return err
	})
	require.NoError(t, err)

	accounts, err := s.AccountsForCustomer(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestTxMemory_WithTx_CancelledContext(t *testing.T) {
	s := store.NewTxMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithTx(ctx, func(ledger.Store) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
