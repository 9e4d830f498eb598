// Package storetest holds the behaviour every ledger.TxStore must share.
// Each store package runs it from its own tests:
//
//	storetest.Run(t, func(t *testing.T) ledger.TxStore { return newStore(t) })
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-core/ledger"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) ledger.TxStore

var errRollback = errors.New("rollback")

func Run(t *testing.T, newStore Factory) {
	t.Run("Customers", func(t *testing.T) { testCustomers(t, newStore(t)) })
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("TransactionLog", func(t *testing.T) { testTransactionLog(t, newStore(t)) })
	t.Run("WithTxCommit", func(t *testing.T) { testWithTxCommit(t, newStore(t)) })
	t.Run("WithTxRollback", func(t *testing.T) { testWithTxRollback(t, newStore(t)) })
	t.Run("LedgerFlow", func(t *testing.T) { testLedgerFlow(t, newStore(t)) })
}

func testCustomers(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()

	missing, err := s.FindCustomer(ctx, 12345)
	require.NoError(t, err)
	assert.Nil(t, missing)

	c, err := s.CreateCustomer(ctx, ledger.Customer{Name: "Ada", Status: ledger.CustomerActive})
	require.NoError(t, err)
	assert.NotZero(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())

	c.Status = ledger.CustomerBlocked
	require.NoError(t, s.SaveCustomer(ctx, c))

	got, err := s.FindCustomer(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, ledger.CustomerBlocked, got.Status)

	err = s.SaveCustomer(ctx, ledger.Customer{ID: 12345, Name: "Ghost", Status: ledger.CustomerActive})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = s.CreateCustomer(ctx, ledger.Customer{Name: "Bob", Status: ledger.CustomerActive})
	require.NoError(t, err)

	all, err := s.ListCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Less(t, all[0].ID, all[1].ID)
}

func testAccounts(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()

	c1, err := s.CreateCustomer(ctx, ledger.Customer{Name: "One", Status: ledger.CustomerActive})
	require.NoError(t, err)
	c2, err := s.CreateCustomer(ctx, ledger.Customer{Name: "Two", Status: ledger.CustomerActive})
	require.NoError(t, err)

	open := func(c ledger.CustomerID, currency string) ledger.Account {
		a, err := s.CreateAccount(ctx, ledger.Account{
			CustomerID: c, Type: ledger.AccountPersonal, Currency: currency, Status: ledger.AccountActive,
		})
		require.NoError(t, err)
		return a
	}
	a1 := open(c1.ID, "EUR")
	open(c2.ID, "USD")
	a3 := open(c1.ID, "JPY")

	missing, err := s.FindAccount(ctx, 12345)
	require.NoError(t, err)
	assert.Nil(t, missing)

	a1.Balance = 250
	a1.Status = ledger.AccountBlocked
	require.NoError(t, s.SaveAccount(ctx, a1))

	got, err := s.FindAccount(ctx, a1.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(250), got.Balance)
	assert.Equal(t, ledger.AccountBlocked, got.Status)
	assert.Equal(t, "EUR", got.Currency)
	assert.Equal(t, c1.ID, got.CustomerID)

	err = s.SaveAccount(ctx, ledger.Account{ID: 12345, Type: ledger.AccountPersonal, Currency: "EUR", Status: ledger.AccountActive})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	owned, err := s.AccountsForCustomer(ctx, c1.ID)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, a1.ID, owned[0].ID)
	assert.Equal(t, a3.ID, owned[1].ID)

	all, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testTransactionLog(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()

	one, two := ledger.AccountID(1), ledger.AccountID(2)

	_, err := s.AppendTransaction(ctx, ledger.Transaction{Type: ledger.TxDeposit, Status: ledger.TxRejected})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	dep, err := s.AppendTransaction(ctx, ledger.Transaction{
		Type: ledger.TxDeposit, Amount: 100, TargetAccountID: &one, Status: ledger.TxSuccess,
	})
	require.NoError(t, err)
	assert.NotZero(t, dep.ID)
	assert.False(t, dep.Timestamp.IsZero())

	_, err = s.AppendTransaction(ctx, ledger.Transaction{
		Type: ledger.TxWithdrawal, Amount: 500, SourceAccountID: &two, Status: ledger.TxRejected,
		Reason: ledger.ReasonInsufficientFunds,
	})
	require.NoError(t, err)

	xfer, err := s.AppendTransaction(ctx, ledger.Transaction{
		Type: ledger.TxTransfer, Amount: 40, SourceAccountID: &one, TargetAccountID: &two, Status: ledger.TxSuccess,
	})
	require.NoError(t, err)

	history, err := s.TransactionsForAccount(ctx, one)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, dep.ID, history[0].ID)
	assert.Nil(t, history[0].SourceAccountID)
	require.NotNil(t, history[0].TargetAccountID)
	assert.Equal(t, one, *history[0].TargetAccountID)
	assert.Equal(t, xfer.ID, history[1].ID)
	assert.Equal(t, int64(40), history[1].Amount)

	all, err := s.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ledger.TxRejected, all[1].Status)
	assert.Equal(t, ledger.ReasonInsufficientFunds, all[1].Reason)
	assert.Nil(t, all[1].TargetAccountID)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func testWithTxCommit(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()

	var created ledger.Account
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		c, err := tx.CreateCustomer(ctx, ledger.Customer{Name: "Tx", Status: ledger.CustomerActive})
		if err != nil {
			return err
		}
		created, err = tx.CreateAccount(ctx, ledger.Account{
			CustomerID: c.ID, Type: ledger.AccountSavings, Currency: "EUR", Status: ledger.AccountActive,
		})
		if err != nil {
			return err
		}

		// Reads inside the transaction see its own writes.
		got, err := tx.FindAccount(ctx, created.ID)
		if err != nil {
			return err
		}
		assert.NotNil(t, got)
		return nil
	})
	require.NoError(t, err)

	got, err := s.FindAccount(ctx, created.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func testWithTxRollback(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()

	c, err := s.CreateCustomer(ctx, ledger.Customer{Name: "Keep", Status: ledger.CustomerActive})
	require.NoError(t, err)
	a, err := s.CreateAccount(ctx, ledger.Account{
		CustomerID: c.ID, Type: ledger.AccountPersonal, Currency: "EUR", Status: ledger.AccountActive,
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx ledger.Store) error {
		a.Balance = 999
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		if _, err := tx.AppendTransaction(ctx, ledger.Transaction{
			Type: ledger.TxDeposit, Amount: 999, TargetAccountID: ledger.AccountRef(a.ID), Status: ledger.TxSuccess,
		}); err != nil {
			return err
		}
		return errRollback
	})
	assert.ErrorIs(t, err, errRollback)

	got, err := s.FindAccount(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(0), got.Balance)

	txs, err := s.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

// testLedgerFlow runs the managers and engine end to end on the store.
func testLedgerFlow(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	l := ledger.New(s)

	c, err := l.Customers.Create(ctx, "Flow")
	require.NoError(t, err)
	src, err := l.Accounts.Open(ctx, c.ID, ledger.AccountPersonal, "")
	require.NoError(t, err)
	dst, err := l.Accounts.Open(ctx, c.ID, ledger.AccountSavings, "")
	require.NoError(t, err)

	tx, err := l.Transactions.Deposit(ctx, src.ID, 1000)
	require.NoError(t, err)
	require.Equal(t, ledger.TxSuccess, tx.Status)

	tx, err = l.Transactions.Transfer(ctx, src.ID, dst.ID, 400)
	require.NoError(t, err)
	require.Equal(t, ledger.TxSuccess, tx.Status)

	tx, err = l.Transactions.Withdraw(ctx, dst.ID, 401)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonInsufficientFunds, tx.Reason)

	_, err = l.Customers.Block(ctx, c.ID)
	require.NoError(t, err)
	blocked, err := l.Accounts.Show(ctx, dst.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountBlocked, blocked.Status)
	assert.Equal(t, int64(400), blocked.Balance)

	_, err = l.Customers.Unblock(ctx, c.ID)
	require.NoError(t, err)

	history, err := l.Transactions.HistoryForAccount(ctx, dst.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	report, err := l.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "violations: %v", report.Violations)
	assert.Equal(t, 3, report.Transactions)
}
