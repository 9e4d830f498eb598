package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-core/ledger"
)

// =============================================================================
// OPEN
// =============================================================================

func TestAccounts_Open_ActiveAndEmpty(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	c, err := l.Customers.Create(ctx, "Owner")
	require.NoError(t, err)

	a, err := l.Accounts.Open(ctx, c.ID, ledger.AccountBusiness, "usd")
	require.NoError(t, err)

	assert.NotZero(t, a.ID)
	assert.Equal(t, c.ID, a.CustomerID)
	assert.Equal(t, ledger.AccountBusiness, a.Type)
	assert.Equal(t, "USD", a.Currency)
	assert.Equal(t, int64(0), a.Balance)
	assert.Equal(t, ledger.AccountActive, a.Status)
}

func TestAccounts_Open_DefaultsToEUR(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	c, err := l.Customers.Create(ctx, "Owner")
	require.NoError(t, err)

	a, err := l.Accounts.Open(ctx, c.ID, ledger.AccountSavings, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultCurrency, a.Currency)
}

func TestAccounts_Open_TypeIsCaseInsensitive(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	c, err := l.Customers.Create(ctx, "Owner")
	require.NoError(t, err)

	a, err := l.Accounts.Open(ctx, c.ID, ledger.AccountType(" Savings "), "EUR")
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountSavings, a.Type)
}

func TestAccounts_Open_Rejections(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	c, err := l.Customers.Create(ctx, "Owner")
	require.NoError(t, err)
	blocked, err := l.Customers.Create(ctx, "Blocked")
	require.NoError(t, err)
	_, err = l.Customers.Block(ctx, blocked.ID)
	require.NoError(t, err)

	tests := []struct {
		name     string
		customer ledger.CustomerID
		typ      ledger.AccountType
		currency string
		want     error
	}{
		{"unknown customer", 999, ledger.AccountPersonal, "EUR", ledger.ErrNotFound},
		{"blocked customer", blocked.ID, ledger.AccountPersonal, "EUR", ledger.ErrInvalidTransition},
		{"unknown type", c.ID, ledger.AccountType("checking"), "EUR", ledger.ErrInvalidArgument},
		{"bad currency length", c.ID, ledger.AccountPersonal, "EURO", ledger.ErrInvalidArgument},
		{"bad currency chars", c.ID, ledger.AccountPersonal, "E1R", ledger.ErrInvalidArgument},
		// Customer is checked before the type.
		{"unknown customer and type", 999, ledger.AccountType("x"), "EUR", ledger.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Accounts.Open(ctx, tt.customer, tt.typ, tt.currency)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	accounts, err := l.Accounts.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts, "failed opens must not create accounts")
}

// =============================================================================
// BLOCK / UNBLOCK
// =============================================================================

func TestAccounts_BlockUnblock_RoundTrip(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, a := fundedAccount(t, l, 300)

	blocked, err := l.Accounts.Block(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountBlocked, blocked.Status)
	assert.Equal(t, int64(300), blocked.Balance)

	// Blocking twice is harmless.
	_, err = l.Accounts.Block(ctx, a.ID)
	require.NoError(t, err)

	active, err := l.Accounts.Unblock(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountActive, active.Status)
	assert.Equal(t, int64(300), active.Balance)
}

func TestAccounts_Unblock_ActiveAccount(t *testing.T) {
	l, _ := newTestLedger(t)

	_, a := fundedAccount(t, l, 0)

	_, err := l.Accounts.Unblock(context.Background(), a.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestAccounts_Unblock_WhileCustomerBlocked(t *testing.T) {
	// GIVEN: A customer block cascaded onto the account
	// WHEN: The account alone is unblocked
	// THEN: The request fails and the account stays blocked

	l, _ := newTestLedger(t)
	ctx := context.Background()

	c, a := fundedAccount(t, l, 0)
	_, err := l.Customers.Block(ctx, c.ID)
	require.NoError(t, err)

	_, err = l.Accounts.Unblock(ctx, a.ID)
	var te *ledger.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "unblock", te.Action)

	got, err := l.Accounts.Show(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountBlocked, got.Status)
}

// =============================================================================
// CLOSE
// =============================================================================

func TestAccounts_Close_RequiresZeroBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, a := fundedAccount(t, l, 1)

	_, err := l.Accounts.Close(ctx, a.ID)
	assert.ErrorIs(t, err, ledger.ErrPreconditionFailed)

	tx, err := l.Transactions.Withdraw(ctx, a.ID, 1)
	require.NoError(t, err)
	require.Equal(t, ledger.TxSuccess, tx.Status)

	closed, err := l.Accounts.Close(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountClosed, closed.Status)
}

func TestAccounts_Close_BlockedAccount(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, a := fundedAccount(t, l, 0)
	_, err := l.Accounts.Block(ctx, a.ID)
	require.NoError(t, err)

	closed, err := l.Accounts.Close(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, closed.IsClosed())
}

func TestAccounts_Closed_IsTerminal(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, a := fundedAccount(t, l, 0)
	_, err := l.Accounts.Close(ctx, a.ID)
	require.NoError(t, err)

	for name, op := range map[string]func(context.Context, ledger.AccountID) (ledger.Account, error){
		"block":   l.Accounts.Block,
		"unblock": l.Accounts.Unblock,
		"close":   l.Accounts.Close,
	} {
		_, err := op(ctx, a.ID)
		assert.ErrorIs(t, err, ledger.ErrInvalidTransition, name)
	}
}

func TestAccounts_UnknownID(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Accounts.Show(ctx, 7)
	assert.True(t, ledger.IsNotFound(err))
	_, err = l.Accounts.Block(ctx, 7)
	assert.True(t, ledger.IsNotFound(err))
	_, err = l.Accounts.Unblock(ctx, 7)
	assert.True(t, ledger.IsNotFound(err))
	_, err = l.Accounts.Close(ctx, 7)
	assert.True(t, ledger.IsNotFound(err))
}

func TestAccounts_ForCustomer(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	c1, _ := fundedAccount(t, l, 0)
	openAccount(t, l, c1.ID, 0)
	fundedAccount(t, l, 0)

	accounts, err := l.Accounts.ForCustomer(ctx, c1.ID)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
	for _, a := range accounts {
		assert.Equal(t, c1.ID, a.CustomerID)
	}

	_, err = l.Accounts.ForCustomer(ctx, 999)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
