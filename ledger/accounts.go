package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// AccountManager enforces account transitions:
//
//	active <-> blocked
//	active/blocked -> closed (terminal, balance must be 0)
//
// It never touches Balance. Every status write reloads the account inside
// WithTx so a concurrent deposit is never overwritten by a stale record.
type AccountManager struct {
	*core
}

// Open creates an active, empty account for an active customer.
// typ is matched case-insensitively. An empty currency defaults to EUR.
func (m *AccountManager) Open(ctx context.Context, customerID CustomerID, typ AccountType, currency string) (Account, error) {
	unlock := m.customerLocks.lock(customerID)
	defer unlock()

	var opened Account
	err := m.store.WithTx(ctx, func(s Store) error {
		c, err := requireCustomer(ctx, s, customerID)
		if err != nil {
			return err
		}
		if !c.IsActive() {
			return &TransitionError{Entity: EntityCustomer, ID: int64(c.ID), From: string(c.Status),
				Action: "open account for", Reason: "accounts can only be opened for active customers"}
		}
		parsed, err := ParseAccountType(string(typ))
		if err != nil {
			return err
		}
		code, err := NormalizeCurrency(currency)
		if err != nil {
			return err
		}

		opened, err = s.CreateAccount(ctx, Account{
			CustomerID: c.ID,
			Type:       parsed,
			Currency:   code,
			Balance:    0,
			Status:     AccountActive,
		})
		if err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		return nil
	})
	if err != nil {
		return Account{}, err
	}

	m.logger.Info("account opened",
		zap.Int64("account_id", int64(opened.ID)),
		zap.Int64("customer_id", int64(customerID)),
		zap.String("type", string(opened.Type)),
		zap.String("currency", opened.Currency),
	)
	return opened, nil
}

func (m *AccountManager) Block(ctx context.Context, id AccountID) (Account, error) {
	return m.transition(ctx, id, "block", func(_ Store, a Account) error {
		if a.IsClosed() {
			return &TransitionError{Entity: EntityAccount, ID: int64(a.ID), From: string(a.Status),
				Action: "block", Reason: "closed accounts cannot be blocked"}
		}
		return nil
	}, AccountBlocked)
}

// Unblock re-activates a blocked account. A customer-level block takes
// precedence: the account stays blocked until the customer is unblocked.
func (m *AccountManager) Unblock(ctx context.Context, id AccountID) (Account, error) {
	a, err := requireAccount(ctx, m.store, id)
	if err != nil {
		return Account{}, err
	}

	// Lock order is customer before account, same as the cascade.
	unlock := m.customerLocks.lock(a.CustomerID)
	defer unlock()

	return m.transition(ctx, id, "unblock", func(s Store, a Account) error {
		switch {
		case a.IsClosed():
			return &TransitionError{Entity: EntityAccount, ID: int64(a.ID), From: string(a.Status),
				Action: "unblock", Reason: "closed accounts cannot be unblocked"}
		case a.IsActive():
			return &TransitionError{Entity: EntityAccount, ID: int64(a.ID), From: string(a.Status),
				Action: "unblock", Reason: "account is already active"}
		}

		c, err := s.FindCustomer(ctx, a.CustomerID)
		if err != nil {
			return fmt.Errorf("find customer %d: %w", a.CustomerID, err)
		}
		if c != nil && c.IsBlocked() {
			return &TransitionError{Entity: EntityAccount, ID: int64(a.ID), From: string(a.Status),
				Action: "unblock", Reason: "customer is blocked; unblock the customer first"}
		}
		return nil
	}, AccountActive)
}

// Close closes an account whose balance is zero.
func (m *AccountManager) Close(ctx context.Context, id AccountID) (Account, error) {
	return m.transition(ctx, id, "close", func(_ Store, a Account) error {
		if a.IsClosed() {
			return &TransitionError{Entity: EntityAccount, ID: int64(a.ID), From: string(a.Status),
				Action: "close", Reason: "account is already closed"}
		}
		if a.Balance != 0 {
			return &PreconditionError{Entity: EntityAccount, ID: int64(a.ID),
				Reason: "account can only be closed when balance is zero"}
		}
		return nil
	}, AccountClosed)
}

func (m *AccountManager) Show(ctx context.Context, id AccountID) (Account, error) {
	return requireAccount(ctx, m.store, id)
}

func (m *AccountManager) List(ctx context.Context) ([]Account, error) {
	accounts, err := m.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

func (m *AccountManager) ForCustomer(ctx context.Context, customerID CustomerID) ([]Account, error) {
	if _, err := requireCustomer(ctx, m.store, customerID); err != nil {
		return nil, err
	}
	accounts, err := m.store.AccountsForCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("accounts for customer %d: %w", customerID, err)
	}
	return accounts, nil
}

func (m *AccountManager) transition(
	ctx context.Context,
	id AccountID,
	action string,
	check func(Store, Account) error,
	to AccountStatus,
) (Account, error) {
	unlock := m.accountLocks.lock(id)
	defer unlock()

	var updated Account
	err := m.store.WithTx(ctx, func(s Store) error {
		a, err := requireAccount(ctx, s, id)
		if err != nil {
			return err
		}
		if err := check(s, a); err != nil {
			return err
		}

		a.Status = to
		if err := s.SaveAccount(ctx, a); err != nil {
			return fmt.Errorf("save account %d: %w", a.ID, err)
		}
		updated = a
		return nil
	})
	if err != nil {
		return Account{}, err
	}

	m.logger.Info("account status changed",
		zap.Int64("account_id", int64(id)),
		zap.String("action", action),
		zap.String("status", string(to)),
	)
	return updated, nil
}
