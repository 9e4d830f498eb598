/*
customers.go - Customer lifecycle

STATES:
  active -> blocked -> active
  active/blocked -> closed (terminal)

CASCADE:
  Blocking a customer blocks every non-closed account it owns; unblocking
  re-activates every blocked account. The cascade writes account statuses
  directly (forceAccountStatus) instead of going through AccountManager,
  whose own checks would refuse e.g. unblocking an account while the
  customer is still blocked. The customer save and the account flips share
  one WithTx, so a failed write leaves nothing half-cascaded.

CLOSING:
  Only when every account is closed. No cascade is needed.

SEE ALSO:
  - accounts.go: Per-account transitions
*/
package ledger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type CustomerManager struct {
	*core
}

func (m *CustomerManager) Create(ctx context.Context, name string) (Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Customer{}, fmt.Errorf("%w: customer name is required", ErrInvalidArgument)
	}

	c, err := m.store.CreateCustomer(ctx, Customer{Name: name, Status: CustomerActive})
	if err != nil {
		return Customer{}, fmt.Errorf("create customer: %w", err)
	}

	m.logger.Info("customer created", zap.Int64("customer_id", int64(c.ID)))
	return c, nil
}

func (m *CustomerManager) Get(ctx context.Context, id CustomerID) (Customer, error) {
	return requireCustomer(ctx, m.store, id)
}

func (m *CustomerManager) List(ctx context.Context) ([]Customer, error) {
	customers, err := m.store.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return customers, nil
}

// Block blocks the customer and every non-closed account it owns.
func (m *CustomerManager) Block(ctx context.Context, id CustomerID) (Customer, error) {
	return m.cascade(ctx, id, "block", func(c Customer) error {
		if c.IsClosed() {
			return &TransitionError{Entity: EntityCustomer, ID: int64(c.ID), From: string(c.Status),
				Action: "block", Reason: "closed customers cannot be blocked"}
		}
		return nil
	}, CustomerBlocked, func(a Account) bool { return !a.IsClosed() }, AccountBlocked)
}

// Unblock re-activates the customer and every blocked account it owns.
// Closed accounts stay closed.
func (m *CustomerManager) Unblock(ctx context.Context, id CustomerID) (Customer, error) {
	return m.cascade(ctx, id, "unblock", func(c Customer) error {
		switch {
		case c.IsClosed():
			return &TransitionError{Entity: EntityCustomer, ID: int64(c.ID), From: string(c.Status),
				Action: "unblock", Reason: "closed customers cannot be unblocked"}
		case c.IsActive():
			return &TransitionError{Entity: EntityCustomer, ID: int64(c.ID), From: string(c.Status),
				Action: "unblock", Reason: "customer is already active"}
		}
		return nil
	}, CustomerActive, func(a Account) bool { return a.IsBlocked() }, AccountActive)
}

// Close closes the customer once all of its accounts are closed.
func (m *CustomerManager) Close(ctx context.Context, id CustomerID) (Customer, error) {
	unlock := m.customerLocks.lock(id)
	defer unlock()

	var closed Customer
	err := m.store.WithTx(ctx, func(s Store) error {
		c, err := requireCustomer(ctx, s, id)
		if err != nil {
			return err
		}
		if c.IsClosed() {
			return &TransitionError{Entity: EntityCustomer, ID: int64(c.ID), From: string(c.Status),
				Action: "close", Reason: "customer is already closed"}
		}

		accounts, err := s.AccountsForCustomer(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("accounts for customer %d: %w", c.ID, err)
		}
		for _, a := range accounts {
			if !a.IsClosed() {
				return &PreconditionError{Entity: EntityCustomer, ID: int64(c.ID),
					Reason: "customer can only be closed when all accounts are closed"}
			}
		}

		c.Status = CustomerClosed
		if err := s.SaveCustomer(ctx, c); err != nil {
			return fmt.Errorf("save customer %d: %w", c.ID, err)
		}
		closed = c
		return nil
	})
	if err != nil {
		return Customer{}, err
	}

	m.logger.Info("customer closed", zap.Int64("customer_id", int64(id)))
	return closed, nil
}

// cascade runs check against the current customer, sets it to status and
// force-sets every matching account to accountStatus, all in one WithTx.
func (m *CustomerManager) cascade(
	ctx context.Context,
	id CustomerID,
	action string,
	check func(Customer) error,
	status CustomerStatus,
	match func(Account) bool,
	accountStatus AccountStatus,
) (Customer, error) {
	unlock := m.customerLocks.lock(id)
	defer unlock()

	// New accounts need the customer lock, so this set is complete.
	owned, err := m.store.AccountsForCustomer(ctx, id)
	if err != nil {
		return Customer{}, fmt.Errorf("accounts for customer %d: %w", id, err)
	}
	unlockAccounts := m.accountLocks.lock(accountIDs(owned)...)
	defer unlockAccounts()

	var (
		updated Customer
		flipped int
	)
	err = m.store.WithTx(ctx, func(s Store) error {
		c, err := requireCustomer(ctx, s, id)
		if err != nil {
			return err
		}
		if err := check(c); err != nil {
			return err
		}

		c.Status = status
		if err := s.SaveCustomer(ctx, c); err != nil {
			return fmt.Errorf("save customer %d: %w", c.ID, err)
		}

		flipped, err = forceAccountStatus(ctx, s, c.ID, match, accountStatus)
		if err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return Customer{}, err
	}

	m.logger.Info("customer "+action+"ed",
		zap.Int64("customer_id", int64(id)),
		zap.Int("accounts_updated", flipped),
	)
	return updated, nil
}

// forceAccountStatus is the administrative cascade. It skips the
// AccountManager transition rules on purpose and is not exported.
func forceAccountStatus(ctx context.Context, s Store, customerID CustomerID, match func(Account) bool, status AccountStatus) (int, error) {
	accounts, err := s.AccountsForCustomer(ctx, customerID)
	if err != nil {
		return 0, fmt.Errorf("accounts for customer %d: %w", customerID, err)
	}

	n := 0
	for _, a := range accounts {
		if !match(a) || a.Status == status {
			continue
		}
		a.Status = status
		if err := s.SaveAccount(ctx, a); err != nil {
			return 0, fmt.Errorf("save account %d: %w", a.ID, err)
		}
		n++
	}
	return n, nil
}
