/*
audit.go - Invariant audit over stored state

PURPOSE:
  Balances are stored, not derived. The audit proves they still agree with
  the log by replaying it, the same way a balance would be computed from
  an append-only ledger:

    balance(account) = sum(successful credits) - sum(successful debits)

  This holds because every account opens at 0 and only the Engine moves
  money. It also re-checks the static invariants.

CHECKS:
  negative_balance     Account.Balance < 0
  balance_mismatch     stored balance != replayed balance
  closed_customer      closed customer owns a non-closed account
  orphan_account       account references an unknown customer

SEE ALSO:
  - engine.go: The only writer of balances
  - api/scheduler.go: Runs the audit periodically
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ViolationCode string

const (
	ViolationNegativeBalance ViolationCode = "negative_balance"
	ViolationBalanceMismatch ViolationCode = "balance_mismatch"
	ViolationClosedCustomer  ViolationCode = "closed_customer"
	ViolationOrphanAccount   ViolationCode = "orphan_account"
)

type Violation struct {
	Code       ViolationCode
	CustomerID CustomerID
	AccountID  AccountID
	Message    string
}

type AuditReport struct {
	CheckedAt    time.Time
	Customers    int
	Accounts     int
	Transactions int
	// TotalHeld is the sum of stored balances per currency, in major units.
	TotalHeld  map[string]decimal.Decimal
	Violations []Violation
}

func (r AuditReport) OK() bool { return len(r.Violations) == 0 }

// Audit reads the whole store and reports every invariant violation.
// It does not take any locks; run it against a quiet ledger for an exact
// result, or accept that in-flight operations may show as mismatches.
func Audit(ctx context.Context, s Store) (AuditReport, error) {
	customers, err := s.ListCustomers(ctx)
	if err != nil {
		return AuditReport{}, fmt.Errorf("audit: list customers: %w", err)
	}
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return AuditReport{}, fmt.Errorf("audit: list accounts: %w", err)
	}
	txs, err := s.ListTransactions(ctx)
	if err != nil {
		return AuditReport{}, fmt.Errorf("audit: list transactions: %w", err)
	}

	report := AuditReport{
		CheckedAt:    time.Now().UTC(),
		Customers:    len(customers),
		Accounts:     len(accounts),
		Transactions: len(txs),
		TotalHeld:    make(map[string]decimal.Decimal),
	}

	replayed := ReplayBalances(txs)

	byID := make(map[CustomerID]Customer, len(customers))
	for _, c := range customers {
		byID[c.ID] = c
	}

	for _, a := range accounts {
		report.TotalHeld[a.Currency] = report.TotalHeld[a.Currency].Add(MajorUnits(a.Balance, a.Currency))

		if a.Balance < 0 {
			report.Violations = append(report.Violations, Violation{
				Code: ViolationNegativeBalance, CustomerID: a.CustomerID, AccountID: a.ID,
				Message: fmt.Sprintf("balance is %d", a.Balance),
			})
		}
		if want := replayed[a.ID]; want != a.Balance {
			report.Violations = append(report.Violations, Violation{
				Code: ViolationBalanceMismatch, CustomerID: a.CustomerID, AccountID: a.ID,
				Message: fmt.Sprintf("stored balance %d, log replays to %d", a.Balance, want),
			})
		}

		c, ok := byID[a.CustomerID]
		switch {
		case !ok:
			report.Violations = append(report.Violations, Violation{
				Code: ViolationOrphanAccount, CustomerID: a.CustomerID, AccountID: a.ID,
				Message: "owning customer does not exist",
			})
		case c.IsClosed() && !a.IsClosed():
			report.Violations = append(report.Violations, Violation{
				Code: ViolationClosedCustomer, CustomerID: c.ID, AccountID: a.ID,
				Message: fmt.Sprintf("closed customer owns %s account", a.Status),
			})
		}
	}

	return report, nil
}

// ReplayBalances folds successful transactions into per-account balances.
// Rejected transactions never moved money and are skipped.
func ReplayBalances(txs []Transaction) map[AccountID]int64 {
	balances := make(map[AccountID]int64)
	for _, tx := range txs {
		if tx.Status != TxSuccess {
			continue
		}
		if tx.SourceAccountID != nil {
			balances[*tx.SourceAccountID] -= tx.Amount
		}
		if tx.TargetAccountID != nil {
			balances[*tx.TargetAccountID] += tx.Amount
		}
	}
	return balances
}
