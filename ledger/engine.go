/*
engine.go - Deposits, withdrawals and transfers

PURPOSE:
  The Engine is the ONLY code that changes Account.Balance. Every call
  ends in exactly one of:
    - a logged Transaction with Status=success
    - a logged Transaction with Status=rejected and a Reason
    - an error (unknown account, or the store failed)

CRITICAL INVARIANTS:
  1. NON-NEGATIVE: no balance ever drops below zero, even transiently
  2. MUTABILITY: only active accounts may move money
  3. ATOMICITY: a transfer debits, credits and logs together or not at all
  4. AUDIT: every attempt on a known account lands in the log

VALIDATION ORDER:
  Deposit/Withdraw:
    1. account exists            -> error (nothing to log against)
    2. amount > 0                -> "Amount must be positive"
    3. account active            -> "Account is not active"
    4. balance >= amount         -> "Insufficient funds" (withdraw only)
    5. balance + amount fits     -> "Balance limit exceeded" (deposit only, at commit)
  Transfer:
    1. source != target          -> "Source and target accounts must be different"
    2. both accounts exist       -> error
    3. amount > 0                -> "Amount must be positive"
    4. both accounts active      -> "Both accounts must be active"
    5. source balance >= amount  -> "Insufficient funds on source account"
    6. target balance + amount   -> "Balance limit exceeded" (at commit)

ATOMIC BOUNDARY:
  Steps above run against a plain read. The write then happens under the
  per-account locks (ascending id) and inside TxStore.WithTx:

    lock(accounts) -> WithTx { reload, recheck, write balances, append } -> unlock -> publish

  The reload and recheck are the only protection against two transfers
  overdrafting one source between the first check and the commit. A rule
  that fails on recheck is logged as a rejection in the same commit. A
  store failure rolls everything back and is returned as an error.

SEE ALSO:
  - store.go: WithTx contract
  - events.go: Post-commit notifications
*/
package ledger

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
)

type Engine struct {
	*core
}

// CanMutate reports whether money may move into or out of a.
// Blocked and closed accounts are read-only.
func CanMutate(a Account) bool {
	return a.Status == AccountActive
}

// Deposit credits amount to the account.
func (e *Engine) Deposit(ctx context.Context, accountID AccountID, amount int64) (Transaction, error) {
	account, err := requireAccount(ctx, e.store, accountID)
	if err != nil {
		return Transaction{}, err
	}

	intent := Transaction{Type: TxDeposit, Amount: amount, TargetAccountID: AccountRef(account.ID)}

	if amount <= 0 {
		return e.reject(ctx, intent, ReasonAmountNotPositive, account.Currency)
	}
	if !CanMutate(account) {
		return e.reject(ctx, intent, ReasonAccountNotActive, account.Currency)
	}

	return e.commit(ctx, intent, []AccountID{account.ID}, func(accounts []*Account) string {
		a := accounts[0]
		if !CanMutate(*a) {
			return ReasonAccountNotActive
		}
		if a.Balance > math.MaxInt64-amount {
			return ReasonBalanceLimitExceeded
		}
		a.Balance += amount
		return ""
	})
}

// Withdraw debits amount from the account.
func (e *Engine) Withdraw(ctx context.Context, accountID AccountID, amount int64) (Transaction, error) {
	account, err := requireAccount(ctx, e.store, accountID)
	if err != nil {
		return Transaction{}, err
	}

	intent := Transaction{Type: TxWithdrawal, Amount: amount, SourceAccountID: AccountRef(account.ID)}

	if amount <= 0 {
		return e.reject(ctx, intent, ReasonAmountNotPositive, account.Currency)
	}
	if !CanMutate(account) {
		return e.reject(ctx, intent, ReasonAccountNotActive, account.Currency)
	}
	if account.Balance < amount {
		return e.reject(ctx, intent, ReasonInsufficientFunds, account.Currency)
	}

	return e.commit(ctx, intent, []AccountID{account.ID}, func(accounts []*Account) string {
		a := accounts[0]
		if !CanMutate(*a) {
			return ReasonAccountNotActive
		}
		if a.Balance < amount {
			return ReasonInsufficientFunds
		}
		a.Balance -= amount
		return ""
	})
}

// Transfer moves amount from source to target atomically.
func (e *Engine) Transfer(ctx context.Context, sourceID, targetID AccountID, amount int64) (Transaction, error) {
	intent := Transaction{
		Type:            TxTransfer,
		Amount:          amount,
		SourceAccountID: AccountRef(sourceID),
		TargetAccountID: AccountRef(targetID),
	}

	// Logged without looking either account up.
	if sourceID == targetID {
		return e.reject(ctx, intent, ReasonSameAccount, "")
	}

	source, err := requireAccount(ctx, e.store, sourceID)
	if err != nil {
		return Transaction{}, err
	}
	target, err := requireAccount(ctx, e.store, targetID)
	if err != nil {
		return Transaction{}, err
	}

	if amount <= 0 {
		return e.reject(ctx, intent, ReasonAmountNotPositive, source.Currency)
	}
	if !CanMutate(source) || !CanMutate(target) {
		return e.reject(ctx, intent, ReasonBothAccountsMustBeActive, source.Currency)
	}
	if source.Balance < amount {
		return e.reject(ctx, intent, ReasonInsufficientSourceFunds, source.Currency)
	}

	return e.commit(ctx, intent, []AccountID{sourceID, targetID}, func(accounts []*Account) string {
		src, dst := accounts[0], accounts[1]
		if !CanMutate(*src) || !CanMutate(*dst) {
			return ReasonBothAccountsMustBeActive
		}
		if src.Balance < amount {
			return ReasonInsufficientSourceFunds
		}
		if dst.Balance > math.MaxInt64-amount {
			return ReasonBalanceLimitExceeded
		}
		src.Balance -= amount
		dst.Balance += amount
		return ""
	})
}

// HistoryForAccount returns every transaction naming the account as source
// or target, success and rejected alike, in creation order.
func (e *Engine) HistoryForAccount(ctx context.Context, accountID AccountID) ([]Transaction, error) {
	if _, err := requireAccount(ctx, e.store, accountID); err != nil {
		return nil, err
	}
	txs, err := e.store.TransactionsForAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("history for account %d: %w", accountID, err)
	}
	return txs, nil
}

// =============================================================================
// ATOMIC COMMIT
// =============================================================================

// applyFunc runs inside the atomic boundary against freshly reloaded
// accounts, in the order they were passed to commit. It either mutates the
// balances and returns "", or returns a rejection reason and mutates nothing.
type applyFunc func(accounts []*Account) string

func (e *Engine) commit(ctx context.Context, intent Transaction, ids []AccountID, apply applyFunc) (Transaction, error) {
	logged, currency, err := e.commitLocked(ctx, intent, ids, apply)
	if err != nil {
		e.logger.Warn("transaction failed",
			zap.String("type", string(intent.Type)),
			zap.Int64("amount", intent.Amount),
			zap.Error(err),
		)
		return Transaction{}, err
	}

	// Published outside the account locks.
	e.observe(ctx, logged, currency)
	return logged, nil
}

// commitLocked holds the account locks for the read-check-write sequence only.
func (e *Engine) commitLocked(ctx context.Context, intent Transaction, ids []AccountID, apply applyFunc) (Transaction, string, error) {
	unlock := e.accountLocks.lock(ids...)
	defer unlock()

	var (
		logged   Transaction
		currency string
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		accounts := make([]*Account, len(ids))
		for i, id := range ids {
			a, err := requireAccount(ctx, s, id)
			if err != nil {
				return err
			}
			accounts[i] = &a
		}
		currency = accounts[0].Currency

		rec := intent
		if reason := apply(accounts); reason != "" {
			rec.Status = TxRejected
			rec.Reason = reason
		} else {
			for _, a := range accounts {
				if a.Balance < 0 {
					return fmt.Errorf("account %d would go negative", a.ID)
				}
				if err := s.SaveAccount(ctx, *a); err != nil {
					return fmt.Errorf("save account %d: %w", a.ID, err)
				}
			}
			rec.Status = TxSuccess
		}

		var err error
		logged, err = s.AppendTransaction(ctx, rec)
		if err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return Transaction{}, "", err
	}
	return logged, currency, nil
}

// reject appends a rejected record. It needs no lock: it only appends.
func (e *Engine) reject(ctx context.Context, intent Transaction, reason, currency string) (Transaction, error) {
	intent.Status = TxRejected
	intent.Reason = reason

	logged, err := e.store.AppendTransaction(ctx, intent)
	if err != nil {
		return Transaction{}, fmt.Errorf("append rejected transaction: %w", err)
	}

	e.observe(ctx, logged, currency)
	return logged, nil
}

func (e *Engine) observe(ctx context.Context, tx Transaction, currency string) {
	fields := []zap.Field{
		zap.Int64("transaction_id", int64(tx.ID)),
		zap.String("type", string(tx.Type)),
		zap.String("status", string(tx.Status)),
		zap.Int64("amount", tx.Amount),
	}
	if tx.SourceAccountID != nil {
		fields = append(fields, zap.Int64("source_account_id", int64(*tx.SourceAccountID)))
	}
	if tx.TargetAccountID != nil {
		fields = append(fields, zap.Int64("target_account_id", int64(*tx.TargetAccountID)))
	}
	if tx.IsRejected() {
		fields = append(fields, zap.String("reason", tx.Reason))
	}
	e.logger.Info("transaction logged", fields...)

	if err := e.publisher.Publish(ctx, NewTransactionEvent(tx, currency)); err != nil {
		e.logger.Warn("transaction event not published",
			zap.Int64("transaction_id", int64(tx.ID)),
			zap.Error(err),
		)
	}
}
