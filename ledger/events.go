package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransactionEvent is emitted after a transaction has been committed to the
// log, whether it succeeded or was rejected.
type TransactionEvent struct {
	EventID         string            `json:"event_id"`
	TransactionID   TransactionID     `json:"transaction_id"`
	Type            TransactionType   `json:"type"`
	Status          TransactionStatus `json:"status"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency,omitempty"`
	SourceAccountID *AccountID        `json:"source_account_id,omitempty"`
	TargetAccountID *AccountID        `json:"target_account_id,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at"`
}

// NewTransactionEvent builds the event for a logged transaction.
func NewTransactionEvent(tx Transaction, currency string) TransactionEvent {
	return TransactionEvent{
		EventID:         uuid.NewString(),
		TransactionID:   tx.ID,
		Type:            tx.Type,
		Status:          tx.Status,
		Amount:          tx.Amount,
		Currency:        currency,
		SourceAccountID: tx.SourceAccountID,
		TargetAccountID: tx.TargetAccountID,
		Reason:          tx.Reason,
		OccurredAt:      tx.Timestamp,
	}
}

// EventPublisher delivers transaction events to downstream consumers.
// Publishing happens after commit; a failure never undoes the transaction.
type EventPublisher interface {
	Publish(ctx context.Context, event TransactionEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, TransactionEvent) error { return nil }
