/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, keeping the ledger
  types free of wire concerns.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Every amount travels as an integer in minor units ("amount", "balance").
  Responses add a display string in major units ("display_amount",
  "display_balance"), e.g. 1050 EUR -> "10.50 EUR". Clients must never send
  display strings back.

VALIDATION:
  Validation is done by the ledger, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/currency.go: Display formatting
*/
package api

import (
	"time"

	"github.com/warp/ledger-core/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateCustomerRequest struct {
	Name string `json:"name"`
}

type OpenAccountRequest struct {
	CustomerID int64  `json:"customer_id"`
	Type       string `json:"type"`
	Currency   string `json:"currency,omitempty"`
}

// AmountRequest is the body of deposit and withdraw.
type AmountRequest struct {
	AccountID int64 `json:"account_id"`
	Amount    int64 `json:"amount"`
}

type TransferRequest struct {
	SourceAccountID int64 `json:"source_account_id"`
	TargetAccountID int64 `json:"target_account_id"`
	Amount          int64 `json:"amount"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type CustomerDTO struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type AccountDTO struct {
	ID             int64     `json:"id"`
	CustomerID     int64     `json:"customer_id"`
	Type           string    `json:"type"`
	Currency       string    `json:"currency"`
	Balance        int64     `json:"balance"`
	DisplayBalance string    `json:"display_balance"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type TransactionDTO struct {
	ID              int64     `json:"id"`
	Type            string    `json:"type"`
	Amount          int64     `json:"amount"`
	DisplayAmount   string    `json:"display_amount,omitempty"`
	SourceAccountID *int64    `json:"source_account_id,omitempty"`
	TargetAccountID *int64    `json:"target_account_id,omitempty"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

type ViolationDTO struct {
	Code       string `json:"code"`
	CustomerID int64  `json:"customer_id,omitempty"`
	AccountID  int64  `json:"account_id,omitempty"`
	Message    string `json:"message"`
}

type AuditReportDTO struct {
	CheckedAt    time.Time         `json:"checked_at"`
	OK           bool              `json:"ok"`
	Customers    int               `json:"customers"`
	Accounts     int               `json:"accounts"`
	Transactions int               `json:"transactions"`
	TotalHeld    map[string]string `json:"total_held"`
	Violations   []ViolationDTO    `json:"violations"`
}

type HealthDTO struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCustomerDTO(c ledger.Customer) CustomerDTO {
	return CustomerDTO{
		ID:        int64(c.ID),
		Name:      c.Name,
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt,
	}
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:             int64(a.ID),
		CustomerID:     int64(a.CustomerID),
		Type:           string(a.Type),
		Currency:       a.Currency,
		Balance:        a.Balance,
		DisplayBalance: ledger.FormatAmount(a.Balance, a.Currency),
		Status:         string(a.Status),
		CreatedAt:      a.CreatedAt,
	}
}

// toTransactionDTO renders tx. currency may be empty when no account named
// by tx exists, in which case display_amount is omitted.
func toTransactionDTO(tx ledger.Transaction, currency string) TransactionDTO {
	dto := TransactionDTO{
		ID:        int64(tx.ID),
		Type:      string(tx.Type),
		Amount:    tx.Amount,
		Status:    string(tx.Status),
		Reason:    tx.Reason,
		Timestamp: tx.Timestamp,
	}
	if currency != "" {
		dto.DisplayAmount = ledger.FormatAmount(tx.Amount, currency)
	}
	if tx.SourceAccountID != nil {
		id := int64(*tx.SourceAccountID)
		dto.SourceAccountID = &id
	}
	if tx.TargetAccountID != nil {
		id := int64(*tx.TargetAccountID)
		dto.TargetAccountID = &id
	}
	return dto
}

func toAuditReportDTO(r ledger.AuditReport) AuditReportDTO {
	dto := AuditReportDTO{
		CheckedAt:    r.CheckedAt,
		OK:           r.OK(),
		Customers:    r.Customers,
		Accounts:     r.Accounts,
		Transactions: r.Transactions,
		TotalHeld:    make(map[string]string, len(r.TotalHeld)),
		Violations:   make([]ViolationDTO, 0, len(r.Violations)),
	}
	for currency, total := range r.TotalHeld {
		dto.TotalHeld[currency] = total.StringFixed(ledger.MinorUnitExponent(currency))
	}
	for _, v := range r.Violations {
		dto.Violations = append(dto.Violations, ViolationDTO{
			Code:       string(v.Code),
			CustomerID: int64(v.CustomerID),
			AccountID:  int64(v.AccountID),
			Message:    v.Message,
		})
	}
	return dto
}
