/*
handlers.go - HTTP API handlers for the ledger

PURPOSE:
  Exposes customers, accounts and the transaction engine via REST API.
  Handles HTTP request/response and JSON serialization, and delegates
  every rule to the ledger package.

ENDPOINTS:
  Customers:
    GET    /api/customers                 List customers
    POST   /api/customers                 Create customer
    GET    /api/customers/{id}            Get customer
    GET    /api/customers/{id}/accounts   Accounts of a customer
    POST   /api/customers/{id}/block      Block customer and its accounts
    POST   /api/customers/{id}/unblock    Unblock customer and its accounts
    POST   /api/customers/{id}/close      Close customer

  Accounts:
    GET    /api/accounts                  List accounts
    POST   /api/accounts                  Open account
    GET    /api/accounts/{id}             Show account
    GET    /api/accounts/{id}/transactions History, oldest first
    POST   /api/accounts/{id}/block|unblock|close

  Transactions:
    POST   /api/transactions/deposit
    POST   /api/transactions/withdraw
    POST   /api/transactions/transfer

  Operations:
    GET    /api/health
    GET    /api/audit                     Run the audit (?cached=1 for last scheduled report)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input, malformed JSON
  - 404: Unknown customer or account
  - 409: Lifecycle conflict (invalid transition, failed precondition)
  - 500: Internal errors

  A rejected transaction is NOT an error. It is recorded in the log and
  returned with 201 and "status": "rejected".

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ledger/errors.go: Error channels
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/ledger-core/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.Ledger
	Logger    *zap.Logger
	Scheduler *AuditScheduler // optional
	Pinger    Pinger          // optional
	StoreName string
}

func NewHandler(l *ledger.Ledger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Ledger: l, Logger: logger}
}

// =============================================================================
// OPERATIONS
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Pinger != nil {
		if err := h.Pinger.Ping(r.Context()); err != nil {
			h.Logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, HealthDTO{Status: "unavailable", Store: h.StoreName})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthDTO{Status: "ok", Store: h.StoreName})
}

// Audit runs the ledger audit. With ?cached=1 it returns the scheduler's
// last report instead, or 404 if none has run yet.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("cached") != "" {
		if h.Scheduler == nil {
			writeError(w, http.StatusNotFound, "audit scheduler is not running", nil)
			return
		}
		report, ok := h.Scheduler.LastReport()
		if !ok {
			writeError(w, http.StatusNotFound, "no audit has run yet", nil)
			return
		}
		writeJSON(w, http.StatusOK, toAuditReportDTO(report))
		return
	}

	var (
		report ledger.AuditReport
		err    error
	)
	if h.Scheduler != nil {
		report, err = h.Scheduler.RunNow(r.Context())
	} else {
		report, err = h.Ledger.Audit(r.Context())
	}
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Ledger.Customers.List(r.Context())
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	out := make([]CustomerDTO, 0, len(customers))
	for _, c := range customers {
		out = append(out, toCustomerDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.Ledger.Customers.Create(r.Context(), req.Name)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := customerParam(w, r)
	if !ok {
		return
	}

	c, err := h.Ledger.Customers.Get(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

func (h *Handler) GetCustomerAccounts(w http.ResponseWriter, r *http.Request) {
	id, ok := customerParam(w, r)
	if !ok {
		return
	}

	accounts, err := h.Ledger.Accounts.ForCustomer(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountDTOs(accounts))
}

func (h *Handler) BlockCustomer(w http.ResponseWriter, r *http.Request) {
	h.customerTransition(w, r, h.Ledger.Customers.Block)
}

func (h *Handler) UnblockCustomer(w http.ResponseWriter, r *http.Request) {
	h.customerTransition(w, r, h.Ledger.Customers.Unblock)
}

func (h *Handler) CloseCustomer(w http.ResponseWriter, r *http.Request) {
	h.customerTransition(w, r, h.Ledger.Customers.Close)
}

func (h *Handler) customerTransition(
	w http.ResponseWriter,
	r *http.Request,
	transition func(context.Context, ledger.CustomerID) (ledger.Customer, error),
) {
	id, ok := customerParam(w, r)
	if !ok {
		return
	}

	c, err := transition(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Ledger.Accounts.List(r.Context())
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountDTOs(accounts))
}

func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// Open parses the type itself, after checking the customer.
	a, err := h.Ledger.Accounts.Open(r.Context(), ledger.CustomerID(req.CustomerID),
		ledger.AccountType(req.Type), req.Currency)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(a))
}

func (h *Handler) ShowAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountParam(w, r)
	if !ok {
		return
	}

	a, err := h.Ledger.Accounts.Show(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

func (h *Handler) GetAccountTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := accountParam(w, r)
	if !ok {
		return
	}

	a, err := h.Ledger.Accounts.Show(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	txs, err := h.Ledger.Transactions.HistoryForAccount(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	out := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionDTO(tx, a.Currency))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) BlockAccount(w http.ResponseWriter, r *http.Request) {
	h.accountTransition(w, r, h.Ledger.Accounts.Block)
}

func (h *Handler) UnblockAccount(w http.ResponseWriter, r *http.Request) {
	h.accountTransition(w, r, h.Ledger.Accounts.Unblock)
}

func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	h.accountTransition(w, r, h.Ledger.Accounts.Close)
}

func (h *Handler) accountTransition(
	w http.ResponseWriter,
	r *http.Request,
	transition func(context.Context, ledger.AccountID) (ledger.Account, error),
) {
	id, ok := accountParam(w, r)
	if !ok {
		return
	}

	a, err := transition(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tx, err := h.Ledger.Transactions.Deposit(r.Context(), ledger.AccountID(req.AccountID), req.Amount)
	h.writeTransaction(w, r, tx, err)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tx, err := h.Ledger.Transactions.Withdraw(r.Context(), ledger.AccountID(req.AccountID), req.Amount)
	h.writeTransaction(w, r, tx, err)
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tx, err := h.Ledger.Transactions.Transfer(r.Context(),
		ledger.AccountID(req.SourceAccountID), ledger.AccountID(req.TargetAccountID), req.Amount)
	h.writeTransaction(w, r, tx, err)
}

// writeTransaction answers 201 for every recorded transaction, rejected or not.
func (h *Handler) writeTransaction(w http.ResponseWriter, r *http.Request, tx ledger.Transaction, err error) {
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx, h.currencyOf(r.Context(), tx)))
}

// currencyOf finds the currency of the first account tx names, or "" when
// neither exists (a same-account transfer on an unknown id).
func (h *Handler) currencyOf(ctx context.Context, tx ledger.Transaction) string {
	for _, ref := range []*ledger.AccountID{tx.SourceAccountID, tx.TargetAccountID} {
		if ref == nil {
			continue
		}
		if a, err := h.Ledger.Accounts.Show(ctx, *ref); err == nil {
			return a.Currency
		}
	}
	return ""
}

// =============================================================================
// HELPERS
// =============================================================================

func accountDTOs(accounts []ledger.Account) []AccountDTO {
	out := make([]AccountDTO, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountDTO(a))
	}
	return out
}

func customerParam(w http.ResponseWriter, r *http.Request) (ledger.CustomerID, bool) {
	id, ok := parseID(w, r)
	return ledger.CustomerID(id), ok
}

func accountParam(w http.ResponseWriter, r *http.Request) (ledger.AccountID, bool) {
	id, ok := parseID(w, r)
	return ledger.AccountID(id), ok
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid id %q", raw), nil)
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

// writeLedgerError maps the ledger's error channel onto HTTP statuses.
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	if !ledger.IsClientError(err) {
		h.Logger.Error("request failed", zap.Error(err))
		writeCodedError(w, http.StatusInternalServerError, "internal", errors.New("internal error"))
		return
	}

	switch {
	case ledger.IsNotFound(err):
		writeCodedError(w, http.StatusNotFound, "not_found", err)
	case ledger.IsConflict(err):
		code := "invalid_transition"
		if errors.Is(err, ledger.ErrPreconditionFailed) {
			code = "precondition_failed"
		}
		writeCodedError(w, http.StatusConflict, code, err)
	default:
		writeCodedError(w, http.StatusBadRequest, "invalid_argument", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeCodedError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}
