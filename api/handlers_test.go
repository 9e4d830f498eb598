/*
handlers_test.go - HTTP tests for the ledger API

Tests for:
- Status mapping of the ledger error channel (400/404/409)
- Rejected transactions answered with 201
- Display amounts in responses
- Audit and health endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/ledger-core/ledger"
	"github.com/warp/ledger-core/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	handler *Handler
	router  http.Handler
	store   *store.TxMemory
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	s := store.NewTxMemory()
	h := NewHandler(ledger.New(s), zap.NewNop())
	return &testServer{handler: h, router: NewRouter(h, nil), store: s}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// fundedAccount creates a customer and an account holding balance minor units.
func (ts *testServer) fundedAccount(t *testing.T, balance int64) (CustomerDTO, AccountDTO) {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/customers", CreateCustomerRequest{Name: "Ada"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decode[CustomerDTO](t, rec)

	rec = ts.do(t, http.MethodPost, "/api/accounts", OpenAccountRequest{CustomerID: c.ID, Type: "personal"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := decode[AccountDTO](t, rec)

	if balance > 0 {
		rec = ts.do(t, http.MethodPost, "/api/transactions/deposit", AmountRequest{AccountID: a.ID, Amount: balance})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		a.Balance = balance
	}
	return c, a
}

// =============================================================================
// CUSTOMERS & ACCOUNTS
// =============================================================================

func TestCreateCustomer(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/customers", CreateCustomerRequest{Name: "Grace"})
	require.Equal(t, http.StatusCreated, rec.Code)

	c := decode[CustomerDTO](t, rec)
	assert.Equal(t, int64(1), c.ID)
	assert.Equal(t, "Grace", c.Name)
	assert.Equal(t, "active", c.Status)

	rec = ts.do(t, http.MethodGet, "/api/customers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]CustomerDTO](t, rec), 1)
}

func TestOpenAccount_DefaultsAndDisplay(t *testing.T) {
	// GIVEN: An account opened without a currency
	// WHEN: 1050 minor units are deposited
	// THEN: The account is EUR and displays "10.50 EUR"

	ts := setupTestServer(t)
	_, a := ts.fundedAccount(t, 1050)

	rec := ts.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d", a.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[AccountDTO](t, rec)
	assert.Equal(t, "EUR", got.Currency)
	assert.Equal(t, int64(1050), got.Balance)
	assert.Equal(t, "10.50 EUR", got.DisplayBalance)
	assert.Equal(t, "personal", got.Type)
}

func TestOpenAccount_MixedCaseType(t *testing.T) {
	ts := setupTestServer(t)
	c, _ := ts.fundedAccount(t, 0)

	rec := ts.do(t, http.MethodPost, "/api/accounts", OpenAccountRequest{CustomerID: c.ID, Type: "Business", Currency: "usd"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	a := decode[AccountDTO](t, rec)
	assert.Equal(t, "business", a.Type)
	assert.Equal(t, "USD", a.Currency)
}

func TestErrorMapping(t *testing.T) {
	ts := setupTestServer(t)
	c, a := ts.fundedAccount(t, 100)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown customer", http.MethodGet, "/api/customers/99", nil, http.StatusNotFound, "not_found"},
		{"unknown account", http.MethodGet, "/api/accounts/99", nil, http.StatusNotFound, "not_found"},
		{"non numeric id", http.MethodGet, "/api/accounts/abc", nil, http.StatusBadRequest, ""},
		{"blank name", http.MethodPost, "/api/customers", CreateCustomerRequest{Name: "  "}, http.StatusBadRequest, "invalid_argument"},
		{"malformed json", http.MethodPost, "/api/customers", "{", http.StatusBadRequest, ""},
		{"unknown field", http.MethodPost, "/api/customers", `{"nome":"x"}`, http.StatusBadRequest, ""},
		{"unknown type", http.MethodPost, "/api/accounts", OpenAccountRequest{CustomerID: c.ID, Type: "crypto"}, http.StatusBadRequest, "invalid_argument"},
		{"bad currency", http.MethodPost, "/api/accounts", OpenAccountRequest{CustomerID: c.ID, Type: "savings", Currency: "EURO"}, http.StatusBadRequest, "invalid_argument"},
		{"open for unknown customer", http.MethodPost, "/api/accounts", OpenAccountRequest{CustomerID: 42, Type: "crypto"}, http.StatusNotFound, "not_found"},
		{"unblock active account", http.MethodPost, fmt.Sprintf("/api/accounts/%d/unblock", a.ID), nil, http.StatusConflict, "invalid_transition"},
		{"close funded account", http.MethodPost, fmt.Sprintf("/api/accounts/%d/close", a.ID), nil, http.StatusConflict, "precondition_failed"},
		{"close customer with open account", http.MethodPost, fmt.Sprintf("/api/customers/%d/close", c.ID), nil, http.StatusConflict, "precondition_failed"},
		{"deposit to unknown account", http.MethodPost, "/api/transactions/deposit", AmountRequest{AccountID: 99, Amount: 1}, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			resp := decode[ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	ts := setupTestServer(t)
	rec := httptest.NewRecorder()

	ts.handler.writeLedgerError(rec, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "internal", resp.Code)
	assert.NotContains(t, resp.Error, "password")
}

func TestBlockCustomer_CascadesOverHTTP(t *testing.T) {
	// GIVEN: A customer with an account
	// WHEN: The customer is blocked
	// THEN: Its account is blocked and withdrawals are rejected

	ts := setupTestServer(t)
	c, a := ts.fundedAccount(t, 500)

	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/customers/%d/block", c.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "blocked", decode[CustomerDTO](t, rec).Status)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/customers/%d/accounts", c.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	accounts := decode[[]AccountDTO](t, rec)
	require.Len(t, accounts, 1)
	assert.Equal(t, "blocked", accounts[0].Status)

	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/api/accounts/%d/unblock", a.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/transactions/withdraw", AmountRequest{AccountID: a.ID, Amount: 100})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, ledger.ReasonAccountNotActive, decode[TransactionDTO](t, rec).Reason)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestDeposit_Success(t *testing.T) {
	ts := setupTestServer(t)
	_, a := ts.fundedAccount(t, 1000)

	rec := ts.do(t, http.MethodPost, "/api/transactions/deposit", AmountRequest{AccountID: a.ID, Amount: 500})
	require.Equal(t, http.StatusCreated, rec.Code)

	tx := decode[TransactionDTO](t, rec)
	assert.Equal(t, "deposit", tx.Type)
	assert.Equal(t, "success", tx.Status)
	assert.Equal(t, int64(500), tx.Amount)
	assert.Equal(t, "5.00 EUR", tx.DisplayAmount)
	require.NotNil(t, tx.TargetAccountID)
	assert.Equal(t, a.ID, *tx.TargetAccountID)
	assert.Nil(t, tx.SourceAccountID)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d", a.ID), nil)
	assert.Equal(t, int64(1500), decode[AccountDTO](t, rec).Balance)
}

func TestWithdraw_RejectedIsCreated(t *testing.T) {
	// GIVEN: An account holding 1500
	// WHEN: 2000 is withdrawn
	// THEN: 201 with status rejected, and the balance is unchanged

	ts := setupTestServer(t)
	_, a := ts.fundedAccount(t, 1500)

	rec := ts.do(t, http.MethodPost, "/api/transactions/withdraw", AmountRequest{AccountID: a.ID, Amount: 2000})
	require.Equal(t, http.StatusCreated, rec.Code)

	tx := decode[TransactionDTO](t, rec)
	assert.Equal(t, "rejected", tx.Status)
	assert.Equal(t, ledger.ReasonInsufficientFunds, tx.Reason)
	assert.Equal(t, int64(2000), tx.Amount)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d", a.ID), nil)
	assert.Equal(t, int64(1500), decode[AccountDTO](t, rec).Balance)
}

func TestTransfer(t *testing.T) {
	ts := setupTestServer(t)
	_, src := ts.fundedAccount(t, 1000)
	_, dst := ts.fundedAccount(t, 0)

	rec := ts.do(t, http.MethodPost, "/api/transactions/transfer",
		TransferRequest{SourceAccountID: src.ID, TargetAccountID: dst.ID, Amount: 400})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "success", decode[TransactionDTO](t, rec).Status)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d/transactions", dst.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]TransactionDTO](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, "transfer", history[0].Type)
	assert.Equal(t, "4.00 EUR", history[0].DisplayAmount)
}

func TestTransfer_SameAccountUnknownID(t *testing.T) {
	// GIVEN: No accounts at all
	// WHEN: A transfer names the same unknown id twice
	// THEN: It is rejected without a lookup, and no display amount is known

	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/transactions/transfer",
		TransferRequest{SourceAccountID: 7, TargetAccountID: 7, Amount: 100})
	require.Equal(t, http.StatusCreated, rec.Code)

	tx := decode[TransactionDTO](t, rec)
	assert.Equal(t, "rejected", tx.Status)
	assert.Equal(t, ledger.ReasonSameAccount, tx.Reason)
	assert.Empty(t, tx.DisplayAmount)
}

func TestAccountTransactions_UnknownAccount(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/accounts/5/transactions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestAudit_OnDemand(t *testing.T) {
	ts := setupTestServer(t)
	ts.fundedAccount(t, 1050)

	rec := ts.do(t, http.MethodGet, "/api/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	report := decode[AuditReportDTO](t, rec)
	assert.True(t, report.OK)
	assert.Equal(t, 1, report.Accounts)
	assert.Equal(t, "10.50", report.TotalHeld["EUR"])
	assert.Empty(t, report.Violations)
}

func TestAudit_ReportsTampering(t *testing.T) {
	ts := setupTestServer(t)
	_, a := ts.fundedAccount(t, 100)

	ctx := context.Background()
	acct, err := ts.store.FindAccount(ctx, ledger.AccountID(a.ID))
	require.NoError(t, err)
	acct.Balance = 999
	require.NoError(t, ts.store.SaveAccount(ctx, *acct))

	rec := ts.do(t, http.MethodGet, "/api/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	report := decode[AuditReportDTO](t, rec)
	assert.False(t, report.OK)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "balance_mismatch", report.Violations[0].Code)
	assert.Equal(t, a.ID, report.Violations[0].AccountID)
}

func TestAudit_Cached(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/audit?cached=1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no scheduler")

	ts.handler.Scheduler = NewAuditScheduler(ts.handler.Ledger, 0, nil)
	rec = ts.do(t, http.MethodGet, "/api/audit?cached=1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no report yet")

	rec = ts.do(t, http.MethodGet, "/api/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/audit?cached=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[AuditReportDTO](t, rec).OK)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	ts := setupTestServer(t)
	ts.handler.StoreName = "memory"

	rec := ts.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, HealthDTO{Status: "ok", Store: "memory"}, decode[HealthDTO](t, rec))

	ts.handler.Pinger = stubPinger{err: errors.New("connection refused")}
	rec = ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
