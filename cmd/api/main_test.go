package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/mcclellann/simpleLoan/pkg/events"
	"github.com/mcclellann/simpleLoan/pkg/metrics"
	"github.com/mcclellann/simpleLoan/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T) http.Handler {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test_api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(s, metrics.New(), events.NopPublisher{}, logger).routes()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// decodeRaw keeps field values as raw JSON so the rendered number format can be asserted.
func decodeRaw(t *testing.T, rr *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "body: %s", rr.Body.String())
	return out
}

func createLoan(t *testing.T, h http.Handler, customerID string, amount float64, years int, rate float64) string {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/api/v1/loans", map[string]any{
		"customer_id":          customerID,
		"loan_amount":          amount,
		"loan_period_years":    years,
		"interest_rate_yearly": rate,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp struct {
		LoanID string `json:"loan_id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.LoanID
}

func TestAPI_CreateLoan(t *testing.T) {
	h := setupTestServer(t)

	rr := do(t, h, http.MethodPost, "/api/v1/loans", map[string]any{
		"customer_id":          "cust123",
		"loan_amount":          50000,
		"loan_period_years":    2,
		"interest_rate_yearly": 8,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	body := decodeRaw(t, rr)
	assert.Equal(t, "58000.00", string(body["total_amount_payable"]))
	assert.Equal(t, "2416.67", string(body["monthly_emi"]))
	assert.Equal(t, `"cust123"`, string(body["customer_id"]))

	var loanID string
	require.NoError(t, json.Unmarshal(body["loan_id"], &loanID))
	_, err := uuid.Parse(loanID)
	assert.NoError(t, err)

	rr = do(t, h, http.MethodGet, "/api/v1/loans/"+loanID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	loan := decodeRaw(t, rr)
	assert.Equal(t, "58000.00", string(loan["balance_amount"]))
	assert.Equal(t, "24", string(loan["emis_left"]))
	assert.Equal(t, `"ACTIVE"`, string(loan["status"]))
}

func TestAPI_CreateLoanValidation(t *testing.T) {
	h := setupTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing customer", map[string]any{"loan_amount": 1000, "loan_period_years": 1, "interest_rate_yearly": 5}},
		{"missing amount", map[string]any{"customer_id": "c", "loan_period_years": 1, "interest_rate_yearly": 5}},
		{"negative amount", map[string]any{"customer_id": "c", "loan_amount": -5, "loan_period_years": 1, "interest_rate_yearly": 5}},
		{"zero period", map[string]any{"customer_id": "c", "loan_amount": 1000, "loan_period_years": 0, "interest_rate_yearly": 5}},
		{"period beyond int32", map[string]any{"customer_id": "c", "loan_amount": 1000, "loan_period_years": int64(1) << 31, "interest_rate_yearly": 5}},
		{"fractional period", map[string]any{"customer_id": "c", "loan_amount": 1000, "loan_period_years": 1.5, "interest_rate_yearly": 5}},
		{"zero rate", map[string]any{"customer_id": "c", "loan_amount": 1000, "loan_period_years": 1, "interest_rate_yearly": 0}},
		{"malformed json", "{not json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/api/v1/loans", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, decodeRaw(t, rr), "error")
		})
	}
}

func TestAPI_RecordPayment(t *testing.T) {
	h := setupTestServer(t)
	loanID := createLoan(t, h, "cust123", 50000, 2, 8)

	rr := do(t, h, http.MethodPost, "/api/v1/loans/"+loanID+"/payments", map[string]any{
		"amount":       2416.67,
		"payment_type": "EMI",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeRaw(t, rr)
	assert.Equal(t, "55583.33", string(body["remaining_balance"]))
	assert.Equal(t, "22", string(body["emis_left"]))
	assert.Equal(t, `"ACTIVE"`, string(body["status"]))
	assert.Equal(t, `"`+loanID+`"`, string(body["loan_id"]))
	assert.Contains(t, body, "payment_id")
	assert.Contains(t, body, "message")
}

func TestAPI_RecordPaymentErrors(t *testing.T) {
	h := setupTestServer(t)
	loanID := createLoan(t, h, "c", 1000, 1, 10)

	tests := []struct {
		name   string
		loanID string
		body   any
		want   int
	}{
		{"unknown loan", uuid.NewString(), map[string]any{"amount": 10, "payment_type": "EMI"}, http.StatusNotFound},
		{"malformed loan id", "nope", map[string]any{"amount": 10, "payment_type": "EMI"}, http.StatusNotFound},
		{"zero amount", loanID, map[string]any{"amount": 0, "payment_type": "EMI"}, http.StatusBadRequest},
		{"missing type", loanID, map[string]any{"amount": 10}, http.StatusBadRequest},
		{"unknown type", loanID, map[string]any{"amount": 10, "payment_type": "CASH"}, http.StatusBadRequest},
		{"invalid input on unknown loan", uuid.NewString(), map[string]any{"amount": -1, "payment_type": "EMI"}, http.StatusBadRequest},
		{"malformed json", loanID, "[", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/api/v1/loans/"+tt.loanID+"/payments", tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			assert.Contains(t, decodeRaw(t, rr), "error")
		})
	}

	rr := do(t, h, http.MethodGet, "/api/v1/loans/"+loanID+"/ledger", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", string(decodeRaw(t, rr)["transactions"]))
}

func TestAPI_Ledger(t *testing.T) {
	h := setupTestServer(t)
	loanID := createLoan(t, h, "cust123", 1000, 1, 12)

	var paymentIDs []string
	for _, p := range []map[string]any{
		{"amount": 500, "payment_type": "LUMP_SUM"},
		{"amount": 700, "payment_type": "EMI"},
	} {
		rr := do(t, h, http.MethodPost, "/api/v1/loans/"+loanID+"/payments", p)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var resp struct {
			PaymentID string `json:"payment_id"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		paymentIDs = append(paymentIDs, resp.PaymentID)
	}

	rr := do(t, h, http.MethodGet, "/api/v1/loans/"+loanID+"/ledger", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var ledger struct {
		LoanID        string      `json:"loan_id"`
		TotalAmount   json.Number `json:"total_amount"`
		AmountPaid    json.Number `json:"amount_paid"`
		BalanceAmount json.Number `json:"balance_amount"`
		EMIsLeft      int         `json:"emis_left"`
		Status        string      `json:"status"`
		Transactions  []struct {
			TransactionID string      `json:"transaction_id"`
			Amount        json.Number `json:"amount"`
			Type          string      `json:"type"`
		} `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ledger))

	assert.Equal(t, loanID, ledger.LoanID)
	assert.Equal(t, "1120.00", ledger.TotalAmount.String())
	assert.Equal(t, "1200.00", ledger.AmountPaid.String())
	assert.Equal(t, "-80.00", ledger.BalanceAmount.String())
	assert.Equal(t, 0, ledger.EMIsLeft)
	assert.Equal(t, "PAID_OFF", ledger.Status)

	require.Len(t, ledger.Transactions, 2)
	assert.Equal(t, paymentIDs[1], ledger.Transactions[0].TransactionID)
	assert.Equal(t, "EMI", ledger.Transactions[0].Type)
	assert.Equal(t, paymentIDs[0], ledger.Transactions[1].TransactionID)
	assert.Equal(t, "500.00", ledger.Transactions[1].Amount.String())

	rr = do(t, h, http.MethodGet, "/api/v1/loans/"+uuid.NewString()+"/ledger", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPI_Overview(t *testing.T) {
	h := setupTestServer(t)
	first := createLoan(t, h, "cust-9", 50000, 2, 8)
	createLoan(t, h, "cust-9", 12000, 3, 10.5)
	createLoan(t, h, "other", 100, 1, 1)

	rr := do(t, h, http.MethodPost, "/api/v1/loans/"+first+"/payments", map[string]any{"amount": 2416.67, "payment_type": "EMI"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/v1/customers/cust-9/overview", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var overview struct {
		CustomerID string `json:"customer_id"`
		TotalLoans int    `json:"total_loans"`
		Loans      []struct {
			LoanID        string      `json:"loan_id"`
			TotalInterest json.Number `json:"total_interest"`
			EMIAmount     json.Number `json:"emi_amount"`
			AmountPaid    json.Number `json:"amount_paid"`
			BalanceAmount json.Number `json:"balance_amount"`
			EMIsLeft      int         `json:"emis_left"`
		} `json:"loans"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &overview))

	assert.Equal(t, "cust-9", overview.CustomerID)
	assert.Equal(t, 2, overview.TotalLoans)
	require.Len(t, overview.Loans, 2)
	for _, lo := range overview.Loans {
		if lo.LoanID == first {
			assert.Equal(t, "8000.00", lo.TotalInterest.String())
			assert.Equal(t, "2416.67", lo.AmountPaid.String())
			assert.Equal(t, "55583.33", lo.BalanceAmount.String())
			assert.Equal(t, 22, lo.EMIsLeft)
		} else {
			assert.Equal(t, "3780.00", lo.TotalInterest.String())
			assert.Equal(t, "438.33", lo.EMIAmount.String())
			assert.Equal(t, "0.00", lo.AmountPaid.String())
			assert.Equal(t, 36, lo.EMIsLeft)
		}
	}

	rr = do(t, h, http.MethodGet, "/api/v1/customers/nobody/overview", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	h := setupTestServer(t)
	createLoan(t, h, "c", 1000, 1, 5)

	rr := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "simpleloan_loans_opened_total 1")
}

func TestAPI_CORSPreflight(t *testing.T) {
	h := setupTestServer(t)

	rr := do(t, h, http.MethodOptions, "/api/v1/loans", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST")

	rr = do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPI_WithoutMetrics(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test_api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewServer(s, nil, events.NopPublisher{}, logger).routes()

	createLoan(t, h, "c", 1000, 1, 5)
	rr := do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
