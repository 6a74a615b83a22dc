package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/simpleLoan/pkg/events"
	"github.com/mcclellann/simpleLoan/pkg/ledger"
	"github.com/mcclellann/simpleLoan/pkg/metrics"
	"github.com/mcclellann/simpleLoan/pkg/models"
	"github.com/mcclellann/simpleLoan/pkg/store"
	"github.com/shopspring/decimal"
)

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // pinged by /readyz
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewServer(s store.Storage, m *metrics.Metrics, pub events.Publisher, logger *slog.Logger) *Server {
	return &Server{
		ledger: ledger.NewLedger(s,
			ledger.WithMetrics(m),
			ledger.WithPublisher(pub),
			ledger.WithLogger(logger),
		),
		storage: s,
		metrics: m,
		logger:  logger,
	}
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/loans", s.createLoanHandler).Methods(http.MethodPost)
	api.HandleFunc("/loans/{loan_id}", s.getLoanHandler).Methods(http.MethodGet)
	api.HandleFunc("/loans/{loan_id}/payments", s.recordPaymentHandler).Methods(http.MethodPost)
	api.HandleFunc("/loans/{loan_id}/ledger", s.ledgerHandler).Methods(http.MethodGet)
	api.HandleFunc("/customers/{customer_id}/overview", s.overviewHandler).Methods(http.MethodGet)

	router.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.readyHandler).Methods(http.MethodGet)
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	// CORS sits outside the router so preflight requests never reach method matching.
	return logRequests(s.logger)(cors(router))
}

// money renders a decimal as a JSON number with two decimal places.
type money decimal.Decimal

func (m money) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(m).StringFixed(2)), nil
}

type createLoanRequest struct {
	CustomerID         string          `json:"customer_id"`
	LoanAmount         decimal.Decimal `json:"loan_amount"`
	LoanPeriodYears    int             `json:"loan_period_years"`
	InterestRateYearly decimal.Decimal `json:"interest_rate_yearly"`
}

type createLoanResponse struct {
	LoanID             uuid.UUID `json:"loan_id"`
	CustomerID         string    `json:"customer_id"`
	TotalAmountPayable money     `json:"total_amount_payable"`
	MonthlyEMI         money     `json:"monthly_emi"`
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	opened, err := s.ledger.OpenLoan(r.Context(), req.CustomerID, req.LoanAmount, req.LoanPeriodYears, req.InterestRateYearly)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createLoanResponse{
		LoanID:             opened.LoanID,
		CustomerID:         opened.CustomerID,
		TotalAmountPayable: money(opened.TotalAmount),
		MonthlyEMI:         money(opened.MonthlyEMI),
	})
}

type loanResponse struct {
	LoanID             uuid.UUID         `json:"loan_id"`
	CustomerID         string            `json:"customer_id"`
	Principal          money             `json:"principal"`
	InterestRateYearly json.Number       `json:"interest_rate_yearly"`
	LoanPeriodYears    int               `json:"loan_period_years"`
	TotalAmount        money             `json:"total_amount"`
	MonthlyEMI         money             `json:"monthly_emi"`
	BalanceAmount      money             `json:"balance_amount"`
	EMIsLeft           int64             `json:"emis_left"`
	Status             models.LoanStatus `json:"status"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loan, err := s.ledger.GetLoan(r.Context(), mux.Vars(r)["loan_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loanResponse{
		LoanID:             loan.ID,
		CustomerID:         loan.CustomerID,
		Principal:          money(loan.Principal),
		InterestRateYearly: json.Number(loan.InterestRate.String()),
		LoanPeriodYears:    loan.PeriodYears,
		TotalAmount:        money(loan.TotalAmount),
		MonthlyEMI:         money(loan.MonthlyEMI),
		BalanceAmount:      money(loan.Balance),
		EMIsLeft:           ledger.EMIsLeft(loan.Balance, loan.MonthlyEMI),
		Status:             loan.Status,
		CreatedAt:          loan.CreatedAt,
		UpdatedAt:          loan.UpdatedAt,
	})
}

type paymentRequest struct {
	Amount      decimal.Decimal    `json:"amount"`
	PaymentType models.PaymentType `json:"payment_type"`
}

type paymentResponse struct {
	PaymentID        uuid.UUID         `json:"payment_id"`
	LoanID           uuid.UUID         `json:"loan_id"`
	Message          string            `json:"message"`
	RemainingBalance money             `json:"remaining_balance"`
	EMIsLeft         int64             `json:"emis_left"`
	Status           models.LoanStatus `json:"status"`
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	receipt, err := s.ledger.RecordPayment(r.Context(), mux.Vars(r)["loan_id"], req.Amount, req.PaymentType)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, paymentResponse{
		PaymentID:        receipt.PaymentID,
		LoanID:           receipt.LoanID,
		Message:          "Payment recorded successfully.",
		RemainingBalance: money(receipt.RemainingBalance),
		EMIsLeft:         receipt.EMIsLeft,
		Status:           receipt.Status,
	})
}

type transactionResponse struct {
	TransactionID uuid.UUID          `json:"transaction_id"`
	Date          time.Time          `json:"date"`
	Amount        money              `json:"amount"`
	Type          models.PaymentType `json:"type"`
}

type ledgerResponse struct {
	LoanID        uuid.UUID             `json:"loan_id"`
	CustomerID    string                `json:"customer_id"`
	Principal     money                 `json:"principal"`
	TotalAmount   money                 `json:"total_amount"`
	MonthlyEMI    money                 `json:"monthly_emi"`
	AmountPaid    money                 `json:"amount_paid"`
	BalanceAmount money                 `json:"balance_amount"`
	EMIsLeft      int64                 `json:"emis_left"`
	Status        models.LoanStatus     `json:"status"`
	Transactions  []transactionResponse `json:"transactions"`
}

func (s *Server) ledgerHandler(w http.ResponseWriter, r *http.Request) {
	view, err := s.ledger.GetLedger(r.Context(), mux.Vars(r)["loan_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	resp := ledgerResponse{
		LoanID:        view.LoanID,
		CustomerID:    view.CustomerID,
		Principal:     money(view.Principal),
		TotalAmount:   money(view.TotalAmount),
		MonthlyEMI:    money(view.MonthlyEMI),
		AmountPaid:    money(view.AmountPaid),
		BalanceAmount: money(view.Balance),
		EMIsLeft:      view.EMIsLeft,
		Status:        view.Status,
		Transactions:  make([]transactionResponse, 0, len(view.Transactions)),
	}
	for _, tx := range view.Transactions {
		resp.Transactions = append(resp.Transactions, transactionResponse{
			TransactionID: tx.ID,
			Date:          tx.Date,
			Amount:        money(tx.Amount),
			Type:          tx.Type,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type loanSummaryResponse struct {
	LoanID        uuid.UUID         `json:"loan_id"`
	Principal     money             `json:"principal"`
	TotalAmount   money             `json:"total_amount"`
	TotalInterest money             `json:"total_interest"`
	EMIAmount     money             `json:"emi_amount"`
	AmountPaid    money             `json:"amount_paid"`
	BalanceAmount money             `json:"balance_amount"`
	EMIsLeft      int64             `json:"emis_left"`
	Status        models.LoanStatus `json:"status"`
}

type overviewResponse struct {
	CustomerID string                `json:"customer_id"`
	TotalLoans int                   `json:"total_loans"`
	Loans      []loanSummaryResponse `json:"loans"`
}

func (s *Server) overviewHandler(w http.ResponseWriter, r *http.Request) {
	overview, err := s.ledger.GetOverview(r.Context(), mux.Vars(r)["customer_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	resp := overviewResponse{
		CustomerID: overview.CustomerID,
		TotalLoans: overview.TotalLoans,
		Loans:      make([]loanSummaryResponse, 0, len(overview.Loans)),
	}
	for _, lo := range overview.Loans {
		resp.Loans = append(resp.Loans, loanSummaryResponse{
			LoanID:        lo.LoanID,
			Principal:     money(lo.Principal),
			TotalAmount:   money(lo.TotalAmount),
			TotalInterest: money(lo.TotalInterest),
			EMIAmount:     money(lo.MonthlyEMI),
			AmountPaid:    money(lo.AmountPaid),
			BalanceAmount: money(lo.Balance),
			EMIsLeft:      lo.EMIsLeft,
			Status:        lo.Status,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.storage.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the ledger error taxonomy onto HTTP status codes. Storage
// failures are already logged by the ledger and are not echoed to the client.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, ledger.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
