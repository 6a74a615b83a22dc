package ledger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/simpleLoan/pkg/events"
	"github.com/mcclellann/simpleLoan/pkg/metrics"
	"github.com/mcclellann/simpleLoan/pkg/models"
	"github.com/mcclellann/simpleLoan/pkg/store"
	"github.com/shopspring/decimal"
)

// Ledger handles the business logic for loans and payments. It holds no loan
// state of its own; every operation reads and writes through the store.
type Ledger struct {
	storage   store.Storage
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Ledger)

func WithPublisher(p events.Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the time source used to stamp loans and payments.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:   s,
		publisher: events.NopPublisher{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OpenedLoan is returned by OpenLoan. Amounts carry full precision.
type OpenedLoan struct {
	LoanID      uuid.UUID
	CustomerID  string
	TotalAmount decimal.Decimal
	MonthlyEMI  decimal.Decimal
}

// OpenLoan originates a loan for customerID. The customer is not checked for
// existence; any non-empty id is accepted.
func (l *Ledger) OpenLoan(ctx context.Context, customerID string, principal decimal.Decimal, periodYears int, ratePercent decimal.Decimal) (*OpenedLoan, error) {
	opened, err := l.openLoan(ctx, customerID, principal, periodYears, ratePercent)
	if err != nil {
		l.fail(ctx, "open_loan", err)
		return nil, err
	}
	return opened, nil
}

func (l *Ledger) openLoan(ctx context.Context, customerID string, principal decimal.Decimal, periodYears int, ratePercent decimal.Decimal) (*OpenedLoan, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, invalidInput("customer_id is required")
	}
	terms, err := CalculateTerms(principal, periodYears, ratePercent)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	loan := &models.Loan{
		ID:           uuid.New(),
		CustomerID:   customerID,
		Principal:    principal,
		InterestRate: ratePercent,
		PeriodYears:  periodYears,
		TotalAmount:  terms.TotalAmount,
		MonthlyEMI:   terms.MonthlyEMI,
		Balance:      terms.TotalAmount,
		Status:       models.LoanStatusActive,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		return nil, storageError(err, "store loan")
	}

	l.metrics.LoanOpened()
	l.logger.InfoContext(ctx, "loan opened",
		"loan_id", loan.ID,
		"customer_id", loan.CustomerID,
		"principal", loan.Principal.String(),
		"total_amount", loan.TotalAmount.String(),
	)
	l.publish(ctx, events.NewLoanOpened(loan))

	return &OpenedLoan{
		LoanID:      loan.ID,
		CustomerID:  loan.CustomerID,
		TotalAmount: loan.TotalAmount,
		MonthlyEMI:  loan.MonthlyEMI,
	}, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, loanID string) (*models.Loan, error) {
	id, err := parseLoanID(loanID)
	if err != nil {
		return nil, err
	}
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, storageError(err, "loan "+loanID)
	}
	return loan, nil
}

// PaymentReceipt is returned by RecordPayment.
type PaymentReceipt struct {
	PaymentID        uuid.UUID
	LoanID           uuid.UUID
	RemainingBalance decimal.Decimal
	EMIsLeft         int64
	Status           models.LoanStatus
}

// RecordPayment applies a payment to a loan. Both payment types reduce the
// balance by the raw amount. The balance is not clamped at zero, so an
// overpayment leaves it negative.
func (l *Ledger) RecordPayment(ctx context.Context, loanID string, amount decimal.Decimal, paymentType models.PaymentType) (*PaymentReceipt, error) {
	receipt, err := l.recordPayment(ctx, loanID, amount, paymentType)
	if err != nil {
		l.fail(ctx, "record_payment", err)
		return nil, err
	}
	return receipt, nil
}

func (l *Ledger) recordPayment(ctx context.Context, loanID string, amount decimal.Decimal, paymentType models.PaymentType) (*PaymentReceipt, error) {
	if !amount.IsPositive() {
		return nil, invalidInput("amount must be greater than zero")
	}
	if !paymentType.Valid() {
		return nil, invalidInput("payment_type must be %s or %s", models.PaymentTypeEMI, models.PaymentTypeLumpSum)
	}
	id, err := parseLoanID(loanID)
	if err != nil {
		return nil, err
	}

	var wasActive bool
	loan, payment, err := l.storage.ApplyPayment(ctx, id, func(loan *models.Loan) (*models.Payment, error) {
		now := l.now().UTC()
		wasActive = loan.Status == models.LoanStatusActive

		loan.Balance = loan.Balance.Sub(amount)
		loan.Status = models.StatusForBalance(loan.Balance)
		loan.UpdatedAt = now

		return &models.Payment{
			ID:        uuid.New(),
			LoanID:    loan.ID,
			Amount:    amount,
			Type:      paymentType,
			Timestamp: now,
		}, nil
	})
	if err != nil {
		return nil, storageError(err, "loan "+loanID)
	}

	paidOff := wasActive && loan.Status == models.LoanStatusPaidOff
	l.metrics.PaymentRecorded(string(paymentType), paidOff)
	l.logger.InfoContext(ctx, "payment recorded",
		"loan_id", loan.ID,
		"payment_id", payment.ID,
		"payment_type", paymentType,
		"amount", amount.String(),
		"balance", loan.Balance.String(),
		"status", loan.Status,
	)
	l.publish(ctx, events.NewPaymentRecorded(loan, payment))

	return &PaymentReceipt{
		PaymentID:        payment.ID,
		LoanID:           loan.ID,
		RemainingBalance: loan.Balance,
		EMIsLeft:         EMIsLeft(loan.Balance, loan.MonthlyEMI),
		Status:           loan.Status,
	}, nil
}

// parseLoanID treats a malformed id the same as an unknown one.
func parseLoanID(loanID string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(loanID))
	if err != nil {
		return uuid.Nil, storageError(store.ErrLoanNotFound, "loan "+loanID)
	}
	return id, nil
}

// publish runs after the state change has committed, so a broker failure is
// logged and counted rather than returned.
func (l *Ledger) publish(ctx context.Context, evt events.Event) {
	if err := l.publisher.Publish(ctx, evt); err != nil {
		l.metrics.EventPublishFailed()
		l.logger.WarnContext(ctx, "failed to publish loan event",
			"event_type", evt.Type,
			"loan_id", evt.LoanID,
			"error", err,
		)
	}
}

func (l *Ledger) fail(ctx context.Context, operation string, err error) {
	kind := Kind(err)
	l.metrics.OperationFailed(operation, kind)
	level := slog.LevelInfo
	if kind == "storage" {
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, "ledger operation failed", "operation", operation, "kind", kind, "error", err)
}
