// Package events publishes loan domain events after state changes commit.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/simpleLoan/pkg/models"
	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeLoanOpened      Type = "loan.opened"
	TypePaymentRecorded Type = "payment.recorded"
)

// Event is the envelope written to the broker. Data holds one of the *Data structs below.
type Event struct {
	ID         uuid.UUID `json:"event_id"`
	Type       Type      `json:"event_type"`
	LoanID     uuid.UUID `json:"loan_id"`
	CustomerID string    `json:"customer_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type LoanOpenedData struct {
	Principal    decimal.Decimal `json:"principal"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	PeriodYears  int             `json:"period_years"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	MonthlyEMI   decimal.Decimal `json:"monthly_emi"`
}

type PaymentRecordedData struct {
	PaymentID        uuid.UUID          `json:"payment_id"`
	Amount           decimal.Decimal    `json:"amount"`
	PaymentType      models.PaymentType `json:"payment_type"`
	RemainingBalance decimal.Decimal    `json:"remaining_balance"`
	Status           models.LoanStatus  `json:"status"`
}

func NewLoanOpened(loan *models.Loan) Event {
	return Event{
		ID:         uuid.New(),
		Type:       TypeLoanOpened,
		LoanID:     loan.ID,
		CustomerID: loan.CustomerID,
		OccurredAt: loan.CreatedAt,
		Data: LoanOpenedData{
			Principal:    loan.Principal,
			InterestRate: loan.InterestRate,
			PeriodYears:  loan.PeriodYears,
			TotalAmount:  loan.TotalAmount,
			MonthlyEMI:   loan.MonthlyEMI,
		},
	}
}

func NewPaymentRecorded(loan *models.Loan, payment *models.Payment) Event {
	return Event{
		ID:         uuid.New(),
		Type:       TypePaymentRecorded,
		LoanID:     loan.ID,
		CustomerID: loan.CustomerID,
		OccurredAt: payment.Timestamp,
		Data: PaymentRecordedData{
			PaymentID:        payment.ID,
			Amount:           payment.Amount,
			PaymentType:      payment.Type,
			RemainingBalance: loan.Balance,
			Status:           loan.Status,
		},
	}
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }
func (NopPublisher) Close() error                            { return nil }
