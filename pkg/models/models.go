package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusActive  LoanStatus = "ACTIVE"
	LoanStatusPaidOff LoanStatus = "PAID_OFF"
)

// StatusForBalance derives the loan status from an outstanding balance.
func StatusForBalance(balance decimal.Decimal) LoanStatus {
	if balance.LessThanOrEqual(decimal.Zero) {
		return LoanStatusPaidOff
	}
	return LoanStatusActive
}

type PaymentType string

const (
	PaymentTypeEMI     PaymentType = "EMI"
	PaymentTypeLumpSum PaymentType = "LUMP_SUM"
)

// Valid reports whether t is a known payment type.
func (t PaymentType) Valid() bool {
	return t == PaymentTypeEMI || t == PaymentTypeLumpSum
}

// LoanTerms are the figures fixed at origination.
type LoanTerms struct {
	TotalInterest decimal.Decimal `json:"total_interest"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	MonthlyEMI    decimal.Decimal `json:"monthly_emi"`
}

type Loan struct {
	ID           uuid.UUID       `json:"id"`
	CustomerID   string          `json:"customer_id"` // Not validated against the customers table
	Principal    decimal.Decimal `json:"principal"`
	InterestRate decimal.Decimal `json:"interest_rate"` // Yearly percentage, 8 means 8%
	PeriodYears  int             `json:"period_years"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	MonthlyEMI   decimal.Decimal `json:"monthly_emi"`
	Balance      decimal.Decimal `json:"balance"` // May go negative on overpayment
	Status       LoanStatus      `json:"status"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TotalInterest is the simple interest charged over the full term.
func (l *Loan) TotalInterest() decimal.Decimal {
	return l.TotalAmount.Sub(l.Principal)
}

type Payment struct {
	ID        uuid.UUID       `json:"id"`
	LoanID    uuid.UUID       `json:"loan_id"`
	Amount    decimal.Decimal `json:"amount"`
	Type      PaymentType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
}

// LoanWithPayments pairs a loan with the sum of its recorded payments.
type LoanWithPayments struct {
	Loan       *Loan
	AmountPaid decimal.Decimal
}
