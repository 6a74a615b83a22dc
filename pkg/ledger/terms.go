package ledger

import (
	"math"

	"github.com/mcclellann/simpleLoan/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	monthsPerYear = 12
	// maxPeriodYears keeps the term inside a 32-bit INTEGER column.
	maxPeriodYears = math.MaxInt32
)

// CalculateTerms computes flat simple interest over the whole term:
//
//	total_interest = principal * years * rate / 100
//	total_amount   = principal + total_interest
//	monthly_emi    = total_amount / (years * 12)
func CalculateTerms(principal decimal.Decimal, periodYears int, ratePercent decimal.Decimal) (models.LoanTerms, error) {
	if !principal.IsPositive() {
		return models.LoanTerms{}, invalidInput("loan_amount must be greater than zero")
	}
	if periodYears <= 0 {
		return models.LoanTerms{}, invalidInput("loan_period_years must be a positive integer")
	}
	if periodYears > maxPeriodYears {
		return models.LoanTerms{}, invalidInput("loan_period_years must not exceed %d", maxPeriodYears)
	}
	if !ratePercent.IsPositive() {
		return models.LoanTerms{}, invalidInput("interest_rate_yearly must be greater than zero")
	}

	years := decimal.NewFromInt(int64(periodYears))
	// Shift(-2) divides by 100 without rounding.
	totalInterest := principal.Mul(years).Mul(ratePercent).Shift(-2)
	totalAmount := principal.Add(totalInterest)
	months := years.Mul(decimal.NewFromInt(monthsPerYear))
	monthlyEMI := totalAmount.Div(months)

	return models.LoanTerms{
		TotalInterest: totalInterest,
		TotalAmount:   totalAmount,
		MonthlyEMI:    monthlyEMI,
	}, nil
}

// EMIsLeft is floor(balance / emi) for a positive balance and 0 otherwise.
// Floor can under-count by one when the balance is not a whole number of
// installments; callers rely on that rule as is.
func EMIsLeft(balance, monthlyEMI decimal.Decimal) int64 {
	if !balance.IsPositive() || !monthlyEMI.IsPositive() {
		return 0
	}
	return balance.Div(monthlyEMI).Floor().IntPart()
}
