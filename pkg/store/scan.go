package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/simpleLoan/pkg/models"
	"github.com/shopspring/decimal"
)

const loanColumns = `id, customer_id, principal, interest_rate, period_years, total_amount, monthly_emi, balance, status, version, created_at, updated_at`

// rowScanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

// withTrailing lets scanLoan read a row that carries extra columns after the loan columns.
func withTrailing(row rowScanner, extra ...any) rowScanner {
	return scanFunc(func(dest ...any) error {
		return row.Scan(append(dest, extra...)...)
	})
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var loanIDStr, status string
	if err := row.Scan(&loanIDStr, &loan.CustomerID, &loan.Principal, &loan.InterestRate, &loan.PeriodYears,
		&loan.TotalAmount, &loan.MonthlyEMI, &loan.Balance, &status, &loan.Version, &loan.CreatedAt, &loan.UpdatedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(loanIDStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt loan id %q: %w", loanIDStr, err)
	}
	loan.ID = id
	loan.Status = models.LoanStatus(status)
	return &loan, nil
}

// joinedPayment holds the payment side of a loans LEFT JOIN payments row.
type joinedPayment struct {
	id          sql.NullString
	amount      decimal.NullDecimal
	paymentType sql.NullString
	timestamp   sql.NullTime
}

func (p *joinedPayment) dest() []any {
	return []any{&p.id, &p.amount, &p.paymentType, &p.timestamp}
}

// payment returns nil when the row had no matching payment.
func (p *joinedPayment) payment(loanID uuid.UUID) (*models.Payment, error) {
	if !p.id.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(p.id.String)
	if err != nil {
		return nil, fmt.Errorf("corrupt payment id %q: %w", p.id.String, err)
	}
	return &models.Payment{
		ID:        id,
		LoanID:    loanID,
		Amount:    p.amount.Decimal,
		Type:      models.PaymentType(p.paymentType.String),
		Timestamp: p.timestamp.Time.UTC(),
	}, nil
}

// scanLoanWithPayments folds the rows of a single-loan LEFT JOIN into the loan
// and its payments, preserving row order.
func scanLoanWithPayments(next func() bool, row rowScanner, rowsErr func() error) (*models.Loan, []*models.Payment, error) {
	var loan *models.Loan
	payments := []*models.Payment{}
	for next() {
		var jp joinedPayment
		l, err := scanLoan(withTrailing(row, jp.dest()...))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		if loan == nil {
			loan = l
		}
		payment, err := jp.payment(loan.ID)
		if err != nil {
			return nil, nil, err
		}
		if payment != nil {
			payments = append(payments, payment)
		}
	}
	if err := rowsErr(); err != nil {
		return nil, nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	if loan == nil {
		return nil, nil, ErrLoanNotFound
	}
	return loan, payments, nil
}
