package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/simpleLoan/pkg/models"
	"github.com/shopspring/decimal"
)

type LedgerTransaction struct {
	ID     uuid.UUID
	Date   time.Time
	Type   models.PaymentType
	Amount decimal.Decimal
}

// LedgerView is a read-only snapshot of one loan and its payment history.
// AmountPaid is summed from the payments while Balance is the stored loan
// field; TotalAmount - AmountPaid == Balance holds unless storage is corrupt.
type LedgerView struct {
	LoanID       uuid.UUID
	CustomerID   string
	Principal    decimal.Decimal
	TotalAmount  decimal.Decimal
	MonthlyEMI   decimal.Decimal
	AmountPaid   decimal.Decimal
	Balance      decimal.Decimal
	EMIsLeft     int64
	Status       models.LoanStatus
	Transactions []LedgerTransaction // newest first
}

// GetLedger builds the ledger view of a loan.
func (l *Ledger) GetLedger(ctx context.Context, loanID string) (*LedgerView, error) {
	id, err := parseLoanID(loanID)
	if err != nil {
		l.fail(ctx, "get_ledger", err)
		return nil, err
	}
	loan, payments, err := l.storage.GetLoanWithPayments(ctx, id)
	if err != nil {
		err = storageError(err, "loan "+loanID)
		l.fail(ctx, "get_ledger", err)
		return nil, err
	}

	view := &LedgerView{
		LoanID:       loan.ID,
		CustomerID:   loan.CustomerID,
		Principal:    loan.Principal,
		TotalAmount:  loan.TotalAmount,
		MonthlyEMI:   loan.MonthlyEMI,
		AmountPaid:   decimal.Zero,
		Balance:      loan.Balance,
		EMIsLeft:     EMIsLeft(loan.Balance, loan.MonthlyEMI),
		Status:       loan.Status,
		Transactions: make([]LedgerTransaction, 0, len(payments)),
	}
	for _, p := range payments {
		view.AmountPaid = view.AmountPaid.Add(p.Amount)
		view.Transactions = append(view.Transactions, LedgerTransaction{
			ID:     p.ID,
			Date:   p.Timestamp,
			Type:   p.Type,
			Amount: p.Amount,
		})
	}
	return view, nil
}

type LoanOverview struct {
	LoanID        uuid.UUID
	Principal     decimal.Decimal
	TotalAmount   decimal.Decimal
	TotalInterest decimal.Decimal
	MonthlyEMI    decimal.Decimal
	AmountPaid    decimal.Decimal
	Balance       decimal.Decimal
	EMIsLeft      int64
	Status        models.LoanStatus
}

// Overview aggregates every loan of one customer. Loan order is not significant.
type Overview struct {
	CustomerID string
	TotalLoans int
	Loans      []LoanOverview
}

// GetOverview aggregates all loans of a customer. A customer without loans is NotFound.
func (l *Ledger) GetOverview(ctx context.Context, customerID string) (*Overview, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		err := invalidInput("customer_id is required")
		l.fail(ctx, "get_overview", err)
		return nil, err
	}

	loans, err := l.storage.GetLoansForCustomer(ctx, customerID)
	if err != nil {
		err = storageError(err, "loans of customer "+customerID)
		l.fail(ctx, "get_overview", err)
		return nil, err
	}
	if len(loans) == 0 {
		err := fmt.Errorf("no loans for customer %s: %w", customerID, ErrNotFound)
		l.fail(ctx, "get_overview", err)
		return nil, err
	}

	overview := &Overview{
		CustomerID: customerID,
		TotalLoans: len(loans),
		Loans:      make([]LoanOverview, 0, len(loans)),
	}
	for _, entry := range loans {
		loan := entry.Loan
		overview.Loans = append(overview.Loans, LoanOverview{
			LoanID:        loan.ID,
			Principal:     loan.Principal,
			TotalAmount:   loan.TotalAmount,
			TotalInterest: loan.TotalInterest(),
			MonthlyEMI:    loan.MonthlyEMI,
			AmountPaid:    entry.AmountPaid,
			Balance:       loan.Balance,
			EMIsLeft:      EMIsLeft(loan.Balance, loan.MonthlyEMI),
			Status:        loan.Status,
		})
	}
	return overview, nil
}
