package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/simpleLoan/pkg/models"
)

var (
	// ErrLoanNotFound is returned when no loan exists for the requested id.
	ErrLoanNotFound = errors.New("loan not found")
	// ErrConflict is returned when a loan row changed underneath a payment update.
	ErrConflict = errors.New("loan version conflict")
)

// PaymentFunc receives the locked loan, mutates its balance and status in place
// and returns the payment row to record alongside it.
type PaymentFunc func(loan *models.Loan) (*models.Payment, error)

// Storage defines the interface for database operations related to loans and payments.
type Storage interface {
	// CreateLoan inserts the loan, creating its customer row if it does not exist yet.
	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)

	// ApplyPayment is the only path that changes a loan after creation. The loan
	// is read under a write lock, fn is applied, and the payment insert and loan
	// update commit together or not at all.
	ApplyPayment(ctx context.Context, loanID uuid.UUID, fn PaymentFunc) (*models.Loan, *models.Payment, error)

	// GetLoanWithPayments reads a loan and its payments, newest first, in one
	// statement so the balance and the payment list come from the same snapshot.
	GetLoanWithPayments(ctx context.Context, loanID uuid.UUID) (*models.Loan, []*models.Payment, error)
	// GetLoansForCustomer returns every loan of the customer with its summed payments.
	GetLoansForCustomer(ctx context.Context, customerID string) ([]*models.LoanWithPayments, error)

	Ping(ctx context.Context) error
	Close() error
}
