package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mcclellann/simpleLoan/pkg/models"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// sqliteDSN turns a file path into a connection string. Every pooled
// connection gets foreign keys, WAL and a busy timeout, and BEGIN takes the
// write lock up front so two payments on one loan cannot both read a stale balance.
func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	slog.Info("sqlite store ready", "path", path)
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS customers (
		customer_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		period_years INTEGER NOT NULL,
		total_amount TEXT NOT NULL,
		monthly_emi TEXT NOT NULL,
		balance TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(customer_id) REFERENCES customers(customer_id)
	);
	CREATE INDEX IF NOT EXISTS loans_customer_id_idx ON loans(customer_id);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS payments_loan_id_idx ON payments(loan_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateLoan inserts a new loan, registering its customer in the same transaction.
func (s *SQLiteStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO customers (customer_id, name, created_at) VALUES (?, '', ?) ON CONFLICT(customer_id) DO NOTHING`,
		loan.CustomerID, loan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to register customer: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.CustomerID, loan.Principal, loan.InterestRate, loan.PeriodYears,
		loan.TotalAmount, loan.MonthlyEMI, loan.Balance, string(loan.Status), loan.Version, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return tx.Commit()
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// ApplyPayment reads the loan inside an immediate transaction, applies fn and
// writes the payment and the new loan state before committing.
func (s *SQLiteStore) ApplyPayment(ctx context.Context, loanID uuid.UUID, fn PaymentFunc) (*models.Loan, *models.Payment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	loan, err := scanLoan(tx.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, loanID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrLoanNotFound
		}
		return nil, nil, fmt.Errorf("failed to get loan: %w", err)
	}
	readVersion := loan.Version

	payment, err := fn(loan)
	if err != nil {
		return nil, nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payments (id, loan_id, amount, payment_type, timestamp) VALUES (?, ?, ?, ?, ?)`,
		payment.ID.String(), loan.ID.String(), payment.Amount, string(payment.Type), payment.Timestamp,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create payment: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE loans SET balance = ?, status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		loan.Balance, string(loan.Status), loan.UpdatedAt, loan.ID.String(), readVersion,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, nil, ErrConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit payment: %w", err)
	}
	loan.Version = readVersion + 1
	return loan, payment, nil
}

// GetLoanWithPayments reads the loan and its payments, most recent first.
func (s *SQLiteStore) GetLoanWithPayments(ctx context.Context, loanID uuid.UUID) (*models.Loan, []*models.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.customer_id, l.principal, l.interest_rate, l.period_years, l.total_amount, l.monthly_emi,
		       l.balance, l.status, l.version, l.created_at, l.updated_at,
		       p.id, p.amount, p.payment_type, p.timestamp
		FROM loans l
		LEFT JOIN payments p ON p.loan_id = l.id
		WHERE l.id = ?
		ORDER BY p.timestamp DESC, p.rowid DESC`,
		loanID.String(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	return scanLoanWithPayments(rows.Next, rows, rows.Err)
}

// GetLoansForCustomer joins a customer's loans with their payments in a single
// query. SQLite would coerce TEXT amounts to REAL inside SUM, so the amounts
// are folded here with decimals instead.
func (s *SQLiteStore) GetLoansForCustomer(ctx context.Context, customerID string) ([]*models.LoanWithPayments, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.customer_id, l.principal, l.interest_rate, l.period_years, l.total_amount, l.monthly_emi,
		       l.balance, l.status, l.version, l.created_at, l.updated_at, p.amount
		FROM loans l
		LEFT JOIN payments p ON p.loan_id = l.id
		WHERE l.customer_id = ?
		ORDER BY l.created_at, l.id`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get loans for customer %s: %w", customerID, err)
	}
	defer rows.Close()

	var out []*models.LoanWithPayments
	byID := make(map[uuid.UUID]*models.LoanWithPayments)
	for rows.Next() {
		var amount decimal.NullDecimal
		loan, err := scanLoan(withTrailing(rows, &amount))
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}

		entry, ok := byID[loan.ID]
		if !ok {
			entry = &models.LoanWithPayments{Loan: loan, AmountPaid: decimal.Zero}
			byID[loan.ID] = entry
			out = append(out, entry)
		}
		if amount.Valid {
			entry.AmountPaid = entry.AmountPaid.Add(amount.Decimal)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return out, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
