package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // register pgx5:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcclellann/simpleLoan/pkg/models"
	"github.com/mcclellann/simpleLoan/pkg/store/migrations"
)

// PostgresStore implements Storage on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	poolCfg.MaxConnLifetime = 1 * time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	slog.Info("postgres store ready", "host", poolCfg.ConnConfig.Host, "database", poolCfg.ConnConfig.Database)
	return &PostgresStore{pool: pool}, nil
}

// migrationURL rewrites a postgres:// DSN to the scheme of the pgx/v5 migrate driver.
func migrationURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

// RunPostgresMigrations applies all pending embedded migrations. Having no new
// migrations to apply is not an error.
func RunPostgresMigrations(dsn string) error {
	src, err := iofs.New(migrations.Postgres, "postgres")
	if err != nil {
		return fmt.Errorf("postgres: open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrationURL(dsn))
	if err != nil {
		return fmt.Errorf("postgres: create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres: run migrations up: %w", err)
	}
	return nil
}

// withTransaction executes fn within a database transaction, committing only if fn succeeds.
func (s *PostgresStore) withTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("postgres: rollback tx: %w (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// CreateLoan inserts the loan and its customer row in one transaction.
func (s *PostgresStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	return s.withTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO customers (customer_id, created_at) VALUES ($1, $2) ON CONFLICT (customer_id) DO NOTHING`,
			loan.CustomerID, loan.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("register customer: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO loans (`+loanColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			loan.ID.String(), loan.CustomerID, loan.Principal, loan.InterestRate, loan.PeriodYears,
			loan.TotalAmount, loan.MonthlyEMI, loan.Balance, string(loan.Status), loan.Version, loan.CreatedAt, loan.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert loan: %w", err)
		}
		return nil
	})
}

// GetLoan retrieves a loan by its ID.
func (s *PostgresStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := scanLoan(s.pool.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return loan, nil
}

// ApplyPayment locks the loan row with SELECT ... FOR UPDATE for the duration
// of the read-modify-write.
func (s *PostgresStore) ApplyPayment(ctx context.Context, loanID uuid.UUID, fn PaymentFunc) (*models.Loan, *models.Payment, error) {
	var (
		loan    *models.Loan
		payment *models.Payment
	)
	err := s.withTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		loan, err = scanLoan(tx.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, loanID.String()))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrLoanNotFound
			}
			return fmt.Errorf("lock loan: %w", err)
		}
		readVersion := loan.Version

		payment, err = fn(loan)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO payments (id, loan_id, amount, payment_type, paid_at) VALUES ($1, $2, $3, $4, $5)`,
			payment.ID.String(), loan.ID.String(), payment.Amount, string(payment.Type), payment.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE loans SET balance = $1, status = $2, version = version + 1, updated_at = $3 WHERE id = $4 AND version = $5`,
			loan.Balance, string(loan.Status), loan.UpdatedAt, loan.ID.String(), readVersion,
		)
		if err != nil {
			return fmt.Errorf("update loan: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
		loan.Version = readVersion + 1
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return loan, payment, nil
}

// GetLoanWithPayments reads the loan and its payments, most recent first.
func (s *PostgresStore) GetLoanWithPayments(ctx context.Context, loanID uuid.UUID) (*models.Loan, []*models.Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.id, l.customer_id, l.principal, l.interest_rate, l.period_years, l.total_amount, l.monthly_emi,
		       l.balance, l.status, l.version, l.created_at, l.updated_at,
		       p.id, p.amount, p.payment_type, p.paid_at
		FROM loans l
		LEFT JOIN payments p ON p.loan_id = l.id
		WHERE l.id = $1
		ORDER BY p.paid_at DESC, p.seq DESC`,
		loanID.String(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("query ledger for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	return scanLoanWithPayments(rows.Next, rows, rows.Err)
}

// GetLoansForCustomer sums payments per loan with a single grouped query.
func (s *PostgresStore) GetLoansForCustomer(ctx context.Context, customerID string) ([]*models.LoanWithPayments, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.id, l.customer_id, l.principal, l.interest_rate, l.period_years, l.total_amount, l.monthly_emi,
		       l.balance, l.status, l.version, l.created_at, l.updated_at, COALESCE(SUM(p.amount), 0)
		FROM loans l
		LEFT JOIN payments p ON p.loan_id = l.id
		WHERE l.customer_id = $1
		GROUP BY l.id
		ORDER BY l.created_at, l.id`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query loans for customer %s: %w", customerID, err)
	}
	defer rows.Close()

	var out []*models.LoanWithPayments
	for rows.Next() {
		entry := &models.LoanWithPayments{}
		loan, err := scanLoan(withTrailing(rows, &entry.AmountPaid))
		if err != nil {
			return nil, fmt.Errorf("scan loan row: %w", err)
		}
		entry.Loan = loan
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loans: %w", err)
	}
	return out, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
