package ledger

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/mcclellann/simpleLoan/pkg/models"
	"github.com/mcclellann/simpleLoan/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateTerms(t *testing.T) {
	tests := []struct {
		name           string
		principal      string
		years          int
		rate           string
		wantInterest   string
		wantTotal      string
		wantEMIRounded string
	}{
		{"two years at eight percent", "50000", 2, "8", "8000", "58000", "2416.67"},
		{"one year at twelve percent", "1000", 1, "12", "120", "1120", "93.33"},
		{"fractional rate", "12000", 3, "10.5", "3780", "15780", "438.33"},
		{"fractional principal", "999.99", 1, "1", "9.9999", "1009.9899", "84.17"},
		{"long term", "250000", 30, "6.75", "506250", "756250", "2100.69"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms, err := CalculateTerms(dec(tt.principal), tt.years, dec(tt.rate))
			require.NoError(t, err)

			assert.True(t, terms.TotalInterest.Equal(dec(tt.wantInterest)), "interest %s", terms.TotalInterest)
			assert.True(t, terms.TotalAmount.Equal(dec(tt.wantTotal)), "total %s", terms.TotalAmount)
			assert.Equal(t, tt.wantEMIRounded, terms.MonthlyEMI.StringFixed(2))
			assert.True(t, terms.TotalAmount.Sub(dec(tt.principal)).Equal(terms.TotalInterest))
		})
	}
}

func TestCalculateTerms_EMIKeepsPrecision(t *testing.T) {
	terms, err := CalculateTerms(dec("50000"), 2, dec("8"))
	require.NoError(t, err)

	// Rounding happens only at presentation; the stored installment is not 2416.67.
	assert.False(t, terms.MonthlyEMI.Equal(dec("2416.67")))
	assert.Equal(t, "2416.6667", terms.MonthlyEMI.StringFixed(4))
}

func TestCalculateTerms_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		principal decimal.Decimal
		years     int
		rate      decimal.Decimal
	}{
		{"zero principal", decimal.Zero, 2, dec("8")},
		{"negative principal", dec("-50000"), 2, dec("8")},
		{"zero years", dec("50000"), 0, dec("8")},
		{"negative years", dec("50000"), -1, dec("8")},
		{"years above int32", dec("1000"), math.MaxInt32 + 1, dec("8")},
		{"month count would wrap to zero", dec("1000"), 1 << 62, dec("8")},
		{"month count would wrap negative", dec("1000"), 1 << 61, dec("8")},
		{"zero rate", dec("50000"), 2, decimal.Zero},
		{"negative rate", dec("50000"), 2, dec("-8")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CalculateTerms(tt.principal, tt.years, tt.rate)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestCalculateTerms_LongestTerm(t *testing.T) {
	terms, err := CalculateTerms(dec("1000"), math.MaxInt32, dec("8"))
	require.NoError(t, err)

	months := decimal.NewFromInt(math.MaxInt32).Mul(decimal.NewFromInt(12))
	assert.True(t, terms.MonthlyEMI.IsPositive())
	assert.True(t, terms.MonthlyEMI.Equal(terms.TotalAmount.Div(months)))
}

func TestEMIsLeft(t *testing.T) {
	emi := dec("58000").Div(dec("24"))

	tests := []struct {
		name    string
		balance string
		want    int64
	}{
		{"untouched loan", "58000", 24},
		{"after one installment", "55583.33", 22},
		{"exactly one installment left", emi.String(), 1},
		{"less than one installment", "100", 0},
		{"zero balance", "0", 0},
		{"overpaid", "-50", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EMIsLeft(dec(tt.balance), emi))
		})
	}
}

func TestEMIsLeft_ZeroInstallment(t *testing.T) {
	assert.Equal(t, int64(0), EMIsLeft(dec("100"), decimal.Zero))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "invalid_input", Kind(invalidInput("bad")))
	assert.Equal(t, "not_found", Kind(storageError(store.ErrLoanNotFound, "loan x")))
	assert.Equal(t, "storage", Kind(storageError(assert.AnError, "loan x")))
}

// TestLedger_SQLite runs a full loan lifecycle against a real SQLite file.
func TestLedger_SQLite(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	l := newTestLedger(s)
	ctx := context.Background()

	opened := openSampleLoan(t, l, "cust123")

	receipt, err := l.RecordPayment(ctx, opened.LoanID.String(), dec("2416.67"), models.PaymentTypeEMI)
	require.NoError(t, err)
	assert.True(t, receipt.RemainingBalance.Equal(dec("55583.33")))
	assert.Equal(t, int64(22), receipt.EMIsLeft)

	_, err = l.RecordPayment(ctx, opened.LoanID.String(), dec("60000"), models.PaymentTypeLumpSum)
	require.NoError(t, err)

	view, err := l.GetLedger(ctx, opened.LoanID.String())
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusPaidOff, view.Status)
	assert.True(t, view.Balance.Equal(dec("-4416.67")))
	assert.True(t, view.AmountPaid.Equal(dec("62416.67")))
	require.Len(t, view.Transactions, 2)
	assert.Equal(t, models.PaymentTypeLumpSum, view.Transactions[0].Type)

	overview, err := l.GetOverview(ctx, "cust123")
	require.NoError(t, err)
	require.Equal(t, 1, overview.TotalLoans)
	assert.True(t, overview.Loans[0].TotalInterest.Equal(dec("8000")))
	assert.True(t, overview.Loans[0].AmountPaid.Equal(view.AmountPaid))

	_, err = l.GetOverview(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}
