package circulation

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDateDropsTimeOfDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	got := Date(time.Date(2024, 3, 10, 23, 59, 0, 0, loc))

	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), got)
}

func TestDueDate(t *testing.T) {
	today := time.Date(2024, 12, 25, 15, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC), DueDate(today, DefaultLoanDays))
	assert.Equal(t, Date(today), DueDate(today, 0))
}

func TestOverdueDaysIgnoresTimeOfDay(t *testing.T) {
	due := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, OverdueDays(due, time.Date(2024, 5, 1, 23, 59, 59, 0, time.UTC)))
	assert.Equal(t, 1, OverdueDays(due, time.Date(2024, 5, 2, 0, 0, 1, 0, time.UTC)))
	assert.Equal(t, -3, OverdueDays(due, time.Date(2024, 4, 28, 12, 0, 0, 0, time.UTC)))
}

func TestOverdueDaysAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	due := DueDate(time.Date(2024, 3, 1, 9, 0, 0, 0, loc), 14)

	assert.Equal(t, 1, OverdueDays(due, time.Date(2024, 3, 16, 0, 30, 0, 0, loc)))
}

func TestFine(t *testing.T) {
	p := DefaultPolicy()

	assert.Zero(t, p.Fine(0))
	assert.Zero(t, p.Fine(-5))
	assert.Equal(t, 0.5, p.Fine(1))
	assert.Equal(t, 3.5, p.Fine(7))
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
	assert.ErrorIs(t, Policy{LoanDays: -1, DailyFine: 0.5}.Validate(), ErrInvalidPolicy)
	assert.ErrorIs(t, Policy{LoanDays: 14, DailyFine: -0.1}.Validate(), ErrInvalidPolicy)
}

func TestFineIsLinearInLateDays(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		loan := rapid.IntRange(0, 120).Draw(t, "loan")
		late := rapid.IntRange(1, 365).Draw(t, "late")
		start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, rapid.IntRange(0, 3000).Draw(t, "offset"))

		due := DueDate(start, loan)
		returned := start.AddDate(0, 0, loan+late)

		days := OverdueDays(due, returned)
		if days != late {
			t.Fatalf("overdue days = %d, want %d", days, late)
		}
		if got, want := DefaultPolicy().Fine(days), 0.5*float64(late); got != want {
			t.Fatalf("fine = %v, want %v", got, want)
		}
	})
}

func TestLoanFits(t *testing.T) {
	today := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	lastDay := int((LastDueDate.Unix() - Date(today).Unix()) / 86400)

	assert.True(t, LoanFits(today, 0))
	assert.True(t, LoanFits(today, DefaultLoanDays))
	assert.True(t, LoanFits(today, lastDay))
	assert.Equal(t, LastDueDate, DueDate(today, lastDay))

	assert.False(t, LoanFits(today, -1))
	assert.False(t, LoanFits(today, lastDay+1))
	assert.False(t, LoanFits(today, 3_000_000))
	assert.False(t, LoanFits(today, math.MaxInt))
}
