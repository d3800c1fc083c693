// internal/circulation/policy.go
package circulation

import (
	"errors"
	"time"
)

const (
	// DefaultLoanDays is the loan period used when a checkout names no period.
	DefaultLoanDays = 14
	// DefaultDailyFine is charged for every whole day an item is overdue.
	DefaultDailyFine = 0.5
)

// maxLoanDays bounds a loan before any date arithmetic is done on it.
const maxLoanDays = 10000 * 366

var ErrInvalidPolicy = errors.New("invalid circulation policy")

// LastDueDate is the latest due date a loan may reach.
var LastDueDate = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Policy holds the loan and fine rules applied by the catalog.
type Policy struct {
	LoanDays  int     `json:"loan_days"`
	DailyFine float64 `json:"daily_fine"`
}

// DefaultPolicy returns a two-week loan with a fine of 0.50 per overdue day.
func DefaultPolicy() Policy {
	return Policy{
		LoanDays:  DefaultLoanDays,
		DailyFine: DefaultDailyFine,
	}
}

func (p Policy) Validate() error {
	if p.LoanDays < 0 {
		return errors.Join(ErrInvalidPolicy, errors.New("loan days must not be negative"))
	}
	if p.DailyFine < 0 {
		return errors.Join(ErrInvalidPolicy, errors.New("daily fine must not be negative"))
	}
	return nil
}

// Date truncates t to its calendar date in t's own location.
// The result is midnight UTC so that day arithmetic never crosses a DST shift.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DueDate returns the calendar date daysToDue days after today.
func DueDate(today time.Time, daysToDue int) time.Time {
	return Date(today).AddDate(0, 0, daysToDue)
}

// LoanFits reports whether a loan of daysToDue days starting today is not
// negative and falls due no later than LastDueDate.
func LoanFits(today time.Time, daysToDue int) bool {
	if daysToDue < 0 || daysToDue > maxLoanDays {
		return false
	}
	return !DueDate(today, daysToDue).After(LastDueDate)
}

// OverdueDays counts whole calendar days from due to today. It is negative
// while the item is still within its loan period.
func OverdueDays(due, today time.Time) int {
	return int(Date(today).Sub(Date(due)) / (24 * time.Hour))
}

// Fine is the amount owed for overdueDays; zero when the item is not late.
func (p Policy) Fine(overdueDays int) float64 {
	if overdueDays <= 0 {
		return 0
	}
	return float64(overdueDays) * p.DailyFine
}
