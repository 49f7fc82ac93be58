// Package ledger defines the business event model and the pure replay
// primitives that fold events into point-in-time ledger snapshots.
package ledger

import (
	"fmt"
	"time"

	"github.com/clearledger/clearledger/internal/shared"
)

// Month is an immutable calendar month value.
type Month struct {
	Year  int
	Month int
}

// NewMonth validates and constructs a Month.
func NewMonth(year, month int) (Month, error) {
	if year < 1900 || year > 2100 {
		return Month{}, shared.ErrInvalidDate.WithMessagef("ledger: year %d outside 1900-2100", year)
	}
	if month < 1 || month > 12 {
		return Month{}, shared.ErrInvalidDate.WithMessagef("ledger: month %d outside 1-12", month)
	}
	return Month{Year: year, Month: month}, nil
}

// ParseMonthKey parses a canonical "YYYY-MM" key. Non-canonical forms are
// rejected so the same key never addresses two different storage entries.
func ParseMonthKey(key string) (Month, error) {
	parsed, err := time.Parse("2006-01", key)
	if err != nil {
		return Month{}, shared.ErrInvalidDate.WithMessagef("ledger: invalid month key %q", key)
	}
	return NewMonth(parsed.Year(), int(parsed.Month()))
}

// Key returns the canonical "YYYY-MM" form.
func (m Month) Key() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.Month)
}

// Days returns the number of days in the month, leap-year aware.
func (m Month) Days() int {
	return time.Date(m.Year, time.Month(m.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Start returns the first instant of the month in UTC.
func (m Month) Start() time.Time {
	return time.Date(m.Year, time.Month(m.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns midnight UTC on the last day of the month.
func (m Month) End() time.Time {
	return time.Date(m.Year, time.Month(m.Month), m.Days(), 0, 0, 0, 0, time.UTC)
}

// StartDate returns the period start as "YYYY-MM-DD".
func (m Month) StartDate() string {
	return m.Start().Format(time.DateOnly)
}

// EndDate returns the period end as "YYYY-MM-DD".
func (m Month) EndDate() string {
	return m.End().Format(time.DateOnly)
}
