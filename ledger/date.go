package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar date in the municipality's local time zone
// =============================================================================

// Date is a calendar date with day granularity. All balance and allocation
// calls take an explicit Date instead of reading the clock, which keeps the
// engine a pure function of its inputs.
type Date struct {
	Time time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.Local)}
}

func Today() Date {
	now := time.Now()
	return NewDate(now.Year(), now.Month(), now.Day())
}

// ParseDate parses YYYY-MM-DD and rejects impossible calendar dates
// (time.Parse normalizes "2025-02-30"; we do not).
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	if t.Format("2006-01-02") != s {
		return Date{}, fmt.Errorf("invalid date %q: no such calendar day", s)
	}
	return Date{Time: t}, nil
}

// Comparison
func (d Date) Before(other Date) bool { return d.normalize().Before(other.normalize()) }
func (d Date) Equal(other Date) bool  { return d.normalize().Equal(other.normalize()) }
func (d Date) After(other Date) bool  { return d.normalize().After(other.normalize()) }
func (d Date) IsZero() bool           { return d.Time.IsZero() }

func (d Date) normalize() time.Time {
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, time.Local)
}

// Properties
func (d Date) Year() int         { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int          { return d.Time.Day() }

// ElapsedMonths is the number of months considered due as of this date within
// its own year, 1-indexed: the current month counts as elapsed.
func (d Date) ElapsedMonths() int { return int(d.Time.Month()) }

func (d Date) String() string { return d.Time.Format("2006-01-02") }

// StartOfDay returns the timestamp at midnight local time, for range queries.
func (d Date) StartOfDay() time.Time { return d.normalize() }

// EndOfDay returns the last instant of the day, for inclusive range queries.
func (d Date) EndOfDay() time.Time { return d.normalize().AddDate(0, 0, 1).Add(-time.Nanosecond) }
