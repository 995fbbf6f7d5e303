package leave

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DATE - A calendar day in UTC
// =============================================================================

const DateLayout = "2006-01-02"

// Date is a calendar day. The wrapped time is always midnight UTC.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

func (d Date) AddDays(n int) Date   { return DateOf(d.Time.AddDate(0, 0, n)) }
func (d Date) AddMonths(n int) Date { return DateOf(d.Time.AddDate(0, n, 0)) }
func (d Date) Year() int            { return d.Time.Year() }
func (d Date) Month() time.Month    { return d.Time.Month() }
func (d Date) Day() int             { return d.Time.Day() }
func (d Date) IsZero() bool         { return d.Time.IsZero() }
func (d Date) String() string       { return d.Time.Format(DateLayout) }

func (d Date) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Overlaps reports closed-interval intersection of [aStart, aEnd] and
// [bStart, bEnd].
func Overlaps(aStart, aEnd, bStart, bEnd Date) bool {
	return aStart.BeforeOrEqual(bEnd) && aEnd.AfterOrEqual(bStart)
}

// DaysBetween returns the signed number of calendar days from -> to.
func DaysBetween(from, to Date) int {
	return int(to.Time.Sub(from.Time).Hours() / 24)
}

// CountDays is the single day-counting policy: inclusive calendar days,
// weekends and holidays included. A half day is only valid on a single-day
// range and counts 0.5.
func CountDays(start, end Date, halfDay bool) (decimal.Decimal, error) {
	if end.Before(start) {
		return decimal.Zero, ErrInvalidDateRange
	}
	if halfDay {
		if !start.Equal(end) {
			return decimal.Zero, fmt.Errorf("%w: half day must start and end on the same date", ErrInvalidDateRange)
		}
		return decimal.New(5, -1), nil
	}
	return decimal.NewFromInt(int64(DaysBetween(start, end) + 1)), nil
}

// =============================================================================
// CLOCK - Supplies "today"
// =============================================================================

type Clock interface {
	Today() Date
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Today() Date    { return DateOf(time.Now().UTC()) }
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always reports the same day. Now returns noon of that day.
type FixedClock struct {
	Day Date
}

func (c *FixedClock) Today() Date    { return c.Day }
func (c *FixedClock) Now() time.Time { return c.Day.Time.Add(12 * time.Hour) }

// Advance moves the clock forward n days.
func (c *FixedClock) Advance(n int) { c.Day = c.Day.AddDays(n) }
