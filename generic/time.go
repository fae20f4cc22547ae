/*
Package generic provides the calendar primitives the leave engine is built on.

PURPOSE:
  Leave is booked in whole calendar days. TimePoint is one such day and
  Period an inclusive range of them; both are free of clock time and zone so
  overlap and day-count arithmetic never depend on where the server runs.

KEY TYPES:
  - TimePoint: A calendar day (midnight UTC), serialized as YYYY-MM-DD
  - Period:    Inclusive [Start, End] range of days

SEE ALSO:
  - period.go: Overlap, containment and day counts
  - leave/admission.go: Quota checks over overlapping periods
*/
package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME POINT - A calendar day, independent of clock time and zone
// =============================================================================

// DateLayout is the wire and storage format for calendar days.
const DateLayout = "2006-01-02"

// TimePoint is a calendar day. The wall clock part is always midnight UTC so
// two TimePoints built from the same Y/M/D compare equal regardless of the zone
// the day was observed in.
type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf returns the calendar day t falls on in t's own location.
func DayOf(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

// TodayIn returns the current calendar day as seen in loc.
// A nil loc means the server's local zone.
func TodayIn(now time.Time, loc *time.Location) TimePoint {
	if loc == nil {
		loc = time.Local
	}
	return DayOf(now.In(loc))
}

// ParseDate parses a "YYYY-MM-DD" day.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("%w: %q is not a YYYY-MM-DD date", ErrInvalidDate, s)
	}
	return TimePoint{Time: t}, nil
}

// MustParseDate is ParseDate for fixtures; it panics on malformed input.
func MustParseDate(s string) TimePoint {
	tp, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return tp
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.Time.Before(other.Time) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.Time.Equal(other.Time) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.Time.After(other.Time) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }

// Properties
func (tp TimePoint) Year() int     { return tp.Time.Year() }
func (tp TimePoint) IsZero() bool  { return tp.Time.IsZero() }
func (tp TimePoint) String() string { return tp.Time.Format(DateLayout) }

// MarshalText renders the day as YYYY-MM-DD for JSON.
func (tp TimePoint) MarshalText() ([]byte, error) {
	return []byte(tp.String()), nil
}

// UnmarshalText accepts YYYY-MM-DD.
func (tp *TimePoint) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*tp = parsed
	return nil
}

// DaysBetween is the signed number of days from -> to. Both days sit at
// midnight UTC, so the Unix difference is a whole number of days; a
// time.Duration would saturate past ~292 years.
func DaysBetween(from, to TimePoint) int {
	return int((to.Time.Unix() - from.Time.Unix()) / secondsPerDay)
}

const secondsPerDay = 24 * 60 * 60
