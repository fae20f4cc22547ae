/*
errors.go - Errors for the calendar primitives

PURPOSE:
  Date parsing and range validation failures. The leave package wraps these
  into its own ValidationError so callers only ever see one taxonomy.

SEE ALSO:
  - leave/errors.go: Domain error taxonomy
*/
package generic

import "errors"

var (
	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidDate is returned when a day string is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date")
)
