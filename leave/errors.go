/*
errors.go - Error taxonomy for the leave engine

PURPOSE:
  Every rejection the engine can produce, in one place. Callers branch with
  errors.Is on the sentinels; structured errors carry the numbers a UI needs
  to explain the rejection and unwrap to their sentinel.

ERROR CATEGORIES:
  1. Validation    - ErrInvalidInput, ErrProofRequired (before any transaction)
  2. Authorization - ErrForbidden (before any transaction)
  3. Business rule - ErrInsufficientBalance, ErrQuotaExceeded,
                     ErrInvalidTransition, ErrConflict (inside the transaction,
                     which is rolled back)
  4. Lookup        - ErrNotFound
  Anything else is infrastructure and is reported as an opaque failure.

SEE ALSO:
  - transitions.go: Produces TransitionError
  - admission.go:   Produces QuotaExceededError
  - api/handlers.go: Maps Code() to HTTP statuses
*/
package leave

import (
	"errors"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInsufficientBalance = errors.New("insufficient leave balance")
	ErrProofRequired       = errors.New("proof document required")
	ErrQuotaExceeded       = errors.New("department leave quota exceeded")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidInput        = errors.New("invalid input")

	// ErrConflict is returned when a unique attribute (email, department name,
	// ledger idempotency key, scheduled reset year) already exists.
	ErrConflict = errors.New("conflict")
)

// Error codes are stable identifiers for clients.
const (
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeProofRequired       = "PROOF_REQUIRED"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeConflict            = "CONFLICT"
	CodeInternal            = "INTERNAL_ERROR"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInsufficientBalance, CodeInsufficientBalance},
	{ErrProofRequired, CodeProofRequired},
	{ErrQuotaExceeded, CodeQuotaExceeded},
	{ErrForbidden, CodeForbidden},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrConflict, CodeConflict},
}

// Code returns the client-facing code for err, CodeInternal for anything that
// is not part of the taxonomy.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// IsClientError reports whether err is a rejection the caller can act on, as
// opposed to an infrastructure failure.
func IsClientError(err error) bool {
	return err != nil && Code(err) != CodeInternal
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID string
	Available  int
	Requested  int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient leave balance: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// QuotaExceededError reports how many approved requests already overlap.
type QuotaExceededError struct {
	DepartmentID string
	Period       generic.Period
	Overlapping  int
	Max          int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("department leave quota exceeded for %s: %d approved overlapping, max %d",
		e.Period, e.Overlapping, e.Max)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// TransitionError is a refused status change.
type TransitionError struct {
	RequestID string
	From      Status
	To        Status
	Reason    string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("request %s cannot move from %s to %s", e.RequestID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFound wraps ErrNotFound with the kind and id that was looked up.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func forbidden(action string) error {
	return fmt.Errorf("%s: %w", action, ErrForbidden)
}
