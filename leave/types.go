// Package leave implements the leave-request lifecycle engine: the state
// machine over a request's status, the balance ledger that debits and credits
// annual leave exactly once per effective approval, and the department quota
// admission control that caps concurrent approved leave.
package leave

import (
	"time"

	"github.com/warp/leave-engine/generic"
)

// DefaultInitialBalance is the annual-leave entitlement of a new employee.
const DefaultInitialBalance = 12

// =============================================================================
// ROLES AND IDENTITY
// =============================================================================

type Role string

const (
	RoleEmployee Role = "EMPLOYEE"
	RoleApprover Role = "APPROVER"
)

func (r Role) Valid() bool { return r == RoleEmployee || r == RoleApprover }

// Actor is the authenticated caller. It is passed explicitly to every
// operation; nothing in this package reads identity from ambient state.
type Actor struct {
	ID           string
	Role         Role
	DepartmentID string
}

// SystemActor is used by background jobs (the annual reset scheduler).
var SystemActor = Actor{ID: "system", Role: RoleApprover}

func (a Actor) IsApprover() bool { return a.Role == RoleApprover }

// =============================================================================
// LEAVE TYPES AND STATUS
// =============================================================================

type LeaveType string

const (
	LeaveAnnual    LeaveType = "ANNUAL"
	LeaveSick      LeaveType = "SICK"
	LeaveMaternity LeaveType = "MATERNITY"
)

func (t LeaveType) Valid() bool {
	switch t {
	case LeaveAnnual, LeaveSick, LeaveMaternity:
		return true
	}
	return false
}

// RequiresProof is true for leave that must be backed by a document.
func (t LeaveType) RequiresProof() bool { return t == LeaveSick || t == LeaveMaternity }

// ConsumesBalance is true only for ANNUAL; sick and maternity leave are unmetered.
func (t LeaveType) ConsumesBalance() bool { return t == LeaveAnnual }

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool { return s == StatusRejected || s == StatusCancelled }

// =============================================================================
// ENTITIES
// =============================================================================

type Employee struct {
	ID             string    `json:"id"`
	FullName       string    `json:"fullName"`
	Email          string    `json:"email"`
	Role           Role      `json:"role"`
	DepartmentID   string    `json:"departmentId,omitempty"` // empty for approvers
	RemainingLeave int       `json:"remainingLeave"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Department struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	MaxConcurrentLeave int       `json:"maxConcurrentLeave"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Request is a leave request. DepartmentID is copied from the employee at
// submission and never re-derived.
type Request struct {
	ID              string         `json:"id"`
	EmployeeID      string         `json:"employeeId"`
	DepartmentID    string         `json:"departmentId"`
	LeaveType       LeaveType      `json:"leaveType"`
	Period          generic.Period `json:"period"`
	DaysTaken       int            `json:"daysTaken"`
	Reason          string         `json:"reason"`
	ProofURL        string         `json:"proofUrl,omitempty"`
	Status          Status         `json:"status"`
	ReviewerComment string         `json:"reviewerComment,omitempty"`
	ReviewerID      string         `json:"reviewerId,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// RequestView is a request joined with the names a listing needs.
type RequestView struct {
	Request
	EmployeeName           string `json:"employeeName"`
	EmployeeEmail          string `json:"employeeEmail"`
	EmployeeRemainingLeave int    `json:"employeeRemainingLeave"`
	DepartmentName         string `json:"departmentName"`
	ReviewerName           string `json:"reviewerName,omitempty"`
}

// =============================================================================
// LEDGER JOURNAL
// =============================================================================

type EntryKind string

const (
	EntryDebit  EntryKind = "debit"
	EntryCredit EntryKind = "credit"
)

// LedgerEntry is one applied balance movement. Entries are append-only and
// unique per IdempotencyKey, so a request can be debited and credited at most
// once each.
type LedgerEntry struct {
	ID             string    `json:"id"`
	EmployeeID     string    `json:"employeeId"`
	RequestID      string    `json:"requestId"`
	Kind           EntryKind `json:"kind"`
	Delta          int       `json:"delta"` // negative for debits
	BalanceAfter   int       `json:"balanceAfter"`
	IdempotencyKey string    `json:"idempotencyKey"`
	ActorID        string    `json:"actorId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// =============================================================================
// BALANCE RESETS
// =============================================================================

type ResetTrigger string

const (
	ResetManual    ResetTrigger = "manual"
	ResetScheduled ResetTrigger = "scheduled"

	// ResetBaseline marks the year the scheduler first ran in. Balances are
	// left alone; the first real reset happens when the next year starts.
	ResetBaseline ResetTrigger = "baseline"
)

// Yearly reports whether the record claims its Year for the scheduler.
func (t ResetTrigger) Yearly() bool { return t == ResetScheduled || t == ResetBaseline }

// BalanceReset records one bulk overwrite of employee balances. At most one
// yearly (scheduled or baseline) record exists per Year.
type BalanceReset struct {
	ID        string       `json:"id"`
	Year      int          `json:"year"`
	Value     int          `json:"value"`
	Affected  int          `json:"affected"`
	Trigger   ResetTrigger `json:"trigger"`
	ActorID   string       `json:"actorId"`
	CreatedAt time.Time    `json:"createdAt"`
}

// =============================================================================
// LISTING
// =============================================================================

const (
	DefaultPageSize    = 10
	DefaultHistorySize = 5
	MaxPageSize        = 100
)

// RequestFilter narrows ListRequests. Zero values mean "no filter".
type RequestFilter struct {
	Status       Status
	DepartmentID string
	EmployeeID   string
	Search       string // employee full name or department name, case-insensitive
	Page         int    // 1-based
	PageSize     int
}

// Offset is the number of rows skipped before this page.
func (f RequestFilter) Offset() int { return (f.Page - 1) * f.PageSize }

type Page struct {
	Items      []RequestView `json:"items"`
	TotalCount int           `json:"totalCount"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
}
