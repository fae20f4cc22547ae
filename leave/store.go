/*
store.go - Persistence interface for the leave engine

PURPOSE:
  Defines the boundary between the engine and the database. Writes only
  happen through Tx, which is only obtainable inside Store.WithTx, so every
  balance or status mutation shares the transaction of the transition that
  caused it.

KEY INTERFACES:
  Store:  WithTx + the read side (Reader)
  Tx:     Everything a transition reads and writes, scoped to one transaction
  Reader: Listings and projections outside any transition

ISOLATION:
  Implementations must run WithTx serializably with respect to other WithTx
  calls touching the same department, because admission control reads the
  approved-overlap count and then writes a status based on it.
  - store/sqlite: BEGIN IMMEDIATE + in-process writer mutex
  - store/memory: single writer lock + snapshot/restore rollback

NOT FOUND:
  Lookups return an error wrapping ErrNotFound (see NotFound), never (nil, nil).

SEE ALSO:
  - store/sqlite/sqlite.go: Durable implementation
  - store/memory/memory.go: In-memory implementation for testing
*/
package leave

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// Store is the engine's persistence dependency.
type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the transactional view handed to WithTx callbacks.
type Tx interface {
	Employee(ctx context.Context, id string) (*Employee, error)
	EmployeeByEmail(ctx context.Context, email string) (*Employee, error)
	InsertEmployee(ctx context.Context, e Employee) error

	Department(ctx context.Context, id string) (*Department, error)
	DepartmentByName(ctx context.Context, name string) (*Department, error)
	InsertDepartment(ctx context.Context, d Department) error
	UpdateDepartmentQuota(ctx context.Context, id string, quota int) error

	// LockDepartment reads the department and claims it as the lock target
	// for the rest of the transaction. Admission control calls it before
	// counting approved overlaps.
	LockDepartment(ctx context.Context, id string) (*Department, error)

	Request(ctx context.Context, id string) (*Request, error)
	InsertRequest(ctx context.Context, r Request) error

	// UpdateRequestStatus persists r's status, reviewer fields and UpdatedAt,
	// but only if the stored status still equals expected. A mismatch
	// returns an error wrapping ErrInvalidTransition.
	UpdateRequestStatus(ctx context.Context, r Request, expected Status) error

	// CountApprovedOverlapping counts APPROVED requests of the department
	// whose period overlaps p, ignoring excludeRequestID.
	CountApprovedOverlapping(ctx context.Context, departmentID string, p generic.Period, excludeRequestID string) (int, error)

	// AdjustBalance adds delta to the employee's remaining leave and returns
	// the new value. It does not clamp.
	AdjustBalance(ctx context.Context, employeeID string, delta int) (int, error)

	// AppendLedgerEntry records an applied movement. A duplicate
	// IdempotencyKey returns an error wrapping ErrConflict.
	AppendLedgerEntry(ctx context.Context, e LedgerEntry) error

	// ResetBalances sets remaining leave of every EMPLOYEE to value and
	// returns how many rows changed.
	ResetBalances(ctx context.Context, value int) (int, error)

	// RecordBalanceReset stores the reset. A second yearly record for the
	// same year returns an error wrapping ErrConflict.
	RecordBalanceReset(ctx context.Context, r BalanceReset) error

	// LastYearlyReset returns the latest year with a scheduled or baseline
	// record; found is false when the scheduler has never run.
	LastYearlyReset(ctx context.Context) (year int, found bool, err error)
}

// Reader is the non-transactional read side.
type Reader interface {
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	ListDepartments(ctx context.Context) ([]Department, error)

	// ListRequests returns one page ordered by CreatedAt descending and the
	// total number of matching requests.
	ListRequests(ctx context.Context, f RequestFilter) ([]RequestView, int, error)

	// LedgerEntries returns the employee's journal, newest first.
	LedgerEntries(ctx context.Context, employeeID string) ([]LedgerEntry, error)

	// Overview and DepartmentOccupancy are each computed from one consistent
	// snapshot, with today fixed by the caller.
	Overview(ctx context.Context, today generic.TimePoint) (Overview, error)
	DepartmentOccupancy(ctx context.Context, today generic.TimePoint) ([]DepartmentOccupancy, error)
}
