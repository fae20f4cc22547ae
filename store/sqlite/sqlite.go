/*
Package sqlite provides a SQLite-backed implementation of leave.Store.

PURPOSE:
  Durable storage for employees, departments, leave requests, the balance
  journal and balance reset runs. In production the same SQL runs on
  PostgreSQL with minor dialect changes (RETURNING, partial indexes and
  COLLATE NOCASE all have direct equivalents).

KEY TABLES:
  departments:     Quota per department (max_concurrent_leave)
  employees:       Accounts and the running remaining_leave balance
  leave_requests:  Requests; department_id is copied at submission
  ledger_entries:  Append-only journal of debits/credits (unique idempotency_key)
  balance_resets:  Bulk balance overwrites (one yearly row per year)

INDEXES:
  - idx_leave_requests_quota: admission control overlap count (hot path)
  - idx_leave_requests_created / _employee_created: listings, newest first
  - idx_unique_yearly_reset: one scheduled or baseline row per year

CONCURRENCY:
  Every transaction is opened with BEGIN IMMEDIATE (_txlock=immediate), which
  takes SQLite's write lock up front, so the read-count-then-write sequence
  of an approval is serializable even across processes. Within the process a
  sync.RWMutex additionally serializes writers and lets readers share.
  Status writes are compare-and-set on the previous status.

WAL MODE:
  Opened with WAL so readers never block the single writer.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := leave.NewService(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - leave/store.go: Interface definitions
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// driverName is go-sqlite3 with a Unicode-aware fold_case(text) function.
// SQLite's own lower() and LIKE fold only ASCII; search columns and patterns
// both go through foldCase.
const driverName = "sqlite3_leave"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("fold_case", foldCase, true)
		},
	})
}

func foldCase(s string) string { return strings.ToLower(s) }

// timeLayout is fixed-width so that created_at sorts lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements leave.Store using SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

var _ leave.Store = (*Store)(nil)

type Option func(*options)

type options struct {
	busyTimeout time.Duration
	logger      *zap.Logger
}

// WithBusyTimeout sets how long a connection waits for another process's
// write lock before failing.
func WithBusyTimeout(d time.Duration) Option { return func(o *options) { o.busyTimeout = d } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	o := options{busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d",
		dbPath, o.busyTimeout.Milliseconds())
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := NewWithDB(db, o.logger)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	store.logger.Debug("sqlite store ready", zap.String("path", dbPath))
	return store, nil
}

// NewWithDB wraps an already opened database without migrating it.
func NewWithDB(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.L().Named("store.sqlite")
	}
	return &Store{db: db, logger: logger}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS departments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		max_concurrent_leave INTEGER NOT NULL CHECK (max_concurrent_leave >= 0),
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		role TEXT NOT NULL CHECK (role IN ('EMPLOYEE', 'APPROVER')),
		department_id TEXT REFERENCES departments(id),
		remaining_leave INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_department
		ON employees(department_id);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		department_id TEXT NOT NULL REFERENCES departments(id),
		leave_type TEXT NOT NULL CHECK (leave_type IN ('ANNUAL', 'SICK', 'MATERNITY')),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		days_taken INTEGER NOT NULL,
		reason TEXT NOT NULL,
		proof_url TEXT,
		status TEXT NOT NULL CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED', 'CANCELLED')),
		reviewer_comment TEXT,
		reviewer_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (end_date >= start_date),
		CHECK (days_taken = CAST(julianday(end_date) - julianday(start_date) AS INTEGER) + 1)
	);

	-- Admission control: approved overlaps per department
	CREATE INDEX IF NOT EXISTS idx_leave_requests_quota
		ON leave_requests(department_id, status, start_date, end_date);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_created
		ON leave_requests(created_at DESC);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_employee_created
		ON leave_requests(employee_id, created_at DESC);

	-- Balance journal (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		request_id TEXT NOT NULL REFERENCES leave_requests(id),
		kind TEXT NOT NULL CHECK (kind IN ('debit', 'credit')),
		delta INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		actor_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_employee
		ON ledger_entries(employee_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS balance_resets (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		value INTEGER NOT NULL,
		affected INTEGER NOT NULL,
		reset_trigger TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	DROP INDEX IF EXISTS idx_unique_scheduled_reset;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_yearly_reset
		ON balance_resets(year) WHERE reset_trigger IN ('scheduled', 'baseline');
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (leave.Store.WithTx)
// =============================================================================

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(leave.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

// =============================================================================
// EMPLOYEES
// =============================================================================

const employeeColumns = `id, full_name, email, role, department_id, remaining_leave, created_at`

func (ts *txStore) Employee(ctx context.Context, id string) (*leave.Employee, error) {
	return getEmployee(ctx, ts.tx, "WHERE id = ?", id)
}

func (ts *txStore) EmployeeByEmail(ctx context.Context, email string) (*leave.Employee, error) {
	return getEmployee(ctx, ts.tx, "WHERE email = ?", email)
}

func (ts *txStore) InsertEmployee(ctx context.Context, e leave.Employee) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO employees (id, full_name, email, role, department_id, remaining_leave, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.FullName, e.Email, e.Role, nullString(e.DepartmentID), e.RemainingLeave, formatTime(e.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("employee %s: %w", e.Email, leave.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert employee: %w", err)
	}
	return nil
}

func (ts *txStore) AdjustBalance(ctx context.Context, employeeID string, delta int) (int, error) {
	var balance int
	err := ts.tx.QueryRowContext(ctx,
		"UPDATE employees SET remaining_leave = remaining_leave + ? WHERE id = ? RETURNING remaining_leave",
		delta, employeeID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, leave.NotFound("employee", employeeID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to adjust balance: %w", err)
	}
	return balance, nil
}

func (ts *txStore) ResetBalances(ctx context.Context, value int) (int, error) {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE employees SET remaining_leave = ? WHERE role = ?", value, leave.RoleEmployee)
	if err != nil {
		return 0, fmt.Errorf("failed to reset balances: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func getEmployee(ctx context.Context, db execer, where string, args ...any) (*leave.Employee, error) {
	row := db.QueryRowContext(ctx, "SELECT "+employeeColumns+" FROM employees "+where, args...)

	var (
		e         leave.Employee
		deptID    sql.NullString
		createdAt string
	)
	err := row.Scan(&e.ID, &e.FullName, &e.Email, &e.Role, &deptID, &e.RemainingLeave, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, leave.NotFound("employee", fmt.Sprint(args...))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	e.DepartmentID = deptID.String
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

// =============================================================================
// DEPARTMENTS
// =============================================================================

const departmentColumns = `id, name, max_concurrent_leave, created_at`

func (ts *txStore) Department(ctx context.Context, id string) (*leave.Department, error) {
	return getDepartment(ctx, ts.tx, "WHERE id = ?", id)
}

func (ts *txStore) DepartmentByName(ctx context.Context, name string) (*leave.Department, error) {
	return getDepartment(ctx, ts.tx, "WHERE name = ?", name)
}

func (ts *txStore) InsertDepartment(ctx context.Context, d leave.Department) error {
	_, err := ts.tx.ExecContext(ctx,
		"INSERT INTO departments (id, name, max_concurrent_leave, created_at) VALUES (?, ?, ?, ?)",
		d.ID, d.Name, d.MaxConcurrentLeave, formatTime(d.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("department %s: %w", d.Name, leave.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert department: %w", err)
	}
	return nil
}

func (ts *txStore) UpdateDepartmentQuota(ctx context.Context, id string, quota int) error {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE departments SET max_concurrent_leave = ? WHERE id = ?", quota, id)
	if err != nil {
		return fmt.Errorf("failed to update quota: %w", err)
	}
	return requireRow(res, "department", id)
}

// LockDepartment performs a no-op write on the department row. Under BEGIN
// IMMEDIATE the database lock is already held; on engines with row locks the
// same statement takes the department's row lock.
func (ts *txStore) LockDepartment(ctx context.Context, id string) (*leave.Department, error) {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE departments SET max_concurrent_leave = max_concurrent_leave WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock department: %w", err)
	}
	if err := requireRow(res, "department", id); err != nil {
		return nil, err
	}
	return getDepartment(ctx, ts.tx, "WHERE id = ?", id)
}

func getDepartment(ctx context.Context, db execer, where string, args ...any) (*leave.Department, error) {
	row := db.QueryRowContext(ctx, "SELECT "+departmentColumns+" FROM departments "+where, args...)

	var (
		d         leave.Department
		createdAt string
	)
	err := row.Scan(&d.ID, &d.Name, &d.MaxConcurrentLeave, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, leave.NotFound("department", fmt.Sprint(args...))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get department: %w", err)
	}
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

const requestColumns = `r.id, r.employee_id, r.department_id, r.leave_type, r.start_date, r.end_date,
	r.days_taken, r.reason, r.proof_url, r.status, r.reviewer_comment, r.reviewer_id,
	r.created_at, r.updated_at`

func (ts *txStore) Request(ctx context.Context, id string) (*leave.Request, error) {
	row := ts.tx.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM leave_requests r WHERE r.id = ?", id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, leave.NotFound("leave request", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leave request: %w", err)
	}
	return &r, nil
}

func (ts *txStore) InsertRequest(ctx context.Context, r leave.Request) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO leave_requests (id, employee_id, department_id, leave_type, start_date, end_date,
			days_taken, reason, proof_url, status, reviewer_comment, reviewer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EmployeeID, r.DepartmentID, r.LeaveType, r.Period.Start.String(), r.Period.End.String(),
		r.DaysTaken, r.Reason, nullString(r.ProofURL), r.Status, nullString(r.ReviewerComment),
		nullString(r.ReviewerID), formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert leave request: %w", err)
	}
	return nil
}

func (ts *txStore) UpdateRequestStatus(ctx context.Context, r leave.Request, expected leave.Status) error {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE leave_requests
		SET status = ?, reviewer_id = ?, reviewer_comment = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		r.Status, nullString(r.ReviewerID), nullString(r.ReviewerComment), formatTime(r.UpdatedAt),
		r.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update leave request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current leave.Status
	err = ts.tx.QueryRowContext(ctx, "SELECT status FROM leave_requests WHERE id = ?", r.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.NotFound("leave request", r.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to read leave request status: %w", err)
	}
	return &leave.TransitionError{RequestID: r.ID, From: current, To: r.Status, Reason: "status changed concurrently"}
}

func (ts *txStore) CountApprovedOverlapping(ctx context.Context, departmentID string, p generic.Period, excludeRequestID string) (int, error) {
	var count int
	err := ts.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM leave_requests
		WHERE department_id = ? AND status = ?
		  AND start_date <= ? AND end_date >= ?
		  AND id != ?`,
		departmentID, leave.StatusApproved, p.End.String(), p.Start.String(), excludeRequestID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count overlapping requests: %w", err)
	}
	return count, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner, extra ...any) (leave.Request, error) {
	var (
		r                    leave.Request
		start, end           string
		proof, comment, revr sql.NullString
		createdAt, updatedAt string
	)
	dest := []any{
		&r.ID, &r.EmployeeID, &r.DepartmentID, &r.LeaveType, &start, &end,
		&r.DaysTaken, &r.Reason, &proof, &r.Status, &comment, &revr,
		&createdAt, &updatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return r, err
	}

	startDay, err := generic.ParseDate(start)
	if err != nil {
		return r, err
	}
	endDay, err := generic.ParseDate(end)
	if err != nil {
		return r, err
	}
	r.Period = generic.Period{Start: startDay, End: endDay}
	r.ProofURL = proof.String
	r.ReviewerComment = comment.String
	r.ReviewerID = revr.String
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// =============================================================================
// LEDGER JOURNAL AND RESETS
// =============================================================================

func (ts *txStore) AppendLedgerEntry(ctx context.Context, e leave.LedgerEntry) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, employee_id, request_id, kind, delta, balance_after,
			idempotency_key, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EmployeeID, e.RequestID, e.Kind, e.Delta, e.BalanceAfter,
		e.IdempotencyKey, e.ActorID, formatTime(e.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("ledger entry %s: %w", e.IdempotencyKey, leave.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (ts *txStore) RecordBalanceReset(ctx context.Context, r leave.BalanceReset) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO balance_resets (id, year, value, affected, reset_trigger, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Year, r.Value, r.Affected, r.Trigger, r.ActorID, formatTime(r.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("scheduled reset for %d: %w", r.Year, leave.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to record balance reset: %w", err)
	}
	return nil
}

func (ts *txStore) LastYearlyReset(ctx context.Context) (int, bool, error) {
	var year sql.NullInt64
	err := ts.tx.QueryRowContext(ctx, `
		SELECT MAX(year) FROM balance_resets
		WHERE reset_trigger IN ('scheduled', 'baseline')`).Scan(&year)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read last yearly reset: %w", err)
	}
	return int(year.Int64), year.Valid, nil
}

// =============================================================================
// READ SIDE (leave.Reader)
// =============================================================================

func (s *Store) GetEmployee(ctx context.Context, id string) (*leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEmployee(ctx, s.db, "WHERE id = ?", id)
}

func (s *Store) ListDepartments(ctx context.Context) ([]leave.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+departmentColumns+" FROM departments ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	var depts []leave.Department
	for rows.Next() {
		var (
			d         leave.Department
			createdAt string
		)
		if err := rows.Scan(&d.ID, &d.Name, &d.MaxConcurrentLeave, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		d.CreatedAt = parseTime(createdAt)
		depts = append(depts, d)
	}
	return depts, rows.Err()
}

func (s *Store) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.RequestView, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from := `
		FROM leave_requests r
		JOIN employees e ON e.id = r.employee_id
		LEFT JOIN departments d ON d.id = r.department_id
		LEFT JOIN employees rv ON rv.id = r.reviewer_id`

	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "r.status = ?")
		args = append(args, f.Status)
	}
	if f.DepartmentID != "" {
		where = append(where, "r.department_id = ?")
		args = append(args, f.DepartmentID)
	}
	if f.EmployeeID != "" {
		where = append(where, "r.employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if f.Search != "" {
		pattern := likePattern(f.Search)
		where = append(where, `(fold_case(e.full_name) LIKE ? ESCAPE '\' OR fold_case(COALESCE(d.name, '')) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if len(where) > 0 {
		from += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) "+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count leave requests: %w", err)
	}

	query := "SELECT " + requestColumns + `,
		e.full_name, e.email, e.remaining_leave, COALESCE(d.name, ''), COALESCE(rv.full_name, '')` +
		from + "\n\t\tORDER BY r.created_at DESC, r.id DESC LIMIT ? OFFSET ?"

	rows, err := s.db.QueryContext(ctx, query, append(args, f.PageSize, f.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list leave requests: %w", err)
	}
	defer rows.Close()

	var views []leave.RequestView
	for rows.Next() {
		var v leave.RequestView
		r, err := scanRequest(rows, &v.EmployeeName, &v.EmployeeEmail, &v.EmployeeRemainingLeave,
			&v.DepartmentName, &v.ReviewerName)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan leave request: %w", err)
		}
		v.Request = r
		views = append(views, v)
	}
	return views, total, rows.Err()
}

func (s *Store) LedgerEntries(ctx context.Context, employeeID string) ([]leave.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, request_id, kind, delta, balance_after, idempotency_key, actor_id, created_at
		FROM ledger_entries
		WHERE employee_id = ?
		ORDER BY created_at DESC, rowid DESC`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []leave.LedgerEntry{}
	for rows.Next() {
		var (
			e         leave.LedgerEntry
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.EmployeeID, &e.RequestID, &e.Kind, &e.Delta, &e.BalanceAfter,
			&e.IdempotencyKey, &e.ActorID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Overview computes the headline counts in a single statement so they come
// from one snapshot.
func (s *Store) Overview(ctx context.Context, today generic.TimePoint) (leave.Overview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := today.String()
	ov := leave.Overview{Today: today}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM employees WHERE role = 'EMPLOYEE'),
			(SELECT COUNT(*) FROM leave_requests),
			(SELECT COUNT(*) FROM leave_requests WHERE status = 'PENDING'),
			(SELECT COUNT(*) FROM leave_requests
			  WHERE status = 'APPROVED' AND start_date <= ? AND end_date >= ?)`,
		day, day,
	).Scan(&ov.TotalEmployees, &ov.TotalRequests, &ov.PendingRequests, &ov.OnLeaveToday)
	if err != nil {
		return leave.Overview{}, fmt.Errorf("failed to compute overview: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.name, COUNT(r.id)
		FROM departments d
		LEFT JOIN leave_requests r ON r.department_id = d.id
		GROUP BY d.id, d.name
		ORDER BY d.name ASC`)
	if err != nil {
		return leave.Overview{}, fmt.Errorf("failed to count requests by department: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dc leave.DepartmentCount
		if err := rows.Scan(&dc.DepartmentID, &dc.Name, &dc.Requests); err != nil {
			return leave.Overview{}, fmt.Errorf("failed to scan department count: %w", err)
		}
		ov.RequestsByDepartment = append(ov.RequestsByDepartment, dc)
	}
	return ov, rows.Err()
}

func (s *Store) DepartmentOccupancy(ctx context.Context, today generic.TimePoint) ([]leave.DepartmentOccupancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := today.String()
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.name, d.max_concurrent_leave,
			COALESCE(SUM(CASE WHEN r.status = 'APPROVED' THEN r.days_taken END), 0),
			COUNT(CASE WHEN r.status = 'APPROVED' AND r.start_date <= ? AND r.end_date >= ? THEN 1 END)
		FROM departments d
		LEFT JOIN leave_requests r ON r.department_id = d.id
		GROUP BY d.id, d.name, d.max_concurrent_leave
		ORDER BY d.name ASC`, day, day)
	if err != nil {
		return nil, fmt.Errorf("failed to compute department occupancy: %w", err)
	}
	defer rows.Close()

	var result []leave.DepartmentOccupancy
	for rows.Next() {
		var o leave.DepartmentOccupancy
		if err := rows.Scan(&o.DepartmentID, &o.Name, &o.MaxConcurrentLeave, &o.TotalDaysTaken, &o.OnLeaveToday); err != nil {
			return nil, fmt.Errorf("failed to scan department occupancy: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// Resets returns every recorded balance reset, oldest first.
func (s *Store) Resets(ctx context.Context) ([]leave.BalanceReset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, year, value, affected, reset_trigger, actor_id, created_at
		FROM balance_resets ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance resets: %w", err)
	}
	defer rows.Close()

	var resets []leave.BalanceReset
	for rows.Next() {
		var (
			r         leave.BalanceReset
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.Year, &r.Value, &r.Affected, &r.Trigger, &r.ActorID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance reset: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		resets = append(resets, r)
	}
	return resets, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return leave.NotFound(kind, id)
	}
	return nil
}

// likePattern builds a substring pattern for a fold_case column, escaping
// LIKE metacharacters.
func likePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(foldCase(search)) + "%"
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
