// Package memory provides an in-memory leave.Store for tests and demos.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps everything in maps guarded by one RWMutex. WithTx holds the
// write lock for the whole callback, so transactions are fully serialized;
// rollback restores a snapshot taken at the start.
type Store struct {
	mu          sync.RWMutex
	employees   map[string]leave.Employee
	departments map[string]leave.Department
	requests    map[string]leave.Request
	entries     []leave.LedgerEntry
	entryKeys   map[string]bool
	resets      []leave.BalanceReset
}

var _ leave.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		employees:   make(map[string]leave.Employee),
		departments: make(map[string]leave.Department),
		requests:    make(map[string]leave.Request),
		entryKeys:   make(map[string]bool),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (s *Store) WithTx(ctx context.Context, fn func(leave.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&txView{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	employees   map[string]leave.Employee
	departments map[string]leave.Department
	requests    map[string]leave.Request
	entries     []leave.LedgerEntry
	entryKeys   map[string]bool
	resets      []leave.BalanceReset
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		employees:   maps.Clone(s.employees),
		departments: maps.Clone(s.departments),
		requests:    maps.Clone(s.requests),
		entries:     append([]leave.LedgerEntry(nil), s.entries...),
		entryKeys:   maps.Clone(s.entryKeys),
		resets:      append([]leave.BalanceReset(nil), s.resets...),
	}
}

func (s *Store) restore(snap snapshot) {
	s.employees = snap.employees
	s.departments = snap.departments
	s.requests = snap.requests
	s.entries = snap.entries
	s.entryKeys = snap.entryKeys
	s.resets = snap.resets
}

// txView is the leave.Tx handed to WithTx callbacks. The write lock is held
// by WithTx, so it touches the maps directly.
type txView struct {
	s *Store
}

func (tv *txView) Employee(_ context.Context, id string) (*leave.Employee, error) {
	return tv.s.employee(id)
}

func (tv *txView) EmployeeByEmail(_ context.Context, email string) (*leave.Employee, error) {
	for _, e := range tv.s.employees {
		if strings.EqualFold(e.Email, email) {
			return &e, nil
		}
	}
	return nil, leave.NotFound("employee", email)
}

func (tv *txView) InsertEmployee(_ context.Context, e leave.Employee) error {
	if _, ok := tv.s.employees[e.ID]; ok {
		return fmt.Errorf("employee %s: %w", e.ID, leave.ErrConflict)
	}
	for _, existing := range tv.s.employees {
		if strings.EqualFold(existing.Email, e.Email) {
			return fmt.Errorf("email %s: %w", e.Email, leave.ErrConflict)
		}
	}
	tv.s.employees[e.ID] = e
	return nil
}

func (tv *txView) Department(_ context.Context, id string) (*leave.Department, error) {
	return tv.s.department(id)
}

func (tv *txView) DepartmentByName(_ context.Context, name string) (*leave.Department, error) {
	for _, d := range tv.s.departments {
		if strings.EqualFold(d.Name, name) {
			return &d, nil
		}
	}
	return nil, leave.NotFound("department", name)
}

func (tv *txView) InsertDepartment(_ context.Context, d leave.Department) error {
	if _, ok := tv.s.departments[d.ID]; ok {
		return fmt.Errorf("department %s: %w", d.ID, leave.ErrConflict)
	}
	tv.s.departments[d.ID] = d
	return nil
}

func (tv *txView) UpdateDepartmentQuota(_ context.Context, id string, quota int) error {
	d, ok := tv.s.departments[id]
	if !ok {
		return leave.NotFound("department", id)
	}
	d.MaxConcurrentLeave = quota
	tv.s.departments[id] = d
	return nil
}

// LockDepartment only reads: the write lock held by WithTx already excludes
// every other transaction.
func (tv *txView) LockDepartment(_ context.Context, id string) (*leave.Department, error) {
	return tv.s.department(id)
}

func (tv *txView) Request(_ context.Context, id string) (*leave.Request, error) {
	r, ok := tv.s.requests[id]
	if !ok {
		return nil, leave.NotFound("leave request", id)
	}
	return &r, nil
}

func (tv *txView) InsertRequest(_ context.Context, r leave.Request) error {
	if _, ok := tv.s.requests[r.ID]; ok {
		return fmt.Errorf("leave request %s: %w", r.ID, leave.ErrConflict)
	}
	tv.s.requests[r.ID] = r
	return nil
}

func (tv *txView) UpdateRequestStatus(_ context.Context, r leave.Request, expected leave.Status) error {
	current, ok := tv.s.requests[r.ID]
	if !ok {
		return leave.NotFound("leave request", r.ID)
	}
	if current.Status != expected {
		return &leave.TransitionError{RequestID: r.ID, From: current.Status, To: r.Status,
			Reason: "status changed concurrently"}
	}
	current.Status = r.Status
	current.ReviewerID = r.ReviewerID
	current.ReviewerComment = r.ReviewerComment
	current.UpdatedAt = r.UpdatedAt
	tv.s.requests[r.ID] = current
	return nil
}

func (tv *txView) CountApprovedOverlapping(_ context.Context, departmentID string, p generic.Period, excludeRequestID string) (int, error) {
	count := 0
	for _, r := range tv.s.requests {
		if r.DepartmentID == departmentID && r.Status == leave.StatusApproved &&
			r.ID != excludeRequestID && r.Period.Overlaps(p) {
			count++
		}
	}
	return count, nil
}

func (tv *txView) AdjustBalance(_ context.Context, employeeID string, delta int) (int, error) {
	e, ok := tv.s.employees[employeeID]
	if !ok {
		return 0, leave.NotFound("employee", employeeID)
	}
	e.RemainingLeave += delta
	tv.s.employees[employeeID] = e
	return e.RemainingLeave, nil
}

func (tv *txView) AppendLedgerEntry(_ context.Context, e leave.LedgerEntry) error {
	if tv.s.entryKeys[e.IdempotencyKey] {
		return fmt.Errorf("ledger entry %s: %w", e.IdempotencyKey, leave.ErrConflict)
	}
	tv.s.entries = append(tv.s.entries, e)
	tv.s.entryKeys[e.IdempotencyKey] = true
	return nil
}

func (tv *txView) ResetBalances(_ context.Context, value int) (int, error) {
	n := 0
	for id, e := range tv.s.employees {
		if e.Role != leave.RoleEmployee {
			continue
		}
		e.RemainingLeave = value
		tv.s.employees[id] = e
		n++
	}
	return n, nil
}

func (tv *txView) RecordBalanceReset(_ context.Context, r leave.BalanceReset) error {
	if r.Trigger.Yearly() {
		for _, existing := range tv.s.resets {
			if existing.Trigger.Yearly() && existing.Year == r.Year {
				return fmt.Errorf("scheduled reset for %d: %w", r.Year, leave.ErrConflict)
			}
		}
	}
	tv.s.resets = append(tv.s.resets, r)
	return nil
}

func (tv *txView) LastYearlyReset(_ context.Context) (int, bool, error) {
	year, found := 0, false
	for _, r := range tv.s.resets {
		if r.Trigger.Yearly() && (!found || r.Year > year) {
			year, found = r.Year, true
		}
	}
	return year, found, nil
}

// =============================================================================
// READ SIDE
// =============================================================================

func (s *Store) GetEmployee(_ context.Context, id string) (*leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.employee(id)
}

func (s *Store) ListDepartments(_ context.Context) ([]leave.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedDepartments(), nil
}

func (s *Store) ListRequests(_ context.Context, f leave.RequestFilter) ([]leave.RequestView, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(f.Search)
	var matched []leave.Request
	for _, r := range s.requests {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.DepartmentID != "" && r.DepartmentID != f.DepartmentID {
			continue
		}
		if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
			continue
		}
		if search != "" {
			name := strings.ToLower(s.employees[r.EmployeeID].FullName)
			dept := strings.ToLower(s.departments[r.DepartmentID].Name)
			if !strings.Contains(name, search) && !strings.Contains(dept, search) {
				continue
			}
		}
		matched = append(matched, r)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := min(f.Offset(), total)
	end := min(start+f.PageSize, total)

	views := make([]leave.RequestView, 0, end-start)
	for _, r := range matched[start:end] {
		views = append(views, s.view(r))
	}
	return views, total, nil
}

func (s *Store) view(r leave.Request) leave.RequestView {
	emp := s.employees[r.EmployeeID]
	v := leave.RequestView{
		Request:                r,
		EmployeeName:           emp.FullName,
		EmployeeEmail:          emp.Email,
		EmployeeRemainingLeave: emp.RemainingLeave,
		DepartmentName:         s.departments[r.DepartmentID].Name,
	}
	if r.ReviewerID != "" {
		v.ReviewerName = s.employees[r.ReviewerID].FullName
	}
	return v
}

func (s *Store) LedgerEntries(_ context.Context, employeeID string) ([]leave.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []leave.LedgerEntry{}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].EmployeeID == employeeID {
			result = append(result, s.entries[i])
		}
	}
	return result, nil
}

func (s *Store) Overview(_ context.Context, today generic.TimePoint) (leave.Overview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ov := leave.Overview{Today: today, TotalRequests: len(s.requests)}
	for _, e := range s.employees {
		if e.Role == leave.RoleEmployee {
			ov.TotalEmployees++
		}
	}

	perDept := make(map[string]int)
	for _, r := range s.requests {
		perDept[r.DepartmentID]++
		if r.Status == leave.StatusPending {
			ov.PendingRequests++
		}
		if r.Status == leave.StatusApproved && r.Period.Contains(today) {
			ov.OnLeaveToday++
		}
	}
	for _, d := range s.sortedDepartments() {
		ov.RequestsByDepartment = append(ov.RequestsByDepartment,
			leave.DepartmentCount{DepartmentID: d.ID, Name: d.Name, Requests: perDept[d.ID]})
	}
	return ov, nil
}

func (s *Store) DepartmentOccupancy(_ context.Context, today generic.TimePoint) ([]leave.DepartmentOccupancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	depts := s.sortedDepartments()
	index := make(map[string]int, len(depts))
	rows := make([]leave.DepartmentOccupancy, len(depts))
	for i, d := range depts {
		index[d.ID] = i
		rows[i] = leave.DepartmentOccupancy{DepartmentID: d.ID, Name: d.Name, MaxConcurrentLeave: d.MaxConcurrentLeave}
	}

	for _, r := range s.requests {
		i, ok := index[r.DepartmentID]
		if !ok || r.Status != leave.StatusApproved {
			continue
		}
		rows[i].TotalDaysTaken += r.DaysTaken
		if r.Period.Contains(today) {
			rows[i].OnLeaveToday++
		}
	}
	return rows, nil
}

// Resets returns every recorded balance reset, oldest first.
func (s *Store) Resets() []leave.BalanceReset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]leave.BalanceReset(nil), s.resets...)
}

// =============================================================================
// HELPERS (caller holds the lock)
// =============================================================================

func (s *Store) employee(id string) (*leave.Employee, error) {
	e, ok := s.employees[id]
	if !ok {
		return nil, leave.NotFound("employee", id)
	}
	return &e, nil
}

func (s *Store) department(id string) (*leave.Department, error) {
	d, ok := s.departments[id]
	if !ok {
		return nil, leave.NotFound("department", id)
	}
	return &d, nil
}

func (s *Store) sortedDepartments() []leave.Department {
	depts := make([]leave.Department, 0, len(s.departments))
	for _, d := range s.departments {
		depts = append(depts, d)
	}
	sort.Slice(depts, func(i, j int) bool { return depts[i].Name < depts[j].Name })
	return depts
}
