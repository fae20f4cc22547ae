package leave_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// testClock advances one second per call so CreatedAt ordering is strict.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *memory.Store
	svc      *leave.Service
	approver leave.Actor
	dept     *leave.Department
}

func newTestService(t *testing.T, quota int) *fixture {
	t.Helper()
	store := memory.New()
	clock := newTestClock()
	svc := leave.NewService(store, leave.WithClock(clock.Now), leave.WithLogger(zap.NewNop()))
	ctx := context.Background()

	approver, err := svc.CreateApprover(ctx, leave.SystemActor, "HR Manager", "hr@example.com")
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		ctx:      ctx,
		store:    store,
		svc:      svc,
		approver: leave.Actor{ID: approver.ID, Role: leave.RoleApprover},
	}
	f.dept = f.department("Engineering", quota)
	return f
}

func (f *fixture) department(name string, quota int) *leave.Department {
	f.t.Helper()
	d, err := f.svc.CreateDepartment(f.ctx, f.approver, name, quota)
	require.NoError(f.t, err)
	return d
}

// employee registers an employee in the fixture's default department.
func (f *fixture) employee(name string) leave.Actor {
	f.t.Helper()
	return f.employeeIn(name, f.dept.ID)
}

func (f *fixture) employeeIn(name, deptID string) leave.Actor {
	f.t.Helper()
	emp, err := f.svc.RegisterEmployee(f.ctx, leave.RegisterInput{
		FullName:     name,
		Email:        fmt.Sprintf("%s-%s@example.com", name, deptID),
		DepartmentID: deptID,
	})
	require.NoError(f.t, err)
	return leave.Actor{ID: emp.ID, Role: leave.RoleEmployee, DepartmentID: deptID}
}

func (f *fixture) balance(actor leave.Actor) int {
	f.t.Helper()
	emp, err := f.store.GetEmployee(f.ctx, actor.ID)
	require.NoError(f.t, err)
	return emp.RemainingLeave
}

func (f *fixture) submit(actor leave.Actor, lt leave.LeaveType, start, end string) (*leave.Request, error) {
	in := leave.SubmitInput{
		LeaveType: lt,
		StartDate: generic.MustParseDate(start),
		EndDate:   generic.MustParseDate(end),
		Reason:    "family trip",
	}
	if lt.RequiresProof() {
		in.ProofURL = "https://files.example.com/proof.pdf"
	}
	return f.svc.Submit(f.ctx, actor, in)
}

func (f *fixture) mustSubmit(actor leave.Actor, lt leave.LeaveType, start, end string) *leave.Request {
	f.t.Helper()
	req, err := f.submit(actor, lt, start, end)
	require.NoError(f.t, err)
	return req
}

func (f *fixture) review(id string, decision leave.Status) (*leave.Request, error) {
	return f.svc.Review(f.ctx, f.approver, id, decision, "")
}

func (f *fixture) mustApprove(id string) *leave.Request {
	f.t.Helper()
	req, err := f.review(id, leave.StatusApproved)
	require.NoError(f.t, err)
	return req
}

// approved creates an employee with an APPROVED request over [start, end].
func (f *fixture) approved(name, start, end string) *leave.Request {
	f.t.Helper()
	emp := f.employee(name)
	req := f.mustSubmit(emp, leave.LeaveAnnual, start, end)
	return f.mustApprove(req.ID)
}

func (f *fixture) request(id string) leave.Request {
	f.t.Helper()
	page, err := f.svc.ListRequests(f.ctx, f.approver, leave.RequestFilter{PageSize: leave.MaxPageSize})
	require.NoError(f.t, err)
	for _, v := range page.Items {
		if v.ID == id {
			return v.Request
		}
	}
	f.t.Fatalf("request %s not found", id)
	return leave.Request{}
}
