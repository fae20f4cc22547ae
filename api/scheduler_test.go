/*
scheduler_test.go - Tests for the annual reset scheduler

Tests for:
- Year selection in the configured location
- Reporting whether a reset was applied
- Start/Stop lifecycle
*/
package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

type fakeRunner struct {
	mu    sync.Mutex
	years []int
	ran   bool
	err   error
}

func (f *fakeRunner) RunScheduledReset(_ context.Context, year, value int) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.years = append(f.years, year)
	return 3, f.ran, f.err
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.years)
}

func TestResetScheduler_UsesYearInLocation(t *testing.T) {
	// GIVEN: 2025-12-31 20:00 UTC, which is already 2026 in Tokyo
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	runner := &fakeRunner{ran: true}
	rs := NewResetScheduler(runner, zap.NewNop())
	rs.Location = tokyo
	rs.Clock = func() time.Time { return time.Date(2025, 12, 31, 20, 0, 0, 0, time.UTC) }

	// WHEN: A check runs
	applied := rs.RunNow(context.Background())

	// THEN: The Tokyo year is reset
	assert.True(t, applied)
	assert.Equal(t, []int{2026}, runner.years)
}

func TestResetScheduler_ReportsSkipsAndFailures(t *testing.T) {
	runner := &fakeRunner{ran: false}
	rs := NewResetScheduler(runner, zap.NewNop())
	assert.False(t, rs.RunNow(context.Background()))

	runner.err = errors.New("database locked")
	assert.False(t, rs.RunNow(context.Background()))
}

func TestResetScheduler_OncePerYearAgainstService(t *testing.T) {
	// GIVEN: A service with one employee whose balance was spent
	ctx := context.Background()
	svc := leave.NewService(memory.New(), leave.WithLogger(zap.NewNop()))
	approver, err := svc.CreateApprover(ctx, leave.SystemActor, "HR", "hr@example.com")
	require.NoError(t, err)
	hr := leave.Actor{ID: approver.ID, Role: leave.RoleApprover}
	dept, err := svc.CreateDepartment(ctx, hr, "Sales", 2)
	require.NoError(t, err)
	emp, err := svc.RegisterEmployee(ctx, leave.RegisterInput{FullName: "Alice", Email: "alice@example.com", DepartmentID: dept.ID})
	require.NoError(t, err)
	_, err = svc.ResetAnnualBalances(ctx, hr, 0)
	require.NoError(t, err)

	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	rs := NewResetScheduler(svc, zap.NewNop())
	rs.Value = 15
	rs.Clock = func() time.Time { return now }
	rs.Location = time.UTC
	balance := func() int {
		got, err := svc.GetEmployee(ctx, hr, emp.ID)
		require.NoError(t, err)
		return got.RemainingLeave
	}

	// WHEN: The scheduler is first enabled mid-year
	// THEN: Balances are left alone
	assert.False(t, rs.RunNow(ctx))
	assert.Equal(t, 0, balance())

	// WHEN: Two checks run in the next year
	now = time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	first := rs.RunNow(ctx)
	second := rs.RunNow(ctx)

	// THEN: Only the first one resets
	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 15, balance())
}

func TestResetScheduler_StartStop(t *testing.T) {
	runner := &fakeRunner{ran: true}
	rs := NewResetScheduler(runner, zap.NewNop())

	// Disabled schedulers never run
	rs.Start()
	rs.Stop()
	assert.Equal(t, 0, runner.calls())

	rs.Enabled = true
	rs.CheckInterval = time.Hour
	rs.Start()
	rs.Start()
	require.Eventually(t, func() bool { return runner.calls() == 1 }, time.Second, 10*time.Millisecond)
	rs.Stop()
	rs.Stop()
	assert.Equal(t, 1, runner.calls())
}
