package leave

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// REPORTING PROJECTIONS - Read-only aggregations
// =============================================================================

// Overview is the dashboard summary. TotalEmployees counts EMPLOYEE accounts
// only; OnLeaveToday counts APPROVED requests whose period covers Today.
type Overview struct {
	Today                generic.TimePoint `json:"today"`
	TotalEmployees       int               `json:"totalEmployees"`
	TotalRequests        int               `json:"totalRequests"`
	PendingRequests      int               `json:"pendingRequests"`
	OnLeaveToday         int               `json:"onLeaveToday"`
	RequestsByDepartment []DepartmentCount `json:"requestsByDepartment"`
}

type DepartmentCount struct {
	DepartmentID string `json:"departmentId"`
	Name         string `json:"name"`
	Requests     int    `json:"requests"`
}

// DepartmentOccupancy is what the store aggregates per department.
type DepartmentOccupancy struct {
	DepartmentID       string `json:"departmentId"`
	Name               string `json:"name"`
	MaxConcurrentLeave int    `json:"maxConcurrentLeave"`
	TotalDaysTaken     int    `json:"totalDaysTaken"` // sum of APPROVED daysTaken
	OnLeaveToday       int    `json:"onLeaveToday"`
}

// DepartmentStat adds today's utilisation of the quota, rounded to 2 places.
type DepartmentStat struct {
	DepartmentOccupancy
	Utilization decimal.Decimal `json:"utilization"`
	AtCapacity  bool            `json:"atCapacity"`
}

// Reporter computes projections. "Today" is evaluated once per query as the
// calendar day in Location (server local time when nil).
type Reporter struct {
	Store    Reader
	Clock    func() time.Time
	Location *time.Location
}

func NewReporter(store Reader, loc *time.Location) *Reporter {
	return &Reporter{Store: store, Clock: time.Now, Location: loc}
}

// Today is the fixed day a single query evaluates against.
func (r *Reporter) Today() generic.TimePoint {
	return generic.TodayIn(r.Clock(), r.Location)
}

// Overview returns the dashboard summary. Approvers only.
func (r *Reporter) Overview(ctx context.Context, actor Actor) (Overview, error) {
	if !actor.IsApprover() {
		return Overview{}, forbidden("only approvers can view reports")
	}
	ov, err := r.Store.Overview(ctx, r.Today())
	if err != nil {
		return Overview{}, err
	}
	if ov.RequestsByDepartment == nil {
		ov.RequestsByDepartment = []DepartmentCount{}
	}
	return ov, nil
}

// DepartmentStats returns per-department approved days and today's
// occupancy against quota. Approvers only.
func (r *Reporter) DepartmentStats(ctx context.Context, actor Actor) ([]DepartmentStat, error) {
	if !actor.IsApprover() {
		return nil, forbidden("only approvers can view reports")
	}
	rows, err := r.Store.DepartmentOccupancy(ctx, r.Today())
	if err != nil {
		return nil, err
	}

	stats := make([]DepartmentStat, len(rows))
	for i, row := range rows {
		stats[i] = DepartmentStat{
			DepartmentOccupancy: row,
			Utilization:         Utilization(row.OnLeaveToday, row.MaxConcurrentLeave),
			AtCapacity:          row.MaxConcurrentLeave > 0 && row.OnLeaveToday >= row.MaxConcurrentLeave,
		}
	}
	return stats, nil
}

// Utilization is onLeave / quota rounded to 2 decimal places; zero when the
// quota is zero.
func Utilization(onLeave, quota int) decimal.Decimal {
	if quota <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(onLeave)).Div(decimal.NewFromInt(int64(quota))).Round(2)
}
