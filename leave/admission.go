package leave

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// QUOTA ADMISSION CONTROL
// =============================================================================

// AdmissionControl decides whether one more request may hold APPROVED leave
// over a period in a department without breaching MaxConcurrentLeave.
//
// It counts existing APPROVED requests of the department whose period
// overlaps the candidate (s1 <= e2 AND s2 <= e1). If the count already meets
// the quota the candidate is refused. The count is a property of the whole
// period rather than of each day, so two approved requests that overlap the
// candidate on different days still count as two.
//
// Admit must be called inside the transaction that writes the status it
// guards. It claims the department via Tx.LockDepartment first so two
// approvals for the same department cannot both read the old count.
type AdmissionControl struct{}

// Admit returns a *QuotaExceededError when the department is full for p.
// excludeRequestID lets an approval ignore the request being approved.
func (AdmissionControl) Admit(ctx context.Context, tx Tx, departmentID string, p generic.Period, excludeRequestID string) error {
	dept, err := tx.LockDepartment(ctx, departmentID)
	if err != nil {
		return err
	}

	overlapping, err := tx.CountApprovedOverlapping(ctx, departmentID, p, excludeRequestID)
	if err != nil {
		return err
	}

	if overlapping >= dept.MaxConcurrentLeave {
		return &QuotaExceededError{
			DepartmentID: departmentID,
			Period:       p,
			Overlapping:  overlapping,
			Max:          dept.MaxConcurrentLeave,
		}
	}
	return nil
}

// checkBalance refuses an ANNUAL request the employee cannot cover.
func checkBalance(emp *Employee, r *Request) error {
	if !r.LeaveType.ConsumesBalance() {
		return nil
	}
	if emp.RemainingLeave < r.DaysTaken {
		return &InsufficientBalanceError{
			EmployeeID: emp.ID,
			Available:  emp.RemainingLeave,
			Requested:  r.DaysTaken,
		}
	}
	return nil
}
