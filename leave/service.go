package leave

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// SERVICE - The leave-request state machine
// =============================================================================

// Service owns the request lifecycle. Every transition runs in one
// Store.WithTx call spanning: read current status, read/write balance, read
// the overlap count, write the new status. Input and authorization checks
// happen before the transaction is opened.
type Service struct {
	store     Store
	ledger    *BalanceLedger
	admission AdmissionControl
	logger    *zap.Logger

	now            func() time.Time
	newID          func() string
	initialBalance int
}

type Option func(*Service)

// WithClock overrides time.Now, used for CreatedAt/UpdatedAt stamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.newID = fn } }

// WithInitialBalance sets the entitlement of newly registered employees.
func WithInitialBalance(days int) Option { return func(s *Service) { s.initialBalance = days } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:          store,
		now:            time.Now,
		newID:          uuid.NewString,
		initialBalance: DefaultInitialBalance,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.L().Named("leave.service")
	}
	s.ledger = NewBalanceLedger(s.now, s.newID)
	return s
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitInput is a new leave request. DaysTaken is optional; when present it
// must equal the inclusive day count of [StartDate, EndDate].
type SubmitInput struct {
	LeaveType LeaveType
	StartDate generic.TimePoint
	EndDate   generic.TimePoint
	DaysTaken *int
	Reason    string
	ProofURL  string
}

func (in SubmitInput) validate() (generic.Period, error) {
	if !in.LeaveType.Valid() {
		return generic.Period{}, invalid("leaveType", "must be one of ANNUAL, SICK, MATERNITY")
	}
	if in.StartDate.IsZero() {
		return generic.Period{}, invalid("startDate", "required")
	}
	if in.EndDate.IsZero() {
		return generic.Period{}, invalid("endDate", "required")
	}
	p, err := generic.NewPeriod(in.StartDate, in.EndDate)
	if err != nil {
		return generic.Period{}, invalid("endDate", "must not be before startDate")
	}
	if in.DaysTaken != nil && *in.DaysTaken != p.DayCount() {
		return generic.Period{}, invalid("daysTaken", "must equal the inclusive number of days between startDate and endDate")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return generic.Period{}, invalid("reason", "required")
	}
	if in.LeaveType.RequiresProof() && strings.TrimSpace(in.ProofURL) == "" {
		return generic.Period{}, ErrProofRequired
	}
	return p, nil
}

// Submit creates a PENDING request for the calling employee. ANNUAL requests
// need enough balance to cover them and every request needs room in the
// department quota; neither touches the ledger yet.
func (s *Service) Submit(ctx context.Context, actor Actor, in SubmitInput) (*Request, error) {
	if actor.Role != RoleEmployee || actor.ID == "" {
		return nil, forbidden("only employees can submit leave requests")
	}
	period, err := in.validate()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	req := Request{
		ID:         s.newID(),
		EmployeeID: actor.ID,
		LeaveType:  in.LeaveType,
		Period:     period,
		DaysTaken:  period.DayCount(),
		Reason:     strings.TrimSpace(in.Reason),
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.LeaveType.RequiresProof() {
		req.ProofURL = strings.TrimSpace(in.ProofURL)
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		emp, err := tx.Employee(ctx, actor.ID)
		if err != nil {
			return err
		}
		if emp.Role != RoleEmployee {
			return forbidden("only employees can submit leave requests")
		}
		if emp.DepartmentID == "" {
			return invalid("departmentId", "employee is not assigned to a department")
		}
		req.DepartmentID = emp.DepartmentID

		if err := checkBalance(emp, &req); err != nil {
			return err
		}
		if err := s.admission.Admit(ctx, tx, req.DepartmentID, req.Period, ""); err != nil {
			return err
		}
		return tx.InsertRequest(ctx, req)
	})
	if err != nil {
		s.logRejection("submit rejected", err, zap.String("employee_id", actor.ID),
			zap.String("leave_type", string(in.LeaveType)))
		return nil, err
	}

	s.logger.Info("leave request submitted",
		zap.String("request_id", req.ID),
		zap.String("employee_id", req.EmployeeID),
		zap.String("department_id", req.DepartmentID),
		zap.String("period", req.Period.String()),
		zap.Int("days", req.DaysTaken))
	return &req, nil
}

// =============================================================================
// REVIEW
// =============================================================================

// Review applies an approver's decision. Approving re-runs the balance check
// and admission control inside the transaction; moving into APPROVED debits
// ANNUAL leave and moving out of it credits it back. Repeating the status a
// request already has is a no-op and returns the request unchanged.
func (s *Service) Review(ctx context.Context, actor Actor, requestID string, decision Status, comment string) (*Request, error) {
	if !actor.IsApprover() || actor.ID == "" {
		return nil, forbidden("only approvers can review leave requests")
	}
	if requestID == "" {
		return nil, invalid("requestId", "required")
	}
	if !validDecision(decision) {
		return nil, invalid("decision", "must be APPROVED, REJECTED or CANCELLED")
	}

	var (
		result Request
		step   Step
		entry  *LedgerEntry
	)
	err := s.store.WithTx(ctx, func(tx Tx) error {
		req, err := tx.Request(ctx, requestID)
		if err != nil {
			return err
		}

		step, err = Resolve(req.ID, req.Status, decision, TriggerReview)
		if err != nil {
			return err
		}
		if step.Noop {
			result = *req
			return nil
		}

		if step.To == StatusApproved {
			emp, err := tx.Employee(ctx, req.EmployeeID)
			if err != nil {
				return err
			}
			if err := checkBalance(emp, req); err != nil {
				return err
			}
			if err := s.admission.Admit(ctx, tx, req.DepartmentID, req.Period, req.ID); err != nil {
				return err
			}
		}

		req.Status = decision
		req.ReviewerID = actor.ID
		req.ReviewerComment = comment
		req.UpdatedAt = s.now().UTC()
		if err := tx.UpdateRequestStatus(ctx, *req, step.From); err != nil {
			return err
		}

		entry, err = s.ledger.Apply(ctx, tx, req, step, actor.ID)
		if err != nil {
			return err
		}
		result = *req
		return nil
	})
	if err != nil {
		s.logRejection("review rejected", err, zap.String("request_id", requestID),
			zap.String("decision", string(decision)), zap.String("reviewer_id", actor.ID))
		return nil, err
	}

	if step.Noop {
		s.logger.Debug("review is a no-op", zap.String("request_id", requestID), zap.String("status", string(decision)))
		return &result, nil
	}

	fields := []zap.Field{
		zap.String("request_id", result.ID),
		zap.String("from", string(step.From)),
		zap.String("to", string(step.To)),
		zap.String("reviewer_id", actor.ID),
	}
	if entry != nil {
		fields = append(fields, zap.String("ledger", string(entry.Kind)), zap.Int("balance_after", entry.BalanceAfter))
	}
	s.logger.Info("leave request reviewed", fields...)
	return &result, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel withdraws the caller's own PENDING request. Anything else, including
// another employee's request, is an invalid transition.
func (s *Service) Cancel(ctx context.Context, actor Actor, requestID string) (*Request, error) {
	if actor.ID == "" {
		return nil, forbidden("anonymous callers cannot cancel requests")
	}
	if requestID == "" {
		return nil, invalid("requestId", "required")
	}

	var result Request
	err := s.store.WithTx(ctx, func(tx Tx) error {
		req, err := tx.Request(ctx, requestID)
		if err != nil {
			return err
		}
		if req.EmployeeID != actor.ID {
			return &TransitionError{RequestID: req.ID, From: req.Status, To: StatusCancelled,
				Reason: "request belongs to another employee"}
		}

		step, err := Resolve(req.ID, req.Status, StatusCancelled, TriggerCancel)
		if err != nil {
			return err
		}

		req.Status = StatusCancelled
		req.UpdatedAt = s.now().UTC()
		if err := tx.UpdateRequestStatus(ctx, *req, step.From); err != nil {
			return err
		}
		if _, err := s.ledger.Apply(ctx, tx, req, step, actor.ID); err != nil {
			return err
		}
		result = *req
		return nil
	})
	if err != nil {
		s.logRejection("cancel rejected", err, zap.String("request_id", requestID), zap.String("employee_id", actor.ID))
		return nil, err
	}

	s.logger.Info("leave request cancelled", zap.String("request_id", result.ID), zap.String("employee_id", actor.ID))
	return &result, nil
}

// =============================================================================
// BALANCE RESET - Maintenance, not a lifecycle transition
// =============================================================================

// ResetAnnualBalances overwrites the remaining leave of every employee with
// value and returns how many employees were updated.
func (s *Service) ResetAnnualBalances(ctx context.Context, actor Actor, value int) (int, error) {
	if !actor.IsApprover() {
		return 0, forbidden("only approvers can reset balances")
	}
	if value < 0 {
		return 0, invalid("value", "must not be negative")
	}

	now := s.now().UTC()
	var affected int
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		affected, err = tx.ResetBalances(ctx, value)
		if err != nil {
			return err
		}
		return tx.RecordBalanceReset(ctx, BalanceReset{
			ID: s.newID(), Year: now.Year(), Value: value, Affected: affected,
			Trigger: ResetManual, ActorID: actor.ID, CreatedAt: now,
		})
	})
	if err != nil {
		s.logger.Error("balance reset failed", zap.Error(err))
		return 0, err
	}

	s.logger.Info("balances reset", zap.Int("value", value), zap.Int("affected", affected), zap.String("actor_id", actor.ID))
	return affected, nil
}

var errAlreadyReset = errors.New("scheduled reset already recorded")

// RunScheduledReset resets balances once per calendar year, when the
// scheduler first sees a year later than the last one it recorded. The very
// first run only records year as a baseline, so enabling the scheduler
// mid-year does not refund leave already taken. ran is true only when
// balances were overwritten.
func (s *Service) RunScheduledReset(ctx context.Context, year, value int) (affected int, ran bool, err error) {
	if value < 0 {
		return 0, false, invalid("value", "must not be negative")
	}

	baseline := false
	err = s.store.WithTx(ctx, func(tx Tx) error {
		last, found, err := tx.LastYearlyReset(ctx)
		if err != nil {
			return err
		}
		if found && year <= last {
			return errAlreadyReset
		}

		record := BalanceReset{
			ID: s.newID(), Year: year, Value: value,
			Trigger: ResetScheduled, ActorID: SystemActor.ID, CreatedAt: s.now().UTC(),
		}
		if !found {
			baseline = true
			record.Trigger = ResetBaseline
		} else {
			n, err := tx.ResetBalances(ctx, value)
			if err != nil {
				return err
			}
			record.Affected = n
		}

		err = tx.RecordBalanceReset(ctx, record)
		if errors.Is(err, ErrConflict) {
			return errAlreadyReset
		}
		if err != nil {
			return err
		}
		affected = record.Affected
		return nil
	})
	if errors.Is(err, errAlreadyReset) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	if baseline {
		s.logger.Info("scheduled reset baseline recorded", zap.Int("year", year))
		return 0, false, nil
	}
	s.logger.Info("scheduled balance reset", zap.Int("year", year), zap.Int("affected", affected))
	return affected, true, nil
}

// =============================================================================
// LISTINGS
// =============================================================================

// ListRequests pages through all requests, newest first. Approvers only.
func (s *Service) ListRequests(ctx context.Context, actor Actor, f RequestFilter) (Page, error) {
	if !actor.IsApprover() {
		return Page{}, forbidden("only approvers can list all requests")
	}
	if strings.EqualFold(string(f.Status), "ALL") {
		f.Status = ""
	}
	if f.Status != "" && !f.Status.Valid() {
		return Page{}, invalid("status", "unknown status "+string(f.Status))
	}
	f.Search = strings.TrimSpace(f.Search)
	return s.page(ctx, normalizePaging(f, DefaultPageSize))
}

// ListMyHistory pages through the caller's own requests, newest first.
func (s *Service) ListMyHistory(ctx context.Context, actor Actor, page, pageSize int) (Page, error) {
	if actor.ID == "" {
		return Page{}, forbidden("anonymous callers have no history")
	}
	f := RequestFilter{EmployeeID: actor.ID, Page: page, PageSize: pageSize}
	return s.page(ctx, normalizePaging(f, DefaultHistorySize))
}

func (s *Service) page(ctx context.Context, f RequestFilter) (Page, error) {
	items, total, err := s.store.ListRequests(ctx, f)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []RequestView{}
	}
	return Page{Items: items, TotalCount: total, Page: f.Page, PageSize: f.PageSize}, nil
}

func normalizePaging(f RequestFilter, defaultSize int) RequestFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

// LedgerEntries returns an employee's balance journal. Employees may only
// read their own.
func (s *Service) LedgerEntries(ctx context.Context, actor Actor, employeeID string) ([]LedgerEntry, error) {
	if !actor.IsApprover() && actor.ID != employeeID {
		return nil, forbidden("cannot read another employee's ledger")
	}
	if _, err := s.store.GetEmployee(ctx, employeeID); err != nil {
		return nil, err
	}
	return s.store.LedgerEntries(ctx, employeeID)
}

// logRejection logs client errors quietly and infrastructure errors loudly.
func (s *Service) logRejection(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if IsClientError(err) {
		s.logger.Debug(msg, append(fields, zap.String("code", Code(err)))...)
		return
	}
	s.logger.Error(msg, fields...)
}
