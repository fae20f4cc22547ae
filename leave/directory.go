package leave

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// DIRECTORY - Employees and departments
// =============================================================================

// RegisterInput creates an employee account.
type RegisterInput struct {
	FullName     string
	Email        string
	DepartmentID string
}

// RegisterEmployee creates an EMPLOYEE in an existing department with the
// initial annual balance. Emails are unique, compared case-insensitively.
func (s *Service) RegisterEmployee(ctx context.Context, in RegisterInput) (*Employee, error) {
	name := strings.TrimSpace(in.FullName)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if name == "" {
		return nil, invalid("fullName", "required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalid("email", "not a valid address")
	}
	if in.DepartmentID == "" {
		return nil, invalid("departmentId", "required")
	}

	emp := Employee{
		ID:             s.newID(),
		FullName:       name,
		Email:          email,
		Role:           RoleEmployee,
		DepartmentID:   in.DepartmentID,
		RemainingLeave: s.initialBalance,
		CreatedAt:      s.now().UTC(),
	}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.Department(ctx, in.DepartmentID); err != nil {
			return err
		}
		if err := ensureEmailFree(ctx, tx, email); err != nil {
			return err
		}
		return tx.InsertEmployee(ctx, emp)
	})
	if err != nil {
		s.logRejection("registration rejected", err, zap.String("email", email))
		return nil, err
	}

	s.logger.Info("employee registered", zap.String("employee_id", emp.ID), zap.String("department_id", emp.DepartmentID))
	return &emp, nil
}

// CreateApprover adds an approver account. Approvers belong to no department
// and have no leave balance of their own.
func (s *Service) CreateApprover(ctx context.Context, actor Actor, fullName, email string) (*Employee, error) {
	if !actor.IsApprover() {
		return nil, forbidden("only approvers can create approvers")
	}
	name := strings.TrimSpace(fullName)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return nil, invalid("fullName", "required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalid("email", "not a valid address")
	}

	emp := Employee{ID: s.newID(), FullName: name, Email: email, Role: RoleApprover, CreatedAt: s.now().UTC()}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := ensureEmailFree(ctx, tx, email); err != nil {
			return err
		}
		return tx.InsertEmployee(ctx, emp)
	})
	if err != nil {
		return nil, err
	}
	return &emp, nil
}

func ensureEmailFree(ctx context.Context, tx Tx, email string) error {
	_, err := tx.EmployeeByEmail(ctx, email)
	switch {
	case err == nil:
		return &conflictError{what: "email " + email + " is already registered"}
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return err
	}
}

// GetEmployee returns an employee. Employees may only read themselves.
func (s *Service) GetEmployee(ctx context.Context, actor Actor, id string) (*Employee, error) {
	if !actor.IsApprover() && actor.ID != id {
		return nil, forbidden("cannot read another employee")
	}
	return s.store.GetEmployee(ctx, id)
}

// EmployeeByEmail looks an account up by email, case-insensitively. It is
// an operator lookup with no caller to authorise, used to mint tokens for
// accounts that cannot register themselves, such as the seeded approver.
func (s *Service) EmployeeByEmail(ctx context.Context, email string) (*Employee, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, invalid("email", "required")
	}
	var emp *Employee
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		emp, err = tx.EmployeeByEmail(ctx, email)
		return err
	})
	if err != nil {
		return nil, err
	}
	return emp, nil
}

// ListDepartments returns every department ordered by name.
func (s *Service) ListDepartments(ctx context.Context) ([]Department, error) {
	depts, err := s.store.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}
	if depts == nil {
		depts = []Department{}
	}
	return depts, nil
}

// CreateDepartment adds a department with a positive quota.
func (s *Service) CreateDepartment(ctx context.Context, actor Actor, name string, quota int) (*Department, error) {
	if !actor.IsApprover() {
		return nil, forbidden("only approvers can create departments")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", "required")
	}
	if quota < 1 {
		return nil, invalid("maxConcurrentLeave", "must be a positive integer")
	}

	dept := Department{ID: s.newID(), Name: name, MaxConcurrentLeave: quota, CreatedAt: s.now().UTC()}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		_, err := tx.DepartmentByName(ctx, name)
		switch {
		case err == nil:
			return &conflictError{what: "department " + name + " already exists"}
		case !errors.Is(err, ErrNotFound):
			return err
		}
		return tx.InsertDepartment(ctx, dept)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("department created", zap.String("department_id", dept.ID), zap.Int("quota", quota))
	return &dept, nil
}

// UpdateDepartmentQuota changes MaxConcurrentLeave. Approvals already granted
// are left as they are even if they now exceed the new quota.
func (s *Service) UpdateDepartmentQuota(ctx context.Context, actor Actor, id string, quota int) (*Department, error) {
	if !actor.IsApprover() {
		return nil, forbidden("only approvers can change quotas")
	}
	if quota < 1 {
		return nil, invalid("maxConcurrentLeave", "must be a positive integer")
	}

	var dept *Department
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.UpdateDepartmentQuota(ctx, id, quota); err != nil {
			return err
		}
		var err error
		dept, err = tx.Department(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("department quota updated", zap.String("department_id", id), zap.Int("quota", quota))
	return dept, nil
}

type conflictError struct{ what string }

func (e *conflictError) Error() string { return e.what }
func (e *conflictError) Unwrap() error { return ErrConflict }
