package leave

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// DefaultDepartments is the organisation a fresh install starts with.
var DefaultDepartments = []Department{
	{Name: "Engineering", MaxConcurrentLeave: 2},
	{Name: "Marketing", MaxConcurrentLeave: 3},
	{Name: "Sales", MaxConcurrentLeave: 4},
	{Name: "Finance", MaxConcurrentLeave: 2},
	{Name: "Operations", MaxConcurrentLeave: 5},
	{Name: "Human Resources", MaxConcurrentLeave: 2},
}

// DefaultApproverEmail is the seeded HR account.
const DefaultApproverEmail = "hr@company.com"

// Seed creates the default departments and the HR approver if they do not
// exist yet. Running it twice changes nothing.
func (s *Service) Seed(ctx context.Context) (created int, err error) {
	now := s.now().UTC()
	err = s.store.WithTx(ctx, func(tx Tx) error {
		created = 0
		for _, d := range DefaultDepartments {
			_, err := tx.DepartmentByName(ctx, d.Name)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			d.ID = s.newID()
			d.CreatedAt = now
			if err := tx.InsertDepartment(ctx, d); err != nil {
				return err
			}
			created++
		}

		_, err := tx.EmployeeByEmail(ctx, DefaultApproverEmail)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		created++
		return tx.InsertEmployee(ctx, Employee{
			ID:        s.newID(),
			FullName:  "HR Manager",
			Email:     DefaultApproverEmail,
			Role:      RoleApprover,
			CreatedAt: now,
		})
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("seed complete", zap.Int("created", created))
	return created, nil
}
