package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
)

func newMockStore(t *testing.T) (*sqlite.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlite.NewWithDB(db, zap.NewNop()), mock
}

func TestWithTx_QueryError_RollsBack(t *testing.T) {
	// GIVEN: The request lookup fails inside the transaction
	// WHEN: A review runs
	// THEN: The transaction is rolled back and the error surfaces

	store, mock := newMockStore(t)
	svc := leave.NewService(store, leave.WithLogger(zap.NewNop()))
	approver := leave.Actor{ID: "hr-1", Role: leave.RoleApprover}

	mock.ExpectBegin()
	mock.ExpectQuery("FROM leave_requests r WHERE r.id = \\?").
		WithArgs("req-1").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := svc.Review(context.Background(), approver, "req-1", leave.StatusApproved, "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.Equal(t, leave.CodeInternal, leave.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitError_Surfaces(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	svc := leave.NewService(store, leave.WithLogger(zap.NewNop()),
		leave.WithClock(func() time.Time { return now }))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE employees SET remaining_leave = \\?").
		WithArgs(12, leave.RoleEmployee).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO balance_resets").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	_, err := svc.ResetAnnualBalances(context.Background(), leave.SystemActor, 12)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to commit transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendLedgerEntry_UniqueViolation_IsConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx leave.Tx) error {
		return tx.AppendLedgerEntry(context.Background(), leave.LedgerEntry{
			ID: "e1", EmployeeID: "emp-1", RequestID: "req-1", Kind: leave.EntryDebit,
			IdempotencyKey: leave.IdempotencyKey("req-1", leave.EntryDebit),
		})
	})

	assert.ErrorIs(t, err, leave.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockDepartment_MissingRow_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE departments").
		WithArgs("dept-x").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx leave.Tx) error {
		_, err := tx.LockDepartment(context.Background(), "dept-x")
		return err
	})

	assert.ErrorIs(t, err, leave.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
