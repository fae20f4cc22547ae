/*
handlers_test.go - HTTP tests for the leave API

Tests for:
- Registration and token authentication
- Submit / review / cancel through the router
- Error code to HTTP status mapping
- Listings, reports and balance reset
- Proof uploads
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type apiEnv struct {
	t             *testing.T
	router        http.Handler
	handler       *Handler
	svc           *leave.Service
	approverToken string
	dept          *leave.Department
}

func newAPIEnv(t *testing.T, quota int) *apiEnv {
	return newAPIEnvWith(t, quota, RouterOptions{})
}

func newAPIEnvWith(t *testing.T, quota int, opts RouterOptions) *apiEnv {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	store := memory.New()
	svc := leave.NewService(store, leave.WithLogger(logger))
	reporter := leave.NewReporter(store, time.UTC)
	auth := NewAuthenticator("test-secret", "leave-engine")

	approver, err := svc.CreateApprover(ctx, leave.SystemActor, "HR Manager", "hr@example.com")
	require.NoError(t, err)
	approverActor := leave.Actor{ID: approver.ID, Role: leave.RoleApprover}
	token, err := auth.Issue(approverActor, time.Hour)
	require.NoError(t, err)

	dept, err := svc.CreateDepartment(ctx, approverActor, "Engineering", quota)
	require.NoError(t, err)

	h := NewHandler(svc, reporter, auth, logger)
	opts.Logger = logger
	return &apiEnv{
		t:             t,
		router:        NewRouter(h, opts),
		handler:       h,
		svc:           svc,
		approverToken: token,
		dept:          dept,
	}
}

func (e *apiEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// register creates an employee through the API and returns its id and token.
func (e *apiEnv) register(name string) (string, string) {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/auth/register", "", RegisterRequest{
		FullName:     name,
		Email:        strings.ToLower(name) + "@example.com",
		DepartmentID: e.dept.ID,
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp RegisterResponse
	decodeBody(e.t, rec, &resp)
	return resp.Employee.ID, resp.Token
}

func (e *apiEnv) submit(token, start, end string) LeaveRequestDTO {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/leave-requests", token, map[string]any{
		"leaveType": "ANNUAL",
		"startDate": start,
		"endDate":   end,
		"reason":    "family trip",
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	var dto LeaveRequestDTO
	decodeBody(e.t, rec, &dto)
	return dto
}

func (e *apiEnv) review(id, status string) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, "/api/leave-requests/"+id+"/review", e.approverToken,
		ReviewRequest{Status: status, Comment: "ok"})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	return resp.Code
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestRegisterIssuesUsableToken(t *testing.T) {
	// GIVEN: A department
	env := newAPIEnv(t, 2)

	// WHEN: An employee registers and calls /api/me with the returned token
	id, token := env.register("Alice")
	rec := env.do(http.MethodGet, "/api/me", token, nil)

	// THEN: The account is returned with the default entitlement
	require.Equal(t, http.StatusOK, rec.Code)
	var emp leave.Employee
	decodeBody(t, rec, &emp)
	assert.Equal(t, id, emp.ID)
	assert.Equal(t, leave.RoleEmployee, emp.Role)
	assert.Equal(t, env.dept.ID, emp.DepartmentID)
	assert.Equal(t, leave.DefaultInitialBalance, emp.RemainingLeave)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newAPIEnv(t, 2)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, CodeUnauthorized, errorCode(t, rec))
		})
	}
}

func TestPublicRoutes(t *testing.T) {
	env := newAPIEnv(t, 2)

	rec := env.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/departments", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var depts []leave.Department
	decodeBody(t, rec, &depts)
	require.Len(t, depts, 1)
	assert.Equal(t, "Engineering", depts[0].Name)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestSubmitApproveReverse(t *testing.T) {
	// GIVEN: An employee with a pending 3-day annual request
	env := newAPIEnv(t, 2)
	empID, token := env.register("Alice")
	created := env.submit(token, "2025-03-10", "2025-03-12")
	assert.Equal(t, "PENDING", created.Status)
	assert.Equal(t, 3, created.DaysTaken)
	assert.Equal(t, "2025-03-10", created.StartDate)

	// WHEN: The approver approves it
	rec := env.review(created.ID, "APPROVED")

	// THEN: The balance is debited
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var approved LeaveRequestDTO
	decodeBody(t, rec, &approved)
	assert.Equal(t, "APPROVED", approved.Status)
	assert.Equal(t, "ok", approved.ReviewerComment)

	rec = env.do(http.MethodGet, "/api/employees/"+empID, env.approverToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var emp leave.Employee
	decodeBody(t, rec, &emp)
	assert.Equal(t, 9, emp.RemainingLeave)

	// WHEN: The approval is reversed
	rec = env.review(created.ID, "REJECTED")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: The journal shows the credit on top of the debit
	rec = env.do(http.MethodGet, "/api/employees/"+empID+"/ledger", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []leave.LedgerEntry
	decodeBody(t, rec, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, leave.EntryCredit, entries[0].Kind)
	assert.Equal(t, 12, entries[0].BalanceAfter)
	assert.Equal(t, leave.EntryDebit, entries[1].Kind)
	assert.Equal(t, 9, entries[1].BalanceAfter)
}

func TestCancelOwnPendingRequest(t *testing.T) {
	env := newAPIEnv(t, 2)
	_, alice := env.register("Alice")
	_, bob := env.register("Bob")
	created := env.submit(alice, "2025-03-10", "2025-03-10")

	// Another employee cannot cancel it
	rec := env.do(http.MethodPost, "/api/leave-requests/"+created.ID+"/cancel", bob, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, leave.CodeInvalidTransition, errorCode(t, rec))

	rec = env.do(http.MethodPost, "/api/leave-requests/"+created.ID+"/cancel", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dto LeaveRequestDTO
	decodeBody(t, rec, &dto)
	assert.Equal(t, "CANCELLED", dto.Status)
}

// =============================================================================
// STATUS MAPPING
// =============================================================================

func TestErrorStatusMapping(t *testing.T) {
	env := newAPIEnv(t, 1)
	_, alice := env.register("Alice")
	_, bob := env.register("Bob")

	approved := env.submit(alice, "2025-03-10", "2025-03-12")
	require.Equal(t, http.StatusOK, env.review(approved.ID, "APPROVED").Code)
	rejected := env.submit(alice, "2025-04-01", "2025-04-01")
	require.Equal(t, http.StatusOK, env.review(rejected.ID, "REJECTED").Code)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{
			name: "unknown field", method: http.MethodPost, path: "/api/leave-requests", token: bob,
			body:   map[string]any{"leaveType": "ANNUAL", "startDate": "2025-05-01", "endDate": "2025-05-01", "reason": "x", "extra": 1},
			status: http.StatusBadRequest, code: leave.CodeInvalidInput,
		},
		{
			name: "bad leave type", method: http.MethodPost, path: "/api/leave-requests", token: bob,
			body:   map[string]any{"leaveType": "UNPAID", "startDate": "2025-05-01", "endDate": "2025-05-01", "reason": "x"},
			status: http.StatusBadRequest, code: leave.CodeInvalidInput,
		},
		{
			name: "bad date", method: http.MethodPost, path: "/api/leave-requests", token: bob,
			body:   map[string]any{"leaveType": "ANNUAL", "startDate": "05/01/2025", "endDate": "2025-05-01", "reason": "x"},
			status: http.StatusBadRequest, code: leave.CodeInvalidInput,
		},
		{
			name: "end before start", method: http.MethodPost, path: "/api/leave-requests", token: bob,
			body:   map[string]any{"leaveType": "ANNUAL", "startDate": "2025-05-02", "endDate": "2025-05-01", "reason": "x"},
			status: http.StatusBadRequest, code: leave.CodeInvalidInput,
		},
		{
			name: "sick without proof", method: http.MethodPost, path: "/api/leave-requests", token: bob,
			body:   map[string]any{"leaveType": "SICK", "startDate": "2025-05-01", "endDate": "2025-05-01", "reason": "flu"},
			status: http.StatusBadRequest, code: leave.CodeProofRequired,
		},
		{
			name: "balance exceeded", method: http.MethodPost, path: "/api/leave-requests", token: bob,
			body:   map[string]any{"leaveType": "ANNUAL", "startDate": "2025-06-01", "endDate": "2025-06-20", "reason": "long trip"},
			status: http.StatusUnprocessableEntity, code: leave.CodeInsufficientBalance,
		},
		{
			name: "quota exceeded", method: http.MethodPost, path: "/api/leave-requests", token: bob,
			body:   map[string]any{"leaveType": "ANNUAL", "startDate": "2025-03-11", "endDate": "2025-03-11", "reason": "overlap"},
			status: http.StatusUnprocessableEntity, code: leave.CodeQuotaExceeded,
		},
		{
			name: "approver cannot submit", method: http.MethodPost, path: "/api/leave-requests", token: env.approverToken,
			body:   map[string]any{"leaveType": "ANNUAL", "startDate": "2025-05-01", "endDate": "2025-05-01", "reason": "x"},
			status: http.StatusForbidden, code: leave.CodeForbidden,
		},
		{
			name: "employee cannot review", method: http.MethodPost, path: "/api/leave-requests/" + approved.ID + "/review", token: bob,
			body:   ReviewRequest{Status: "REJECTED"},
			status: http.StatusForbidden, code: leave.CodeForbidden,
		},
		{
			name: "review to pending", method: http.MethodPost, path: "/api/leave-requests/" + approved.ID + "/review", token: env.approverToken,
			body:   ReviewRequest{Status: "PENDING"},
			status: http.StatusBadRequest, code: leave.CodeInvalidInput,
		},
		{
			name: "unknown request", method: http.MethodPost, path: "/api/leave-requests/missing/review", token: env.approverToken,
			body:   ReviewRequest{Status: "APPROVED"},
			status: http.StatusNotFound, code: leave.CodeNotFound,
		},
		{
			name: "terminal request", method: http.MethodPost, path: "/api/leave-requests/" + rejected.ID + "/review", token: env.approverToken,
			body:   ReviewRequest{Status: "APPROVED"},
			status: http.StatusConflict, code: leave.CodeInvalidTransition,
		},
		{
			name: "duplicate department", method: http.MethodPost, path: "/api/departments", token: env.approverToken,
			body:   CreateDepartmentRequest{Name: "engineering", MaxConcurrentLeave: 2},
			status: http.StatusConflict, code: leave.CodeConflict,
		},
		{
			name: "employee lists all", method: http.MethodGet, path: "/api/leave-requests", token: bob,
			status: http.StatusForbidden, code: leave.CodeForbidden,
		},
		{
			name: "bad page", method: http.MethodGet, path: "/api/leave-requests?page=x", token: env.approverToken,
			status: http.StatusBadRequest, code: leave.CodeInvalidInput,
		},
		{
			name: "unknown status filter", method: http.MethodGet, path: "/api/leave-requests?status=archived", token: env.approverToken,
			status: http.StatusBadRequest, code: leave.CodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestValidationDetailsUseJSONNames(t *testing.T) {
	env := newAPIEnv(t, 2)

	rec := env.do(http.MethodPost, "/api/auth/register", "", map[string]any{
		"fullName": "Alice", "email": "not-an-email", "departmentId": env.dept.ID,
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, leave.CodeInvalidInput, resp.Code)
	assert.Equal(t, "email", resp.Details["email"])
}

func TestQuotaErrorCarriesDetails(t *testing.T) {
	env := newAPIEnv(t, 1)
	_, alice := env.register("Alice")
	_, bob := env.register("Bob")
	first := env.submit(alice, "2025-03-10", "2025-03-12")
	require.Equal(t, http.StatusOK, env.review(first.ID, "APPROVED").Code)

	second := env.submit(bob, "2025-03-14", "2025-03-15")
	require.Equal(t, http.StatusOK, env.review(second.ID, "APPROVED").Code)

	rec := env.do(http.MethodPost, "/api/leave-requests", bob, map[string]any{
		"leaveType": "ANNUAL", "startDate": "2025-03-12", "endDate": "2025-03-12", "reason": "x",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp struct {
		Details map[string]any `json:"details"`
	}
	decodeBody(t, rec, &resp)
	assert.EqualValues(t, 1, resp.Details["overlapping"])
	assert.EqualValues(t, 1, resp.Details["max"])
}

// =============================================================================
// LISTINGS
// =============================================================================

func TestListLeaveRequests(t *testing.T) {
	env := newAPIEnv(t, 5)
	_, alice := env.register("Alice")
	_, bob := env.register("Bob")
	a := env.submit(alice, "2025-03-10", "2025-03-10")
	env.submit(bob, "2025-03-11", "2025-03-11")
	require.Equal(t, http.StatusOK, env.review(a.ID, "APPROVED").Code)

	// All requests, newest first
	rec := env.do(http.MethodGet, "/api/leave-requests", env.approverToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page PageDTO
	decodeBody(t, rec, &page)
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, leave.DefaultPageSize, page.PageSize)

	// Filtered by status (case-insensitive) and searched by name
	rec = env.do(http.MethodGet, "/api/leave-requests?status=approved&search=ali", env.approverToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, a.ID, page.Items[0].ID)
	assert.Equal(t, "Alice", page.Items[0].EmployeeName)
	assert.Equal(t, "Engineering", page.Items[0].DepartmentName)
	assert.Equal(t, "HR Manager", page.Items[0].ReviewerName)
	require.NotNil(t, page.Items[0].EmployeeRemainingLeave)
	assert.Equal(t, 11, *page.Items[0].EmployeeRemainingLeave)

	// Paging
	rec = env.do(http.MethodGet, "/api/leave-requests?page=2&pageSize=1", env.approverToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &page)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 2, page.Page)
}

func TestMyLeaveRequests(t *testing.T) {
	env := newAPIEnv(t, 5)
	_, alice := env.register("Alice")
	_, bob := env.register("Bob")
	for day := 1; day <= 6; day++ {
		env.submit(alice, fmt.Sprintf("2025-05-%02d", day), fmt.Sprintf("2025-05-%02d", day))
	}
	env.submit(bob, "2025-05-01", "2025-05-01")

	rec := env.do(http.MethodGet, "/api/leave-requests/mine", alice, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page PageDTO
	decodeBody(t, rec, &page)
	assert.Equal(t, 6, page.TotalCount)
	assert.Len(t, page.Items, leave.DefaultHistorySize)
}

// =============================================================================
// ADMIN AND REPORTS
// =============================================================================

func TestResetBalances(t *testing.T) {
	env := newAPIEnv(t, 2)
	id, token := env.register("Alice")

	rec := env.do(http.MethodPost, "/api/admin/reset-balances", token, map[string]int{"toValue": 20})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPost, "/api/admin/reset-balances", env.approverToken, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/admin/reset-balances", env.approverToken, map[string]int{"toValue": 20})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ResetBalancesResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 1, resp.Affected)

	rec = env.do(http.MethodGet, "/api/employees/"+id, token, nil)
	var emp leave.Employee
	decodeBody(t, rec, &emp)
	assert.Equal(t, 20, emp.RemainingLeave)
}

func TestReports(t *testing.T) {
	env := newAPIEnv(t, 2)
	_, alice := env.register("Alice")
	env.submit(alice, "2025-03-10", "2025-03-10")

	rec := env.do(http.MethodGet, "/api/reports/overview", alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodGet, "/api/reports/overview", env.approverToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ov leave.Overview
	decodeBody(t, rec, &ov)
	assert.Equal(t, 1, ov.TotalEmployees)
	assert.Equal(t, 1, ov.TotalRequests)
	assert.Equal(t, 1, ov.PendingRequests)

	rec = env.do(http.MethodGet, "/api/reports/departments", env.approverToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats []map[string]any
	decodeBody(t, rec, &stats)
	require.Len(t, stats, 1)
	assert.Equal(t, "Engineering", stats[0]["name"])
	assert.Equal(t, "0", stats[0]["utilization"])
	assert.Equal(t, false, stats[0]["atCapacity"])
}

func TestDepartmentQuotaUpdate(t *testing.T) {
	env := newAPIEnv(t, 2)

	rec := env.do(http.MethodPut, "/api/departments/"+env.dept.ID+"/quota", env.approverToken,
		UpdateQuotaRequest{MaxConcurrentLeave: 4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dept leave.Department
	decodeBody(t, rec, &dept)
	assert.Equal(t, 4, dept.MaxConcurrentLeave)

	rec = env.do(http.MethodPut, "/api/departments/missing/quota", env.approverToken,
		UpdateQuotaRequest{MaxConcurrentLeave: 4})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// PROOF UPLOAD
// =============================================================================

type fakeUploader struct {
	filename string
	body     []byte
	err      error
}

func (f *fakeUploader) Upload(_ context.Context, r io.Reader, _ int64, filename, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.filename = filename
	f.body, _ = io.ReadAll(r)
	return "https://files.example.com/leave-proofs/proofs/" + filename, nil
}

func (e *apiEnv) upload(token, filename string, content []byte) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(e.t, err)
	_, err = part.Write(content)
	require.NoError(e.t, err)
	require.NoError(e.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads/proof", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestUploadProof(t *testing.T) {
	env := newAPIEnv(t, 2)
	_, alice := env.register("Alice")

	t.Run("not configured", func(t *testing.T) {
		rec := env.upload(alice, "note.pdf", []byte("%PDF"))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	uploader := &fakeUploader{}
	env.handler.Uploader = uploader
	env.handler.MaxUploadBytes = 16

	t.Run("approver forbidden", func(t *testing.T) {
		rec := env.upload(env.approverToken, "note.pdf", []byte("%PDF"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		rec := env.upload(alice, "note.exe", []byte("MZ"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		rec := env.upload(alice, "note.pdf", bytes.Repeat([]byte("a"), 17))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("uploaded", func(t *testing.T) {
		rec := env.upload(alice, "note.pdf", []byte("%PDF"))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var resp UploadResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, "https://files.example.com/leave-proofs/proofs/note.pdf", resp.URL)
		assert.Equal(t, "note.pdf", uploader.filename)
		assert.Equal(t, []byte("%PDF"), uploader.body)
	})

	t.Run("store failure is opaque", func(t *testing.T) {
		uploader.err = fmt.Errorf("bucket offline")
		rec := env.upload(alice, "note.pdf", []byte("%PDF"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "bucket offline")
	})
}

// =============================================================================
// RATE LIMITING
// =============================================================================

func TestRateLimiterPerCaller(t *testing.T) {
	env := newAPIEnvWith(t, 2, RouterOptions{RateLimiter: NewRateLimiter(0.001, 1)})
	_, alice := env.register("Alice")

	// The anonymous register call spent the IP bucket, not Alice's.
	rec := env.do(http.MethodGet, "/api/me", alice, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/me", alice, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, errorCode(t, rec))

	rec = env.do(http.MethodGet, "/api/me", env.approverToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_EvictsIdleCallers(t *testing.T) {
	// GIVEN: A limiter that has seen many one-off callers
	now := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 5)
	rl.now = func() time.Time { return now }
	rl.lastSweep = now
	for i := 0; i < 100; i++ {
		rl.limiter(fmt.Sprintf("ip:10.0.0.%d", i))
	}
	require.Len(t, rl.visitors, 100)

	// WHEN: One caller stays active past the idle window
	now = now.Add(30 * time.Second)
	active := rl.limiter("actor:alice")
	now = now.Add(rl.idle - 30*time.Second)
	assert.Same(t, active, rl.limiter("actor:alice"))

	// THEN: Only the active caller's bucket is kept
	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "actor:alice")
}
