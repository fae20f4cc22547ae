/*
handlers.go - HTTP handlers for the leave engine

PURPOSE:
  Exposes leave.Service and leave.Reporter over REST. Handlers decode and
  shape-check the body, take the caller from the request context and
  delegate; every business decision (authorization included) is made by
  the leave package.

ENDPOINTS:
  Directory:
    POST   /api/auth/register              Register an employee, returns a token
    GET    /api/departments                List departments
    POST   /api/departments                Create department (approver)
    PUT    /api/departments/{id}/quota     Change quota (approver)
    GET    /api/me                         Caller's own account
    GET    /api/employees/{id}             Employee (self or approver)
    GET    /api/employees/{id}/ledger      Balance journal (self or approver)

  Lifecycle:
    POST   /api/leave-requests             Submit (employee)
    GET    /api/leave-requests             List all (approver)
    GET    /api/leave-requests/mine        Own history
    POST   /api/leave-requests/{id}/review Approve / reject / reverse (approver)
    POST   /api/leave-requests/{id}/cancel Withdraw own pending request

  Admin and reports:
    POST   /api/admin/reset-balances       Bulk balance overwrite (approver)
    GET    /api/reports/overview           Dashboard counts (approver)
    GET    /api/reports/departments        Occupancy per department (approver)
    POST   /api/uploads/proof              Upload a proof document (employee)

ERROR HANDLING:
  leave.Code(err) picks the status:
  - 400: INVALID_INPUT, PROOF_REQUIRED
  - 401: missing or invalid token
  - 403: FORBIDDEN
  - 404: NOT_FOUND
  - 409: INVALID_TRANSITION, CONFLICT
  - 422: INSUFFICIENT_BALANCE, QUOTA_EXCEEDED
  - 500: anything else, with an opaque message

SEE ALSO:
  - dto.go: Request/response bodies
  - server.go: Router and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/proof"
)

// Transport-level codes that have no leave sentinel.
const (
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeRequestInProgress = "REQUEST_IN_PROGRESS"
	CodeKeyReused         = "IDEMPOTENCY_KEY_REUSED"
	CodeUnavailable       = "UNAVAILABLE"
)

// DefaultTokenTTL is the lifetime of tokens issued on registration.
const DefaultTokenTTL = 12 * time.Hour

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *leave.Service
	Reporter *leave.Reporter
	Auth     *Authenticator

	// Uploader is nil when no object store is configured.
	Uploader       proof.Uploader
	MaxUploadBytes int64
	TokenTTL       time.Duration

	logger   *zap.Logger
	validate *validator.Validate
	reports  singleflight.Group
}

func NewHandler(svc *leave.Service, reporter *leave.Reporter, auth *Authenticator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.L().Named("api.http")
	}
	return &Handler{
		Service:        svc,
		Reporter:       reporter,
		Auth:           auth,
		MaxUploadBytes: 5 << 20,
		TokenTTL:       DefaultTokenTTL,
		logger:         logger,
		validate:       newValidator(),
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// DIRECTORY
// =============================================================================

// Register creates an employee and returns a token for it.
// POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	emp, err := h.Service.RegisterEmployee(r.Context(), leave.RegisterInput{
		FullName:     req.FullName,
		Email:        req.Email,
		DepartmentID: req.DepartmentID,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	token, err := h.Auth.Issue(leave.Actor{ID: emp.ID, Role: emp.Role, DepartmentID: emp.DepartmentID}, h.TokenTTL)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterResponse{Employee: emp, Token: token})
}

// GET /api/departments
func (h *Handler) ListDepartments(w http.ResponseWriter, r *http.Request) {
	depts, err := h.Service.ListDepartments(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, depts)
}

// POST /api/departments
func (h *Handler) CreateDepartment(w http.ResponseWriter, r *http.Request) {
	var req CreateDepartmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	dept, err := h.Service.CreateDepartment(r.Context(), actorOf(r), req.Name, req.MaxConcurrentLeave)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dept)
}

// PUT /api/departments/{id}/quota
func (h *Handler) UpdateDepartmentQuota(w http.ResponseWriter, r *http.Request) {
	var req UpdateQuotaRequest
	if !h.decode(w, r, &req) {
		return
	}
	dept, err := h.Service.UpdateDepartmentQuota(r.Context(), actorOf(r), chi.URLParam(r, "id"), req.MaxConcurrentLeave)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dept)
}

// GET /api/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	h.writeEmployee(w, r, actor, actor.ID)
}

// GET /api/employees/{id}
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	h.writeEmployee(w, r, actorOf(r), chi.URLParam(r, "id"))
}

func (h *Handler) writeEmployee(w http.ResponseWriter, r *http.Request, actor leave.Actor, id string) {
	emp, err := h.Service.GetEmployee(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emp)
}

// GET /api/employees/{id}/ledger
func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.LedgerEntries(r.Context(), actorOf(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// LEAVE REQUEST LIFECYCLE
// =============================================================================

// SubmitLeaveRequest creates a PENDING request for the caller.
// POST /api/leave-requests
func (h *Handler) SubmitLeaveRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitLeaveRequest
	if !h.decode(w, r, &req) {
		return
	}

	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, leave.CodeInvalidInput, "startDate must be YYYY-MM-DD", nil)
		return
	}
	end, err := generic.ParseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, leave.CodeInvalidInput, "endDate must be YYYY-MM-DD", nil)
		return
	}

	created, err := h.Service.Submit(r.Context(), actorOf(r), leave.SubmitInput{
		LeaveType: leave.LeaveType(req.LeaveType),
		StartDate: start,
		EndDate:   end,
		DaysTaken: req.DaysTaken,
		Reason:    req.Reason,
		ProofURL:  req.ProofURL,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(*created))
}

// ListLeaveRequests pages through every request. Query: status, departmentId,
// search, page, pageSize.
// GET /api/leave-requests
func (h *Handler) ListLeaveRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize, ok := paging(w, r)
	if !ok {
		return
	}

	result, err := h.Service.ListRequests(r.Context(), actorOf(r), leave.RequestFilter{
		Status:       leave.Status(strings.ToUpper(q.Get("status"))),
		DepartmentID: q.Get("departmentId"),
		Search:       q.Get("search"),
		Page:         page,
		PageSize:     pageSize,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageDTO(result))
}

// GET /api/leave-requests/mine
func (h *Handler) MyLeaveRequests(w http.ResponseWriter, r *http.Request) {
	page, pageSize, ok := paging(w, r)
	if !ok {
		return
	}
	result, err := h.Service.ListMyHistory(r.Context(), actorOf(r), page, pageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageDTO(result))
}

// POST /api/leave-requests/{id}/review
func (h *Handler) ReviewLeaveRequest(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.Service.Review(r.Context(), actorOf(r), chi.URLParam(r, "id"), leave.Status(req.Status), req.Comment)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*updated))
}

// POST /api/leave-requests/{id}/cancel
func (h *Handler) CancelLeaveRequest(w http.ResponseWriter, r *http.Request) {
	updated, err := h.Service.Cancel(r.Context(), actorOf(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*updated))
}

// =============================================================================
// ADMIN AND REPORTS
// =============================================================================

// POST /api/admin/reset-balances
func (h *Handler) ResetBalances(w http.ResponseWriter, r *http.Request) {
	var req ResetBalancesRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.Service.ResetAnnualBalances(r.Context(), actorOf(r), *req.ToValue)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ResetBalancesResponse{Affected: n})
}

// Overview collapses concurrent dashboard loads into one query per role.
// GET /api/reports/overview
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	ctx := context.WithoutCancel(r.Context())
	v, err, _ := h.reports.Do("overview:"+string(actor.Role), func() (any, error) {
		return h.Reporter.Overview(ctx, actor)
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GET /api/reports/departments
func (h *Handler) DepartmentStats(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	ctx := context.WithoutCancel(r.Context())
	v, err, _ := h.reports.Do("departments:"+string(actor.Role), func() (any, error) {
		return h.Reporter.DepartmentStats(ctx, actor)
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// UploadProof stores the multipart "file" field and returns its URL.
// POST /api/uploads/proof
func (h *Handler) UploadProof(w http.ResponseWriter, r *http.Request) {
	if actorOf(r).Role != leave.RoleEmployee {
		writeError(w, http.StatusForbidden, leave.CodeForbidden, "only employees can upload proof", nil)
		return
	}
	if h.Uploader == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "proof uploads are not configured", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(w, http.StatusBadRequest, leave.CodeInvalidInput, "invalid multipart body", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, leave.CodeInvalidInput, "missing file field", nil)
		return
	}
	defer file.Close()

	if err := proof.Check(header.Size, header.Filename, h.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, leave.CodeInvalidInput, err.Error(), nil)
		return
	}

	url, err := h.Uploader.Upload(r.Context(), file, header.Size, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, UploadResponse{URL: url})
}

// =============================================================================
// HELPERS
// =============================================================================

func actorOf(r *http.Request) leave.Actor {
	actor, _ := ActorFrom(r.Context())
	return actor
}

// decode reads a JSON body into dst and runs validator tags. It writes the
// 400 itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, leave.CodeInvalidInput, "invalid request body", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeError(w, http.StatusBadRequest, leave.CodeInvalidInput, "validation failed", fields)
			return false
		}
		writeError(w, http.StatusBadRequest, leave.CodeInvalidInput, "validation failed", nil)
		return false
	}
	return true
}

func paging(w http.ResponseWriter, r *http.Request) (page, pageSize int, ok bool) {
	q := r.URL.Query()
	var err error
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, leave.CodeInvalidInput, "page must be an integer", nil)
			return 0, 0, false
		}
	}
	if v := q.Get("pageSize"); v != "" {
		if pageSize, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, leave.CodeInvalidInput, "pageSize must be an integer", nil)
			return 0, 0, false
		}
	}
	return page, pageSize, true
}

// statusFor maps a leave error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case leave.CodeInvalidInput, leave.CodeProofRequired:
		return http.StatusBadRequest
	case leave.CodeForbidden:
		return http.StatusForbidden
	case leave.CodeNotFound:
		return http.StatusNotFound
	case leave.CodeInvalidTransition, leave.CodeConflict:
		return http.StatusConflict
	case leave.CodeInsufficientBalance, leave.CodeQuotaExceeded:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders err. Infrastructure errors are logged with the
// request id and hidden from the client.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := leave.Code(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, status, leave.CodeInternal, "internal server error", nil)
		return
	}
	writeError(w, status, code, err.Error(), errorDetails(err))
}

func errorDetails(err error) any {
	var (
		vErr *leave.ValidationError
		bErr *leave.InsufficientBalanceError
		qErr *leave.QuotaExceededError
		tErr *leave.TransitionError
	)
	switch {
	case errors.As(err, &vErr):
		return map[string]string{"field": vErr.Field}
	case errors.As(err, &bErr):
		return map[string]int{"available": bErr.Available, "requested": bErr.Requested}
	case errors.As(err, &qErr):
		return map[string]any{"overlapping": qErr.Overlapping, "max": qErr.Max, "period": qErr.Period.String()}
	case errors.As(err, &tErr):
		return map[string]string{"from": string(tErr.From), "to": string(tErr.To)}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}
