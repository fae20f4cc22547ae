/*
dto.go - Request and response bodies of the HTTP API

PURPOSE:
  Decouples the JSON contract from the leave package types. Requests carry
  validator tags for shape checks (required fields, ranges, enums); the
  business rules themselves stay in the leave package.

NAMING CONVENTION:
  - *Request: bodies sent by clients
  - *DTO:     bodies returned to clients

SEE ALSO:
  - handlers.go: Decodes and validates these types
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

type RegisterRequest struct {
	FullName     string `json:"fullName" validate:"required,max=200"`
	Email        string `json:"email" validate:"required,email"`
	DepartmentID string `json:"departmentId" validate:"required"`
}

type CreateDepartmentRequest struct {
	Name               string `json:"name" validate:"required,max=100"`
	MaxConcurrentLeave int    `json:"maxConcurrentLeave" validate:"required,min=1"`
}

type UpdateQuotaRequest struct {
	MaxConcurrentLeave int `json:"maxConcurrentLeave" validate:"required,min=1"`
}

// SubmitLeaveRequest dates are YYYY-MM-DD calendar days.
type SubmitLeaveRequest struct {
	LeaveType string `json:"leaveType" validate:"required,oneof=ANNUAL SICK MATERNITY"`
	StartDate string `json:"startDate" validate:"required"`
	EndDate   string `json:"endDate" validate:"required"`
	DaysTaken *int   `json:"daysTaken,omitempty" validate:"omitempty,min=1"`
	Reason    string `json:"reason" validate:"required,max=1000"`
	ProofURL  string `json:"proofUrl,omitempty" validate:"omitempty,url"`
}

type ReviewRequest struct {
	Status  string `json:"status" validate:"required,oneof=APPROVED REJECTED CANCELLED"`
	Comment string `json:"comment" validate:"max=1000"`
}

type ResetBalancesRequest struct {
	ToValue *int `json:"toValue" validate:"required,min=0"`
}

// =============================================================================
// RESPONSE BODIES
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

type RegisterResponse struct {
	Employee *leave.Employee `json:"employee"`
	Token    string          `json:"token"`
}

// LeaveRequestDTO flattens the request period into startDate/endDate.
type LeaveRequestDTO struct {
	ID              string    `json:"id"`
	EmployeeID      string    `json:"employeeId"`
	DepartmentID    string    `json:"departmentId"`
	LeaveType       string    `json:"leaveType"`
	StartDate       string    `json:"startDate"`
	EndDate         string    `json:"endDate"`
	DaysTaken       int       `json:"daysTaken"`
	Reason          string    `json:"reason"`
	ProofURL        string    `json:"proofUrl,omitempty"`
	Status          string    `json:"status"`
	ReviewerComment string    `json:"reviewerComment,omitempty"`
	ReviewerID      string    `json:"reviewerId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`

	EmployeeName           string `json:"employeeName,omitempty"`
	EmployeeEmail          string `json:"employeeEmail,omitempty"`
	EmployeeRemainingLeave *int   `json:"employeeRemainingLeave,omitempty"`
	DepartmentName         string `json:"departmentName,omitempty"`
	ReviewerName           string `json:"reviewerName,omitempty"`
}

type PageDTO struct {
	Items      []LeaveRequestDTO `json:"items"`
	TotalCount int               `json:"totalCount"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
}

type ResetBalancesResponse struct {
	Affected int `json:"affected"`
}

type UploadResponse struct {
	URL string `json:"url"`
}

func toRequestDTO(r leave.Request) LeaveRequestDTO {
	return LeaveRequestDTO{
		ID:              r.ID,
		EmployeeID:      r.EmployeeID,
		DepartmentID:    r.DepartmentID,
		LeaveType:       string(r.LeaveType),
		StartDate:       r.Period.Start.String(),
		EndDate:         r.Period.End.String(),
		DaysTaken:       r.DaysTaken,
		Reason:          r.Reason,
		ProofURL:        r.ProofURL,
		Status:          string(r.Status),
		ReviewerComment: r.ReviewerComment,
		ReviewerID:      r.ReviewerID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toViewDTO(v leave.RequestView) LeaveRequestDTO {
	dto := toRequestDTO(v.Request)
	remaining := v.EmployeeRemainingLeave
	dto.EmployeeName = v.EmployeeName
	dto.EmployeeEmail = v.EmployeeEmail
	dto.EmployeeRemainingLeave = &remaining
	dto.DepartmentName = v.DepartmentName
	dto.ReviewerName = v.ReviewerName
	return dto
}

func toPageDTO(p leave.Page) PageDTO {
	items := make([]LeaveRequestDTO, len(p.Items))
	for i, v := range p.Items {
		items[i] = toViewDTO(v)
	}
	return PageDTO{Items: items, TotalCount: p.TotalCount, Page: p.Page, PageSize: p.PageSize}
}
