/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the leave domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Balance:  BalanceDTO, AssignBalanceRequest
  Request:  LeaveRequestDTO, SubmitLeaveRequest, RejectLeaveRequest
  Actor:    CapabilitiesDTO
  Checks:   OverlapDTO

DAY COUNTS:
  Day counts are decimals and serialize as JSON strings ("1.5") so no
  client ever sees a float rounding artifact.

VALIDATION:
  Validation is done in handlers and the leave package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// BALANCES
// =============================================================================

type BalanceDTO struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	LeaveType  string          `json:"leave_type"`
	Year       int             `json:"year"`
	Assigned   decimal.Decimal `json:"assigned"`
	Used       decimal.Decimal `json:"used"`
	Pending    decimal.Decimal `json:"pending"`
	Available  decimal.Decimal `json:"available"`
	Status     string          `json:"status"`
	Version    int64           `json:"version"`
	ExpiresAt  *leave.Date     `json:"expires_at,omitempty"`
	Note       string          `json:"note,omitempty"`
	AssignedBy string          `json:"assigned_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func toBalanceDTO(b leave.Balance) BalanceDTO {
	return BalanceDTO{
		ID:         string(b.ID),
		UserID:     string(b.UserID),
		LeaveType:  string(b.LeaveType),
		Year:       b.Year,
		Assigned:   b.Assigned,
		Used:       b.Used,
		Pending:    b.Pending,
		Available:  b.Available(),
		Status:     string(b.Status),
		Version:    b.Version,
		ExpiresAt:  b.ExpiresAt,
		Note:       b.Note,
		AssignedBy: string(b.AssignedBy),
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func toBalanceDTOs(bs []leave.Balance) []BalanceDTO {
	dtos := make([]BalanceDTO, len(bs))
	for i, b := range bs {
		dtos[i] = toBalanceDTO(b)
	}
	return dtos
}

// AssignBalanceRequest is the body of POST /api/admin/balances.
type AssignBalanceRequest struct {
	UserID    string          `json:"user_id"`
	LeaveType string          `json:"leave_type"`
	Year      int             `json:"year"`
	Amount    decimal.Decimal `json:"amount"`
	Mode      string          `json:"mode"` // replace (default), add, subtract
	ExpiresAt *leave.Date     `json:"expires_at,omitempty"`
	Note      string          `json:"note,omitempty"`
}

// =============================================================================
// REQUESTS
// =============================================================================

type LeaveRequestDTO struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"user_id"`
	Department          string          `json:"department,omitempty"`
	LeaveType           string          `json:"leave_type"`
	StartDate           leave.Date      `json:"start_date"`
	EndDate             leave.Date      `json:"end_date"`
	Quantity            decimal.Decimal `json:"quantity"`
	HalfDay             bool            `json:"half_day"`
	Reason              string          `json:"reason,omitempty"`
	State               string          `json:"state"`
	SupervisorApprover  *string         `json:"supervisor_approver,omitempty"`
	SupervisorDecidedAt *time.Time      `json:"supervisor_decided_at,omitempty"`
	HRApprover          *string         `json:"hr_approver,omitempty"`
	HRDecidedAt         *time.Time      `json:"hr_decided_at,omitempty"`
	RejectedBy          *string         `json:"rejected_by,omitempty"`
	RejectedAt          *time.Time      `json:"rejected_at,omitempty"`
	RejectionReason     string          `json:"rejection_reason,omitempty"`
	StartedAt           *time.Time      `json:"started_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func toLeaveRequestDTO(r leave.Request) LeaveRequestDTO {
	return LeaveRequestDTO{
		ID:                  string(r.ID),
		UserID:              string(r.UserID),
		Department:          r.Department,
		LeaveType:           string(r.LeaveType),
		StartDate:           r.StartDate,
		EndDate:             r.EndDate,
		Quantity:            r.Quantity,
		HalfDay:             r.HalfDay,
		Reason:              r.Reason,
		State:               string(r.State),
		SupervisorApprover:  userPtr(r.SupervisorApprover),
		SupervisorDecidedAt: r.SupervisorDecidedAt,
		HRApprover:          userPtr(r.HRApprover),
		HRDecidedAt:         r.HRDecidedAt,
		RejectedBy:          userPtr(r.RejectedBy),
		RejectedAt:          r.RejectedAt,
		RejectionReason:     r.RejectionReason,
		StartedAt:           r.StartedAt,
		CompletedAt:         r.CompletedAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func toLeaveRequestDTOs(rs []leave.Request) []LeaveRequestDTO {
	dtos := make([]LeaveRequestDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toLeaveRequestDTO(r)
	}
	return dtos
}

func userPtr(u *leave.UserID) *string {
	if u == nil {
		return nil
	}
	s := string(*u)
	return &s
}

// SubmitLeaveRequest is the body of POST /api/requests.
type SubmitLeaveRequest struct {
	LeaveType string     `json:"leave_type"`
	StartDate leave.Date `json:"start_date"`
	EndDate   leave.Date `json:"end_date"`
	HalfDay   bool       `json:"half_day"`
	Reason    string     `json:"reason,omitempty"`
}

// RejectLeaveRequest is the body of POST /api/requests/{id}/reject.
type RejectLeaveRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// ACTOR AND CHECKS
// =============================================================================

type CapabilitiesDTO struct {
	ActorID    string            `json:"actor_id"`
	Department string            `json:"department,omitempty"`
	Roles      []string          `json:"roles"`
	Scopes     map[string]string `json:"scopes"` // capability -> widest scope
}

type OverlapDTO struct {
	Overlap  bool            `json:"overlap"`
	Quantity decimal.Decimal `json:"quantity"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
