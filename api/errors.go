package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// statusFor maps a leave error kind to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	var (
		insufficient *leave.InsufficientBalanceError
		overlap      *leave.OverlapError
	)
	switch {
	case errors.Is(err, leave.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, leave.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &insufficient), errors.Is(err, leave.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.As(err, &overlap), errors.Is(err, leave.ErrOverlapConflict):
		return http.StatusConflict, "overlap_conflict"
	case errors.Is(err, leave.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, leave.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, leave.ErrInvalidDateRange):
		return http.StatusBadRequest, "invalid_date_range"
	case errors.Is(err, leave.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	default:
		return http.StatusInternalServerError, "storage_failure"
	}
}

// writeDomainError writes err with the status its kind maps to. Storage
// failures never leak their cause to the client.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: message, Code: code}

	var (
		insufficient *leave.InsufficientBalanceError
		overlap      *leave.OverlapError
	)
	switch {
	case status == http.StatusInternalServerError:
		h.Logger.Error(message, zap.Error(err))
	case errors.As(err, &insufficient):
		resp.Details = map[string]string{
			"available": insufficient.Available.String(),
			"requested": insufficient.Requested.String(),
		}
	case errors.As(err, &overlap):
		resp.Details = map[string]string{
			"conflicting_request_id": string(overlap.Conflicting),
		}
	default:
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
