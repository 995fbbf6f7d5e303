/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the balance ledger and request workflow via REST API. Handles
  HTTP request/response and JSON, and delegates every decision to the
  leave package. Handlers never check permissions themselves; the
  workflow does, with the actor the middleware resolved.

ENDPOINTS:
  Balances:
    GET    /api/balances/{user}                         Active balances
    GET    /api/balances/{user}/{leaveType}/{year}      One balance
    GET    /api/balances/{user}/{leaveType}/{year}/history  All rows, newest first
    POST   /api/admin/balances                          Assign (replace/add/subtract)

  Requests:
    POST   /api/requests                        Submit
    GET    /api/requests                        List (?user_id, department, state, from, to)
    GET    /api/requests/{id}                   Details
    POST   /api/requests/{id}/supervisor-approve
    POST   /api/requests/{id}/approve           Final (HR) approval
    POST   /api/requests/{id}/reject
    POST   /api/requests/{id}/start
    POST   /api/requests/{id}/complete

  Actor:
    GET    /api/me/capabilities
    GET    /api/overlap?start=&end=[&exclude=]  Pre-submission check

REQUEST FLOW:
  1. Actor middleware resolves X-Actor-ID
  2. Parse and validate input
  3. Call the workflow
  4. Serialize response or map the error kind to a status

ERROR HANDLING:
  - 400: Invalid input, invalid date range
  - 401: Missing or unknown actor
  - 429: Actor over its request rate
  - 403: Permission denied
  - 404: Not found
  - 409: Overlap, invalid transition, concurrent modification
  - 422: Insufficient balance
  - 500: Storage failures

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error kind to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Workflow  *leave.Workflow
	Directory leave.ActorDirectory
	Metrics   *Metrics
	Limiter   *ActorLimiter // nil disables rate limiting
	Logger    *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(workflow *leave.Workflow, directory leave.ActorDirectory, metrics *Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Workflow:  workflow,
		Directory: directory,
		Metrics:   metrics,
		Logger:    logger.Named("api"),
	}
}

// target resolves the user a balance route points at. The actor's own id
// needs no lookup.
func (h *Handler) target(ctx context.Context, actor leave.Actor, user leave.UserID) (leave.Target, error) {
	if user == actor.ID {
		return actor.Self(), nil
	}
	owner, err := h.Directory.Resolve(ctx, user)
	if err != nil {
		return leave.Target{}, err
	}
	return owner.Self(), nil
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalances returns the user's active balances.
// GET /api/balances/{user}
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(ctx)

	target, err := h.target(ctx, actor, leave.UserID(chi.URLParam(r, "user")))
	if err != nil {
		h.writeDomainError(w, "Failed to resolve user", err)
		return
	}

	balances, err := h.Workflow.Balances(ctx, actor, target)
	if err != nil {
		h.writeDomainError(w, "Failed to list balances", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTOs(balances))
}

// GetBalance returns one active balance.
// GET /api/balances/{user}/{leaveType}/{year}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(ctx)

	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	target, err := h.target(ctx, actor, leave.UserID(chi.URLParam(r, "user")))
	if err != nil {
		h.writeDomainError(w, "Failed to resolve user", err)
		return
	}

	balance, err := h.Workflow.Balance(ctx, actor, target, leave.LeaveType(chi.URLParam(r, "leaveType")), year)
	if err != nil {
		h.writeDomainError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*balance))
}

// GetBalanceHistory returns every row assigned for the key.
// GET /api/balances/{user}/{leaveType}/{year}/history
func (h *Handler) GetBalanceHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(ctx)

	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	target, err := h.target(ctx, actor, leave.UserID(chi.URLParam(r, "user")))
	if err != nil {
		h.writeDomainError(w, "Failed to resolve user", err)
		return
	}

	history, err := h.Workflow.BalanceHistory(ctx, actor, target, leave.LeaveType(chi.URLParam(r, "leaveType")), year)
	if err != nil {
		h.writeDomainError(w, "Failed to get balance history", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTOs(history))
}

// AssignBalance applies an administrative assignment.
// POST /api/admin/balances
func (h *Handler) AssignBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(ctx)

	var req AssignBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	mode := leave.AssignMode(req.Mode)
	if mode == "" {
		mode = leave.AssignReplace
	}

	balance, err := h.Workflow.AssignBalance(ctx, actor, leave.AssignInput{
		UserID:    leave.UserID(req.UserID),
		LeaveType: leave.LeaveType(req.LeaveType),
		Year:      req.Year,
		Amount:    req.Amount,
		Mode:      mode,
		ExpiresAt: req.ExpiresAt,
		Note:      req.Note,
	})
	h.Metrics.ObserveTransition("assign", err)
	if err != nil {
		h.writeDomainError(w, "Failed to assign balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*balance))
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// SubmitRequest creates a pending request for the actor.
// POST /api/requests
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(ctx)

	var req SubmitLeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	created, err := h.Workflow.Submit(ctx, actor, leave.SubmitInput{
		LeaveType: leave.LeaveType(req.LeaveType),
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		HalfDay:   req.HalfDay,
		Reason:    req.Reason,
	})
	h.Metrics.ObserveTransition("submit", err)
	if err != nil {
		h.writeDomainError(w, "Failed to submit request", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveRequestDTO(*created))
}

// ListRequests returns the requests the actor may see.
// GET /api/requests?user_id=&department=&state=pending,in_use&from=&to=
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(ctx)

	q, err := parseRequestQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}

	requests, err := h.Workflow.ListRequests(ctx, actor, q)
	if err != nil {
		h.writeDomainError(w, "Failed to list requests", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTOs(requests))
}

func parseRequestQuery(r *http.Request) (leave.RequestQuery, error) {
	values := r.URL.Query()
	q := leave.RequestQuery{
		UserID:     leave.UserID(values.Get("user_id")),
		Department: values.Get("department"),
	}
	if states := values.Get("state"); states != "" {
		for _, s := range strings.Split(states, ",") {
			st := leave.RequestState(strings.TrimSpace(s))
			if !st.Valid() {
				return q, fmt.Errorf("unknown state %q", s)
			}
			q.States = append(q.States, st)
		}
	}
	for name, dst := range map[string]**leave.Date{"from": &q.From, "to": &q.To} {
		v := values.Get(name)
		if v == "" {
			continue
		}
		d, err := leave.ParseDate(v)
		if err != nil {
			return q, err
		}
		*dst = &d
	}
	return q, nil
}

// GetRequest returns one request.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	request, err := h.Workflow.GetRequest(ctx, actorFrom(ctx), leave.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get request", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(*request))
}

// SupervisorApprove records the supervisor's approval.
// POST /api/requests/{id}/supervisor-approve
func (h *Handler) SupervisorApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "supervisor_approve", h.Workflow.SupervisorApprove)
}

// ApproveRequest records final (HR) approval.
// POST /api/requests/{id}/approve
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve", h.Workflow.HRApprove)
}

// RejectRequest rejects at the actor's stage and releases the days.
// POST /api/requests/{id}/reject
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RejectLeaveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	rejected, err := h.Workflow.Reject(ctx, actorFrom(ctx), leave.RejectInput{
		RequestID: leave.RequestID(chi.URLParam(r, "id")),
		Reason:    req.Reason,
	})
	h.Metrics.ObserveTransition("reject", err)
	if err != nil {
		h.writeDomainError(w, "Failed to reject request", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(*rejected))
}

// StartLeave moves an approved request to in_use.
// POST /api/requests/{id}/start
func (h *Handler) StartLeave(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "start", h.Workflow.StartLeave)
}

// CompleteLeave moves an in_use request to completed.
// POST /api/requests/{id}/complete
func (h *Handler) CompleteLeave(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "complete", h.Workflow.CompleteLeave)
}

type transitionFunc func(ctx context.Context, actor leave.Actor, id leave.RequestID) (*leave.Request, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, action string, fn transitionFunc) {
	ctx := r.Context()
	updated, err := fn(ctx, actorFrom(ctx), leave.RequestID(chi.URLParam(r, "id")))
	h.Metrics.ObserveTransition(action, err)
	if err != nil {
		h.writeDomainError(w, "Failed to "+strings.ReplaceAll(action, "_", " ")+" request", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(*updated))
}

// =============================================================================
// ACTOR AND CHECKS
// =============================================================================

// GetCapabilities describes what the actor may do.
// GET /api/me/capabilities
func (h *Handler) GetCapabilities(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())

	scopes := make(map[string]string, len(actor.Capabilities))
	for c, s := range actor.Capabilities {
		scopes[c.String()] = s.String()
	}
	roles := actor.Roles
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, http.StatusOK, CapabilitiesDTO{
		ActorID:    string(actor.ID),
		Department: actor.Department,
		Roles:      roles,
		Scopes:     scopes,
	})
}

// CheckOverlap reports whether the actor already has leave in a range and
// what the range would cost.
// GET /api/overlap?start=2026-03-01&end=2026-03-05[&half_day=true][&exclude=id]
func (h *Handler) CheckOverlap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(ctx)
	values := r.URL.Query()

	start, err := leave.ParseDate(values.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start date", err)
		return
	}
	end, err := leave.ParseDate(values.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end date", err)
		return
	}
	halfDay, _ := strconv.ParseBool(values.Get("half_day"))

	quantity, err := leave.CountDays(start, end, halfDay)
	if err != nil {
		h.writeDomainError(w, "Invalid range", err)
		return
	}

	var excluding *leave.RequestID
	if ex := values.Get("exclude"); ex != "" {
		id := leave.RequestID(ex)
		excluding = &id
	}

	overlap, err := h.Workflow.Overlap().HasOverlap(ctx, actor.ID, start, end, excluding)
	if err != nil {
		h.writeDomainError(w, "Failed to check overlap", err)
		return
	}
	writeJSON(w, http.StatusOK, OverlapDTO{Overlap: overlap, Quantity: quantity})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
