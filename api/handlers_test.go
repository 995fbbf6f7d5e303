/*
handlers_test.go - HTTP API tests

Tests for:
- Actor resolution (401 for missing or unknown actors)
- The request lifecycle through the REST endpoints
- Error kind to status mapping (400, 403, 404, 409, 422)
- Balance reads, history and assignment
- Capabilities, overlap checks and metrics
*/
package api_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/leave"
)

func TestAPI_Healthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPI_ActorResolution(t *testing.T) {
	s := newTestServer(t)

	t.Run("missing header", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/balances/alice", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown actor", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/balances/alice", "mallory", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unknown actor", decode[api.ErrorResponse](t, rec).Error)
	})
}

func TestAPI_RequestLifecycle(t *testing.T) {
	// GIVEN: alice with 20 annual days
	// WHEN: She submits five days, bob and carol approve, and the dates pass
	// THEN: Each step is reflected in the request and in her balance

	s := newTestServer(t)

	created := s.submit(t, "alice", april(6), april(10))
	assert.Equal(t, string(leave.StatePending), created.State)
	assert.Equal(t, "engineering", created.Department)
	requireDays(t, 5, created.Quantity)

	balance := s.annual(t, "alice", "alice")
	requireDays(t, 5, balance.Pending)
	requireDays(t, 15, balance.Available)

	approved := s.transition(t, "bob", created.ID, "supervisor-approve")
	assert.Equal(t, string(leave.StateSupervisorApproved), approved.State)
	require.NotNil(t, approved.SupervisorApprover)
	assert.Equal(t, "bob", *approved.SupervisorApprover)

	final := s.transition(t, "carol", created.ID, "approve")
	assert.Equal(t, string(leave.StateHRApproved), final.State)
	require.NotNil(t, final.HRApprover)
	assert.Equal(t, "carol", *final.HRApprover)

	// Too early to start.
	rec := s.do(t, http.MethodPost, "/api/requests/"+created.ID+"/start", "admin", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[api.ErrorResponse](t, rec).Code)

	s.clock.Day = april(6)
	started := s.transition(t, "admin", created.ID, "start")
	assert.Equal(t, string(leave.StateInUse), started.State)
	assert.NotNil(t, started.StartedAt)

	balance = s.annual(t, "alice", "alice")
	requireDays(t, 5, balance.Used)
	requireDays(t, 0, balance.Pending)

	s.clock.Day = april(11)
	completed := s.transition(t, "admin", created.ID, "complete")
	assert.Equal(t, string(leave.StateCompleted), completed.State)

	got := s.do(t, http.MethodGet, "/api/requests/"+created.ID, "alice", nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, string(leave.StateCompleted), decode[api.LeaveRequestDTO](t, got).State)
}

func TestAPI_Submit_Errors(t *testing.T) {
	s := newTestServer(t)
	s.submit(t, "alice", april(6), april(7))

	cases := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{
			name:   "overlapping dates",
			body:   api.SubmitLeaveRequest{LeaveType: "annual", StartDate: april(7), EndDate: april(8)},
			status: http.StatusConflict,
			code:   "overlap_conflict",
		},
		{
			name:   "more than available",
			body:   api.SubmitLeaveRequest{LeaveType: "personal", StartDate: april(13), EndDate: april(16)},
			status: http.StatusUnprocessableEntity,
			code:   "insufficient_balance",
		},
		{
			name:   "start in the past",
			body:   api.SubmitLeaveRequest{LeaveType: "annual", StartDate: leave.NewDate(2026, 3, 1), EndDate: leave.NewDate(2026, 3, 3)},
			status: http.StatusBadRequest,
			code:   "invalid_date_range",
		},
		{
			name:   "end before start",
			body:   api.SubmitLeaveRequest{LeaveType: "annual", StartDate: april(20), EndDate: april(18)},
			status: http.StatusBadRequest,
			code:   "invalid_date_range",
		},
		{
			name:   "missing leave type",
			body:   api.SubmitLeaveRequest{StartDate: april(20), EndDate: april(21)},
			status: http.StatusBadRequest,
			code:   "invalid_input",
		},
		{
			name:   "no balance for the type",
			body:   api.SubmitLeaveRequest{LeaveType: "sabbatical", StartDate: april(20), EndDate: april(21)},
			status: http.StatusNotFound,
			code:   "not_found",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/requests", "alice", tc.body)

			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, decode[api.ErrorResponse](t, rec).Code)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/requests", "alice", "not an object")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	// Nothing but the first request reserved anything.
	balance := s.annual(t, "alice", "alice")
	requireDays(t, 2, balance.Pending)
}

func TestAPI_InsufficientBalance_Details(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/requests", "alice", api.SubmitLeaveRequest{
		LeaveType: "personal", StartDate: april(13), EndDate: april(16),
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	details, ok := decode[api.ErrorResponse](t, rec).Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "3", details["available"])
	assert.Equal(t, "4", details["requested"])
}

func TestAPI_Decisions_Permissions(t *testing.T) {
	// GIVEN: A pending request from alice (engineering)
	// WHEN: Actors without standing try to decide it
	// THEN: 403, and the request stays pending

	s := newTestServer(t)
	created := s.submit(t, "alice", april(6), april(7))

	cases := []struct {
		name   string
		actor  string
		action string
	}{
		{"employee cannot approve", "dave", "supervisor-approve"},
		{"supervisor of another department", "erin", "supervisor-approve"},
		{"supervisor cannot give final approval", "bob", "approve"},
		{"owner cannot reject own request", "alice", "reject"},
		{"hr cannot start leave", "carol", "start"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/requests/"+created.ID+"/"+tc.action, tc.actor, nil)

			assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
			assert.Equal(t, "permission_denied", decode[api.ErrorResponse](t, rec).Code)
		})
	}

	got := s.do(t, http.MethodGet, "/api/requests/"+created.ID, "carol", nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, string(leave.StatePending), decode[api.LeaveRequestDTO](t, got).State)
}

func TestAPI_SupervisorCannotApproveOwnRequest(t *testing.T) {
	s := newTestServer(t)
	own := s.submit(t, "bob", april(6), april(6))

	rec := s.do(t, http.MethodPost, "/api/requests/"+own.ID+"/supervisor-approve", "bob", nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_Reject_ReleasesDays(t *testing.T) {
	s := newTestServer(t)
	created := s.submit(t, "alice", april(6), april(10))

	rec := s.do(t, http.MethodPost, "/api/requests/"+created.ID+"/reject", "bob", api.RejectLeaveRequest{Reason: "release freeze"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rejected := decode[api.LeaveRequestDTO](t, rec)
	assert.Equal(t, string(leave.StateSupervisorRejected), rejected.State)
	assert.Equal(t, "release freeze", rejected.RejectionReason)
	require.NotNil(t, rejected.RejectedBy)
	assert.Equal(t, "bob", *rejected.RejectedBy)

	balance := s.annual(t, "alice", "alice")
	requireDays(t, 0, balance.Pending)
	requireDays(t, 20, balance.Available)

	// Terminal: a second decision is an invalid transition.
	rec = s.do(t, http.MethodPost, "/api/requests/"+created.ID+"/approve", "carol", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[api.ErrorResponse](t, rec).Code)
}

func TestAPI_Reject_WithoutBody(t *testing.T) {
	s := newTestServer(t)
	created := s.submit(t, "alice", april(6), april(7))
	s.transition(t, "bob", created.ID, "supervisor-approve")

	rejected := s.transition(t, "carol", created.ID, "reject")

	assert.Equal(t, string(leave.StateRejected), rejected.State)
	assert.Empty(t, rejected.RejectionReason)
}

func TestAPI_GetRequest_Scopes(t *testing.T) {
	s := newTestServer(t)
	created := s.submit(t, "alice", april(6), april(7))
	path := "/api/requests/" + created.ID

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, "alice", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, "bob", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, "carol", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, path, "dave", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, path, "erin", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/requests/no-such-id", "carol", nil).Code)
}

func TestAPI_ListRequests(t *testing.T) {
	s := newTestServer(t)
	aliceReq := s.submit(t, "alice", april(6), april(7))
	s.submit(t, "dave", april(6), april(7))
	s.transition(t, "bob", aliceReq.ID, "supervisor-approve")

	list := func(t *testing.T, actor, query string) []api.LeaveRequestDTO {
		t.Helper()
		rec := s.do(t, http.MethodGet, "/api/requests"+query, actor, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[[]api.LeaveRequestDTO](t, rec)
	}

	t.Run("employee sees own", func(t *testing.T) {
		got := list(t, "alice", "")
		require.Len(t, got, 1)
		assert.Equal(t, aliceReq.ID, got[0].ID)
	})

	t.Run("supervisor sees department", func(t *testing.T) {
		got := list(t, "erin", "")
		require.Len(t, got, 1)
		assert.Equal(t, "dave", got[0].UserID)
	})

	t.Run("hr sees everyone", func(t *testing.T) {
		assert.Len(t, list(t, "carol", ""), 2)
	})

	t.Run("state filter", func(t *testing.T) {
		got := list(t, "carol", "?state=pending")
		require.Len(t, got, 1)
		assert.Equal(t, "dave", got[0].UserID)

		assert.Len(t, list(t, "carol", "?state=pending,supervisor_approved"), 2)
	})

	t.Run("date window", func(t *testing.T) {
		assert.Len(t, list(t, "carol", "?from=2026-04-07&to=2026-04-30"), 2)
		assert.Empty(t, list(t, "carol", "?from=2026-04-08"))
	})

	t.Run("unknown state", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/requests?state=archived", "carol", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad date", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/requests?from=April", "carol", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("employee asking for someone else", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/requests?user_id=dave", "alice", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("supervisor asking for another department", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/requests?department=sales", "bob", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestAPI_Balances(t *testing.T) {
	s := newTestServer(t)

	t.Run("own balances", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/balances/alice", "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		balances := decode[[]api.BalanceDTO](t, rec)
		require.Len(t, balances, 3)
		for _, b := range balances {
			assert.Equal(t, "alice", b.UserID)
			assert.Equal(t, 2026, b.Year)
			assert.Equal(t, string(leave.BalanceActive), b.Status)
		}
	})

	t.Run("supervisor reads department", func(t *testing.T) {
		b := s.annual(t, "bob", "alice")
		requireDays(t, 20, b.Assigned)
	})

	t.Run("hr reads anyone", func(t *testing.T) {
		b := s.annual(t, "carol", "dave")
		requireDays(t, 20, b.Available)
	})

	t.Run("employee cannot read a colleague", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/balances/bob", "alice", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("supervisor cannot read another department", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/balances/dave/annual/2026", "bob", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/balances/zoe", "carol", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("no balance for the year", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/balances/alice/annual/2031", "alice", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad year", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/balances/alice/annual/next", "alice", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAPI_AssignBalance(t *testing.T) {
	// GIVEN: alice with 20 annual days and 2 pending
	// WHEN: HR adds 5 days
	// THEN: A new active row carries 25 assigned and the pending days; the
	//       old row is kept as history

	s := newTestServer(t)
	s.submit(t, "alice", april(6), april(7))
	s.clock.Advance(1)

	rec := s.do(t, http.MethodPost, "/api/admin/balances", "carol", api.AssignBalanceRequest{
		UserID:    "alice",
		LeaveType: "annual",
		Year:      2026,
		Amount:    decimal.NewFromInt(5),
		Mode:      string(leave.AssignAdd),
		Note:      "carry over",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assigned := decode[api.BalanceDTO](t, rec)
	requireDays(t, 25, assigned.Assigned)
	requireDays(t, 2, assigned.Pending)
	requireDays(t, 23, assigned.Available)
	assert.Equal(t, "carol", assigned.AssignedBy)
	assert.Equal(t, "carry over", assigned.Note)

	hist := s.do(t, http.MethodGet, "/api/balances/alice/annual/2026/history", "alice", nil)
	require.Equal(t, http.StatusOK, hist.Code)
	history := decode[[]api.BalanceDTO](t, hist)
	require.Len(t, history, 2)
	assert.Equal(t, assigned.ID, history[0].ID)
	assert.Equal(t, string(leave.BalanceSuperseded), history[1].Status)
}

func TestAPI_AssignBalance_Errors(t *testing.T) {
	s := newTestServer(t)
	s.submit(t, "alice", april(6), april(10))

	t.Run("needs assign capability", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/admin/balances", "bob", api.AssignBalanceRequest{
			UserID: "alice", LeaveType: "annual", Year: 2026, Amount: decimal.NewFromInt(30),
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("below committed days", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/admin/balances", "carol", api.AssignBalanceRequest{
			UserID: "alice", LeaveType: "annual", Year: 2026, Amount: decimal.NewFromInt(3),
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("unknown mode", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/admin/balances", "carol", api.AssignBalanceRequest{
			UserID: "alice", LeaveType: "annual", Year: 2026, Amount: decimal.NewFromInt(3), Mode: "multiply",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAPI_Capabilities(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/me/capabilities", "bob", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	caps := decode[api.CapabilitiesDTO](t, rec)
	assert.Equal(t, "bob", caps.ActorID)
	assert.Equal(t, "engineering", caps.Department)
	assert.Equal(t, []string{"supervisor"}, caps.Roles)
	assert.Equal(t, "department", caps.Scopes["requests.approve_supervisor"])
	assert.Equal(t, "own", caps.Scopes["requests.create"])
	assert.NotContains(t, caps.Scopes, "requests.approve_final")
}

func TestAPI_CheckOverlap(t *testing.T) {
	s := newTestServer(t)
	created := s.submit(t, "alice", april(6), april(10))

	check := func(t *testing.T, actor, query string) api.OverlapDTO {
		t.Helper()
		rec := s.do(t, http.MethodGet, "/api/overlap"+query, actor, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[api.OverlapDTO](t, rec)
	}

	got := check(t, "alice", "?start=2026-04-10&end=2026-04-14")
	assert.True(t, got.Overlap)
	requireDays(t, 5, got.Quantity)

	assert.False(t, check(t, "alice", "?start=2026-04-11&end=2026-04-14").Overlap)
	assert.False(t, check(t, "alice", "?start=2026-04-06&end=2026-04-06&exclude="+created.ID).Overlap)
	assert.False(t, check(t, "bob", "?start=2026-04-06&end=2026-04-10").Overlap)

	half := check(t, "alice", "?start=2026-04-20&end=2026-04-20&half_day=true")
	assert.True(t, half.Quantity.Equal(decimal.RequireFromString("0.5")))

	rec := s.do(t, http.MethodGet, "/api/overlap?start=2026-04-20&end=2026-04-21&half_day=true", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/overlap?start=tomorrow&end=2026-04-21", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Metrics(t *testing.T) {
	s := newTestServer(t)
	created := s.submit(t, "alice", april(6), april(7))
	s.do(t, http.MethodPost, "/api/requests/"+created.ID+"/approve", "bob", nil)

	rec := s.do(t, http.MethodGet, "/metrics", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `leave_transitions_total{action="submit",outcome="ok"} 1`)
	assert.Contains(t, body, `leave_transitions_total{action="approve",outcome="denied"} 1`)
	assert.Contains(t, body, "leave_http_requests_total")
	assert.True(t, strings.Contains(body, "leave_http_request_duration_seconds"))
}

func TestAPI_AuditTrail(t *testing.T) {
	// GIVEN: A workflow whose recorder writes to the SQLite audit table
	// WHEN: A request is submitted and approved over HTTP
	// THEN: Both transitions are in the trail

	s := newTestServer(t)
	audit := leave.NewAuditRecorder(s.store, nil)
	opts := leave.Options{Clock: s.clock, Audit: audit}
	s.workflow = leave.NewWorkflow(s.store, leave.NewLedger(s.store, opts), opts)
	s.router = api.NewRouter(api.NewHandler(s.workflow, newDirectory(t, s.store), nil, nil), nil)

	created := s.submit(t, "alice", april(6), april(7))
	s.clock.Advance(1)
	s.transition(t, "carol", created.ID, "approve")
	audit.Wait()

	trail, err := s.store.AuditTrail(context.Background(), "leave_request", created.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, leave.AuditRequestSubmitted, trail[0].Action)
	assert.Equal(t, leave.AuditHRApproved, trail[1].Action)
}
