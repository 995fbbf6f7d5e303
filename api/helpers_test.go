package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/directory"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
)

// testServer is the full HTTP stack over an in-memory SQLite database
// seeded with the demo organisation on 2026-03-02.
type testServer struct {
	store     *sqlite.Store
	clock     *leave.FixedClock
	ledger    *leave.Ledger
	workflow  *leave.Workflow
	metrics   *api.Metrics
	scheduler *api.TransitionScheduler
	router    http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &leave.FixedClock{Day: leave.NewDate(2026, time.March, 2)}
	opts := leave.Options{Clock: clock}
	ledger := leave.NewLedger(store, opts)
	workflow := leave.NewWorkflow(store, ledger, opts)

	_, err = api.SeedDemo(context.Background(), store, ledger, 2026)
	require.NoError(t, err)

	dir := directory.NewCache(newDirectory(t, store), 64, time.Minute, nil)

	metrics := api.NewMetrics()
	handler := api.NewHandler(workflow, dir, metrics, nil)

	scheduler := api.NewTransitionScheduler(workflow, clock, nil)
	scheduler.Metrics = metrics

	return &testServer{
		store:     store,
		clock:     clock,
		ledger:    ledger,
		workflow:  workflow,
		metrics:   metrics,
		scheduler: scheduler,
		router:    api.NewRouter(handler, []string{"*"}),
	}
}

func newDirectory(t *testing.T, source directory.EmployeeSource) *directory.Directory {
	t.Helper()
	catalog, err := directory.DefaultCatalog()
	require.NoError(t, err)
	return directory.New(source, catalog, nil)
}

// do sends a request as actor. An empty actor sends no actor header.
func (s *testServer) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(buf))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if actor != "" {
		req.Header.Set(api.ActorHeader, actor)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// submit posts an annual leave request for actor and requires a 201.
func (s *testServer) submit(t *testing.T, actor string, start, end leave.Date) api.LeaveRequestDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/requests", actor, api.SubmitLeaveRequest{
		LeaveType: string(leave.LeaveAnnual),
		StartDate: start,
		EndDate:   end,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.LeaveRequestDTO](t, rec)
}

// transition posts to /api/requests/{id}/{action} and requires a 200.
func (s *testServer) transition(t *testing.T, actor, id, action string) api.LeaveRequestDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/requests/"+id+"/"+action, actor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[api.LeaveRequestDTO](t, rec)
}

func (s *testServer) annual(t *testing.T, actor, user string) api.BalanceDTO {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/balances/"+user+"/annual/2026", actor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[api.BalanceDTO](t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func april(day int) leave.Date {
	return leave.NewDate(2026, time.April, day)
}

func requireDays(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(decimal.NewFromInt(want)), "want %d days, got %s", want, got)
}
