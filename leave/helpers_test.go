package leave_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// today is a Monday. Requests in these tests start in April.
var today = leave.NewDate(2026, time.March, 2)

type fixture struct {
	ctx      context.Context
	store    *store.Memory
	clock    *leave.FixedClock
	sink     *recordingSink
	audit    *leave.AuditRecorder
	ledger   *leave.Ledger
	workflow *leave.Workflow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewMemory())
}

func newFixtureWithStore(t *testing.T, s leave.Store) *fixture {
	t.Helper()
	mem, _ := s.(*store.Memory)
	f := &fixture{
		ctx:   context.Background(),
		store: mem,
		clock: &leave.FixedClock{Day: today},
		sink:  &recordingSink{},
	}
	f.audit = leave.NewAuditRecorder(f.sink, nil)
	opts := leave.Options{Clock: f.clock, Audit: f.audit}
	f.ledger = leave.NewLedger(s, opts)
	f.workflow = leave.NewWorkflow(s, f.ledger, opts)
	return f
}

// assign gives user an annual balance for 2026.
func (f *fixture) assign(t *testing.T, user leave.UserID, days int64) *leave.Balance {
	t.Helper()
	b, err := f.ledger.Assign(f.ctx, leave.AssignInput{
		UserID:    user,
		LeaveType: leave.LeaveAnnual,
		Year:      2026,
		Amount:    decimal.NewFromInt(days),
		Mode:      leave.AssignReplace,
	}, "carol")
	require.NoError(t, err)
	return b
}

func (f *fixture) balance(t *testing.T, user leave.UserID) *leave.Balance {
	t.Helper()
	b, err := f.ledger.GetBalance(f.ctx, user, leave.LeaveAnnual, 2026)
	require.NoError(t, err)
	return b
}

func (f *fixture) submit(t *testing.T, actor leave.Actor, start, end leave.Date) *leave.Request {
	t.Helper()
	r, err := f.workflow.Submit(f.ctx, actor, leave.SubmitInput{
		LeaveType: leave.LeaveAnnual,
		StartDate: start,
		EndDate:   end,
	})
	require.NoError(t, err)
	return r
}

func april(day int) leave.Date {
	return leave.NewDate(2026, time.April, day)
}

func days(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDays(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.True(t, days(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// =============================================================================
// ACTORS
// =============================================================================

var (
	alice = leave.Actor{
		ID:         "alice",
		Department: "engineering",
		Roles:      []string{"employee"},
		Capabilities: leave.MustCapabilities(
			"balances.view_own", "requests.create_own", "requests.view_own",
		),
	}
	bob = leave.Actor{
		ID:         "bob",
		Department: "engineering",
		Roles:      []string{"supervisor"},
		Capabilities: leave.MustCapabilities(
			"balances.view_own", "requests.create_own", "requests.view_own",
			"balances.view_department", "requests.view_department",
			"requests.approve_supervisor",
		),
	}
	dave = leave.Actor{
		ID:         "dave",
		Department: "sales",
		Roles:      []string{"employee"},
		Capabilities: leave.MustCapabilities(
			"balances.view_own", "requests.create_own", "requests.view_own",
		),
	}
	erin = leave.Actor{
		ID:         "erin",
		Department: "sales",
		Roles:      []string{"supervisor"},
		Capabilities: leave.MustCapabilities(
			"balances.view_own", "requests.create_own", "requests.view_own",
			"balances.view_department", "requests.view_department",
			"requests.approve_supervisor",
		),
	}
	carol = leave.Actor{
		ID:         "carol",
		Department: "people",
		Roles:      []string{"hr"},
		Capabilities: leave.MustCapabilities(
			"balances.view_own", "requests.create_own", "requests.view_own",
			"balances.view_all", "requests.view_all", "balances.assign",
			"requests.approve_final", "reports.export",
		),
	}
	frank = leave.Actor{
		ID:           "frank",
		Department:   "people",
		Roles:        []string{"hr"},
		Capabilities: carol.Capabilities,
	}
	nobody = leave.Actor{ID: "nobody", Department: "engineering"}
)

// =============================================================================
// AUDIT SINK
// =============================================================================

type recordingSink struct {
	mu     sync.Mutex
	events []leave.AuditEvent
	err    error
	panics bool
}

func (s *recordingSink) Record(_ context.Context, e leave.AuditEvent) error {
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) actions() []leave.AuditAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]leave.AuditAction, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Action)
	}
	return out
}

// =============================================================================
// FAULTY STORES
// =============================================================================

var errDiskOnFire = errors.New("disk on fire")

// brokenStore fails every call with an engine error.
type brokenStore struct{}

func (brokenStore) GetBalance(context.Context, leave.BalanceID) (*leave.Balance, error) {
	return nil, errDiskOnFire
}
func (brokenStore) FindActiveBalance(context.Context, leave.BalanceKey) (*leave.Balance, error) {
	return nil, errDiskOnFire
}
func (brokenStore) ListBalances(context.Context, leave.BalanceFilter) ([]leave.Balance, error) {
	return nil, errDiskOnFire
}
func (brokenStore) GetRequest(context.Context, leave.RequestID) (*leave.Request, error) {
	return nil, errDiskOnFire
}
func (brokenStore) ListRequests(context.Context, leave.RequestFilter) ([]leave.Request, error) {
	return nil, errDiskOnFire
}
func (brokenStore) WithTx(context.Context, func(leave.Tx) error) error {
	return errDiskOnFire
}

// contendedStore loses the first `conflicts` transactions to a phantom
// writer, then behaves like the wrapped store.
type contendedStore struct {
	*store.Memory
	mu        sync.Mutex
	conflicts int
	attempts  int
}

func (s *contendedStore) WithTx(ctx context.Context, fn func(leave.Tx) error) error {
	s.mu.Lock()
	s.attempts++
	lose := s.attempts <= s.conflicts
	s.mu.Unlock()
	if lose {
		return leave.ErrConcurrentModification
	}
	return s.Memory.WithTx(ctx, fn)
}
