/*
Package leave provides the leave balance ledger and request workflow engine.

PURPOSE:
  This package owns the two pieces of the system with real invariants:
  the per-(user, leave type, year) balance row and the approval state
  machine that moves a leave request from submission to completion.
  Everything else (HTTP, persistence engines, role storage) sits around
  it and talks to it through the interfaces in store.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - Balance: assigned / used / pending day counts with a derived Available
  - Request: a leave request and its approval trail
  - Actor: the caller, with a capability set resolved once per call site

INVARIANTS:
  1. Used + Pending <= Assigned for every active balance
  2. Available() is never negative
  3. At most one active balance per (user, leave type, year)
  4. Version increases on every balance mutation

SEE ALSO:
  - ledger.go: reserve / release / consume / assign
  - workflow.go: the request state machine
  - permission.go: capability checks
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type BalanceID string
type RequestID string
type LeaveType string

const (
	LeaveAnnual   LeaveType = "annual"
	LeaveSick     LeaveType = "sick"
	LeavePersonal LeaveType = "personal"
)

// =============================================================================
// BALANCE - One row per user x leave type x year
// =============================================================================

type BalanceStatus string

const (
	BalanceActive     BalanceStatus = "active"
	BalanceSuperseded BalanceStatus = "superseded"
)

// Balance is the accounting row for one (user, leave type, year).
// Available is derived and never stored.
type Balance struct {
	ID        BalanceID
	UserID    UserID
	LeaveType LeaveType
	Year      int

	Assigned decimal.Decimal
	Used     decimal.Decimal
	Pending  decimal.Decimal

	Status  BalanceStatus
	Version int64

	// Administrative metadata attached on assignment
	ExpiresAt  *Date
	Note       string
	AssignedBy UserID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available returns Assigned - Used - Pending, never below zero.
func (b Balance) Available() decimal.Decimal {
	a := b.Assigned.Sub(b.Used).Sub(b.Pending)
	if a.IsNegative() {
		return decimal.Zero
	}
	return a
}

// Committed is Used + Pending.
func (b Balance) Committed() decimal.Decimal {
	return b.Used.Add(b.Pending)
}

// Consistent reports whether the row satisfies Used + Pending <= Assigned
// with no negative counter.
func (b Balance) Consistent() bool {
	if b.Assigned.IsNegative() || b.Used.IsNegative() || b.Pending.IsNegative() {
		return false
	}
	return b.Committed().LessThanOrEqual(b.Assigned)
}

func (b Balance) Key() BalanceKey {
	return BalanceKey{UserID: b.UserID, LeaveType: b.LeaveType, Year: b.Year}
}

// BalanceKey identifies the active balance a request draws from.
type BalanceKey struct {
	UserID    UserID
	LeaveType LeaveType
	Year      int
}

// =============================================================================
// REQUEST - A leave request and its approval trail
// =============================================================================

type RequestState string

const (
	StatePending            RequestState = "pending"
	StateSupervisorApproved RequestState = "supervisor_approved"
	StateHRApproved         RequestState = "hr_approved"
	StateInUse              RequestState = "in_use"
	StateCompleted          RequestState = "completed"
	StateSupervisorRejected RequestState = "supervisor_rejected"
	StateRejected           RequestState = "rejected"
)

// ActiveStates are the non-terminal states that hold days and block overlaps.
var ActiveStates = []RequestState{
	StatePending,
	StateSupervisorApproved,
	StateHRApproved,
	StateInUse,
}

func (s RequestState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateSupervisorRejected, StateRejected:
		return true
	}
	return false
}

func (s RequestState) IsActive() bool {
	switch s {
	case StatePending, StateSupervisorApproved, StateHRApproved, StateInUse:
		return true
	}
	return false
}

func (s RequestState) Valid() bool {
	return s.IsActive() || s.IsTerminal()
}

// Request is owned by the workflow. Once created only the state, approver
// identities and timestamps change.
type Request struct {
	ID         RequestID
	UserID     UserID
	Department string // requester's department at submission
	LeaveType  LeaveType
	StartDate  Date
	EndDate    Date
	Quantity   decimal.Decimal
	HalfDay    bool
	Reason     string

	State RequestState

	SupervisorApprover  *UserID
	SupervisorDecidedAt *time.Time
	HRApprover          *UserID
	HRDecidedAt         *time.Time
	RejectedBy          *UserID
	RejectedAt          *time.Time
	RejectionReason     string
	StartedAt           *time.Time
	CompletedAt         *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// BalanceKey returns the balance this request draws from: the year of its
// start date.
func (r Request) BalanceKey() BalanceKey {
	return BalanceKey{UserID: r.UserID, LeaveType: r.LeaveType, Year: r.StartDate.Year()}
}

// Target returns the request as a permission target.
func (r Request) Target() Target {
	return Target{UserID: r.UserID, Department: r.Department}
}

// =============================================================================
// ACTOR - The caller, passed explicitly into every core operation
// =============================================================================

type Actor struct {
	ID           UserID
	Department   string
	Roles        []string
	Capabilities CapabilitySet
}

// Self returns the actor as a permission target.
func (a Actor) Self() Target {
	return Target{UserID: a.ID, Department: a.Department}
}

// =============================================================================
// OPERATION INPUTS
// =============================================================================

type AssignMode string

const (
	AssignReplace  AssignMode = "replace"
	AssignAdd      AssignMode = "add"
	AssignSubtract AssignMode = "subtract"
)

type AssignInput struct {
	UserID    UserID
	LeaveType LeaveType
	Year      int
	Amount    decimal.Decimal
	Mode      AssignMode
	ExpiresAt *Date
	Note      string
}

type SubmitInput struct {
	LeaveType LeaveType
	StartDate Date
	EndDate   Date
	HalfDay   bool
	Reason    string
}

type RejectInput struct {
	RequestID RequestID
	Reason    string
}

// RequestQuery narrows ListRequests. Empty fields match everything the
// actor is allowed to see.
type RequestQuery struct {
	UserID     UserID
	Department string
	States     []RequestState
	From       *Date
	To         *Date
}
