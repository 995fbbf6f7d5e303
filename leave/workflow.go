/*
workflow.go - Leave request state machine

PURPOSE:
  Moves a leave request from submission to completion and keeps the
  balance ledger in step with it. Every transition writes the request and
  its balance in one store transaction.

STATE MACHINE:
  pending ──supervisor──► supervisor_approved ──hr──► hr_approved
     │  └──────────────────────hr──────────────────────►  │
     │                                                    ▼ start (today >= start)
     ├─supervisor reject─► supervisor_rejected          in_use
     └─hr reject (also from supervisor_approved)─► rejected │
                                                            ▼ complete (today > end)
                                                         completed

LEDGER EFFECTS:
  submit   reserve   (Pending += quantity)
  reject   release   (Pending -= quantity)
  start    consume   (Pending -> Used)
  complete finalize  (no change)

CONCURRENCY:
  The request write is conditioned on the state it was read in, the
  balance write on its version. Losing either race is
  ErrConcurrentModification and the transition is retried from a fresh
  read. Of two concurrent deciders exactly one wins; the other sees the
  new state and fails with ErrInvalidTransition.

SEE ALSO:
  - ledger.go: balance arithmetic
  - permission.go: capability checks
  - overlap.go: date collision check
*/
package leave

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SystemActorID is the identity the scheduler acts as.
const SystemActorID UserID = "system"

// SystemActor returns the actor used for time-driven transitions.
func SystemActor() Actor {
	return Actor{
		ID:           SystemActorID,
		Roles:        []string{"system"},
		Capabilities: MustCapabilities("requests.schedule", "requests.view_all"),
	}
}

type Workflow struct {
	store       Store
	ledger      *Ledger
	gate        PermissionGate
	overlap     *OverlapValidator
	audit       *AuditRecorder
	clock       Clock
	logger      *zap.Logger
	maxAttempts int
}

func NewWorkflow(store Store, ledger *Ledger, opts Options) *Workflow {
	opts = opts.withDefaults()
	return &Workflow{
		store:       store,
		ledger:      ledger,
		overlap:     &OverlapValidator{Reader: store},
		audit:       opts.Audit,
		clock:       opts.Clock,
		logger:      opts.Logger.Named("leave.workflow"),
		maxAttempts: opts.MaxAttempts,
	}
}

// Overlap exposes the validator for pre-submission checks.
func (w *Workflow) Overlap() *OverlapValidator { return w.overlap }

// Gate returns the permission gate the workflow checks against.
func (w *Workflow) Gate() PermissionGate { return w.gate }

// =============================================================================
// SUBMIT
// =============================================================================

// Submit creates a pending request for the actor and reserves its days.
// Checks run in order: permission, start not in the past, end not before
// start, no overlap, enough balance.
func (w *Workflow) Submit(ctx context.Context, actor Actor, in SubmitInput) (*Request, error) {
	w.logger.Debug("submit request",
		zap.String("user_id", string(actor.ID)),
		zap.String("leave_type", string(in.LeaveType)),
		zap.String("start_date", in.StartDate.String()),
		zap.String("end_date", in.EndDate.String()),
	)

	if err := w.gate.Require(actor, CapCreateRequests, actor.Self()); err != nil {
		w.logger.Warn("submit request denied", zap.String("user_id", string(actor.ID)))
		return nil, err
	}
	if in.LeaveType == "" {
		return nil, fmt.Errorf("%w: leave type is required", ErrInvalidInput)
	}

	today := w.clock.Today()
	if in.StartDate.Before(today) {
		return nil, fmt.Errorf("%w: start date %s is before today %s", ErrInvalidDateRange, in.StartDate, today)
	}
	quantity, err := CountDays(in.StartDate, in.EndDate, in.HalfDay)
	if err != nil {
		return nil, err
	}

	now := w.clock.Now()
	req := Request{
		ID:         RequestID(uuid.NewString()),
		UserID:     actor.ID,
		Department: actor.Department,
		LeaveType:  in.LeaveType,
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		Quantity:   quantity,
		HalfDay:    in.HalfDay,
		Reason:     in.Reason,
		State:      StatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var balance *Balance
	err = withRetry(ctx, w.maxAttempts, w.logger, "submit", func() error {
		return w.store.WithTx(ctx, func(tx Tx) error {
			if err := w.overlap.Check(ctx, tx, req.UserID, req.StartDate, req.EndDate, nil); err != nil {
				return err
			}
			b, err := tx.FindActiveBalance(ctx, req.BalanceKey())
			if err != nil {
				return err
			}
			balance, err = w.ledger.apply(ctx, tx, *b, reserveDays(quantity))
			if err != nil {
				return err
			}
			return tx.InsertRequest(ctx, req)
		})
	})
	if err != nil {
		w.logFailure("submit request failed", err, zap.String("user_id", string(actor.ID)))
		return nil, wrapStorage("submit", err)
	}

	w.logger.Info("submit request success",
		zap.String("request_id", string(req.ID)),
		zap.String("quantity", quantity.String()),
		zap.String("pending", balance.Pending.String()),
	)
	w.record(actor.ID, AuditRequestSubmitted, req, map[string]any{
		"leave_type": string(req.LeaveType),
		"start_date": req.StartDate.String(),
		"end_date":   req.EndDate.String(),
		"quantity":   quantity.String(),
	})
	return &req, nil
}

// =============================================================================
// DECISIONS
// =============================================================================

// SupervisorApprove moves a pending request of the supervisor's department
// to supervisor_approved.
func (w *Workflow) SupervisorApprove(ctx context.Context, actor Actor, id RequestID) (*Request, error) {
	return w.transition(ctx, actor, id, "supervisor approve", AuditSupervisorApproved,
		func(_ Tx, r *Request) error {
			if err := w.requireDecider(actor, CapApproveSupervisor, *r); err != nil {
				return err
			}
			if r.State != StatePending {
				return &TransitionError{RequestID: r.ID, From: r.State, Action: "supervisor approve"}
			}
			by, at := actor.ID, w.clock.Now()
			r.State = StateSupervisorApproved
			r.SupervisorApprover = &by
			r.SupervisorDecidedAt = &at
			return nil
		})
}

// HRApprove gives final approval from pending or supervisor_approved.
func (w *Workflow) HRApprove(ctx context.Context, actor Actor, id RequestID) (*Request, error) {
	return w.transition(ctx, actor, id, "approve", AuditHRApproved,
		func(_ Tx, r *Request) error {
			if err := w.requireDecider(actor, CapApproveFinal, *r); err != nil {
				return err
			}
			if r.State != StatePending && r.State != StateSupervisorApproved {
				return &TransitionError{RequestID: r.ID, From: r.State, Action: "approve"}
			}
			by, at := actor.ID, w.clock.Now()
			r.State = StateHRApproved
			r.HRApprover = &by
			r.HRDecidedAt = &at
			return nil
		})
}

// Reject ends a request and releases its reserved days. An actor holding
// final approval rejects at the HR stage (pending or supervisor_approved ->
// rejected); a supervisor rejects only pending requests
// (-> supervisor_rejected).
func (w *Workflow) Reject(ctx context.Context, actor Actor, in RejectInput) (*Request, error) {
	return w.transition(ctx, actor, in.RequestID, "reject", AuditRequestRejected,
		func(tx Tx, r *Request) error {
			var next RequestState
			switch {
			case w.gate.HasCapability(actor, CapApproveFinal, r.Target()):
				if err := w.requireDecider(actor, CapApproveFinal, *r); err != nil {
					return err
				}
				if r.State != StatePending && r.State != StateSupervisorApproved {
					return &TransitionError{RequestID: r.ID, From: r.State, Action: "reject"}
				}
				next = StateRejected
			default:
				if err := w.requireDecider(actor, CapApproveSupervisor, *r); err != nil {
					return err
				}
				if r.State != StatePending {
					return &TransitionError{RequestID: r.ID, From: r.State, Action: "reject"}
				}
				next = StateSupervisorRejected
			}

			if err := w.changeBalance(ctx, tx, *r, releaseDays(r.Quantity)); err != nil {
				return err
			}

			by, at := actor.ID, w.clock.Now()
			r.State = next
			r.RejectedBy = &by
			r.RejectedAt = &at
			r.RejectionReason = in.Reason
			return nil
		})
}

// =============================================================================
// TIME-DRIVEN TRANSITIONS
// =============================================================================

// StartLeave moves an approved request whose start date has arrived to
// in_use, converting its reserved days to used days.
func (w *Workflow) StartLeave(ctx context.Context, actor Actor, id RequestID) (*Request, error) {
	return w.transition(ctx, actor, id, "start", AuditLeaveStarted,
		func(tx Tx, r *Request) error {
			if err := w.gate.Require(actor, CapScheduleRequests, r.Target()); err != nil {
				return err
			}
			if r.State != StateHRApproved {
				return &TransitionError{RequestID: r.ID, From: r.State, Action: "start"}
			}
			if today := w.clock.Today(); today.Before(r.StartDate) {
				return fmt.Errorf("leave starts %s, today is %s: %w", r.StartDate, today,
					&TransitionError{RequestID: r.ID, From: r.State, Action: "start"})
			}

			if err := w.changeBalance(ctx, tx, *r, consumeDays(r.Quantity)); err != nil {
				return err
			}

			at := w.clock.Now()
			r.State = StateInUse
			r.StartedAt = &at
			return nil
		})
}

// CompleteLeave closes an in_use request once its end date has passed.
func (w *Workflow) CompleteLeave(ctx context.Context, actor Actor, id RequestID) (*Request, error) {
	return w.transition(ctx, actor, id, "complete", AuditLeaveCompleted,
		func(tx Tx, r *Request) error {
			if err := w.gate.Require(actor, CapScheduleRequests, r.Target()); err != nil {
				return err
			}
			if r.State != StateInUse {
				return &TransitionError{RequestID: r.ID, From: r.State, Action: "complete"}
			}
			if today := w.clock.Today(); !today.After(r.EndDate) {
				return fmt.Errorf("leave ends %s, today is %s: %w", r.EndDate, today,
					&TransitionError{RequestID: r.ID, From: r.State, Action: "complete"})
			}

			// Days were counted as used on start; the row must still exist.
			if _, err := tx.FindActiveBalance(ctx, r.BalanceKey()); err != nil {
				return err
			}

			at := w.clock.Now()
			r.State = StateCompleted
			r.CompletedAt = &at
			return nil
		})
}

// Due returns the requests a scheduler pass should advance on today:
// approved requests that have started and in-use requests that have ended.
func (w *Workflow) Due(ctx context.Context, today Date) ([]Request, error) {
	starting, err := w.store.ListRequests(ctx, RequestFilter{
		States: []RequestState{StateHRApproved},
		To:     &today,
	})
	if err != nil {
		return nil, wrapStorage("due requests", err)
	}
	inUse, err := w.store.ListRequests(ctx, RequestFilter{States: []RequestState{StateInUse}})
	if err != nil {
		return nil, wrapStorage("due requests", err)
	}

	due := starting
	for _, r := range inUse {
		if r.EndDate.Before(today) {
			due = append(due, r)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].StartDate.Before(due[j].StartDate) })
	return due, nil
}

// =============================================================================
// READS
// =============================================================================

func (w *Workflow) GetRequest(ctx context.Context, actor Actor, id RequestID) (*Request, error) {
	r, err := w.store.GetRequest(ctx, id)
	if err != nil {
		return nil, wrapStorage("get request", err)
	}
	if err := w.gate.Require(actor, CapViewRequests, r.Target()); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRequests returns the requests matching q that the actor may see.
// Asking for records outside the actor's scope is PermissionDenied rather
// than a silently narrowed result.
func (w *Workflow) ListRequests(ctx context.Context, actor Actor, q RequestQuery) ([]Request, error) {
	filter := RequestFilter{
		UserID:     q.UserID,
		Department: q.Department,
		States:     q.States,
		From:       q.From,
		To:         q.To,
	}

	scope, _ := w.gate.ScopeOf(actor, CapViewRequests)
	denied := &PermissionError{ActorID: actor.ID, Capability: CapViewRequests}

	switch scope {
	case ScopeAll:
	case ScopeDepartment:
		if q.UserID == actor.ID {
			break
		}
		if actor.Department == "" || (q.Department != "" && q.Department != actor.Department) {
			return nil, denied
		}
		filter.Department = actor.Department
	default:
		if q.UserID != "" && q.UserID != actor.ID {
			return nil, denied
		}
		if q.Department != "" && q.Department != actor.Department {
			return nil, denied
		}
		filter.UserID = actor.ID
	}

	rs, err := w.store.ListRequests(ctx, filter)
	if err != nil {
		return nil, wrapStorage("list requests", err)
	}
	return rs, nil
}

// =============================================================================
// BALANCE ACCESS - Ledger operations behind the permission gate
// =============================================================================

// Balances returns the target user's active balances.
func (w *Workflow) Balances(ctx context.Context, actor Actor, target Target) ([]Balance, error) {
	if err := w.gate.Require(actor, CapViewBalances, target); err != nil {
		return nil, err
	}
	return w.ledger.ListBalances(ctx, target.UserID)
}

func (w *Workflow) Balance(ctx context.Context, actor Actor, target Target, leaveType LeaveType, year int) (*Balance, error) {
	if err := w.gate.Require(actor, CapViewBalances, target); err != nil {
		return nil, err
	}
	return w.ledger.GetBalance(ctx, target.UserID, leaveType, year)
}

func (w *Workflow) BalanceHistory(ctx context.Context, actor Actor, target Target, leaveType LeaveType, year int) ([]Balance, error) {
	if err := w.gate.Require(actor, CapViewBalances, target); err != nil {
		return nil, err
	}
	return w.ledger.History(ctx, BalanceKey{UserID: target.UserID, LeaveType: leaveType, Year: year})
}

// AssignBalance applies an administrative assignment.
func (w *Workflow) AssignBalance(ctx context.Context, actor Actor, in AssignInput) (*Balance, error) {
	if err := w.gate.Require(actor, CapAssignBalances, Target{UserID: in.UserID}); err != nil {
		w.logger.Warn("assign balance denied", zap.String("actor_id", string(actor.ID)))
		return nil, err
	}
	return w.ledger.Assign(ctx, in, actor.ID)
}

// =============================================================================
// HELPERS
// =============================================================================

type requestChange func(tx Tx, r *Request) error

// transition runs change against a fresh read of the request inside one
// transaction, then writes the request conditioned on the state it was
// read in.
func (w *Workflow) transition(ctx context.Context, actor Actor, id RequestID, action string, audit AuditAction, change requestChange) (*Request, error) {
	w.logger.Debug("transition requested",
		zap.String("action", action),
		zap.String("request_id", string(id)),
		zap.String("actor_id", string(actor.ID)),
	)

	var (
		out  Request
		from RequestState
	)
	err := withRetry(ctx, w.maxAttempts, w.logger, action, func() error {
		return w.store.WithTx(ctx, func(tx Tx) error {
			r, err := tx.GetRequest(ctx, id)
			if err != nil {
				return err
			}
			next := *r
			if err := change(tx, &next); err != nil {
				return err
			}
			next.UpdatedAt = w.clock.Now()
			if err := tx.UpdateRequest(ctx, next, r.State); err != nil {
				return err
			}
			out, from = next, r.State
			return nil
		})
	})
	if err != nil {
		w.logFailure(action+" failed", err,
			zap.String("request_id", string(id)),
			zap.String("actor_id", string(actor.ID)),
		)
		return nil, wrapStorage(action, err)
	}

	w.logger.Info(action+" success",
		zap.String("request_id", string(id)),
		zap.String("from", string(from)),
		zap.String("to", string(out.State)),
	)
	w.record(actor.ID, audit, out, map[string]any{
		"from": string(from),
		"to":   string(out.State),
	})
	return &out, nil
}

// requireDecider checks c on the request and forbids deciding one's own.
func (w *Workflow) requireDecider(actor Actor, c Capability, r Request) error {
	if err := w.gate.Require(actor, c, r.Target()); err != nil {
		return err
	}
	if r.UserID == actor.ID {
		return &PermissionError{ActorID: actor.ID, Capability: c, Reason: "cannot decide own request"}
	}
	return nil
}

// changeBalance applies change to the request's balance inside tx.
func (w *Workflow) changeBalance(ctx context.Context, tx Tx, r Request, change balanceChange) error {
	b, err := tx.FindActiveBalance(ctx, r.BalanceKey())
	if err != nil {
		return err
	}
	_, err = w.ledger.apply(ctx, tx, *b, change)
	return err
}

func (w *Workflow) record(actor UserID, action AuditAction, r Request, details map[string]any) {
	w.audit.Record(AuditEvent{
		ID:         uuid.NewString(),
		At:         w.clock.Now(),
		ActorID:    actor,
		Action:     action,
		EntityType: "leave_request",
		EntityID:   string(r.ID),
		Details:    details,
	})
}

func (w *Workflow) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if IsClientError(err) || IsNotFound(err) || IsRetryable(err) || IsPermissionDenied(err) {
		w.logger.Warn(msg, fields...)
		return
	}
	w.logger.Error(msg, fields...)
}
