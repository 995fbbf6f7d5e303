package leave

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// AUDIT - Fire-and-forget record of who did what
// =============================================================================

type AuditAction string

const (
	AuditBalanceAssigned    AuditAction = "balance_assigned"
	AuditRequestSubmitted   AuditAction = "request_submitted"
	AuditSupervisorApproved AuditAction = "request_supervisor_approved"
	AuditHRApproved         AuditAction = "request_hr_approved"
	AuditRequestRejected    AuditAction = "request_rejected"
	AuditLeaveStarted       AuditAction = "leave_started"
	AuditLeaveCompleted     AuditAction = "leave_completed"
)

type AuditEvent struct {
	ID         string
	At         time.Time
	ActorID    UserID
	Action     AuditAction
	EntityType string // "leave_balance" or "leave_request"
	EntityID   string
	Details    map[string]any
}

// AuditSink receives audit events. Implementations may fail; the core
// never sees the failure.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// AuditRecorder hands events to a sink asynchronously and swallows errors.
type AuditRecorder struct {
	sink   AuditSink
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewAuditRecorder(sink AuditSink, logger *zap.Logger) *AuditRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditRecorder{sink: sink, logger: logger.Named("leave.audit")}
}

// Record dispatches event without waiting. Must be called after commit.
func (r *AuditRecorder) Record(event AuditEvent) {
	if r == nil || r.sink == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("audit sink panicked",
					zap.String("action", string(event.Action)),
					zap.Any("panic", p),
				)
			}
		}()

		// Detached from the caller's context: the HTTP request may be gone.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := r.sink.Record(ctx, event); err != nil {
			r.logger.Warn("audit record failed",
				zap.String("action", string(event.Action)),
				zap.String("entity_id", event.EntityID),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until all dispatched events have been handed to the sink.
func (r *AuditRecorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

// LogSink writes audit events to a zap logger.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Record(_ context.Context, e AuditEvent) error {
	s.Logger.Named("audit").Info("audit event",
		zap.String("timestamp", e.At.UTC().Format(time.RFC3339)),
		zap.String("actor_id", string(e.ActorID)),
		zap.String("action", string(e.Action)),
		zap.String("entity_type", e.EntityType),
		zap.String("entity_id", e.EntityID),
		zap.Any("details", e.Details),
	)
	return nil
}
