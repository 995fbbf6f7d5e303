/*
ledger.go - Balance ledger with optimistic concurrency

PURPOSE:
  The Ledger owns the per-(user, leave type, year) balance row. It is the
  only code that changes Assigned, Used or Pending, and it never lets a row
  leave the invariant Used + Pending <= Assigned.

OPERATIONS:
  Assign   replace | add | subtract the assigned amount (supersedes the row)
  Reserve  Pending += days        (submission)
  Release  Pending -= days        (rejection, clamped at zero)
  Consume  Pending -= days, Used += days   (leave starts)
  Finalize bookkeeping marker     (leave completes, no change)

CONCURRENCY:
  Every mutation reads the row, computes the new counters and writes them
  back with UpdateBalance(row, expectedVersion). If another writer got
  there first the store answers ErrConcurrentModification and the whole
  read-modify-write is retried from a fresh read, up to MaxAttempts times.

RE-ASSIGNMENT:
  Assign on an existing row marks it superseded and inserts a new active
  row carrying Used and Pending forward. History is never deleted.

SEE ALSO:
  - store.go: conditional write contract
  - workflow.go: drives reserve/release/consume inside its own transaction
*/
package leave

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultMaxAttempts = 3

// Options configures Ledger and Workflow.
type Options struct {
	Clock       Clock
	Logger      *zap.Logger
	Audit       *AuditRecorder
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store       Store
	clock       Clock
	logger      *zap.Logger
	audit       *AuditRecorder
	maxAttempts int
}

func NewLedger(store Store, opts Options) *Ledger {
	opts = opts.withDefaults()
	return &Ledger{
		store:       store,
		clock:       opts.Clock,
		logger:      opts.Logger.Named("leave.ledger"),
		audit:       opts.Audit,
		maxAttempts: opts.MaxAttempts,
	}
}

// GetBalance returns the active balance for (user, leaveType, year).
func (l *Ledger) GetBalance(ctx context.Context, user UserID, leaveType LeaveType, year int) (*Balance, error) {
	b, err := l.store.FindActiveBalance(ctx, BalanceKey{UserID: user, LeaveType: leaveType, Year: year})
	if err != nil {
		return nil, wrapStorage("get balance", err)
	}
	return b, nil
}

// ListBalances returns the user's active balances.
func (l *Ledger) ListBalances(ctx context.Context, user UserID) ([]Balance, error) {
	bs, err := l.store.ListBalances(ctx, BalanceFilter{UserID: user})
	if err != nil {
		return nil, wrapStorage("list balances", err)
	}
	return bs, nil
}

// History returns every row ever assigned for the key, newest first.
func (l *Ledger) History(ctx context.Context, key BalanceKey) ([]Balance, error) {
	bs, err := l.store.ListBalances(ctx, BalanceFilter{
		UserID:            key.UserID,
		LeaveType:         key.LeaveType,
		Year:              key.Year,
		IncludeSuperseded: true,
	})
	if err != nil {
		return nil, wrapStorage("balance history", err)
	}
	if len(bs) == 0 {
		return nil, ErrNotFound
	}
	return bs, nil
}

// Assign sets, raises or lowers the assigned days of a balance.
func (l *Ledger) Assign(ctx context.Context, in AssignInput, by UserID) (*Balance, error) {
	if err := validateAssign(in); err != nil {
		return nil, err
	}

	key := BalanceKey{UserID: in.UserID, LeaveType: in.LeaveType, Year: in.Year}
	l.logger.Debug("assign balance requested",
		zap.String("user_id", string(in.UserID)),
		zap.String("leave_type", string(in.LeaveType)),
		zap.Int("year", in.Year),
		zap.String("mode", string(in.Mode)),
		zap.String("amount", in.Amount.String()),
	)

	var out *Balance
	err := withRetry(ctx, l.maxAttempts, l.logger, "assign", func() error {
		return l.store.WithTx(ctx, func(tx Tx) error {
			b, err := l.assignIn(ctx, tx, key, in, by)
			out = b
			return err
		})
	})
	if err != nil {
		l.logFailure("assign balance failed", err, zap.String("user_id", string(in.UserID)))
		return nil, wrapStorage("assign", err)
	}

	l.logger.Info("assign balance success",
		zap.String("balance_id", string(out.ID)),
		zap.String("assigned", out.Assigned.String()),
		zap.Int64("version", out.Version),
	)
	l.audit.Record(AuditEvent{
		ID:         uuid.NewString(),
		At:         l.clock.Now(),
		ActorID:    by,
		Action:     AuditBalanceAssigned,
		EntityType: "leave_balance",
		EntityID:   string(out.ID),
		Details: map[string]any{
			"mode":     string(in.Mode),
			"amount":   in.Amount.String(),
			"assigned": out.Assigned.String(),
			"version":  out.Version,
		},
	})
	return out, nil
}

func validateAssign(in AssignInput) error {
	if in.UserID == "" || in.LeaveType == "" || in.Year <= 0 {
		return fmt.Errorf("%w: user, leave type and year are required", ErrInvalidInput)
	}
	if in.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}
	switch in.Mode {
	case AssignReplace, AssignAdd, AssignSubtract:
		return nil
	}
	return fmt.Errorf("%w: unknown assign mode %q", ErrInvalidInput, in.Mode)
}

func (l *Ledger) assignIn(ctx context.Context, tx Tx, key BalanceKey, in AssignInput, by UserID) (*Balance, error) {
	now := l.clock.Now()

	cur, err := tx.FindActiveBalance(ctx, key)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}

	if cur == nil {
		if in.Mode != AssignReplace {
			return nil, fmt.Errorf("%w: no balance to %s for %s/%s/%d",
				ErrNotFound, in.Mode, key.UserID, key.LeaveType, key.Year)
		}
		b := Balance{
			ID:         BalanceID(uuid.NewString()),
			UserID:     key.UserID,
			LeaveType:  key.LeaveType,
			Year:       key.Year,
			Assigned:   in.Amount,
			Used:       decimal.Zero,
			Pending:    decimal.Zero,
			Status:     BalanceActive,
			Version:    1,
			ExpiresAt:  in.ExpiresAt,
			Note:       in.Note,
			AssignedBy: by,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertBalance(ctx, b); err != nil {
			return nil, err
		}
		return &b, nil
	}

	var assigned decimal.Decimal
	switch in.Mode {
	case AssignReplace:
		assigned = in.Amount
	case AssignAdd:
		assigned = cur.Assigned.Add(in.Amount)
	case AssignSubtract:
		assigned = decimal.Max(decimal.Zero, cur.Assigned.Sub(in.Amount))
	}

	next := *cur
	next.ID = BalanceID(uuid.NewString())
	next.Assigned = assigned
	next.Version = cur.Version + 1
	next.ExpiresAt = in.ExpiresAt
	next.Note = in.Note
	next.AssignedBy = by
	next.CreatedAt = now
	next.UpdatedAt = now
	if !next.Consistent() {
		return nil, &InsufficientBalanceError{
			BalanceID: cur.ID,
			Available: assigned,
			Requested: cur.Committed(),
		}
	}

	old := *cur
	old.Status = BalanceSuperseded
	old.Version = cur.Version + 1
	old.UpdatedAt = now
	if err := tx.UpdateBalance(ctx, old, cur.Version); err != nil {
		return nil, err
	}
	if err := tx.InsertBalance(ctx, next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Reserve holds days against a balance: Pending += days.
func (l *Ledger) Reserve(ctx context.Context, id BalanceID, days decimal.Decimal) (*Balance, error) {
	return l.mutate(ctx, "reserve", id, reserveDays(days))
}

// Release returns held days: Pending -= days, clamped at zero.
func (l *Ledger) Release(ctx context.Context, id BalanceID, days decimal.Decimal) (*Balance, error) {
	return l.mutate(ctx, "release", id, releaseDays(days))
}

// Consume converts held days into used days.
func (l *Ledger) Consume(ctx context.Context, id BalanceID, days decimal.Decimal) (*Balance, error) {
	return l.mutate(ctx, "consume", id, consumeDays(days))
}

// Finalize marks the end of a request's life against a balance. The days
// were counted as used by Consume, so the row is returned unchanged.
func (l *Ledger) Finalize(ctx context.Context, id BalanceID) (*Balance, error) {
	b, err := l.store.GetBalance(ctx, id)
	if err != nil {
		return nil, wrapStorage("finalize", err)
	}
	if b.Status != BalanceActive {
		return nil, fmt.Errorf("%w: balance %s is superseded", ErrNotFound, id)
	}
	return b, nil
}

// =============================================================================
// READ-MODIFY-WRITE
// =============================================================================

type balanceChange func(b *Balance) error

func reserveDays(days decimal.Decimal) balanceChange {
	return func(b *Balance) error {
		if !days.IsPositive() {
			return fmt.Errorf("%w: days must be positive", ErrInvalidInput)
		}
		if b.Available().LessThan(days) {
			return &InsufficientBalanceError{BalanceID: b.ID, Available: b.Available(), Requested: days}
		}
		b.Pending = b.Pending.Add(days)
		return nil
	}
}

func releaseDays(days decimal.Decimal) balanceChange {
	return func(b *Balance) error {
		if !days.IsPositive() {
			return fmt.Errorf("%w: days must be positive", ErrInvalidInput)
		}
		b.Pending = decimal.Max(decimal.Zero, b.Pending.Sub(days))
		return nil
	}
}

func consumeDays(days decimal.Decimal) balanceChange {
	return func(b *Balance) error {
		if !days.IsPositive() {
			return fmt.Errorf("%w: days must be positive", ErrInvalidInput)
		}
		b.Pending = decimal.Max(decimal.Zero, b.Pending.Sub(days))
		b.Used = b.Used.Add(days)
		return nil
	}
}

func (l *Ledger) mutate(ctx context.Context, op string, id BalanceID, change balanceChange) (*Balance, error) {
	var out *Balance
	err := withRetry(ctx, l.maxAttempts, l.logger, op, func() error {
		return l.store.WithTx(ctx, func(tx Tx) error {
			b, err := tx.GetBalance(ctx, id)
			if err != nil {
				return err
			}
			if b.Status != BalanceActive {
				return fmt.Errorf("%w: balance %s is superseded", ErrNotFound, id)
			}
			out, err = l.apply(ctx, tx, *b, change)
			return err
		})
	})
	if err != nil {
		l.logFailure(op+" failed", err, zap.String("balance_id", string(id)))
		return nil, wrapStorage(op, err)
	}
	return out, nil
}

// apply computes the change on a copy of b and writes it conditioned on
// b.Version. The invariant is checked before anything is written.
func (l *Ledger) apply(ctx context.Context, tx Tx, b Balance, change balanceChange) (*Balance, error) {
	next := b
	if err := change(&next); err != nil {
		return nil, err
	}
	if !next.Consistent() {
		return nil, &InsufficientBalanceError{
			BalanceID: b.ID,
			Available: b.Available(),
			Requested: next.Committed().Sub(b.Committed()),
		}
	}
	next.Version = b.Version + 1
	next.UpdatedAt = l.clock.Now()
	if err := tx.UpdateBalance(ctx, next, b.Version); err != nil {
		return nil, err
	}
	return &next, nil
}

func (l *Ledger) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if IsClientError(err) || IsNotFound(err) || IsRetryable(err) || IsPermissionDenied(err) {
		l.logger.Warn(msg, fields...)
		return
	}
	l.logger.Error(msg, fields...)
}

// =============================================================================
// RETRY
// =============================================================================

// withRetry runs fn until it returns something other than
// ErrConcurrentModification or attempts are exhausted.
func withRetry(ctx context.Context, attempts int, logger *zap.Logger, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if !IsRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", err, ctxErr)
		}
		logger.Debug("concurrent modification, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
		)
	}
	return err
}
