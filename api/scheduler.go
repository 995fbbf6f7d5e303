/*
scheduler.go - Time-driven request transitions

PURPOSE:
  Periodically moves requests along the calendar-driven edges of the
  workflow: hr_approved -> in_use once the start date has arrived, and
  in_use -> completed once the end date has passed.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Acts as the built-in system actor (requests.schedule)
  - Each request is advanced independently; a failure is logged and the
    pass moves on
  - Losing a race to a manual start/complete is expected and harmless:
    the workflow reports an invalid transition and nothing changes

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewTransitionScheduler(workflow, clock, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - leave/workflow.go: StartLeave, CompleteLeave, Due
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// TransitionScheduler advances requests whose dates have come.
type TransitionScheduler struct {
	Workflow      *leave.Workflow
	Clock         leave.Clock
	Metrics       *Metrics
	CheckInterval time.Duration
	Enabled       bool

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// SchedulerRun summarizes one pass.
type SchedulerRun struct {
	Started   int
	Completed int
	Failed    int
}

// NewTransitionScheduler creates a new scheduler.
func NewTransitionScheduler(workflow *leave.Workflow, clock leave.Clock, logger *zap.Logger) *TransitionScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransitionScheduler{
		Workflow:      workflow,
		Clock:         clock,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		logger:        logger.Named("scheduler"),
	}
}

// Start begins the scheduler.
func (ts *TransitionScheduler) Start() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.Enabled {
		ts.logger.Info("scheduler disabled, not starting")
		return
	}
	if ts.ticker != nil {
		return
	}

	ts.ticker = time.NewTicker(ts.CheckInterval)
	ts.stop = make(chan struct{})
	ts.wg.Add(1)

	go ts.run()

	ts.logger.Info("scheduler started", zap.Duration("check_interval", ts.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight pass.
func (ts *TransitionScheduler) Stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.ticker != nil {
		ts.ticker.Stop()
		close(ts.stop)
		ts.wg.Wait()
		ts.ticker = nil
		ts.logger.Info("scheduler stopped")
	}
}

func (ts *TransitionScheduler) run() {
	defer ts.wg.Done()

	// Run immediately on start
	ts.RunNow(context.Background())

	for {
		select {
		case <-ts.ticker.C:
			ts.RunNow(context.Background())
		case <-ts.stop:
			return
		}
	}
}

// RunNow performs one pass (for testing/admin).
func (ts *TransitionScheduler) RunNow(ctx context.Context) SchedulerRun {
	var run SchedulerRun
	today := ts.Clock.Today()
	system := leave.SystemActor()

	due, err := ts.Workflow.Due(ctx, today)
	if err != nil {
		ts.logger.Error("listing due requests failed", zap.Error(err))
		return run
	}

	for _, r := range due {
		var (
			action string
			err    error
		)
		switch r.State {
		case leave.StateHRApproved:
			action = "start"
			_, err = ts.Workflow.StartLeave(ctx, system, r.ID)
		case leave.StateInUse:
			action = "complete"
			_, err = ts.Workflow.CompleteLeave(ctx, system, r.ID)
		default:
			continue
		}
		ts.Metrics.ObserveTransition(action, err)

		if err != nil {
			run.Failed++
			ts.logger.Warn("scheduled transition failed",
				zap.String("action", action),
				zap.String("request_id", string(r.ID)),
				zap.Error(err),
			)
			continue
		}
		if ts.Metrics != nil {
			ts.Metrics.schedulerAdvanced.Inc()
		}
		if action == "start" {
			run.Started++
		} else {
			run.Completed++
		}
	}

	if run.Started > 0 || run.Completed > 0 || run.Failed > 0 {
		ts.logger.Info("scheduler pass completed",
			zap.String("today", today.String()),
			zap.Int("started", run.Started),
			zap.Int("completed", run.Completed),
			zap.Int("failed", run.Failed),
		)
	}
	return run
}

// NextRunTime returns when the next scheduled check will occur.
func (ts *TransitionScheduler) NextRunTime() time.Time {
	return time.Now().Add(ts.CheckInterval)
}
