package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gyaneshwarpardhi/vigil/internal/channel"
	"github.com/gyaneshwarpardhi/vigil/internal/event"
	"github.com/gyaneshwarpardhi/vigil/internal/incident"
	"github.com/gyaneshwarpardhi/vigil/internal/metrics"
	"github.com/gyaneshwarpardhi/vigil/internal/queue"
	"github.com/gyaneshwarpardhi/vigil/internal/store"
)

// WorkerConfig tunes the escalation worker.
type WorkerConfig struct {
	PollInterval      time.Duration
	ReconcileInterval time.Duration
	BatchSize         int
}

// Worker advances escalation ladders. It is cooperative and
// self-rescheduling: after each pass it picks its next wake time based
// on whether work was found. Every pass re-reads the step and incident
// from the relational store and never trusts the queue payload, which
// makes passes idempotent and needs no in-flight guard.
type Worker struct {
	steps     StepStore
	incidents incident.Store
	events    event.Store
	sched     *Scheduler
	q         queue.Queue
	email     channel.EmailSender
	calls     channel.CallPlacer
	directory channel.Directory
	cfg       WorkerConfig
	now       func() time.Time
}

// NewWorker creates an escalation worker.
func NewWorker(steps StepStore, incidents incident.Store, events event.Store, sched *Scheduler, q queue.Queue, email channel.EmailSender, calls channel.CallPlacer, directory channel.Directory, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Worker{
		steps:     steps,
		incidents: incidents,
		events:    events,
		sched:     sched,
		q:         q,
		email:     email,
		calls:     calls,
		directory: directory,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock overrides the worker's clock. Test hook.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Start runs the worker loop until ctx is cancelled. A reconciliation
// pass runs first, so a restart recovers any pending steps whose queue
// entries were lost.
func (w *Worker) Start(ctx context.Context) {
	if err := w.sched.Reconcile(ctx); err != nil {
		slog.Error("startup reconciliation failed", "err", err)
	}
	lastReconcile := w.now()

	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			if w.now().Sub(lastReconcile) >= w.cfg.ReconcileInterval {
				if err := w.sched.Reconcile(ctx); err != nil {
					slog.Error("reconciliation failed", "err", err)
				}
				lastReconcile = w.now()
			}
			n, err := w.Pass(ctx)
			if err != nil {
				slog.Error("escalation pass failed", "err", err)
			}
			// Drain promptly while work is flowing; back off when idle.
			if n > 0 {
				timer.Reset(500 * time.Millisecond)
			} else {
				timer.Reset(w.cfg.PollInterval)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Pass pops all due queue entries (bounded) and advances each one.
// Returns the number of steps handled.
func (w *Worker) Pass(ctx context.Context) (int, error) {
	keys, err := w.q.PopDue(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("pop due escalations: %w", err)
	}
	for _, key := range keys {
		if err := w.handleStep(ctx, key); err != nil {
			slog.Error("escalation step failed", "step_id", key, "err", err)
		}
	}
	return len(keys), nil
}

func (w *Worker) handleStep(ctx context.Context, stepID string) error {
	step, err := w.steps.Get(ctx, stepID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil // stale queue entry
		}
		return err
	}
	if step.Status != StepPending {
		return nil // already handled; the pop removed the stale index entry
	}

	inc, err := w.incidents.Get(ctx, step.IncidentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_, serr := w.steps.UpdateStatus(ctx, step.ID, StepPending, StepCancelled, nil)
			return serr
		}
		// Transient: re-index so the step retries next tick.
		_ = w.q.Enqueue(ctx, step.ID, w.now().Add(w.cfg.PollInterval))
		return err
	}
	if inc.State != incident.StateEscalating {
		// The incident moved on; the ladder stops here. CANCELLED, not
		// SKIPPED: skipped means an unreachable rung with the ladder
		// continuing, cancelled means the ladder itself is over.
		if _, err := w.steps.UpdateStatus(ctx, step.ID, StepPending, StepCancelled, nil); err != nil {
			return err
		}
		slog.Info("escalation step cancelled", "step_id", step.ID, "incident_state", string(inc.State))
		return nil
	}

	final := StepExecuted
	if err := w.notify(ctx, step, inc); err != nil {
		var sk *channel.SkippableError
		if !errors.As(err, &sk) {
			// Transient: leave PENDING and re-index for the next tick.
			_ = w.q.Enqueue(ctx, step.ID, w.now().Add(w.cfg.PollInterval))
			return err
		}
		// No usable contact for this level; record it and move the
		// ladder along rather than spinning.
		slog.Warn("escalation notification skipped", "step_id", step.ID, "reason", sk.Reason)
		final = StepSkipped
	}

	now := w.now()
	var executedAt *time.Time
	if final == StepExecuted {
		executedAt = &now
	}
	won, err := w.steps.UpdateStatus(ctx, step.ID, StepPending, final, executedAt)
	if err != nil {
		return err
	}
	if !won {
		return nil // raced with a cancel or another worker
	}
	if final == StepExecuted {
		metrics.EscalationsExecuted.WithLabelValues(strconv.Itoa(step.Level)).Inc()
	}

	if step.Level >= w.sched.MaxLevels() {
		return nil // top of the ladder
	}
	// Only chain while the incident is still escalating at this moment.
	cur, err := w.incidents.Get(ctx, step.IncidentID)
	if err != nil {
		return err
	}
	if cur.State != incident.StateEscalating {
		return nil
	}
	return w.sched.Schedule(ctx, step.IncidentID, step.Level+1)
}

// notify delivers the escalation notification for the step's level.
func (w *Worker) notify(ctx context.Context, step *Step, inc *incident.Incident) error {
	lv, ok := w.sched.LevelConf(step.Level)
	if !ok {
		return fmt.Errorf("no ladder config for level %d", step.Level)
	}
	subject := fmt.Sprintf("Escalation level %d: %s", step.Level, inc.Type)
	body := fmt.Sprintf("Incident %s (%s, severity %s) is still unresolved. Consequence: %s.",
		inc.ID, inc.Type, inc.Severity, inc.Consequence)

	if lv.Method == "call" {
		phone, err := w.directory.Phone(ctx, inc.UserID)
		if err != nil {
			return err
		}
		req := channel.CallRequest{
			To:      phone,
			Script:  body,
			UserID:  inc.UserID,
			EventID: inc.EventID,
		}
		if inc.EventID != "" {
			if ev, err := w.events.Get(ctx, inc.EventID); err == nil {
				req.AnchorAt = ev.OccurredAt
			}
		}
		res, err := w.calls.Place(ctx, req)
		if err != nil {
			return err
		}
		if res != nil && res.Status == channel.CallRateLimited {
			return &channel.SkippableError{Reason: "call cap reached"}
		}
		return nil
	}

	to, err := w.directory.Email(ctx, inc.UserID)
	if err != nil {
		return err
	}
	return w.email.Send(ctx, channel.EmailMessage{Recipient: to, Subject: subject, Body: body})
}
