package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/vigil/internal/metrics"
	"github.com/gyaneshwarpardhi/vigil/internal/queue"
)

// Level is one rung of the escalation ladder: how long after the
// previous rung it fires, and over which channel.
type Level struct {
	Delay  time.Duration
	Method string // "email" | "call"
}

// Scheduler creates escalation steps and keeps the wake-up queue in
// step with the relational store. The store is authoritative; a queue
// write failure is a degradation (logged), never an error that rolls
// back the step.
type Scheduler struct {
	steps  StepStore
	q      queue.Queue
	ladder []Level
	now    func() time.Time
}

// NewScheduler creates a scheduler over the given ladder, ordered by
// level (ladder[0] is level 1).
func NewScheduler(steps StepStore, q queue.Queue, ladder []Level) *Scheduler {
	return &Scheduler{steps: steps, q: q, ladder: ladder, now: time.Now}
}

// WithClock overrides the scheduler's clock. Test hook.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// MaxLevels returns the height of the ladder.
func (s *Scheduler) MaxLevels() int { return len(s.ladder) }

// LevelConf returns the configuration of the given 1-based level.
func (s *Scheduler) LevelConf(level int) (Level, bool) {
	if level < 1 || level > len(s.ladder) {
		return Level{}, false
	}
	return s.ladder[level-1], true
}

// ScheduleFirst inserts level 1 as PENDING and indexes it.
func (s *Scheduler) ScheduleFirst(ctx context.Context, incidentID string) error {
	return s.Schedule(ctx, incidentID, 1)
}

// Schedule inserts the given level as PENDING, due delay(level) from
// now, and indexes it in the wake-up queue.
func (s *Scheduler) Schedule(ctx context.Context, incidentID string, level int) error {
	lv, ok := s.LevelConf(level)
	if !ok {
		return fmt.Errorf("escalation level %d out of range (max %d)", level, len(s.ladder))
	}
	step := &Step{
		ID:          uuid.New().String(),
		IncidentID:  incidentID,
		Level:       level,
		Status:      StepPending,
		ScheduledAt: s.now().Add(lv.Delay),
		CreatedAt:   s.now(),
	}
	if err := s.steps.Create(ctx, step); err != nil {
		return fmt.Errorf("create escalation step level %d: %w", level, err)
	}
	if err := s.q.Enqueue(ctx, step.ID, step.ScheduledAt); err != nil {
		// The step is persisted; reconciliation re-indexes it.
		slog.Warn("escalation queue degraded, step will be reconciled",
			"step_id", step.ID, "incident_id", incidentID, "err", err)
	}
	return nil
}

// CancelAll cancels every still-PENDING step of the incident and drops
// them from the queue.
func (s *Scheduler) CancelAll(ctx context.Context, incidentID string) error {
	ids, err := s.steps.CancelPending(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("cancel pending steps for incident %s: %w", incidentID, err)
	}
	for _, id := range ids {
		if err := s.q.Remove(ctx, id); err != nil {
			// Harmless: the worker re-reads the step and sees CANCELLED.
			slog.Warn("queue remove degraded", "step_id", id, "err", err)
		}
	}
	return nil
}

// Reconcile rebuilds the wake-up queue from the relational table. The
// queue is a derived index: this pass is the crash-recovery path and
// runs regularly, not just at startup.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	pending, err := s.steps.Pending(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: list pending steps: %w", err)
	}
	for _, step := range pending {
		if err := s.q.Enqueue(ctx, step.ID, step.ScheduledAt); err != nil {
			return fmt.Errorf("reconcile: enqueue step %s: %w", step.ID, err)
		}
	}
	metrics.QueueRebuilds.Inc()
	if len(pending) > 0 {
		slog.Info("escalation queue reconciled", "steps", len(pending))
	}
	return nil
}
