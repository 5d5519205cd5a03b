package escalation

import (
	"context"
	"time"
)

// StepStatus is the lifecycle state of one escalation step.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepExecuted  StepStatus = "EXECUTED"
	StepCancelled StepStatus = "CANCELLED"
	StepSkipped   StepStatus = "SKIPPED"
)

// Step is one rung of an incident's escalation ladder. Levels are
// strictly increasing and at most one step per incident is PENDING at
// a time. The relational store is the source of truth for steps; the
// wake-up queue is a derived index.
type Step struct {
	ID          string     `json:"id"`
	IncidentID  string     `json:"incident_id"`
	Level       int        `json:"level"` // 1..maxLevels
	Status      StepStatus `json:"status"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// StepStore persists escalation steps.
type StepStore interface {
	Create(ctx context.Context, s *Step) error
	Get(ctx context.Context, id string) (*Step, error)

	// UpdateStatus flips the step from from to to, recording executedAt
	// when set. A false result means the step was not in from status.
	UpdateStatus(ctx context.Context, id string, from, to StepStatus, executedAt *time.Time) (bool, error)

	// CancelPending cancels every still-PENDING step of the incident and
	// returns their ids so the caller can drop them from the queue.
	CancelPending(ctx context.Context, incidentID string) ([]string, error)

	// Pending returns all PENDING steps, used to rebuild the wake-up
	// queue after a crash.
	Pending(ctx context.Context) ([]*Step, error)
}
