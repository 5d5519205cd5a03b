package incident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/vigil/internal/metrics"
)

// ErrNoteRequired is returned when resolving without a resolution note.
var ErrNoteRequired = errors.New("resolution note is required")

// InvalidTransitionError reports an illegal state-machine move. It is
// surfaced to the caller as a distinct error, never coerced to a no-op.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid incident transition %s → %s", e.From, e.To)
}

// transitions is the full table of legal moves. RESOLVED and CANCELLED
// are terminal and have no entry.
var transitions = map[State][]State{
	StateOpen:         {StateAcknowledged, StateEscalating, StateCancelled},
	StateAcknowledged: {StateResolved},
	StateEscalating:   {StateResolved, StateCancelled},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Escalator is the slice of the escalation scheduler the state machine
// drives as a transition side effect.
type Escalator interface {
	// ScheduleFirst inserts and indexes level 1 of the ladder.
	ScheduleFirst(ctx context.Context, incidentID string) error
	// CancelAll cancels every still-PENDING step of the incident.
	CancelAll(ctx context.Context, incidentID string) error
}

// Machine applies validated state transitions to incidents and triggers
// escalation scheduling as a side effect. Side-effect failures never
// roll back the persisted state change; the escalation worker reconciles
// on its next pass.
type Machine struct {
	store     Store
	escalator Escalator
}

// NewMachine creates a state machine over the given store and escalator.
func NewMachine(store Store, escalator Escalator) *Machine {
	return &Machine{store: store, escalator: escalator}
}

// Acknowledge moves the incident to ACKNOWLEDGED.
func (m *Machine) Acknowledge(ctx context.Context, id string) (*Incident, error) {
	return m.transition(ctx, id, StateAcknowledged, "")
}

// Escalate moves the incident to ESCALATING and schedules level 1 of
// the escalation ladder.
func (m *Machine) Escalate(ctx context.Context, id string) (*Incident, error) {
	return m.transition(ctx, id, StateEscalating, "")
}

// Resolve moves the incident to RESOLVED. A non-empty resolution note
// is required.
func (m *Machine) Resolve(ctx context.Context, id, note string) (*Incident, error) {
	if note == "" {
		return nil, ErrNoteRequired
	}
	return m.transition(ctx, id, StateResolved, note)
}

// Cancel moves the incident to CANCELLED. The note is optional.
func (m *Machine) Cancel(ctx context.Context, id, note string) (*Incident, error) {
	return m.transition(ctx, id, StateCancelled, note)
}

func (m *Machine) transition(ctx context.Context, id string, to State, note string) (*Incident, error) {
	inc, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(inc.State, to) {
		return nil, &InvalidTransitionError{From: inc.State, To: to}
	}

	var resolvedAt *time.Time
	if to == StateResolved {
		now := time.Now()
		resolvedAt = &now
	}
	ok, err := m.store.UpdateState(ctx, id, inc.State, to, note, resolvedAt)
	if err != nil {
		return nil, fmt.Errorf("update incident %s: %w", id, err)
	}
	if !ok {
		// Lost a race with a concurrent transition; re-read so the error
		// names the actual current state.
		if cur, gerr := m.store.Get(ctx, id); gerr == nil {
			return nil, &InvalidTransitionError{From: cur.State, To: to}
		}
		return nil, &InvalidTransitionError{From: inc.State, To: to}
	}
	metrics.IncidentTransitions.WithLabelValues(string(to)).Inc()

	// Side effects. Failures are logged, not rolled back: the persisted
	// state is authoritative and the escalation worker self-heals.
	switch {
	case to == StateEscalating:
		if err := m.escalator.ScheduleFirst(ctx, id); err != nil {
			slog.Error("escalation scheduling degraded", "incident_id", id, "err", err)
		}
	case to.IsTerminal():
		if err := m.escalator.CancelAll(ctx, id); err != nil {
			slog.Error("escalation cancellation degraded", "incident_id", id, "err", err)
		}
	}

	inc.State = to
	if note != "" {
		inc.ResolutionNote = note
	}
	inc.ResolvedAt = resolvedAt
	return inc, nil
}
