package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/vigil/internal/alert"
	"github.com/gyaneshwarpardhi/vigil/internal/event"
	"github.com/gyaneshwarpardhi/vigil/internal/incident"
	"github.com/gyaneshwarpardhi/vigil/internal/metrics"
)

// Decision is the outcome of evaluating one event against the ruleset.
// Reasons holds one human-readable line per rule evaluated, match or
// not, for observability.
type Decision struct {
	AlertsScheduled []*alert.Alert `json:"alerts_scheduled"`
	IncidentCreated bool           `json:"incident_created"`
	IncidentID      string         `json:"incident_id,omitempty"`
	Reasons         []string       `json:"reasons"`
}

// Engine maps timestamped events to scheduled alerts and incidents.
// Deterministic given the same event and clock; its only side effects
// are the alert/incident store inserts.
type Engine struct {
	alerts    alert.Store
	incidents incident.Store
	minLead   time.Duration
	now       func() time.Time
}

// NewEngine creates a rule engine. minLead is the minimum-actionability
// guard: no alert is scheduled when at most that much time remains
// until the event's anchor.
func NewEngine(alerts alert.Store, incidents incident.Store, minLead time.Duration) *Engine {
	return &Engine{alerts: alerts, incidents: incidents, minLead: minLead, now: time.Now}
}

// WithClock overrides the engine's clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Evaluate runs every rule of the event's category against the event.
// Repeated evaluation of the same event is safe: the (eventID,
// alertType) idempotency check and the per-event incident check skip
// anything already persisted.
func (e *Engine) Evaluate(ctx context.Context, rs *Ruleset, ev *event.Event) (*Decision, error) {
	d := &Decision{}
	cr := rs.Category(ev.Category)
	if cr == nil {
		d.Reasons = append(d.Reasons, fmt.Sprintf("no rules configured for category %s", ev.Category))
		return d, nil
	}

	for _, r := range cr.AlertRules {
		if err := e.evalAlertRule(ctx, &r, ev, d); err != nil {
			return d, err
		}
	}
	if cr.IncidentRule != nil {
		if err := e.evalIncidentRule(ctx, cr.IncidentRule, ev, d); err != nil {
			return d, err
		}
	}
	return d, nil
}

func (e *Engine) evalAlertRule(ctx context.Context, r *AlertRule, ev *event.Event, d *Decision) error {
	matched, why, err := matchPredicates(r.Predicates, ev)
	if err != nil {
		d.Reasons = append(d.Reasons, fmt.Sprintf("rule %s: evaluation error: %s", r.Name, err))
		return nil
	}
	if !matched {
		d.Reasons = append(d.Reasons, fmt.Sprintf("rule %s: no match: %s", r.Name, why))
		return nil
	}

	now := e.now()
	scheduledAt := ev.OccurredAt.Add(r.Offset)

	if r.Offset < 0 {
		// The rule is eligible only inside [occurredAt−|offset|, occurredAt].
		if now.Before(scheduledAt) {
			d.Reasons = append(d.Reasons, fmt.Sprintf("rule %s: window opens at %s", r.Name, scheduledAt.Format(time.RFC3339)))
			return nil
		}
	} else if r.Offset == 0 {
		scheduledAt = now
	}
	if now.After(ev.OccurredAt) {
		// Never retroactively schedule once the anchor has passed.
		d.Reasons = append(d.Reasons, fmt.Sprintf("rule %s: window closed at %s", r.Name, ev.OccurredAt.Format(time.RFC3339)))
		return nil
	}
	if ev.OccurredAt.Sub(now) <= e.minLead {
		d.Reasons = append(d.Reasons, fmt.Sprintf("rule %s: too close to be actionable (%s lead)", r.Name, ev.OccurredAt.Sub(now)))
		return nil
	}

	exists, err := e.alerts.HasActive(ctx, ev.ID, r.AlertType)
	if err != nil {
		return fmt.Errorf("rule %s: idempotency check: %w", r.Name, err)
	}
	if exists {
		d.Reasons = append(d.Reasons, fmt.Sprintf("rule %s: alert %s already scheduled for event %s", r.Name, r.AlertType, ev.ID))
		return nil
	}

	a := &alert.Alert{
		ID:          uuid.New().String(),
		UserID:      ev.UserID,
		EventID:     ev.ID,
		Category:    string(ev.Category),
		AlertType:   r.AlertType,
		ScheduledAt: scheduledAt,
		Status:      alert.StatusPending,
		CreatedAt:   now,
	}
	if err := e.alerts.Create(ctx, a); err != nil {
		return fmt.Errorf("rule %s: create alert: %w", r.Name, err)
	}
	d.AlertsScheduled = append(d.AlertsScheduled, a)
	d.Reasons = append(d.Reasons, fmt.Sprintf("rule %s: matched, %s scheduled at %s", r.Name, r.AlertType, scheduledAt.Format(time.RFC3339)))
	metrics.AlertsScheduled.WithLabelValues(r.AlertType).Inc()
	return nil
}

func (e *Engine) evalIncidentRule(ctx context.Context, r *IncidentRule, ev *event.Event, d *Decision) error {
	matched, why, err := matchPredicates(r.Predicates, ev)
	if err != nil {
		d.Reasons = append(d.Reasons, fmt.Sprintf("incident rule %s: evaluation error: %s", r.Name, err))
		return nil
	}
	if !matched {
		d.Reasons = append(d.Reasons, fmt.Sprintf("incident rule %s: no match: %s", r.Name, why))
		return nil
	}

	exists, err := e.incidents.HasActiveForEvent(ctx, ev.ID, r.Type)
	if err != nil {
		return fmt.Errorf("incident rule %s: idempotency check: %w", r.Name, err)
	}
	if exists {
		d.Reasons = append(d.Reasons, fmt.Sprintf("incident rule %s: incident %s already open for event %s", r.Name, r.Type, ev.ID))
		return nil
	}

	inc := &incident.Incident{
		ID:          uuid.New().String(),
		UserID:      ev.UserID,
		EventID:     ev.ID,
		Category:    string(ev.Category),
		Type:        r.Type,
		Severity:    r.Severity,
		Consequence: r.Consequence,
		State:       incident.StateOpen,
		CreatedAt:   e.now(),
	}
	if err := e.incidents.Create(ctx, inc); err != nil {
		return fmt.Errorf("incident rule %s: create incident: %w", r.Name, err)
	}
	d.IncidentCreated = true
	d.IncidentID = inc.ID
	d.Reasons = append(d.Reasons, fmt.Sprintf("incident rule %s: matched, incident %s created (severity %s)", r.Name, inc.ID, r.Severity))
	metrics.IncidentsCreated.WithLabelValues(r.Type, r.Severity).Inc()
	return nil
}
