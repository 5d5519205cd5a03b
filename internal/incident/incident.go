package incident

import "time"

// State is the lifecycle state of an incident.
type State string

const (
	StateOpen         State = "OPEN"
	StateAcknowledged State = "ACKNOWLEDGED"
	StateEscalating   State = "ESCALATING"
	StateResolved     State = "RESOLVED"
	StateCancelled    State = "CANCELLED"
)

// IsTerminal reports whether s has no outgoing transitions.
func (s State) IsTerminal() bool {
	return s == StateResolved || s == StateCancelled
}

// Incident is a tracked, stateful response to a condition judged serious
// enough to require resolution or acknowledgement. Created by the rule
// engine or by explicit user action; mutated only through validated
// state transitions.
type Incident struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	EventID        string     `json:"event_id,omitempty"`
	Category       string     `json:"category"`
	Type           string     `json:"type"`
	Severity       string     `json:"severity"` // "LOW", "MEDIUM", "HIGH", "CRITICAL"
	Consequence    string     `json:"consequence"`
	State          State      `json:"state"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
