package incident

import (
	"context"
	"time"
)

// Store persists incidents. State changes go through UpdateState, a
// conditional update keyed on the current state so that concurrent
// transitions cannot clobber each other.
type Store interface {
	Create(ctx context.Context, inc *Incident) error
	Get(ctx context.Context, id string) (*Incident, error)

	// HasActiveForEvent reports whether a non-terminal incident of the
	// given type already exists for the event. This makes repeated rule
	// evaluation of the same event safe.
	HasActiveForEvent(ctx context.Context, eventID, incType string) (bool, error)

	// UpdateState moves the incident from from to to, recording the
	// resolution note and timestamp where applicable. A false result
	// means the incident was not in the expected from state.
	UpdateState(ctx context.Context, id string, from, to State, note string, resolvedAt *time.Time) (bool, error)
}
