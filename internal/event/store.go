package event

import "context"

// Store persists events. Events are append-only: there is no update or
// delete operation.
type Store interface {
	Create(ctx context.Context, ev *Event) error
	Get(ctx context.Context, id string) (*Event, error)
}
