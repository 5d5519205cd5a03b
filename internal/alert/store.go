package alert

import (
	"context"
	"time"
)

// Store persists alerts. All mutations are conditional updates: the
// boolean result reports whether this caller won the update, so that
// concurrent workers can race safely without a separate lock.
type Store interface {
	Create(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id string) (*Alert, error)

	// HasActive reports whether a PENDING or DELIVERED alert already
	// exists for (eventID, alertType). This is the rule engine's
	// idempotency check.
	HasActive(ctx context.Context, eventID, alertType string) (bool, error)

	// DuePending returns PENDING alerts with scheduledAt <= now,
	// oldest-scheduled first, at most limit.
	DuePending(ctx context.Context, now time.Time, limit int) ([]*Alert, error)

	// MarkDelivered flips PENDING→DELIVERED. A false result means another
	// worker already delivered (or cancelled) the alert.
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)

	// MarkCancelled flips PENDING→CANCELLED.
	MarkCancelled(ctx context.Context, id string, at time.Time) (bool, error)
}
