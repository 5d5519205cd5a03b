// Package queue provides the time-ordered wake-up index used by the
// escalation worker. The queue is strictly a derived index over the
// relational step table: losing it degrades scheduling promptness,
// never correctness, and it is rebuilt by the worker's reconciliation
// pass.
package queue

import (
	"context"
	"time"
)

// Queue is a min-priority structure keyed by due timestamp.
type Queue interface {
	// Enqueue indexes key at dueAt. Re-enqueueing an existing key moves it.
	Enqueue(ctx context.Context, key string, dueAt time.Time) error
	// PopDue removes and returns up to limit keys due at or before max,
	// soonest first.
	PopDue(ctx context.Context, max time.Time, limit int) ([]string, error)
	// Remove drops key from the index. Removing an absent key is a no-op.
	Remove(ctx context.Context, key string) error
}
