package alert

import "time"

// Status is the lifecycle state of a scheduled alert.
// Legal transitions are PENDING→DELIVERED and PENDING→CANCELLED; a
// DELIVERED alert is immutable for audit purposes.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// Alert is a single scheduled, at-most-once notification tied to an
// event and a named stage. Created by the rule engine; mutated only by
// the delivery worker through conditional updates.
type Alert struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	EventID     string     `json:"event_id,omitempty"` // back-reference, may be empty
	Category    string     `json:"category"`
	AlertType   string     `json:"alert_type"` // e.g. "MEETING_UPCOMING_EMAIL", "MEETING_CRITICAL_CALL"
	ScheduledAt time.Time  `json:"scheduled_at"`
	Status      Status     `json:"status"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
