package event

import (
	"strings"
	"time"
)

// Category buckets events by life domain.
type Category string

const (
	CategoryMeeting  Category = "MEETING"
	CategoryFinance  Category = "FINANCE"
	CategoryHealth   Category = "HEALTH"
	CategoryDelivery Category = "DELIVERY"
	CategorySecurity Category = "SECURITY"
	CategoryOther    Category = "OTHER"
)

// IsValid reports whether c is one of the defined categories.
func (c Category) IsValid() bool {
	switch c {
	case CategoryMeeting, CategoryFinance, CategoryHealth, CategoryDelivery, CategorySecurity, CategoryOther:
		return true
	default:
		return false
	}
}

// ParseCategory normalizes a string to a Category, defaulting to OTHER.
func ParseCategory(s string) Category {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if c.IsValid() {
		return c
	}
	return CategoryOther
}

// Event is an immutable fact about the world, anchored to the moment it
// concerns (e.g. a meeting's start time). Events are created once by an
// ingestion collaborator and never mutated or deleted here.
type Event struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	Source     string                 `json:"source"` // "calendar_sync", "api", etc.
	Category   Category               `json:"category"`
	Type       string                 `json:"type"` // "meeting_scheduled", "payment_failed", etc.
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Resolve walks a dot-separated path into the event's fields.
// Top-level segments: "event" for identity fields, "payload" for
// arbitrary payload data.
func (e *Event) Resolve(path []string) (interface{}, bool) {
	if len(path) == 0 {
		return nil, false
	}
	switch path[0] {
	case "payload":
		if e.Payload == nil {
			return nil, false
		}
		return resolveMap(e.Payload, path[1:])
	case "event":
		if len(path) < 2 {
			return nil, false
		}
		switch path[1] {
		case "id":
			return e.ID, true
		case "user_id":
			return e.UserID, true
		case "source":
			return e.Source, true
		case "category":
			return string(e.Category), true
		case "type":
			return e.Type, true
		}
	}
	return nil, false
}

func resolveMap(m map[string]interface{}, path []string) (interface{}, bool) {
	if len(path) == 0 {
		return nil, false
	}
	val, ok := m[path[0]]
	if !ok {
		return nil, false
	}
	if len(path) == 1 {
		return val, true
	}
	sub, ok := val.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return resolveMap(sub, path[1:])
}
