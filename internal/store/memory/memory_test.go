package memory

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/vigil/internal/alert"
	"github.com/gyaneshwarpardhi/vigil/internal/escalation"
	"github.com/gyaneshwarpardhi/vigil/internal/event"
	"github.com/gyaneshwarpardhi/vigil/internal/store"
)

func TestEventPayloadRoundTrip(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()
	ev := &event.Event{
		ID:       "evt-1",
		UserID:   "user-1",
		Source:   "api",
		Category: event.CategoryMeeting,
		Type:     "meeting_scheduled",
		Payload: map[string]interface{}{
			"title":      "launch review",
			"importance": 3.0,
			"attendees":  []interface{}{"ana", "bo"},
			"location":   map[string]interface{}{"room": "4B", "floor": 2.0},
		},
		OccurredAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	if err := s.Create(ctx, ev); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "evt-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got.Payload, ev.Payload) {
		t.Errorf("payload round trip\n got: %#v\nwant: %#v", got.Payload, ev.Payload)
	}

	// The stored copy is isolated from caller mutation.
	ev.Payload["title"] = "changed"
	again, _ := s.Get(ctx, "evt-1")
	if again.Payload["title"] != "launch review" {
		t.Error("stored payload aliased the caller's map")
	}
}

func TestEventStoreNotFound(t *testing.T) {
	s := NewEventStore()
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestEventCreateDuplicate(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()
	ev := &event.Event{ID: "evt-dup", UserID: "user-1", Category: event.CategoryMeeting,
		Type: "meeting_scheduled", OccurredAt: time.Now()}
	if err := s.Create(ctx, ev); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, ev); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("Create(duplicate) = %v, want ErrAlreadyExists", err)
	}
}

func TestAlertConditionalUpdates(t *testing.T) {
	s := NewAlertStore()
	ctx := context.Background()
	now := time.Now()
	a := &alert.Alert{
		ID: "a1", UserID: "u1", EventID: "e1", Category: "MEETING",
		AlertType: "MEETING_UPCOMING_EMAIL", ScheduledAt: now.Add(-time.Minute),
		Status: alert.StatusPending, CreatedAt: now,
	}
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	won, err := s.MarkDelivered(ctx, "a1", now)
	if err != nil || !won {
		t.Fatalf("first MarkDelivered = (%v, %v), want (true, nil)", won, err)
	}
	won, err = s.MarkDelivered(ctx, "a1", now)
	if err != nil || won {
		t.Fatalf("second MarkDelivered = (%v, %v), want (false, nil)", won, err)
	}
	if ok, _ := s.MarkCancelled(ctx, "a1", now); ok {
		t.Error("MarkCancelled succeeded on a delivered alert")
	}

	got, _ := s.Get(ctx, "a1")
	if got.Status != alert.StatusDelivered || got.DeliveredAt == nil {
		t.Errorf("status = %s deliveredAt = %v", got.Status, got.DeliveredAt)
	}
}

func TestAlertHasActive(t *testing.T) {
	s := NewAlertStore()
	ctx := context.Background()
	now := time.Now()
	a := &alert.Alert{
		ID: "a1", UserID: "u1", EventID: "e1", Category: "MEETING",
		AlertType: "MEETING_UPCOMING_EMAIL", ScheduledAt: now,
		Status: alert.StatusPending, CreatedAt: now,
	}
	_ = s.Create(ctx, a)

	if ok, _ := s.HasActive(ctx, "e1", "MEETING_UPCOMING_EMAIL"); !ok {
		t.Error("pending alert should count as active")
	}
	if ok, _ := s.HasActive(ctx, "e1", "OTHER_TYPE"); ok {
		t.Error("different alert type should not count")
	}

	s.MarkDelivered(ctx, "a1", now)
	if ok, _ := s.HasActive(ctx, "e1", "MEETING_UPCOMING_EMAIL"); !ok {
		t.Error("delivered alert still counts as active for idempotency")
	}

	b := *a
	b.ID = "a2"
	b.AlertType = "X"
	_ = s.Create(ctx, &b)
	s.MarkCancelled(ctx, "a2", now)
	if ok, _ := s.HasActive(ctx, "e1", "X"); ok {
		t.Error("cancelled alert should not count as active")
	}
}

func TestDuePendingOrderAndLimit(t *testing.T) {
	s := NewAlertStore()
	ctx := context.Background()
	now := time.Now()
	for i, offset := range []time.Duration{-3 * time.Minute, -time.Minute, -2 * time.Minute, time.Hour} {
		a := &alert.Alert{
			ID: string(rune('a' + i)), UserID: "u1", EventID: "e1", Category: "MEETING",
			AlertType: "T", ScheduledAt: now.Add(offset), Status: alert.StatusPending, CreatedAt: now,
		}
		if err := s.Create(ctx, a); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	due, err := s.DuePending(ctx, now, 2)
	if err != nil {
		t.Fatalf("DuePending: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due alerts, want 2", len(due))
	}
	if !due[0].ScheduledAt.Before(due[1].ScheduledAt) {
		t.Error("due alerts not oldest first")
	}
}

func TestStepCancelPending(t *testing.T) {
	s := NewStepStore()
	ctx := context.Background()
	now := time.Now()

	mk := func(id, incID string, status escalation.StepStatus) {
		if err := s.Create(ctx, &escalation.Step{
			ID: id, IncidentID: incID, Level: 1, Status: status,
			ScheduledAt: now, CreatedAt: now,
		}); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	mk("s1", "inc-1", escalation.StepPending)
	mk("s2", "inc-1", escalation.StepExecuted)
	mk("s3", "inc-2", escalation.StepPending)

	ids, err := s.CancelPending(ctx, "inc-1")
	if err != nil {
		t.Fatalf("CancelPending: %v", err)
	}
	if len(ids) != 1 || ids[0] != "s1" {
		t.Errorf("cancelled %v, want [s1]", ids)
	}
	got, _ := s.Get(ctx, "s2")
	if got.Status != escalation.StepExecuted {
		t.Error("executed step was touched")
	}
	other, _ := s.Get(ctx, "s3")
	if other.Status != escalation.StepPending {
		t.Error("other incident's step was touched")
	}

	pending, _ := s.Pending(ctx)
	if len(pending) != 1 || pending[0].ID != "s3" {
		t.Errorf("Pending = %v, want [s3]", pending)
	}
}

func TestStepUpdateStatusConditional(t *testing.T) {
	s := NewStepStore()
	ctx := context.Background()
	now := time.Now()
	_ = s.Create(ctx, &escalation.Step{
		ID: "s1", IncidentID: "inc-1", Level: 1,
		Status: escalation.StepPending, ScheduledAt: now, CreatedAt: now,
	})

	ok, err := s.UpdateStatus(ctx, "s1", escalation.StepPending, escalation.StepExecuted, &now)
	if err != nil || !ok {
		t.Fatalf("UpdateStatus = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = s.UpdateStatus(ctx, "s1", escalation.StepPending, escalation.StepCancelled, nil)
	if err != nil || ok {
		t.Fatalf("stale UpdateStatus = (%v, %v), want (false, nil)", ok, err)
	}
	if _, err := s.UpdateStatus(ctx, "missing", escalation.StepPending, escalation.StepExecuted, nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("UpdateStatus(missing) err = %v, want ErrNotFound", err)
	}
}
