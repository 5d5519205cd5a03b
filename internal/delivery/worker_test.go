package delivery_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/vigil/internal/alert"
	"github.com/gyaneshwarpardhi/vigil/internal/channel"
	"github.com/gyaneshwarpardhi/vigil/internal/config"
	"github.com/gyaneshwarpardhi/vigil/internal/delivery"
	"github.com/gyaneshwarpardhi/vigil/internal/event"
	"github.com/gyaneshwarpardhi/vigil/internal/rules"
	"github.com/gyaneshwarpardhi/vigil/internal/store/memory"
)

type fakeEmail struct {
	mu      sync.Mutex
	sent    []channel.EmailMessage
	err     error
	entered chan struct{} // closed on first Send, when non-nil
	block   chan struct{} // Send waits on it, when non-nil
}

func (f *fakeEmail) Send(_ context.Context, msg channel.EmailMessage) error {
	f.mu.Lock()
	if f.entered != nil {
		close(f.entered)
		f.entered = nil
	}
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeEmail) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeProvider struct {
	mu    sync.Mutex
	dials []string
	err   error
}

func (f *fakeProvider) Dial(_ context.Context, to, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.dials = append(f.dials, to)
	return "call-" + to, nil
}

type fixture struct {
	alerts  *memory.AlertStore
	events  *memory.EventStore
	email   *fakeEmail
	dialer  *fakeProvider
	caller  *channel.Caller
	worker  *delivery.Worker
	now     time.Time
	ruleset *rules.Ruleset
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.RuleConfig{
		Version: "1",
		Categories: map[string]config.CategoryConf{
			"MEETING": {
				StageRank: []string{"MEETING_CRITICAL_CALL", "MEETING_URGENT_EMAIL", "MEETING_UPCOMING_EMAIL"},
				AlertRules: []config.AlertRuleConf{
					{Name: "upcoming", AlertType: "MEETING_UPCOMING_EMAIL", OffsetMinutes: -12,
						Conditions: []config.ConditionConf{{Field: "event.type", Op: "==", Value: "meeting_scheduled"}}},
					{Name: "urgent", AlertType: "MEETING_URGENT_EMAIL", OffsetMinutes: -5,
						Conditions: []config.ConditionConf{{Field: "event.type", Op: "==", Value: "meeting_scheduled"}}},
					{Name: "critical", AlertType: "MEETING_CRITICAL_CALL", OffsetMinutes: -2, Channel: "call",
						Conditions: []config.ConditionConf{{Field: "event.type", Op: "==", Value: "meeting_scheduled"}}},
				},
			},
		},
	}
	rs, err := rules.Build(cfg)
	require.NoError(t, err)

	now := time.Date(2026, 3, 14, 9, 58, 0, 0, time.UTC)
	f := &fixture{
		alerts:  memory.NewAlertStore(),
		events:  memory.NewEventStore(),
		email:   &fakeEmail{},
		dialer:  &fakeProvider{},
		now:     now,
		ruleset: rs,
	}
	f.caller = channel.NewCaller(f.dialer, channel.CallerConfig{
		CriticalWindow: 3 * time.Minute,
		MaxPerEvent:    2,
	}).WithClock(func() time.Time { return f.now })

	directory := &channel.StaticDirectory{
		Emails: map[string]string{
			"user-1":       "u1@example.com",
			"user-badaddr": "not-an-address",
		},
		Phones: map[string]string{"user-1": "+15551230001"},
	}
	f.worker = delivery.New(f.alerts, f.events, f.email, f.caller, directory,
		func() *rules.Ruleset { return rs },
		delivery.Config{PollInterval: time.Second, BatchSize: 100, SendTimeout: time.Second},
	).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) seedEvent(t *testing.T, anchor time.Time) *event.Event {
	t.Helper()
	ev := &event.Event{
		ID:         uuid.New().String(),
		UserID:     "user-1",
		Source:     "calendar_sync",
		Category:   event.CategoryMeeting,
		Type:       "meeting_scheduled",
		Payload:    map[string]interface{}{"title": "launch review"},
		OccurredAt: anchor,
		CreatedAt:  f.now,
	}
	require.NoError(t, f.events.Create(context.Background(), ev))
	return ev
}

func (f *fixture) seedAlert(t *testing.T, ev *event.Event, alertType string, scheduledAt time.Time) *alert.Alert {
	t.Helper()
	a := &alert.Alert{
		ID:          uuid.New().String(),
		UserID:      ev.UserID,
		EventID:     ev.ID,
		Category:    string(ev.Category),
		AlertType:   alertType,
		ScheduledAt: scheduledAt,
		Status:      alert.StatusPending,
		CreatedAt:   f.now,
	}
	require.NoError(t, f.alerts.Create(context.Background(), a))
	return a
}

func (f *fixture) status(t *testing.T, id string) alert.Status {
	t.Helper()
	a, err := f.alerts.Get(context.Background(), id)
	require.NoError(t, err)
	return a.Status
}

// A downtime that released three stages of the same meeting at once
// must deliver only the most urgent one; the stale stages collapse.
func TestPollCollapsesSupersededStages(t *testing.T) {
	f := newFixture(t)
	anchor := f.now.Add(2 * time.Minute)
	ev := f.seedEvent(t, anchor)

	upcoming := f.seedAlert(t, ev, "MEETING_UPCOMING_EMAIL", anchor.Add(-12*time.Minute))
	urgent := f.seedAlert(t, ev, "MEETING_URGENT_EMAIL", anchor.Add(-5*time.Minute))
	critical := f.seedAlert(t, ev, "MEETING_CRITICAL_CALL", anchor.Add(-2*time.Minute))

	rep, err := f.worker.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Count)
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, 0, rep.Failed)

	assert.Equal(t, alert.StatusDelivered, f.status(t, critical.ID))
	assert.Equal(t, alert.StatusCancelled, f.status(t, upcoming.ID))
	assert.Equal(t, alert.StatusCancelled, f.status(t, urgent.ID))

	assert.Len(t, f.dialer.dials, 1, "exactly one call placed")
	assert.Equal(t, 0, f.email.sentCount(), "no email for collapsed stages")
}

// A lower-ranked alert scheduled after the winner carries information
// the winner predates and is delivered, not collapsed.
func TestPollDeliversLaterScheduledStage(t *testing.T) {
	f := newFixture(t)
	anchor := f.now.Add(2 * time.Minute)
	ev := f.seedEvent(t, anchor)

	critical := f.seedAlert(t, ev, "MEETING_CRITICAL_CALL", f.now.Add(-3*time.Minute))
	upcoming := f.seedAlert(t, ev, "MEETING_UPCOMING_EMAIL", f.now.Add(-time.Minute))

	rep, err := f.worker.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Delivered)
	assert.Equal(t, alert.StatusDelivered, f.status(t, critical.ID))
	assert.Equal(t, alert.StatusDelivered, f.status(t, upcoming.ID))
	assert.Equal(t, 1, f.email.sentCount())
	assert.Len(t, f.dialer.dials, 1)
}

func TestPollIgnoresNotYetDueAlerts(t *testing.T) {
	f := newFixture(t)
	ev := f.seedEvent(t, f.now.Add(time.Hour))
	future := f.seedAlert(t, ev, "MEETING_UPCOMING_EMAIL", f.now.Add(30*time.Minute))

	rep, err := f.worker.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Count)
	assert.Equal(t, alert.StatusPending, f.status(t, future.ID))
}

// A missing contact cancels the alert as skipped so it cannot spin on
// every subsequent poll.
func TestPollSkipsMissingContact(t *testing.T) {
	f := newFixture(t)
	anchor := f.now.Add(2 * time.Minute)
	ev := &event.Event{
		ID: uuid.New().String(), UserID: "user-unknown", Source: "api",
		Category: event.CategoryMeeting, Type: "meeting_scheduled",
		OccurredAt: anchor, CreatedAt: f.now,
	}
	require.NoError(t, f.events.Create(context.Background(), ev))

	a := &alert.Alert{
		ID: uuid.New().String(), UserID: "user-unknown", EventID: ev.ID,
		Category: "MEETING", AlertType: "MEETING_UPCOMING_EMAIL",
		ScheduledAt: f.now.Add(-time.Minute), Status: alert.StatusPending, CreatedAt: f.now,
	}
	require.NoError(t, f.alerts.Create(context.Background(), a))

	rep, err := f.worker.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 0, rep.Failed)
	assert.Equal(t, alert.StatusCancelled, f.status(t, a.ID))
	assert.Equal(t, 0, f.email.sentCount())
}

// A stored address that fails the shape check is a skip, not a
// transport failure: it is caught before the delivery lock, so the
// alert is cancelled rather than burned as DELIVERED.
func TestPollSkipsMalformedEmailAddress(t *testing.T) {
	f := newFixture(t)
	anchor := f.now.Add(2 * time.Minute)
	ev := &event.Event{
		ID: uuid.New().String(), UserID: "user-badaddr", Source: "api",
		Category: event.CategoryMeeting, Type: "meeting_scheduled",
		OccurredAt: anchor, CreatedAt: f.now,
	}
	require.NoError(t, f.events.Create(context.Background(), ev))

	a := &alert.Alert{
		ID: uuid.New().String(), UserID: "user-badaddr", EventID: ev.ID,
		Category: "MEETING", AlertType: "MEETING_UPCOMING_EMAIL",
		ScheduledAt: f.now.Add(-time.Minute), Status: alert.StatusPending, CreatedAt: f.now,
	}
	require.NoError(t, f.alerts.Create(context.Background(), a))

	rep, err := f.worker.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 0, rep.Failed)
	assert.Equal(t, alert.StatusCancelled, f.status(t, a.ID))
	assert.Equal(t, 0, f.email.sentCount())
}

// A transport failure after the delivery lock is taken stays DELIVERED:
// at-most-once wins over retry once the claim is made.
func TestPollTransientFailureAfterLock(t *testing.T) {
	f := newFixture(t)
	f.email.err = errors.New("smtp relay unreachable")
	ev := f.seedEvent(t, f.now.Add(2*time.Minute))
	a := f.seedAlert(t, ev, "MEETING_URGENT_EMAIL", f.now.Add(-time.Minute))

	rep, err := f.worker.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 0, rep.Delivered)
	assert.Equal(t, alert.StatusDelivered, f.status(t, a.ID), "lock is not released on post-claim failure")
}

// The delivery lock is won exactly once however many times the alert is
// claimed.
func TestDeliveryLockExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ev := f.seedEvent(t, f.now.Add(2*time.Minute))
	a := f.seedAlert(t, ev, "MEETING_URGENT_EMAIL", f.now.Add(-time.Minute))

	const claimers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := f.alerts.MarkDelivered(context.Background(), a.ID, f.now)
			if err != nil {
				t.Error(err)
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	total := 0
	for won := range wins {
		if won {
			total++
		}
	}
	assert.Equal(t, 1, total, "exactly one claimer wins the lock")
}

func TestPollInFlightGuard(t *testing.T) {
	f := newFixture(t)
	f.email.entered = make(chan struct{})
	f.email.block = make(chan struct{})
	ev := f.seedEvent(t, f.now.Add(2*time.Minute))
	f.seedAlert(t, ev, "MEETING_URGENT_EMAIL", f.now.Add(-time.Minute))

	entered := f.email.entered
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.worker.Poll(context.Background())
	}()
	<-entered // first poll is now mid-send

	_, err := f.worker.Poll(context.Background())
	assert.ErrorIs(t, err, delivery.ErrPollInFlight)

	close(f.email.block)
	<-done
}

// Alert types routed to the call channel honor the call channel's own
// refusals before the delivery lock is taken.
func TestCallRefusalDoesNotBurnLock(t *testing.T) {
	f := newFixture(t)
	// Anchor far in the future: outside the critical window, so the
	// call channel refuses.
	ev := f.seedEvent(t, f.now.Add(time.Hour))
	a := f.seedAlert(t, ev, "MEETING_CRITICAL_CALL", f.now.Add(-time.Minute))

	rep, err := f.worker.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, alert.StatusCancelled, f.status(t, a.ID))
	assert.Empty(t, f.dialer.dials)
}
