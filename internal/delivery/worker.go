// Package delivery runs the alert delivery worker: a fixed-interval
// polling loop that fetches due PENDING alerts, collapses superseded
// stages, routes each survivor to its channel, and marks delivery
// through a conditional update so that concurrent workers never send
// the same alert twice.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/vigil/internal/alert"
	"github.com/gyaneshwarpardhi/vigil/internal/channel"
	"github.com/gyaneshwarpardhi/vigil/internal/event"
	"github.com/gyaneshwarpardhi/vigil/internal/metrics"
	"github.com/gyaneshwarpardhi/vigil/internal/rules"
	"github.com/gyaneshwarpardhi/vigil/internal/store"
)

// ErrPollInFlight is returned when a tick fires while the previous poll
// is still running. The tick is dropped, not queued.
var ErrPollInFlight = errors.New("delivery poll already in flight")

// Report summarizes one poll.
type Report struct {
	Count      int   `json:"count"`      // alerts fetched
	Delivered  int   `json:"delivered"`  // sent and locked by this worker
	Failed     int   `json:"failed"`     // transient failures, nothing re-sent this tick
	Skipped    int   `json:"skipped"`    // missing/invalid contact or collapsed stages
	DurationMs int64 `json:"duration_ms"`
}

// Config tunes the worker.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	SendTimeout  time.Duration
}

// Worker is the alert delivery worker. One instance per process; the
// in-flight guard assumes a single worker per role (see the conditional
// delivery lock for what multiple instances would rely on instead).
type Worker struct {
	alerts    alert.Store
	events    event.Store
	email     channel.EmailSender
	calls     channel.CallPlacer
	directory channel.Directory
	ruleset   func() *rules.Ruleset // hot-reload-safe accessor
	cfg       Config

	inFlight atomic.Bool
	now      func() time.Time
}

// New creates a delivery worker. ruleset is called per poll so stage
// ranks and channel routes follow config hot reloads.
func New(alerts alert.Store, events event.Store, email channel.EmailSender, calls channel.CallPlacer, directory channel.Directory, ruleset func() *rules.Ruleset, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 45 * time.Second
	}
	return &Worker{
		alerts:    alerts,
		events:    events,
		email:     email,
		calls:     calls,
		directory: directory,
		ruleset:   ruleset,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock overrides the worker's clock. Test hook.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Start runs the polling loop until ctx is cancelled. No single tick's
// failure stops the loop.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rep, err := w.Poll(ctx)
			switch {
			case errors.Is(err, ErrPollInFlight):
				// Busy tick: dropped, not queued.
			case err != nil:
				slog.Error("delivery poll failed", "err", err)
			case rep.Count > 0:
				slog.Info("delivery poll",
					"count", rep.Count, "delivered", rep.Delivered,
					"failed", rep.Failed, "skipped", rep.Skipped,
					"duration_ms", rep.DurationMs)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Poll runs one delivery pass. Safe to call directly (diagnostics);
// the in-flight guard makes overlapping calls a no-op.
func (w *Worker) Poll(ctx context.Context) (*Report, error) {
	if !w.inFlight.CompareAndSwap(false, true) {
		return nil, ErrPollInFlight
	}
	defer w.inFlight.Store(false)

	start := w.now()
	rep := &Report{}

	batch, err := w.alerts.DuePending(ctx, start, w.cfg.BatchSize)
	if err != nil {
		return rep, fmt.Errorf("fetch due alerts: %w", err)
	}
	rep.Count = len(batch)

	for _, group := range groupByUserEvent(batch) {
		w.processGroup(ctx, group, rep)
	}

	rep.DurationMs = w.now().Sub(start).Milliseconds()
	metrics.DeliveryPollDuration.Observe(float64(rep.DurationMs))
	return rep, nil
}

// groupByUserEvent buckets the batch by (userID, eventID). Alerts with
// no event reference form singleton groups.
func groupByUserEvent(batch []*alert.Alert) [][]*alert.Alert {
	byKey := make(map[string][]*alert.Alert)
	var order []string
	for i, a := range batch {
		key := a.UserID + "|" + a.EventID
		if a.EventID == "" {
			key = fmt.Sprintf("solo|%d", i)
		}
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], a)
	}
	groups := make([][]*alert.Alert, 0, len(order))
	for _, k := range order {
		groups = append(groups, byKey[k])
	}
	return groups
}

// processGroup collapses superseded stages, then delivers the
// survivors. Within a group the highest-ranked stage wins; any
// lower-ranked alert scheduled at or before the winner is cancelled as
// superseded. A lower-ranked alert scheduled after the winner still
// carries information the winner predates, so it is delivered too.
func (w *Worker) processGroup(ctx context.Context, group []*alert.Alert, rep *Report) {
	rs := w.ruleset()
	sort.SliceStable(group, func(i, j int) bool {
		ri := rs.Rank(event.Category(group[i].Category), group[i].AlertType)
		rj := rs.Rank(event.Category(group[j].Category), group[j].AlertType)
		if ri != rj {
			return ri < rj
		}
		return group[i].ScheduledAt.Before(group[j].ScheduledAt)
	})

	winner := group[0]
	w.deliver(ctx, winner, rep)

	for _, a := range group[1:] {
		if a.ScheduledAt.After(winner.ScheduledAt) {
			w.deliver(ctx, a, rep)
			continue
		}
		ok, err := w.alerts.MarkCancelled(ctx, a.ID, w.now())
		if err != nil {
			slog.Error("cancel superseded alert", "alert_id", a.ID, "err", err)
			rep.Failed++
			continue
		}
		if ok {
			slog.Info("alert collapsed", "alert_id", a.ID, "alert_type", a.AlertType, "superseded_by", winner.AlertType)
			metrics.AlertsCollapsed.Inc()
			rep.Skipped++
		}
	}
}

// deliver routes and sends one alert. The delivery lock is taken before
// the send: a lost race means another worker already delivered, and the
// send is not repeated.
func (w *Worker) deliver(ctx context.Context, a *alert.Alert, rep *Report) {
	rs := w.ruleset()

	// Resolve recipient first: skips must never burn the delivery lock.
	var (
		ev   *event.Event
		err  error
		dest string
	)
	if a.EventID != "" {
		ev, err = w.events.Get(ctx, a.EventID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Error("load event for alert", "alert_id", a.ID, "event_id", a.EventID, "err", err)
			rep.Failed++
			return
		}
	}
	isCall := rs.IsCallType(a.AlertType)
	if isCall {
		dest, err = w.directory.Phone(ctx, a.UserID)
	} else {
		dest, err = w.directory.Email(ctx, a.UserID)
	}
	if err != nil {
		w.skip(ctx, a, err, rep)
		return
	}
	if isCall {
		if err := w.calls.Check(ctx, w.callRequest(a, ev, dest)); err != nil {
			w.skip(ctx, a, err, rep)
			return
		}
	} else if err := channel.CheckEmailAddress(dest); err != nil {
		w.skip(ctx, a, err, rep)
		return
	}

	won, err := w.alerts.MarkDelivered(ctx, a.ID, w.now())
	if err != nil {
		slog.Error("delivery lock", "alert_id", a.ID, "err", err)
		rep.Failed++
		return
	}
	if !won {
		// Another worker already delivered (or cancelled) it.
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()

	if isCall {
		w.sendCall(sendCtx, a, ev, dest, rep)
	} else {
		w.sendEmail(sendCtx, a, ev, dest, rep)
	}
}

func (w *Worker) sendEmail(ctx context.Context, a *alert.Alert, ev *event.Event, to string, rep *Report) {
	msg := channel.EmailMessage{
		Recipient: to,
		Subject:   emailSubject(a, ev),
		Body:      emailBody(a, ev),
	}
	if err := w.email.Send(ctx, msg); err != nil {
		// The lock is already taken; re-sending would risk a duplicate.
		slog.Error("email send failed after delivery lock", "alert_id", a.ID, "err", err)
		metrics.AlertsFailed.Inc()
		rep.Failed++
		return
	}
	metrics.AlertsDelivered.WithLabelValues(a.AlertType, "email").Inc()
	rep.Delivered++
}

func (w *Worker) callRequest(a *alert.Alert, ev *event.Event, to string) channel.CallRequest {
	req := channel.CallRequest{
		To:      to,
		Script:  callScript(a, ev),
		UserID:  a.UserID,
		EventID: a.EventID,
	}
	if ev != nil {
		req.AnchorAt = ev.OccurredAt
	}
	return req
}

func (w *Worker) sendCall(ctx context.Context, a *alert.Alert, ev *event.Event, to string, rep *Report) {
	res, err := w.calls.Place(ctx, w.callRequest(a, ev, to))
	if err != nil {
		slog.Error("call failed after delivery lock", "alert_id", a.ID, "err", err)
		metrics.AlertsFailed.Inc()
		rep.Failed++
		return
	}
	if res == nil {
		res = &channel.CallResult{Status: channel.CallFailed}
	}
	switch res.Status {
	case channel.CallInitiated:
		metrics.AlertsDelivered.WithLabelValues(a.AlertType, "call").Inc()
		rep.Delivered++
	case channel.CallRateLimited, channel.CallSkipped:
		slog.Warn("call refused", "alert_id", a.ID, "status", string(res.Status))
		metrics.AlertsSkipped.Inc()
		rep.Skipped++
	default:
		metrics.AlertsFailed.Inc()
		rep.Failed++
	}
}

// skip handles a delivery that cannot succeed for this recipient. The
// alert is cancelled rather than left pending, so it cannot spin
// forever; a skip never crashes the poll or blocks the rest of the
// batch.
func (w *Worker) skip(ctx context.Context, a *alert.Alert, cause error, rep *Report) {
	var sk *channel.SkippableError
	if !errors.As(cause, &sk) {
		// Unknown cause: classify as failure, leave pending for retry.
		slog.Error("delivery failed", "alert_id", a.ID, "err", cause)
		metrics.AlertsFailed.Inc()
		rep.Failed++
		return
	}
	if _, err := w.alerts.MarkCancelled(ctx, a.ID, w.now()); err != nil {
		slog.Error("cancel skipped alert", "alert_id", a.ID, "err", err)
	}
	slog.Warn("delivery skipped", "alert_id", a.ID, "reason", sk.Reason)
	metrics.AlertsSkipped.Inc()
	rep.Skipped++
}

func emailSubject(a *alert.Alert, ev *event.Event) string {
	if ev != nil {
		if title, ok := ev.Payload["title"].(string); ok && title != "" {
			return fmt.Sprintf("Reminder: %s", title)
		}
	}
	return fmt.Sprintf("Reminder: %s", a.AlertType)
}

func emailBody(a *alert.Alert, ev *event.Event) string {
	if ev != nil {
		return fmt.Sprintf("You have an upcoming %s at %s.",
			ev.Type, ev.OccurredAt.Format(time.RFC1123))
	}
	return fmt.Sprintf("Notification %s scheduled for %s.",
		a.AlertType, a.ScheduledAt.Format(time.RFC1123))
}

func callScript(a *alert.Alert, ev *event.Event) string {
	if ev != nil {
		if title, ok := ev.Payload["title"].(string); ok && title != "" {
			return fmt.Sprintf("This is your urgent reminder: %s starts at %s.",
				title, ev.OccurredAt.Format(time.Kitchen))
		}
		return fmt.Sprintf("This is your urgent reminder for your %s at %s.",
			ev.Type, ev.OccurredAt.Format(time.Kitchen))
	}
	return fmt.Sprintf("This is an urgent notification: %s.", a.AlertType)
}
