// Package engine is the event intake pipeline: a bounded worker pool
// that persists each event and runs it through the rule engine against
// the currently loaded ruleset.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/vigil/internal/alert"
	"github.com/gyaneshwarpardhi/vigil/internal/config"
	"github.com/gyaneshwarpardhi/vigil/internal/event"
	"github.com/gyaneshwarpardhi/vigil/internal/metrics"
	"github.com/gyaneshwarpardhi/vigil/internal/rules"
	"github.com/gyaneshwarpardhi/vigil/internal/store"
)

// EventResult is the outcome of processing a single event.
type EventResult struct {
	EventID         string         `json:"event_id"`
	DurationMs      int64          `json:"duration_ms"`
	AlertsScheduled []*alert.Alert `json:"alerts_scheduled"`
	IncidentCreated bool           `json:"incident_created"`
	IncidentID      string         `json:"incident_id,omitempty"`
	Reasons         []string       `json:"reasons"`
	Error           string         `json:"error,omitempty"`
}

// Engine accepts events, persists them, and evaluates them on a worker
// pool. The ruleset is swapped atomically on config hot-reload, so an
// event in flight sees either the old or the new ruleset, never a mix.
type Engine struct {
	ruleset atomic.Pointer[rules.Ruleset]
	events  event.Store
	rules   *rules.Engine
	pool    *workerPool[*eventWork]
	conf    *config.EngineConf
}

type eventWork struct {
	ev      *event.Event
	resultC chan *EventResult
}

// New creates an Engine using conf and starts its worker pool.
func New(ctx context.Context, rs *rules.Ruleset, events event.Store, re *rules.Engine, conf config.EngineConf) *Engine {
	e := &Engine{
		events: events,
		rules:  re,
		conf:   &conf,
	}
	e.ruleset.Store(rs)
	e.pool = newWorkerPool[*eventWork](ctx, conf.EventWorkers, conf.QueueDepth,
		func(ctx context.Context, w *eventWork) {
			res := e.processEvent(ctx, w.ev)
			if w.resultC != nil {
				w.resultC <- res
			}
		})
	return e
}

// SwapRuleset atomically replaces the ruleset (used on hot-reload).
func (e *Engine) SwapRuleset(rs *rules.Ruleset) {
	e.ruleset.Store(rs)
}

// Ruleset returns the currently loaded ruleset.
func (e *Engine) Ruleset() *rules.Ruleset {
	return e.ruleset.Load()
}

// ProcessSync processes an event synchronously and returns the result.
// Fails fast when the intake queue is full or the per-event timeout
// elapses.
func (e *Engine) ProcessSync(ctx context.Context, ev *event.Event) (*EventResult, error) {
	resultC := make(chan *EventResult, 1)
	w := &eventWork{ev: ev, resultC: resultC}

	timeout := time.Duration(e.conf.EventTimeoutMs) * time.Millisecond
	if !e.pool.Submit(w) {
		metrics.EventsDropped.Inc()
		return nil, fmt.Errorf("event queue full (capacity %d)", e.conf.QueueDepth)
	}
	metrics.EventsEnqueued.Inc()

	select {
	case res := <-resultC:
		return res, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("event processing timeout after %v", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ProcessAsync enqueues an event for background processing. Returns
// false if the queue is full.
func (e *Engine) ProcessAsync(ev *event.Event) bool {
	if !e.pool.Submit(&eventWork{ev: ev}) {
		metrics.EventsDropped.Inc()
		return false
	}
	metrics.EventsEnqueued.Inc()
	return true
}

// QueueUtilization returns queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

func (e *Engine) processEvent(ctx context.Context, ev *event.Event) *EventResult {
	start := time.Now()
	result := &EventResult{EventID: ev.ID}

	if err := e.events.Create(ctx, ev); err != nil {
		if !errors.Is(err, store.ErrAlreadyExists) {
			slog.Error("persist event failed", "eventId", ev.ID, "error", err)
			result.Error = err.Error()
			result.DurationMs = time.Since(start).Milliseconds()
			return result
		}
		// Re-ingest of a known event (periodic resync): skip the insert
		// and evaluate again so stages whose windows have opened since
		// the last pass still get scheduled.
		slog.Debug("event already persisted, re-evaluating", "eventId", ev.ID)
	}

	d, err := e.rules.Evaluate(ctx, e.ruleset.Load(), ev)
	if err != nil {
		slog.Error("rule evaluation failed", "eventId", ev.ID, "error", err)
		result.Error = err.Error()
	}
	if d != nil {
		result.AlertsScheduled = d.AlertsScheduled
		result.IncidentCreated = d.IncidentCreated
		result.IncidentID = d.IncidentID
		result.Reasons = d.Reasons
	}
	result.DurationMs = time.Since(start).Milliseconds()

	metrics.EventsProcessed.Inc()
	metrics.EventProcessingDuration.Observe(float64(result.DurationMs))
	metrics.QueueUtilization.Set(e.QueueUtilization())

	return result
}

// Shutdown drains the pool gracefully.
func (e *Engine) Shutdown() {
	e.pool.Drain()
}
