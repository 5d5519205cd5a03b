// Package api exposes the HTTP surface: event ingestion, incident
// lifecycle actions, rule inspection and hot-reload, and the health and
// metrics endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/vigil/internal/config"
	"github.com/gyaneshwarpardhi/vigil/internal/engine"
	"github.com/gyaneshwarpardhi/vigil/internal/event"
	"github.com/gyaneshwarpardhi/vigil/internal/incident"
	"github.com/gyaneshwarpardhi/vigil/internal/rules"
)

const maxBatchSize = 100

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng       *engine.Engine
	loader    *config.Loader
	events    event.Store
	incidents incident.Store
	machine   *incident.Machine
	mux       *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(eng *engine.Engine, loader *config.Loader, events event.Store, incidents incident.Store, machine *incident.Machine) http.Handler {
	h := &Handler{
		eng:       eng,
		loader:    loader,
		events:    events,
		incidents: incidents,
		machine:   machine,
		mux:       http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/events", h.ingestEvent)
	h.mux.HandleFunc("POST /v1/events/batch", h.ingestBatch)
	h.mux.HandleFunc("GET /v1/events/{id}", h.getEvent)
	h.mux.HandleFunc("POST /v1/incidents", h.createIncident)
	h.mux.HandleFunc("GET /v1/incidents/{id}", h.getIncident)
	h.mux.HandleFunc("POST /v1/incidents/{id}/acknowledge", h.acknowledgeIncident)
	h.mux.HandleFunc("POST /v1/incidents/{id}/escalate", h.escalateIncident)
	h.mux.HandleFunc("POST /v1/incidents/{id}/resolve", h.resolveIncident)
	h.mux.HandleFunc("POST /v1/incidents/{id}/cancel", h.cancelIncident)
	h.mux.HandleFunc("GET /v1/rules", h.listRules)
	h.mux.HandleFunc("POST /v1/rules/reload", h.reloadRules)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// POST /v1/events — synchronous single-event ingestion.
func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if msg, ok := validateEvent(&ev); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	prepareEvent(&ev, time.Now())

	res, err := h.eng.ProcessSync(r.Context(), &ev)
	if err != nil {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/events/batch — async batch ingestion (up to 100 events).
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var events []*event.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if len(events) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(events), maxBatchSize))
		return
	}
	for i, ev := range events {
		if msg, ok := validateEvent(ev); !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("event %d: %s", i, msg))
			return
		}
	}

	now := time.Now()
	jobID := uuid.New().String()
	queued := 0
	for _, ev := range events {
		prepareEvent(ev, now)
		if h.eng.ProcessAsync(ev) {
			queued++
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   jobID,
		"total":    len(events),
		"queued":   queued,
		"rejected": len(events) - queued,
	})
}

func validateEvent(ev *event.Event) (string, bool) {
	if ev.UserID == "" {
		return "user_id is required", false
	}
	if ev.Type == "" {
		return "event type is required", false
	}
	if ev.OccurredAt.IsZero() {
		return "occurred_at is required", false
	}
	return "", true
}

func prepareEvent(ev *event.Event, now time.Time) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.Category = event.ParseCategory(string(ev.Category))
	ev.CreatedAt = now
}

// GET /v1/events/{id}
func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.events.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// POST /v1/incidents — manual incident creation (operator-driven, no
// triggering event required).
func (h *Handler) createIncident(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string `json:"user_id"`
		EventID     string `json:"event_id"`
		Category    string `json:"category"`
		Type        string `json:"type"`
		Severity    string `json:"severity"`
		Consequence string `json:"consequence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.UserID == "" || req.Type == "" || req.Severity == "" {
		writeError(w, http.StatusBadRequest, "user_id, type and severity are required")
		return
	}

	inc := &incident.Incident{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		EventID:     req.EventID,
		Category:    string(event.ParseCategory(req.Category)),
		Type:        req.Type,
		Severity:    req.Severity,
		Consequence: req.Consequence,
		State:       incident.StateOpen,
		CreatedAt:   time.Now(),
	}
	if err := h.incidents.Create(r.Context(), inc); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

// GET /v1/incidents/{id}
func (h *Handler) getIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.incidents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

// noteRequest is the optional body of resolve/cancel actions.
type noteRequest struct {
	Note string `json:"note"`
}

func decodeNote(r *http.Request) string {
	var req noteRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	return req.Note
}

// POST /v1/incidents/{id}/acknowledge
func (h *Handler) acknowledgeIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.machine.Acknowledge(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

// POST /v1/incidents/{id}/escalate
func (h *Handler) escalateIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.machine.Escalate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

// POST /v1/incidents/{id}/resolve — requires a non-empty note.
func (h *Handler) resolveIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.machine.Resolve(r.Context(), r.PathValue("id"), decodeNote(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

// POST /v1/incidents/{id}/cancel — note optional.
func (h *Handler) cancelIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.machine.Cancel(r.Context(), r.PathValue("id"), decodeNote(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

// GET /v1/rules — the currently loaded rule configuration.
func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	cfg := h.loader.Config()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":    cfg.Version,
		"categories": cfg.Categories,
		"escalation": cfg.Escalation,
	})
}

// POST /v1/rules/reload — hot-reload rules from disk.
func (h *Handler) reloadRules(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := config.Validate(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	rs, err := rules.Build(cfg)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.eng.SwapRuleset(rs)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":   true,
		"version":    cfg.Version,
		"categories": len(cfg.Categories),
	})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if the intake queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}
