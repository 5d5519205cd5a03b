package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_events_enqueued_total",
		Help: "Total number of events placed on the intake queue.",
	})

	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_events_processed_total",
		Help: "Total number of events fully evaluated by the rule engine.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_events_dropped_total",
		Help: "Total number of events rejected due to a full intake queue.",
	})

	AlertsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_alerts_scheduled_total",
		Help: "Total number of alerts scheduled, labelled by alert type.",
	}, []string{"alert_type"})

	AlertsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_alerts_delivered_total",
		Help: "Total number of alerts delivered, labelled by alert type and channel.",
	}, []string{"alert_type", "channel"})

	AlertsCollapsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_alerts_collapsed_total",
		Help: "Total number of lower-urgency alerts cancelled by stage collapsing.",
	})

	AlertsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_alerts_skipped_total",
		Help: "Total number of deliveries skipped for missing or invalid recipient contact.",
	})

	AlertsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_alerts_failed_total",
		Help: "Total number of transient delivery failures left pending for retry.",
	})

	IncidentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_incidents_created_total",
		Help: "Total number of incidents created, labelled by type and severity.",
	}, []string{"type", "severity"})

	IncidentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_incident_transitions_total",
		Help: "Total number of incident state transitions, labelled by target state.",
	}, []string{"to"})

	EscalationsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_escalations_executed_total",
		Help: "Total number of escalation steps executed, labelled by level.",
	}, []string{"level"})

	QueueRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_escalation_queue_rebuilds_total",
		Help: "Total number of wake-up queue reconciliation passes.",
	})

	DeliveryPollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_delivery_poll_duration_ms",
		Help:    "Alert delivery poll latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	EventProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_event_processing_duration_ms",
		Help:    "End-to-end event evaluation latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_intake_queue_utilization_ratio",
		Help: "Current intake queue utilization (0–1).",
	})
)
