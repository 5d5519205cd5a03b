package config

// RuleConfig is the top-level YAML structure.
type RuleConfig struct {
	Version    string                  `yaml:"version"`
	Engine     EngineConf              `yaml:"engine"`
	Delivery   DeliveryConf            `yaml:"delivery"`
	Escalation EscalationConf          `yaml:"escalation"`
	Call       CallConf                `yaml:"call"`
	Categories map[string]CategoryConf `yaml:"categories"`
}

// EngineConf holds tunable intake concurrency settings.
type EngineConf struct {
	EventWorkers   int `yaml:"event_workers"`
	QueueDepth     int `yaml:"queue_depth"`
	EventTimeoutMs int `yaml:"event_timeout_ms"`
	// MinLeadSeconds is the minimum-actionability guard: an alert is not
	// scheduled when fewer than this many seconds remain until the
	// event's anchor time.
	MinLeadSeconds int `yaml:"min_lead_seconds"`
}

// DeliveryConf tunes the alert delivery worker.
type DeliveryConf struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
	BatchSize      int `yaml:"batch_size"`
	SendTimeoutMs  int `yaml:"send_timeout_ms"`
}

// EscalationConf defines the escalation ladder and its worker.
type EscalationConf struct {
	PollIntervalMs      int         `yaml:"poll_interval_ms"`
	ReconcileIntervalMs int         `yaml:"reconcile_interval_ms"`
	Levels              []LevelConf `yaml:"levels"`
}

// LevelConf is one rung of the ladder: how long after the previous rung
// it fires, and over which channel.
type LevelConf struct {
	DelayMinutes int    `yaml:"delay_minutes"`
	Method       string `yaml:"method"` // "email" | "call"
}

// CallConf holds the call channel's own invariants.
type CallConf struct {
	// CriticalWindowSeconds: calls are refused when more than this many
	// seconds remain before the event's anchor time.
	CriticalWindowSeconds int `yaml:"critical_window_seconds"`
	// MaxPerEvent caps calls per (user, event).
	MaxPerEvent int `yaml:"max_per_event"`
	// SweepIntervalMinutes is how often stale rate-tracking entries are evicted.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
}

// CategoryConf groups the rules for one event category.
type CategoryConf struct {
	// StageRank orders alert types most urgent first; the delivery worker
	// uses it for stage collapsing.
	StageRank    []string          `yaml:"stage_rank"`
	AlertRules   []AlertRuleConf   `yaml:"alert_rules"`
	IncidentRule *IncidentRuleConf `yaml:"incident_rule"`
}

// AlertRuleConf maps a condition set to a scheduled alert stage.
type AlertRuleConf struct {
	Name      string          `yaml:"name"`
	AlertType string          `yaml:"alert_type"`
	// OffsetMinutes is negative for "this many minutes before the anchor
	// time", positive for after, zero for immediate.
	OffsetMinutes int `yaml:"offset_minutes"`
	// Channel statically routes the alert type: "email" (default) or "call".
	Channel    string          `yaml:"channel"`
	Conditions []ConditionConf `yaml:"conditions"`
}

// ConditionConf is one predicate: a dot-notation field path, an
// operator, and an expected value. All conditions of a rule are ANDed.
type ConditionConf struct {
	Field string      `yaml:"field"`
	Op    string      `yaml:"op"`
	Value interface{} `yaml:"value,omitempty"`
}

// IncidentRuleConf is the at-most-one-per-category incident rule.
// Binary match: a hit creates exactly one OPEN incident with the
// severity/consequence pair taken verbatim from here.
type IncidentRuleConf struct {
	Name        string          `yaml:"name"`
	Type        string          `yaml:"type"`
	Severity    string          `yaml:"severity"`
	Consequence string          `yaml:"consequence"`
	Conditions  []ConditionConf `yaml:"conditions"`
}
