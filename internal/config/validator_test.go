package config

import (
	"strings"
	"testing"
)

func validConfig() *RuleConfig {
	return &RuleConfig{
		Version: "1",
		Escalation: EscalationConf{
			Levels: []LevelConf{
				{DelayMinutes: 5, Method: "email"},
				{DelayMinutes: 60, Method: "call"},
			},
		},
		Categories: map[string]CategoryConf{
			"MEETING": {
				StageRank: []string{"MEETING_CRITICAL_CALL", "MEETING_UPCOMING_EMAIL"},
				AlertRules: []AlertRuleConf{
					{Name: "upcoming", AlertType: "MEETING_UPCOMING_EMAIL", OffsetMinutes: -12,
						Conditions: []ConditionConf{{Field: "event.type", Op: "==", Value: "meeting_scheduled"}}},
					{Name: "critical", AlertType: "MEETING_CRITICAL_CALL", OffsetMinutes: -2, Channel: "call",
						Conditions: []ConditionConf{{Field: "event.type", Op: "==", Value: "meeting_scheduled"}}},
				},
			},
			"FINANCE": {
				IncidentRule: &IncidentRuleConf{
					Name: "payment", Type: "PAYMENT_FAILURE", Severity: "HIGH",
					Conditions: []ConditionConf{{Field: "event.type", Op: "==", Value: "payment_failed"}},
				},
			},
		},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RuleConfig)
		wantMsg string
	}{
		{
			"missing version",
			func(c *RuleConfig) { c.Version = "" },
			"version is required",
		},
		{
			"unknown category",
			func(c *RuleConfig) { c.Categories["GROCERIES"] = CategoryConf{} },
			"unknown category",
		},
		{
			"unknown operator",
			func(c *RuleConfig) {
				cc := c.Categories["MEETING"]
				cc.AlertRules[0].Conditions[0].Op = "between"
				c.Categories["MEETING"] = cc
			},
			"unknown operator",
		},
		{
			"duplicate rule name",
			func(c *RuleConfig) {
				cc := c.Categories["MEETING"]
				cc.AlertRules[1].Name = cc.AlertRules[0].Name
				c.Categories["MEETING"] = cc
			},
			"duplicate rule name",
		},
		{
			"duplicate alert type",
			func(c *RuleConfig) {
				cc := c.Categories["MEETING"]
				cc.AlertRules[1].AlertType = cc.AlertRules[0].AlertType
				c.Categories["MEETING"] = cc
			},
			"produced by more than one rule",
		},
		{
			"alert type missing from stage_rank",
			func(c *RuleConfig) {
				cc := c.Categories["MEETING"]
				cc.AlertRules[0].AlertType = "MEETING_SOMETHING_ELSE"
				c.Categories["MEETING"] = cc
			},
			"missing from stage_rank",
		},
		{
			"unknown channel",
			func(c *RuleConfig) {
				cc := c.Categories["MEETING"]
				cc.AlertRules[0].Channel = "carrier_pigeon"
				c.Categories["MEETING"] = cc
			},
			"unknown channel",
		},
		{
			"zero escalation delay",
			func(c *RuleConfig) { c.Escalation.Levels[0].DelayMinutes = 0 },
			"delay_minutes must be positive",
		},
		{
			"unknown escalation method",
			func(c *RuleConfig) { c.Escalation.Levels[0].Method = "fax" },
			"unknown method",
		},
		{
			"incident rule without severity",
			func(c *RuleConfig) {
				cc := c.Categories["FINANCE"]
				cc.IncidentRule.Severity = ""
				c.Categories["FINANCE"] = cc
			},
			"severity is required",
		},
		{
			"incident rule without conditions",
			func(c *RuleConfig) {
				cc := c.Categories["FINANCE"]
				cc.IncidentRule.Conditions = nil
				c.Categories["FINANCE"] = cc
			},
			"conditions must not be empty",
		},
		{
			"condition without field",
			func(c *RuleConfig) {
				cc := c.Categories["MEETING"]
				cc.AlertRules[0].Conditions[0].Field = ""
				c.Categories["MEETING"] = cc
			},
			"field is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &RuleConfig{Version: "1"}
	applyDefaults(cfg)

	if cfg.Engine.EventWorkers != 16 || cfg.Engine.QueueDepth != 10000 {
		t.Errorf("engine defaults = %+v", cfg.Engine)
	}
	if cfg.Engine.MinLeadSeconds != 30 {
		t.Errorf("min_lead_seconds default = %d, want 30", cfg.Engine.MinLeadSeconds)
	}
	if len(cfg.Escalation.Levels) != 3 || cfg.Escalation.Levels[2].Method != "call" {
		t.Errorf("escalation ladder default = %+v", cfg.Escalation.Levels)
	}
	if cfg.Call.CriticalWindowSeconds != 180 || cfg.Call.MaxPerEvent != 2 {
		t.Errorf("call defaults = %+v", cfg.Call)
	}
}
