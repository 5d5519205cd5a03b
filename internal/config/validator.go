package config

import (
	"fmt"
	"strings"
)

var validCategories = map[string]struct{}{
	"MEETING": {}, "FINANCE": {}, "HEALTH": {}, "DELIVERY": {}, "SECURITY": {}, "OTHER": {},
}

var validOperators = map[string]struct{}{
	"==": {}, "!=": {}, ">": {}, ">=": {}, "<": {}, "<=": {},
	"contains": {}, "matches": {}, "exists": {},
}

// Validate checks the config for:
//   - Unknown categories and operators
//   - Duplicate rule names and alert types within a category
//   - Alert types referenced by stage_rank but never produced, and vice versa
//   - Escalation ladder sanity (positive delays, known methods)
func Validate(cfg *RuleConfig) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	for _, lv := range cfg.Escalation.Levels {
		if lv.DelayMinutes <= 0 {
			errs = append(errs, fmt.Sprintf("escalation: delay_minutes must be positive, got %d", lv.DelayMinutes))
		}
		if lv.Method != "email" && lv.Method != "call" {
			errs = append(errs, fmt.Sprintf("escalation: unknown method %q", lv.Method))
		}
	}

	for cat, cc := range cfg.Categories {
		if _, ok := validCategories[strings.ToUpper(cat)]; !ok {
			errs = append(errs, fmt.Sprintf("unknown category %q", cat))
			continue
		}
		loc := fmt.Sprintf("categories.%s", cat)

		ranked := make(map[string]struct{}, len(cc.StageRank))
		for _, at := range cc.StageRank {
			if _, dup := ranked[at]; dup {
				errs = append(errs, fmt.Sprintf("%s: stage_rank lists %q twice", loc, at))
			}
			ranked[at] = struct{}{}
		}

		names := make(map[string]struct{})
		produced := make(map[string]struct{})
		for i, r := range cc.AlertRules {
			if r.Name == "" {
				errs = append(errs, fmt.Sprintf("%s.alert_rules[%d]: name is required", loc, i))
				continue
			}
			if _, dup := names[r.Name]; dup {
				errs = append(errs, fmt.Sprintf("%s: duplicate rule name %q", loc, r.Name))
			}
			names[r.Name] = struct{}{}
			if r.AlertType == "" {
				errs = append(errs, fmt.Sprintf("%s.%s: alert_type is required", loc, r.Name))
			}
			if r.Channel != "" && r.Channel != "email" && r.Channel != "call" {
				errs = append(errs, fmt.Sprintf("%s.%s: unknown channel %q", loc, r.Name, r.Channel))
			}
			if _, dup := produced[r.AlertType]; dup {
				errs = append(errs, fmt.Sprintf("%s: alert_type %q produced by more than one rule", loc, r.AlertType))
			}
			produced[r.AlertType] = struct{}{}
			if len(cc.StageRank) > 0 {
				if _, ok := ranked[r.AlertType]; !ok {
					errs = append(errs, fmt.Sprintf("%s.%s: alert_type %q missing from stage_rank", loc, r.Name, r.AlertType))
				}
			}
			validateConditions(r.Conditions, fmt.Sprintf("%s.%s", loc, r.Name), &errs)
		}

		if ir := cc.IncidentRule; ir != nil {
			if ir.Name == "" {
				errs = append(errs, fmt.Sprintf("%s.incident_rule: name is required", loc))
			}
			if ir.Type == "" {
				errs = append(errs, fmt.Sprintf("%s.incident_rule: type is required", loc))
			}
			if ir.Severity == "" {
				errs = append(errs, fmt.Sprintf("%s.incident_rule: severity is required", loc))
			}
			if len(ir.Conditions) == 0 {
				errs = append(errs, fmt.Sprintf("%s.incident_rule: conditions must not be empty", loc))
			}
			validateConditions(ir.Conditions, loc+".incident_rule", &errs)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateConditions(conds []ConditionConf, parent string, errs *[]string) {
	for j, c := range conds {
		if c.Field == "" {
			*errs = append(*errs, fmt.Sprintf("%s.conditions[%d]: field is required", parent, j))
		}
		if _, ok := validOperators[strings.ToLower(c.Op)]; !ok {
			*errs = append(*errs, fmt.Sprintf("%s.conditions[%d]: unknown operator %q", parent, j, c.Op))
		}
		if strings.ToLower(c.Op) != "exists" && c.Value == nil {
			*errs = append(*errs, fmt.Sprintf("%s.conditions[%d]: value is required for operator %q", parent, j, c.Op))
		}
	}
}
