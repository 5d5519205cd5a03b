package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/vigil/internal/config"
	"github.com/gyaneshwarpardhi/vigil/internal/event"
)

// Predicate is one compiled condition: a field path into the event, an
// operator, and an expected value. All predicates of a rule are ANDed.
type Predicate struct {
	Path  []string
	Op    Operator
	Value interface{}
}

// Field returns the dot-joined path, for reason strings.
func (p Predicate) Field() string { return strings.Join(p.Path, ".") }

// AlertRule maps a condition set to an alert specification.
type AlertRule struct {
	Name       string
	AlertType  string
	Offset     time.Duration // negative = before the anchor time
	Predicates []Predicate
}

// IncidentRule is the at-most-one-per-category incident rule.
type IncidentRule struct {
	Name        string
	Type        string
	Severity    string
	Consequence string
	Predicates  []Predicate
}

// CategoryRules holds the compiled rules for one event category.
type CategoryRules struct {
	AlertRules   []AlertRule
	IncidentRule *IncidentRule
	// rank maps alert type to its position in stage_rank (0 = most urgent).
	rank map[string]int
}

// Rank returns the urgency rank of an alert type within this category.
// Lower is more urgent; unranked types sort last.
func (c *CategoryRules) Rank(alertType string) int {
	if r, ok := c.rank[alertType]; ok {
		return r
	}
	return len(c.rank)
}

// Ruleset is an immutable compiled rule configuration. The intake
// engine swaps the whole set atomically on hot reload.
type Ruleset struct {
	categories map[event.Category]*CategoryRules
	callTypes  map[string]struct{}
}

// Category returns the rules for cat, or nil when none are configured.
func (rs *Ruleset) Category(cat event.Category) *CategoryRules {
	return rs.categories[cat]
}

// Rank returns the urgency rank of alertType within its category.
// Lower is more urgent; unknown categories and unranked types sort last.
func (rs *Ruleset) Rank(cat event.Category, alertType string) int {
	if cr := rs.categories[cat]; cr != nil {
		return cr.Rank(alertType)
	}
	return int(^uint(0) >> 1)
}

// IsCallType reports whether alertType routes to the call channel.
// Routing is a static lookup from rule config, never inferred from
// the alert payload.
func (rs *Ruleset) IsCallType(alertType string) bool {
	_, ok := rs.callTypes[alertType]
	return ok
}

// Build compiles a validated RuleConfig into a Ruleset.
func Build(cfg *config.RuleConfig) (*Ruleset, error) {
	rs := &Ruleset{
		categories: make(map[event.Category]*CategoryRules, len(cfg.Categories)),
		callTypes:  make(map[string]struct{}),
	}
	for cat, cc := range cfg.Categories {
		category := event.ParseCategory(cat)
		cr := &CategoryRules{rank: make(map[string]int, len(cc.StageRank))}
		for i, at := range cc.StageRank {
			cr.rank[at] = i
		}
		for _, rc := range cc.AlertRules {
			preds, err := compilePredicates(rc.Conditions)
			if err != nil {
				return nil, fmt.Errorf("rule %s/%s: %w", cat, rc.Name, err)
			}
			cr.AlertRules = append(cr.AlertRules, AlertRule{
				Name:       rc.Name,
				AlertType:  rc.AlertType,
				Offset:     time.Duration(rc.OffsetMinutes) * time.Minute,
				Predicates: preds,
			})
			if rc.Channel == "call" {
				rs.callTypes[rc.AlertType] = struct{}{}
			}
		}
		if irc := cc.IncidentRule; irc != nil {
			preds, err := compilePredicates(irc.Conditions)
			if err != nil {
				return nil, fmt.Errorf("incident rule %s/%s: %w", cat, irc.Name, err)
			}
			cr.IncidentRule = &IncidentRule{
				Name:        irc.Name,
				Type:        irc.Type,
				Severity:    irc.Severity,
				Consequence: irc.Consequence,
				Predicates:  preds,
			}
		}
		rs.categories[category] = cr
	}
	return rs, nil
}

func compilePredicates(conds []config.ConditionConf) ([]Predicate, error) {
	preds := make([]Predicate, 0, len(conds))
	for _, c := range conds {
		op, err := ParseOperator(c.Op)
		if err != nil {
			return nil, err
		}
		if c.Field == "" {
			return nil, fmt.Errorf("condition field is required")
		}
		preds = append(preds, Predicate{
			Path:  strings.Split(c.Field, "."),
			Op:    op,
			Value: c.Value,
		})
	}
	return preds, nil
}

// matchPredicates evaluates the ANDed predicate set against an event.
// A non-nil error means a malformed predicate/operand pairing, which
// counts as no-match with the error recorded in the reason.
func matchPredicates(preds []Predicate, ev *event.Event) (bool, string, error) {
	for _, p := range preds {
		val, found := ev.Resolve(p.Path)
		if p.Op == OpExists {
			if !found {
				return false, fmt.Sprintf("field %s does not exist", p.Field()), nil
			}
			continue
		}
		if !found {
			return false, fmt.Sprintf("field %s not present", p.Field()), nil
		}
		ok, err := compare(p.Op, val, p.Value)
		if err != nil {
			return false, "", fmt.Errorf("predicate %s %s: %w", p.Field(), p.Op, err)
		}
		if !ok {
			return false, fmt.Sprintf("%s %s %v is false (got %v)", p.Field(), p.Op, p.Value, val), nil
		}
	}
	return true, "all conditions satisfied", nil
}
