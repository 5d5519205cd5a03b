package rules

import (
	"testing"

	"github.com/gyaneshwarpardhi/vigil/internal/event"
)

func TestParseOperator(t *testing.T) {
	for _, s := range []string{"==", "!=", ">", ">=", "<", "<=", "contains", "matches", "exists", " EXISTS ", "Contains"} {
		if _, err := ParseOperator(s); err != nil {
			t.Errorf("ParseOperator(%q): unexpected error %v", s, err)
		}
	}
	for _, s := range []string{"", "=", "~", "between"} {
		if _, err := ParseOperator(s); err == nil {
			t.Errorf("ParseOperator(%q): expected error", s)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name    string
		op      Operator
		left    interface{}
		right   interface{}
		want    bool
		wantErr bool
	}{
		{"eq strings", OpEq, "food", "food", true, false},
		{"eq mixed numerics", OpEq, 3, 3.0, true, false},
		{"eq bool mismatch", OpEq, true, "true", false, false},
		{"neq", OpNeq, "a", "b", true, false},
		{"gt", OpGt, 1500.0, 1000, true, false},
		{"gt false on equal", OpGt, 1000, 1000, false, false},
		{"gte on equal", OpGte, 1000, 1000, true, false},
		{"lt", OpLt, 1, 2, true, false},
		{"lte", OpLte, 2.5, 2.5, true, false},
		{"numeric op on string", OpGt, "ten", 5, false, true},
		{"contains", OpContains, "payment_failed_final", "failed", true, false},
		{"contains miss", OpContains, "payment_ok", "failed", false, false},
		{"contains non-string left", OpContains, 42, "4", false, true},
		{"matches", OpMatches, "user-1234", `^user-\d+$`, true, false},
		{"matches bad regex", OpMatches, "x", "(", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := compare(tt.op, tt.left, tt.right)
			if (err != nil) != tt.wantErr {
				t.Fatalf("compare(%s, %v, %v) error = %v, wantErr %v", tt.op, tt.left, tt.right, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("compare(%s, %v, %v) = %v, want %v", tt.op, tt.left, tt.right, got, tt.want)
			}
		})
	}
}

func TestMatchPredicates(t *testing.T) {
	ev := &event.Event{
		ID:       "evt-1",
		UserID:   "user-1",
		Category: event.CategoryMeeting,
		Type:     "meeting_scheduled",
		Payload: map[string]interface{}{
			"importance": 3.0,
			"location":   map[string]interface{}{"room": "4B"},
		},
	}

	tests := []struct {
		name  string
		preds []Predicate
		want  bool
	}{
		{
			"all match",
			[]Predicate{
				{Path: []string{"event", "type"}, Op: OpEq, Value: "meeting_scheduled"},
				{Path: []string{"payload", "importance"}, Op: OpGte, Value: 2},
			},
			true,
		},
		{
			"one fails, set fails",
			[]Predicate{
				{Path: []string{"event", "type"}, Op: OpEq, Value: "meeting_scheduled"},
				{Path: []string{"payload", "importance"}, Op: OpGt, Value: 5},
			},
			false,
		},
		{
			"nested payload path",
			[]Predicate{{Path: []string{"payload", "location", "room"}, Op: OpEq, Value: "4B"}},
			true,
		},
		{
			"missing field is no-match",
			[]Predicate{{Path: []string{"payload", "missing"}, Op: OpEq, Value: 1}},
			false,
		},
		{
			"exists on present field",
			[]Predicate{{Path: []string{"payload", "importance"}, Op: OpExists}},
			true,
		},
		{
			"exists on absent field",
			[]Predicate{{Path: []string{"payload", "priority"}, Op: OpExists}},
			false,
		},
		{
			"empty set matches",
			nil,
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, why, err := matchPredicates(tt.preds, ev)
			if err != nil {
				t.Fatalf("matchPredicates: unexpected error %v", err)
			}
			if got != tt.want {
				t.Errorf("matchPredicates = %v (%s), want %v", got, why, tt.want)
			}
		})
	}
}

func TestMatchPredicatesOperandError(t *testing.T) {
	ev := &event.Event{Payload: map[string]interface{}{"name": "dinner"}}
	_, _, err := matchPredicates([]Predicate{
		{Path: []string{"payload", "name"}, Op: OpGt, Value: 5},
	}, ev)
	if err == nil {
		t.Fatal("expected operand type error")
	}
}
