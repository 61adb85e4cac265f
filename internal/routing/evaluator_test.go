package routing

import (
	"testing"

	"content-router/internal/storage"
)

func testItem() *storage.Item {
	return &storage.Item{
		ID:              "item-1",
		UserID:          "user-1",
		OriginalContent: "call the dentist tomorrow morning",
		ContentType:     "text",
		Category:        "todo",
		Summary:         "Schedule a dentist appointment",
		SuggestedTitle:  "Call dentist",
		Entities: map[string]interface{}{
			"priority": "high",
			"dates":    []interface{}{"2026-09-01"},
			"amount":   42.5,
			"location": map[string]interface{}{"city": "Lisbon"},
		},
	}
}

func TestConditionEvaluator_EmptyConditionsAlwaysMatch(t *testing.T) {
	evaluator := NewConditionEvaluator()

	if !evaluator.Matches(testItem(), nil) {
		t.Error("Matches() with nil conditions = false, want true")
	}
	if !evaluator.Matches(testItem(), []storage.Condition{}) {
		t.Error("Matches() with empty conditions = false, want true")
	}
}

func TestConditionEvaluator_Operators(t *testing.T) {
	evaluator := NewConditionEvaluator()

	tests := []struct {
		name      string
		condition storage.Condition
		want      bool
	}{
		{
			name:      "equals match",
			condition: storage.Condition{Field: "category", Operator: "equals", Value: "todo"},
			want:      true,
		},
		{
			name:      "equals mismatch",
			condition: storage.Condition{Field: "category", Operator: "equals", Value: "idea"},
			want:      false,
		},
		{
			name:      "equals non-string value",
			condition: storage.Condition{Field: "entities.amount", Operator: "equals", Value: 42.5},
			want:      true,
		},
		{
			name:      "contains match",
			condition: storage.Condition{Field: "content", Operator: "contains", Value: "dentist"},
			want:      true,
		},
		{
			name:      "contains mismatch",
			condition: storage.Condition{Field: "content", Operator: "contains", Value: "plumber"},
			want:      false,
		},
		{
			name:      "startsWith match",
			condition: storage.Condition{Field: "suggested_title", Operator: "startsWith", Value: "Call"},
			want:      true,
		},
		{
			name:      "endsWith match",
			condition: storage.Condition{Field: "content", Operator: "endsWith", Value: "morning"},
			want:      true,
		},
		{
			name:      "regex match",
			condition: storage.Condition{Field: "content", Operator: "regex", Value: `dentist|doctor`},
			want:      true,
		},
		{
			name:      "regex mismatch",
			condition: storage.Condition{Field: "content", Operator: "regex", Value: `^appointment`},
			want:      false,
		},
		{
			name:      "dot path into entities",
			condition: storage.Condition{Field: "entities.priority", Operator: "equals", Value: "high"},
			want:      true,
		},
		{
			name:      "nested dot path",
			condition: storage.Condition{Field: "entities.location.city", Operator: "equals", Value: "Lisbon"},
			want:      true,
		},
		{
			name:      "missing field fails closed",
			condition: storage.Condition{Field: "entities.nonexistent", Operator: "equals", Value: "x"},
			want:      false,
		},
		{
			name:      "path through non-map fails closed",
			condition: storage.Condition{Field: "category.deeper", Operator: "equals", Value: "x"},
			want:      false,
		},
		{
			name:      "unknown operator fails closed",
			condition: storage.Condition{Field: "category", Operator: "gte", Value: "todo"},
			want:      false,
		},
		{
			name:      "contains on non-string field fails closed",
			condition: storage.Condition{Field: "entities.amount", Operator: "contains", Value: "42"},
			want:      false,
		},
		{
			name:      "regex on non-string field fails closed",
			condition: storage.Condition{Field: "entities.amount", Operator: "regex", Value: `\d+`},
			want:      false,
		},
		{
			name:      "regex with non-string pattern fails closed",
			condition: storage.Condition{Field: "category", Operator: "regex", Value: 7},
			want:      false,
		},
		{
			name:      "invalid regex pattern fails closed",
			condition: storage.Condition{Field: "category", Operator: "regex", Value: `to(do`},
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluator.Matches(testItem(), []storage.Condition{tt.condition})
			if got != tt.want {
				t.Errorf("Matches(%+v) = %v, want %v", tt.condition, got, tt.want)
			}
		})
	}
}

func TestConditionEvaluator_ConditionsAreANDed(t *testing.T) {
	evaluator := NewConditionEvaluator()

	both := []storage.Condition{
		{Field: "category", Operator: "equals", Value: "todo"},
		{Field: "content", Operator: "contains", Value: "dentist"},
	}
	if !evaluator.Matches(testItem(), both) {
		t.Error("Matches() with two satisfied conditions = false, want true")
	}

	oneFails := []storage.Condition{
		{Field: "category", Operator: "equals", Value: "todo"},
		{Field: "content", Operator: "contains", Value: "plumber"},
	}
	if evaluator.Matches(testItem(), oneFails) {
		t.Error("Matches() with one failing condition = true, want false")
	}
}

func TestConditionEvaluator_RegexCacheReuse(t *testing.T) {
	evaluator := NewConditionEvaluator()
	condition := []storage.Condition{{Field: "content", Operator: "regex", Value: `dentist`}}

	for i := 0; i < 3; i++ {
		if !evaluator.Matches(testItem(), condition) {
			t.Fatalf("Matches() iteration %d = false, want true", i)
		}
	}

	evaluator.mu.RLock()
	cached := len(evaluator.regexCache)
	evaluator.mu.RUnlock()
	if cached != 1 {
		t.Errorf("regexCache has %d entries, want 1", cached)
	}
}
