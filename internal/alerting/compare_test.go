package alerting

import (
	"testing"

	"dcops-backend/internal/models"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 91, true},
		{">", 90, false},
		{">=", 90, true},
		{"<", 89.5, true},
		{"<=", 90, true},
		{"<=", 90.01, false},
		{"==", 90, false},
	}
	for _, tt := range tests {
		if got := Compare(tt.op, tt.value, 90); got != tt.want {
			t.Fatalf("Compare(%q, %v, 90) = %v, want %v", tt.op, tt.value, got, tt.want)
		}
	}
}

func TestSummary(t *testing.T) {
	rule := models.AlertRule{MetricKey: "ram_util", Operator: ">=", Threshold: 85.5, Severity: "warning"}
	if got := Summary(rule, 90); got != "ram_util >= 85.5" {
		t.Fatalf("unexpected default summary %q", got)
	}
	tmpl := "RAM at {value}% (limit {threshold}, {severity})"
	rule.MessageTemplate = &tmpl
	if got := Summary(rule, 90); got != "RAM at 90% (limit 85.5, warning)" {
		t.Fatalf("unexpected templated summary %q", got)
	}
	plain := "Memory pressure"
	rule.MessageTemplate = &plain
	if got := Summary(rule, 90); got != "Memory pressure" {
		t.Fatalf("unexpected plain summary %q", got)
	}
}
