package alerting

import (
	"strconv"
	"strings"

	"dcops-backend/internal/models"
)

var operators = map[string]func(value, threshold float64) bool{
	">":  func(v, t float64) bool { return v > t },
	">=": func(v, t float64) bool { return v >= t },
	"<":  func(v, t float64) bool { return v < t },
	"<=": func(v, t float64) bool { return v <= t },
}

func ValidOperator(op string) bool {
	_, ok := operators[op]
	return ok
}

// Compare applies op. Unknown operators never match.
func Compare(op string, value, threshold float64) bool {
	fn, ok := operators[op]
	if !ok {
		return false
	}
	return fn(value, threshold)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Summary renders the rule's message template, or "<key> <op> <threshold>"
// when the rule has none. Templates may reference {metric_key}, {operator},
// {threshold}, {value} and {severity}.
func Summary(rule models.AlertRule, value float64) string {
	if rule.MessageTemplate == nil || strings.TrimSpace(*rule.MessageTemplate) == "" {
		return rule.MetricKey + " " + rule.Operator + " " + formatNumber(rule.Threshold)
	}
	return strings.NewReplacer(
		"{metric_key}", rule.MetricKey,
		"{operator}", rule.Operator,
		"{threshold}", formatNumber(rule.Threshold),
		"{value}", formatNumber(value),
		"{severity}", rule.Severity,
	).Replace(*rule.MessageTemplate)
}
