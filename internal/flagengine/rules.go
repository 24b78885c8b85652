package flagengine

import "strings"

// matchRules reports whether the context attributes satisfy every rule in the
// set (logical AND). An empty rule set matches vacuously; callers are expected
// to check for emptiness before deciding the reason code.
func matchRules(rules []Rule, attributes map[string]string) bool {
	for _, rule := range rules {
		if !matchRule(rule, attributes) {
			return false
		}
	}
	return true
}

// matchRule evaluates a single predicate against the context.
//
// An absent attribute fails the rule for EVERY operator, including the
// negated ones (not-equals, not-in). This is intentional: absence of data is
// never treated as evidence of a mismatch. Callers relying on negated
// operators must ensure the attribute is always present in the context.
func matchRule(rule Rule, attributes map[string]string) bool {
	got, ok := attributes[rule.Attribute]
	if !ok {
		return false
	}

	switch rule.Operator {
	case OpEquals:
		return got == rule.Value
	case OpNotEquals:
		return got != rule.Value
	case OpContains:
		return strings.Contains(got, rule.Value)
	case OpIn:
		return inList(rule.Value, got)
	case OpNotIn:
		return !inList(rule.Value, got)
	default:
		// Unknown operators never match (fail closed).
		return false
	}
}

// inList splits a comma-separated rule value, trims each element, and tests
// membership of the context value.
func inList(list, value string) bool {
	for _, item := range strings.Split(list, ",") {
		if strings.TrimSpace(item) == value {
			return true
		}
	}
	return false
}
