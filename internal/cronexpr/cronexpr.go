// Package cronexpr validates 5-field cron expressions and computes the next
// execution time. Validation is purely syntactic (the API contract promises
// field-level errors before anything reaches the scheduler); next-run
// computation delegates to a real cron evaluator.
package cronexpr

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// fieldPattern accepts "*" or any combination of digits, commas, hyphens and
// slashes. Semantic range checking (e.g. minute <= 59) is deliberately left
// to the evaluator at execution time.
var fieldPattern = regexp.MustCompile(`^(\*|[0-9,\-/*]+)$`)

// nextParser interprets the standard 5 fields: minute, hour, day-of-month,
// month, day-of-week.
var nextParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks that the expression has exactly 5 whitespace-separated
// fields, each matching the allowed character set.
func Validate(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fmt.Errorf("cron expression must have exactly 5 fields, got %d", len(fields))
	}

	for i, field := range fields {
		if !fieldPattern.MatchString(field) {
			return fmt.Errorf("cron field %d (%q) contains invalid characters", i+1, field)
		}
	}

	return nil
}

// Next returns the next wall-clock occurrence of the expression strictly
// after the given time. The expression is interpreted with full 5-field
// semantics, not the minute-only approximation of earlier revisions.
func Next(expr string, after time.Time) (time.Time, error) {
	sched, err := nextParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression: %w", err)
	}
	return sched.Next(after), nil
}
