// Package flagengine provides the core decision logic for feature flag
// evaluation. It is a pure function of (flag snapshot, evaluation context):
// no I/O, no side effects, so it can be exercised exhaustively in unit tests.
package flagengine

// Flag lifecycle statuses. Archived and inactive flags never evaluate as
// enabled regardless of the Enabled switch.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusArchived = "archived"
)

// Rollout types determine which evaluation algorithm runs.
const (
	RolloutBoolean    = "boolean"
	RolloutPercentage = "percentage"
	RolloutUserList   = "user-list"
)

// Reason codes returned with every decision. They are part of the API
// contract, so callers can distinguish "disabled by kill switch" from
// "lost the percentage lottery".
const (
	ReasonFlagNotFound      = "flag_not_found"
	ReasonFlagInactive      = "flag_inactive"
	ReasonFlagDisabled      = "flag_disabled"
	ReasonBooleanFlag       = "boolean_flag"
	ReasonPercentageRollout = "percentage_rollout"
	ReasonUserTargeted      = "user_targeted"
	ReasonRuleMatched       = "rule_matched"
	ReasonRuleNotMatched    = "rule_not_matched"
	ReasonNoMatch           = "no_match"
	ReasonUnknownRollout    = "unknown_rollout_type"
)

// Targeting rule operators.
const (
	OpEquals    = "equals"
	OpNotEquals = "not-equals"
	OpContains  = "contains"
	OpIn        = "in"
	OpNotIn     = "not-in"
)

// Rule is a single attribute-based predicate. A context matches a flag's rule
// set only if EVERY rule matches (logical AND).
//
// This struct mirrors the JSON stored in the flags table 'targeting_rules'
// column.
type Rule struct {
	// Attribute names the context key the rule inspects (e.g. "region").
	Attribute string `json:"attribute"`

	// Operator is one of the Op* constants.
	Operator string `json:"operator"`

	// Value is the comparison operand. For "in"/"not-in" it is a
	// comma-separated list, trimmed per element.
	Value string `json:"value"`
}

// Snapshot is the evaluation-relevant view of a flag. The storage layer
// produces one from its database entity; keeping the engine decoupled from
// the store means the engine never sees tenant ids or timestamps.
type Snapshot struct {
	Key               string
	Status            string
	Enabled           bool
	RolloutType       string
	RolloutPercentage int
	TargetUsers       []string
	Rules             []Rule
	DefaultValue      bool
}

// Context represents the entity requesting the flag.
type Context struct {
	// UserID is the primary identifier. Optional: percentage rollouts fall
	// back to a fixed anonymous bucket when it is absent.
	UserID string

	// Attributes is a flat string map used by targeting rules.
	Attributes map[string]string
}

// Decision is the evaluation result returned to the caller.
type Decision struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`

	// Percentage echoes the configured rollout percentage, only present for
	// percentage rollouts.
	Percentage *int `json:"percentage,omitempty"`
}
