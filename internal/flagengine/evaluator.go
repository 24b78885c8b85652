package flagengine

import (
	"log/slog"
)

// Evaluator is the orchestrator for flag decisions. It is stateless and safe
// for concurrent use; the logger is injected so evaluation can be traced
// without global state.
type Evaluator struct {
	logger *slog.Logger
}

// New creates an Evaluator. If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// Evaluate resolves a flag decision for the given context.
//
// Priority order:
//  1. status != active         -> disabled, "flag_inactive"
//  2. master switch off        -> default value, "flag_disabled"
//  3. dispatch on rollout type -> boolean / percentage / user-list
//
// "Flag not found" is decided by the caller (the flag must be loaded before
// it can be evaluated); NotFoundDecision builds that response.
func (e *Evaluator) Evaluate(flag Snapshot, ctx Context) Decision {
	// Archived/inactive flags never serve traffic, regardless of Enabled.
	if flag.Status != StatusActive {
		return Decision{Key: flag.Key, Enabled: false, Reason: ReasonFlagInactive}
	}

	// Master kill switch. The default value is the agreed fallback.
	if !flag.Enabled {
		return Decision{Key: flag.Key, Enabled: flag.DefaultValue, Reason: ReasonFlagDisabled}
	}

	switch flag.RolloutType {
	case RolloutBoolean:
		// Enabled is known true here; step 2 excluded the disabled case.
		return Decision{Key: flag.Key, Enabled: true, Reason: ReasonBooleanFlag}

	case RolloutPercentage:
		return e.evaluatePercentage(flag, ctx)

	case RolloutUserList:
		return e.evaluateUserList(flag, ctx)

	default:
		e.logger.Warn("unknown rollout type",
			slog.String("flag_key", flag.Key),
			slog.String("rollout_type", flag.RolloutType),
		)
		return Decision{Key: flag.Key, Enabled: flag.DefaultValue, Reason: ReasonUnknownRollout}
	}
}

// NotFoundDecision is the canonical response for a flag key that does not
// exist for the tenant.
func NotFoundDecision(key string) Decision {
	return Decision{Key: key, Enabled: false, Reason: ReasonFlagNotFound}
}

// evaluatePercentage buckets the user deterministically and compares against
// the configured rollout percentage. Same user id + same flag state always
// yields the same result: this is a partition, not a sample.
func (e *Evaluator) evaluatePercentage(flag Snapshot, ctx Context) Decision {
	bucket := bucketFor(ctx.UserID, flag.Key)
	pct := flag.RolloutPercentage

	return Decision{
		Key:        flag.Key,
		Enabled:    bucket < pct,
		Reason:     ReasonPercentageRollout,
		Percentage: &pct,
	}
}

// evaluateUserList checks explicit targeting first, then attribute rules.
//
// Order matters: membership in TargetUsers wins unconditionally, targeting
// rules are only consulted when the caller supplied attributes AND the flag
// has rules configured. Otherwise the default value applies.
func (e *Evaluator) evaluateUserList(flag Snapshot, ctx Context) Decision {
	if ctx.UserID != "" {
		for _, id := range flag.TargetUsers {
			if id == ctx.UserID {
				return Decision{Key: flag.Key, Enabled: true, Reason: ReasonUserTargeted}
			}
		}
	}

	if len(ctx.Attributes) > 0 && len(flag.Rules) > 0 {
		if matchRules(flag.Rules, ctx.Attributes) {
			return Decision{Key: flag.Key, Enabled: true, Reason: ReasonRuleMatched}
		}
		return Decision{Key: flag.Key, Enabled: false, Reason: ReasonRuleNotMatched}
	}

	return Decision{Key: flag.Key, Enabled: flag.DefaultValue, Reason: ReasonNoMatch}
}
