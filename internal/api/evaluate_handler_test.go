package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exyconn/platform/internal/flagengine"
)

func TestEvaluateBooleanFlag(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/flags", CreateFlagRequest{
		Key: "checkout", Name: "Checkout", Enabled: true,
	}).Code)

	rec := env.do(t, http.MethodPost, "/api/v1/flags/evaluate", EvaluateRequest{
		Key: "checkout", UserID: "user-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	decision := decodeBody[flagengine.Decision](t, rec)
	assert.True(t, decision.Enabled)
	assert.Equal(t, flagengine.ReasonBooleanFlag, decision.Reason)
}

func TestEvaluateUnknownFlagIs200NotFoundReason(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	rec := env.do(t, http.MethodPost, "/api/v1/flags/evaluate", EvaluateRequest{
		Key: "ghost", UserID: "user-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, "evaluation always answers")

	decision := decodeBody[flagengine.Decision](t, rec)
	assert.False(t, decision.Enabled)
	assert.Equal(t, flagengine.ReasonFlagNotFound, decision.Reason)
}

func TestEvaluateDisabledFlagReturnsDefault(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/flags", CreateFlagRequest{
		Key: "legacy", Name: "Legacy", Enabled: false, DefaultValue: true,
	}).Code)

	rec := env.do(t, http.MethodPost, "/api/v1/flags/evaluate", EvaluateRequest{Key: "legacy"})
	require.Equal(t, http.StatusOK, rec.Code)

	decision := decodeBody[flagengine.Decision](t, rec)
	assert.True(t, decision.Enabled, "disabled flag serves the default value")
	assert.Equal(t, flagengine.ReasonFlagDisabled, decision.Reason)
}

func TestEvaluatePercentageEchoesPercentage(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/flags", CreateFlagRequest{
		Key: "gradual", Name: "Gradual", Enabled: true,
		RolloutType: flagengine.RolloutPercentage, RolloutPercentage: 100,
	}).Code)

	rec := env.do(t, http.MethodPost, "/api/v1/flags/evaluate", EvaluateRequest{
		Key: "gradual", UserID: "user-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	decision := decodeBody[flagengine.Decision](t, rec)
	assert.True(t, decision.Enabled, "100% rollout includes everyone")
	assert.Equal(t, flagengine.ReasonPercentageRollout, decision.Reason)
	require.NotNil(t, decision.Percentage)
	assert.Equal(t, 100, *decision.Percentage)
}

func TestEvaluateUserListWithRules(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/flags", CreateFlagRequest{
		Key: "targeted", Name: "Targeted", Enabled: true,
		RolloutType: flagengine.RolloutUserList,
		TargetUsers: []string{"vip-1"},
		Rules: []flagengine.Rule{
			{Attribute: "plan", Operator: flagengine.OpEquals, Value: "pro"},
		},
	}).Code)

	// Explicit targeting wins.
	rec := env.do(t, http.MethodPost, "/api/v1/flags/evaluate", EvaluateRequest{
		Key: "targeted", UserID: "vip-1",
	})
	decision := decodeBody[flagengine.Decision](t, rec)
	assert.Equal(t, flagengine.ReasonUserTargeted, decision.Reason)

	// Rules apply to everyone else.
	rec = env.do(t, http.MethodPost, "/api/v1/flags/evaluate", EvaluateRequest{
		Key: "targeted", UserID: "user-2", Attributes: map[string]string{"plan": "pro"},
	})
	decision = decodeBody[flagengine.Decision](t, rec)
	assert.True(t, decision.Enabled)
	assert.Equal(t, flagengine.ReasonRuleMatched, decision.Reason)
}

func TestEvaluateRejectsNonStringAttributes(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	rec := env.do(t, http.MethodPost, "/api/v1/flags/evaluate", map[string]any{
		"key":        "whatever",
		"attributes": map[string]any{"age": 42},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR_INVALID_JSON", decodeBody[ErrorResponse](t, rec).Code)
}

func TestEvaluateRejectsMissingKey(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	rec := env.do(t, http.MethodPost, "/api/v1/flags/evaluate", EvaluateRequest{UserID: "u"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR_INVALID_INPUT", decodeBody[ErrorResponse](t, rec).Code)
}
