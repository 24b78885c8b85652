package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exyconn/platform/internal/flagengine"
)

func TestCreateFlag(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	rec := env.do(t, http.MethodPost, "/api/v1/flags", CreateFlagRequest{
		Key:     "New-Checkout ",
		Name:    "New checkout flow",
		Enabled: true,
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	flag := decodeBody[FlagResponse](t, rec)
	assert.Equal(t, "new-checkout", flag.Key, "key is lowercased and trimmed")
	assert.Equal(t, flagengine.StatusActive, flag.Status)
	assert.Equal(t, flagengine.RolloutBoolean, flag.RolloutType, "rollout type defaults to boolean")
	assert.True(t, flag.Enabled)
	assert.EqualValues(t, 1, flag.Version)
}

func TestCreateFlagValidation(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	tests := []struct {
		name string
		req  CreateFlagRequest
	}{
		{"missing key", CreateFlagRequest{Name: "x"}},
		{"invalid key characters", CreateFlagRequest{Key: "Has Spaces!", Name: "x"}},
		{"missing name", CreateFlagRequest{Key: "valid-key"}},
		{"percentage out of range", CreateFlagRequest{
			Key: "valid-key", Name: "x",
			RolloutType: flagengine.RolloutPercentage, RolloutPercentage: 120,
		}},
		{"unknown rollout type", CreateFlagRequest{
			Key: "valid-key", Name: "x", RolloutType: "gradual",
		}},
		{"unknown rule operator", CreateFlagRequest{
			Key: "valid-key", Name: "x",
			Rules: []flagengine.Rule{{Attribute: "plan", Operator: "matches", Value: "pro"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/flags", tt.req)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			errResp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, "ERR_INVALID_INPUT", errResp.Code)
		})
	}
}

func TestCreateFlagConflict(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	req := CreateFlagRequest{Key: "dup", Name: "first"}
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/flags", req).Code)

	rec := env.do(t, http.MethodPost, "/api/v1/flags", req)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ERR_CONFLICT", decodeBody[ErrorResponse](t, rec).Code)
}

func TestGetFlagNotFound(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	rec := env.do(t, http.MethodGet, "/api/v1/flags/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ERR_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)
}

func TestUpdateFlagPartial(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/flags", CreateFlagRequest{
		Key: "beta", Name: "Beta", Enabled: true,
	}).Code)

	enabled := false
	rec := env.do(t, http.MethodPatch, "/api/v1/flags/beta", UpdateFlagRequest{Enabled: &enabled})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	flag := decodeBody[FlagResponse](t, rec)
	assert.False(t, flag.Enabled)
	assert.Equal(t, "Beta", flag.Name, "omitted fields keep their values")
	assert.EqualValues(t, 2, flag.Version)
}

func TestDeleteFlag(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/flags", CreateFlagRequest{
		Key: "temp", Name: "Temp",
	}).Code)

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/v1/flags/temp", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/flags/temp", nil).Code)
}

func TestListFlagsPagination(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	for _, key := range []string{"one", "two", "three"} {
		require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/flags", CreateFlagRequest{
			Key: key, Name: key,
		}).Code)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/flags?page=1&page_size=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[struct {
		Data       []FlagResponse `json:"data"`
		Pagination Pagination     `json:"pagination"`
	}](t, rec)

	assert.Len(t, resp.Data, 2)
	assert.EqualValues(t, 3, resp.Pagination.TotalItems)
	assert.Equal(t, 2, resp.Pagination.TotalPages)
	assert.Equal(t, 1, resp.Pagination.CurrentPage)
}

func TestListFlagsRejectsMalformedPage(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	rec := env.do(t, http.MethodGet, "/api/v1/flags?page=banana", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR_INVALID_QUERY_PARAM", decodeBody[ErrorResponse](t, rec).Code)
}

func TestFlagsTenantIsolation(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/flags", CreateFlagRequest{
		Key: "private", Name: "Private",
	}).Code)

	// Same path, different tenant: not visible.
	rec := env.doAs(t, http.MethodGet, "/api/v1/flags/private", "org-other", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
