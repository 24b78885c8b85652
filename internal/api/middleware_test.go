package api

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exyconn/platform/internal/events"
	"github.com/exyconn/platform/internal/flagengine"
	"github.com/exyconn/platform/internal/jobrunner"
)

func newAuthenticatedEnv(t *testing.T, apiKey string) *API {
	t.Helper()

	sum := sha256.Sum256([]byte(apiKey))
	jobs := newMemJobStore()
	history := &memHistoryStore{}
	broker := events.NewMemoryBroker()

	return New(Options{
		Flags:      newMemFlagStore(),
		Jobs:       jobs,
		History:    history,
		Variables:  newMemVariableStore(),
		Evaluator:  flagengine.New(nil),
		Runner:     jobrunner.NewRunner(jobs, history, broker, stubSender{status: 200}, nil),
		Broker:     broker,
		APIKeyHash: hex.EncodeToString(sum[:]),
	})
}

func TestAuthRejectsMissingKey(t *testing.T) {
	a := newAuthenticatedEnv(t, "secret-key")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flags", nil)
	req.Header.Set("X-Organization-ID", testOrg)

	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsWrongKey(t *testing.T) {
	a := newAuthenticatedEnv(t, "secret-key")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flags", nil)
	req.Header.Set("X-Organization-ID", testOrg)
	req.Header.Set("X-API-Key", "wrong-key")

	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthAcceptsValidKey(t *testing.T) {
	a := newAuthenticatedEnv(t, "secret-key")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flags", nil)
	req.Header.Set("X-Organization-ID", testOrg)
	req.Header.Set("X-API-Key", "secret-key")

	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingOrganizationHeaderIs400(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flags", nil)
	rec := httptest.NewRecorder()
	env.api.Router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR_MISSING_ORGANIZATION", decodeBody[ErrorResponse](t, rec).Code)
}

func TestHealthEndpointIsPublic(t *testing.T) {
	a := newAuthenticatedEnv(t, "secret-key")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
