package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exyconn/platform/internal/config"
)

type staticChecker struct {
	name string
	err  error
}

func (c staticChecker) Name() string                  { return c.name }
func (c staticChecker) Check(_ context.Context) error { return c.err }

func newTestService(t *testing.T, checks ...Checker) *Service {
	t.Helper()

	cfg := &config.Config{
		Health: config.HealthConfig{
			Port:          "0",
			LivenessPath:  "/health/live",
			ReadinessPath: "/health/ready",
			Timeout:       time.Second,
		},
	}
	return NewService(slog.New(slog.NewTextHandler(&discard{}, nil)), cfg, checks...)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestLivenessAlwaysOK(t *testing.T) {
	svc := newTestService(t, staticChecker{name: "database", err: errors.New("down")})

	rec := httptest.NewRecorder()
	svc.liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessAllHealthy(t *testing.T) {
	svc := newTestService(t,
		staticChecker{name: "database"},
		staticChecker{name: "redis"},
	)

	rec := httptest.NewRecorder()
	svc.readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "up", body["status"]["database"])
	assert.Equal(t, "up", body["status"]["redis"])
}

func TestReadinessOneFailing(t *testing.T) {
	svc := newTestService(t,
		staticChecker{name: "database"},
		staticChecker{name: "redis", err: errors.New("connection refused")},
	)

	rec := httptest.NewRecorder()
	svc.readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "up", body["status"]["database"])
	assert.Contains(t, body["status"]["redis"], "down")
}
