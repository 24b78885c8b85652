package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/exyconn/platform/internal/logger"
	"github.com/exyconn/platform/internal/observability"
)

// orgIDKey is the context key under which the resolved tenant id is stored.
type orgIDKey struct{}

// orgFromContext returns the organization id resolved by requireOrganization.
// Handlers below that middleware can rely on it being non-empty.
func orgFromContext(ctx context.Context) string {
	orgID, _ := ctx.Value(orgIDKey{}).(string)
	return orgID
}

// RequestLogger logs the completion of each request and records the
// Prometheus request metrics. It integrates with slog to provide structured
// logs including RequestID, method, path, status, and duration.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := middleware.GetReqID(r.Context())

		// Wrap the ResponseWriter to capture the status code.
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		status := ww.Status()

		// The route pattern (not the raw path) keeps metric cardinality
		// bounded: /api/v1/jobs/{id}, not one series per job.
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}

		observability.HTTPReqDuration.WithLabelValues(r.Method, pattern).Observe(duration.Seconds())
		observability.HTTPReqTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(status)).Inc()

		// Info for success, Warn for 4xx, Error for 5xx.
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		slog.Log(r.Context(), level, "HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", duration.String(),
			"request_id", reqID,
			"remote_ip", r.RemoteAddr,
		)
	})
}

// authenticateAPIKey validates the X-API-Key header against the configured
// SHA-256 hash. The comparison is constant-time; the plaintext key is never
// stored server-side.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_UNAUTHORIZED",
				Message: "Missing X-API-Key header",
			})
			return
		}

		sum := sha256.Sum256([]byte(key))
		digest := hex.EncodeToString(sum[:])

		if subtle.ConstantTimeCompare([]byte(digest), []byte(strings.ToLower(a.apiKeyHash))) != 1 {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_UNAUTHORIZED",
				Message: "Invalid API key",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireOrganization resolves the tenant from the X-Organization-ID header
// and stores it in the request context. Every /api/v1 resource is scoped to
// exactly one organization.
func requireOrganization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := strings.TrimSpace(r.Header.Get("X-Organization-ID"))
		if orgID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_MISSING_ORGANIZATION",
				Message: "Missing X-Organization-ID header",
			})
			return
		}

		ctx := context.WithValue(r.Context(), orgIDKey{}, orgID)

		// Handlers below pull this request-scoped logger via
		// logger.FromContext; every line they emit carries the tenant and
		// request id without repeating the fields at each call site.
		reqLog := slog.Default().With(
			slog.String("request_id", middleware.GetReqID(ctx)),
			slog.String("org_id", orgID),
		)
		ctx = logger.WithContext(ctx, reqLog)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
