package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/exyconn/platform/internal/cache"
	"github.com/exyconn/platform/internal/flagengine"
	"github.com/exyconn/platform/internal/logger"
	"github.com/exyconn/platform/internal/observability"
	"github.com/exyconn/platform/internal/store"
)

// handleEvaluateFlag processes POST /api/v1/flags/evaluate.
//
// The flag snapshot is read through the Redis cache when one is wired; a miss
// (or no cache at all) falls back to the database and re-populates the cache.
// An unknown flag is NOT an HTTP 404: evaluation always answers, with reason
// flag_not_found and enabled=false, so client SDKs never need an error path.
func (a *API) handleEvaluateFlag(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())

	// Attributes is map[string]string: a payload with non-string attribute
	// values fails decoding here with a 400, which enforces the flat-map
	// contract without reflection.
	var req EvaluateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Key = strings.ToLower(strings.TrimSpace(req.Key))
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	snap, err := a.loadSnapshot(r.Context(), log, orgID, req.Key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			decision := flagengine.NotFoundDecision(req.Key)
			observability.EvaluationsTotal.WithLabelValues(decision.Reason).Inc()
			render.Status(r, http.StatusOK)
			render.JSON(w, r, decision)
			return
		}

		log.Error("failed to load flag for evaluation", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to evaluate flag")
		return
	}

	decision := a.evaluator.Evaluate(snap, flagengine.Context{
		UserID:     req.UserID,
		Attributes: req.Attributes,
	})

	observability.EvaluationsTotal.WithLabelValues(decision.Reason).Inc()

	render.Status(r, http.StatusOK)
	render.JSON(w, r, decision)
}

// loadSnapshot resolves the flag snapshot: cache, then database with a
// best-effort cache refill.
func (a *API) loadSnapshot(ctx context.Context, log *slog.Logger, orgID, key string) (flagengine.Snapshot, error) {
	if a.snapshots != nil {
		snap, err := a.snapshots.Get(ctx, orgID, key)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			// Redis trouble must not take the evaluation path down; fall
			// through to the database.
			log.Warn("snapshot cache read failed", slog.String("error", err.Error()))
		}
	}

	flag, err := a.flags.GetFlag(ctx, orgID, key)
	if err != nil {
		return flagengine.Snapshot{}, err
	}

	snap := flag.Snapshot()

	if a.snapshots != nil {
		if err := a.snapshots.Set(ctx, orgID, snap); err != nil {
			log.Warn("snapshot cache refill failed", slog.String("error", err.Error()))
		}
	}

	return snap, nil
}
