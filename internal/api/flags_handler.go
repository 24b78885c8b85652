package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/exyconn/platform/internal/flagengine"
	"github.com/exyconn/platform/internal/logger"
	"github.com/exyconn/platform/internal/store"
)

// handleCreateFlag processes POST /api/v1/flags.
func (a *API) handleCreateFlag(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())

	var req CreateFlagRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	// Sanitize modifies the struct in place (trimming, lowercasing the key);
	// Validate checks business rules. Both live on the DTO to keep the
	// handler clean and testable.
	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	flag := &store.Flag{
		OrganizationID:    orgID,
		Key:               req.Key,
		Name:              req.Name,
		Description:       req.Description,
		Status:            flagengine.StatusActive,
		Enabled:           req.Enabled,
		RolloutType:       req.RolloutType,
		RolloutPercentage: req.RolloutPercentage,
		TargetUsers:       req.TargetUsers,
		Rules:             req.Rules,
		DefaultValue:      req.DefaultValue,
	}

	if err := a.flags.CreateFlag(r.Context(), flag); err != nil {
		if errors.Is(err, store.ErrConflict) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_CONFLICT",
				Message: "A flag with this key already exists",
			})
			return
		}

		log.Error("failed to create flag in db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to create flag",
		})
		return
	}

	a.refreshSnapshotAsync(log, orgID, flag)

	log.Info("flag created",
		slog.String("flag_key", flag.Key),
		slog.Int64("flag_id", flag.ID),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mapFlag(flag))
}

// handleListFlags processes GET /api/v1/flags with offset pagination.
func (a *API) handleListFlags(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())

	page, pageSize, errResp := a.parsePagination(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	offset := (page - 1) * pageSize

	flags, totalItems, err := a.flags.ListFlags(r.Context(), orgID, pageSize, offset)
	if err != nil {
		log.Error("failed to list flags from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to list flags",
		})
		return
	}

	dtos := make([]FlagResponse, len(flags))
	for i, f := range flags {
		dtos[i] = mapFlag(f)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data:       dtos,
		Pagination: buildPagination(totalItems, page, pageSize),
	})
}

// handleGetFlag processes GET /api/v1/flags/{key}.
func (a *API) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())
	key := chi.URLParam(r, "key")

	flag, err := a.flags.GetFlag(r.Context(), orgID, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderNotFound(w, r, "Flag not found")
			return
		}

		log.Error("failed to get flag", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to get flag")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapFlag(flag))
}

// handleUpdateFlag processes PATCH /api/v1/flags/{key}. Partial update:
// omitted fields keep their current values.
func (a *API) handleUpdateFlag(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())
	key := chi.URLParam(r, "key")

	var req UpdateFlagRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	flag, err := a.flags.GetFlag(r.Context(), orgID, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderNotFound(w, r, "Flag not found")
			return
		}

		log.Error("failed to load flag for update", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to update flag")
		return
	}

	req.Apply(flag)

	if err := a.flags.UpdateFlag(r.Context(), flag); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderNotFound(w, r, "Flag not found")
			return
		}

		log.Error("failed to update flag", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to update flag")
		return
	}

	a.refreshSnapshotAsync(log, orgID, flag)

	log.Info("flag updated", slog.String("flag_key", flag.Key), slog.Int64("version", flag.Version))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapFlag(flag))
}

// handleDeleteFlag processes DELETE /api/v1/flags/{key}.
func (a *API) handleDeleteFlag(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())
	key := chi.URLParam(r, "key")

	if err := a.flags.DeleteFlag(r.Context(), orgID, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderNotFound(w, r, "Flag not found")
			return
		}

		log.Error("failed to delete flag", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to delete flag")
		return
	}

	a.invalidateSnapshotAsync(log, orgID, key)

	log.Info("flag deleted", slog.String("flag_key", key))
	w.WriteHeader(http.StatusNoContent)
}

// --- Private helpers ---

// parsePagination extracts and clamps page/page_size. Malformed values are a
// 400; out-of-bounds values are silently clamped.
func (a *API) parsePagination(r *http.Request) (page, pageSize int, errResp *ErrorResponse) {
	var err error

	page, err = parseOptionalInt(r, "page", 1)
	if err != nil {
		return 0, 0, &ErrorResponse{Code: "ERR_INVALID_QUERY_PARAM", Message: err.Error()}
	}

	pageSize, err = parseOptionalInt(r, "page_size", a.defaultPageSize)
	if err != nil {
		return 0, 0, &ErrorResponse{Code: "ERR_INVALID_QUERY_PARAM", Message: err.Error()}
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = a.defaultPageSize
	}
	if pageSize > a.maxPageSize {
		pageSize = a.maxPageSize
	}

	return page, pageSize, nil
}

// parseOptionalInt extracts an integer from the query string. A missing
// parameter yields the default; a malformed one is an error.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}

func buildPagination(totalItems int64, page, pageSize int) Pagination {
	totalPages := 0
	if totalItems > 0 {
		totalPages = int(math.Ceil(float64(totalItems) / float64(pageSize)))
	}
	return Pagination{
		TotalItems:  totalItems,
		TotalPages:  totalPages,
		CurrentPage: page,
		PageSize:    pageSize,
	}
}

func renderNotFound(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusNotFound)
	render.JSON(w, r, ErrorResponse{Code: "ERR_NOT_FOUND", Message: message})
}

func renderInternal(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: message})
}

// refreshSnapshotAsync pushes the updated flag into the Redis cache off the
// request path. The syncer will repair any miss on its next cycle, so a
// failure here only costs freshness.
func (a *API) refreshSnapshotAsync(log *slog.Logger, orgID string, flag *store.Flag) {
	if a.snapshots == nil {
		return
	}

	snap := flag.Snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.snapshots.Set(ctx, orgID, snap); err != nil {
			log.Warn("failed to refresh flag snapshot cache",
				slog.String("flag_key", snap.Key),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// invalidateSnapshotAsync drops a deleted flag from the cache.
func (a *API) invalidateSnapshotAsync(log *slog.Logger, orgID, key string) {
	if a.snapshots == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.snapshots.Delete(ctx, orgID, key); err != nil {
			log.Warn("failed to invalidate flag snapshot cache",
				slog.String("flag_key", key),
				slog.String("error", err.Error()),
			)
		}
	}()
}
