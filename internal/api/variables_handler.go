package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/exyconn/platform/internal/logger"
	"github.com/exyconn/platform/internal/store"
)

// handleCreateVariable processes POST /api/v1/variables.
func (a *API) handleCreateVariable(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())

	var req VariableRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	variable := &store.EnvironmentVariable{
		OrganizationID: orgID,
		Key:            req.Key,
		Value:          req.Value,
	}

	if err := a.variables.CreateVariable(r.Context(), variable); err != nil {
		if errors.Is(err, store.ErrConflict) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_CONFLICT",
				Message: "A variable with this key already exists",
			})
			return
		}

		log.Error("failed to create variable", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to create variable")
		return
	}

	log.Info("variable created", slog.String("variable_key", variable.Key))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mapVariable(variable))
}

// handleListVariables processes GET /api/v1/variables.
func (a *API) handleListVariables(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())

	page, pageSize, errResp := a.parsePagination(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	vars, totalItems, err := a.variables.ListVariables(r.Context(), orgID, pageSize, (page-1)*pageSize)
	if err != nil {
		log.Error("failed to list variables", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to list variables")
		return
	}

	dtos := make([]VariableResponse, len(vars))
	for i, v := range vars {
		dtos[i] = mapVariable(v)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data:       dtos,
		Pagination: buildPagination(totalItems, page, pageSize),
	})
}

// handleGetVariable processes GET /api/v1/variables/{key}.
func (a *API) handleGetVariable(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())
	key := chi.URLParam(r, "key")

	variable, err := a.variables.GetVariable(r.Context(), orgID, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderNotFound(w, r, "Variable not found")
			return
		}

		log.Error("failed to get variable", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to get variable")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapVariable(variable))
}

// handleUpdateVariable processes PUT /api/v1/variables/{key}. Full value
// replacement; the key in the path wins over any key in the body.
func (a *API) handleUpdateVariable(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())
	key := chi.URLParam(r, "key")

	var req VariableRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	variable := &store.EnvironmentVariable{
		OrganizationID: orgID,
		Key:            key,
		Value:          req.Value,
	}

	if err := a.variables.UpdateVariable(r.Context(), variable); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderNotFound(w, r, "Variable not found")
			return
		}

		log.Error("failed to update variable", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to update variable")
		return
	}

	log.Info("variable updated", slog.String("variable_key", key))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapVariable(variable))
}

// handleDeleteVariable processes DELETE /api/v1/variables/{key}.
func (a *API) handleDeleteVariable(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())
	key := chi.URLParam(r, "key")

	if err := a.variables.DeleteVariable(r.Context(), orgID, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderNotFound(w, r, "Variable not found")
			return
		}

		log.Error("failed to delete variable", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to delete variable")
		return
	}

	log.Info("variable deleted", slog.String("variable_key", key))
	w.WriteHeader(http.StatusNoContent)
}
