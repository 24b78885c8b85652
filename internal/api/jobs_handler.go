package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/exyconn/platform/internal/cronexpr"
	"github.com/exyconn/platform/internal/events"
	"github.com/exyconn/platform/internal/logger"
	"github.com/exyconn/platform/internal/store"
)

// handleCreateJob processes POST /api/v1/jobs.
func (a *API) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())

	var req CreateJobRequest
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

	job := &store.Job{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Name:           req.Name,
		CronExpression: req.CronExpression,
		WebhookURL:     req.WebhookURL,
		Method:         req.Method,
		Headers:        req.Headers,
		Body:           req.Body,
		TimeoutMS:      req.TimeoutMS,
		MaxRetries:     req.MaxRetries,
		Status:         store.JobStatusActive,
	}

	// Validation is syntactic only, so an expression like "99 * * * *" can
	// still fail projection. The job is created anyway with a null next run;
	// the runner recomputes (and logs) on every execution.
	if next, err := cronexpr.Next(job.CronExpression, time.Now()); err == nil {
		job.NextExecutionAt = &next
	} else {
		log.Warn("cannot compute next execution",
			slog.String("cron", job.CronExpression),
			slog.String("error", err.Error()),
		)
	}

	if err := a.jobs.CreateJob(r.Context(), job); err != nil {
		log.Error("failed to create job in db", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to create job")
		return
	}

	a.broker.Publish(orgID, events.New(events.JobCreated, map[string]any{
		"job_id":   job.ID,
		"job_name": job.Name,
	}))

	log.Info("job created", slog.String("job_id", job.ID), slog.String("job_name", job.Name))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mapJob(job))
}

// handleListJobs processes GET /api/v1/jobs with offset pagination.
func (a *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())

	page, pageSize, errResp := a.parsePagination(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	jobs, totalItems, err := a.jobs.ListJobs(r.Context(), orgID, pageSize, (page-1)*pageSize)
	if err != nil {
		log.Error("failed to list jobs from db", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to list jobs")
		return
	}

	dtos := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		dtos[i] = mapJob(j)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data:       dtos,
		Pagination: buildPagination(totalItems, page, pageSize),
	})
}

// handleGetJob processes GET /api/v1/jobs/{id}.
func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())
	id := chi.URLParam(r, "id")

	job, err := a.jobs.GetJob(r.Context(), orgID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderNotFound(w, r, "Job not found")
			return
		}

		log.Error("failed to get job", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to get job")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapJob(job))
}

// handleUpdateJob processes PATCH /api/v1/jobs/{id}. Counters and status are
// not updatable here: status moves through toggle, counters through execution.
func (a *API) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req UpdateJobRequest
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

	job, err := a.jobs.GetJob(r.Context(), orgID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderNotFound(w, r, "Job not found")
			return
		}

		log.Error("failed to load job for update", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to update job")
		return
	}

	req.Apply(job)

	// A changed schedule moves the projected next run. A syntactically valid
	// but unsatisfiable expression clears it instead.
	if req.CronExpression != nil {
		if next, err := cronexpr.Next(job.CronExpression, time.Now()); err == nil {
			job.NextExecutionAt = &next
		} else {
			job.NextExecutionAt = nil
			log.Warn("cannot compute next execution",
				slog.String("cron", job.CronExpression),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := a.jobs.UpdateJob(r.Context(), job); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderNotFound(w, r, "Job not found")
			return
		}

		log.Error("failed to update job", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to update job")
		return
	}

	a.broker.Publish(orgID, events.New(events.JobUpdated, map[string]any{
		"job_id":   job.ID,
		"job_name": job.Name,
	}))

	log.Info("job updated", slog.String("job_id", job.ID), slog.Int64("version", job.Version))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapJob(job))
}

// handleDeleteJob processes DELETE /api/v1/jobs/{id}. History rows go with
// the job (schema-level cascade).
func (a *API) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := a.jobs.DeleteJob(r.Context(), orgID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderNotFound(w, r, "Job not found")
			return
		}

		log.Error("failed to delete job", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to delete job")
		return
	}

	a.broker.Publish(orgID, events.New(events.JobDeleted, map[string]any{
		"job_id": id,
	}))

	log.Info("job deleted", slog.String("job_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// handleExecuteJob processes POST /api/v1/jobs/{id}/execute.
//
// A webhook failure is an expected operational outcome: the response is
// still 200, with success=false and the failure detail in the execution.
func (a *API) handleExecuteJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())
	id := chi.URLParam(r, "id")

	result, err := a.runner.Execute(r.Context(), orgID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderNotFound(w, r, "Job not found")
			return
		}

		log.Error("job execution failed", slog.String("job_id", id), slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to execute job")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, result)
}

// handleToggleJob processes POST /api/v1/jobs/{id}/toggle, flipping between
// active and paused. Toggling a failed job is the explicit re-activation
// path: failed -> active, with the retry budget reset at the store level.
func (a *API) handleToggleJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())
	id := chi.URLParam(r, "id")

	job, err := a.jobs.GetJob(r.Context(), orgID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderNotFound(w, r, "Job not found")
			return
		}

		log.Error("failed to load job for toggle", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to toggle job")
		return
	}

	var newStatus string
	switch job.Status {
	case store.JobStatusActive:
		newStatus = store.JobStatusPaused
	case store.JobStatusPaused, store.JobStatusFailed:
		newStatus = store.JobStatusActive
	default:
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_STATE",
			Message: "Job status " + job.Status + " cannot be toggled",
		})
		return
	}

	if err := a.jobs.UpdateJobStatus(r.Context(), orgID, id, newStatus); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderNotFound(w, r, "Job not found")
			return
		}

		log.Error("failed to toggle job", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to toggle job")
		return
	}

	job.Status = newStatus
	if newStatus == store.JobStatusActive {
		// Mirrors the store-level reset so the response reflects it.
		job.RetryCount = 0
	}

	a.broker.Publish(orgID, events.New(events.JobToggled, map[string]any{
		"job_id":   job.ID,
		"job_name": job.Name,
		"status":   newStatus,
	}))

	log.Info("job toggled", slog.String("job_id", job.ID), slog.String("status", newStatus))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapJob(job))
}

// handleJobHistory processes GET /api/v1/jobs/{id}/history, newest first.
func (a *API) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())
	id := chi.URLParam(r, "id")

	// A history listing for an unknown job is a 404, not an empty page.
	if _, err := a.jobs.GetJob(r.Context(), orgID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderNotFound(w, r, "Job not found")
			return
		}

		log.Error("failed to load job for history", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to list job history")
		return
	}

	page, pageSize, errResp := a.parsePagination(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	records, totalItems, err := a.history.ListByJob(r.Context(), orgID, id, pageSize, (page-1)*pageSize)
	if err != nil {
		log.Error("failed to list job history", slog.String("error", err.Error()))
		renderInternal(w, r, "Failed to list job history")
		return
	}

	dtos := make([]HistoryResponse, len(records))
	for i, rec := range records {
		dtos[i] = mapHistory(rec)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data:       dtos,
		Pagination: buildPagination(totalItems, page, pageSize),
	})
}
