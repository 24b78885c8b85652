// Package jobrunner executes one webhook job on demand: a single outbound
// HTTP call, outcome classification, counter updates, and an immutable
// history record. There is no scheduler loop here; "retry" means the next
// externally-triggered execution, never an in-call backoff loop.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/exyconn/platform/internal/cronexpr"
	"github.com/exyconn/platform/internal/events"
	"github.com/exyconn/platform/internal/observability"
	"github.com/exyconn/platform/internal/store"
)

// maxResponseBodyChars is the truncation limit applied to captured response
// bodies before persistence.
const maxResponseBodyChars = 5000

// Execution is the outcome summary returned to the API caller and embedded
// in the completion event.
type Execution struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	JobName        string    `json:"job_name"`
	Status         string    `json:"status"`
	ResponseStatus *int      `json:"response_status,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	Error          string    `json:"error,omitempty"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// Result wraps an execution with its top-level success bit. A webhook
// failure is an expected operational outcome: the API still returns 200
// with Success=false.
type Result struct {
	Success   bool      `json:"success"`
	Execution Execution `json:"execution"`
}

// Runner orchestrates job executions. All collaborators are injected
// interfaces: no global state, no hidden singletons.
type Runner struct {
	jobs    store.JobRepository
	history store.HistoryRepository
	broker  events.Broker
	sender  Sender
	logger  *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewRunner creates a Runner. Sender and logger fall back to sane defaults
// when nil; repositories and broker are mandatory.
func NewRunner(jobs store.JobRepository, history store.HistoryRepository, broker events.Broker, sender Sender, logger *slog.Logger) *Runner {
	if jobs == nil {
		panic("jobrunner: job repository cannot be nil")
	}
	if history == nil {
		panic("jobrunner: history repository cannot be nil")
	}
	if broker == nil {
		panic("jobrunner: event broker cannot be nil")
	}
	if sender == nil {
		sender = NewHTTPSender()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		jobs:    jobs,
		history: history,
		broker:  broker,
		sender:  sender,
		logger:  logger,
		now:     time.Now,
	}
}

// Execute performs one webhook call for the job and records the outcome.
//
// Returns store.ErrNotFound (wrapped) when the job does not exist for the
// tenant. Webhook failures do NOT produce an error: they are reported in the
// Result and reflected in the job's counters.
func (r *Runner) Execute(ctx context.Context, orgID, jobID string) (*Result, error) {
	job, err := r.jobs.GetJob(ctx, orgID, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %q: %w", jobID, err)
	}

	log := r.logger.With(
		slog.String("org_id", orgID),
		slog.String("job_id", job.ID),
		slog.String("job_name", job.Name),
	)

	r.broker.Publish(orgID, events.New(events.JobExecutionStart, map[string]any{
		"job_id":   job.ID,
		"job_name": job.Name,
	}))

	executedAt := r.now()
	attempt := job.RetryCount

	// The webhook call, bounded by the job's configured timeout.
	outcome := r.sender.Send(ctx, WebhookRequest{
		URL:     job.WebhookURL,
		Method:  job.Method,
		Headers: job.Headers,
		Body:    job.Body,
		Timeout: job.Timeout(),
	})

	exec := classify(job, outcome)
	exec.ExecutedAt = executedAt
	exec.ID = uuid.NewString()

	observability.JobExecutionDuration.Observe(outcome.Duration.Seconds())
	observability.JobExecutionsTotal.WithLabelValues(exec.Status).Inc()

	// History first: the append-only record must exist even if the counter
	// update below loses an optimistic race.
	rec := &store.HistoryRecord{
		ID:             exec.ID,
		OrganizationID: orgID,
		JobID:          job.ID,
		JobName:        job.Name,
		ExecutedAt:     executedAt,
		Status:         exec.Status,
		ResponseStatus: exec.ResponseStatus,
		ResponseBody:   truncate(outcome.Body, maxResponseBodyChars),
		Error:          exec.Error,
		DurationMS:     exec.DurationMS,
		RetryAttempt:   attempt,
	}
	if err := r.history.InsertRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("record execution history: %w", err)
	}

	r.applyCounters(job, exec.Status == store.ExecutionSuccess, executedAt, log)

	if err := r.jobs.ApplyExecution(ctx, job); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			// A concurrent execution updated the counters first. The
			// history record above already preserves this outcome; losing
			// the counter race is acceptable, retrying it is not worth a
			// read-modify-write loop on an externally-triggered path.
			log.Warn("job counters lost optimistic race", slog.Int64("version", job.Version))
		} else {
			return nil, fmt.Errorf("persist job counters: %w", err)
		}
	}

	result := &Result{
		Success:   exec.Status == store.ExecutionSuccess,
		Execution: exec,
	}

	r.broker.Publish(orgID, events.New(events.JobExecutionComplete, map[string]any{
		"job_id":     job.ID,
		"job_name":   job.Name,
		"success":    result.Success,
		"status":     exec.Status,
		"duration":   exec.DurationMS,
		"job_status": job.Status,
	}))

	log.Info("job executed",
		slog.String("status", exec.Status),
		slog.Int64("duration_ms", exec.DurationMS),
		slog.Int("retry_count", job.RetryCount),
	)

	return result, nil
}

// classify maps a raw webhook outcome to an execution summary.
//
//   - Transport error (network, timeout) -> failure with the error message.
//   - Non-2xx/3xx HTTP status            -> failure with "HTTP {code}: {text}".
//   - Anything else                      -> success.
func classify(job *store.Job, outcome WebhookResult) Execution {
	exec := Execution{
		JobID:      job.ID,
		JobName:    job.Name,
		DurationMS: outcome.Duration.Milliseconds(),
	}

	switch {
	case outcome.Err != nil:
		exec.Status = store.ExecutionFailure
		exec.Error = outcome.Err.Error()

	case outcome.StatusCode < 200 || outcome.StatusCode >= 400:
		code := outcome.StatusCode
		exec.Status = store.ExecutionFailure
		exec.ResponseStatus = &code
		exec.Error = fmt.Sprintf("HTTP %d: %s", code, outcome.StatusText)

	default:
		code := outcome.StatusCode
		exec.Status = store.ExecutionSuccess
		exec.ResponseStatus = &code
	}

	return exec
}

// applyCounters mutates the job in place per the retry state machine:
//
//	success -> successCount+1, retryCount=0
//	failure -> failureCount+1, retryCount+1; active jobs transition to
//	           "failed" once retryCount reaches maxRetries (terminal until
//	           an explicit external reset)
//
// A success never moves the status back out of "failed"; re-activation is
// always an explicit caller action.
func (r *Runner) applyCounters(job *store.Job, success bool, executedAt time.Time, log *slog.Logger) {
	if success {
		job.SuccessCount++
		job.RetryCount = 0
	} else {
		job.FailureCount++
		job.RetryCount++

		if job.RetryCount >= job.MaxRetries && job.Status == store.JobStatusActive {
			job.Status = store.JobStatusFailed
			log.Warn("job exhausted retries, marking failed",
				slog.Int("retry_count", job.RetryCount),
				slog.Int("max_retries", job.MaxRetries),
			)
		}
	}

	job.ExecutionCount++
	job.LastExecutedAt = &executedAt

	// Recomputed on every execution regardless of outcome.
	if next, err := cronexpr.Next(job.CronExpression, executedAt); err != nil {
		log.Warn("cannot compute next execution",
			slog.String("cron", job.CronExpression),
			slog.String("error", err.Error()),
		)
		job.NextExecutionAt = nil
	} else {
		job.NextExecutionAt = &next
	}
}

// truncate caps s at limit bytes without splitting a multibyte character:
// the capture path reads a byte-bounded prefix, so a cut can land inside a
// rune, and the history column rejects anything that is not valid UTF-8.
// Any partial trailing rune is dropped along with the overflow.
func truncate(s string, limit int) string {
	if len(s) > limit {
		s = s[:limit]
	}
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}
