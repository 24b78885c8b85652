package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Job lifecycle statuses. Transitions: active<->paused via explicit toggle;
// active->failed automatically once RetryCount reaches MaxRetries; failed is
// terminal until manually reset.
const (
	JobStatusActive    = "active"
	JobStatusPaused    = "paused"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Compile-time check to verify that PostgresJobStore implements JobRepository.
var _ JobRepository = (*PostgresJobStore)(nil)

// Job represents the database schema for a scheduled webhook job. It mirrors
// the 'jobs' table.
type Job struct {
	ID             string
	OrganizationID string
	Name           string
	CronExpression string
	WebhookURL     string
	Method         string
	Headers        map[string]string
	Body           string

	// TimeoutMS bounds the outbound webhook call in milliseconds.
	TimeoutMS  int
	MaxRetries int

	Status string

	// RetryCount tracks CONSECUTIVE failures. It resets to 0 on any success.
	RetryCount      int
	ExecutionCount  int
	SuccessCount    int
	FailureCount    int
	LastExecutedAt  *time.Time
	NextExecutionAt *time.Time

	// Version guards the counter read-modify-write against concurrent
	// executions of the same job.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Timeout returns the webhook deadline as a duration.
func (j *Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutMS) * time.Millisecond
}

// JobRepository defines the persistence interface for cron jobs.
type JobRepository interface {
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by id, scoped to the tenant. Returns
	// ErrNotFound when the id is unknown to the organization.
	GetJob(ctx context.Context, orgID, id string) (*Job, error)

	ListJobs(ctx context.Context, orgID string, limit, offset int) ([]*Job, int64, error)

	// UpdateJob persists the definition fields (not the counters).
	UpdateJob(ctx context.Context, j *Job) error

	// UpdateJobStatus flips only the status column (pause/resume/reset).
	UpdateJobStatus(ctx context.Context, orgID, id, status string) error

	// ApplyExecution persists the post-execution counters and status in a
	// single version-checked write. Returns ErrVersionConflict when another
	// execution of the same job won the race; the caller decides whether to
	// re-read and retry.
	ApplyExecution(ctx context.Context, j *Job) error

	// DeleteJob removes the job; history rows cascade at the schema level.
	DeleteJob(ctx context.Context, orgID, id string) error
}

// PostgresJobStore is the JobRepository implementation backed by PostgreSQL.
type PostgresJobStore struct {
	db *pgxpool.Pool
}

// NewPostgresJobStore creates a new repository instance.
func NewPostgresJobStore(db *pgxpool.Pool) *PostgresJobStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresJobStore{db: db}
}

const jobColumns = `id, organization_id, name, cron_expression, webhook_url, method,
	headers, body, timeout_ms, max_retries, status, retry_count, execution_count,
	success_count, failure_count, last_executed_at, next_execution_at,
	version, created_at, updated_at`

// CreateJob inserts a new job. The id is generated by the caller (uuid).
func (s *PostgresJobStore) CreateJob(ctx context.Context, j *Job) error {
	headers, err := marshalHeaders(j.Headers)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (id, organization_id, name, cron_expression, webhook_url,
			method, headers, body, timeout_ms, max_retries, status, next_execution_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING version, created_at, updated_at
	`

	err = s.db.QueryRow(ctx, query,
		j.ID,
		j.OrganizationID,
		j.Name,
		j.CronExpression,
		j.WebhookURL,
		j.Method,
		headers,
		j.Body,
		j.TimeoutMS,
		j.MaxRetries,
		j.Status,
		j.NextExecutionAt,
	).Scan(&j.Version, &j.CreatedAt, &j.UpdatedAt)

	if err != nil {
		if mapped := mapError(err); mapped == ErrConflict {
			return fmt.Errorf("job %q: %w", j.Name, ErrConflict)
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// GetJob fetches one job by tenant and id.
func (s *PostgresJobStore) GetJob(ctx context.Context, orgID, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE organization_id = $1 AND id = $2`

	j, err := scanJob(s.db.QueryRow(ctx, query, orgID, id))
	if err != nil {
		if mapped := mapError(err); mapped == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %q: %w", id, err)
	}

	return j, nil
}

// ListJobs retrieves a tenant's jobs with pagination metadata.
func (s *PostgresJobStore) ListJobs(ctx context.Context, orgID string, limit, offset int) ([]*Job, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM jobs WHERE organization_id = $1`, orgID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	if total == 0 {
		return []*Job{}, 0, nil
	}

	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.Query(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*Job, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return jobs, total, nil
}

// UpdateJob persists the definition fields. Counters are deliberately
// excluded: those only move through ApplyExecution.
func (s *PostgresJobStore) UpdateJob(ctx context.Context, j *Job) error {
	headers, err := marshalHeaders(j.Headers)
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs
		SET name = $3, cron_expression = $4, webhook_url = $5, method = $6,
			headers = $7, body = $8, timeout_ms = $9, max_retries = $10,
			next_execution_at = $11, version = version + 1, updated_at = now()
		WHERE organization_id = $1 AND id = $2
		RETURNING version, updated_at
	`

	err = s.db.QueryRow(ctx, query,
		j.OrganizationID,
		j.ID,
		j.Name,
		j.CronExpression,
		j.WebhookURL,
		j.Method,
		headers,
		j.Body,
		j.TimeoutMS,
		j.MaxRetries,
		j.NextExecutionAt,
	).Scan(&j.Version, &j.UpdatedAt)

	if err != nil {
		if mapped := mapError(err); mapped == ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update job %q: %w", j.ID, err)
	}

	return nil
}

// UpdateJobStatus flips the status column. Re-activation also clears the
// consecutive-failure counter, otherwise a job coming back from "failed"
// would re-fail on its first miss.
func (s *PostgresJobStore) UpdateJobStatus(ctx context.Context, orgID, id, status string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET status = $3,
			retry_count = CASE WHEN $3 = 'active' THEN 0 ELSE retry_count END,
			version = version + 1, updated_at = now()
		WHERE organization_id = $1 AND id = $2`,
		orgID, id, status)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ApplyExecution writes the execution outcome back with an optimistic version
// check. The WHERE clause carries the version read before the webhook call;
// zero rows affected means a concurrent execution updated the job first.
func (s *PostgresJobStore) ApplyExecution(ctx context.Context, j *Job) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET status = $3, retry_count = $4, execution_count = $5,
			success_count = $6, failure_count = $7,
			last_executed_at = $8, next_execution_at = $9,
			version = version + 1, updated_at = now()
		WHERE organization_id = $1 AND id = $2 AND version = $10`,
		j.OrganizationID,
		j.ID,
		j.Status,
		j.RetryCount,
		j.ExecutionCount,
		j.SuccessCount,
		j.FailureCount,
		j.LastExecutedAt,
		j.NextExecutionAt,
		j.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to apply execution to job %q: %w", j.ID, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	j.Version++
	return nil
}

// DeleteJob removes the job. The job_history foreign key is declared ON
// DELETE CASCADE, so history rows go with it.
func (s *PostgresJobStore) DeleteJob(ctx context.Context, orgID, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM jobs WHERE organization_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %q: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// --- Private helpers ---

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var headers []byte

	err := row.Scan(
		&j.ID,
		&j.OrganizationID,
		&j.Name,
		&j.CronExpression,
		&j.WebhookURL,
		&j.Method,
		&headers,
		&j.Body,
		&j.TimeoutMS,
		&j.MaxRetries,
		&j.Status,
		&j.RetryCount,
		&j.ExecutionCount,
		&j.SuccessCount,
		&j.FailureCount,
		&j.LastExecutedAt,
		&j.NextExecutionAt,
		&j.Version,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &j.Headers); err != nil {
			return nil, fmt.Errorf("corrupt headers for job %q: %w", j.ID, err)
		}
	}

	return &j, nil
}

func marshalHeaders(headers map[string]string) ([]byte, error) {
	if len(headers) == 0 {
		return []byte("{}"), nil
	}

	b, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal headers: %w", err)
	}
	return b, nil
}
