package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Execution outcome statuses recorded in history.
const (
	ExecutionSuccess = "success"
	ExecutionFailure = "failure"
)

// HistoryRetention is how long execution records are kept before the purge
// worker removes them.
const HistoryRetention = 90 * 24 * time.Hour

// Compile-time check to verify that PostgresHistoryStore implements HistoryRepository.
var _ HistoryRepository = (*PostgresHistoryStore)(nil)

// HistoryRecord is one immutable, append-only log entry of a job execution
// outcome. The job name is denormalized so the record survives job renames
// and stays readable after a cascade delete window.
type HistoryRecord struct {
	ID             string
	OrganizationID string
	JobID          string
	JobName        string
	ExecutedAt     time.Time
	Status         string
	ResponseStatus *int
	ResponseBody   string
	Error          string
	DurationMS     int64
	RetryAttempt   int
}

// HistoryRepository defines the persistence interface for execution history.
// Records are never updated or individually deleted: the only removal paths
// are the job-delete cascade and the retention purge.
type HistoryRepository interface {
	InsertRecord(ctx context.Context, rec *HistoryRecord) error

	ListByJob(ctx context.Context, orgID, jobID string, limit, offset int) ([]*HistoryRecord, int64, error)

	// PurgeOlderThan deletes records executed before the cutoff. It
	// implements the 90-day TTL without depending on database-specific TTL
	// machinery. Returns the number of rows removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PostgresHistoryStore is the HistoryRepository implementation backed by
// PostgreSQL.
type PostgresHistoryStore struct {
	db *pgxpool.Pool
}

// NewPostgresHistoryStore creates a new repository instance.
func NewPostgresHistoryStore(db *pgxpool.Pool) *PostgresHistoryStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresHistoryStore{db: db}
}

// InsertRecord appends one execution record.
func (s *PostgresHistoryStore) InsertRecord(ctx context.Context, rec *HistoryRecord) error {
	query := `
		INSERT INTO job_history (id, organization_id, job_id, job_name, executed_at,
			status, response_status, response_body, error, duration_ms, retry_attempt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.Exec(ctx, query,
		rec.ID,
		rec.OrganizationID,
		rec.JobID,
		rec.JobName,
		rec.ExecutedAt,
		rec.Status,
		rec.ResponseStatus,
		rec.ResponseBody,
		rec.Error,
		rec.DurationMS,
		rec.RetryAttempt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history record: %w", err)
	}

	return nil
}

// ListByJob retrieves a job's execution history, newest first.
func (s *PostgresHistoryStore) ListByJob(ctx context.Context, orgID, jobID string, limit, offset int) ([]*HistoryRecord, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM job_history WHERE organization_id = $1 AND job_id = $2`,
		orgID, jobID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count history: %w", err)
	}

	if total == 0 {
		return []*HistoryRecord{}, 0, nil
	}

	query := `
		SELECT id, organization_id, job_id, job_name, executed_at, status,
			response_status, response_body, error, duration_ms, retry_attempt
		FROM job_history
		WHERE organization_id = $1 AND job_id = $2
		ORDER BY executed_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := s.db.Query(ctx, query, orgID, jobID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	records := make([]*HistoryRecord, 0, limit)
	for rows.Next() {
		var rec HistoryRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.OrganizationID,
			&rec.JobID,
			&rec.JobName,
			&rec.ExecutedAt,
			&rec.Status,
			&rec.ResponseStatus,
			&rec.ResponseBody,
			&rec.Error,
			&rec.DurationMS,
			&rec.RetryAttempt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan history row: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, total, nil
}

// PurgeOlderThan removes expired records.
func (s *PostgresHistoryStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM job_history WHERE executed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge history: %w", err)
	}

	return tag.RowsAffected(), nil
}
