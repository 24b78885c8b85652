// Package store provides the Data Access Layer (Repository) for the platform
// backend. It handles all direct interactions with the PostgreSQL database
// using the pgx driver. Every entity is scoped by an organization id, which
// is the tenant isolation boundary.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/exyconn/platform/internal/flagengine"
)

// Compile-time check to verify that PostgresFlagStore implements FlagRepository.
var _ FlagRepository = (*PostgresFlagStore)(nil)

// Flag represents the database schema for a feature flag. It mirrors the
// 'flags' table.
type Flag struct {
	ID                int64
	OrganizationID    string
	Key               string
	Name              string
	Description       string
	Status            string
	Enabled           bool
	RolloutType       string
	RolloutPercentage int
	TargetUsers       []string
	Rules             []flagengine.Rule
	DefaultValue      bool

	// Version is the monotonic counter for optimistic locking.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot projects the evaluation-relevant fields for the flag engine.
func (f *Flag) Snapshot() flagengine.Snapshot {
	return flagengine.Snapshot{
		Key:               f.Key,
		Status:            f.Status,
		Enabled:           f.Enabled,
		RolloutType:       f.RolloutType,
		RolloutPercentage: f.RolloutPercentage,
		TargetUsers:       f.TargetUsers,
		Rules:             f.Rules,
		DefaultValue:      f.DefaultValue,
	}
}

// FlagRepository defines the interface for flag persistence operations.
// Using an interface allows for dependency injection and easier mocking in
// tests.
type FlagRepository interface {
	// CreateFlag inserts a new flag and populates the ID and timestamps in
	// the struct. Returns ErrConflict when (organization_id, key) is taken.
	CreateFlag(ctx context.Context, f *Flag) error

	// GetFlag retrieves a single flag by its tenant-scoped natural key.
	GetFlag(ctx context.Context, orgID, key string) (*Flag, error)

	// ListFlags retrieves a paginated list of flags for the tenant and the
	// total count of records, ordered by ID descending.
	ListFlags(ctx context.Context, orgID string, limit, offset int) ([]*Flag, int64, error)

	// ListAllFlags retrieves every flag across tenants. Used by the cache
	// syncer, never by request handlers.
	ListAllFlags(ctx context.Context) ([]*Flag, error)

	// UpdateFlag persists mutable fields, bumps the version, and refreshes
	// UpdatedAt. Returns ErrNotFound if the flag vanished.
	UpdateFlag(ctx context.Context, f *Flag) error

	// DeleteFlag removes the flag permanently (no soft delete).
	DeleteFlag(ctx context.Context, orgID, key string) error
}

// PostgresFlagStore is the FlagRepository implementation backed by PostgreSQL.
type PostgresFlagStore struct {
	db *pgxpool.Pool
}

// NewPostgresFlagStore creates a new repository instance with the given
// connection pool.
func NewPostgresFlagStore(db *pgxpool.Pool) *PostgresFlagStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresFlagStore{db: db}
}

const flagColumns = `id, organization_id, key, name, description, status, enabled,
	rollout_type, rollout_percentage, target_users, targeting_rules,
	default_value, version, created_at, updated_at`

// CreateFlag inserts a new flag, using RETURNING to get the server-generated
// ID and timestamps in one round trip.
func (s *PostgresFlagStore) CreateFlag(ctx context.Context, f *Flag) error {
	rules, err := marshalRules(f.Rules)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO flags (organization_id, key, name, description, status, enabled,
			rollout_type, rollout_percentage, target_users, targeting_rules, default_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, version, created_at, updated_at
	`

	err = s.db.QueryRow(ctx, query,
		f.OrganizationID,
		f.Key,
		f.Name,
		f.Description,
		f.Status,
		f.Enabled,
		f.RolloutType,
		f.RolloutPercentage,
		f.TargetUsers,
		rules,
		f.DefaultValue,
	).Scan(&f.ID, &f.Version, &f.CreatedAt, &f.UpdatedAt)

	if err != nil {
		if mapped := mapError(err); mapped == ErrConflict {
			return fmt.Errorf("flag %q: %w", f.Key, ErrConflict)
		}
		return fmt.Errorf("failed to insert flag: %w", err)
	}

	return nil
}

// GetFlag fetches one flag by (organization, key).
func (s *PostgresFlagStore) GetFlag(ctx context.Context, orgID, key string) (*Flag, error) {
	query := `SELECT ` + flagColumns + ` FROM flags WHERE organization_id = $1 AND key = $2`

	f, err := scanFlag(s.db.QueryRow(ctx, query, orgID, key))
	if err != nil {
		if mapped := mapError(err); mapped == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get flag %q: %w", key, err)
	}

	return f, nil
}

// ListFlags retrieves a tenant's flags based on pagination parameters. It
// executes two queries: one for the data and one for the total count.
func (s *PostgresFlagStore) ListFlags(ctx context.Context, orgID string, limit, offset int) ([]*Flag, int64, error) {
	var total int64
	countQuery := `SELECT count(*) FROM flags WHERE organization_id = $1`

	if err := s.db.QueryRow(ctx, countQuery, orgID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count flags: %w", err)
	}

	// If there are no flags, return empty immediately to save the second query.
	if total == 0 {
		return []*Flag{}, 0, nil
	}

	query := `SELECT ` + flagColumns + `
		FROM flags
		WHERE organization_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.Query(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list flags: %w", err)
	}
	defer rows.Close()

	flags := make([]*Flag, 0, limit)
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan flag row: %w", err)
		}
		flags = append(flags, f)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return flags, total, nil
}

// ListAllFlags retrieves every flag in the table, in stable order. The syncer
// projects these into Redis; a request handler should never call this.
func (s *PostgresFlagStore) ListAllFlags(ctx context.Context) ([]*Flag, error) {
	query := `SELECT ` + flagColumns + ` FROM flags ORDER BY organization_id, key`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list all flags: %w", err)
	}
	defer rows.Close()

	var flags []*Flag
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flag row: %w", err)
		}
		flags = append(flags, f)
	}

	return flags, rows.Err()
}

// UpdateFlag writes the mutable fields back. The version column is bumped
// server-side so concurrent writers cannot silently overwrite each other's
// version.
func (s *PostgresFlagStore) UpdateFlag(ctx context.Context, f *Flag) error {
	rules, err := marshalRules(f.Rules)
	if err != nil {
		return err
	}

	query := `
		UPDATE flags
		SET name = $3, description = $4, status = $5, enabled = $6,
			rollout_type = $7, rollout_percentage = $8, target_users = $9,
			targeting_rules = $10, default_value = $11,
			version = version + 1, updated_at = now()
		WHERE organization_id = $1 AND key = $2
		RETURNING version, updated_at
	`

	err = s.db.QueryRow(ctx, query,
		f.OrganizationID,
		f.Key,
		f.Name,
		f.Description,
		f.Status,
		f.Enabled,
		f.RolloutType,
		f.RolloutPercentage,
		f.TargetUsers,
		rules,
		f.DefaultValue,
	).Scan(&f.Version, &f.UpdatedAt)

	if err != nil {
		if mapped := mapError(err); mapped == ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update flag %q: %w", f.Key, err)
	}

	return nil
}

// DeleteFlag removes the flag permanently.
func (s *PostgresFlagStore) DeleteFlag(ctx context.Context, orgID, key string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM flags WHERE organization_id = $1 AND key = $2`, orgID, key)
	if err != nil {
		return fmt.Errorf("failed to delete flag %q: %w", key, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// --- Private helpers ---

// rowScanner abstracts pgx.Row and pgx.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlag(row rowScanner) (*Flag, error) {
	var f Flag
	var rules []byte

	err := row.Scan(
		&f.ID,
		&f.OrganizationID,
		&f.Key,
		&f.Name,
		&f.Description,
		&f.Status,
		&f.Enabled,
		&f.RolloutType,
		&f.RolloutPercentage,
		&f.TargetUsers,
		&rules,
		&f.DefaultValue,
		&f.Version,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &f.Rules); err != nil {
			return nil, fmt.Errorf("corrupt targeting_rules for flag %q: %w", f.Key, err)
		}
	}

	return &f, nil
}

func marshalRules(rules []flagengine.Rule) ([]byte, error) {
	if len(rules) == 0 {
		// Store "[]" instead of NULL so the column is always valid JSON.
		return []byte("[]"), nil
	}

	b, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal targeting rules: %w", err)
	}
	return b, nil
}
