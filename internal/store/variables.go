package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check to verify that PostgresVariableStore implements VariableRepository.
var _ VariableRepository = (*PostgresVariableStore)(nil)

// EnvironmentVariable is a tenant-scoped key/value pair. Values are stored
// as-is; secret handling (masking, encryption at rest) is the database's
// concern, not this layer's.
type EnvironmentVariable struct {
	ID             int64
	OrganizationID string
	Key            string
	Value          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// VariableRepository defines persistence for environment variables.
type VariableRepository interface {
	// CreateVariable inserts a new variable. Returns ErrConflict when
	// (organization_id, key) is taken.
	CreateVariable(ctx context.Context, v *EnvironmentVariable) error

	GetVariable(ctx context.Context, orgID, key string) (*EnvironmentVariable, error)

	ListVariables(ctx context.Context, orgID string, limit, offset int) ([]*EnvironmentVariable, int64, error)

	// UpdateVariable replaces the value for an existing key.
	UpdateVariable(ctx context.Context, v *EnvironmentVariable) error

	DeleteVariable(ctx context.Context, orgID, key string) error
}

// PostgresVariableStore is the VariableRepository implementation backed by
// PostgreSQL.
type PostgresVariableStore struct {
	db *pgxpool.Pool
}

// NewPostgresVariableStore creates a new repository instance.
func NewPostgresVariableStore(db *pgxpool.Pool) *PostgresVariableStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresVariableStore{db: db}
}

// CreateVariable inserts a new variable.
func (s *PostgresVariableStore) CreateVariable(ctx context.Context, v *EnvironmentVariable) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO environment_variables (organization_id, key, value)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		v.OrganizationID, v.Key, v.Value,
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)

	if err != nil {
		if mapped := mapError(err); mapped == ErrConflict {
			return fmt.Errorf("variable %q: %w", v.Key, ErrConflict)
		}
		return fmt.Errorf("failed to insert variable: %w", err)
	}

	return nil
}

// GetVariable fetches one variable by (organization, key).
func (s *PostgresVariableStore) GetVariable(ctx context.Context, orgID, key string) (*EnvironmentVariable, error) {
	var v EnvironmentVariable
	err := s.db.QueryRow(ctx, `
		SELECT id, organization_id, key, value, created_at, updated_at
		FROM environment_variables
		WHERE organization_id = $1 AND key = $2`,
		orgID, key,
	).Scan(&v.ID, &v.OrganizationID, &v.Key, &v.Value, &v.CreatedAt, &v.UpdatedAt)

	if err != nil {
		if mapped := mapError(err); mapped == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get variable %q: %w", key, err)
	}

	return &v, nil
}

// ListVariables retrieves a tenant's variables with pagination metadata.
func (s *PostgresVariableStore) ListVariables(ctx context.Context, orgID string, limit, offset int) ([]*EnvironmentVariable, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM environment_variables WHERE organization_id = $1`,
		orgID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count variables: %w", err)
	}

	if total == 0 {
		return []*EnvironmentVariable{}, 0, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, organization_id, key, value, created_at, updated_at
		FROM environment_variables
		WHERE organization_id = $1
		ORDER BY key
		LIMIT $2 OFFSET $3`,
		orgID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list variables: %w", err)
	}
	defer rows.Close()

	vars := make([]*EnvironmentVariable, 0, limit)
	for rows.Next() {
		var v EnvironmentVariable
		if err := rows.Scan(&v.ID, &v.OrganizationID, &v.Key, &v.Value, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan variable row: %w", err)
		}
		vars = append(vars, &v)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return vars, total, nil
}

// UpdateVariable replaces the value for an existing key.
func (s *PostgresVariableStore) UpdateVariable(ctx context.Context, v *EnvironmentVariable) error {
	err := s.db.QueryRow(ctx, `
		UPDATE environment_variables
		SET value = $3, updated_at = now()
		WHERE organization_id = $1 AND key = $2
		RETURNING id, updated_at`,
		v.OrganizationID, v.Key, v.Value,
	).Scan(&v.ID, &v.UpdatedAt)

	if err != nil {
		if mapped := mapError(err); mapped == ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update variable %q: %w", v.Key, err)
	}

	return nil
}

// DeleteVariable removes the variable.
func (s *PostgresVariableStore) DeleteVariable(ctx context.Context, orgID, key string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM environment_variables WHERE organization_id = $1 AND key = $2`,
		orgID, key)
	if err != nil {
		return fmt.Errorf("failed to delete variable %q: %w", key, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
