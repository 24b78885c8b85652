package store

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors returned by all repositories. Handlers map these to their
// HTTP equivalents (404, 409) instead of string-matching driver errors.
var (
	// ErrNotFound indicates the entity does not exist for the tenant. It is
	// a recoverable-by-caller condition, never a server fault.
	ErrNotFound = errors.New("store: entity not found")

	// ErrConflict indicates a uniqueness violation (duplicate flag key,
	// variable key, etc).
	ErrConflict = errors.New("store: entity already exists")

	// ErrVersionConflict indicates an optimistic concurrency failure: the
	// document version changed between read and write.
	ErrVersionConflict = errors.New("store: version conflict")
)

// uniqueViolation is the PostgreSQL error code for unique constraint breaks.
const uniqueViolation = "23505"

// mapError converts driver-level errors into the repository's sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}

	return err
}
