package storage

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a lookup by ID or unique key matches no row.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when an insert collides with a unique constraint,
// e.g. a duplicate (organization_id, name) agent.
var ErrConflict = errors.New("storage: conflict")

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// nullableString maps Go's empty string onto SQL NULL, for columns with
// foreign-key constraints where '' is not a valid reference.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullableTime maps Go's zero time onto SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
