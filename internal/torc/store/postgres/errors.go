package postgres

import (
	"errors"
	"strings"
)

// ErrAlreadyExists is returned when an insert violates a uniqueness
// constraint the caller is expected to handle (e.g. idempotency key
// reuse, duplicate invoice).
var ErrAlreadyExists = errors.New("store: already exists")

// ErrNotFoundRow is returned when an UPDATE affects zero rows.
var ErrNotFoundRow = errors.New("store: row not found for update")

// isUniqueViolation matches lib/pq's error string the way the payment
// repository does, without importing pq's internal error codes.
func isUniqueViolation(err error, constraint string) bool {
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint") &&
		strings.Contains(err.Error(), constraint)
}
