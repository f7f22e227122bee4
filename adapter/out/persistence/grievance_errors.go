package persistence

import (
	"errors"
	"strings"

	"grievance_server/core/port/out"

	"github.com/jackc/pgx/v5/pgconn"
)

// Common persistence errors
var (
	ErrNotFound     = out.ErrRecordNotFound
	ErrDuplicate    = out.ErrDuplicateRecord
	ErrInvalidInput = errors.New("invalid input")
)

const pgUniqueViolation = "23505"

// isUniqueViolation recognises unique-key failures from both SQL backends.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
