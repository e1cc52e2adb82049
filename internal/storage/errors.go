package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"libris/internal/fault"
)

const pgUniqueViolation = "23505"

// Classify turns a driver error into a fault. Unique violations become
// Conflict so the caller can map them to a domain error; everything else is a
// retryable Storage failure.
func Classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fault.Wrap(fault.Storage, op+": timed out", err)
	case IsUniqueViolation(err):
		return fault.Wrap(fault.Conflict, op+": duplicate key", err)
	default:
		return fault.Wrap(fault.Storage, op, err)
	}
}

// IsUniqueViolation reports whether err is a unique-constraint violation from
// any of the supported drivers.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	return false
}
