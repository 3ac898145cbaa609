package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnsupportedDriver indicates a connection string no backend accepts.
	ErrUnsupportedDriver = errors.New("unsupported database")

	// ErrReadOnly indicates a statement tried to write while the store
	// runs in read-only mode.
	ErrReadOnly = errors.New("write attempted on read-only connection")
)

// pgReadOnlyViolation is SQLSTATE read_only_sql_transaction.
const pgReadOnlyViolation = "25006"

// wrapQueryError inspects a driver error and wraps it with the matching
// sentinel. Returns the original error when nothing matches.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgReadOnlyViolation {
		return fmt.Errorf("%w: %w", ErrReadOnly, err)
	}

	if strings.Contains(err.Error(), "attempt to write a readonly database") {
		return fmt.Errorf("%w: %w", ErrReadOnly, err)
	}

	return err
}
