// Package db provides the relational stores that questions are answered from.
//
// Two backends exist: PostgreSQL through a pgx connection pool and SQLite
// through database/sql. Both introspect their schema at call time and return
// query results as ordered rows with dates rendered as ISO-8601 text.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Driver names returned by Store.Driver.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Column is a column name and its database type name.
type Column struct {
	Name string
	Type string
}

// Table is a base table and its columns in ordinal order.
type Table struct {
	Name    string
	Columns []Column
}

// Store is a connected relational database.
type Store interface {
	// Tables lists every base table in the current schema.
	Tables(ctx context.Context) ([]Table, error)

	// Query runs sql verbatim and returns all rows in database order.
	// The returned slice is never nil on success.
	Query(ctx context.Context, sql string) ([]Row, error)

	Ping(ctx context.Context) error

	// Driver returns DriverPostgres or DriverSQLite.
	Driver() string

	// Dialect names the SQL dialect for prompts, e.g. "PostgreSQL".
	Dialect() string

	Close() error
}

// Config holds database connection configuration.
type Config struct {
	URL      string
	ReadOnly bool
	MaxConns int32
}

// Open connects to the database named by cfg.URL and verifies the
// connection. The backend is chosen from the URL scheme.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	driver, target, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	switch driver {
	case DriverPostgres:
		return NewPostgresStore(ctx, target, cfg, logger)
	case DriverSQLite:
		return NewSQLiteStore(ctx, target, cfg.ReadOnly, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
}

// ParseURL maps a connection string to a driver and the target that driver
// understands. SQLAlchemy-style URLs are accepted: "postgresql+psycopg2://"
// loses its driver suffix and "sqlite:///shop.db" names the file shop.db.
func ParseURL(raw string) (driver, target string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("%w: empty database URL", ErrUnsupportedDriver)
	}

	scheme, rest, hasScheme := strings.Cut(raw, "://")
	if !hasScheme {
		switch {
		case strings.HasPrefix(raw, "file:"):
			return DriverSQLite, raw, nil
		case strings.Contains(raw, "host=") || strings.Contains(raw, "dbname="):
			// libpq keyword/value form
			return DriverPostgres, raw, nil
		case strings.HasSuffix(raw, ".db") || strings.HasSuffix(raw, ".sqlite") || raw == ":memory:":
			return DriverSQLite, raw, nil
		}
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, raw)
	}

	base, _, _ := strings.Cut(strings.ToLower(scheme), "+")
	switch base {
	case "postgres", "postgresql":
		return DriverPostgres, "postgres://" + rest, nil
	case "sqlite", "sqlite3":
		// sqlite:///rel.db is relative, sqlite:////abs.db absolute.
		path := strings.TrimPrefix(rest, "/")
		if path == "" {
			path = ":memory:"
		}
		return DriverSQLite, path, nil
	default:
		return "", "", fmt.Errorf("%w: scheme %q", ErrUnsupportedDriver, scheme)
	}
}
