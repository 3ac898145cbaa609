package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a Store backed by a SQLite file through database/sql.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the SQLite database at path. A read-only store opens
// the file with mode=ro so the engine itself rejects writes.
func NewSQLiteStore(ctx context.Context, path string, readOnly bool, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := sqliteDSN(path, readOnly)
	logger.Info("opening SQLite database", "path", path, "read_only", readOnly)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if isMemory(path) {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &SQLiteStore{db: db, path: path, logger: logger}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func sqliteDSN(path string, readOnly bool) string {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if readOnly && !isMemory(path) {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "mode=ro"
	}
	return dsn
}

// DB exposes the underlying handle, mainly for seeding in tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Tables lists user tables ordered by name, skipping sqlite_ internals.
func (s *SQLiteStore) Tables(ctx context.Context) ([]Table, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		cols, err := s.columns(ctx, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, Table{Name: name, Columns: cols})
	}
	return tables, nil
}

func (s *SQLiteStore) columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid       int
			name      string
			dataType  string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		cols = append(cols, Column{Name: name, Type: dataType})
	}
	return cols, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Query runs sql verbatim and returns every row.
func (s *SQLiteStore) Query(ctx context.Context, sql string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, sql)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, wrapQueryError(err)
	}
	cols := make([]string, len(colTypes))
	kinds := make([]timeKind, len(colTypes))
	blobs := make([]bool, len(colTypes))
	for i, ct := range colTypes {
		cols[i] = ct.Name()
		typeName := strings.ToUpper(ct.DatabaseTypeName())
		kinds[i] = sqliteTimeKind(typeName)
		blobs[i] = typeName == "BLOB"
	}

	result := make([]Row, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, wrapQueryError(err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok && !blobs[i] {
				vals[i] = string(b)
				continue
			}
			vals[i] = normalizeValue(v, kinds[i])
		}
		result = append(result, newRow(cols, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(err)
	}
	return result, nil
}

func sqliteTimeKind(typeName string) timeKind {
	switch typeName {
	case "DATE":
		return kindDate
	case "DATETIME", "TIMESTAMP":
		return kindTimestamp
	default:
		return kindOther
	}
}

// Ping verifies the database file is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns DriverSQLite.
func (s *SQLiteStore) Driver() string { return DriverSQLite }

// Dialect returns "SQLite".
func (s *SQLiteStore) Dialect() string { return "SQLite" }

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite database", "path", s.path)
	return s.db.Close()
}
