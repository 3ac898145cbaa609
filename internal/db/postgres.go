package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// tablesQuery lists base-table columns of the session's current schema.
const tablesQuery = `
	SELECT c.table_name, c.column_name, upper(c.data_type)
	FROM information_schema.columns c
	JOIN information_schema.tables t
		ON t.table_schema = c.table_schema AND t.table_name = c.table_name
	WHERE t.table_type = 'BASE TABLE' AND c.table_schema = current_schema()
	ORDER BY c.table_name, c.ordinal_position`

// PostgresStore is a Store backed by a pgx connection pool.
type PostgresStore struct {
	pool     *pgxpool.Pool
	readOnly bool
	logger   *slog.Logger
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a pool for url and pings it once.
func NewPostgresStore(ctx context.Context, url string, cfg Config, logger *slog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	logger.Info("connecting to PostgreSQL",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"max_conns", poolCfg.MaxConns,
		"read_only", cfg.ReadOnly,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	logger.Info("PostgreSQL connection established")
	return &PostgresStore{pool: pool, readOnly: cfg.ReadOnly, logger: logger}, nil
}

// Tables lists every base table in the current schema with its columns.
func (s *PostgresStore) Tables(ctx context.Context) ([]Table, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, tablesQuery)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var tableName, colName, dataType string
		if err := rows.Scan(&tableName, &colName, &dataType); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if n := len(tables); n == 0 || tables[n-1].Name != tableName {
			tables = append(tables, Table{Name: tableName})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, Column{Name: colName, Type: dataType})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	return tables, nil
}

// Query runs sql as literal text. In read-only mode the statement runs
// inside a READ ONLY transaction that is always rolled back.
func (s *PostgresStore) Query(ctx context.Context, sql string) ([]Row, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if !s.readOnly {
		rows, err := conn.Query(ctx, sql)
		if err != nil {
			return nil, wrapQueryError(err)
		}
		return collectPgRows(rows)
	}

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Warn("rollback read-only transaction", "error", err)
		}
	}()

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	return collectPgRows(rows)
}

// collectPgRows drains rows into ordered Rows and closes them.
func collectPgRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()

	fds := rows.FieldDescriptions()
	cols := make([]string, len(fds))
	kinds := make([]timeKind, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
		kinds[i] = pgTimeKind(fd.DataTypeOID)
	}

	result := make([]Row, 0)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, wrapQueryError(err)
		}
		for i := range vals {
			vals[i] = normalizeValue(vals[i], kinds[i])
		}
		result = append(result, newRow(cols, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(err)
	}
	return result, nil
}

func pgTimeKind(oid uint32) timeKind {
	switch oid {
	case pgtype.DateOID:
		return kindDate
	case pgtype.TimestampOID:
		return kindTimestamp
	case pgtype.TimestamptzOID:
		return kindTimestampTZ
	default:
		return kindOther
	}
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Driver returns DriverPostgres.
func (s *PostgresStore) Driver() string { return DriverPostgres }

// Dialect returns "PostgreSQL".
func (s *PostgresStore) Dialect() string { return "PostgreSQL" }

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing PostgreSQL pool")
	s.pool.Close()
	return nil
}
