package db

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newShopDB creates a file-backed SQLite store seeded with a small shop schema.
func newShopDB(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shop.db")

	store, err := NewSQLiteStore(ctx, path, false, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.DB().ExecContext(ctx, `
		CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT, email TEXT);
		CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER, placed_on DATE, total REAL, receipt BLOB);
	`)
	require.NoError(t, err)

	for i := 1; i <= 200; i++ {
		_, err := store.DB().ExecContext(ctx,
			"INSERT INTO customers (id, name, email) VALUES (?, ?, ?)",
			i, fmt.Sprintf("Customer %d", i), fmt.Sprintf("c%d@example.com", i))
		require.NoError(t, err)
	}
	_, err = store.DB().ExecContext(ctx,
		"INSERT INTO orders (id, customer_id, placed_on, total, receipt) VALUES (1, 1, '2024-01-15', 19.5, x'cafe')")
	require.NoError(t, err)

	return store, path
}

func TestSQLiteTables(t *testing.T) {
	store, _ := newShopDB(t)
	ctx := context.Background()

	tables, err := store.Tables(ctx)
	require.NoError(t, err)

	want := []Table{
		{Name: "customers", Columns: []Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "name", Type: "TEXT"},
			{Name: "email", Type: "TEXT"},
		}},
		{Name: "orders", Columns: []Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "customer_id", Type: "INTEGER"},
			{Name: "placed_on", Type: "DATE"},
			{Name: "total", Type: "REAL"},
			{Name: "receipt", Type: "BLOB"},
		}},
	}
	assert.Equal(t, want, tables)

	again, err := store.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, tables, again)
}

func TestSQLiteQueryCount(t *testing.T) {
	store, _ := newShopDB(t)

	rows, err := store.Query(context.Background(), "SELECT COUNT(*) AS total FROM customers")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	v, ok := rows[0].Get("total")
	require.True(t, ok)
	assert.Equal(t, int64(200), v)

	data, err := json.Marshal(rows)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"total":200}]`, string(data))
}

func TestSQLiteQueryNormalizesValues(t *testing.T) {
	store, _ := newShopDB(t)

	rows, err := store.Query(context.Background(),
		"SELECT o.placed_on, c.name, o.total, o.receipt FROM orders o JOIN customers c ON c.id = o.customer_id")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, []string{"placed_on", "name", "total", "receipt"}, rows[0].Columns())

	data, err := json.Marshal(rows[0])
	require.NoError(t, err)
	assert.Equal(t, `{"placed_on":"2024-01-15","name":"Customer 1","total":19.5,"receipt":"\\xcafe"}`, string(data))
}

func TestSQLiteQueryEmptyResult(t *testing.T) {
	store, _ := newShopDB(t)

	rows, err := store.Query(context.Background(), "SELECT * FROM customers WHERE id < 0")
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	data, err := json.Marshal(rows)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestSQLiteQueryError(t *testing.T) {
	store, _ := newShopDB(t)

	_, err := store.Query(context.Background(), "SELECT * FROM no_such_table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_table")
	assert.NotErrorIs(t, err, ErrReadOnly)
}

func TestSQLiteReadOnly(t *testing.T) {
	_, path := newShopDB(t)
	ctx := context.Background()

	ro, err := NewSQLiteStore(ctx, path, true, quietLogger())
	require.NoError(t, err)
	defer ro.Close()

	rows, err := ro.Query(ctx, "SELECT COUNT(*) AS n FROM customers")
	require.NoError(t, err)
	v, _ := rows[0].Get("n")
	assert.Equal(t, int64(200), v)

	_, err = ro.Query(ctx, "DELETE FROM customers")
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestSQLiteMemoryViaOpen(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, Config{URL: "sqlite://"}, quietLogger())
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, DriverSQLite, store.Driver())
	assert.Equal(t, "SQLite", store.Dialect())
	require.NoError(t, store.Ping(ctx))

	tables, err := store.Tables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)
}
