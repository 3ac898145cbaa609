package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw        string
		wantDriver string
		wantTarget string
	}{
		{"postgresql://u:p@localhost:5432/shop", DriverPostgres, "postgres://u:p@localhost:5432/shop"},
		{"postgres://u:p@localhost/shop", DriverPostgres, "postgres://u:p@localhost/shop"},
		{"postgresql+psycopg2://u:p@db/shop", DriverPostgres, "postgres://u:p@db/shop"},
		{"POSTGRESQL://u@db/shop", DriverPostgres, "postgres://u@db/shop"},
		{"host=localhost dbname=shop user=u", DriverPostgres, "host=localhost dbname=shop user=u"},
		{"sqlite:///shop.db", DriverSQLite, "shop.db"},
		{"sqlite:////var/data/shop.db", DriverSQLite, "/var/data/shop.db"},
		{"sqlite://", DriverSQLite, ":memory:"},
		{"sqlite3:///x.sqlite", DriverSQLite, "x.sqlite"},
		{"file:shop.db?cache=shared", DriverSQLite, "file:shop.db?cache=shared"},
		{"./data/shop.db", DriverSQLite, "./data/shop.db"},
		{":memory:", DriverSQLite, ":memory:"},
		{"  sqlite:///trim.db  ", DriverSQLite, "trim.db"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			driver, target, err := ParseURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			assert.Equal(t, tt.wantTarget, target)
		})
	}
}

func TestParseURLUnsupported(t *testing.T) {
	for _, raw := range []string{"", "mysql://u@h/db", "mongodb://h", "just-a-name"} {
		t.Run(raw, func(t *testing.T) {
			_, _, err := ParseURL(raw)
			assert.ErrorIs(t, err, ErrUnsupportedDriver)
		})
	}
}

func TestOpenUnsupported(t *testing.T) {
	_, err := Open(context.Background(), Config{URL: "mysql://u@h/db"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestWrapQueryError(t *testing.T) {
	assert.NoError(t, wrapQueryError(nil))

	plain := errors.New("syntax error at or near \"SELEC\"")
	assert.Same(t, plain, wrapQueryError(plain))

	ro := fmt.Errorf("exec: %w", errors.New("attempt to write a readonly database"))
	wrapped := wrapQueryError(ro)
	assert.ErrorIs(t, wrapped, ErrReadOnly)
	assert.ErrorIs(t, wrapped, ro)
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		path     string
		readOnly bool
		want     string
	}{
		{"shop.db", false, "file:shop.db"},
		{"shop.db", true, "file:shop.db?mode=ro"},
		{"file:shop.db?cache=shared", true, "file:shop.db?cache=shared&mode=ro"},
		{":memory:", true, "file::memory:"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, sqliteDSN(tt.path, tt.readOnly))
		})
	}
}
