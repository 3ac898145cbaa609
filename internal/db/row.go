package db

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the ISO-8601 calendar date form used for DATE values.
const DateLayout = "2006-01-02"

// timestampLayout renders zone-less timestamps; fractional seconds only when present.
const timestampLayout = "2006-01-02T15:04:05.999999"

// Field is one column of a result row.
type Field struct {
	Name  string
	Value any
}

// Row is a result row that keeps the column order of the query.
// It marshals to a JSON object whose keys appear in that order.
type Row []Field

// newRow pairs column names with values. A repeated column name keeps its
// first position and takes the later value.
func newRow(cols []string, vals []any) Row {
	row := make(Row, 0, len(cols))
	seen := make(map[string]int, len(cols))
	for i, name := range cols {
		if j, ok := seen[name]; ok {
			row[j].Value = vals[i]
			continue
		}
		seen[name] = len(row)
		row = append(row, Field{Name: name, Value: vals[i]})
	}
	return row
}

// Get returns the value of the named column.
func (r Row) Get(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Columns returns the column names in order.
func (r Row) Columns() []string {
	cols := make([]string, len(r))
	for i, f := range r {
		cols[i] = f.Name
	}
	return cols
}

// MarshalJSON implements json.Marshaler.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping key order.
// Numbers decode as json.Number so integers survive unchanged.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*r = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("row: expected object, got %v", tok)
	}

	row := Row{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("row: expected key, got %v", keyTok)
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("row: column %q: %w", key, err)
		}
		row = append(row, Field{Name: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = row
	return nil
}

// timeKind tells normalizeValue how a column's time values are rendered.
type timeKind int

const (
	kindOther timeKind = iota
	kindDate
	kindTimestamp
	kindTimestampTZ
)

// normalizeValue converts driver values into JSON-friendly scalars.
// Dates become ISO-8601 strings; everything else not listed passes through.
func normalizeValue(v any, kind timeKind) any {
	switch val := v.(type) {
	case time.Time:
		switch kind {
		case kindDate:
			return val.Format(DateLayout)
		case kindTimestamp:
			return val.Format(timestampLayout)
		case kindTimestampTZ:
			return val.UTC().Format(time.RFC3339Nano)
		default:
			return val.Format(time.RFC3339Nano)
		}
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		return `\x` + hex.EncodeToString(val)
	default:
		return v
	}
}
