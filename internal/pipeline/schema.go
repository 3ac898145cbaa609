package pipeline

import (
	"context"
	"strings"

	"github.com/raphaelgruber/askdb/internal/db"
)

// Schema is a live snapshot of the database's tables and columns.
type Schema struct {
	Tables []db.Table
}

// String renders one paragraph per table:
//
//	Table: customers
//	Columns: id (INTEGER), name (TEXT)
//
// Paragraphs are separated by a blank line.
func (s Schema) String() string {
	var b strings.Builder
	for i, t := range s.Tables {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Table: ")
		b.WriteString(t.Name)
		b.WriteString("\nColumns: ")
		for j, c := range t.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
			b.WriteString(" (")
			b.WriteString(c.Type)
			b.WriteString(")")
		}
	}
	return b.String()
}

// TableNames returns the table names in schema order.
func (s Schema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// Lookup returns the schema's spelling of name, matched case-insensitively.
func (s Schema) Lookup(name string) (string, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t.Name, true
		}
	}
	return "", false
}

// Introspector lists the tables of a database.
type Introspector interface {
	Tables(ctx context.Context) ([]db.Table, error)
}

// Inspector reads schema metadata from a live database.
type Inspector struct {
	store Introspector
}

// NewInspector creates an Inspector over store.
func NewInspector(store Introspector) *Inspector {
	return &Inspector{store: store}
}

// Describe reads the current schema. Nothing is cached; every call goes
// to the database. Errors are returned unchanged.
func (i *Inspector) Describe(ctx context.Context) (Schema, error) {
	tables, err := i.store.Tables(ctx)
	if err != nil {
		return Schema{}, err
	}
	return Schema{Tables: tables}, nil
}
