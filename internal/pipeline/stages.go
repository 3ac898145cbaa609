package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/askdb/internal/db"
)

// Generator turns a prompt into model text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Querier runs literal SQL.
type Querier interface {
	Query(ctx context.Context, sql string) ([]db.Row, error)
}

// =============================================================================
// TABLE SELECTION
// =============================================================================

const selectTablesPrompt = `You are a database expert. Given a schema and a natural language question,
identify the tables needed to answer the question. Return only the table names as a comma-separated list, nothing else.

Schema:
%s

Question: %s`

// TableSelector asks the model which tables a question needs.
type TableSelector struct {
	gen      Generator
	validate bool
	logger   *slog.Logger
}

// NewTableSelector creates a TableSelector. With validate set, names the
// model invents are dropped instead of passed on.
func NewTableSelector(gen Generator, validate bool, logger *slog.Logger) *TableSelector {
	if logger == nil {
		logger = slog.Default()
	}
	return &TableSelector{gen: gen, validate: validate, logger: logger}
}

// Select returns the tables the model picked for question. The list may be
// empty and, unless validation is on, may name tables that do not exist.
func (s *TableSelector) Select(ctx context.Context, question string, schema Schema) ([]string, error) {
	reply, err := s.gen.Generate(ctx, fmt.Sprintf(selectTablesPrompt, schema.String(), question))
	if err != nil {
		return nil, err
	}

	tables := parseTableList(reply)
	if !s.validate {
		return tables, nil
	}

	kept := make([]string, 0, len(tables))
	for _, name := range tables {
		canonical, ok := schema.Lookup(name)
		if !ok {
			s.logger.Warn("dropping unknown table from selection", "table", name)
			continue
		}
		kept = append(kept, canonical)
	}
	return kept, nil
}

// parseTableList splits a comma-separated reply. The result is never nil.
func parseTableList(reply string) []string {
	tables := make([]string, 0)
	for _, part := range strings.Split(reply, ",") {
		if name := strings.TrimSpace(part); name != "" {
			tables = append(tables, name)
		}
	}
	return tables
}

// =============================================================================
// SQL GENERATION
// =============================================================================

const generateSQLPrompt = `You are an SQL expert. Given a schema and a natural language question,
generate a valid %s query. The query should be efficient and use appropriate joins.
Return only the SQL query, nothing else.

Schema:
%s

Relevant tables: %s
Question: %s`

// SQLGenerator asks the model for one SQL statement in the store's dialect.
type SQLGenerator struct {
	gen     Generator
	dialect string
}

// NewSQLGenerator creates an SQLGenerator. An empty dialect means PostgreSQL.
func NewSQLGenerator(gen Generator, dialect string) *SQLGenerator {
	if dialect == "" {
		dialect = "PostgreSQL"
	}
	return &SQLGenerator{gen: gen, dialect: dialect}
}

// Generate returns the model's SQL with markdown fences removed.
// The statement is not validated.
func (g *SQLGenerator) Generate(ctx context.Context, question string, schema Schema, tables []string) (string, error) {
	prompt := fmt.Sprintf(generateSQLPrompt, g.dialect, schema.String(), strings.Join(tables, ", "), question)
	reply, err := g.gen.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return stripFences(reply), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "```sql", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// =============================================================================
// EXECUTION
// =============================================================================

// ExecutionError is returned by Executor for any failure running a query.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return "Query execution failed: " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Executor runs generated SQL.
type Executor struct {
	store Querier
}

// NewExecutor creates an Executor over store.
func NewExecutor(store Querier) *Executor {
	return &Executor{store: store}
}

// Execute runs sql and returns every row in database order. Any failure is
// reported as *ExecutionError.
func (e *Executor) Execute(ctx context.Context, sql string) ([]db.Row, error) {
	rows, err := e.store.Query(ctx, sql)
	if err != nil {
		return nil, &ExecutionError{Err: err}
	}
	if rows == nil {
		rows = []db.Row{}
	}
	return rows, nil
}

// =============================================================================
// SYNTHESIS
// =============================================================================

const synthesizePrompt = `You are a helpful assistant that explains database query results in natural language.
Provide a clear and concise answer based on the query results.

Original question: %s
SQL query used: %s
Query results: %s

Please provide a natural language answer to the original question.`

// Synthesizer turns query results into a prose answer.
type Synthesizer struct {
	gen Generator
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(gen Generator) *Synthesizer {
	return &Synthesizer{gen: gen}
}

// Synthesize asks the model to answer question from rows.
func (s *Synthesizer) Synthesize(ctx context.Context, question, sql string, rows []db.Row) (string, error) {
	data, err := rowsJSON(rows)
	if err != nil {
		return "", err
	}
	reply, err := s.gen.Generate(ctx, fmt.Sprintf(synthesizePrompt, question, sql, data))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// rowsJSON renders rows as a JSON array, "[]" when empty.
func rowsJSON(rows []db.Row) (string, error) {
	if rows == nil {
		rows = []db.Row{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	return string(data), nil
}
