package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/askdb/internal/db"
	"github.com/raphaelgruber/askdb/internal/llm"
	"github.com/raphaelgruber/askdb/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeStore struct {
	mu        sync.Mutex
	tables    []db.Table
	tablesErr error
	rows      []db.Row
	queryErr  error
	dialect   string
	queries   []string
}

func (s *fakeStore) Tables(context.Context) ([]db.Table, error) {
	return s.tables, s.tablesErr
}

func (s *fakeStore) Query(_ context.Context, sql string) ([]db.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, sql)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.rows, nil
}

func (s *fakeStore) Dialect() string {
	if s.dialect == "" {
		return "PostgreSQL"
	}
	return s.dialect
}

// reply is one scripted model response.
type reply struct {
	text  string
	err   error
	panic string
	block bool
}

// fakeGen answers calls in order from a script.
type fakeGen struct {
	mu      sync.Mutex
	script  []reply
	prompts []string
}

func (g *fakeGen) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	i := len(g.prompts)
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	if i >= len(g.script) {
		return "", fmt.Errorf("unexpected model call %d", i+1)
	}
	r := g.script[i]
	switch {
	case r.panic != "":
		panic(r.panic)
	case r.block:
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.text, r.err
}

func rateLimited() error {
	return fmt.Errorf("generate: %w", fmt.Errorf("%w: %w", llm.ErrRateLimited,
		errors.New("googleapi: Error 429: Resource has been exhausted (e.g. check quota)")))
}

func shopStore() *fakeStore {
	return &fakeStore{
		tables: []db.Table{
			{Name: "customers", Columns: []db.Column{{Name: "customer_id", Type: "INTEGER"}, {Name: "name", Type: "VARCHAR(100)"}}},
			{Name: "sales", Columns: []db.Column{{Name: "sale_id", Type: "INTEGER"}, {Name: "amount", Type: "DOUBLE PRECISION"}}},
		},
		rows: []db.Row{{{Name: "count", Value: int64(200)}}},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(store *fakeStore, gen *fakeGen, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	return New(store, gen, opts)
}

func marshal(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

// =============================================================================
// ORCHESTRATION
// =============================================================================

func TestRunHowManyCustomers(t *testing.T) {
	store := shopStore()
	gen := &fakeGen{script: []reply{
		{text: "customers"},
		{text: "```sql\nSELECT COUNT(*) FROM customers;\n```"},
		{text: "  There are 200 customers.\n"},
	}}
	mc := metrics.NewCollector()
	p := newTestPipeline(store, gen, Options{Metrics: mc})

	res := p.Run(context.Background(), "How many customers are there?")

	assert.False(t, res.Failed())
	assert.Equal(t, KindNone, res.ErrorKind)
	assert.Equal(t, "There are 200 customers.", res.Answer)
	assert.Equal(t, []string{"customers"}, res.Steps.RelevantTables)
	require.NotNil(t, res.Steps.GeneratedSQL)
	assert.Equal(t, "SELECT COUNT(*) FROM customers;", *res.Steps.GeneratedSQL)
	assert.Equal(t, []string{"SELECT COUNT(*) FROM customers;"}, store.queries)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"answer": "There are 200 customers.",
		"error_type": null,
		"intermediate_steps": {
			"relevant_tables": ["customers"],
			"generated_sql": "SELECT COUNT(*) FROM customers;",
			"query_results": [{"count": 200}]
		}
	}`, string(data))

	// prompts carry the schema text, the tables and the rows
	require.Len(t, gen.prompts, 3)
	assert.Contains(t, gen.prompts[0], "Table: customers\nColumns: customer_id (INTEGER), name (VARCHAR(100))")
	assert.Contains(t, gen.prompts[0], "How many customers are there?")
	assert.Contains(t, gen.prompts[1], "valid PostgreSQL query")
	assert.Contains(t, gen.prompts[1], "Relevant tables: customers\n")
	assert.Contains(t, gen.prompts[2], `Query results: [{"count":200}]`)
	assert.Contains(t, gen.prompts[2], "SQL query used: SELECT COUNT(*) FROM customers;")

	snap := mc.Snapshot()
	assert.Equal(t, int64(1), snap.Outcomes["ok"])
	for _, op := range []string{metrics.OpSchema, metrics.OpSelectTables, metrics.OpGenerateSQL, metrics.OpExecute, metrics.OpSynthesize} {
		require.NotNil(t, snap.Operations[op], op)
		assert.Equal(t, int64(1), snap.Operations[op].Count, op)
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name        string
		store       func() *fakeStore
		script      []reply
		kind        ErrorKind
		errMsg      string
		errContains string
		original    string
		tables      []string
		sql         *string
		hasRows     bool
	}{
		{
			name:   "quota during table selection",
			store:  shopStore,
			script: []reply{{err: rateLimited()}},
			kind:   KindAPIQuota,
			errMsg: "LLM API quota exceeded. Please check your API key and billing status.",
		},
		{
			name:   "quota during sql generation",
			store:  shopStore,
			script: []reply{{text: "customers"}, {err: rateLimited()}},
			kind:   KindAPIQuota,
			errMsg: "LLM API quota exceeded while generating SQL.",
			tables: []string{"customers"},
		},
		{
			name: "execution failure",
			store: func() *fakeStore {
				s := shopStore()
				s.queryErr = errors.New(`relation "customer" does not exist`)
				return s
			},
			script:   []reply{{text: "customers"}, {text: "SELECT COUNT(*) FROM customer"}},
			kind:     KindDatabase,
			errMsg:   `Database query execution failed: Query execution failed: relation "customer" does not exist`,
			original: `Query execution failed: relation "customer" does not exist`,
			tables:   []string{"customers"},
			sql:      strPtr("SELECT COUNT(*) FROM customer"),
		},
		{
			name: "database down during execution",
			store: func() *fakeStore {
				s := shopStore()
				s.queryErr = errors.New("failed to connect to `host=db`: dial error")
				return s
			},
			script:      []reply{{text: "customers"}, {text: "SELECT 1"}},
			kind:        KindDatabase,
			errContains: "Query execution failed",
			tables:      []string{"customers"},
			sql:         strPtr("SELECT 1"),
		},
		{
			name: "schema read failure",
			store: func() *fakeStore {
				s := shopStore()
				s.tablesErr = errors.New("connection refused")
				return s
			},
			kind:   KindUnknown,
			errMsg: "connection refused",
		},
		{
			name:   "non quota selection failure",
			store:  shopStore,
			script: []reply{{err: errors.New("invalid api key")}},
			kind:   KindUnknown,
			errMsg: "invalid api key",
		},
		{
			name:   "non quota generation failure",
			store:  shopStore,
			script: []reply{{text: "customers"}, {err: errors.New("malformed response")}},
			kind:   KindUnknown,
			errMsg: "malformed response",
			tables: []string{"customers"},
		},
		{
			name:    "non quota synthesis failure keeps rows",
			store:   shopStore,
			script:  []reply{{text: "customers"}, {text: "SELECT COUNT(*) FROM customers"}, {err: errors.New("safety filter")}},
			kind:    KindUnknown,
			errMsg:  "safety filter",
			tables:  []string{"customers"},
			sql:     strPtr("SELECT COUNT(*) FROM customers"),
			hasRows: true,
		},
		{
			name:   "panic in a stage",
			store:  shopStore,
			script: []reply{{text: "customers"}, {panic: "nil map write"}},
			kind:   KindUnknown,
			errMsg: "nil map write",
			tables: []string{"customers"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := metrics.NewCollector()
			p := newTestPipeline(tt.store(), &fakeGen{script: tt.script}, Options{Metrics: mc})

			res := p.Run(context.Background(), "How many customers are there?")

			assert.True(t, res.Failed())
			assert.Equal(t, tt.kind, res.ErrorKind)
			assert.Empty(t, res.Answer)
			if tt.errMsg != "" {
				assert.Equal(t, tt.errMsg, res.Error)
			}
			if tt.errContains != "" {
				assert.Contains(t, res.Error, tt.errContains)
			}
			if tt.original != "" {
				assert.Equal(t, tt.original, res.OriginalError)
			}
			assert.NotEmpty(t, res.OriginalError)

			require.NotNil(t, res.Steps)
			assert.Equal(t, tt.tables, res.Steps.RelevantTables)
			assert.Equal(t, tt.sql, res.Steps.GeneratedSQL)
			if tt.hasRows {
				assert.NotNil(t, res.Steps.QueryResults)
			} else {
				assert.Nil(t, res.Steps.QueryResults)
				assert.Nil(t, marshal(t, res)["intermediate_steps"].(map[string]any)["query_results"])
			}

			assert.Equal(t, int64(1), mc.Snapshot().Outcomes[string(tt.kind)])
		})
	}
}

func TestRunPartialOnSynthesisQuota(t *testing.T) {
	store := shopStore()
	gen := &fakeGen{script: []reply{
		{text: "customers"},
		{text: "SELECT COUNT(*) FROM customers;"},
		{err: rateLimited()},
	}}
	p := newTestPipeline(store, gen, Options{})

	res := p.Run(context.Background(), "How many customers are there?")

	assert.Equal(t, KindAPIQuotaPartial, res.ErrorKind)
	assert.True(t, res.Failed())
	assert.Equal(t, `Raw query results (AI synthesis unavailable): [{"count":200}]`, res.Answer)
	assert.NotEmpty(t, res.Error)
	assert.Contains(t, res.OriginalError, "429")
	assert.Equal(t, store.rows, res.Steps.QueryResults)

	out := marshal(t, res)
	assert.Equal(t, "api_quota_partial", out["error_type"])
	steps := out["intermediate_steps"].(map[string]any)
	assert.Equal(t, []any{map[string]any{"count": float64(200)}}, steps["query_results"])
}

func TestRunEmptyResultSet(t *testing.T) {
	store := shopStore()
	store.rows = nil
	gen := &fakeGen{script: []reply{
		{text: "sales"},
		{text: "SELECT * FROM sales WHERE amount < 0"},
		{text: "No sales have a negative amount."},
	}}
	p := newTestPipeline(store, gen, Options{})

	res := p.Run(context.Background(), "Any refunds?")

	require.False(t, res.Failed())
	assert.NotNil(t, res.Steps.QueryResults)
	assert.Empty(t, res.Steps.QueryResults)
	assert.Equal(t, []any{}, marshal(t, res)["intermediate_steps"].(map[string]any)["query_results"])
	assert.Contains(t, gen.prompts[2], "Query results: []")
}

func TestRunEmptyTableListPassesThrough(t *testing.T) {
	gen := &fakeGen{script: []reply{
		{text: " , "},
		{text: "SELECT 1"},
		{text: "One."},
	}}
	p := newTestPipeline(shopStore(), gen, Options{})

	res := p.Run(context.Background(), "What is one?")

	require.False(t, res.Failed())
	assert.Equal(t, []string{}, res.Steps.RelevantTables)
	assert.Contains(t, gen.prompts[1], "Relevant tables: \n")
}

func TestRunValidateTables(t *testing.T) {
	tests := []struct {
		name     string
		validate bool
		reply    string
		want     []string
	}{
		{"off keeps hallucinations", false, "customers, invoices", []string{"customers", "invoices"}},
		{"on drops hallucinations", true, "customers, invoices", []string{"customers"}},
		{"on canonicalizes case", true, "Customers,SALES", []string{"customers", "sales"}},
		{"on may end empty", true, "invoices", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGen{script: []reply{{text: tt.reply}, {text: "SELECT 1"}, {text: "ok"}}}
			p := newTestPipeline(shopStore(), gen, Options{ValidateTables: tt.validate})

			res := p.Run(context.Background(), "q")

			require.False(t, res.Failed())
			assert.Equal(t, tt.want, res.Steps.RelevantTables)
		})
	}
}

func TestRunStageTimeout(t *testing.T) {
	gen := &fakeGen{script: []reply{{text: "customers"}, {block: true}}}
	p := newTestPipeline(shopStore(), gen, Options{StageTimeout: 20 * time.Millisecond})

	start := time.Now()
	res := p.Run(context.Background(), "q")

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, KindUnknown, res.ErrorKind)
	assert.Contains(t, res.Error, context.DeadlineExceeded.Error())
	assert.Equal(t, []string{"customers"}, res.Steps.RelevantTables)
}

func TestRunRequestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGen{script: []reply{{block: true}}}
	p := newTestPipeline(shopStore(), gen, Options{})

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res := p.Run(ctx, "q")

	assert.Equal(t, KindUnknown, res.ErrorKind)
	assert.Contains(t, res.Error, context.Canceled.Error())
}

func TestRunUsesStoreDialect(t *testing.T) {
	store := shopStore()
	store.dialect = "SQLite"
	gen := &fakeGen{script: []reply{{text: "customers"}, {text: "SELECT 1"}, {text: "ok"}}}

	newTestPipeline(store, gen, Options{}).Run(context.Background(), "q")

	require.Len(t, gen.prompts, 3)
	assert.Contains(t, gen.prompts[1], "valid SQLite query")
}

func TestRunConcurrent(t *testing.T) {
	store := shopStore()
	mc := metrics.NewCollector()
	p := New(store, &scriptByPrompt{}, Options{Metrics: mc, Logger: quietLogger()})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := p.Run(context.Background(), "How many customers are there?")
			assert.False(t, res.Failed())
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(16), mc.Snapshot().Outcomes["ok"])
}

// scriptByPrompt answers by prompt kind so concurrent runs need no ordering.
type scriptByPrompt struct{}

func (scriptByPrompt) Generate(_ context.Context, prompt string) (string, error) {
	switch {
	case strings.HasPrefix(prompt, "You are a database expert"):
		return "customers", nil
	case strings.HasPrefix(prompt, "You are an SQL expert"):
		return "SELECT COUNT(*) FROM customers", nil
	default:
		return "There are 200 customers.", nil
	}
}

func TestDescribe(t *testing.T) {
	p := newTestPipeline(shopStore(), &fakeGen{}, Options{})

	schema, err := p.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "sales"}, schema.TableNames())
}

func strPtr(s string) *string { return &s }
