// Package pipeline answers natural-language questions over a database.
//
// A run describes the schema, asks the model for relevant tables, asks it
// for SQL, executes that SQL and asks the model to explain the rows. Stages
// run strictly in order and a failed stage ends the run. Whatever the earlier
// stages produced is always reported back in the Result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/raphaelgruber/askdb/internal/db"
	"github.com/raphaelgruber/askdb/internal/llm"
	"github.com/raphaelgruber/askdb/internal/metrics"
)

// User-facing messages for classified failures.
const (
	msgQuotaSelect     = "LLM API quota exceeded. Please check your API key and billing status."
	msgQuotaGenerate   = "LLM API quota exceeded while generating SQL."
	msgQuotaSynthesize = "LLM API quota exceeded while synthesizing the answer."
	msgExecution       = "Database query execution failed: "
	partialPrefix      = "Raw query results (AI synthesis unavailable): "
)

// Store is the database a pipeline reads from.
type Store interface {
	Introspector
	Querier
	Dialect() string
}

// Options tunes a Pipeline. The zero value is usable.
type Options struct {
	// StageTimeout bounds each stage. Zero disables the limit.
	StageTimeout time.Duration

	// ValidateTables drops selected table names missing from the schema.
	ValidateTables bool

	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Pipeline wires the stages together. It keeps no per-request state and is
// safe for concurrent use.
type Pipeline struct {
	inspector   *Inspector
	selector    *TableSelector
	generator   *SQLGenerator
	executor    *Executor
	synthesizer *Synthesizer

	stageTimeout time.Duration
	metrics      *metrics.Collector
	logger       *slog.Logger
}

// New builds a pipeline over store using gen for every model call.
func New(store Store, gen Generator, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		inspector:    NewInspector(store),
		selector:     NewTableSelector(gen, opts.ValidateTables, logger),
		generator:    NewSQLGenerator(gen, store.Dialect()),
		executor:     NewExecutor(store),
		synthesizer:  NewSynthesizer(gen),
		stageTimeout: opts.StageTimeout,
		metrics:      opts.Metrics,
		logger:       logger,
	}
}

// Describe returns the live schema.
func (p *Pipeline) Describe(ctx context.Context) (Schema, error) {
	var schema Schema
	err := p.stage(ctx, metrics.OpSchema, func(ctx context.Context) error {
		var err error
		schema, err = p.inspector.Describe(ctx)
		return err
	})
	return schema, err
}

// Run answers question. It never returns an error: every failure, including
// a panic in a stage, is classified into the Result.
func (p *Pipeline) Run(ctx context.Context, question string) (res Result) {
	start := time.Now()
	res.Steps = &Steps{}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline panic", "panic", r, "stack", string(debug.Stack()))
			res = p.fail(res, KindUnknown, fmt.Sprint(r), fmt.Sprint(r))
		}
		p.metrics.RecordOutcome(res.ErrorKind.Label())
		p.logger.Debug("pipeline finished",
			"outcome", res.ErrorKind.Label(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	// Stage 1: schema and table selection
	schema, err := p.Describe(ctx)
	if err != nil {
		return p.classify(res, err, msgQuotaSelect)
	}
	var tables []string
	err = p.stage(ctx, metrics.OpSelectTables, func(ctx context.Context) error {
		var err error
		tables, err = p.selector.Select(ctx, question, schema)
		return err
	})
	if err != nil {
		return p.classify(res, err, msgQuotaSelect)
	}
	res.Steps.RelevantTables = tables

	// Stage 2: SQL generation
	var sql string
	err = p.stage(ctx, metrics.OpGenerateSQL, func(ctx context.Context) error {
		var err error
		sql, err = p.generator.Generate(ctx, question, schema, tables)
		return err
	})
	if err != nil {
		return p.classify(res, err, msgQuotaGenerate)
	}
	res.Steps.GeneratedSQL = &sql

	// Stage 3: execution
	var rows []db.Row
	err = p.stage(ctx, metrics.OpExecute, func(ctx context.Context) error {
		var err error
		rows, err = p.executor.Execute(ctx, sql)
		return err
	})
	if err != nil {
		return p.classify(res, err, "")
	}
	res.Steps.QueryResults = rows

	// Stage 4: synthesis
	var answer string
	err = p.stage(ctx, metrics.OpSynthesize, func(ctx context.Context) error {
		var err error
		answer, err = p.synthesizer.Synthesize(ctx, question, sql, rows)
		return err
	})
	if err != nil {
		if llm.IsRateLimited(err) {
			return p.partial(res, err)
		}
		return p.classify(res, err, "")
	}

	res.Answer = answer
	return res
}

// stage runs fn under the per-stage timeout and records its timing.
func (p *Pipeline) stage(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if p.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	p.metrics.RecordTiming(op, elapsed, err != nil)

	if err != nil {
		p.logger.Debug("stage failed", "stage", op, "duration_ms", elapsed.Milliseconds(), "error", err)
		return err
	}
	p.logger.Debug("stage complete", "stage", op, "duration_ms", elapsed.Milliseconds())
	return nil
}

// classify turns a stage error into a terminal result. quotaMsg is the
// message used when the model was rate limited; stages that cannot be
// rate limited pass "".
func (p *Pipeline) classify(res Result, err error, quotaMsg string) Result {
	var execErr *ExecutionError
	switch {
	case quotaMsg != "" && llm.IsRateLimited(err):
		return p.fail(res, KindAPIQuota, quotaMsg, err.Error())
	case errors.As(err, &execErr):
		return p.fail(res, KindDatabase, msgExecution+execErr.Error(), execErr.Error())
	default:
		return p.fail(res, KindUnknown, err.Error(), err.Error())
	}
}

func (p *Pipeline) fail(res Result, kind ErrorKind, msg, original string) Result {
	p.logger.Warn("pipeline failed", "error_type", string(kind), "error", original)
	res.Answer = ""
	res.Error = msg
	res.ErrorKind = kind
	res.OriginalError = original
	return res
}

// partial answers with the raw rows when synthesis was rate limited.
func (p *Pipeline) partial(res Result, err error) Result {
	p.logger.Warn("synthesis rate limited, returning raw rows", "error", err)
	data, encErr := rowsJSON(res.Steps.QueryResults)
	if encErr != nil {
		data = "[]"
	}
	res.Answer = partialPrefix + data
	res.Error = msgQuotaSynthesize
	res.ErrorKind = KindAPIQuotaPartial
	res.OriginalError = err.Error()
	return res
}
