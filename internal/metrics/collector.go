// Package metrics keeps in-memory statistics about pipeline runs: how long
// each stage takes, how many model tokens are spent and how runs end.
package metrics

import (
	"sync"
	"time"
)

// Stage and call names used as operation keys.
const (
	OpSchema       = "schema"
	OpSelectTables = "select_tables"
	OpGenerateSQL  = "generate_sql"
	OpExecute      = "execute"
	OpSynthesize   = "synthesize"
	OpLLMGenerate  = "llm_generate"
)

// OperationSnapshot is the computed view of one operation.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Failures    int64   `json:"failures"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	// Set only for model calls that reported usage.
	TotalInputTokens  *int64   `json:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64   `json:"total_output_tokens,omitempty"`
	AvgInputTokens    *float64 `json:"avg_input_tokens,omitempty"`
	AvgOutputTokens   *float64 `json:"avg_output_tokens,omitempty"`
}

// Snapshot is what GET /stats returns.
type Snapshot struct {
	UptimeSeconds float64                       `json:"uptime_seconds"`
	Questions     int64                         `json:"questions"`
	Operations    map[string]*OperationSnapshot `json:"operations"`
	Outcomes      map[string]int64              `json:"outcomes"`
}

// timing accumulates durations of one operation.
type timing struct {
	count    int64
	failures int64
	total    time.Duration
	min      time.Duration
	max      time.Duration
}

func (t *timing) add(d time.Duration, failed bool) {
	if t.count == 0 || d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
	t.count++
	t.total += d
	if failed {
		t.failures++
	}
}

// tokens accumulates model usage of one operation.
type tokens struct {
	in, out int64
}

// Collector aggregates statistics for the lifetime of the process.
// It is safe for concurrent use, and every Record method is a no-op on a
// nil *Collector so callers need not check.
type Collector struct {
	mu       sync.RWMutex
	started  time.Time
	timings  map[string]*timing
	usage    map[string]*tokens
	outcomes map[string]int64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		started:  time.Now(),
		timings:  make(map[string]*timing),
		usage:    make(map[string]*tokens),
		outcomes: make(map[string]int64),
	}
}

// timingFor must be called with the write lock held.
func (c *Collector) timingFor(op string) *timing {
	t, ok := c.timings[op]
	if !ok {
		t = &timing{}
		c.timings[op] = t
	}
	return t
}

// RecordTiming records one run of op.
func (c *Collector) RecordTiming(op string, d time.Duration, failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timingFor(op).add(d, failed)
}

// RecordLLMUsage records one model call with its token counts.
func (c *Collector) RecordLLMUsage(op string, d time.Duration, inputTokens, outputTokens int64, failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timingFor(op).add(d, failed)
	u, ok := c.usage[op]
	if !ok {
		u = &tokens{}
		c.usage[op] = u
	}
	u.in += inputTokens
	u.out += outputTokens
}

// RecordOutcome counts a finished question by its outcome label, "ok" for
// success or the error kind otherwise.
func (c *Collector) RecordOutcome(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[kind]++
}

// Snapshot returns a point-in-time copy of all statistics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.started).Seconds(),
		Operations:    make(map[string]*OperationSnapshot, len(c.timings)),
		Outcomes:      make(map[string]int64, len(c.outcomes)),
	}
	for op, t := range c.timings {
		snap.Operations[op] = t.snapshot(c.usage[op])
	}
	for kind, n := range c.outcomes {
		snap.Outcomes[kind] = n
		snap.Questions += n
	}
	return snap
}

func (t *timing) snapshot(u *tokens) *OperationSnapshot {
	s := &OperationSnapshot{
		Count:       t.count,
		Failures:    t.failures,
		TotalTimeMs: t.total.Milliseconds(),
		AvgTimeMs:   float64(t.total.Milliseconds()) / float64(t.count),
		MinTimeMs:   t.min.Milliseconds(),
		MaxTimeMs:   t.max.Milliseconds(),
	}
	if u == nil || (u.in == 0 && u.out == 0) {
		return s
	}

	in, out := u.in, u.out
	avgIn := float64(in) / float64(t.count)
	avgOut := float64(out) / float64(t.count)
	s.TotalInputTokens, s.TotalOutputTokens = &in, &out
	s.AvgInputTokens, s.AvgOutputTokens = &avgIn, &avgOut
	return s
}
