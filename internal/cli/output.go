package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/askdb/internal/db"
	"github.com/raphaelgruber/askdb/internal/metrics"
	"github.com/raphaelgruber/askdb/internal/pipeline"
	"golang.org/x/term"
)

// maxDisplayRows caps the result rows printed in styled output.
const maxDisplayRows = 50

// maxCellWidth truncates long cell values in styled output.
const maxCellWidth = 40

// Theme holds the color scheme for styled output.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle(r *lipgloss.Renderer) lipgloss.Style {
	return r.NewStyle().Foreground(t.Status).Bold(true)
}

func (t Theme) completedStyle(r *lipgloss.Renderer) lipgloss.Style {
	return r.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle(r *lipgloss.Renderer) lipgloss.Style {
	return r.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle(r *lipgloss.Renderer) lipgloss.Style {
	return r.NewStyle().Foreground(t.Hint).Italic(true)
}

// printer renders results for a human. Colors follow the capabilities of
// the writer, so a pipe or buffer gets plain text.
type printer struct {
	w     io.Writer
	r     *lipgloss.Renderer
	theme Theme
}

func newPrinter(w io.Writer, theme Theme) *printer {
	return &printer{w: w, r: lipgloss.NewRenderer(w), theme: theme}
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) heading(s string) {
	p.printf("\n%s\n", p.theme.statusStyle(p.r).Render(s))
}

func (p *printer) printResult(res pipeline.Result) {
	if res.Answer != "" {
		p.printf("%s\n%s\n", p.theme.completedStyle(p.r).Render("✓ Answer"), res.Answer)
	}
	if res.Failed() {
		p.printf("%s\n", p.theme.errorStyle(p.r).Render("✗ "+res.Error))
		p.printf("%s\n", p.theme.hintStyle(p.r).Render("error type: "+res.ErrorKind.Label()))
		if res.OriginalError != "" && !strings.Contains(res.Error, res.OriginalError) {
			p.printf("%s\n", p.theme.hintStyle(p.r).Render("cause: "+res.OriginalError))
		}
	}

	steps := res.Steps
	if steps == nil {
		return
	}
	if steps.RelevantTables != nil {
		p.heading("Tables")
		if len(steps.RelevantTables) == 0 {
			p.printf("%s\n", p.theme.hintStyle(p.r).Render("(none)"))
		} else {
			p.printf("%s\n", strings.Join(steps.RelevantTables, ", "))
		}
	}
	if steps.GeneratedSQL != nil {
		p.heading("SQL")
		p.printf("%s\n", *steps.GeneratedSQL)
	}
	if steps.QueryResults != nil {
		p.heading(fmt.Sprintf("Results (%d rows)", len(steps.QueryResults)))
		p.printRows(steps.QueryResults)
	}
}

// printRows writes rows as an aligned table. Columns come from the first row.
func (p *printer) printRows(rows []db.Row) {
	if len(rows) == 0 {
		p.printf("%s\n", p.theme.hintStyle(p.r).Render("No rows."))
		return
	}

	shown := rows
	if len(shown) > maxDisplayRows {
		shown = shown[:maxDisplayRows]
	}

	cols := rows[0].Columns()
	cells := make([][]string, len(shown))
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = lipgloss.Width(c)
	}
	for i, row := range shown {
		cells[i] = make([]string, len(cols))
		for j, c := range cols {
			v, _ := row.Get(c)
			s := truncateCell(formatValue(v))
			cells[i][j] = s
			widths[j] = max(widths[j], lipgloss.Width(s))
		}
	}

	header := p.r.NewStyle().Bold(true)
	p.printf("%s\n", strings.TrimRight(joinCells(cols, widths, header), " "))
	rules := make([]string, len(cols))
	for i, w := range widths {
		rules[i] = strings.Repeat("─", w)
	}
	p.printf("%s\n", strings.Join(rules, "  "))
	for _, row := range cells {
		p.printf("%s\n", strings.TrimRight(joinCells(row, widths, p.r.NewStyle()), " "))
	}

	if len(rows) > len(shown) {
		p.printf("%s\n", p.theme.hintStyle(p.r).Render(
			fmt.Sprintf("... %d more rows (use --json for all)", len(rows)-len(shown))))
	}
}

func joinCells(cells []string, widths []int, style lipgloss.Style) string {
	parts := make([]string, len(cells))
	for i, c := range cells {
		pad := widths[i] - lipgloss.Width(c)
		parts[i] = style.Render(c) + strings.Repeat(" ", pad)
	}
	return strings.Join(parts, "  ")
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}

func truncateCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= maxCellWidth {
		return s
	}
	return string(r[:maxCellWidth-1]) + "…"
}

func (p *printer) printSchema(s pipeline.Schema, dialect string) {
	p.printf("%s\n", p.theme.statusStyle(p.r).Render(
		fmt.Sprintf("%s schema (%d tables)", dialect, len(s.Tables))))
	if len(s.Tables) == 0 {
		p.printf("%s\n", p.theme.hintStyle(p.r).Render("No tables."))
		return
	}
	for _, t := range s.Tables {
		p.printf("\n%s\n", p.theme.completedStyle(p.r).Render(t.Name))
		width := 0
		for _, c := range t.Columns {
			width = max(width, len(c.Name))
		}
		for _, c := range t.Columns {
			p.printf("  %-*s  %s\n", width, c.Name, p.theme.hintStyle(p.r).Render(c.Type))
		}
	}
}

// statsOps lists the operations in pipeline order with display names.
var statsOps = []struct {
	op    string
	label string
}{
	{metrics.OpSchema, "Schema"},
	{metrics.OpSelectTables, "Table Selection"},
	{metrics.OpGenerateSQL, "SQL Generation"},
	{metrics.OpExecute, "Query Execution"},
	{metrics.OpSynthesize, "Answer Synthesis"},
	{metrics.OpLLMGenerate, "LLM Generate"},
}

// printServerStats displays server runtime statistics.
func (p *printer) printServerStats(stats metrics.Snapshot) {
	p.printf("%s\n", p.theme.statusStyle(p.r).Render("Server Statistics (in-memory, since restart)"))
	p.printf("═══════════════════════════════════════════════\n")
	p.printf("Uptime: %.1f seconds\n", stats.UptimeSeconds)
	p.printf("Questions: %d\n", stats.Questions)

	for _, s := range statsOps {
		op := stats.Operations[s.op]
		if op == nil {
			continue
		}
		p.printf("\n%s:\n", s.label)
		p.printOpStats(op)
		p.printTokenStats(op)
	}

	if len(stats.Outcomes) == 0 {
		return
	}
	kinds := make([]string, 0, len(stats.Outcomes))
	for k := range stats.Outcomes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	p.printf("\nOutcomes:\n")
	for _, k := range kinds {
		style := p.theme.errorStyle(p.r)
		if k == pipeline.KindNone.Label() {
			style = p.theme.completedStyle(p.r)
		}
		p.printf("  %s %d\n", style.Render(fmt.Sprintf("%-18s", k)), stats.Outcomes[k])
	}
}

// printOpStats displays timing statistics for an operation.
func (p *printer) printOpStats(op *metrics.OperationSnapshot) {
	p.printf("  Calls: %d, Failures: %d, Total: %dms\n", op.Count, op.Failures, op.TotalTimeMs)
	p.printf("  Time: avg %.1fms, min %dms, max %dms\n", op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func (p *printer) printTokenStats(op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	p.printf("  Tokens In:  %d total", *op.TotalInputTokens)
	if op.AvgInputTokens != nil {
		p.printf(", avg %.0f", *op.AvgInputTokens)
	}
	p.printf("\n")

	p.printf("  Tokens Out: %d total", *op.TotalOutputTokens)
	if op.AvgOutputTokens != nil {
		p.printf(", avg %.0f", *op.AvgOutputTokens)
	}
	p.printf("\n")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
