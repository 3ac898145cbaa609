package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raphaelgruber/askdb/internal/client"
	"github.com/raphaelgruber/askdb/internal/pipeline"
	"github.com/spf13/cobra"
)

var askOutputFile string

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the database",
	Long: `Ask a question about the database and get an answer synthesized from
the rows of one generated SQL query.

The relevant tables, the SQL and the raw rows are printed along with the
answer. Failures exit with status 1 after printing whatever was produced.

Examples:
  askdb ask "How many customers are there?"
  askdb ask "Which product sold best last month?" --json
  askdb ask "Average order total by country" --server http://localhost:8000
  askdb ask "How many orders were refunded?" -o answer.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askOutputFile, "output", "o", "", "write the JSON result to file")
}

// FailedError reports a pipeline run that ended with an error kind.
type FailedError struct {
	Kind    pipeline.ErrorKind
	Message string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind.Label(), e.Message)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question must not be empty")
	}

	var res pipeline.Result
	if remote {
		c := client.New(cfg.ServerURL, cfg.ClientTimeout)
		resp, err := c.Ask(ctx, question)
		if err != nil {
			return fmt.Errorf("ask server: %w", err)
		}
		logger.Debug("server replied", "status", resp.StatusCode, "request_id", resp.RequestID)
		res = resp.Result
	} else {
		p, store, err := openPipeline(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("close database", "error", err)
			}
		}()
		res = p.Run(ctx, question)
	}

	if askOutputFile != "" {
		if err := writeResultFile(askOutputFile, res); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if wantJSON(out) {
		if err := printJSON(out, res); err != nil {
			return err
		}
	} else {
		newPrinter(out, defaultTheme).printResult(res)
	}

	if res.Failed() {
		return &FailedError{Kind: res.ErrorKind, Message: res.Error}
	}
	return nil
}

func writeResultFile(path string, res pipeline.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := printJSON(f, res); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}

// wantJSON reports whether results go out as JSON: when asked for, or when
// w is not a terminal.
func wantJSON(w io.Writer) bool {
	if jsonOutput {
		return true
	}
	return !isTerminal(w)
}
