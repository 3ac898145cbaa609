package cli

import (
	"fmt"

	"github.com/raphaelgruber/askdb/internal/client"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show server usage statistics",
	Long: `Show askdb-server runtime statistics: per-stage timings, model token
usage and how many questions ended in each outcome.

Statistics are kept in memory and reset when the server restarts.

Examples:
  askdb usage
  askdb usage --server http://db-assistant:8000
  askdb usage --json`,
	Args: cobra.NoArgs,
	RunE: runUsage,
}

func runUsage(cmd *cobra.Command, args []string) error {
	c := client.New(cfg.ServerURL, cfg.ClientTimeout)

	stats, err := c.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}

	out := cmd.OutOrStdout()
	if wantJSON(out) {
		return printJSON(out, stats)
	}
	newPrinter(out, defaultTheme).printServerStats(stats)
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the askdb version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "askdb %s\n", Version)
	},
}
