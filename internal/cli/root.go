// Package cli provides the command-line interface for askdb.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/askdb/internal/config"
	"github.com/raphaelgruber/askdb/internal/db"
	"github.com/raphaelgruber/askdb/internal/llm"
	"github.com/raphaelgruber/askdb/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	jsonOutput bool
	remote     bool
	serverURL  string
	configPath string

	// Global config and logger, set in PersistentPreRunE
	cfg      config.Config
	logger   = slog.Default()
	closeLog = func() error { return nil }
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "askdb",
	Short: "Ask a relational database questions in plain language",
	Long: `askdb answers natural-language questions about a PostgreSQL or SQLite
database. A language model picks the relevant tables, writes one SQL query,
the query runs against the live database and the model turns the rows into
an answer.

Questions run in-process by default. Use --remote or --server to send them
to a running askdb-server instead.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Resolve(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if serverURL != "" {
			cfg.ServerURL = serverURL
			remote = true
		}

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, level)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	},
}

// openStore connects to the configured database.
func openStore(ctx context.Context) (db.Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	store, err := db.Open(ctx, db.Config{
		URL:      cfg.DatabaseURL,
		ReadOnly: cfg.DBReadOnly,
		MaxConns: cfg.DBMaxConns,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return store, nil
}

// openPipeline builds an in-process pipeline. The caller closes the store.
func openPipeline(ctx context.Context) (*pipeline.Pipeline, db.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	model, err := llm.NewModel(ctx, cfg, nil, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("init model: %w", err)
	}

	p := pipeline.New(store, model, pipeline.Options{
		StageTimeout:   cfg.StageTimeout,
		ValidateTables: cfg.ValidateTables,
		Logger:         logger,
	})
	return p, store, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of styled output")
	rootCmd.PersistentFlags().BoolVar(&remote, "remote", false, "send questions to askdb-server at ASKDB_SERVER_URL")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "askdb-server base URL (implies --remote)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $ASKDB_CONFIG)")

	// Add subcommands
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(versionCmd)
}
