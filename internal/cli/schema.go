package cli

import (
	"fmt"

	"github.com/raphaelgruber/askdb/internal/pipeline"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the database schema the model sees",
	Long: `Print every base table with its columns and types, exactly as the
description handed to the model during table selection and SQL generation.

Examples:
  askdb schema
  askdb schema --json`,
	Args: cobra.NoArgs,
	RunE: runSchema,
}

func runSchema(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close database", "error", err)
		}
	}()

	schema, err := pipeline.NewInspector(store).Describe(ctx)
	if err != nil {
		return fmt.Errorf("describe schema: %w", err)
	}

	out := cmd.OutOrStdout()
	if wantJSON(out) {
		return printJSON(out, schemaJSON(schema))
	}
	newPrinter(out, defaultTheme).printSchema(schema, store.Dialect())
	return nil
}

type columnJSON struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type tableJSON struct {
	Name    string       `json:"name"`
	Columns []columnJSON `json:"columns"`
}

func schemaJSON(s pipeline.Schema) []tableJSON {
	out := make([]tableJSON, 0, len(s.Tables))
	for _, t := range s.Tables {
		cols := make([]columnJSON, 0, len(t.Columns))
		for _, c := range t.Columns {
			cols = append(cols, columnJSON{Name: c.Name, Type: c.Type})
		}
		out = append(out, tableJSON{Name: t.Name, Columns: cols})
	}
	return out
}
