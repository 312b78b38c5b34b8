package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/harborview-health/patient-etl/internal/load"
)

// openLoader builds the configured store backend after validating the
// store section of the config.
func openLoader(ctx context.Context) (load.Loader, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	return load.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations",
	Long:  "Applies all pending schema migrations to the clinical store in lexicographic order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		loader, err := openLoader(ctx)
		if err != nil {
			return err
		}
		defer loader.Close()

		if err := loader.Migrate(ctx); err != nil {
			return err
		}

		cmd.Println("All migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
