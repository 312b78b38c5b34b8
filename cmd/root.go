package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborview-health/patient-etl/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "patient-etl",
	Short: "Patient record ETL pipeline",
	Long:  "Extracts patient, encounter, and diagnosis feeds, cleans and validates them with a full data-quality audit trail, and loads the result into the clinical store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
