package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborview-health/patient-etl/internal/dq"
	"github.com/harborview-health/patient-etl/internal/extract"
	"github.com/harborview-health/patient-etl/internal/fetcher"
	"github.com/harborview-health/patient-etl/internal/load"
	"github.com/harborview-health/patient-etl/internal/transform"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full ETL pipeline",
	Long: `Run the full extract-transform-load pipeline.

Reads the three configured extracts, cleans and validates every row,
and loads the surviving records plus the data-quality log into the
clinical store. Use --mode to override the configured load mode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		applySourceFlags(cmd)
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		modeStr, _ := cmd.Flags().GetString("mode")
		if modeStr == "" {
			modeStr = cfg.Load.Mode
		}
		mode, err := load.ParseMode(modeStr)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.Sources.TempDir, 0o755); err != nil {
			return eris.Wrapf(err, "run: create temp dir %s", cfg.Sources.TempDir)
		}

		loader, err := openLoader(ctx)
		if err != nil {
			return err
		}
		defer loader.Close()

		if err := loader.Migrate(ctx); err != nil {
			return err
		}

		runID := uuid.New()
		log := zap.L().With(zap.String("run_id", runID.String()))
		log.Info("starting run", zap.String("mode", string(mode)))

		rowID, err := loader.StartRun(ctx, runID, mode)
		if err != nil {
			return err
		}

		res, err := executeRun(ctx, loader, mode, runID)
		if err != nil {
			if failErr := loader.FailRun(ctx, rowID, err.Error()); failErr != nil {
				log.Error("recording run failure", zap.Error(failErr))
			}
			return err
		}

		if err := loader.CompleteRun(ctx, rowID, res); err != nil {
			return err
		}

		cmd.Printf("Run %s complete: %d patients, %d encounters, %d diagnoses, %d data-quality entries\n",
			runID, res.Patients, res.Encounters, res.Diagnoses, res.DQEntries)
		return nil
	},
}

// executeRun performs extract, transform, and load for one run.
func executeRun(ctx context.Context, loader load.Loader, mode load.Mode, runID uuid.UUID) (load.Result, error) {
	qlog := dq.NewLog()

	f := fetcher.New(fetcher.Options{
		UserAgent:  cfg.Fetch.UserAgent,
		Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Fetch.MaxRetries,
		RatePerSec: cfg.Fetch.RatePerSec,
	})

	raw, err := extract.NewExtractor(f, qlog, cfg.Sources.TempDir).Extract(ctx, extract.Sources{
		Patients:   cfg.Sources.Patients,
		Encounters: cfg.Sources.Encounters,
		Diagnoses:  cfg.Sources.Diagnoses,
	})
	if err != nil {
		return load.Result{}, err
	}

	pipe, err := transform.NewPipeline(runContext(), qlog)
	if err != nil {
		return load.Result{}, err
	}

	// Truncate replaces the store wholesale, so prior keys are irrelevant.
	var existing transform.ExistingKeys
	if mode != load.ModeTruncate {
		if existing, err = loader.ExistingKeys(ctx); err != nil {
			return load.Result{}, err
		}
	}

	batch, err := pipe.Run(raw, existing)
	if err != nil {
		return load.Result{}, err
	}

	return loader.Load(ctx, runID, mode, batch, qlog)
}

// runContext builds the validation context from defaults plus any
// configured overrides.
func runContext() *transform.Context {
	rules := transform.DefaultContext(time.Now().UTC())
	if cfg.Transform.MaxFutureYears > 0 {
		rules.MaxFutureYears = cfg.Transform.MaxFutureYears
	}
	if cfg.Transform.HeightMinCM > 0 {
		rules.HeightBounds = transform.Bounds{Min: cfg.Transform.HeightMinCM, Max: cfg.Transform.HeightMaxCM}
	}
	if cfg.Transform.WeightMinKG > 0 {
		rules.WeightBounds = transform.Bounds{Min: cfg.Transform.WeightMinKG, Max: cfg.Transform.WeightMaxKG}
	}
	rules.LogExactDuplicates = cfg.Transform.LogExactDuplicates
	return rules
}

// applySourceFlags lets command-line source overrides take precedence
// over the config file.
func applySourceFlags(cmd *cobra.Command) {
	if v, _ := cmd.Flags().GetString("patients"); v != "" {
		cfg.Sources.Patients = v
	}
	if v, _ := cmd.Flags().GetString("encounters"); v != "" {
		cfg.Sources.Encounters = v
	}
	if v, _ := cmd.Flags().GetString("diagnoses"); v != "" {
		cfg.Sources.Diagnoses = v
	}
}

func init() {
	runCmd.Flags().String("mode", "", "load mode: truncate, append, upsert")
	runCmd.Flags().String("patients", "", "patients extract path or URL")
	runCmd.Flags().String("encounters", "", "encounters extract path or URL")
	runCmd.Flags().String("diagnoses", "", "diagnoses extract path or URL")
	rootCmd.AddCommand(runCmd)
}
