package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborview-health/patient-etl/internal/load"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show run history",
	Long:  "Displays the ETL run history, most recent first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		loader, err := openLoader(ctx)
		if err != nil {
			return err
		}
		defer loader.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := loader.ListRuns(ctx, limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			zap.L().Info("no runs found, run 'patient-etl run' to load data")
			return nil
		}

		formatRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 50, "maximum number of runs to show")
	rootCmd.AddCommand(runsCmd)
}

// formatRuns writes a tabular representation of run history to w.
func formatRuns(out io.Writer, runs []load.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tMODE\tSTATUS\tSTARTED\tDURATION\tPATIENTS\tENCOUNTERS\tDIAGNOSES\tDQ\tERROR")
	_, _ = fmt.Fprintln(w, "---\t----\t------\t-------\t--------\t--------\t----------\t---------\t--\t-----")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		errMsg := ""
		if r.Error != "" {
			errMsg = truncate(r.Error, 60)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			shortID(r.RunID),
			r.Mode,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			r.Patients,
			r.Encounters,
			r.Diagnoses,
			r.DQEntries,
			errMsg,
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// shortID abbreviates a UUID to its first block for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
