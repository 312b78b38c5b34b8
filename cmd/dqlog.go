package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborview-health/patient-etl/internal/load"
)

var dqlogCmd = &cobra.Command{
	Use:   "dqlog <run-id>",
	Short: "Show data-quality entries for a run",
	Long:  "Displays the persisted data-quality log entries recorded during one ETL run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		loader, err := openLoader(ctx)
		if err != nil {
			return err
		}
		defer loader.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		recs, err := loader.ListDQ(ctx, args[0], limit)
		if err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		column, _ := cmd.Flags().GetString("column")
		recs = filterDQRecords(recs, file, column)

		if len(recs) == 0 {
			zap.L().Info("no data-quality entries for run", zap.String("run_id", args[0]))
			return nil
		}

		formatDQRecords(cmd.OutOrStdout(), recs)
		return nil
	},
}

func init() {
	dqlogCmd.Flags().Int("limit", 200, "maximum number of entries to show")
	dqlogCmd.Flags().String("file", "", "show only entries from this source file")
	dqlogCmd.Flags().String("column", "", "show only entries for this column")
	rootCmd.AddCommand(dqlogCmd)
}

// filterDQRecords keeps entries matching the optional file and column
// filters. Empty filters match everything.
func filterDQRecords(recs []load.DQRecord, file, column string) []load.DQRecord {
	if file == "" && column == "" {
		return recs
	}
	out := recs[:0:0]
	for _, r := range recs {
		if file != "" && r.FileName != file {
			continue
		}
		if column != "" && r.ColumnName != column {
			continue
		}
		out = append(out, r)
	}
	return out
}

// formatDQRecords writes a tabular representation of quality entries to w.
func formatDQRecords(out io.Writer, recs []load.DQRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TS\tFILE\tROW\tCOLUMN\tVALUE\tREASON")
	_, _ = fmt.Fprintln(w, "--\t----\t---\t------\t-----\t------")

	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.TS.Format("2006-01-02 15:04:05"),
			r.FileName,
			r.RowID,
			r.ColumnName,
			truncate(r.ValueSeen, 30),
			r.Reason,
		)
	}
	_ = w.Flush()
}
