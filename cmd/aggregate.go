package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/needscore/internal/config"
	"github.com/sells-group/needscore/internal/inference"
	"github.com/sells-group/needscore/internal/ingest"
	"github.com/sells-group/needscore/internal/model"
	"github.com/sells-group/needscore/internal/pipeline"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Export per-region need indicators as CSV",
	Long:  "Runs the pipeline over the records created inside [--from, --to] and writes one CSV row per region, with risk scores when the model artifact loads.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("aggregate"); err != nil {
			return err
		}

		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		window, err := ingest.ParseWindow(from, to)
		if err != nil {
			return eris.Wrap(err, "aggregate")
		}

		outPath, _ := cmd.Flags().GetString("out")
		return runAggregate(cmd.Context(), cfg, window, outPath, os.Stdout, os.Stderr)
	},
}

func init() {
	aggregateCmd.Flags().String("from", "", "include records created at or after this time (RFC 3339 or YYYY-MM-DD)")
	aggregateCmd.Flags().String("to", "", "include records created at or before this time (RFC 3339 or YYYY-MM-DD)")
	aggregateCmd.Flags().String("out", "", "output CSV path (default stdout)")
	rootCmd.AddCommand(aggregateCmd)
}

// runAggregate writes the scored (or, without a usable model, unscored)
// aggregate rows to outPath, or to stdout when outPath is empty or "-".
// The output file is only created once the rows are computed. Degradation
// warnings go to warn.
func runAggregate(ctx context.Context, c *config.Config, window ingest.Window, outPath string, stdout, warn io.Writer) error {
	in, err := loadInputs(ctx, c)
	if err != nil {
		return err
	}

	res, err := pipeline.Run(in.records, in.index, pipeline.Options{Window: window})
	if err != nil {
		return err
	}

	rows, err := inference.ScoreOrDegrade(c.Model.Path, c.Model.Features, res.Rows)
	if err != nil {
		if !inference.IsModelUnavailable(err) {
			return err
		}
		_, _ = fmt.Fprintf(warn, "warning: risk scores omitted: %v\n", err)
	}

	if outPath == "" || outPath == "-" {
		err = writeAggregatesCSV(stdout, rows)
	} else {
		err = writeAggregatesFile(outPath, rows)
	}
	if err != nil {
		return err
	}
	zap.L().Info("aggregate: export complete",
		zap.Int("regions", len(rows)),
		zap.Int("selected", res.Selected),
		zap.Int("skipped", res.Skipped),
	)
	return nil
}

// writeAggregatesFile writes rows to path and reports a failed close.
func writeAggregatesFile(path string, rows []model.AggregateRow) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "aggregate: create output")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "aggregate: close output")
		}
	}()
	return writeAggregatesCSV(f, rows)
}

var aggregateHeader = []string{
	"region_name", "req_count", "req_norm", "avg_res_time", "risk_score", "open_count", "closed_count",
}

// writeAggregatesCSV writes rows in order. Absent averages and scores are
// empty cells.
func writeAggregatesCSV(out io.Writer, rows []model.AggregateRow) error {
	w := csv.NewWriter(out)
	if err := w.Write(aggregateHeader); err != nil {
		return eris.Wrap(err, "aggregate: write header")
	}
	for _, r := range rows {
		rec := []string{
			r.Region,
			strconv.Itoa(r.ReqCount),
			formatFloat(&r.ReqNorm),
			formatFloat(r.AvgResTime),
			formatFloat(r.RiskScore),
			strconv.Itoa(r.OpenCount),
			strconv.Itoa(r.ClosedCount),
		}
		if err := w.Write(rec); err != nil {
			return eris.Wrapf(err, "aggregate: write row %s", r.Region)
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "aggregate: flush")
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
