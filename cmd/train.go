package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/needscore/internal/aggregate"
	"github.com/sells-group/needscore/internal/config"
	"github.com/sells-group/needscore/internal/geo"
	"github.com/sells-group/needscore/internal/model"
	"github.com/sells-group/needscore/internal/risk"
	"github.com/sells-group/needscore/internal/store"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the high-need risk model on all historical records",
	Long:  "Aggregates every record per region, labels regions above the median request count as high need, trains a random forest, and writes the model artifact.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if seed, _ := cmd.Flags().GetUint64("seed"); cmd.Flags().Changed("seed") {
			cfg.Train.Seed = seed
		}
		if out, _ := cmd.Flags().GetString("out"); out != "" {
			cfg.Model.Path = out
		}
		if err := cfg.Validate("train"); err != nil {
			return err
		}
		return runTrain(cmd.Context(), cfg, os.Stdout)
	},
}

func init() {
	trainCmd.Flags().Uint64("seed", 0, "random seed (default from config)")
	trainCmd.Flags().String("out", "", "artifact path (default from config)")
	rootCmd.AddCommand(trainCmd)
}

// runTrain trains on the full history and persists the artifact. The
// ledger entry is best effort: a failure there is logged, not returned.
func runTrain(ctx context.Context, c *config.Config, out io.Writer) error {
	in, err := loadInputs(ctx, c)
	if err != nil {
		return err
	}

	agg := aggregate.Aggregate(geo.Join(in.records, in.index))
	rows := aggregate.Normalize(agg.Rows)

	m, report, err := risk.Train(rows, risk.Options{
		Schema:      c.Model.Features,
		Seed:        c.Train.Seed,
		ValFraction: c.Train.ValFraction,
		Trees:       c.Train.Trees,
		MaxDepth:    c.Train.MaxDepth,
		MinLeaf:     c.Train.MinLeaf,
	})
	if err != nil {
		if risk.IsInsufficientData(err) {
			return err
		}
		return eris.Wrap(err, "train")
	}

	_, _ = fmt.Fprintf(out, "Train accuracy: %.4f (%d rows)\n", report.TrainAccuracy, report.TrainRows)
	_, _ = fmt.Fprintf(out, "Validation accuracy: %.4f (%d rows)\n", report.ValAccuracy, report.ValRows)

	if err := risk.Save(c.Model.Path, m); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Model %s written to %s\n", m.Metadata.ID, c.Model.Path)

	if agg.Skipped > 0 {
		zap.L().Warn("train: records without usable coordinates were skipped", zap.Int("skipped", agg.Skipped))
	}

	recordRun(ctx, c, m, rows)
	return nil
}

func recordRun(ctx context.Context, c *config.Config, m *risk.Model, rows []model.AggregateRow) {
	log := zap.L().With(zap.String("model_id", m.Metadata.ID))

	st, err := initStore(ctx, c)
	if err != nil {
		log.Warn("train: ledger unavailable", zap.Error(err))
		return
	}
	if st == nil {
		return
	}
	defer st.Close() //nolint:errcheck

	run := store.NewTrainingRun(m, rows, c.Model.Path)
	run.RecordFile = c.Data.Records
	run.RegionFile = c.Data.Regions
	if err := st.RecordTrainingRun(ctx, run); err != nil {
		log.Warn("train: record training run", zap.Error(err))
		return
	}
	log.Info("train: training run recorded", zap.String("run_id", run.ID))
}
