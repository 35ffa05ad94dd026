// Package pipeline runs one pass of the need-score chain: window filter,
// spatial join, aggregation, normalization and optional risk scoring.
package pipeline

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/needscore/internal/aggregate"
	"github.com/sells-group/needscore/internal/geo"
	"github.com/sells-group/needscore/internal/ingest"
	"github.com/sells-group/needscore/internal/model"
)

// Phase names recorded in Result.Phases.
const (
	PhaseFilter    = "filter"
	PhaseJoin      = "join"
	PhaseAggregate = "aggregate"
	PhaseNormalize = "normalize"
	PhaseScore     = "score"
)

// Scorer assigns risk scores to aggregate rows without mutating them.
type Scorer interface {
	Score(rows []model.AggregateRow) []model.AggregateRow
}

// Options configures a run.
type Options struct {
	Window ingest.Window
	Scorer Scorer // nil leaves rows unscored
}

// PhaseResult records the timing of one phase.
type PhaseResult struct {
	Name     string `json:"name"`
	Duration int64  `json:"duration_ms"`
}

// Result is the output of a run.
type Result struct {
	Rows     []model.AggregateRow `json:"rows"`
	Join     geo.JoinStats        `json:"join"`
	Skipped  int                  `json:"skipped"`
	Selected int                  `json:"selected"` // records inside the window
	Scored   bool                 `json:"scored"`
	Summary  aggregate.Summary    `json:"summary"`
	Phases   []PhaseResult        `json:"phases"`
}

// Run recomputes the aggregate set from scratch for the records inside
// opts.Window. The same inputs always yield the same rows.
func Run(records []model.Record, idx geo.Locator, opts Options) (Result, error) {
	if idx == nil {
		return Result{}, eris.New("pipeline: region index is required")
	}

	log := zap.L().With(zap.String("component", "pipeline"))
	var res Result

	track := func(name string, fn func()) {
		start := time.Now()
		fn()
		res.Phases = append(res.Phases, PhaseResult{Name: name, Duration: time.Since(start).Milliseconds()})
	}

	var selected []model.Record
	track(PhaseFilter, func() {
		selected = opts.Window.Filter(records)
	})
	res.Selected = len(selected)

	var joined []model.JoinedRecord
	track(PhaseJoin, func() {
		joined, res.Join = geo.JoinWithStats(selected, idx)
	})

	var agg aggregate.Result
	track(PhaseAggregate, func() {
		agg = aggregate.Aggregate(joined)
		res.Summary = aggregate.Summarize(joined)
	})
	res.Skipped = agg.Skipped

	track(PhaseNormalize, func() {
		res.Rows = aggregate.Normalize(agg.Rows)
	})

	if opts.Scorer != nil {
		track(PhaseScore, func() {
			res.Rows = opts.Scorer.Score(res.Rows)
		})
		res.Scored = true
	}

	log.Info("pipeline: run complete",
		zap.Int("records", len(records)),
		zap.Int("selected", res.Selected),
		zap.Int("regions", len(res.Rows)),
		zap.Int("matched", res.Join.Matched),
		zap.Int("unmatched", res.Join.Unmatched),
		zap.Int("skipped", res.Skipped),
		zap.Bool("scored", res.Scored),
	)
	return res, nil
}
