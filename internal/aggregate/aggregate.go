// Package aggregate groups spatially joined records by region and derives
// the per-region need indicators (request volume, normalized need score,
// mean resolution time, status and category breakdowns).
package aggregate

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/needscore/internal/model"
)

// Epsilon keeps the min-max normalization finite when every count is equal.
const Epsilon = 1e-9

// Result is the output of Aggregate.
type Result struct {
	Rows    []model.AggregateRow `json:"rows"`
	Skipped int                  `json:"skipped"` // records with unusable coordinates
}

// Matched returns the rows that belong to declared regions.
func (r Result) Matched() []model.AggregateRow {
	out := make([]model.AggregateRow, 0, len(r.Rows))
	for _, row := range r.Rows {
		if !row.IsUnmatched() {
			out = append(out, row)
		}
	}
	return out
}

// Total returns the summed ReqCount over every row, unmatched included.
func (r Result) Total() int {
	var n int
	for _, row := range r.Rows {
		n += row.ReqCount
	}
	return n
}

type accumulator struct {
	count    int
	resSum   float64
	resN     int
	open     int
	closed   int
	category map[string]int
}

// Aggregate groups located records by region. Records with an empty region
// go to the unmatched bucket; unlocated records are counted in Skipped and
// appear in no row. Rows are sorted by region name and carry ReqNorm = 0;
// call Normalize to fill it.
func Aggregate(joined []model.JoinedRecord) Result {
	groups := make(map[string]*accumulator)
	var skipped int

	for _, j := range joined {
		if !j.Located {
			skipped++
			continue
		}
		key := j.Region
		if key == "" {
			key = model.Unmatched
		}
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{category: make(map[string]int)}
			groups[key] = acc
		}

		acc.count++
		if h, ok := j.Record.ResolutionHours(); ok {
			acc.resSum += h
			acc.resN++
		}
		switch j.Record.Status {
		case model.StatusOpen:
			acc.open++
		case model.StatusClosed:
			acc.closed++
		}
		if j.Record.Category != "" {
			acc.category[j.Record.Category]++
		}
	}

	rows := make([]model.AggregateRow, 0, len(groups))
	for name, acc := range groups {
		row := model.AggregateRow{
			Region:      name,
			ReqCount:    acc.count,
			OpenCount:   acc.open,
			ClosedCount: acc.closed,
			Categories:  acc.category,
		}
		if acc.resN > 0 {
			avg := acc.resSum / float64(acc.resN)
			row.AvgResTime = &avg
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Region < rows[j].Region })

	if skipped > 0 {
		zap.L().Debug("aggregate: skipped unlocated records", zap.Int("skipped", skipped))
	}
	return Result{Rows: rows, Skipped: skipped}
}

// Normalize returns a copy of rows with ReqNorm set by min-max scaling over
// the matched rows. The unmatched row keeps ReqNorm = 0 and does not
// contribute to the min or max.
func Normalize(rows []model.AggregateRow) []model.AggregateRow {
	out := model.CloneRows(rows)

	first := true
	var lo, hi int
	for _, r := range out {
		if r.IsUnmatched() {
			continue
		}
		if first || r.ReqCount < lo {
			lo = r.ReqCount
		}
		if first || r.ReqCount > hi {
			hi = r.ReqCount
		}
		first = false
	}

	span := float64(hi-lo) + Epsilon
	for i := range out {
		if out[i].IsUnmatched() {
			out[i].ReqNorm = 0
			continue
		}
		out[i].ReqNorm = float64(out[i].ReqCount-lo) / span
	}
	return out
}
