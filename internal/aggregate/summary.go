package aggregate

import (
	"sort"

	"github.com/sells-group/needscore/internal/model"
)

const unknownCategory = "Unknown"

// Count is one bucket of a frequency table.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Summary is the dashboard-level overview of a record set.
type Summary struct {
	Records     int      `json:"records"`
	Located     int      `json:"located"`
	Matched     int      `json:"matched"`
	Categories  []Count  `json:"categories"`
	Statuses    []Count  `json:"statuses"`
	MeanResTime *float64 `json:"mean_res_time,omitempty"` // hours
}

// CategoryCounts tallies records by complaint category. Blank categories
// are reported under "Unknown".
func CategoryCounts(records []model.Record) []Count {
	m := make(map[string]int)
	for _, r := range records {
		key := r.Category
		if key == "" {
			key = unknownCategory
		}
		m[key]++
	}
	return sortCounts(m)
}

// StatusCounts tallies records by status.
func StatusCounts(records []model.Record) []Count {
	m := make(map[string]int)
	for _, r := range records {
		status := r.Status
		if status == "" {
			status = model.StatusUnknown
		}
		m[string(status)]++
	}
	return sortCounts(m)
}

// Summarize builds the overview for a joined record set.
func Summarize(joined []model.JoinedRecord) Summary {
	records := make([]model.Record, len(joined))
	s := Summary{Records: len(joined)}

	var sum float64
	var n int
	for i, j := range joined {
		records[i] = j.Record
		if j.Located {
			s.Located++
		}
		if j.Matched() {
			s.Matched++
		}
		if h, ok := j.Record.ResolutionHours(); ok {
			sum += h
			n++
		}
	}
	if n > 0 {
		mean := sum / float64(n)
		s.MeanResTime = &mean
	}
	s.Categories = CategoryCounts(records)
	s.Statuses = StatusCounts(records)
	return s
}

// sortCounts orders buckets by count descending, then key ascending.
func sortCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
