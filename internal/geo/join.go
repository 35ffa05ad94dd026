package geo

import (
	"go.uber.org/zap"

	"github.com/sells-group/needscore/internal/model"
)

// JoinStats summarizes a spatial join.
type JoinStats struct {
	Total     int `json:"total"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	Unlocated int `json:"unlocated"`
}

// Join assigns each record to at most one region. Records with missing,
// non-finite, or out-of-range coordinates are returned unlocated without
// querying the locator. Input records are not modified.
func Join(records []model.Record, loc Locator) []model.JoinedRecord {
	out, _ := JoinWithStats(records, loc)
	return out
}

// JoinWithStats is Join plus match counts.
func JoinWithStats(records []model.Record, loc Locator) ([]model.JoinedRecord, JoinStats) {
	out := make([]model.JoinedRecord, len(records))
	stats := JoinStats{Total: len(records)}

	for i, rec := range records {
		out[i] = model.JoinedRecord{Record: rec}
		if !rec.HasValidCoordinates() {
			stats.Unlocated++
			continue
		}
		out[i].Located = true
		if name, ok := loc.Query(rec.Latitude, rec.Longitude); ok {
			out[i].Region = name
			stats.Matched++
		} else {
			stats.Unmatched++
		}
	}

	if stats.Unlocated > 0 {
		zap.L().Debug("geo: records without usable coordinates",
			zap.Int("unlocated", stats.Unlocated),
			zap.Int("total", stats.Total),
		)
	}

	return out, stats
}
