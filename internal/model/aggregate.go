package model

// Unmatched is the reserved region name for located records that fall
// inside no declared region.
const Unmatched = "unmatched"

// AggregateRow holds the need indicators for one region.
type AggregateRow struct {
	Region      string         `json:"region_name"`
	ReqCount    int            `json:"req_count"`
	ReqNorm     float64        `json:"req_norm"`
	AvgResTime  *float64       `json:"avg_res_time,omitempty"` // hours; nil when no record in the region resolved
	RiskScore   *float64       `json:"risk_score,omitempty"`   // set only by inference
	OpenCount   int            `json:"open_count"`
	ClosedCount int            `json:"closed_count"`
	Categories  map[string]int `json:"categories,omitempty"`
}

// IsUnmatched reports whether the row is the unmatched bucket.
func (a AggregateRow) IsUnmatched() bool {
	return a.Region == Unmatched
}

// Clone returns a deep copy of the row.
func (a AggregateRow) Clone() AggregateRow {
	out := a
	if a.AvgResTime != nil {
		v := *a.AvgResTime
		out.AvgResTime = &v
	}
	if a.RiskScore != nil {
		v := *a.RiskScore
		out.RiskScore = &v
	}
	if a.Categories != nil {
		out.Categories = make(map[string]int, len(a.Categories))
		for k, v := range a.Categories {
			out.Categories[k] = v
		}
	}
	return out
}

// CloneRows deep-copies a slice of rows.
func CloneRows(rows []AggregateRow) []AggregateRow {
	if rows == nil {
		return nil
	}
	out := make([]AggregateRow, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
