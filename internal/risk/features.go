package risk

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/needscore/internal/model"
)

// Feature names understood by Features.
const (
	FeatureReqCount    = "req_count"
	FeatureAvgResTime  = "avg_res_time"
	FeatureReqNorm     = "req_norm"
	FeatureOpenCount   = "open_count"
	FeatureClosedCount = "closed_count"
)

// DefaultSchema is the feature order used when none is configured.
var DefaultSchema = []string{FeatureReqCount, FeatureAvgResTime}

// featureValue extracts a single named feature. A missing value (no
// resolved records for avg_res_time) is 0.
func featureValue(row model.AggregateRow, name string) (float64, error) {
	switch name {
	case FeatureReqCount:
		return float64(row.ReqCount), nil
	case FeatureAvgResTime:
		if row.AvgResTime == nil {
			return 0, nil
		}
		return *row.AvgResTime, nil
	case FeatureReqNorm:
		return row.ReqNorm, nil
	case FeatureOpenCount:
		return float64(row.OpenCount), nil
	case FeatureClosedCount:
		return float64(row.ClosedCount), nil
	default:
		return 0, eris.Errorf("risk: unknown feature %q", name)
	}
}

// ValidateSchema checks that every feature is known and appears once.
func ValidateSchema(schema []string) error {
	if len(schema) == 0 {
		return eris.New("risk: feature schema is empty")
	}
	seen := make(map[string]bool, len(schema))
	for _, name := range schema {
		if _, err := featureValue(model.AggregateRow{}, name); err != nil {
			return err
		}
		if seen[name] {
			return eris.Errorf("risk: feature %q listed twice", name)
		}
		seen[name] = true
	}
	return nil
}

// Features builds one vector per row in schema order.
func Features(rows []model.AggregateRow, schema []string) ([][]float64, error) {
	if err := ValidateSchema(schema); err != nil {
		return nil, err
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		vec := make([]float64, len(schema))
		for j, name := range schema {
			vec[j], _ = featureValue(row, name)
		}
		out[i] = vec
	}
	return out, nil
}

// Labels assigns 1 to rows whose req_count exceeds the median req_count of
// the set, 0 otherwise.
func Labels(rows []model.AggregateRow) []int {
	labels := make([]int, len(rows))
	if len(rows) == 0 {
		return labels
	}
	med := median(rows)
	for i, r := range rows {
		if float64(r.ReqCount) > med {
			labels[i] = 1
		}
	}
	return labels
}

func median(rows []model.AggregateRow) float64 {
	counts := make([]int, len(rows))
	for i, r := range rows {
		counts[i] = r.ReqCount
	}
	sort.Ints(counts)
	n := len(counts)
	if n%2 == 1 {
		return float64(counts[n/2])
	}
	return float64(counts[n/2-1]+counts[n/2]) / 2
}
