package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/needscore/internal/geo"
	"github.com/sells-group/needscore/internal/ingest"
	"github.com/sells-group/needscore/internal/model"
)

type constScorer struct {
	p     float64
	calls int
}

func (s *constScorer) Score(rows []model.AggregateRow) []model.AggregateRow {
	s.calls++
	out := model.CloneRows(rows)
	for i := range out {
		p := s.p
		out[i].RiskScore = &p
	}
	return out
}

func testIndex(t *testing.T) *geo.Index {
	t.Helper()
	idx, err := geo.NewIndex([]model.Region{
		{Name: "R1", Boundary: []model.Point{{Lon: 0, Lat: 0}, {Lon: 10, Lat: 0}, {Lon: 10, Lat: 10}, {Lon: 0, Lat: 10}}},
		{Name: "R2", Boundary: []model.Point{{Lon: 10, Lat: 0}, {Lon: 20, Lat: 0}, {Lon: 20, Lat: 10}, {Lon: 10, Lat: 10}}},
	})
	require.NoError(t, err)
	return idx
}

func day(d int) *time.Time {
	v := time.Date(2025, 10, d, 12, 0, 0, 0, time.UTC)
	return &v
}

func testRecords() []model.Record {
	return []model.Record{
		{ID: 1, Longitude: 5, Latitude: 5, CreatedAt: day(1), Category: "Noise", Status: model.StatusOpen},
		{ID: 2, Longitude: 6, Latitude: 6, CreatedAt: day(2), Category: "Noise", Status: model.StatusOpen},
		{ID: 3, Longitude: 15, Latitude: 5, CreatedAt: day(3), Category: "Pothole", Status: model.StatusClosed},
		{ID: 4, Longitude: 25, Latitude: 25, CreatedAt: day(4), Category: "Graffiti", Status: model.StatusOpen},
		{ID: 5, Longitude: math.NaN(), Latitude: 5, CreatedAt: day(5), Category: "Noise", Status: model.StatusOpen},
	}
}

func TestRun_Unscored(t *testing.T) {
	res, err := Run(testRecords(), testIndex(t), Options{})
	require.NoError(t, err)

	require.Len(t, res.Rows, 3)
	assert.Equal(t, "R1", res.Rows[0].Region)
	assert.Equal(t, 2, res.Rows[0].ReqCount)
	assert.InDelta(t, 1.0, res.Rows[0].ReqNorm, 1e-6)
	assert.Equal(t, 1, res.Rows[1].ReqCount)
	assert.Equal(t, model.Unmatched, res.Rows[2].Region)

	assert.Equal(t, 5, res.Selected)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, geo.JoinStats{Total: 5, Matched: 3, Unmatched: 1, Unlocated: 1}, res.Join)
	assert.False(t, res.Scored)
	for _, r := range res.Rows {
		assert.Nil(t, r.RiskScore)
	}
	assert.Equal(t, 5, res.Summary.Records)

	var names []string
	for _, p := range res.Phases {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{PhaseFilter, PhaseJoin, PhaseAggregate, PhaseNormalize}, names)
}

func TestRun_Window(t *testing.T) {
	res, err := Run(testRecords(), testIndex(t), Options{
		Window: ingest.Window{From: day(2), To: day(3)},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Selected)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, 1, res.Rows[0].ReqCount)
	assert.Equal(t, 1, res.Rows[1].ReqCount)
	assert.Zero(t, res.Rows[0].ReqNorm)
	assert.Zero(t, res.Rows[1].ReqNorm)
}

func TestRun_Scored(t *testing.T) {
	scorer := &constScorer{p: 0.25}
	res, err := Run(testRecords(), testIndex(t), Options{Scorer: scorer})
	require.NoError(t, err)

	assert.True(t, res.Scored)
	assert.Equal(t, 1, scorer.calls)
	for _, r := range res.Rows {
		require.NotNil(t, r.RiskScore)
		assert.InDelta(t, 0.25, *r.RiskScore, 1e-12)
	}
	assert.Equal(t, PhaseScore, res.Phases[len(res.Phases)-1].Name)
}

func TestRun_Deterministic(t *testing.T) {
	idx := testIndex(t)
	records := testRecords()

	a, err := Run(records, idx, Options{})
	require.NoError(t, err)
	b, err := Run(records, idx, Options{})
	require.NoError(t, err)
	assert.Equal(t, a.Rows, b.Rows)
	assert.Equal(t, a.Summary, b.Summary)
}

func TestRun_NilIndex(t *testing.T) {
	_, err := Run(testRecords(), nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region index is required")
}

func TestRun_Empty(t *testing.T) {
	res, err := Run(nil, testIndex(t), Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Zero(t, res.Skipped)
}
