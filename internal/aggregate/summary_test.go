package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/needscore/internal/model"
)

func TestCategoryCounts(t *testing.T) {
	records := []model.Record{
		{Category: "Noise"}, {Category: "Pothole"}, {Category: "Noise"},
		{Category: "Graffiti"}, {Category: ""},
	}
	got := CategoryCounts(records)
	assert.Equal(t, []Count{
		{Key: "Noise", Count: 2},
		{Key: "Graffiti", Count: 1},
		{Key: "Pothole", Count: 1},
		{Key: "Unknown", Count: 1},
	}, got)
}

func TestStatusCounts(t *testing.T) {
	records := []model.Record{
		{Status: model.StatusOpen}, {Status: model.StatusClosed}, {Status: model.StatusOpen}, {},
	}
	got := StatusCounts(records)
	assert.Equal(t, []Count{
		{Key: "Open", Count: 2},
		{Key: "Closed", Count: 1},
		{Key: "Unknown", Count: 1},
	}, got)
}

func TestSummarize(t *testing.T) {
	created := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	closed := created.Add(4 * time.Hour)

	joined := []model.JoinedRecord{
		{Record: model.Record{Category: "Noise", Status: model.StatusClosed, CreatedAt: &created, ClosedAt: &closed}, Region: "A", Located: true},
		{Record: model.Record{Category: "Noise", Status: model.StatusOpen}, Located: true},
		{Record: model.Record{Category: "Pothole", Status: model.StatusOpen}},
	}
	s := Summarize(joined)

	assert.Equal(t, 3, s.Records)
	assert.Equal(t, 2, s.Located)
	assert.Equal(t, 1, s.Matched)
	require.NotNil(t, s.MeanResTime)
	assert.InDelta(t, 4.0, *s.MeanResTime, 1e-9)
	assert.Equal(t, Count{Key: "Noise", Count: 2}, s.Categories[0])
	assert.Equal(t, Count{Key: "Open", Count: 2}, s.Statuses[0])
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.Records)
	assert.Nil(t, s.MeanResTime)
	assert.Empty(t, s.Categories)
}
