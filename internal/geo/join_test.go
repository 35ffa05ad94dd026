package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/needscore/internal/model"
)

// countingLocator records how often it is queried.
type countingLocator struct {
	inner Locator
	calls int
}

func (c *countingLocator) Query(lat, lon float64) (string, bool) {
	c.calls++
	return c.inner.Query(lat, lon)
}

func rec(id int64, lon, lat float64) model.Record {
	return model.Record{ID: id, Longitude: lon, Latitude: lat, Status: model.StatusOpen}
}

func TestJoin_Scenario(t *testing.T) {
	idx, err := NewIndex(scenarioRegions())
	require.NoError(t, err)

	records := []model.Record{
		rec(1, 5, 5),
		rec(2, 6, 6),
		rec(3, 15, 5),
		rec(4, 25, 25),
	}

	joined, stats := JoinWithStats(records, idx)
	require.Len(t, joined, 4)

	assert.Equal(t, "R1", joined[0].Region)
	assert.Equal(t, "R1", joined[1].Region)
	assert.Equal(t, "R2", joined[2].Region)
	assert.Equal(t, "", joined[3].Region)
	for _, j := range joined {
		assert.True(t, j.Located)
	}

	assert.Equal(t, JoinStats{Total: 4, Matched: 3, Unmatched: 1}, stats)
}

func TestJoin_InvalidCoordinatesSkipIndex(t *testing.T) {
	idx, err := NewIndex(scenarioRegions())
	require.NoError(t, err)
	loc := &countingLocator{inner: idx}

	records := []model.Record{
		rec(1, math.NaN(), 5),
		rec(2, 5, math.NaN()),
		rec(3, 5, 95),
		rec(4, -181, 5),
		rec(5, math.Inf(1), 5),
		rec(6, 5, 5),
	}

	joined := Join(records, loc)
	require.Len(t, joined, len(records))

	for _, j := range joined[:5] {
		assert.False(t, j.Located, "record %d", j.Record.ID)
		assert.Empty(t, j.Region)
	}
	assert.True(t, joined[5].Matched())
	assert.Equal(t, 1, loc.calls, "only the valid record reaches the index")
}

func TestJoin_DoesNotMutateInput(t *testing.T) {
	idx, err := NewIndex(scenarioRegions())
	require.NoError(t, err)

	records := []model.Record{rec(1, 5, 5), rec(2, 25, 25)}
	before := append([]model.Record(nil), records...)

	_ = Join(records, idx)
	assert.Equal(t, before, records)
}

func TestJoin_Empty(t *testing.T) {
	idx, err := NewIndex(scenarioRegions())
	require.NoError(t, err)

	joined := Join(nil, idx)
	assert.Empty(t, joined)
}
