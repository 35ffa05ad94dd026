package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/needscore/internal/model"
)

func TestWindow_Filter(t *testing.T) {
	day := func(d int) *time.Time {
		v := time.Date(2025, 10, d, 0, 0, 0, 0, time.UTC)
		return &v
	}

	records := []model.Record{
		{ID: 1, CreatedAt: day(1)},
		{ID: 2, CreatedAt: day(5)},
		{ID: 3, CreatedAt: day(10)},
		{ID: 4},
	}

	tests := []struct {
		name string
		w    Window
		want []int64
	}{
		{"unbounded keeps everything", Window{}, []int64{1, 2, 3, 4}},
		{"inclusive bounds", Window{From: day(1), To: day(5)}, []int64{1, 2}},
		{"from only", Window{From: day(5)}, []int64{2, 3}},
		{"to only", Window{To: day(4)}, []int64{1}},
		{"empty range", Window{From: day(6), To: day(9)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int64
			for _, r := range tt.w.Filter(records) {
				got = append(got, r.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWindow_Contains(t *testing.T) {
	now := time.Now()
	assert.True(t, Window{}.Contains(nil))
	assert.False(t, Window{From: &now}.Contains(nil))
	assert.True(t, Window{From: &now, To: &now}.Contains(&now))
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		wantFrom string
		wantTo   string
		errMsg   string
	}{
		{name: "empty", wantFrom: "", wantTo: ""},
		{name: "dates", from: "2025-03-01", to: "2025-03-02", wantFrom: "2025-03-01T00:00:00Z", wantTo: "2025-03-02T23:59:59.999999999Z"},
		{name: "rfc3339", from: "2025-03-01T08:00:00Z", to: "2025-03-01T09:00:00+01:00", wantFrom: "2025-03-01T08:00:00Z", wantTo: "2025-03-01T09:00:00+01:00"},
		{name: "same day", from: " 2025-03-01 ", to: "2025-03-01", wantFrom: "2025-03-01T00:00:00Z", wantTo: "2025-03-01T23:59:59.999999999Z"},
		{name: "bad from", from: "yesterday", errMsg: "ingest: invalid from"},
		{name: "bad to", to: "03/01/2025", errMsg: "ingest: invalid to"},
		{name: "reversed", from: "2025-03-02", to: "2025-03-01", errMsg: "ingest: from must not be after to"},
	}

	format := func(tm *time.Time) string {
		if tm == nil {
			return ""
		}
		return tm.Format(time.RFC3339Nano)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ParseWindow(tt.from, tt.to)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.True(t, strings.HasPrefix(err.Error(), tt.errMsg), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, format(w.From))
			assert.Equal(t, tt.wantTo, format(w.To))
		})
	}
}
