package ingest

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/needscore/internal/model"
)

// Window selects records by creation time. Both bounds are inclusive; a
// nil bound is open.
type Window struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// IsZero reports whether the window has no bounds.
func (w Window) IsZero() bool {
	return w.From == nil && w.To == nil
}

// Contains reports whether t falls inside the window. A nil t is outside
// any bounded window.
func (w Window) Contains(t *time.Time) bool {
	if w.IsZero() {
		return true
	}
	if t == nil {
		return false
	}
	if w.From != nil && t.Before(*w.From) {
		return false
	}
	if w.To != nil && t.After(*w.To) {
		return false
	}
	return true
}

// Filter returns the records whose CreatedAt falls inside w. The input is
// not modified; an unbounded window returns the input slice unchanged.
func (w Window) Filter(records []model.Record) []model.Record {
	if w.IsZero() {
		return records
	}
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		if w.Contains(r.CreatedAt) {
			out = append(out, r)
		}
	}
	return out
}

// ParseWindow builds a window from textual bounds. Each bound is RFC 3339
// or YYYY-MM-DD and may be empty; a date-only "to" covers the whole day.
func ParseWindow(from, to string) (Window, error) {
	var w Window

	if s := strings.TrimSpace(from); s != "" {
		t, _, err := parseBound(s)
		if err != nil {
			return w, eris.Wrap(err, "ingest: invalid from")
		}
		w.From = &t
	}
	if s := strings.TrimSpace(to); s != "" {
		t, dateOnly, err := parseBound(s)
		if err != nil {
			return w, eris.Wrap(err, "ingest: invalid to")
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		w.To = &t
	}
	if w.From != nil && w.To != nil && w.From.After(*w.To) {
		return w, eris.New("ingest: from must not be after to")
	}
	return w, nil
}

func parseBound(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, eris.Errorf("%q is not RFC 3339 or YYYY-MM-DD", s)
	}
	return t, false, nil
}
