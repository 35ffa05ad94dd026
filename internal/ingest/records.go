// Package ingest loads complaint record tables (CSV or XLSX) into
// model.Records.
package ingest

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/needscore/internal/fetcher"
	"github.com/sells-group/needscore/internal/model"
)

// Column names of the record table.
const (
	ColUniqueKey     = "unique_key"
	ColCreatedDate   = "created_date"
	ColClosedDate    = "closed_date"
	ColComplaintType = "complaint_type"
	ColStatus        = "status"
	ColLatitude      = "latitude"
	ColLongitude     = "longitude"
	ColBorough       = "borough"
)

// requiredColumns must be present in the header; closed_date and borough may be absent.
var requiredColumns = []string{
	ColUniqueKey, ColCreatedDate, ColComplaintType, ColStatus, ColLatitude, ColLongitude,
}

// timeLayouts are tried in order when parsing created/closed dates.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 03:04:05 PM",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"2006-01-02",
}

// Options configures record loading.
type Options struct {
	Charset string // CSV source encoding; empty = UTF-8
	Sheet   string // XLSX sheet name; empty = first sheet
}

// Stats summarizes per-row defects absorbed during loading.
type Stats struct {
	Rows              int `json:"rows"`
	BadTimestamps     int `json:"bad_timestamps"`
	MissingCoordinate int `json:"missing_coordinates"`
}

// LoadRecords reads a record table from path (.csv or .xlsx). Unparsable
// timestamps become nil and unparsable coordinates NaN. A missing
// required column or an unparsable or duplicate unique_key fails the
// whole load.
func LoadRecords(ctx context.Context, path string, opts Options) ([]model.Record, Stats, error) {
	var (
		rowCh <-chan []string
		errCh <-chan error
	)

	headerCh := make(chan []string, 1)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, Stats{}, eris.Wrap(err, "ingest: open record file")
		}
		defer f.Close() //nolint:errcheck
		rowCh, errCh = fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{
			HasHeader: true,
			HeaderCh:  headerCh,
			TrimSpace: true,
			Charset:   opts.Charset,
		})
	case ".xlsx":
		rowCh, errCh = fetcher.StreamXLSX(ctx, path, fetcher.XLSXOptions{
			SheetName: opts.Sheet,
			SkipRows:  1,
			HeaderCh:  headerCh,
		})
	default:
		return nil, Stats{}, eris.Errorf("ingest: unsupported record file extension %q", ext)
	}

	records, stats, err := parseRows(headerCh, rowCh, errCh)
	if err != nil {
		return nil, stats, err
	}

	zap.L().Info("records loaded",
		zap.String("path", path),
		zap.Int("records", len(records)),
		zap.Int("bad_timestamps", stats.BadTimestamps),
		zap.Int("missing_coordinates", stats.MissingCoordinate),
	)
	return records, stats, nil
}

// drain consumes the remaining rows so the producer goroutine can exit.
func drain(rowCh <-chan []string) {
	for range rowCh {
	}
}

func parseRows(headerCh <-chan []string, rowCh <-chan []string, errCh <-chan error) ([]model.Record, Stats, error) {
	var (
		records []model.Record
		stats   Stats
		cols    map[string]int
		seen    = make(map[int64]int)
	)

	for row := range rowCh {
		if cols == nil {
			var header []string
			select {
			case header = <-headerCh:
			default:
			}
			var err error
			if cols, err = columnIndex(header); err != nil {
				drain(rowCh)
				return nil, stats, err
			}
		}

		stats.Rows++
		line := stats.Rows + 1 // 1-based, after the header

		rec, badTS, err := parseRecord(row, cols)
		if err != nil {
			drain(rowCh)
			return nil, stats, eris.Wrapf(err, "ingest: row %d", line)
		}
		if prev, dup := seen[rec.ID]; dup {
			drain(rowCh)
			return nil, stats, eris.Errorf("ingest: row %d: duplicate unique_key %d (first seen on row %d)", line, rec.ID, prev)
		}
		seen[rec.ID] = line

		stats.BadTimestamps += badTS
		if !rec.HasValidCoordinates() {
			stats.MissingCoordinate++
		}
		records = append(records, rec)
	}

	if err := <-errCh; err != nil {
		return nil, stats, eris.Wrap(err, "ingest: read records")
	}

	if cols == nil {
		// Header-only or empty file: still validate whatever header arrived.
		var header []string
		select {
		case header = <-headerCh:
		default:
		}
		if header == nil {
			return nil, stats, eris.New("ingest: record file is empty")
		}
		if _, err := columnIndex(header); err != nil {
			return nil, stats, err
		}
	}

	return records, stats, nil
}

func columnIndex(header []string) (map[string]int, error) {
	if header == nil {
		return nil, eris.New("ingest: record file has no header row")
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("ingest: record file missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func field(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseRecord converts one row. It returns the number of timestamp fields
// that were present but unparsable.
func parseRecord(row []string, cols map[string]int) (model.Record, int, error) {
	rawKey := field(row, cols, ColUniqueKey)
	id, err := strconv.ParseInt(rawKey, 10, 64)
	if err != nil {
		return model.Record{}, 0, eris.Errorf("unparsable unique_key %q", rawKey)
	}

	rec := model.Record{
		ID:        id,
		Category:  field(row, cols, ColComplaintType),
		Status:    model.ParseStatus(field(row, cols, ColStatus)),
		Latitude:  parseCoordinate(field(row, cols, ColLatitude)),
		Longitude: parseCoordinate(field(row, cols, ColLongitude)),
		Borough:   field(row, cols, ColBorough),
	}

	var bad int
	if raw := field(row, cols, ColCreatedDate); !isNull(raw) {
		if rec.CreatedAt = ParseTimestamp(raw); rec.CreatedAt == nil {
			bad++
		}
	}
	if raw := field(row, cols, ColClosedDate); !isNull(raw) {
		if rec.ClosedAt = ParseTimestamp(raw); rec.ClosedAt == nil {
			bad++
		}
	}
	return rec, bad, nil
}

// isNull reports whether s is blank or a null marker written by dataframe exports.
func isNull(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nat", "nan", "null", "none":
		return true
	}
	return false
}

func parseCoordinate(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// ParseTimestamp parses s with the supported layouts, returning nil when
// none match. Values without a zone are taken as UTC.
func ParseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if isNull(s) {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
