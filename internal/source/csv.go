package source

import (
	"context"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hotspots/internal/fetcher"
	"github.com/sells-group/hotspots/internal/hotspot"
)

// Columns maps record fields to CSV header names.
type Columns struct {
	ID        string
	Status    string
	Type      string
	Opened    string
	Closed    string
	Latitude  string
	Longitude string
	Ward      string
}

// OttawaColumns are the bilingual headers of the City of Ottawa 311 export.
var OttawaColumns = Columns{
	ID:        "Service Request ID | Numéro de demande",
	Status:    "Status | État",
	Type:      "Type | Type",
	Opened:    "Opened Date | Date d'ouverture",
	Closed:    "Closed Date | Date de fermeture",
	Latitude:  "Latitude | Latitude",
	Longitude: "Longitude | Longitude",
	Ward:      "Ward | Quartier",
}

// CSVStats counts what ReadCSV did with each data row.
type CSVStats struct {
	Rows       int `json:"rows"`
	Skipped    int `json:"skipped"`
	Ungeocoded int `json:"ungeocoded"`
	Duplicates int `json:"duplicates"`
}

var csvTimeLayouts = []string{
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// ReadCSV parses a service request export. Rows without an id are
// skipped and a repeated id keeps its last row. Unparsable dates become
// nil, and a coordinate pair that is incomplete, non-finite or out of
// range is dropped as a whole.
func ReadCSV(ctx context.Context, r io.Reader, cols Columns) ([]Record, CSVStats, error) {
	var (
		stats   CSVStats
		records []Record
	)
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{LazyQuotes: true, TrimSpace: true})
	for row := range rowCh {
		stats.Rows++
		rec, ok := recordFromRow(row, cols)
		if !ok {
			stats.Skipped++
			continue
		}
		records = append(records, rec)
	}
	for err := range errCh {
		if err != nil {
			return nil, stats, eris.Wrap(err, "source: read csv")
		}
	}

	deduped := dedupeByID(records)
	stats.Duplicates = len(records) - len(deduped)
	for _, rec := range deduped {
		if rec.Latitude == nil {
			stats.Ungeocoded++
		}
	}
	return deduped, stats, nil
}

func recordFromRow(row fetcher.Row, cols Columns) (Record, bool) {
	id := row.Get(cols.ID)
	if id == "" {
		return Record{}, false
	}
	rec := Record{
		ID:          id,
		Category:    row.Get(cols.Type),
		Status:      row.Get(cols.Status),
		Ward:        row.Get(cols.Ward),
		RequestedAt: parseCSVTime(row.Get(cols.Opened)),
		ClosedAt:    parseCSVTime(row.Get(cols.Closed)),
	}
	lat, latOK := parseCoord(row.Get(cols.Latitude), 90)
	lon, lonOK := parseCoord(row.Get(cols.Longitude), 180)
	if latOK && lonOK {
		rec.Latitude, rec.Longitude = &lat, &lon
	}
	return rec, true
}

func parseCSVTime(s string) *time.Time {
	if t := hotspot.ParseTime(s); t != nil {
		return t
	}
	for _, layout := range csvTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}

func parseCoord(s string, limit float64) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > limit {
		return 0, false
	}
	return f, true
}

// Memory is a read-only Reader over records held in memory.
type Memory struct {
	records []Record
}

// NewMemory copies records, keeping the last of any repeated id, and
// orders them the way SQL stores return points.
func NewMemory(records []Record) *Memory {
	rs := dedupeByID(records)
	sortRecords(rs)
	return &Memory{records: rs}
}

// OpenCSV loads an export from path into a Memory store.
func OpenCSV(ctx context.Context, path string, cols Columns) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "source: open csv")
	}
	defer f.Close() //nolint:errcheck

	records, stats, err := ReadCSV(ctx, f, cols)
	if err != nil {
		return nil, err
	}
	zap.L().Info("loaded csv export",
		zap.String("path", path),
		zap.Int("rows", stats.Rows),
		zap.Int("skipped", stats.Skipped),
		zap.Int("ungeocoded", stats.Ungeocoded),
		zap.Int("duplicates", stats.Duplicates),
	)
	return NewMemory(records), nil
}

// Points returns geocoded records inside w, optionally for one category.
func (m *Memory) Points(ctx context.Context, w hotspot.Window, category string) ([]hotspot.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "source: memory points")
	}
	points := make([]hotspot.Point, 0)
	for _, r := range m.records {
		p, ok := r.Point()
		if !ok || !w.Contains(p.OccurredAt) {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

// TopTypes returns the most frequent categories among dated requests in w.
func (m *Memory) TopTypes(_ context.Context, w hotspot.Window, limit int) ([]TypeCount, error) {
	counts := make(map[string]int)
	for _, r := range m.records {
		if r.Category == "" || r.RequestedAt == nil || !w.Contains(*r.RequestedAt) {
			continue
		}
		counts[r.Category]++
	}
	out := make([]TypeCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, TypeCount{Type: name, Count: n})
	}
	slices.SortFunc(out, func(a, b TypeCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Type, b.Type)
	})
	if n := ClampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// DateRange returns the earliest and latest request times.
func (m *Memory) DateRange(context.Context) (DateRange, error) {
	var dr DateRange
	for _, r := range m.records {
		if r.RequestedAt == nil {
			continue
		}
		dr.Count++
		if dr.Min == nil || r.RequestedAt.Before(*dr.Min) {
			dr.Min = r.RequestedAt
		}
		if dr.Max == nil || r.RequestedAt.After(*dr.Max) {
			dr.Max = r.RequestedAt
		}
	}
	return dr, nil
}

// Coverage reports the geocoded share of each category.
func (m *Memory) Coverage(context.Context) ([]Coverage, error) {
	type tally struct{ total, geocoded int }
	tallies := make(map[string]*tally)
	for _, r := range m.records {
		if r.Category == "" {
			continue
		}
		t, ok := tallies[r.Category]
		if !ok {
			t = &tally{}
			tallies[r.Category] = t
		}
		t.total++
		if r.Latitude != nil && r.Longitude != nil {
			t.geocoded++
		}
	}
	out := make([]Coverage, 0, len(tallies))
	for name, t := range tallies {
		out = append(out, coverageOf(name, t.total, t.geocoded))
	}
	slices.SortFunc(out, func(a, b Coverage) int {
		if a.Total != b.Total {
			return b.Total - a.Total
		}
		return strings.Compare(a.Type, b.Type)
	})
	return out, nil
}

// Len returns the number of records held.
func (m *Memory) Len() int { return len(m.records) }

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
