// Package source stores service requests and serves them to the hotspot
// engine as points. Postgres and SQLite stores are read/write; a CSV export
// can also be served read-only from memory.
package source

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"github.com/sells-group/hotspots/internal/hotspot"
)

// Table is the service request table shared by the SQL stores.
const Table = "service_requests"

// Record is one service request as persisted. Coordinates are both set or
// both nil; a nil pair means the request was never geocoded.
type Record struct {
	ID          string
	Category    string
	Status      string
	Ward        string
	RequestedAt *time.Time
	ClosedAt    *time.Time
	Latitude    *float64
	Longitude   *float64
}

// Point converts r into an engine point. ok is false for records the
// engine must never see: ungeocoded, undated or uncategorized.
func (r Record) Point() (p hotspot.Point, ok bool) {
	if r.Category == "" || r.RequestedAt == nil || r.Latitude == nil || r.Longitude == nil {
		return hotspot.Point{}, false
	}
	return hotspot.Point{
		Category:   r.Category,
		OccurredAt: r.RequestedAt.UTC(),
		Latitude:   *r.Latitude,
		Longitude:  *r.Longitude,
	}, true
}

// TypeCount is a request count for one category.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// DateRange spans the dated requests in a store.
type DateRange struct {
	Min   *time.Time `json:"min"`
	Max   *time.Time `json:"max"`
	Count int        `json:"count"`
}

// Coverage reports how many requests of a category carry coordinates.
type Coverage struct {
	Type     string  `json:"type"`
	Total    int     `json:"total"`
	Geocoded int     `json:"geocoded"`
	Ratio    float64 `json:"ratio"`
}

// Analytics answers the plain reporting queries served next to hotspots.
type Analytics interface {
	TopTypes(ctx context.Context, w hotspot.Window, limit int) ([]TypeCount, error)
	DateRange(ctx context.Context) (DateRange, error)
	Coverage(ctx context.Context) ([]Coverage, error)
}

// Reader is a point source with reporting queries and a health probe.
type Reader interface {
	hotspot.PointSource
	Analytics
	Ping(ctx context.Context) error
	Close() error
}

// Store is a Reader that can also create its schema and load records.
type Store interface {
	Reader
	Migrate(ctx context.Context) error
	Upsert(ctx context.Context, records []Record) (int64, error)
}

// Top-types limit bounds.
const (
	DefaultTopTypes = 10
	MaxTopTypes     = 50
)

// ClampLimit bounds a top-types limit to [1, MaxTopTypes].
func ClampLimit(n int) int {
	return max(1, min(n, MaxTopTypes))
}

func coverageOf(category string, total, geocoded int) Coverage {
	c := Coverage{Type: category, Total: total, Geocoded: geocoded}
	if total > 0 {
		c.Ratio = math.Round(float64(geocoded)/float64(total)*10000) / 10000
	}
	return c
}

// sortRecords orders records by request time then id, undated last, which
// is the order every store returns points in.
func sortRecords(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		switch {
		case a.RequestedAt == nil && b.RequestedAt == nil:
			return cmp.Compare(a.ID, b.ID)
		case a.RequestedAt == nil:
			return 1
		case b.RequestedAt == nil:
			return -1
		}
		return cmp.Or(a.RequestedAt.Compare(*b.RequestedAt), cmp.Compare(a.ID, b.ID))
	})
}

// dedupeByID collapses records sharing a request id into the last one
// seen, at the position of the first.
func dedupeByID(records []Record) []Record {
	seen := make(map[string]int, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if i, ok := seen[r.ID]; ok {
			out[i] = r
			continue
		}
		seen[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}
