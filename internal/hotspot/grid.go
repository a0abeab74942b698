package hotspot

import (
	"cmp"
	"math"
	"slices"
	"time"
)

// GridOptions configures a grid aggregation pass.
type GridOptions struct {
	// SizeMeters is the cell edge length, clamped to the grid bounds.
	SizeMeters float64

	// MinCount is the minimum number of points a cell needs to be emitted.
	MinCount int

	// ReferenceLatitude centres the equirectangular projection. Zero means
	// the mean latitude of the input set.
	ReferenceLatitude float64
}

// GridCell is one emitted (category, month, cell) bucket.
type GridCell struct {
	Category  string    `json:"category" yaml:"category"`
	Month     time.Time `json:"month" yaml:"month"`
	Latitude  float64   `json:"lat" yaml:"lat"`
	Longitude float64   `json:"lon" yaml:"lon"`
	Count     int       `json:"count" yaml:"count"`

	CellX int64 `json:"-" yaml:"-"`
	CellY int64 `json:"-" yaml:"-"`
}

type gridKey struct {
	category string
	month    time.Time
	x, y     int64
}

type gridAcc struct {
	count          int
	sumLat, sumLon float64
}

// AggregateGrid buckets points by category, UTC calendar month and
// projected grid cell, and returns every bucket holding at least
// MinCount points. Centroids are the mean of the member coordinates, so
// markers stay inside the data footprint rather than on a cell corner.
//
// Rows are ordered by count descending, then by category, month and cell
// so the output is reproducible.
func AggregateGrid(points []Point, opts GridOptions) ([]GridCell, error) {
	if err := validatePoints("grid", points); err != nil {
		return nil, err
	}
	size := clampFloat(opts.SizeMeters, DefaultGridSizeMeters, MinGridSizeMeters, MaxGridSizeMeters)
	minCount := clampInt(opts.MinCount, MinMinCount, MaxMinCount)

	ref := opts.ReferenceLatitude
	if ref == 0 {
		ref = meanLatitude(points)
	}
	proj := newProjection(ref)

	buckets := make(map[gridKey]*gridAcc)
	for _, p := range points {
		x, y := proj.xy(p.Latitude, p.Longitude)
		k := gridKey{
			category: p.Category,
			month:    MonthOf(p.OccurredAt),
			x:        int64(math.Floor(x / size)),
			y:        int64(math.Floor(y / size)),
		}
		acc, ok := buckets[k]
		if !ok {
			acc = &gridAcc{}
			buckets[k] = acc
		}
		acc.count++
		acc.sumLat += p.Latitude
		acc.sumLon += p.Longitude
	}

	cells := make([]GridCell, 0, len(buckets))
	for k, acc := range buckets {
		if acc.count < minCount {
			continue
		}
		cells = append(cells, GridCell{
			Category:  k.category,
			Month:     k.month,
			Latitude:  acc.sumLat / float64(acc.count),
			Longitude: acc.sumLon / float64(acc.count),
			Count:     acc.count,
			CellX:     k.x,
			CellY:     k.y,
		})
	}

	slices.SortFunc(cells, func(a, b GridCell) int {
		return cmp.Or(
			cmp.Compare(b.Count, a.Count),
			cmp.Compare(a.Category, b.Category),
			a.Month.Compare(b.Month),
			cmp.Compare(a.CellY, b.CellY),
			cmp.Compare(a.CellX, b.CellX),
		)
	})
	return cells, nil
}
