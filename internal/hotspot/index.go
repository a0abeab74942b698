package hotspot

import (
	"math"
	"slices"
)

// neighborFinder returns N(i): the positions of every point within the
// search radius of point i, including i, in ascending order. Both
// implementations must return identical slices for identical input.
type neighborFinder interface {
	neighbors(i int) []int
}

// linearScan is the O(n) per query reference implementation.
type linearScan struct {
	points []Point
	eps    float64
}

func (s *linearScan) neighbors(i int) []int {
	p := s.points[i]
	var out []int
	for j, q := range s.points {
		if HaversineMeters(p.Latitude, p.Longitude, q.Latitude, q.Longitude) <= s.eps {
			out = append(out, j)
		}
	}
	return out
}

// boundSlack widens cell spans a hair so float rounding can never push a
// true neighbour outside the searched 3x3 block.
const boundSlack = 1 + 1e-9

type cellID struct {
	row, col int
}

// gridIndex buckets points into latitude rows and longitude columns sized
// so that any two points within eps fall in the same or adjacent cells.
//
// Rows: the great-circle distance is at least R·|Δφ|, so a row height of
// eps/R radians bounds the latitude difference.
//
// Columns: from the haversine identity, two points within eps satisfy
// cosφ1·cosφ2·sin²(Δλ/2) ≤ sin²(eps/2R). With c the smallest cosφ in the
// set this gives sin(Δλ/2) ≤ sin(eps/2R)/c. When that bound reaches the
// whole circle the index degrades to a single column. Columns wrap at the
// antimeridian.
type gridIndex struct {
	points   []Point
	eps      float64
	rowSpan  float64 // degrees
	colWidth float64 // degrees
	cols     int
	cellOf   []cellID
	cells    map[cellID][]int
}

func newGridIndex(points []Point, eps float64) *gridIndex {
	maxAbsLat := 0.0
	for _, p := range points {
		maxAbsLat = math.Max(maxAbsLat, math.Abs(p.Latitude))
	}

	angular := eps / EarthRadiusMeters
	rowSpan := angular * 180 / math.Pi * boundSlack

	cols := 1
	minCos := math.Cos(maxAbsLat * math.Pi / 180)
	if minCos > 0 {
		s := math.Sin(angular/2) / minCos
		if s < 1 {
			lonSpan := 2 * math.Asin(s) * 180 / math.Pi * boundSlack
			if lonSpan*3 < 360 {
				cols = int(360 / lonSpan)
			}
		}
	}

	g := &gridIndex{
		points:   points,
		eps:      eps,
		rowSpan:  rowSpan,
		colWidth: 360 / float64(cols),
		cols:     cols,
		cellOf:   make([]cellID, len(points)),
		cells:    make(map[cellID][]int),
	}
	for i, p := range points {
		id := g.cell(p)
		g.cellOf[i] = id
		g.cells[id] = append(g.cells[id], i)
	}
	return g
}

func (g *gridIndex) cell(p Point) cellID {
	row := int(math.Floor((p.Latitude + 90) / g.rowSpan))
	col := int(math.Floor((p.Longitude + 180) / g.colWidth))
	if col >= g.cols {
		col = g.cols - 1
	}
	if col < 0 {
		col = 0
	}
	return cellID{row: row, col: col}
}

func (g *gridIndex) neighbors(i int) []int {
	p := g.points[i]
	home := g.cellOf[i]

	colOffsets := []int{-1, 0, 1}
	if g.cols == 1 {
		colOffsets = []int{0}
	}

	var out []int
	for dr := -1; dr <= 1; dr++ {
		for _, dc := range colOffsets {
			id := cellID{
				row: home.row + dr,
				col: ((home.col+dc)%g.cols + g.cols) % g.cols,
			}
			for _, j := range g.cells[id] {
				q := g.points[j]
				if HaversineMeters(p.Latitude, p.Longitude, q.Latitude, q.Longitude) <= g.eps {
					out = append(out, j)
				}
			}
		}
	}
	slices.Sort(out)
	return out
}

// newNeighborFinder picks the grid index for runs larger than threshold.
// A threshold below zero forces the linear scan.
func newNeighborFinder(points []Point, eps float64, threshold int) neighborFinder {
	if threshold < 0 || len(points) <= threshold {
		return &linearScan{points: points, eps: eps}
	}
	return newGridIndex(points, eps)
}
