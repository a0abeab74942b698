package hotspot

import (
	"time"
)

// DefaultIndexThreshold is the run size above which neighbourhood queries
// go through the grid index instead of a linear scan.
const DefaultIndexThreshold = 64

// ClusterOptions configures one DBSCAN run.
type ClusterOptions struct {
	// EpsilonMeters is the neighbourhood radius, clamped to its bounds.
	EpsilonMeters float64

	// MinPoints is the neighbourhood size (self included) that makes a
	// point a core point, clamped to its bounds.
	MinPoints int

	// Pooled marks an "all types" run: points of any category are
	// clustered together and emitted clusters carry no category. When
	// false every point must share one category.
	Pooled bool

	// IndexThreshold overrides DefaultIndexThreshold. Negative values
	// force a linear scan.
	IndexThreshold int
}

// Cluster summarizes one density-connected group of points.
type Cluster struct {
	// Category is nil for clusters produced by a pooled run.
	Category  *string   `json:"category" yaml:"category"`
	Month     time.Time `json:"month" yaml:"month"`
	Latitude  float64   `json:"lat" yaml:"lat"`
	Longitude float64   `json:"lon" yaml:"lon"`
	Count     int       `json:"count" yaml:"count"`
}

type pointKind uint8

const (
	unvisited pointKind = iota
	core
	border
	noise
)

func (k pointKind) String() string {
	switch k {
	case unvisited:
		return "unvisited"
	case core:
		return "core"
	case border:
		return "border"
	case noise:
		return "noise"
	default:
		return "unknown"
	}
}

// assignment is the per-point outcome of a run. cluster[i] is the 1-based
// cluster id, or 0 for noise.
type assignment struct {
	kind     []pointKind
	cluster  []int
	clusters int
}

// DBSCAN clusters points with a haversine metric and returns one summary
// per cluster in discovery order. Noise points are dropped.
//
// Points are visited in slice order, and a border point reachable from
// several clusters joins whichever expansion reaches it first, so the
// same input always yields the same clusters.
func DBSCAN(points []Point, opts ClusterOptions) ([]Cluster, error) {
	if err := validatePoints("dbscan", points); err != nil {
		return nil, err
	}
	if !opts.Pooled {
		for i := range points {
			if points[i].Category != points[0].Category {
				return nil, NewContractViolation("dbscan",
					"point %d has category %q in a %q run", i, points[i].Category, points[0].Category)
			}
		}
	}

	a := assign(points, opts)
	return summarize(points, a, opts.Pooled), nil
}

func assign(points []Point, opts ClusterOptions) assignment {
	eps := clampFloat(opts.EpsilonMeters, DefaultEpsilonMeters, MinEpsilonMeters, MaxEpsilonMeters)
	minPts := clampInt(opts.MinPoints, MinMinPoints, MaxMinPoints)
	threshold := opts.IndexThreshold
	if threshold == 0 {
		threshold = DefaultIndexThreshold
	}

	a := assignment{
		kind:    make([]pointKind, len(points)),
		cluster: make([]int, len(points)),
	}
	if len(points) < minPts {
		for i := range a.kind {
			a.kind[i] = noise
		}
		return a
	}

	finder := newNeighborFinder(points, eps, threshold)
	for i := range points {
		if a.kind[i] != unvisited {
			continue
		}
		seeds := finder.neighbors(i)
		if len(seeds) < minPts {
			a.kind[i] = noise
			continue
		}

		a.clusters++
		id := a.clusters
		a.kind[i] = core
		a.cluster[i] = id

		queue := seeds
		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			switch a.kind[j] {
			case noise:
				// Already known to be non-core; it becomes a border point.
				a.kind[j] = border
				a.cluster[j] = id
				continue
			case unvisited:
			default:
				continue
			}

			a.cluster[j] = id
			nb := finder.neighbors(j)
			if len(nb) >= minPts {
				a.kind[j] = core
				queue = append(queue, nb...)
			} else {
				a.kind[j] = border
			}
		}
	}
	return a
}

type clusterAcc struct {
	category       string
	count          int
	sumLat, sumLon float64
	earliest       time.Time
}

func summarize(points []Point, a assignment, pooled bool) []Cluster {
	accs := make([]clusterAcc, a.clusters)
	for i, p := range points {
		id := a.cluster[i]
		if id == 0 {
			continue
		}
		acc := &accs[id-1]
		if acc.count == 0 {
			acc.category = p.Category
			acc.earliest = p.OccurredAt
		} else if p.OccurredAt.Before(acc.earliest) {
			acc.earliest = p.OccurredAt
		}
		acc.count++
		acc.sumLat += p.Latitude
		acc.sumLon += p.Longitude
	}

	out := make([]Cluster, 0, len(accs))
	for _, acc := range accs {
		c := Cluster{
			Month:     MonthOf(acc.earliest),
			Latitude:  acc.sumLat / float64(acc.count),
			Longitude: acc.sumLon / float64(acc.count),
			Count:     acc.count,
		}
		if !pooled {
			category := acc.category
			c.Category = &category
		}
		out = append(out, c)
	}
	return out
}
