package hotspot

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PointSource supplies the complete set of geocoded points for a time
// window and an optional single category ("" means every category).
// Implementations must not paginate or truncate: clustering a partial set
// silently produces wrong clusters. Points should come back in a stable
// order so repeated calls cluster identically.
type PointSource interface {
	Points(ctx context.Context, w Window, category string) ([]Point, error)
}

// Observer receives run-level measurements. Implementations must be safe
// for concurrent use.
type Observer interface {
	RunCompleted(kind string, points, rows int, elapsed time.Duration)
	RequestFailed(kind string, retryable bool)
}

// Config tunes the Engine.
type Config struct {
	// MaxConcurrentRuns bounds the per-category fan-out. Keep it below the
	// point source's connection limit. Default: 4.
	MaxConcurrentRuns int

	// IndexThreshold is passed to every DBSCAN run. Zero means
	// DefaultIndexThreshold.
	IndexThreshold int

	// GridReferenceLatitude centres the grid projection. Zero means the
	// mean latitude of the fetched points.
	GridReferenceLatitude float64
}

// Engine runs grid aggregation and DBSCAN over points fetched from a
// PointSource. It holds no per-call state and is safe for concurrent use.
type Engine struct {
	source   PointSource
	cfg      Config
	observer Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver attaches run metrics.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine creates an Engine reading from source.
func NewEngine(source PointSource, cfg Config, opts ...Option) *Engine {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 4
	}
	e := &Engine{source: source, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

const (
	kindGrid    = "grid"
	kindCluster = "dbscan"
)

// Clusters runs DBSCAN for the requested categories and returns the
// merged cluster rows sorted by count descending (stable, so equal counts
// keep category request order).
//
// With no categories the engine runs in "all types" mode: every point in
// the window is clustered in a single pooled run, clusters may mix
// categories, and rows carry a nil category. With one or more categories
// each category is clustered independently and clusters never span
// categories. Overlapping clusters from different categories are all
// kept.
//
// If any per-category run fails the whole call fails.
func (e *Engine) Clusters(ctx context.Context, params Params) ([]Cluster, error) {
	p := params.Clamp()
	start := time.Now()

	var (
		rows   []Cluster
		points int
		err    error
	)
	if len(p.Categories) == 0 {
		rows, points, err = e.clusterRun(ctx, p, "")
	} else {
		rows, points, err = e.clusterFanOut(ctx, p)
	}
	if err != nil {
		e.failed(kindCluster, err)
		return nil, err
	}

	slices.SortStableFunc(rows, func(a, b Cluster) int {
		return cmp.Compare(b.Count, a.Count)
	})

	if e.observer != nil {
		e.observer.RunCompleted(kindCluster, points, len(rows), time.Since(start))
	}
	zap.L().Debug("hotspot: clusters computed",
		zap.Strings("categories", p.Categories),
		zap.Float64("eps_m", p.EpsilonMeters),
		zap.Int("min_points", p.MinPoints),
		zap.Int("points", points),
		zap.Int("clusters", len(rows)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return rows, nil
}

func (e *Engine) clusterFanOut(ctx context.Context, p Params) ([]Cluster, int, error) {
	results := make([][]Cluster, len(p.Categories))
	counts := make([]int, len(p.Categories))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentRuns)
	for i, category := range p.Categories {
		g.Go(func() error {
			rows, n, err := e.clusterRun(gctx, p, category)
			if err != nil {
				return err
			}
			results[i] = rows
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	merged := make([]Cluster, 0)
	total := 0
	for i := range results {
		merged = append(merged, results[i]...)
		total += counts[i]
	}
	return merged, total, nil
}

// clusterRun fetches and clusters one category, or every point when
// category is empty.
func (e *Engine) clusterRun(ctx context.Context, p Params, category string) ([]Cluster, int, error) {
	points, err := e.fetch(ctx, p.Window, category)
	if err != nil {
		return nil, 0, err
	}
	if category != "" {
		for i := range points {
			if points[i].Category != category {
				return nil, 0, e.contract(NewContractViolation("dbscan",
					"source returned category %q for a %q query (point %d)", points[i].Category, category, i))
			}
		}
	}

	rows, err := DBSCAN(points, ClusterOptions{
		EpsilonMeters:  p.EpsilonMeters,
		MinPoints:      p.MinPoints,
		Pooled:         category == "",
		IndexThreshold: e.cfg.IndexThreshold,
	})
	if err != nil {
		return nil, 0, e.contract(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, upstreamError("dbscan", err)
	}
	return rows, len(points), nil
}

// Grid aggregates points into grid cells. Multiple categories are fetched
// concurrently and aggregated in one pass.
func (e *Engine) Grid(ctx context.Context, params Params) ([]GridCell, error) {
	p := params.Clamp()
	start := time.Now()

	points, err := e.fetchAll(ctx, p)
	if err != nil {
		e.failed(kindGrid, err)
		return nil, err
	}

	cells, err := AggregateGrid(points, GridOptions{
		SizeMeters:        p.GridSizeMeters,
		MinCount:          p.MinCount,
		ReferenceLatitude: e.cfg.GridReferenceLatitude,
	})
	if err != nil {
		err = e.contract(err)
		e.failed(kindGrid, err)
		return nil, err
	}

	if e.observer != nil {
		e.observer.RunCompleted(kindGrid, len(points), len(cells), time.Since(start))
	}
	zap.L().Debug("hotspot: grid computed",
		zap.Strings("categories", p.Categories),
		zap.Float64("grid_m", p.GridSizeMeters),
		zap.Int("min_count", p.MinCount),
		zap.Int("points", len(points)),
		zap.Int("cells", len(cells)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return cells, nil
}

func (e *Engine) fetchAll(ctx context.Context, p Params) ([]Point, error) {
	if len(p.Categories) == 0 {
		return e.fetch(ctx, p.Window, "")
	}

	results := make([][]Point, len(p.Categories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentRuns)
	for i, category := range p.Categories {
		g.Go(func() error {
			points, err := e.fetch(gctx, p.Window, category)
			if err != nil {
				return err
			}
			for j := range points {
				if points[j].Category != category {
					return e.contract(NewContractViolation("grid",
						"source returned category %q for a %q query (point %d)", points[j].Category, category, j))
				}
			}
			results[i] = points
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Point
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func (e *Engine) fetch(ctx context.Context, w Window, category string) ([]Point, error) {
	points, err := e.source.Points(ctx, w, category)
	if errors.Is(err, ErrContractViolation) {
		return nil, e.contract(err)
	}
	if err != nil {
		zap.L().Warn("hotspot: point source failed",
			zap.String("category", category),
			zap.Error(err),
		)
		return nil, upstreamError("fetch points", err)
	}
	return points, nil
}

// contract logs contract violations; they indicate a broken point source.
func (e *Engine) contract(err error) error {
	zap.L().Error("hotspot: contract violation", zap.Error(err))
	return err
}

func (e *Engine) failed(kind string, err error) {
	if e.observer != nil {
		e.observer.RequestFailed(kind, IsRetryable(err))
	}
}
