package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hotspots/internal/db"
	"github.com/sells-group/hotspots/internal/hotspot"
)

const pgPointsSQL = `SELECT service_name, requested_at, latitude, longitude
FROM service_requests
WHERE latitude IS NOT NULL AND longitude IS NOT NULL
  AND requested_at IS NOT NULL AND service_name IS NOT NULL
  AND ($1::timestamptz IS NULL OR requested_at >= $1)
  AND ($2::timestamptz IS NULL OR requested_at < $2)
  AND ($3::text = '' OR service_name = $3)
ORDER BY requested_at, request_id`

const pgTopTypesSQL = `SELECT service_name, COUNT(*) AS n
FROM service_requests
WHERE service_name IS NOT NULL AND requested_at IS NOT NULL
  AND ($1::timestamptz IS NULL OR requested_at >= $1)
  AND ($2::timestamptz IS NULL OR requested_at < $2)
GROUP BY service_name
ORDER BY n DESC, service_name
LIMIT $3`

const pgDateRangeSQL = `SELECT MIN(requested_at), MAX(requested_at), COUNT(requested_at)
FROM service_requests`

const pgCoverageSQL = `SELECT service_name,
       COUNT(*) AS total,
       SUM(CASE WHEN latitude IS NOT NULL AND longitude IS NOT NULL THEN 1 ELSE 0 END) AS geocoded
FROM service_requests
WHERE service_name IS NOT NULL
GROUP BY service_name
ORDER BY total DESC, service_name`

var recordColumns = []string{
	"request_id", "service_name", "status", "ward",
	"requested_at", "closed_at", "latitude", "longitude",
}

// Postgres is a Store backed by a pgx pool.
type Postgres struct {
	pool db.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Points returns every geocoded request inside w, optionally restricted to
// one category, ordered by request time then id.
func (p *Postgres) Points(ctx context.Context, w hotspot.Window, category string) ([]hotspot.Point, error) {
	rows, err := p.pool.Query(ctx, pgPointsSQL, w.From, w.To, category)
	if err != nil {
		return nil, eris.Wrap(err, "source: query points")
	}
	defer rows.Close()

	points := make([]hotspot.Point, 0, 256)
	for rows.Next() {
		var (
			name     string
			at       time.Time
			lat, lon *float64
		)
		if err := rows.Scan(&name, &at, &lat, &lon); err != nil {
			return nil, eris.Wrap(err, "source: scan point")
		}
		if lat == nil || lon == nil {
			return nil, hotspot.NewContractViolation("source.points", "point %d has a missing coordinate", len(points))
		}
		points = append(points, hotspot.Point{
			Category:   name,
			OccurredAt: at.UTC(),
			Latitude:   *lat,
			Longitude:  *lon,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: iterate points")
	}
	return points, nil
}

// TopTypes returns the most frequent categories in w.
func (p *Postgres) TopTypes(ctx context.Context, w hotspot.Window, limit int) ([]TypeCount, error) {
	rows, err := p.pool.Query(ctx, pgTopTypesSQL, w.From, w.To, ClampLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "source: query top types")
	}
	defer rows.Close()

	out := make([]TypeCount, 0)
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, eris.Wrap(err, "source: scan top type")
		}
		out = append(out, tc)
	}
	return out, eris.Wrap(rows.Err(), "source: iterate top types")
}

// DateRange returns the earliest and latest request times.
func (p *Postgres) DateRange(ctx context.Context) (DateRange, error) {
	var dr DateRange
	if err := p.pool.QueryRow(ctx, pgDateRangeSQL).Scan(&dr.Min, &dr.Max, &dr.Count); err != nil {
		return DateRange{}, eris.Wrap(err, "source: query date range")
	}
	if dr.Min != nil {
		u := dr.Min.UTC()
		dr.Min = &u
	}
	if dr.Max != nil {
		u := dr.Max.UTC()
		dr.Max = &u
	}
	return dr, nil
}

// Coverage reports the geocoded share of each category.
func (p *Postgres) Coverage(ctx context.Context) ([]Coverage, error) {
	rows, err := p.pool.Query(ctx, pgCoverageSQL)
	if err != nil {
		return nil, eris.Wrap(err, "source: query coverage")
	}
	defer rows.Close()

	out := make([]Coverage, 0)
	for rows.Next() {
		var (
			name            string
			total, geocoded int
		)
		if err := rows.Scan(&name, &total, &geocoded); err != nil {
			return nil, eris.Wrap(err, "source: scan coverage")
		}
		out = append(out, coverageOf(name, total, geocoded))
	}
	return out, eris.Wrap(rows.Err(), "source: iterate coverage")
}

// Upsert merges records keyed by request id. A repeated id in records
// keeps its last occurrence, since one INSERT ... ON CONFLICT cannot
// touch the same row twice.
func (p *Postgres) Upsert(ctx context.Context, records []Record) (int64, error) {
	records = dedupeByID(records)
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.ID, nullString(r.Category), nullString(r.Status), nullString(r.Ward),
			r.RequestedAt, r.ClosedAt, r.Latitude, r.Longitude,
		})
	}
	n, err := db.BulkUpsert(ctx, p.pool, db.UpsertConfig{
		Table:        Table,
		Columns:      recordColumns,
		ConflictKeys: []string{"request_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "source: upsert records")
	}
	return n, nil
}

// Migrate applies the embedded Postgres schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, p.pool)
}

// Ping checks that the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return eris.Wrap(p.pool.Ping(ctx), "source: ping postgres")
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
