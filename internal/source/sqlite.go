package source

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/hotspots/internal/hotspot"
)

// sqliteTimeLayout is fixed width so text comparison orders timestamps.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqlitePointsSQL = `SELECT service_name, requested_at, latitude, longitude
FROM service_requests
WHERE latitude IS NOT NULL AND longitude IS NOT NULL
  AND requested_at IS NOT NULL AND service_name IS NOT NULL
  AND (? IS NULL OR requested_at >= ?)
  AND (? IS NULL OR requested_at < ?)
  AND (? = '' OR service_name = ?)
ORDER BY requested_at, request_id`

const sqliteTopTypesSQL = `SELECT service_name, COUNT(*) AS n
FROM service_requests
WHERE service_name IS NOT NULL AND requested_at IS NOT NULL
  AND (? IS NULL OR requested_at >= ?)
  AND (? IS NULL OR requested_at < ?)
GROUP BY service_name
ORDER BY n DESC, service_name
LIMIT ?`

const sqliteDateRangeSQL = `SELECT MIN(requested_at), MAX(requested_at), COUNT(requested_at)
FROM service_requests`

const sqliteCoverageSQL = `SELECT service_name,
       COUNT(*) AS total,
       SUM(CASE WHEN latitude IS NOT NULL AND longitude IS NOT NULL THEN 1 ELSE 0 END) AS geocoded
FROM service_requests
WHERE service_name IS NOT NULL
GROUP BY service_name
ORDER BY total DESC, service_name`

const sqliteUpsertSQL = `INSERT INTO service_requests
  (request_id, service_name, status, ward, requested_at, closed_at, latitude, longitude)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(request_id) DO UPDATE SET
  service_name = excluded.service_name,
  status       = excluded.status,
  ward         = excluded.ward,
  requested_at = excluded.requested_at,
  closed_at    = excluded.closed_at,
  latitude     = excluded.latitude,
  longitude    = excluded.longitude`

// SQLite is a Store backed by a local modernc.org/sqlite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and configures WAL mode.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLite{db: db}, nil
}

// Points returns every geocoded request inside w, optionally restricted to
// one category, ordered by request time then id.
func (s *SQLite) Points(ctx context.Context, w hotspot.Window, category string) ([]hotspot.Point, error) {
	from, to := sqliteTime(w.From), sqliteTime(w.To)
	rows, err := s.db.QueryContext(ctx, sqlitePointsSQL, from, from, to, to, category, category)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query points")
	}
	defer rows.Close() //nolint:errcheck

	points := make([]hotspot.Point, 0, 256)
	for rows.Next() {
		var (
			name, at string
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(&name, &at, &lat, &lon); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan point")
		}
		ts, err := time.Parse(sqliteTimeLayout, at)
		if err != nil {
			return nil, hotspot.NewContractViolation("source.points", "point %d has unreadable timestamp %q", len(points), at)
		}
		if !lat.Valid || !lon.Valid {
			return nil, hotspot.NewContractViolation("source.points", "point %d has a missing coordinate", len(points))
		}
		points = append(points, hotspot.Point{
			Category:   name,
			OccurredAt: ts,
			Latitude:   lat.Float64,
			Longitude:  lon.Float64,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate points")
	}
	return points, nil
}

// TopTypes returns the most frequent categories in w.
func (s *SQLite) TopTypes(ctx context.Context, w hotspot.Window, limit int) ([]TypeCount, error) {
	from, to := sqliteTime(w.From), sqliteTime(w.To)
	rows, err := s.db.QueryContext(ctx, sqliteTopTypesSQL, from, from, to, to, ClampLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query top types")
	}
	defer rows.Close() //nolint:errcheck

	out := make([]TypeCount, 0)
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan top type")
		}
		out = append(out, tc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate top types")
}

// DateRange returns the earliest and latest request times.
func (s *SQLite) DateRange(ctx context.Context) (DateRange, error) {
	var (
		lo, hi sql.NullString
		dr     DateRange
	)
	if err := s.db.QueryRowContext(ctx, sqliteDateRangeSQL).Scan(&lo, &hi, &dr.Count); err != nil {
		return DateRange{}, eris.Wrap(err, "sqlite: query date range")
	}
	var err error
	if dr.Min, err = parseSQLiteTime(lo); err != nil {
		return DateRange{}, err
	}
	if dr.Max, err = parseSQLiteTime(hi); err != nil {
		return DateRange{}, err
	}
	return dr, nil
}

// Coverage reports the geocoded share of each category.
func (s *SQLite) Coverage(ctx context.Context) ([]Coverage, error) {
	rows, err := s.db.QueryContext(ctx, sqliteCoverageSQL)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query coverage")
	}
	defer rows.Close() //nolint:errcheck

	out := make([]Coverage, 0)
	for rows.Next() {
		var (
			name            string
			total, geocoded int
		)
		if err := rows.Scan(&name, &total, &geocoded); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan coverage")
		}
		out = append(out, coverageOf(name, total, geocoded))
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate coverage")
}

// Upsert merges records keyed by request id in a single transaction.
func (s *SQLite) Upsert(ctx context.Context, records []Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertSQL)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.ID, nullString(r.Category), nullString(r.Status), nullString(r.Ward),
			sqliteTime(r.RequestedAt), sqliteTime(r.ClosedAt),
			nullFloat(r.Latitude), nullFloat(r.Longitude),
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert %s", r.ID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert")
	}
	return n, nil
}

// Migrate applies the embedded SQLite schema.
func (s *SQLite) Migrate(ctx context.Context) error {
	return migrateSQLite(ctx, s.db)
}

// Ping checks that the database file is usable.
func (s *SQLite) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func sqliteTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(sqliteTimeLayout, s.String)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse time %q", s.String)
	}
	return &t, nil
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
