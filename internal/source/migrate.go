package source

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hotspots/internal/db"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

const (
	postgresMigrations = "migrations/postgres"
	sqliteMigrations   = "migrations/sqlite"

	// migrationLockID keys the Postgres advisory lock held while migrating.
	migrationLockID = 3110311
)

// migrationFiles returns the .sql files under dir in lexicographic order.
func migrationFiles(dir string) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read migration dir %s", dir)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// migratePostgres applies pending migrations in one transaction holding a
// transaction-scoped advisory lock, so overlapping deploys cannot race and
// the lock is released on the connection that took it.
func migratePostgres(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "source.migrate"), zap.String("driver", "postgres"))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "source: begin migration tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "source: acquire migration advisory lock")
	}

	if _, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS hotspots_schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return eris.Wrap(err, "source: ensure migration table")
	}

	rows, err := tx.Query(ctx, "SELECT filename FROM hotspots_schema_migrations")
	if err != nil {
		return eris.Wrap(err, "source: query applied migrations")
	}
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return eris.Wrap(err, "source: scan migration row")
		}
		applied[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "source: read applied migrations")
	}

	names, err := migrationFiles(postgresMigrations)
	if err != nil {
		return err
	}
	for _, name := range names {
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile(path.Join(postgresMigrations, name))
		if err != nil {
			return eris.Wrapf(err, "source: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "source: apply migration %s", name)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO hotspots_schema_migrations (filename, applied_at) VALUES ($1, now())",
			name,
		); err != nil {
			return eris.Wrapf(err, "source: record migration %s", name)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "source: commit migrations")
	}
	return nil
}

func migrateSQLite(ctx context.Context, sqlDB *sql.DB) error {
	log := zap.L().With(zap.String("component", "source.migrate"), zap.String("driver", "sqlite"))

	if _, err := sqlDB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS hotspots_schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		)`); err != nil {
		return eris.Wrap(err, "source: ensure migration table")
	}

	names, err := migrationFiles(sqliteMigrations)
	if err != nil {
		return err
	}
	for _, name := range names {
		var n int
		if err := sqlDB.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM hotspots_schema_migrations WHERE filename = ?", name,
		).Scan(&n); err != nil {
			return eris.Wrapf(err, "source: check migration %s", name)
		}
		if n > 0 {
			continue
		}

		data, err := migrationFS.ReadFile(path.Join(sqliteMigrations, name))
		if err != nil {
			return eris.Wrapf(err, "source: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		tx, err := sqlDB.BeginTx(ctx, nil)
		if err != nil {
			return eris.Wrap(err, "source: begin migration tx")
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			_ = tx.Rollback()
			return eris.Wrapf(err, "source: apply migration %s", name)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO hotspots_schema_migrations (filename) VALUES (?)", name,
		); err != nil {
			_ = tx.Rollback()
			return eris.Wrapf(err, "source: record migration %s", name)
		}
		if err := tx.Commit(); err != nil {
			return eris.Wrapf(err, "source: commit migration %s", name)
		}
	}
	return nil
}
