package db

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// migrationLockID keys the advisory lock held while migrating.
const migrationLockID = 7304211

// Migrate applies the .sql files of dir in fsys that are not yet recorded in
// schema_migrations, in lexicographic order. Each file runs in its own
// transaction together with its bookkeeping row.
func Migrate(ctx context.Context, pool Pool, fsys fs.FS, dir string) (applied []string, err error) {
	log := zap.L().With(zap.String("component", "db.migrate"))

	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return nil, eris.Wrap(err, "db: acquire migration lock")
	}
	defer func() {
		if _, uerr := pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); uerr != nil {
			log.Warn("release migration lock", zap.Error(uerr))
		}
	}()

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return nil, eris.Wrap(err, "db: ensure schema_migrations")
	}

	names, err := migrationFiles(fsys, dir)
	if err != nil {
		return nil, err
	}

	done, err := appliedMigrations(ctx, pool)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		if done[name] {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return applied, eris.Wrapf(err, "db: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		if err := applyMigration(ctx, pool, name, string(data)); err != nil {
			return applied, err
		}
		applied = append(applied, name)
	}
	return applied, nil
}

func applyMigration(ctx context.Context, pool Pool, name, sql string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "db: begin migration %s", name)
	}
	if _, err := tx.Exec(ctx, sql); err != nil {
		_ = tx.Rollback(ctx)
		return eris.Wrapf(err, "db: apply migration %s", name)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", name); err != nil {
		_ = tx.Rollback(ctx)
		return eris.Wrapf(err, "db: record migration %s", name)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "db: commit migration %s", name)
	}
	return nil
}

func migrationFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, eris.Wrapf(err, "db: read migration dir %s", dir)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func appliedMigrations(ctx context.Context, pool Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "db: query applied migrations")
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "db: scan migration row")
		}
		done[name] = true
	}
	return done, rows.Err()
}
