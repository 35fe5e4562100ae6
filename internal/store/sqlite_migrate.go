package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type sqliteMigration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

// sqliteMigrations mirror migrations/postgres. Every step tolerates a table
// that already has the target shape, so databases created before version
// tracking existed are upgraded in place.
var sqliteMigrations = []sqliteMigration{
	{1, "empresas", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS empresas (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				cnpj        TEXT NOT NULL UNIQUE,
				nome        TEXT,
				telefone    TEXT,
				situacao_rf TEXT,
				created_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`)
		return err
	}},
	{2, "tracking", func(ctx context.Context, tx *sql.Tx) error {
		for _, col := range []struct{ name, def string }{
			{"stage", "TEXT NOT NULL DEFAULT 'novo'"},
			{"notes", "TEXT NOT NULL DEFAULT ''"},
			{"next_contact_date", "TEXT"},
		} {
			if err := addColumnIfMissing(ctx, tx, "empresas", col.name, col.def); err != nil {
				return err
			}
		}
		return nil
	}},
	{3, "retryable_and_sessions", func(ctx context.Context, tx *sql.Tx) error {
		for _, col := range []struct{ name, def string }{
			{"lookup_retryable", "INTEGER NOT NULL DEFAULT 0"},
			{"updated_at", "TEXT"},
		} {
			if err := addColumnIfMissing(ctx, tx, "empresas", col.name, col.def); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS sessions (
				id         TEXT PRIMARY KEY,
				data       TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_empresas_situacao ON empresas(situacao_rf);
			CREATE INDEX IF NOT EXISTS idx_empresas_stage ON empresas(stage);
			CREATE INDEX IF NOT EXISTS idx_empresas_created_at ON empresas(created_at);
			CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);`)
		return err
	}},
	// Tables created by plain INSERT-only writers may lack the UNIQUE
	// constraint that ON CONFLICT (cnpj) needs.
	{4, "cnpj_unique", func(ctx context.Context, tx *sql.Tx) error {
		dups, err := duplicateCNPJs(ctx, tx)
		if err != nil {
			return err
		}
		if len(dups) > 0 {
			return eris.Errorf("empresas has duplicate cnpj values, remove them first: %s", strings.Join(dups, ", "))
		}
		_, err = tx.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_empresas_cnpj ON empresas(cnpj)`)
		return err
	}},
}

func duplicateCNPJs(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT cnpj FROM empresas WHERE cnpj IS NOT NULL GROUP BY cnpj HAVING COUNT(*) > 1 ORDER BY cnpj`)
	if err != nil {
		return nil, eris.Wrap(err, "find duplicate cnpj")
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var cnpj string
		if err := rows.Scan(&cnpj); err != nil {
			return nil, eris.Wrap(err, "scan duplicate cnpj")
		}
		out = append(out, cnpj)
	}
	return out, rows.Err()
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return eris.Wrap(err, "sqlite: ensure schema_migrations")
	}

	var current int
	if err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return eris.Wrap(err, "sqlite: read schema version")
	}

	for _, m := range sqliteMigrations {
		if m.version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return eris.Wrapf(err, "sqlite: begin migration %d", m.version)
		}
		if err := m.apply(ctx, tx); err != nil {
			_ = tx.Rollback()
			return eris.Wrapf(err, "sqlite: apply migration %d_%s", m.version, m.name)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, formatTime(time.Now()),
		); err != nil {
			_ = tx.Rollback()
			return eris.Wrapf(err, "sqlite: record migration %d", m.version)
		}
		if err := tx.Commit(); err != nil {
			return eris.Wrapf(err, "sqlite: commit migration %d", m.version)
		}
		log.Info("migration applied", zap.Int("version", m.version), zap.String("name", m.name))
	}
	return nil
}

func addColumnIfMissing(ctx context.Context, tx *sql.Tx, table, column, def string) error {
	ok, err := hasColumn(ctx, tx, table, column)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, err = tx.ExecContext(ctx, "ALTER TABLE "+table+" ADD COLUMN "+column+" "+def)
	return eris.Wrapf(err, "add column %s.%s", table, column)
}

func hasColumn(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return false, eris.Wrapf(err, "table info %s", table)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, eris.Wrap(err, "scan table info")
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
