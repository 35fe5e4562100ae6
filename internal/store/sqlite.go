package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadcheck/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "leadcheck.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps upserts serialized.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Migrate applies pending schema versions.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return migrateSQLite(ctx, s.db)
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Lookup(ctx context.Context, cnpj string) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+companyColumns+" FROM empresas WHERE cnpj = ?", cnpj)
	c, err := scanSQLiteCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: lookup %s", cnpj)
	}
	return c, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, c model.Company) (UpsertOutcome, error) {
	now := formatTime(s.now())
	created := now
	if !c.CreatedAt.IsZero() {
		created = formatTime(c.CreatedAt)
	}
	stage := c.Stage
	if stage == "" {
		stage = model.DefaultStage
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO empresas (cnpj, nome, telefone, situacao_rf, lookup_retryable, stage, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cnpj) DO NOTHING`,
		c.CNPJ, c.Name, c.Phone, c.RegistrationStatus, c.LookupRetryable, string(stage), c.Notes, created, now,
	)
	if err != nil {
		return Skipped, eris.Wrapf(err, "sqlite: insert %s", c.CNPJ)
	}
	if n, err := res.RowsAffected(); err != nil {
		return Skipped, eris.Wrap(err, "sqlite: rows affected")
	} else if n > 0 {
		return Inserted, nil
	}

	if c.RegistrationStatus == "" {
		return Skipped, nil
	}
	res, err = s.db.ExecContext(ctx, `
		UPDATE empresas SET situacao_rf = ?, lookup_retryable = ?, updated_at = ?
		WHERE cnpj = ? AND lookup_retryable = 1`,
		c.RegistrationStatus, c.LookupRetryable, now, c.CNPJ,
	)
	if err != nil {
		return Skipped, eris.Wrapf(err, "sqlite: refresh %s", c.CNPJ)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Skipped, eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return Refreshed, nil
	}
	return Skipped, nil
}

func (s *SQLiteStore) UpdateTracking(ctx context.Context, cnpj string, u TrackingUpdate) error {
	sets, args := trackingSets(sqliteDialect, u, s.now())
	args = append(args, cnpj)
	res, err := s.db.ExecContext(ctx,
		"UPDATE empresas SET "+strings.Join(sets, ", ")+" WHERE cnpj = ?", args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update tracking %s", cnpj)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "cnpj %s", cnpj)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]model.Company, error) {
	q, args := listSQL(sqliteDialect, f)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Company
	for rows.Next() {
		c, err := scanSQLiteCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list companies iterate")
}

func (s *SQLiteStore) QueryByDateRange(ctx context.Context, from, to time.Time) ([]model.Company, error) {
	return s.List(ctx, Filter{From: from, To: to})
}

func (s *SQLiteStore) QueryByStage(ctx context.Context, stage model.Stage) ([]model.Company, error) {
	return s.List(ctx, Filter{Stage: stage})
}

func (s *SQLiteStore) CountBy(ctx context.Context, field CountField) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, countSQL(field))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: count by %s", field)
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		out[key] += n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: count iterate")
}

func (s *SQLiteStore) Import(ctx context.Context, companies []model.Company) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO empresas (cnpj, nome, telefone, situacao_rf, lookup_retryable, stage, notes, next_contact_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cnpj) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import prepare")
	}
	defer stmt.Close() //nolint:errcheck

	now := s.now()
	var inserted int64
	for _, c := range companies {
		r := importRow(c, now)
		var next any
		if c.NextContactDate != nil {
			next = c.NextContactDate.Format(dateLayout)
		}
		res, err := stmt.ExecContext(ctx, r.CNPJ, r.Name, r.Phone, r.RegistrationStatus, r.LookupRetryable,
			string(r.Stage), r.Notes, next, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: import %s", c.CNPJ)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import commit")
	}
	return inserted, nil
}

// importRow fills defaults for a restored record.
func importRow(c model.Company, now time.Time) model.Company {
	if c.Stage == "" {
		c.Stage = model.DefaultStage
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	return c
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess *model.BatchSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session")
	}
	now := formatTime(s.now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		sess.ID, string(data), now, now,
	)
	return eris.Wrapf(err, "sqlite: save session %s", sess.ID)
}

func (s *SQLiteStore) LoadSession(ctx context.Context) (*model.BatchSession, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM sessions ORDER BY updated_at DESC, rowid DESC LIMIT 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load session")
	}
	var sess model.BatchSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal session")
	}
	return &sess, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete session %s", id)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteCompany(row scannable) (*model.Company, error) {
	var (
		c                      model.Company
		stage                  sql.NullString
		next, created, updated sql.NullString
	)
	if err := row.Scan(&c.CNPJ, &c.Name, &c.Phone, &c.RegistrationStatus, &c.LookupRetryable,
		&stage, &c.Notes, &next, &created, &updated); err != nil {
		return nil, err
	}
	c.Stage = model.Stage(stage.String)
	if t, ok := parseTime(next.String); ok {
		c.NextContactDate = &t
	}
	c.CreatedAt, _ = parseTime(created.String)
	c.UpdatedAt = c.CreatedAt
	if t, ok := parseTime(updated.String); ok {
		c.UpdatedAt = t
	}
	return &c, nil
}
