package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/db"
	"github.com/sells-group/leadcheck/internal/model"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgres connects to cfg.DSN.
func NewPostgres(ctx context.Context, cfg Config) (*PostgresStore, error) {
	maxConns := int32(4)
	if cfg.MaxConns > 0 {
		maxConns = cfg.MaxConns
	}
	pool, err := db.Connect(ctx, db.PoolConfig{URL: cfg.DSN, MaxConns: maxConns, MinConns: cfg.MinConns})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return NewPostgresWithPool(pool), nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// Migrate applies the embedded migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	applied, err := db.Migrate(ctx, s.pool, postgresMigrations, "migrations/postgres")
	if err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	if len(applied) > 0 {
		zap.L().Info("postgres schema updated", zap.Strings("applied", applied))
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, cnpj string) (*model.Company, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+companyColumns+" FROM empresas WHERE cnpj = $1", cnpj)
	c, err := scanPostgresCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: lookup %s", cnpj)
	}
	return c, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, c model.Company) (UpsertOutcome, error) {
	now := s.now().UTC()
	created := now
	if !c.CreatedAt.IsZero() {
		created = c.CreatedAt
	}
	stage := c.Stage
	if stage == "" {
		stage = model.DefaultStage
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO empresas (cnpj, nome, telefone, situacao_rf, lookup_retryable, stage, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (cnpj) DO NOTHING`,
		c.CNPJ, c.Name, c.Phone, c.RegistrationStatus, c.LookupRetryable, string(stage), c.Notes, created, now,
	)
	if err != nil {
		return Skipped, eris.Wrapf(err, "postgres: insert %s", c.CNPJ)
	}
	if tag.RowsAffected() > 0 {
		return Inserted, nil
	}

	if c.RegistrationStatus == "" {
		return Skipped, nil
	}
	tag, err = s.pool.Exec(ctx, `
		UPDATE empresas SET situacao_rf = $1, lookup_retryable = $2, updated_at = $3
		WHERE cnpj = $4 AND lookup_retryable`,
		c.RegistrationStatus, c.LookupRetryable, now, c.CNPJ,
	)
	if err != nil {
		return Skipped, eris.Wrapf(err, "postgres: refresh %s", c.CNPJ)
	}
	if tag.RowsAffected() > 0 {
		return Refreshed, nil
	}
	return Skipped, nil
}

func (s *PostgresStore) UpdateTracking(ctx context.Context, cnpj string, u TrackingUpdate) error {
	sets, args := trackingSets(postgresDialect, u, s.now().UTC())
	args = append(args, cnpj)
	tag, err := s.pool.Exec(ctx,
		"UPDATE empresas SET "+strings.Join(sets, ", ")+" WHERE cnpj = "+postgresDialect.placeholder(len(args)),
		args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update tracking %s", cnpj)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "cnpj %s", cnpj)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]model.Company, error) {
	q, args := listSQL(postgresDialect, f)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		c, err := scanPostgresCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list companies iterate")
}

func (s *PostgresStore) QueryByDateRange(ctx context.Context, from, to time.Time) ([]model.Company, error) {
	return s.List(ctx, Filter{From: from, To: to})
}

func (s *PostgresStore) QueryByStage(ctx context.Context, stage model.Stage) ([]model.Company, error) {
	return s.List(ctx, Filter{Stage: stage})
}

func (s *PostgresStore) CountBy(ctx context.Context, field CountField) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, countSQL(field))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: count by %s", field)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		out[key] += n
	}
	return out, eris.Wrap(rows.Err(), "postgres: count iterate")
}

var importColumns = []string{
	"cnpj", "nome", "telefone", "situacao_rf", "lookup_retryable",
	"stage", "notes", "next_contact_date", "created_at", "updated_at",
}

// Import restores records through COPY into a temp table followed by an
// insert that ignores existing identifiers.
func (s *PostgresStore) Import(ctx context.Context, companies []model.Company) (int64, error) {
	now := s.now().UTC()
	rows := make([][]any, 0, len(companies))
	for _, c := range companies {
		r := importRow(c, now)
		rows = append(rows, []any{
			r.CNPJ, r.Name, r.Phone, r.RegistrationStatus, r.LookupRetryable,
			string(r.Stage), r.Notes, r.NextContactDate, r.CreatedAt, r.UpdatedAt,
		})
	}
	n, err := db.BulkInsert(ctx, s.pool, db.BulkConfig{
		Table:        "empresas",
		Columns:      importColumns,
		ConflictKeys: []string{"cnpj"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import")
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess *model.BatchSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session")
	}
	now := s.now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (id, data, created_at, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		sess.ID, data, now, now,
	)
	return eris.Wrapf(err, "postgres: save session %s", sess.ID)
}

func (s *PostgresStore) LoadSession(ctx context.Context) (*model.BatchSession, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM sessions ORDER BY updated_at DESC LIMIT 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load session")
	}
	var sess model.BatchSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal session")
	}
	return &sess, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete session %s", id)
}

func scanPostgresCompany(row pgx.Row) (*model.Company, error) {
	var (
		c       model.Company
		stage   string
		next    *time.Time
		updated *time.Time
	)
	if err := row.Scan(&c.CNPJ, &c.Name, &c.Phone, &c.RegistrationStatus, &c.LookupRetryable,
		&stage, &c.Notes, &next, &c.CreatedAt, &updated); err != nil {
		return nil, err
	}
	c.Stage = model.Stage(stage)
	c.NextContactDate = next
	c.UpdatedAt = c.CreatedAt
	if updated != nil {
		c.UpdatedAt = *updated
	}
	return &c, nil
}
