// Package store persists company lookup results, lead-tracking fields, and
// the resumable batch session.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadcheck/internal/model"
)

// ErrNotFound is returned when an update targets an unknown CNPJ.
var ErrNotFound = eris.New("company not found")

// UpsertOutcome tells what Upsert did with a record.
type UpsertOutcome int

// Upsert outcomes.
const (
	// Skipped means a record with the same CNPJ already existed and was left
	// untouched.
	Skipped UpsertOutcome = iota
	// Inserted means a new record was written.
	Inserted
	// Refreshed means an existing retryable failure marker was replaced.
	Refreshed
)

func (o UpsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Refreshed:
		return "refreshed"
	default:
		return "skipped"
	}
}

// TrackingUpdate is a partial update of the operator-owned fields. Nil
// pointers leave the column unchanged.
type TrackingUpdate struct {
	Stage           *model.Stage
	Notes           *string
	NextContactDate *time.Time
	// ClearNextContact sets next_contact_date to NULL.
	ClearNextContact bool
}

// Empty reports whether the update would change nothing.
func (u TrackingUpdate) Empty() bool {
	return u.Stage == nil && u.Notes == nil && u.NextContactDate == nil && !u.ClearNextContact
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Stage  model.Stage `json:"stage,omitempty"`
	Status string      `json:"status,omitempty"`
	// From is inclusive and To exclusive, both on created_at.
	From   time.Time `json:"from,omitzero"`
	To     time.Time `json:"to,omitzero"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// CountField selects the column CountBy groups on.
type CountField string

// Countable fields.
const (
	CountByStatus CountField = "registration_status"
	CountByStage  CountField = "stage"
)

// ParseCountField validates a user-supplied field name.
func ParseCountField(s string) (CountField, error) {
	switch CountField(s) {
	case CountByStatus, "status", "situacao":
		return CountByStatus, nil
	case CountByStage:
		return CountByStage, nil
	}
	return "", eris.Errorf("unknown count field %q", s)
}

// Store is the persistence interface shared by the SQLite and Postgres
// backends.
type Store interface {
	// Lookup returns the stored company or nil when the CNPJ is unknown.
	Lookup(ctx context.Context, cnpj string) (*model.Company, error)
	// Upsert inserts c unless its CNPJ exists. An existing row whose status
	// is a retryable failure is refreshed with c's status instead.
	Upsert(ctx context.Context, c model.Company) (UpsertOutcome, error)
	// UpdateTracking changes only stage, notes and next contact date.
	UpdateTracking(ctx context.Context, cnpj string, u TrackingUpdate) error

	List(ctx context.Context, f Filter) ([]model.Company, error)
	QueryByDateRange(ctx context.Context, from, to time.Time) ([]model.Company, error)
	QueryByStage(ctx context.Context, stage model.Stage) ([]model.Company, error)
	// CountBy returns raw stored values and their counts.
	CountBy(ctx context.Context, field CountField) (map[string]int, error)

	// Import inserts records that do not exist yet and returns how many
	// were written.
	Import(ctx context.Context, companies []model.Company) (int64, error)

	SaveSession(ctx context.Context, s *model.BatchSession) error
	// LoadSession returns the most recently saved session, or nil.
	LoadSession(ctx context.Context) (*model.BatchSession, error)
	DeleteSession(ctx context.Context, id string) error

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and sizes the backend.
type Config struct {
	Driver string
	// DSN is a file path for sqlite or a connection URL for postgres.
	DSN      string
	MaxConns int32
	MinConns int32
}

// Open connects to the configured backend and applies pending migrations.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		s, err = NewSQLite(cfg.DSN)
	case DriverPostgres:
		s, err = NewPostgres(ctx, cfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
