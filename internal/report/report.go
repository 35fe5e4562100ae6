// Package report aggregates and exports stored lookup results. It never
// writes to the store.
package report

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/store"
)

// Store is the read side of the result store.
type Store interface {
	List(ctx context.Context, f store.Filter) ([]model.Company, error)
	QueryByDateRange(ctx context.Context, from, to time.Time) ([]model.Company, error)
	QueryByStage(ctx context.Context, stage model.Stage) ([]model.Company, error)
	CountBy(ctx context.Context, field store.CountField) (map[string]int, error)
}

// EmptyStatusKey replaces a blank registration status in counts.
const EmptyStatusKey = "SEM SITUACAO"

// Count is one group of a CountBy result.
type Count struct {
	Key   string `json:"key" yaml:"key"`
	Label string `json:"label" yaml:"label"`
	Count int    `json:"count" yaml:"count"`
}

// Row is one exported record.
type Row struct {
	CNPJ               string      `json:"cnpj" yaml:"cnpj"`
	Name               string      `json:"name" yaml:"name"`
	Phone              string      `json:"phone" yaml:"phone"`
	RegistrationStatus string      `json:"registration_status" yaml:"registration_status"`
	Stage              model.Stage `json:"stage" yaml:"stage"`
	Notes              string      `json:"notes,omitempty" yaml:"notes,omitempty"`
	NextContactDate    *time.Time  `json:"next_contact_date,omitempty" yaml:"next_contact_date,omitempty"`
	CreatedAt          time.Time   `json:"created_at" yaml:"created_at"`
	LookupRetryable    bool        `json:"lookup_retryable" yaml:"lookup_retryable"`
}

// Reporter runs read-only reports against a store.
type Reporter struct {
	store Store
}

// New returns a Reporter reading from st.
func New(st Store) *Reporter {
	return &Reporter{store: st}
}

// CountBy groups records by field. Stage counts are coerced onto the known
// stage set, so unknown stored values add to the default stage.
func (r *Reporter) CountBy(ctx context.Context, field store.CountField) (map[string]int, error) {
	raw, err := r.store.CountBy(ctx, field)
	if err != nil {
		return nil, eris.Wrapf(err, "report: count by %s", field)
	}
	out := make(map[string]int, len(raw))
	for k, n := range raw {
		out[normalizeKey(field, k)] += n
	}
	return out, nil
}

func normalizeKey(field store.CountField, k string) string {
	if field == store.CountByStage {
		return string(model.CoerceStage(k))
	}
	if k == "" {
		return EmptyStatusKey
	}
	return k
}

// Counts returns CountBy as a sorted list. Stages come in board order with
// every stage present; statuses come by descending count, then key.
func (r *Reporter) Counts(ctx context.Context, field store.CountField) ([]Count, error) {
	m, err := r.CountBy(ctx, field)
	if err != nil {
		return nil, err
	}
	return Sorted(field, m), nil
}

// Sorted orders a CountBy map for display.
func Sorted(field store.CountField, m map[string]int) []Count {
	if field == store.CountByStage {
		out := make([]Count, 0, len(model.Stages()))
		for _, s := range model.Stages() {
			out = append(out, Count{Key: string(s), Label: s.Label(), Count: m[string(s)]})
		}
		return out
	}

	out := make([]Count, 0, len(m))
	for k, n := range m {
		out = append(out, Count{Key: k, Label: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Export lists the records matching f, newest first.
func (r *Reporter) Export(ctx context.Context, f store.Filter) ([]Row, error) {
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		return nil, eris.Errorf("report: end %s is not after start %s",
			f.To.Format(time.DateOnly), f.From.Format(time.DateOnly))
	}
	companies, err := r.query(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "report: list companies")
	}
	rows := make([]Row, len(companies))
	for i, c := range companies {
		rows[i] = Row{
			CNPJ:               c.CNPJ,
			Name:               c.Name,
			Phone:              c.Phone,
			RegistrationStatus: c.RegistrationStatus,
			Stage:              c.EffectiveStage(),
			Notes:              c.Notes,
			NextContactDate:    c.NextContactDate,
			CreatedAt:          c.CreatedAt,
			LookupRetryable:    c.LookupRetryable,
		}
	}
	return rows, nil
}

// query picks the narrowest store query for f.
func (r *Reporter) query(ctx context.Context, f store.Filter) ([]model.Company, error) {
	dated := !f.From.IsZero() || !f.To.IsZero()
	if f.Status != "" || f.Limit > 0 || f.Offset > 0 {
		return r.store.List(ctx, f)
	}
	switch {
	case dated && f.Stage == "":
		return r.store.QueryByDateRange(ctx, f.From, f.To)
	case !dated && f.Stage != "":
		return r.store.QueryByStage(ctx, f.Stage)
	}
	return r.store.List(ctx, f)
}

// Company converts an exported row back into a storable record.
func (r Row) Company() model.Company {
	return model.Company{
		CNPJ:               r.CNPJ,
		Name:               r.Name,
		Phone:              r.Phone,
		RegistrationStatus: r.RegistrationStatus,
		Stage:              r.Stage,
		Notes:              r.Notes,
		NextContactDate:    r.NextContactDate,
		CreatedAt:          r.CreatedAt,
		LookupRetryable:    r.LookupRetryable,
	}
}
