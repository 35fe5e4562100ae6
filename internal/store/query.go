package store

import (
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/leadcheck/internal/model"
)

const companyColumns = `cnpj, COALESCE(nome, ''), COALESCE(telefone, ''), COALESCE(situacao_rf, ''),
	lookup_retryable, stage, COALESCE(notes, ''), next_contact_date, created_at, updated_at`

// dialect captures the differences between the two SQL backends.
type dialect struct {
	placeholder func(n int) string
	timeArg     func(t time.Time) any
	dateArg     func(t time.Time) any
}

var (
	sqliteDialect = dialect{
		placeholder: func(int) string { return "?" },
		timeArg:     func(t time.Time) any { return formatTime(t) },
		dateArg:     func(t time.Time) any { return t.Format(dateLayout) },
	}
	postgresDialect = dialect{
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		timeArg:     func(t time.Time) any { return t },
		dateArg:     func(t time.Time) any { return t },
	}
)

type queryBuilder struct {
	d     dialect
	conds []string
	args  []any
}

func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return b.d.placeholder(len(b.args))
}

func (b *queryBuilder) where(f Filter) {
	if f.Stage != "" {
		if f.Stage == model.DefaultStage {
			// Unknown stored stages display in the default column.
			known := make([]string, 0, len(model.Stages()))
			for _, s := range model.Stages() {
				known = append(known, b.arg(string(s)))
			}
			b.conds = append(b.conds, "(stage = "+b.arg(string(f.Stage))+
				" OR stage NOT IN ("+strings.Join(known, ", ")+"))")
		} else {
			b.conds = append(b.conds, "stage = "+b.arg(string(f.Stage)))
		}
	}
	if f.Status != "" {
		b.conds = append(b.conds, "situacao_rf = "+b.arg(f.Status))
	}
	if !f.From.IsZero() {
		b.conds = append(b.conds, "created_at >= "+b.arg(b.d.timeArg(f.From)))
	}
	if !f.To.IsZero() {
		b.conds = append(b.conds, "created_at < "+b.arg(b.d.timeArg(f.To)))
	}
}

// trackingSets renders the SET list of a tracking update. updated_at is
// always bumped so an empty update still detects unknown identifiers.
func trackingSets(d dialect, u TrackingUpdate, now time.Time) ([]string, []any) {
	b := &queryBuilder{d: d}
	var sets []string
	if u.Stage != nil {
		sets = append(sets, "stage = "+b.arg(string(*u.Stage)))
	}
	if u.Notes != nil {
		sets = append(sets, "notes = "+b.arg(*u.Notes))
	}
	switch {
	case u.ClearNextContact:
		sets = append(sets, "next_contact_date = NULL")
	case u.NextContactDate != nil:
		sets = append(sets, "next_contact_date = "+b.arg(d.dateArg(*u.NextContactDate)))
	}
	sets = append(sets, "updated_at = "+b.arg(d.timeArg(now)))
	return sets, b.args
}

// listSQL renders the SELECT used by List.
func listSQL(d dialect, f Filter) (string, []any) {
	b := &queryBuilder{d: d}
	b.where(f)

	q := "SELECT " + companyColumns + " FROM empresas"
	if len(b.conds) > 0 {
		q += " WHERE " + strings.Join(b.conds, " AND ")
	}
	q += " ORDER BY created_at DESC, cnpj"
	if f.Limit > 0 {
		q += " LIMIT " + b.arg(f.Limit)
		if f.Offset > 0 {
			q += " OFFSET " + b.arg(f.Offset)
		}
	}
	return q, b.args
}

// countSQL renders the GROUP BY query used by CountBy.
func countSQL(field CountField) string {
	col := "COALESCE(situacao_rf, '')"
	if field == CountByStage {
		col = "stage"
	}
	return "SELECT " + col + ", COUNT(*) FROM empresas GROUP BY " + col
}

// SQLite stores timestamps as UTC text in this layout so they sort and
// compare lexically, including rows written by CURRENT_TIMESTAMP.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

const dateLayout = "2006-01-02"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

var timeLayouts = []string{
	sqliteTimeLayout,
	time.DateTime,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	dateLayout,
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
