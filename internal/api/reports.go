package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/report"
	"github.com/sells-group/leadcheck/internal/store"
	"github.com/sells-group/leadcheck/internal/validate"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	maxListLimit    = 1000
)

// ParseFilter reads start, end, status, stage, limit and offset query
// parameters. Dates are YYYY-MM-DD and end is inclusive.
func ParseFilter(q url.Values) (store.Filter, error) {
	var f store.Filter
	if v := strings.TrimSpace(q.Get("start")); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return f, eris.Errorf("invalid start date %q", v)
		}
		f.From = d
	}
	if v := strings.TrimSpace(q.Get("end")); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return f, eris.Errorf("invalid end date %q", v)
		}
		f.To = d.AddDate(0, 0, 1)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		return f, eris.New("end date is before start date")
	}
	f.Status = strings.ToUpper(strings.TrimSpace(q.Get("status")))
	if v := strings.TrimSpace(q.Get("stage")); v != "" {
		s, err := model.ParseStage(v)
		if err != nil {
			return f, err
		}
		f.Stage = s
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, eris.New("invalid limit")
		}
		f.Limit = min(n, maxListLimit)
	}
	if v := strings.TrimSpace(q.Get("offset")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, eris.New("invalid offset")
		}
		f.Offset = n
	}
	return f, nil
}

func (s *Server) companies(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.store.List(r.Context(), f)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if list == nil {
		list = []model.Company{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) company(w http.ResponseWriter, r *http.Request) {
	cnpj := validate.NormalizeCNPJ(chi.URLParam(r, "cnpj"))
	if !validate.ValidCNPJ(cnpj) {
		writeError(w, http.StatusBadRequest, "invalid identifier")
		return
	}
	c, err := s.store.Lookup(r.Context(), cnpj)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "company not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) counts(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("field")
	if raw == "" {
		raw = string(store.CountByStatus)
	}
	field, err := store.ParseCountField(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	counts, err := s.reports.Counts(r.Context(), field)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"field": field, "counts": counts})
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := strings.ToLower(q.Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		writeError(w, http.StatusBadRequest, "format must be csv or xlsx")
		return
	}
	f, err := ParseFilter(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.reports.Export(r.Context(), f)
	if err != nil {
		writeFailure(w, err)
		return
	}

	name := "relatorio_" + time.Now().Format("20060102") + "." + format
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if format == "xlsx" {
		w.Header().Set("Content-Type", xlsxContentType)
		err = report.WriteXLSX(w, rows)
	} else {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		err = report.WriteCSV(w, rows)
	}
	if err != nil {
		writeFailure(w, err)
	}
}
