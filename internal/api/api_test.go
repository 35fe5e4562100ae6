package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/board"
	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/pacer"
	"github.com/sells-group/leadcheck/internal/pipeline"
	"github.com/sells-group/leadcheck/internal/store"
	"github.com/sells-group/leadcheck/internal/validate"
	"github.com/sells-group/leadcheck/pkg/registry"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type stubRegistry struct{}

func (stubRegistry) Lookup(_ context.Context, cnpj string) registry.Result {
	if strings.HasPrefix(cnpj, "99") {
		return registry.Result{CNPJ: cnpj, Err: &registry.LookupError{Code: 500, Transient: true}}
	}
	return registry.Result{CNPJ: cnpj, Status: model.StatusActive}
}

type testEnv struct {
	srv   *httptest.Server
	store *store.SQLiteStore
	ctl   *pipeline.Controller
	clock *pacer.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	clk := pacer.NewFakeClock(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	ctl := pipeline.New(pipeline.Config{BatchSize: 2, RowDelay: time.Second, BatchDelay: time.Minute},
		st, stubRegistry{}, pipeline.WithClock(clk), pipeline.WithSessionStore(st))

	s := New(Deps{Controller: ctl, Store: st, ValidateOptions: validate.Options{}})
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: st, ctl: ctl, clock: clk}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck
	return resp
}

func (e *testEnv) upload(t *testing.T, name string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.srv.URL+"/session", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

const leadsCSV = "CNPJ;Nome;Telefone\n" +
	"11.222.333/0001-81;Acme;(11) 98765-4321\n" +
	"11444777000161;Beta;1133334444\n" +
	"99111222000133;Gama;21999998888\n"

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "idle", body["state"])
}

func TestTemplateDownload(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/template", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "CNPJ", f.Sheets[0].Rows[0].Cells[0].String())
}

func TestUploadAndProcessBatches(t *testing.T) {
	env := newTestEnv(t)

	resp := env.upload(t, "leads.csv", []byte(leadsCSV))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	up := decode[uploadResponse](t, resp)
	assert.Equal(t, 3, up.Rows)
	assert.Equal(t, pipeline.StateLoaded, up.Status.State)
	assert.Equal(t, "leads.csv", up.Status.Source)

	resp = env.do(t, http.MethodPost, "/session/next", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rep := decode[pipeline.BatchReport](t, resp)
	assert.Equal(t, 2, rep.Cursor)
	assert.Equal(t, 2, rep.LookedUp)

	resp = env.do(t, http.MethodPost, "/session/next", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))

	env.clock.Advance(time.Minute)
	resp = env.do(t, http.MethodPost, "/session/next", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rep = decode[pipeline.BatchReport](t, resp)
	assert.True(t, rep.Completed)
	assert.Equal(t, 1, rep.Failed)

	resp = env.do(t, http.MethodPost, "/session/next", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	c, err := env.store.Lookup(context.Background(), "99111222000133")
	require.NoError(t, err)
	assert.Equal(t, "error 500", c.RegistrationStatus)
}

func TestUploadRejectsInvalidRows(t *testing.T) {
	env := newTestEnv(t)

	csv := "CNPJ;Nome;Telefone\n123;Acme;11987654321\n11222333000181;Beta;1\n11.222.333/0001-81;Gama;11987654321\n"
	resp := env.upload(t, "leads.csv", []byte(csv))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decode[validationBody](t, resp)
	require.Len(t, body.Errors, 3)
	assert.Equal(t, []int{2}, body.Errors[0].Rows)
	assert.Equal(t, "invalid identifier", body.Errors[0].Message)
	assert.Equal(t, "duplicate identifier", body.Errors[1].Message)
	assert.Equal(t, "invalid phone", body.Errors[2].Message)

	assert.Equal(t, pipeline.StateIdle, env.ctl.State(), "nothing is loaded")
}

func TestUploadMissingColumns(t *testing.T) {
	env := newTestEnv(t)

	resp := env.upload(t, "leads.csv", []byte("CNPJ;Email\n11222333000181;a@b.com\n"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode[missingColumnsBody](t, resp)
	assert.Equal(t, []string{"Nome", "Telefone"}, body.Missing)
	assert.Equal(t, []string{"CNPJ", "Email"}, body.Found)
}

func TestUploadWithoutFile(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/session", map[string]string{"x": "y"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionPauseResume(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/session/pause", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.Equal(t, http.StatusCreated, env.upload(t, "leads.csv", []byte(leadsCSV)).StatusCode)

	resp = env.do(t, http.MethodPost, "/session/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, pipeline.StatePaused, decode[pipeline.StatusReport](t, resp).State)

	resp = env.do(t, http.MethodPost, "/session/next", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/session/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/session", nil)
	assert.Equal(t, pipeline.StateLoaded, decode[pipeline.StatusReport](t, resp).State)

	resp = env.do(t, http.MethodDelete, "/session", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, pipeline.StateIdle, env.ctl.State())
}

func TestSessionToggle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/session/toggle", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.Equal(t, http.StatusCreated, env.upload(t, "leads.csv", []byte(leadsCSV)).StatusCode)

	resp = env.do(t, http.MethodPost, "/session/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, pipeline.StatePaused, decode[pipeline.StatusReport](t, resp).State)

	resp = env.do(t, http.MethodPost, "/session/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, pipeline.StateLoaded, decode[pipeline.StatusReport](t, resp).State)
}

func seedCompanies(t *testing.T, st *store.SQLiteStore) {
	t.Helper()
	_, err := st.Import(context.Background(), []model.Company{
		{CNPJ: "11222333000181", Name: "Acme", RegistrationStatus: "ATIVA", CreatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
		{CNPJ: "11444777000161", Name: "Beta", RegistrationStatus: "BAIXADA", Stage: "legado", CreatedAt: time.Date(2026, 5, 3, 10, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
}

func TestBoardMoveAndNotes(t *testing.T) {
	env := newTestEnv(t)
	seedCompanies(t, env.store)

	resp := env.do(t, http.MethodGet, "/board", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b := decode[struct {
		Columns []struct {
			Stage string `json:"stage"`
			Cards []struct {
				CNPJ        string `json:"cnpj"`
				StoredStage string `json:"stored_stage"`
			} `json:"cards"`
		} `json:"columns"`
		Total int `json:"total"`
	}](t, resp)
	assert.Equal(t, 2, b.Total)
	assert.Equal(t, "novo", b.Columns[0].Stage)
	assert.Len(t, b.Columns[0].Cards, 2)

	resp = env.do(t, http.MethodPost, "/board/move", moveRequest{CNPJ: "11.222.333/0001-81", Stage: "contatado"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	c, err := env.store.Lookup(context.Background(), "11222333000181")
	require.NoError(t, err)
	assert.Equal(t, model.StageContacted, c.Stage)

	resp = env.do(t, http.MethodPost, "/board/notes", notesRequest{CNPJ: "11222333000181", Notes: "ligar", NextContactDate: "2026-06-01"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c, err = env.store.Lookup(context.Background(), "11222333000181")
	require.NoError(t, err)
	assert.Equal(t, "ligar", c.Notes)
	require.NotNil(t, c.NextContactDate)
	assert.Equal(t, "2026-06-01", c.NextContactDate.Format(time.DateOnly))
}

func TestBoardColumn(t *testing.T) {
	env := newTestEnv(t)
	seedCompanies(t, env.store)

	resp := env.do(t, http.MethodGet, "/board/novo", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	col := decode[board.Column](t, resp)
	assert.Equal(t, model.StageNew, col.Stage)
	assert.Len(t, col.Cards, 2)

	resp = env.do(t, http.MethodGet, "/board/fechado", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[board.Column](t, resp).Cards)

	resp = env.do(t, http.MethodGet, "/board/arquivado", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBoardValidation(t *testing.T) {
	env := newTestEnv(t)
	seedCompanies(t, env.store)

	resp := env.do(t, http.MethodPost, "/board/move", moveRequest{CNPJ: "11222333000181", Stage: "arquivado"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.Equal(t, "stage", body.Details["stage"])

	resp = env.do(t, http.MethodPost, "/board/notes", notesRequest{CNPJ: "11222333000181", NextContactDate: "01/06/2026"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body = decode[errorBody](t, resp)
	assert.Equal(t, "datetime", body.Details["next_contact_date"])

	resp = env.do(t, http.MethodPost, "/board/move", moveRequest{CNPJ: "99999999000199", Stage: "novo"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/board/move", map[string]string{"cnpj": "11222333000181", "stage": "novo", "extra": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCompaniesAndLookup(t *testing.T) {
	env := newTestEnv(t)
	seedCompanies(t, env.store)

	resp := env.do(t, http.MethodGet, "/companies?status=ativa", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]model.Company](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "11222333000181", list[0].CNPJ)

	resp = env.do(t, http.MethodGet, "/companies?start=2026-05-03&end=2026-05-03", nil)
	list = decode[[]model.Company](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "11444777000161", list[0].CNPJ)

	resp = env.do(t, http.MethodGet, "/companies?start=nope", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/companies/11222333000181", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Acme", decode[model.Company](t, resp).Name)

	resp = env.do(t, http.MethodGet, "/companies/11444777000199", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReportCountsAndExport(t *testing.T) {
	env := newTestEnv(t)
	seedCompanies(t, env.store)

	resp := env.do(t, http.MethodGet, "/reports/counts?field=stage", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	counts := decode[struct {
		Field  string `json:"field"`
		Counts []struct {
			Key   string `json:"key"`
			Count int    `json:"count"`
		} `json:"counts"`
	}](t, resp)
	assert.Equal(t, "stage", counts.Field)
	assert.Equal(t, "novo", counts.Counts[0].Key)
	assert.Equal(t, 2, counts.Counts[0].Count)

	resp = env.do(t, http.MethodGet, "/reports/counts?field=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/reports/export?format=csv&status=BAIXADA", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".csv")
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "11444777000161,Beta")
	assert.NotContains(t, buf.String(), "Acme")

	resp = env.do(t, http.MethodGet, "/reports/export?format=xlsx", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))

	resp = env.do(t, http.MethodGet, "/reports/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestParseFilter(t *testing.T) {
	t.Parallel()

	f, err := ParseFilter(url.Values{
		"start":  {"2026-05-01"},
		"end":    {"2026-05-31"},
		"status": {" ativa "},
		"stage":  {"Proposta"},
		"limit":  {"5000"},
		"offset": {"10"},
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), f.From)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), f.To, "end date is inclusive")
	assert.Equal(t, "ATIVA", f.Status)
	assert.Equal(t, model.StageProposal, f.Stage)
	assert.Equal(t, maxListLimit, f.Limit)
	assert.Equal(t, 10, f.Offset)

	_, err = ParseFilter(url.Values{"start": {"2026-05-02"}, "end": {"2026-05-01"}})
	assert.Error(t, err)
	_, err = ParseFilter(url.Values{"stage": {"x"}})
	assert.Error(t, err)
	_, err = ParseFilter(url.Values{"limit": {"-1"}})
	assert.Error(t, err)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodOptions, env.srv.URL+"/session/next", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
