package api

import (
	"errors"
	"net/http"

	"github.com/sells-group/leadcheck/internal/pipeline"
	"github.com/sells-group/leadcheck/internal/sheet"
	"github.com/sells-group/leadcheck/internal/validate"
)

// uploadField is the multipart field carrying the spreadsheet.
const uploadField = "file"

type uploadResponse struct {
	Status  pipeline.StatusReport `json:"status"`
	Rows    int                   `json:"rows"`
	Skipped int                   `json:"skipped"`
}

type missingColumnsBody struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing"`
	Found   []string `json:"found"`
}

type validationBody struct {
	Error  string              `json:"error"`
	Errors []validate.RowError `json:"errors"`
}

func (s *Server) template(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="modelo_empresas.xlsx"`)
	if err := sheet.WriteTemplate(w); err != nil {
		writeFailure(w, err)
	}
}

// upload validates a spreadsheet and, only when every row is valid, loads
// it as the new session.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart upload with a "+uploadField+" field")
		return
	}
	f, hdr, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing "+uploadField+" field")
		return
	}
	defer f.Close() //nolint:errcheck

	res, err := sheet.Parse(f, hdr.Filename, s.opts)
	if err != nil {
		var missing *sheet.MissingColumnsError
		var verrs validate.Errors
		switch {
		case errors.As(err, &missing):
			writeJSON(w, http.StatusUnprocessableEntity, missingColumnsBody{
				Error:   missing.Error(),
				Missing: missing.Missing,
				Found:   missing.Found,
			})
		case errors.As(err, &verrs):
			writeJSON(w, http.StatusUnprocessableEntity, validationBody{Error: "validation failed", Errors: verrs})
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	if len(res.Rows) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no rows to process")
		return
	}

	if _, err := s.ctl.Load(r.Context(), res.Rows, hdr.Filename); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{Status: s.ctl.Status(), Rows: len(res.Rows), Skipped: res.Skipped})
}

func (s *Server) sessionStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) discard(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Discard(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) next(w http.ResponseWriter, r *http.Request) {
	rep, err := s.ctl.ProcessNextBatch(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Pause(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

// toggle flips the pause flag, so a single button can drive it.
func (s *Server) toggle(w http.ResponseWriter, r *http.Request) {
	if _, err := s.ctl.TogglePause(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Resume(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Status())
}
