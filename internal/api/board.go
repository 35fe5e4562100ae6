package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/validate"
)

type moveRequest struct {
	CNPJ  string `json:"cnpj" validate:"required,cnpj"`
	Stage string `json:"stage" validate:"required,stage"`
}

type notesRequest struct {
	CNPJ            string `json:"cnpj" validate:"required,cnpj"`
	Notes           string `json:"notes" validate:"max=4000"`
	NextContactDate string `json:"next_contact_date" validate:"omitempty,datetime=2006-01-02"`
}

func (s *Server) getBoard(w http.ResponseWriter, r *http.Request) {
	b, err := s.board.Project(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) boardColumn(w http.ResponseWriter, r *http.Request) {
	stage, err := model.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	col, err := s.board.ProjectStage(r.Context(), stage)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, col)
}

func (s *Server) move(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	b, err := s.board.Move(r.Context(), validate.NormalizeCNPJ(req.CNPJ), req.Stage)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) notes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	var next *time.Time
	if req.NextContactDate != "" {
		d, _ := time.Parse(time.DateOnly, req.NextContactDate)
		next = &d
	}
	b, err := s.board.SaveNotes(r.Context(), validate.NormalizeCNPJ(req.CNPJ), req.Notes, next)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
