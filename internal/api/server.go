// Package api exposes the upload, batch, board and report operations over
// HTTP with JSON responses.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/board"
	"github.com/sells-group/leadcheck/internal/pipeline"
	"github.com/sells-group/leadcheck/internal/report"
	"github.com/sells-group/leadcheck/internal/store"
	"github.com/sells-group/leadcheck/internal/validate"
)

// DefaultMaxUpload bounds spreadsheet uploads when Deps.MaxUploadBytes is 0.
const DefaultMaxUpload = 10 << 20

// Deps wires the server to the application services.
type Deps struct {
	Controller      *pipeline.Controller
	Store           store.Store
	ValidateOptions validate.Options
	MaxUploadBytes  int64
	CORSOrigins     []string
}

// Server holds the HTTP handlers.
type Server struct {
	ctl       *pipeline.Controller
	store     store.Store
	board     *board.Projector
	reports   *report.Reporter
	opts      validate.Options
	maxUpload int64
	origins   []string
	val       *validator.Validate
}

// New builds a Server from its dependencies.
func New(d Deps) *Server {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = DefaultMaxUpload
	}
	if len(d.CORSOrigins) == 0 {
		d.CORSOrigins = []string{"*"}
	}
	return &Server{
		ctl:       d.Controller,
		store:     d.Store,
		board:     board.New(d.Store),
		reports:   report.New(d.Store),
		opts:      d.ValidateOptions,
		maxUpload: d.MaxUploadBytes,
		origins:   d.CORSOrigins,
		val:       newValidator(),
	}
}

// Routes returns the router with every endpoint mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/template", s.template)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.sessionStatus)
		r.Post("/", s.upload)
		r.Delete("/", s.discard)
		r.Post("/next", s.next)
		r.Post("/pause", s.pause)
		r.Post("/resume", s.resume)
		r.Post("/toggle", s.toggle)
	})

	r.Route("/board", func(r chi.Router) {
		r.Get("/", s.getBoard)
		r.Get("/{stage}", s.boardColumn)
		r.Post("/move", s.move)
		r.Post("/notes", s.notes)
	})

	r.Get("/companies", s.companies)
	r.Get("/companies/{cnpj}", s.company)

	r.Route("/reports", func(r chi.Router) {
		r.Get("/counts", s.counts)
		r.Get("/export", s.export)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zap.L().Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("health: store ping failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": string(s.ctl.State())})
}
