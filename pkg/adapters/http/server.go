package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode"

	"github.com/aretw0/blueprint"
	"github.com/aretw0/blueprint/internal/logging"
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/recovery"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// MaxInputLength bounds one author input, matching the stored field limit.
const MaxInputLength = 4000

// Engine is the part of blueprint.Engine the API serves.
type Engine interface {
	Create(ctx context.Context) (*blueprint.Turn, error)
	Load(ctx context.Context, sessionID string) (*blueprint.Turn, error)
	Submit(ctx context.Context, sessionID, text string) (*blueprint.Turn, error)
	Resolve(ctx context.Context, sessionID string, accept bool) (*blueprint.Turn, error)
	Jump(ctx context.Context, sessionID string, target domain.StageID) (*blueprint.Turn, error)
	Reset(ctx context.Context, sessionID string) (*blueprint.Turn, error)
	Suggest(ctx context.Context, sessionID string) (*blueprint.Turn, error)
	Snapshot(ctx context.Context, sessionID string) (domain.Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]string, error)
}

// Server implements the JSON API.
type Server struct {
	engine  Engine
	streams *StreamManager
	metrics http.Handler
	logger  *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithMetrics mounts a Prometheus handler at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates the API server.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{engine: engine, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.streams = NewStreamManager(s.logger)
	return s
}

// Streams returns the SSE stream manager.
func (s *Server) Streams() *StreamManager { return s.streams }

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	return NewServer(engine, opts...).Routes()
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.health)
	r.Get("/info", s.info)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.list)
		r.Post("/", s.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.snapshot)
			r.Delete("/", s.remove)
			r.Post("/load", s.load)
			r.Post("/input", s.input)
			r.Post("/resolve", s.resolve)
			r.Post("/jump", s.jump)
			r.Post("/reset", s.reset)
			r.Post("/suggest", s.suggest)
			r.Get("/events", s.events)
		})
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// InputRequest is the body of POST /sessions/{id}/input.
type InputRequest struct {
	Text string `json:"text"`
}

// ResolveRequest is the body of POST /sessions/{id}/resolve.
type ResolveRequest struct {
	Accept bool `json:"accept"`
}

// JumpRequest is the body of POST /sessions/{id}/jump.
type JumpRequest struct {
	Stage string `json:"stage"`
}

// ErrorResponse is returned for every failed request. Turn is set when the
// operation was rejected but the session state is still meaningful.
type ErrorResponse struct {
	Error string          `json:"error"`
	Turn  *blueprint.Turn `json:"turn,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "blueprint-http",
		"version": strings.TrimSpace(blueprint.Version),
	})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.List(r.Context())
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	turn, err := s.engine.Create(r.Context())
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusCreated, turn)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) load(w http.ResponseWriter, r *http.Request) {
	turn, err := s.engine.Load(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, turn, err)
}

func (s *Server) input(w http.ResponseWriter, r *http.Request) {
	var body InputRequest
	if !s.decode(w, r, &body) {
		return
	}
	text, err := sanitizeInput(body.Text)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	turn, err := s.engine.Submit(r.Context(), chi.URLParam(r, "id"), text)
	s.respond(w, r, turn, err)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	var body ResolveRequest
	if !s.decode(w, r, &body) {
		return
	}
	turn, err := s.engine.Resolve(r.Context(), chi.URLParam(r, "id"), body.Accept)
	s.respond(w, r, turn, err)
}

func (s *Server) jump(w http.ResponseWriter, r *http.Request) {
	var body JumpRequest
	if !s.decode(w, r, &body) {
		return
	}
	target, err := domain.ParseStage(body.Stage)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	turn, err := s.engine.Jump(r.Context(), chi.URLParam(r, "id"), target)
	s.respond(w, r, turn, err)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	turn, err := s.engine.Reset(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, turn, err)
}

func (s *Server) suggest(w http.ResponseWriter, r *http.Request) {
	turn, err := s.engine.Suggest(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, turn, err)
}

// respond writes the turn, broadcasting its diff to subscribers first.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, turn *blueprint.Turn, err error) {
	if turn != nil {
		s.streams.publish(turn.Diff)
	}
	if err != nil {
		s.fail(w, r, err, turn)
		return
	}
	s.writeJSON(w, http.StatusOK, turn)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.logger.Warn("Invalid request body", "path", r.URL.Path, "err", err)
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

// fail maps engine errors to status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, turn *blueprint.Turn) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "err", err)
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Turn: turn})
}

func statusOf(err error) int {
	var gate *domain.GateError
	var gen *domain.GenerationError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownStage):
		return http.StatusBadRequest
	case errors.As(err, &gate),
		errors.Is(err, domain.ErrBackwardJump),
		errors.Is(err, domain.ErrNoPendingConfirmation),
		errors.Is(err, domain.ErrSuperseded):
		return http.StatusConflict
	case recovery.IsInvalid(err):
		return http.StatusUnprocessableEntity
	case errors.As(err, &gen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}

// sanitizeInput trims the input and rejects oversized text or control characters.
func sanitizeInput(text string) (string, error) {
	if len(text) > MaxInputLength {
		return "", fmt.Errorf("input exceeds %d bytes", MaxInputLength)
	}
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return "", fmt.Errorf("input contains control character %U", r)
		}
	}
	return strings.TrimSpace(text), nil
}
