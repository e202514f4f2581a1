package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"restock_bot/internal/config"
	"restock_bot/internal/logbus"
	"restock_bot/internal/model"
	"restock_bot/internal/ws"
)

// SessionSource exposes the live session of this process.
type SessionSource interface {
	Snapshot() (model.SessionSnapshot, bool)
}

type History interface {
	ListSessions(ctx context.Context, limit int) ([]model.SessionRecord, error)
	GetSession(ctx context.Context, id string) (model.SessionRecord, error)
	ListEvents(ctx context.Context, sessionID string) ([]model.SessionEvent, error)
}

type Options struct {
	Cfg     config.ServerConfig
	Bus     *logbus.Bus
	Session SessionSource
	History History
}

// Server is a read-only monitor. It never touches the browser.
type Server struct {
	cfg     config.ServerConfig
	bus     *logbus.Bus
	session SessionSource
	history History
	ws      *ws.Handler
}

func New(opts Options) *Server {
	return &Server{
		cfg:     opts.Cfg,
		bus:     opts.Bus,
		session: opts.Session,
		history: opts.History,
		ws:      ws.NewHandler(opts.Bus, opts.Cfg.Cors.AllowOrigins),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/ws", s.ws)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return corsMiddleware(s.cfg.Cors, next) })
		r.Get("/session", s.handleSession)
		r.Get("/sessions", s.handleSessions)
		r.Get("/sessions/{id}", s.handleSessionRecord)
		r.Get("/sessions/{id}/events", s.handleSessionEvents)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	if s.session == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no active session"})
		return
	}
	snap, ok := s.session.Snapshot()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no active session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": snap})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}
	limit, err := parseInt(r.URL.Query().Get("limit"), 50)
	if err != nil || limit <= 0 || limit > 500 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be between 1 and 500"})
		return
	}
	list, err := s.history.ListSessions(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if list == nil {
		list = []model.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": list})
}

func (s *Server) handleSessionRecord(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}
	rec, err := s.history.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rec})
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}
	events, err := s.history.ListEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": events})
}

func (s *Server) historyEnabled(w http.ResponseWriter) bool {
	if s.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "history storage is disabled"})
		return false
	}
	return true
}

func parseInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
