package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sendboard/internal/session"
	"sendboard/internal/storage"
	logx "sendboard/pkg/logx"
)

const defaultTokenTTL = 7 * 24 * time.Hour

// SessionHub is the slice of the session manager the API needs.
type SessionHub interface {
	Get(ctx context.Context, tenant string) (session.Session, error)
	Restart(ctx context.Context, tenant string) error
}

// UserStore authenticates dashboard logins.
type UserStore interface {
	Verify(username, password string) error
	Exists(username string) bool
}

type Config struct {
	Addr      string
	JWTSecret string
	TokenTTL  time.Duration
}

// Server is the dashboard JSON API.
type Server struct {
	addr     string
	secret   []byte
	tokenTTL time.Duration

	store    storage.Store
	users    UserStore
	sessions SessionHub
	log      logx.Logger

	srv *http.Server
}

func New(cfg Config, store storage.Store, usersReg UserStore, sessions SessionHub, log logx.Logger) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("server.jwt_secret is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	s := &Server{
		addr:     cfg.Addr,
		secret:   []byte(cfg.JWTSecret),
		tokenTTL: cfg.TokenTTL,
		store:    store,
		users:    usersReg,
		sessions: sessions,
		log:      log.With(logx.String("svc", "httpapi")),
	}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/api/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Post("/api/logout", s.handleLogout)
		r.Get("/api/status", s.handleStatus)
		r.Post("/api/bot/restart", s.handleBotRestart)
		r.Get("/api/groups", s.handleGroups)
		r.Get("/api/contacts", s.handleContacts)

		r.Get("/api/tasks", s.handleListTasks)
		r.Post("/api/tasks", s.handleCreateTask)
		r.Delete("/api/tasks/{id}", s.handleDeleteTask)

		r.Get("/api/templates", s.handleListTemplates)
		r.Post("/api/templates", s.handleCreateTemplate)
		r.Put("/api/templates/{id}", s.handleUpdateTemplate)
		r.Delete("/api/templates/{id}", s.handleDeleteTemplate)
		r.Post("/api/templates/{id}/generate", s.handleGenerateTasks)

		r.Get("/api/logs", s.handleLogs)
	})
	return r
}

func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api server exited", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
