// Package server wires the HTTP API together.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/modules/audit"
	"github.com/aquilalabs/watchdeck/internal/modules/cards"
	"github.com/aquilalabs/watchdeck/internal/modules/executions"
	"github.com/aquilalabs/watchdeck/internal/modules/notify"
	"github.com/aquilalabs/watchdeck/internal/modules/rules"
)

// Config holds server configuration and the module handlers to mount.
type Config struct {
	Port    int
	DevMode bool
	Log     zerolog.Logger

	Cards         *cards.Handlers
	Rules         *rules.Handlers
	Audit         *audit.Handlers
	Executions    *executions.Handlers
	Notifications *notify.Handlers
	Hub           *notify.Hub
	System        *SystemHandlers
}

// Server is the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware.
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/cards", func(r chi.Router) {
			r.Post("/", s.cfg.Cards.HandleCreate)
			r.Get("/", s.cfg.Cards.HandleList)
			r.Get("/{id}", s.cfg.Cards.HandleGet)
			r.Put("/{id}/note", s.cfg.Cards.HandleUpdateNote)
			r.Put("/{id}/status", s.cfg.Cards.HandleChangeStatus)
			r.Delete("/{id}", s.cfg.Cards.HandleDelete)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Post("/", s.cfg.Rules.HandleCreate)
			r.Get("/", s.cfg.Rules.HandleList)
			r.Get("/{id}", s.cfg.Rules.HandleGet)
			r.Put("/{id}", s.cfg.Rules.HandleUpdate)
			r.Put("/{id}/enabled", s.cfg.Rules.HandleEnable)
			r.Delete("/{id}", s.cfg.Rules.HandleDelete)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/cards/{cardId}", s.cfg.Audit.HandleListByCard)
			r.Get("/users/{userId}", s.cfg.Audit.HandleListByUser)
			r.Get("/actors/{actorId}", s.cfg.Audit.HandleListByActor)
		})

		r.Route("/executions", func(r chi.Router) {
			r.Get("/{id}", s.cfg.Executions.HandleGet)
			r.Get("/rules/{ruleId}", s.cfg.Executions.HandleListByRule)
			r.Get("/cards/{cardId}", s.cfg.Executions.HandleListByCard)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.cfg.Notifications.HandleList)
			r.Get("/unread-count", s.cfg.Notifications.HandleUnreadCount)
			r.Get("/stream", s.cfg.Hub.HandleSubscribe)
			r.Put("/read-all", s.cfg.Notifications.HandleMarkAllRead)
			r.Put("/{id}/read", s.cfg.Notifications.HandleMarkRead)
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.cfg.System.HandleSystemStatus)
			r.Get("/databases", s.cfg.System.HandleDatabaseStats)
		})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth is the liveness endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
