// Package server exposes the REST API and the websocket event stream:
// run history, decisions, risk state, portfolio and order lifecycle,
// universe management, and the system operations endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/trapline/internal/config"
	"github.com/aristath/trapline/internal/database"
	"github.com/aristath/trapline/internal/events"
	"github.com/aristath/trapline/internal/modules/marketdata"
	"github.com/aristath/trapline/internal/modules/portfolio"
	"github.com/aristath/trapline/internal/modules/reporting"
	"github.com/aristath/trapline/internal/modules/universe"
	"github.com/aristath/trapline/internal/reliability"
	"github.com/aristath/trapline/internal/scheduler"
)

// Config holds the server dependencies.
type Config struct {
	Log       zerolog.Logger
	Cfg       *config.Config
	Bus       *events.Bus
	Journal   *reporting.Journal
	Portfolio *portfolio.Store
	Profiles  *universe.ProfileRepository
	Macro     *marketdata.MacroStore
	Databases map[string]*database.DB
	Scheduler *scheduler.Scheduler
	Pipeline  scheduler.Job
	Backup    *reliability.BackupService
}

// Server is the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	handlers *Handlers
	system   *SystemHandlers
	hub      *EventHub
}

// New creates the HTTP server with all routes wired.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.handlers = NewHandlers(cfg.Log, cfg.Journal, cfg.Portfolio, cfg.Profiles, cfg.Bus)
	s.system = NewSystemHandlers(SystemConfig{
		Log:       cfg.Log,
		DataDir:   cfg.Cfg.DataDir,
		Databases: cfg.Databases,
		Macro:     cfg.Macro,
		Scheduler: cfg.Scheduler,
		Pipeline:  cfg.Pipeline,
		Backup:    cfg.Backup,
	})
	s.hub = NewEventHub(cfg.Bus, cfg.Log)

	s.setupMiddleware(cfg.Cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		// The websocket upgrade must bypass the request timeout.
		r.Get("/events/ws", s.hub.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/health", s.system.HandleHealth)

			r.Route("/system", func(r chi.Router) {
				r.Get("/health", s.system.HandleSystemHealth)
				r.Post("/backup", s.system.HandleBackupNow)
			})

			r.Route("/runs", func(r chi.Router) {
				r.Get("/", s.handlers.HandleListRuns)
				r.Post("/trigger", s.system.HandleTriggerRun)
				r.Get("/{id}", s.handlers.HandleGetRun)
				r.Get("/{id}/decisions", s.handlers.HandleRunDecisions)
			})

			r.Route("/decisions", func(r chi.Router) {
				r.Get("/latest", s.handlers.HandleLatestDecisions)
			})

			r.Route("/risk", func(r chi.Router) {
				r.Get("/status", s.handlers.HandleRiskStatus)
				r.Post("/resume", s.handlers.HandleRiskResume)
			})

			r.Route("/portfolio", func(r chi.Router) {
				r.Get("/", s.handlers.HandlePortfolio)
				r.Get("/orders", s.handlers.HandleListOrders)
				r.Post("/orders/{id}/confirm", s.handlers.HandleConfirmOrder)
				r.Post("/orders/{id}/cancel", s.handlers.HandleCancelOrder)
			})

			r.Route("/universe", func(r chi.Router) {
				r.Get("/profiles", s.handlers.HandleListProfiles)
				r.Post("/profiles", s.handlers.HandleUpsertProfile)
			})
		})
	})
}

// Start begins serving. Blocks until the listener closes.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains the server and closes websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

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

// writeJSON writes a JSON response with the given status.
func writeJSON(log zerolog.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error body with the given status.
func writeError(log zerolog.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(log, w, status, map[string]string{"error": msg})
}
