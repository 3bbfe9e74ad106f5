// Package server provides the HTTP server and routing for arcq.
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

	"github.com/arclab/arcq/internal/backends"
	"github.com/arclab/arcq/internal/config"
	"github.com/arclab/arcq/internal/database"
	"github.com/arclab/arcq/internal/events"
	"github.com/arclab/arcq/internal/modules/drift"
	drifthandlers "github.com/arclab/arcq/internal/modules/drift/handlers"
	"github.com/arclab/arcq/internal/modules/experiments"
	experimenthandlers "github.com/arclab/arcq/internal/modules/experiments/handlers"
	"github.com/arclab/arcq/internal/modules/settings"
	settingshandlers "github.com/arclab/arcq/internal/modules/settings/handlers"
	"github.com/arclab/arcq/internal/scheduler"
)

// Config holds server configuration.
type Config struct {
	Log       zerolog.Logger
	ResultsDB *database.DB
	ConfigDB  *database.DB
	CacheDB   *database.DB
	Config    *config.Config
	Port      int
	DevMode   bool

	Bus         *events.Bus
	Registry    *backends.Registry
	StatusCache *backends.StatusCache
	Experiments *experiments.Service
	Drift       *drift.Monitor
	Settings    *settings.Service
	Refresher   settingshandlers.CredentialRefresher
	Scheduler   *scheduler.Scheduler
	History     *scheduler.HistoryRepository
}

// Server is the HTTP server.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            Config
	systemHandlers *SystemHandlers
}

// New creates the HTTP server and wires all routes.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}

	s.systemHandlers = NewSystemHandlers(
		cfg.Log,
		cfg.Config.DataDir,
		[]*database.DB{cfg.ResultsDB, cfg.ConfigDB, cfg.CacheDB},
	)

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE and run WebSocket connections stay open for
		// the lifetime of a run.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Router exposes the chi mux, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupMiddleware configures middleware.
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

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
		r.Get("/health", s.handleHealth)

		// Streaming endpoints: SSE fan-out of all system events, and a
		// per-run WebSocket that closes after the terminal event.
		eventsStream := NewEventsStreamHandler(s.cfg.Bus, s.log)
		r.Get("/events/stream", eventsStream.ServeHTTP)

		runStream := NewRunStreamHandler(s.cfg.Bus, s.log)
		r.Get("/runs/{id}/ws", runStream.ServeHTTP)

		// Experiments module
		experimentHandler := experimenthandlers.NewHandler(s.cfg.Experiments, s.log)
		experimentHandler.RegisterRoutes(r)

		// Drift module
		driftHandler := drifthandlers.NewHandler(s.cfg.Drift, s.log)
		driftHandler.RegisterRoutes(r)

		// Settings module
		settingsHandler := settingshandlers.NewHandler(s.cfg.Settings, s.cfg.Bus, s.log)
		settingsHandler.SetCredentialRefresher(s.cfg.Refresher)
		settingsHandler.RegisterRoutes(r)

		// Backends
		r.Get("/backends", s.handleListBackends)
		r.Get("/backends/{name}/status", s.handleBackendStatus)

		// Scheduled jobs
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/{name}/history", s.handleJobHistory)
			r.Post("/{name}/run", s.handleRunJob)
		})

		// System monitoring
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
			r.Get("/disk", s.systemHandlers.HandleDiskUsage)
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
