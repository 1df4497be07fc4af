// Package server provides the HTTP read API over the ledger: position
// snapshots, realizations, marks, realization statistics, and health.
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

	"github.com/quantdesk/lotledger/internal/database"
	"github.com/quantdesk/lotledger/internal/modules/ingest"
	"github.com/quantdesk/lotledger/internal/modules/ledger"
	"github.com/quantdesk/lotledger/internal/modules/marks"
	"github.com/quantdesk/lotledger/internal/modules/pnl"
	"github.com/quantdesk/lotledger/internal/modules/positions"
)

// Config holds server configuration
type Config struct {
	Log            zerolog.Logger
	DB             *database.DB
	DataDir        string
	Port           int
	DevMode        bool
	Snapshots      *positions.SnapshotRepository
	Lots           *ledger.LotRepository
	Realizations   *ledger.RealizationRepository
	Ledger         *ledger.Service
	Marks          *marks.Repository
	Calculator     *pnl.Calculator
	ProcessedFiles *ingest.ProcessedFileRepository
}

// Server is the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	handlers *Handlers
	system   *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		handlers: NewHandlers(cfg.Log, cfg.Snapshots, cfg.Lots, cfg.Realizations,
			cfg.Ledger, cfg.Marks, cfg.Calculator, cfg.ProcessedFiles),
		system: NewSystemHandlers(cfg.Log, cfg.DB, cfg.DataDir),
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

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.system.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/positions", func(r chi.Router) {
			r.Get("/{date}", s.handlers.HandleSnapshotsByDate)
			r.Get("/latest/{symbol}", s.handlers.HandleLatestSnapshots)
		})

		r.Route("/realizations", func(r chi.Router) {
			r.Get("/{method}", s.handlers.HandleRealizations)
			r.Get("/{method}/{symbol}", s.handlers.HandleRealizationsBySymbol)
			r.Get("/{method}/{symbol}/stats", s.handlers.HandleRealizationStats)
		})

		r.Route("/lots", func(r chi.Router) {
			r.Get("/{method}", s.handlers.HandleOpenLots)
		})

		r.Route("/pnl", func(r chi.Router) {
			r.Get("/{method}/total", s.handlers.HandleTotalPnL)
		})

		r.Get("/marks", s.handlers.HandleMarks)
		r.Get("/invariant/{symbol}", s.handlers.HandleInvariantCheck)
		r.Get("/processed-files", s.handlers.HandleProcessedFiles)

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.system.HandleSystemStatus)
			r.Get("/database/stats", s.system.HandleDatabaseStats)
		})
	})
}

// Router exposes the mux, used by tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs each request with timing
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}
