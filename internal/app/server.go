package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markdave123-py/Extracta/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/Extracta/internal/api/middlewares"
	"github.com/markdave123-py/Extracta/internal/config"
	"github.com/markdave123-py/Extracta/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, svc *services.ExtractionService, archive *services.ArchiveService, jobs *services.JobService, logger *slog.Logger) *Server {
	authHandler := handlers.NewAuthHandler(cfg.ClientID, cfg.ClientSecretHash, cfg.JWTSecret)
	extractHandler := handlers.NewExtractHandler(svc, archive, cfg.MaxDownloadBytes(), cfg.AllowLocalSources, logger)
	runsHandler := handlers.NewRunsHandler(svc, jobs)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", handlers.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/token", authHandler.Token)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))
			protected.Get("/engines", extractHandler.Engines)
			protected.Get("/runs", runsHandler.ListRuns)
			protected.Get("/runs/{id}", runsHandler.GetRun)
			protected.Get("/jobs/{id}", runsHandler.GetJob)
			protected.Post("/jobs", extractHandler.SubmitJob(runsHandler.CreateJob))

			// extraction streams can run long; bound them separately
			protected.Group(func(stream chi.Router) {
				stream.Use(middleware.Timeout(10 * cfg.RequestTimeout))
				stream.Post("/extract", extractHandler.Extract)
				stream.Post("/extract/source", extractHandler.ExtractSource)
			})
		})
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv, logger: logger}
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
