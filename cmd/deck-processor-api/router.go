package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/spherical/libs/deck-processor/cmd/deck-processor-api/handlers"
	"github.com/spherical-ai/spherical/libs/deck-processor/cmd/deck-processor-api/middleware"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/config"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
)

// NewRouter creates the API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg config.ServerConfig, svc handlers.Service, checks ...handlers.Check) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.TraceID)
	r.Use(middleware.RequestLogger(logger.WithOperation("http")))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	system := handlers.NewSystemHandler(logger, svc, checks...)
	processing := handlers.NewProcessingHandler(logger, svc, cfg.MaxUploadBytes)
	status := handlers.NewStatusHandler(logger, svc)

	r.Get("/health", system.Health)
	r.Get("/ready", system.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/process", processing.Process)
		r.Post("/process/batch", processing.ProcessBatch)

		r.Route("/status/{jobId}", func(r chi.Router) {
			r.Get("/", status.Status)
			r.Post("/retry", status.Retry)
		})
		r.Get("/results/{sessionId}", status.Result)

		r.Get("/metrics", system.Metrics)
		r.Delete("/cache", system.ClearCache)
		r.Delete("/cache/{key}", system.ClearCache)
	})

	return r
}
