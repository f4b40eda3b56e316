// Package main provides the API router setup.
package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/manual-processor/cmd/manual-processor-api/handlers"
	"github.com/spherical/manual-processor/internal/observability"
)

// RouterConfig holds router settings.
type RouterConfig struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
	ServiceName    string
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, jobs handlers.JobService, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	service := cfg.ServiceName
	if service == "" {
		service = "manual-processor"
	}
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"` + service + `"}`))
	})

	processing := handlers.NewProcessingHandler(logger, jobs, cfg.MaxUploadBytes)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/manuals/process", func(r chi.Router) {
			r.Post("/", processing.Submit)
			r.Route("/{token}", func(r chi.Router) {
				r.Get("/", processing.Status)
				r.Post("/cancel", processing.Cancel)
				r.Get("/reference", processing.Reference)
				r.Get("/images/{name}", processing.Image)
			})
		})
	})

	return r
}
