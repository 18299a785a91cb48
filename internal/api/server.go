// Package api wires the HTTP router of the coaching daemon.
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"

	"setcoach/internal/api/handler"
	"setcoach/internal/coach"
	"setcoach/internal/config"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
// archive may be nil; journal-backed reads then answer 503.
func NewRouter(hub *coach.Hub, archive handler.Archive, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Cache-Control", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Process-Time", "Content-Disposition"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitRequests > 0 && cfg.RateLimitWindow > 0 {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	h := handler.New(hub, archive, logger)

	// --- Routes ---
	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sets", h.ListSets)
		r.Post("/sets", h.StartSet)

		r.Route("/sets/{setID}", func(r chi.Router) {
			r.Get("/", h.GetSet)
			r.Post("/samples", h.PushSamples)
			r.Post("/checkpoint", h.Checkpoint)
			r.Post("/end", h.EndSet)
			r.Get("/insights", h.GetInsights)
			r.Get("/outcome", h.GetOutcome)
			r.Get("/events", h.GetEvents)
			r.Get("/report.xlsx", h.GetReport)
		})
	})

	return r
}
