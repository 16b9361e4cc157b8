package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/MrGarbonzo/boardroom-tee/internal/api/middleware"
	"github.com/MrGarbonzo/boardroom-tee/internal/handlers"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(
	logger zerolog.Logger,
	h *handlers.Handler,
	auth *middleware.AuthMiddleware,
	limiter *middleware.RateLimiter,
) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024)) // attestation quotes are a few KB base64
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	r.Use(limiter.Middleware)

	// CORS - allow all origins (agents call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Boardroom-Agent", "X-Boardroom-Nonce", "X-Boardroom-Timestamp", "X-Boardroom-Signature", "X-Boardroom-Admin-Token"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Post("/register", h.Register)
	r.Get("/who/{identity}", h.Who)
	r.Get("/directory", h.Directory)

	// Authenticated routes (require signature)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Post("/agents/{identity}/heartbeat", h.Heartbeat)
		r.Delete("/agents/{identity}", h.Deregister)
		r.Post("/route", h.Route)
		r.Post("/route/{id}/result", h.RouteResult)
		r.Post("/relay", h.Relay)
		r.Get("/inbox", h.Inbox)
	})

	// Admin routes (require admin token, not agent signatures)
	r.Post("/admin/policy/reload", h.ReloadPolicy)
	r.Get("/admin/audit", h.AuditLog)

	return r
}
