package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentchat/internal/api/middleware"
	"github.com/eldtechnologies/agentchat/internal/handlers"
	"github.com/eldtechnologies/agentchat/internal/hub"
	"github.com/eldtechnologies/agentchat/internal/store"
)

// Options carries the router's dependencies.
type Options struct {
	Store        store.DataStore
	Relay        *store.RedisStore // optional
	Hub          *hub.Hub
	HistoryLimit int
	Whitelist    []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(handlers.MaxRequestBytes))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting (no-op without Redis)
	limiter := middleware.NewRateLimiter(opts.Relay.Client(), logger, opts.Whitelist)
	r.Use(limiter.Middleware)

	// CORS - browser UIs may be served from another origin
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(opts.Store, opts.Relay, opts.Hub, logger, opts.HistoryLimit)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api", h.Root)
	r.Get("/health", h.Health)

	r.Get("/api/messages", h.GetMessages)
	r.Post("/api/message", h.PostMessage)
	r.Get("/api/agents", h.ListAgents)
	r.Get("/ws", h.Live)

	return r
}
