/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind a proxy
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the coordination dashboard

ROUTE GROUPS:
  /api/suggestions/*    Generation and approval workflow
  /api/national/*       National → province transfers
  /api/provinces/*      Province → district transfers
  /api/districts/*      District → shelter transfers
  /api/stock/*          Stock levels and intake
  /api/allocations      Allocation history
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness and database check

SECURITY NOTE:
  No authentication middleware. The service is expected to sit behind a
  gateway that sets X-Actor-ID.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOption customizes NewRouter.
type RouterOption func(*routerConfig)

type routerConfig struct {
	metrics        http.Handler
	allowedOrigins []string
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) RouterOption {
	return func(c *routerConfig) { c.metrics = h }
}

// WithAllowedOrigins replaces the default CORS origins.
func WithAllowedOrigins(origins ...string) RouterOption {
	return func(c *routerConfig) { c.allowedOrigins = origins }
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts ...RouterOption) *chi.Mux {
	cfg := routerConfig{
		allowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/suggestions", func(r chi.Router) {
			r.Get("/", h.ListSuggestions)
			r.Post("/generate", h.GenerateSuggestions)
			r.Get("/stats", h.GetSuggestionStats)
			r.Post("/reconcile", h.ReconcileFlags)
			r.Get("/{id}", h.GetSuggestion)
			r.Post("/{id}/approve", h.ApproveSuggestion)
			r.Post("/{id}/reject", h.RejectSuggestion)
		})

		r.Post("/national/allocations", h.AllocateFromNational)
		r.Post("/provinces/{id}/allocations", h.AllocateFromProvince)
		r.Post("/districts/{id}/allocations", h.AllocateFromDistrict)

		r.Route("/stock", func(r chi.Router) {
			r.Get("/", h.ListStock)
			r.Post("/intake", h.ReceiveStock)
		})
		r.Get("/allocations", h.ListAllocations)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
