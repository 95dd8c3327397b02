/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counts by route pattern (optional)
  5. CORS:       Cross-origin requests for the finance frontend

ROUTE GROUPS:
  /api/policies/*       Commission plans
  /api/periods/*        Month sync, lock, records and history
  /healthz              Liveness
  METRICS_PATH          Prometheus exposition (optional)

SEE ALSO:
  - handlers.go: Handler implementations
  - metrics/prometheus.go: Middleware and exposition handler
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures optional parts of the router.
type RouterOptions struct {
	// CORSOrigins defaults to the local frontend origins.
	CORSOrigins []string

	// Metrics, when set, wraps every route and is served at MetricsPath.
	Metrics     MetricsProvider
	MetricsPath string
}

// MetricsProvider is satisfied by *metrics.Metrics.
type MetricsProvider interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, opts.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
			r.Get("/{code}", h.GetPolicy)
			r.Put("/{code}", h.UpdatePolicy)
			r.Delete("/{code}", h.DeletePolicy)
		})

		// Period routes
		r.Route("/periods/{month}", func(r chi.Router) {
			r.Get("/", h.GetPeriod)
			r.Post("/sync", h.SyncPeriod)
			r.Post("/lock", h.LockPeriod)
			r.Post("/unlock", h.UnlockPeriod)
			r.Get("/audit", h.ListAudit)
			r.Get("/runs", h.ListSyncRuns)

			r.Route("/records", func(r chi.Router) {
				r.Get("/", h.ListRecords)
				r.Post("/", h.CreateRecord)
				r.Put("/{employeeID}/adjustment", h.SetAdjustment)
				r.Delete("/{employeeID}", h.DeleteRecord)
			})
		})
	})

	return r
}
