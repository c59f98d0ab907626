/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Logger:     Structured request logging (zerolog)
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/v1/*      Versioned billing API (see handlers.go for the full list)
  /healthz       Liveness probe
  /metrics       Prometheus scrape endpoint

AUTHENTICATION:
  Bearer JWT. Public: register, auth, refresh, course reads (course listing
  upgrades with ownership info when a token is present). Everything touching
  money requires a token; catalog mutations additionally require
  ROLE_SUPER_ADMIN.

SEE ALSO:
  - handlers.go: handler implementations
  - middleware.go: auth middleware
  - cmd/server/main.go: server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoints
		r.Post("/register", h.Register)
		r.Post("/auth", h.Login)
		r.Post("/token/refresh", h.Refresh)

		// Catalog reads: public, ownership info added when a token is present
		r.Group(func(r chi.Router) {
			r.Use(h.optionalAuth)
			r.Get("/courses", h.ListCourses)
			r.Get("/courses/{code}", h.GetCourse)
		})

		// Authenticated user endpoints
		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/users/current", h.CurrentUser)
			r.Post("/courses/{code}/pay", h.PayCourse)
			r.Post("/deposit", h.Deposit)
			r.Get("/transactions", h.Transactions)
		})

		// Admin catalog management
		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth, h.requireAdmin)
			r.Post("/courses", h.CreateCourse)
			r.Post("/courses/{code}", h.EditCourse)
			r.Delete("/courses/{code}", h.DeleteCourse)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
