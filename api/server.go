/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RealIP:        Client address from X-Forwarded-For / X-Real-IP
  3. RequestLogger: One zap line per request
  4. Recoverer:     Panic recovery (500 instead of crash)
  5. CORS:          Cross-origin requests for the frontend
  6. Authenticate:  Bearer token to leave.Actor (anonymous when absent)
  7. RateLimiter:   Token bucket per caller (optional)

ROUTE GROUPS:
  /healthz              Liveness (public)
  /api/auth/*           Registration (public)
  /api/departments      Department list is public, changes need a caller
  /api/*                Everything else requires a caller

  POST routes that create or change state accept an Idempotency-Key header
  when Redis is configured.

SEE ALSO:
  - handlers.go: Handler implementations
  - identity.go: Token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterOptions carries the optional middleware.
type RouterOptions struct {
	AllowedOrigins []string
	Logger         *zap.Logger
	RateLimiter    *RateLimiter
	Idempotency    *Idempotency
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.L().Named("api.http")
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader},
		ExposedHeaders:   []string{"Idempotent-Replayed"},
		AllowCredentials: true,
	}))
	r.Use(h.Auth.Authenticate)
	if opts.RateLimiter != nil {
		r.Use(opts.RateLimiter.Middleware)
	}

	idempotent := func(next http.Handler) http.Handler { return next }
	if opts.Idempotency != nil {
		idempotent = opts.Idempotency.Middleware
	}

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.Register)
		r.Get("/departments", h.ListDepartments)

		r.Group(func(r chi.Router) {
			r.Use(RequireActor)

			r.Get("/me", h.Me)

			// Flat patterns: a mounted /departments subrouter would shadow
			// the public GET above.
			r.Post("/departments", h.CreateDepartment)
			r.Put("/departments/{id}/quota", h.UpdateDepartmentQuota)

			r.Get("/employees/{id}", h.GetEmployee)
			r.Get("/employees/{id}/ledger", h.Ledger)

			r.With(idempotent).Post("/leave-requests", h.SubmitLeaveRequest)
			r.Get("/leave-requests", h.ListLeaveRequests)
			r.Get("/leave-requests/mine", h.MyLeaveRequests)
			r.With(idempotent).Post("/leave-requests/{id}/review", h.ReviewLeaveRequest)
			r.With(idempotent).Post("/leave-requests/{id}/cancel", h.CancelLeaveRequest)

			r.With(idempotent).Post("/admin/reset-balances", h.ResetBalances)

			r.Get("/reports/overview", h.Overview)
			r.Get("/reports/departments", h.DepartmentStats)

			r.Post("/uploads/proof", h.UploadProof)
		})
	})

	return r
}
