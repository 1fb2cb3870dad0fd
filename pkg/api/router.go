package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Mindburn-Labs/jitaccess/pkg/auth"
)

// NewRouter assembles the full HTTP surface. Health endpoints bypass
// authentication; everything under /api requires a verified principal and
// is rate limited per principal.
func NewRouter(handlers *Handlers, health *HealthHandler,
	verifier auth.AssertionVerifier, assertionHeader string, limiter *auth.RateLimiter) http.Handler {

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(auth.RequestID)

	r.Get("/health/alive", health.Alive)
	r.Get("/health/ready", health.Ready)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(verifier, assertionHeader, WriteProblem))
		r.Use(limiter.Middleware(WriteProblem))

		r.Get("/metadata", handlers.Metadata)
		r.Get("/projects", handlers.ListProjects)
		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/roles", handlers.ListRoles)
			r.Get("/peers", handlers.ListPeers)
			r.Post("/roles/self-activate", handlers.SelfActivate)
			r.Post("/roles/request", handlers.RequestActivation)
		})
		r.Get("/activation-request", handlers.DescribeActivationRequest)
		r.Post("/activation-request/approve", handlers.ApproveActivationRequest)
	})

	return r
}
