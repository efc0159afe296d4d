package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/brandviz/brandviz/internal/metrics"
	"github.com/brandviz/brandviz/internal/middleware"
)

type RouterOptions struct {
	Metrics *metrics.Metrics
	// Inngest serves the job runner's function endpoint; nil leaves it unmounted
	Inngest http.Handler
	Checks  map[string]HealthCheck
}

// NewRouter wires every route of the API.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(h.logger)...)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Metrics(opts.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusNotFound, "resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	r.Get("/health", Health(opts.Checks))
	r.Handle("/metrics", opts.Metrics.Handler())
	if opts.Inngest != nil {
		r.Handle("/api/inngest", opts.Inngest)
	}

	requireUser := middleware.RequireUser(h.svc.Users, h.cfg.Auth.CookieName)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", h.Signup)
		r.Post("/auth/login", h.Login)
		r.Post("/auth/logout", h.Logout)
		r.Post("/credits/webhook", h.StripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Get("/auth/me", h.Me)
			r.Post("/invites/accept", h.AcceptInvite)

			r.Route("/credits", func(r chi.Router) {
				r.Get("/balance", h.CreditBalance)
				r.Get("/history", h.CreditHistory)
				r.Get("/packages", h.CreditPackages)
				r.Post("/checkout", h.Checkout)
			})

			r.Route("/brand", func(r chi.Router) {
				r.Get("/", h.ListBrands)
				r.Post("/", h.CreateBrand)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetBrand)
					r.Patch("/", h.UpdateBrand)
					r.Delete("/", h.DeleteBrand)

					r.Get("/dashboard", h.Dashboard)
					r.Get("/matrix", h.Matrix)
					r.Get("/logs", h.Logs)

					r.Post("/analysis", h.StartAnalysis)
					r.Get("/analysis", h.ListAnalyses)
					r.Get("/analysis/{analysisId}", h.GetAnalysis)
					r.Post("/analysis/{analysisId}/cancel", h.CancelAnalysis)

					r.Get("/members", h.ListMembers)
					r.Patch("/members/{userId}", h.ChangeRole)
					r.Delete("/members/{userId}", h.RemoveMember)

					r.Get("/invites", h.ListInvites)
					r.Post("/invites", h.CreateInvite)
					r.Delete("/invites/{inviteId}", h.RevokeInvite)
				})
			})
		})
	})

	return r
}
