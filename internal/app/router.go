package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warelink-erp/warelink/internal/auth"
	"github.com/warelink-erp/warelink/internal/invoicing"
	"github.com/warelink-erp/warelink/internal/rbac"
	"github.com/warelink-erp/warelink/internal/shared"
	"github.com/warelink-erp/warelink/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	SessionManager   *shared.SessionManager
	AuthHandler      *auth.Handler
	InvoicingHandler *invoicing.Handler
	JobHandler       *jobs.Handler
	RBACMiddleware   rbac.Middleware
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			params.AuthHandler.MountRoutes(r)
		})
		r.Route("/invoices", func(r chi.Router) {
			params.InvoicingHandler.MountRoutes(r, params.RBACMiddleware)
		})
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}
