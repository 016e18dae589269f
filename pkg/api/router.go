// Package api provides the HTTP API server for the transaction
// coordinator.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sagaclaw/sagaclaw/config"
	"github.com/sagaclaw/sagaclaw/pkg/api/handlers"
	"github.com/sagaclaw/sagaclaw/pkg/api/middleware"
	"github.com/sagaclaw/sagaclaw/pkg/api/response"
	"github.com/sagaclaw/sagaclaw/pkg/logger"
)

// Handlers aggregates the request handlers wired into the router.
type Handlers struct {
	Transaction *handlers.TransactionHandler
	Health      *handlers.HealthHandler

	// Metrics is optional; when nil no HTTP metrics are recorded.
	Metrics middleware.MetricsRecorder
}

// NewRouter builds the chi router with the standard middleware chain and
// all API routes.
func NewRouter(cfg *config.Config, log logger.Logger, h Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}
	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.Timeout(cfg.Server.HTTP.ReadTimeout))

	r.Get("/healthz", h.Health.Health)
	r.Get("/readyz", h.Health.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.Transaction.Submit)
			r.Get("/", h.Transaction.List)
			r.Get("/{id}", h.Transaction.Get)
			r.Post("/{id}/cancel", h.Transaction.Cancel)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "route not found", middleware.GetRequestID(r.Context()))
	})

	return r
}
