package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	healthctrl "github.com/dropDatabas3/spawnhub/internal/http/controllers/health"
	mw "github.com/dropDatabas3/spawnhub/internal/http/middlewares"
)

// HealthRouterDeps contiene las dependencias de health y metrics.
type HealthRouterDeps struct {
	Controller     *healthctrl.HealthController
	MetricsHandler http.Handler
	Authz          mw.Authorizer
}

// RegisterHealthRoutes registra /health (sin auth) y /metrics (read:metrics).
func RegisterHealthRoutes(r chi.Router, d HealthRouterDeps) {
	r.Get("/health", d.Controller.Health)
	if d.MetricsHandler != nil {
		r.With(d.Authz.Require(mw.Global, "read:metrics")).Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}
}
