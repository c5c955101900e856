package api

import (
	"net/http"

	"github.com/dropDatabas3/spawnhub/internal/hub"
	"github.com/dropDatabas3/spawnhub/internal/http/helpers"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
)

// ProxyController maneja /proxy (inspección y sync de la tabla de rutas).
type ProxyController struct {
	hub *hub.Hub
}

// GetRoutes maneja GET /proxy
func (c *ProxyController) GetRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := c.hub.Routes(r.Context())
	if err != nil {
		fail(w, r, "ProxyController.GetRoutes", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, routes)
}

// Sync maneja POST /proxy: fuerza un check_routes y devuelve lo corregido.
func (c *ProxyController) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := c.hub.SyncRoutes(ctx)
	if err != nil {
		fail(w, r, "ProxyController.Sync", err)
		return
	}
	logger.From(ctx).Info("proxy synced on request",
		logger.Layer("controller"),
		logger.Int("added", len(report.Added)),
		logger.Int("updated", len(report.Updated)),
		logger.Int("removed", len(report.Removed)),
	)
	helpers.WriteJSON(w, http.StatusOK, report)
}
