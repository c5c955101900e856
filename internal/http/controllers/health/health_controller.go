// Package health contiene el controller de /hub/health.
package health

import (
	"net/http"

	"github.com/dropDatabas3/spawnhub/internal/hub"
	dto "github.com/dropDatabas3/spawnhub/internal/http/dto/api"
	"github.com/dropDatabas3/spawnhub/internal/http/helpers"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
)

// HealthController maneja el health check.
type HealthController struct {
	hub *hub.Hub
}

// NewHealthController crea el controller.
func NewHealthController(h *hub.Hub) *HealthController {
	return &HealthController{hub: h}
}

// Health maneja GET /hub/health. 503 hasta que el proxy respondió por
// primera vez, o mientras los spawns estén deshabilitados por fallas.
func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	info := c.hub.Info()
	resp := dto.HealthResponse{
		Status:         "ok",
		ProxyReady:     info.ProxyReady,
		SpawnsDisabled: info.SpawnsDisabled,
	}
	status := http.StatusOK
	if !info.ProxyReady || info.SpawnsDisabled {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	logger.From(r.Context()).Debug("health check completed",
		logger.Layer("controller"),
		logger.String("status", resp.Status),
	)
	w.Header().Set("X-Service-Version", hub.Version)
	helpers.WriteJSON(w, status, resp)
}
