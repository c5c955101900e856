package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/spawnhub/internal/hub"
	dto "github.com/dropDatabas3/spawnhub/internal/http/dto/api"
	"github.com/dropDatabas3/spawnhub/internal/http/helpers"
	mw "github.com/dropDatabas3/spawnhub/internal/http/middlewares"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
)

// RolesController maneja /roles.
type RolesController struct {
	hub *hub.Hub
}

// ListRoles maneja GET /roles
func (c *RolesController) ListRoles(w http.ResponseWriter, r *http.Request) {
	list, err := c.hub.ListRoles(r.Context())
	if err != nil {
		fail(w, r, "RolesController.ListRoles", err)
		return
	}
	resp := make([]dto.RoleResponse, 0, len(list))
	for i := range list {
		resp = append(resp, role(&list[i]))
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// ServicesController maneja /services.
type ServicesController struct {
	hub   *hub.Hub
	authz mw.Authorizer
	m     *mapper
}

// ListServices maneja GET /services. Devuelve solo los que el caller puede listar.
func (c *ServicesController) ListServices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := c.hub.ListServices(ctx)
	if err != nil {
		fail(w, r, "ServicesController.ListServices", err)
		return
	}
	resp := make([]dto.ServiceResponse, 0, len(list))
	for i := range list {
		if !c.authz.Allowed(ctx, "list:services", scopes.ServiceResource(list[i].Name)) {
			continue
		}
		resp = append(resp, c.m.service(&list[i]))
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// GetService maneja GET /services/{name}
func (c *ServicesController) GetService(w http.ResponseWriter, r *http.Request) {
	s, err := c.hub.GetService(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		fail(w, r, "ServicesController.GetService", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, c.m.service(s))
}
