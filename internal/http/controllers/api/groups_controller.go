package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/hub"
	dto "github.com/dropDatabas3/spawnhub/internal/http/dto/api"
	httperrors "github.com/dropDatabas3/spawnhub/internal/http/errors"
	"github.com/dropDatabas3/spawnhub/internal/http/helpers"
	mw "github.com/dropDatabas3/spawnhub/internal/http/middlewares"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
)

// GroupsController maneja /groups.
type GroupsController struct {
	hub   *hub.Hub
	authz mw.Authorizer
}

// ListGroups maneja GET /groups
func (c *GroupsController) ListGroups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, err := helpers.ReadPage(r)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}

	unfiltered := c.authz.Allowed(ctx, "list:groups", scopes.Resource{})
	offset, limit := page.Offset, page.Limit
	if !unfiltered {
		offset, limit = 0, 0
	}
	list, err := c.hub.ListGroups(ctx, offset, limit)
	if err != nil {
		fail(w, r, "GroupsController.ListGroups", err)
		return
	}

	resp := make([]dto.GroupResponse, 0, len(list))
	for i := range list {
		if !unfiltered && !c.authz.Allowed(ctx, "list:groups", scopes.GroupResource(list[i].Name)) {
			continue
		}
		resp = append(resp, group(&list[i]))
	}
	if !unfiltered {
		resp = pageOf(resp, page)
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// GetGroup maneja GET /groups/{name}
func (c *GroupsController) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := c.hub.GetGroup(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		fail(w, r, "GroupsController.GetGroup", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, group(g))
}

// CreateGroup maneja POST /groups/{name}
func (c *GroupsController) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req dto.GroupRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	g, err := c.hub.CreateGroup(r.Context(), chi.URLParam(r, "name"), req.Users)
	if err != nil {
		fail(w, r, "GroupsController.CreateGroup", err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, group(g))
}

// DeleteGroup maneja DELETE /groups/{name}
func (c *GroupsController) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := c.hub.DeleteGroup(r.Context(), chi.URLParam(r, "name")); err != nil {
		fail(w, r, "GroupsController.DeleteGroup", err)
		return
	}
	helpers.NoContent(w)
}

// AddMembers maneja POST /groups/{name}/users
func (c *GroupsController) AddMembers(w http.ResponseWriter, r *http.Request) {
	c.members(w, r, "GroupsController.AddMembers", c.hub.AddGroupMembers)
}

// RemoveMembers maneja DELETE /groups/{name}/users
func (c *GroupsController) RemoveMembers(w http.ResponseWriter, r *http.Request) {
	c.members(w, r, "GroupsController.RemoveMembers", c.hub.RemoveGroupMembers)
}

func (c *GroupsController) members(w http.ResponseWriter, r *http.Request, op string,
	apply func(ctx context.Context, name string, users []string) (*repository.Group, error)) {
	var req dto.GroupMembersRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if len(req.Users) == 0 {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("users required"))
		return
	}
	g, err := apply(r.Context(), chi.URLParam(r, "name"), req.Users)
	if err != nil {
		fail(w, r, op, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, group(g))
}

// SetRoles maneja PUT /groups/{name}/roles
func (c *GroupsController) SetRoles(w http.ResponseWriter, r *http.Request) {
	var req dto.GroupRolesRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.Roles == nil {
		req.Roles = []string{}
	}
	g, err := c.hub.SetGroupRoles(r.Context(), chi.URLParam(r, "name"), req.Roles)
	if err != nil {
		fail(w, r, "GroupsController.SetRoles", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, group(g))
}
