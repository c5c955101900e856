package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/spawnhub/internal/hub"
	dto "github.com/dropDatabas3/spawnhub/internal/http/dto/api"
	httperrors "github.com/dropDatabas3/spawnhub/internal/http/errors"
	"github.com/dropDatabas3/spawnhub/internal/http/helpers"
	mw "github.com/dropDatabas3/spawnhub/internal/http/middlewares"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
)

// UsersController maneja /users.
type UsersController struct {
	hub   *hub.Hub
	authz mw.Authorizer
	m     *mapper
}

// ListUsers maneja GET /users?state=&offset=&limit=
func (c *UsersController) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, err := helpers.ReadPage(r)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}

	// con list:users filtrado hay que traer todo y paginar después de filtrar
	unfiltered := c.authz.Allowed(ctx, "list:users", scopes.Resource{})
	q := hub.ListUsersQuery{State: r.URL.Query().Get("state")}
	if unfiltered {
		q.Offset, q.Limit = page.Offset, page.Limit
	}

	views, err := c.hub.ListUsers(ctx, q)
	if err != nil {
		fail(w, r, "UsersController.ListUsers", err)
		return
	}

	resp := make([]dto.UserResponse, 0, len(views))
	for i := range views {
		if !unfiltered && !c.authz.Allowed(ctx, "list:users", scopes.UserResource(views[i].User.Name)) {
			continue
		}
		resp = append(resp, c.m.user(ctx, &views[i]))
	}
	if !unfiltered {
		resp = pageOf(resp, page)
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

func pageOf[T any](in []T, p helpers.Page) []T {
	if p.Offset >= len(in) {
		return []T{}
	}
	in = in[p.Offset:]
	if p.Limit > 0 && p.Limit < len(in) {
		in = in[:p.Limit]
	}
	return in
}

// CreateUsers maneja POST /users
func (c *UsersController) CreateUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req dto.CreateUsersRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	views, err := c.hub.CreateUsers(ctx, req.Usernames, req.Admin)
	if err != nil {
		fail(w, r, "UsersController.CreateUsers", err)
		return
	}
	resp := make([]dto.UserResponse, 0, len(views))
	for i := range views {
		resp = append(resp, c.m.user(ctx, &views[i]))
	}
	helpers.WriteJSON(w, http.StatusCreated, resp)
}

// CreateUser maneja POST /users/{name}
func (c *UsersController) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req dto.CreateUserRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	views, err := c.hub.CreateUsers(ctx, []string{chi.URLParam(r, "name")}, req.Admin)
	if err != nil {
		fail(w, r, "UsersController.CreateUser", err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, c.m.user(ctx, &views[0]))
}

// GetUser maneja GET /users/{name}
func (c *UsersController) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := c.hub.GetUser(ctx, chi.URLParam(r, "name"))
	if err != nil {
		fail(w, r, "UsersController.GetUser", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, c.m.user(ctx, v))
}

// PatchUser maneja PATCH /users/{name}
func (c *UsersController) PatchUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	var req dto.PatchUserRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	v, err := c.hub.UpdateUser(ctx, name, hub.UserPatch{Admin: req.Admin, Roles: req.Roles, Groups: req.Groups})
	if err != nil {
		fail(w, r, "UsersController.PatchUser", err)
		return
	}
	logger.From(ctx).Info("user updated", logger.Layer("controller"), logger.Username(name))
	helpers.WriteJSON(w, http.StatusOK, c.m.user(ctx, v))
}

// DeleteUser maneja DELETE /users/{name}. Detiene todos sus servers y
// revoca sus tokens.
func (c *UsersController) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	if id := mw.GetIdentity(ctx); id != nil && id.Name() == name {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("cannot delete yourself"))
		return
	}
	if err := c.hub.DeleteUser(ctx, name); err != nil {
		fail(w, r, "UsersController.DeleteUser", err)
		return
	}
	helpers.NoContent(w)
}

// Activity maneja POST /users/{name}/activity
func (c *UsersController) Activity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req dto.ActivityRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	rep := hub.ActivityReport{LastActivity: req.LastActivity}
	if len(req.Servers) > 0 {
		rep.Servers = make(map[string]time.Time, len(req.Servers))
		for name, s := range req.Servers {
			rep.Servers[name] = s.LastActivity
		}
	}
	if err := c.hub.RecordActivity(ctx, chi.URLParam(r, "name"), rep); err != nil {
		fail(w, r, "UsersController.Activity", err)
		return
	}
	helpers.NoContent(w)
}
