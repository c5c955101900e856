package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/hub"
	dto "github.com/dropDatabas3/spawnhub/internal/http/dto/api"
	httperrors "github.com/dropDatabas3/spawnhub/internal/http/errors"
	"github.com/dropDatabas3/spawnhub/internal/http/helpers"
	mw "github.com/dropDatabas3/spawnhub/internal/http/middlewares"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/tokens"
)

// HubController maneja los endpoints del hub en sí: versión, info,
// identidad del caller, shutdown y reset del spawner.
type HubController struct {
	hub *hub.Hub
	m   *mapper
}

// Version maneja GET / (sin auth).
func (c *HubController) Version(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, dto.VersionResponse{Version: hub.Version})
}

// Info maneja GET /info
func (c *HubController) Info(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, c.hub.Info())
}

// WhoAmI maneja GET /user: el modelo del dueño del token con sus scopes.
func (c *HubController) WhoAmI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mw.GetIdentity(ctx)
	resp, err := c.m.owner(ctx, id.Validated)
	if err != nil {
		fail(w, r, "HubController.WhoAmI", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// owner arma el modelo del dueño de un token validado.
func (m *mapper) owner(ctx context.Context, v *tokens.Validated) (any, error) {
	if v.Principal.Kind == repository.OwnerService {
		s, err := m.hub.GetService(ctx, v.Principal.Name)
		if err != nil {
			return nil, err
		}
		out := m.service(s)
		out.Scopes = v.Effective.Strings()
		return out, nil
	}
	uv, err := m.hub.GetUser(ctx, v.Principal.Name)
	if err != nil {
		return nil, err
	}
	out := m.user(ctx, uv)
	out.Scopes = v.Effective.Strings()
	return out, nil
}

// Shutdown maneja POST /shutdown. Responde 202 y el main apaga el proceso.
func (c *HubController) Shutdown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req dto.ShutdownRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	logger.From(ctx).Warn("shutdown requested via api",
		logger.Layer("controller"),
		logger.Bool("stop_servers", req.Servers),
	)
	c.hub.RequestShutdown(r.Context(), hub.ShutdownRequest{StopServers: req.Servers})
	helpers.WriteJSON(w, http.StatusAccepted, map[string]string{"message": "Shutting down hub"})
}

// ResetSpawner maneja POST /spawner/reset: rehabilita los spawns tras
// consecutive_failure_limit.
func (c *HubController) ResetSpawner(w http.ResponseWriter, r *http.Request) {
	c.hub.ResetSpawner(r.Context())
	helpers.NoContent(w)
}

// AuthorizationsController maneja /authorizations/token/{token}.
type AuthorizationsController struct {
	hub *hub.Hub
	m   *mapper
}

// Token identifica al dueño de un token ajeno (lo usan services y servers).
func (c *AuthorizationsController) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := c.hub.Context().Tokens.Validate(ctx, chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, tokens.ErrInvalidToken) {
			httperrors.WriteError(w, httperrors.ErrNotFound.WithDetail("no such token"))
			return
		}
		fail(w, r, "AuthorizationsController.Token", err)
		return
	}
	resp, err := c.m.owner(ctx, v)
	if err != nil {
		fail(w, r, "AuthorizationsController.Token", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}
