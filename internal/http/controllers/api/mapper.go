package api

import (
	"context"
	"net/url"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/hub"
	dto "github.com/dropDatabas3/spawnhub/internal/http/dto/api"
	mw "github.com/dropDatabas3/spawnhub/internal/http/middlewares"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
)

// mapper arma los modelos de respuesta mostrando solo los campos que el
// caller puede leer.
type mapper struct {
	hub       *hub.Hub
	authz     mw.Authorizer
	apiPrefix string
}

func (m *mapper) progressURL(user, name string) string {
	if name == "" {
		return m.apiPrefix + "/users/" + url.PathEscape(user) + "/server/progress"
	}
	return m.apiPrefix + "/users/" + url.PathEscape(user) + "/servers/" + url.PathEscape(name) + "/progress"
}

func pendingOf(s repository.ServerState) *string {
	var p string
	switch s {
	case repository.ServerSpawning:
		p = "spawn"
	case repository.ServerStopping:
		p = "stop"
	default:
		return nil
	}
	return &p
}

func (m *mapper) server(ctx context.Context, s *repository.Server) dto.ServerResponse {
	out := dto.ServerResponse{
		Name:         s.Name,
		Ready:        s.State == repository.ServerRunning,
		Pending:      pendingOf(s.State),
		Stopped:      s.State == repository.ServerStopped || s.State == repository.ServerFailed,
		URL:          m.hub.ServerURL(s.User, s.Name),
		ProgressURL:  m.progressURL(s.User, s.Name),
		Started:      s.StartedAt,
		LastActivity: s.LastActivity,
		Message:      s.Message,
		UserOptions:  s.UserOptions,
	}
	if m.authz.Allowed(ctx, "admin:server_state", scopes.ServerResource(s.User, s.Name)) {
		out.State = s.BackendState
	}
	return out
}

// user arma el modelo. Los servers aparecen si el caller tiene
// read:servers sobre cada uno.
func (m *mapper) user(ctx context.Context, v *hub.UserView) dto.UserResponse {
	u := v.User
	out := dto.UserResponse{
		Kind:         "user",
		Name:         u.Name,
		Admin:        u.Admin,
		Roles:        u.Roles,
		Groups:       u.Groups,
		Created:      u.CreatedAt,
		LastActivity: u.LastActivity,
	}
	for i := range v.Servers {
		s := &v.Servers[i]
		if s.Name == "" {
			out.Pending = pendingOf(s.State)
			if s.State == repository.ServerRunning {
				addr := m.hub.ServerURL(s.User, "")
				out.Server = &addr
			}
		}
		if !m.authz.Allowed(ctx, "read:servers", scopes.ServerResource(s.User, s.Name)) {
			continue
		}
		if out.Servers == nil {
			out.Servers = make(map[string]dto.ServerResponse, len(v.Servers))
		}
		out.Servers[s.Name] = m.server(ctx, s)
	}
	if m.authz.Allowed(ctx, "admin:auth_state", scopes.UserResource(u.Name)) {
		st, err := m.hub.AuthState(ctx, u.Name)
		if err != nil {
			logger.From(ctx).Warn("auth state unreadable", logger.Username(u.Name), logger.Err(err))
		} else {
			out.AuthState = st
		}
	}
	return out
}

func token(t *repository.APIToken) dto.TokenResponse {
	out := dto.TokenResponse{
		Kind:         "api_token",
		ID:           t.ID,
		Prefix:       t.Prefix,
		Scopes:       t.Scopes,
		Note:         t.Note,
		OAuthClient:  t.ClientID,
		SessionID:    t.SessionID,
		Created:      t.CreatedAt,
		ExpiresAt:    t.ExpiresAt,
		LastActivity: t.LastActivity,
	}
	if out.Scopes == nil {
		out.Scopes = []string{}
	}
	if t.OwnerKind == repository.OwnerService {
		out.Service = t.Owner
	} else {
		out.User = t.Owner
	}
	return out
}

func group(g *repository.Group) dto.GroupResponse {
	out := dto.GroupResponse{Kind: "group", Name: g.Name, Users: g.Members, Roles: g.Roles}
	if out.Users == nil {
		out.Users = []string{}
	}
	if out.Roles == nil {
		out.Roles = []string{}
	}
	return out
}

func role(r *repository.Role) dto.RoleResponse {
	return dto.RoleResponse{Kind: "role", Name: r.Name, Description: r.Description, Scopes: r.Scopes}
}

func (m *mapper) service(s *repository.Service) dto.ServiceResponse {
	out := dto.ServiceResponse{
		Kind:          "service",
		Name:          s.Name,
		Roles:         s.Roles,
		URL:           s.URL,
		OAuthClientID: s.OAuthClientID,
	}
	if s.URL != "" {
		out.Prefix = m.hub.ServicePrefix(s.Name) + "/"
	}
	if out.Roles == nil {
		out.Roles = []string{}
	}
	return out
}
