package hub

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/proxy"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
	"github.com/dropDatabas3/spawnhub/internal/tokens"
	"github.com/dropDatabas3/spawnhub/internal/validation"
)

// syncRoles siembra los roles predefinidos y los de la config. Un rol de la
// config con el nombre de uno predefinido lo reemplaza.
func (h *Hub) syncRoles(ctx context.Context) error {
	roles := h.hc.Store.Roles()
	custom := make(map[string]bool, len(h.hc.Config.Roles))
	for _, rc := range h.hc.Config.Roles {
		custom[rc.Name] = true
	}
	for _, d := range scopes.DefaultRoles() {
		if custom[d.Name] {
			continue
		}
		if err := roles.Upsert(ctx, &repository.Role{Name: d.Name, Description: d.Description, Scopes: d.Scopes}); err != nil {
			return err
		}
	}
	for _, rc := range h.hc.Config.Roles {
		if _, err := scopes.ParseAll(rc.Scopes); err != nil {
			return fmt.Errorf("role %s: %w", rc.Name, err)
		}
		if err := roles.Upsert(ctx, &repository.Role{Name: rc.Name, Description: rc.Description, Scopes: rc.Scopes}); err != nil {
			return err
		}
	}
	h.hc.Permissions.Resolver().Invalidate()
	return nil
}

// syncAdmins crea los admin_users de la config y les asegura el rol admin.
func (h *Hub) syncAdmins(ctx context.Context) error {
	for _, name := range h.hc.Config.Auth.AdminUsers {
		u, err := h.ensureUser(ctx, name, true, true)
		if err != nil {
			return fmt.Errorf("admin %s: %w", name, err)
		}
		if u.Admin && hasString(u.Roles, scopes.RoleAdmin) {
			continue
		}
		admin := true
		if _, err := h.UpdateUser(ctx, name, UserPatch{Admin: &admin}); err != nil {
			return err
		}
	}
	return nil
}

// syncRoleAssignments agrega los roles declarados a sus usuarios y grupos,
// creándolos si hace falta.
func (h *Hub) syncRoleAssignments(ctx context.Context) error {
	for _, rc := range h.hc.Config.Roles {
		for _, name := range rc.Users {
			if _, err := h.ensureUser(ctx, name, false, true); err != nil {
				return err
			}
			if err := h.addRole(ctx, repository.EntityUser, name, rc.Name); err != nil {
				return err
			}
		}
		for _, g := range rc.Groups {
			err := h.hc.Store.Groups().Create(ctx, &repository.Group{Name: g})
			if err != nil && !errors.Is(err, repository.ErrConflict) {
				return err
			}
			if err := h.addRole(ctx, repository.EntityGroup, g, rc.Name); err != nil {
				return err
			}
		}
		for _, svc := range rc.Services {
			if _, err := h.hc.Store.Services().Get(ctx, svc); err != nil {
				return fmt.Errorf("role %s: service %s: %w", rc.Name, svc, err)
			}
			if err := h.addRole(ctx, repository.EntityService, svc, rc.Name); err != nil {
				return err
			}
			h.hc.Permissions.Invalidate(scopes.ServicePrincipal(svc))
		}
	}
	return nil
}

func (h *Hub) addRole(ctx context.Context, kind repository.EntityKind, name, role string) error {
	current, err := h.hc.Store.Roles().Assigned(ctx, kind, name)
	if err != nil {
		return err
	}
	if hasString(current, role) {
		return nil
	}
	return h.hc.Store.Roles().SetAssignments(ctx, kind, name, append(current, role))
}

// syncServices registra los services de la config: fila, roles, cliente OAuth
// y ruta. El api_token se emite después, en syncServiceTokens.
func (h *Hub) syncServices(ctx context.Context) error {
	log := logger.From(ctx).With(logger.Component("hub"), logger.Op("syncServices"))
	for _, sc := range h.hc.Config.Services {
		svc := &repository.Service{
			Name:          sc.Name,
			URL:           sc.URL,
			OAuthClientID: sc.OAuthClientID,
		}
		if err := h.hc.Store.Services().Upsert(ctx, svc); err != nil {
			return err
		}
		// los roles viven en role_assignments, el upsert no los toca
		for _, role := range sc.Roles {
			if err := h.addRole(ctx, repository.EntityService, sc.Name, role); err != nil {
				return fmt.Errorf("service %s role %s: %w", sc.Name, role, err)
			}
		}
		h.hc.Permissions.Invalidate(scopes.ServicePrincipal(sc.Name))

		if sc.OAuthClientID != "" {
			client := &repository.OAuthClient{
				ClientID:    sc.OAuthClientID,
				RedirectURI: sc.OAuthRedirectURI,
				Description: "Service " + sc.Name,
				NoConfirm:   sc.OAuthNoConfirm,
			}
			if err := h.hc.OAuth.RegisterClient(ctx, client, sc.APIToken); err != nil {
				return fmt.Errorf("service %s oauth client: %w", sc.Name, err)
			}
		}
		if sc.URL != "" {
			p := h.ServicePrefix(sc.Name)
			h.serviceRoutes[p] = proxy.Route{
				Prefix: p,
				Target: sc.URL,
				Data:   map[string]any{proxy.DataHub: true, "service": sc.Name},
			}
		}
		log.Debug("service registered", logger.String("service", sc.Name))
	}
	return nil
}

// syncServiceTokens registra los api_token declarados. Corre con todos los
// roles ya asignados: el token guarda los scopes del service a esta altura.
func (h *Hub) syncServiceTokens(ctx context.Context) error {
	for _, sc := range h.hc.Config.Services {
		if sc.APIToken == "" {
			continue
		}
		if err := h.ensureServiceToken(ctx, scopes.ServicePrincipal(sc.Name), sc.APIToken); err != nil {
			return fmt.Errorf("service %s: %w", sc.Name, err)
		}
	}
	return nil
}

// ensureServiceToken deja registrado el api_token declarado del service. Si
// los roles del service cambiaron desde la emisión, se reemite con el mismo
// secreto.
func (h *Hub) ensureServiceToken(ctx context.Context, owner scopes.Principal, secret string) error {
	v, err := h.hc.Tokens.Validate(ctx, secret)
	switch {
	case err == nil && v.Principal == owner:
		current, err := h.hc.Permissions.Current(ctx, owner)
		if err != nil {
			return err
		}
		if slices.Equal(v.Granted.Strings(), current.Strings()) {
			return nil
		}
		if err := h.hc.Tokens.Revoke(ctx, v.Token.ID); err != nil {
			return err
		}
	case err == nil:
		return fmt.Errorf("%w: api_token already belongs to %s", ErrConflict, v.Principal.Name)
	case !errors.Is(err, tokens.ErrInvalidToken):
		return err
	}
	_, err = h.hc.Tokens.Issue(ctx, tokens.IssueRequest{
		Owner:   owner,
		Secret:  secret,
		Note:    "declared in config",
		Trusted: true,
	})
	return err
}

// ServicePrefix es la ruta pública de un service.
func (h *Hub) ServicePrefix(name string) string {
	return h.hc.Config.Server.BaseURL + "services/" + name
}

// ─── Roles ───

// ListRoles retorna todos los roles.
func (h *Hub) ListRoles(ctx context.Context) ([]repository.Role, error) {
	return h.hc.Store.Roles().List(ctx)
}

// ─── Groups ───

// ListGroups lista grupos paginados.
func (h *Hub) ListGroups(ctx context.Context, offset, limit int) ([]repository.Group, error) {
	return h.hc.Store.Groups().List(ctx, offset, limit)
}

// GetGroup retorna un grupo.
func (h *Hub) GetGroup(ctx context.Context, name string) (*repository.Group, error) {
	return h.hc.Store.Groups().Get(ctx, name)
}

// CreateGroup crea un grupo con miembros iniciales opcionales.
func (h *Hub) CreateGroup(ctx context.Context, name string, members []string) (*repository.Group, error) {
	if !validation.ValidGroupName(name) {
		return nil, invalid("invalid group name %q", name)
	}
	if err := h.hc.Store.Groups().Create(ctx, &repository.Group{Name: name, Members: members}); err != nil {
		if repository.IsNotFound(err) {
			return nil, invalid("unknown user in %v", members)
		}
		return nil, err
	}
	h.invalidateUsers(members)
	return h.GetGroup(ctx, name)
}

// DeleteGroup borra el grupo; sus miembros pierden los roles del grupo.
func (h *Hub) DeleteGroup(ctx context.Context, name string) error {
	if err := h.hc.Store.Groups().Delete(ctx, name); err != nil {
		return err
	}
	h.hc.Permissions.InvalidateAll()
	return nil
}

// AddGroupMembers agrega usuarios existentes al grupo.
func (h *Hub) AddGroupMembers(ctx context.Context, name string, users []string) (*repository.Group, error) {
	if _, err := h.hc.Store.Groups().Get(ctx, name); err != nil {
		return nil, err
	}
	if err := h.hc.Store.Groups().AddMembers(ctx, name, users); err != nil {
		if repository.IsNotFound(err) {
			return nil, invalid("unknown user in %v", users)
		}
		return nil, err
	}
	h.invalidateUsers(users)
	return h.GetGroup(ctx, name)
}

// RemoveGroupMembers quita usuarios del grupo.
func (h *Hub) RemoveGroupMembers(ctx context.Context, name string, users []string) (*repository.Group, error) {
	if err := h.hc.Store.Groups().RemoveMembers(ctx, name, users); err != nil {
		return nil, err
	}
	h.invalidateUsers(users)
	return h.GetGroup(ctx, name)
}

// SetGroupRoles reemplaza los roles del grupo.
func (h *Hub) SetGroupRoles(ctx context.Context, name string, roles []string) (*repository.Group, error) {
	if _, err := h.hc.Store.Groups().Get(ctx, name); err != nil {
		return nil, err
	}
	if err := h.hc.Store.Roles().SetAssignments(ctx, repository.EntityGroup, name, roles); err != nil {
		if repository.IsNotFound(err) {
			return nil, invalid("unknown role in %v", roles)
		}
		return nil, err
	}
	h.hc.Permissions.InvalidateAll()
	return h.GetGroup(ctx, name)
}

// setGroups reemplaza las membresías del usuario, creando grupos nuevos.
func (h *Hub) setGroups(ctx context.Context, user string, groups []string) error {
	gr := h.hc.Store.Groups()
	current, err := gr.GroupsOf(ctx, user)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if hasString(current, g) {
			continue
		}
		if err := gr.Create(ctx, &repository.Group{Name: g}); err != nil && !errors.Is(err, repository.ErrConflict) {
			return err
		}
		if err := gr.AddMembers(ctx, g, []string{user}); err != nil {
			return err
		}
	}
	for _, g := range current {
		if !hasString(groups, g) {
			if err := gr.RemoveMembers(ctx, g, []string{user}); err != nil {
				return err
			}
		}
	}
	h.hc.Permissions.Invalidate(scopes.UserPrincipal(user))
	return nil
}

func (h *Hub) invalidateUsers(names []string) {
	for _, n := range names {
		h.hc.Permissions.Invalidate(scopes.UserPrincipal(n))
	}
}

// ─── Services ───

// ListServices lista los services registrados.
func (h *Hub) ListServices(ctx context.Context) ([]repository.Service, error) {
	return h.hc.Store.Services().List(ctx)
}

// GetService retorna un service.
func (h *Hub) GetService(ctx context.Context, name string) (*repository.Service, error) {
	return h.hc.Store.Services().Get(ctx, name)
}

func hasString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
