package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/spawnhub/internal/audit"
	"github.com/dropDatabas3/spawnhub/internal/auth"
	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
	"github.com/dropDatabas3/spawnhub/internal/tokens"
)

// UserView es un usuario con sus servers.
type UserView struct {
	User    *repository.User
	Servers []repository.Server
}

// Filtros de estado para ListUsers.
const (
	StateActive   = "active"   // algún server Spawning/Running/Stopping
	StateReady    = "ready"    // algún server Running
	StateInactive = "inactive" // ningún server activo
)

// ListUsersQuery son los parámetros de GET /users.
type ListUsersQuery struct {
	State  string
	Offset int
	Limit  int
}

// ListUsers lista usuarios ordenados por nombre, opcionalmente filtrados por
// el estado de sus servers.
func (h *Hub) ListUsers(ctx context.Context, q ListUsersQuery) ([]UserView, error) {
	users := h.hc.Store.Users()
	var (
		list []repository.User
		err  error
	)
	switch q.State {
	case "":
		list, err = users.List(ctx, repository.ListUsersFilter{Offset: q.Offset, Limit: q.Limit})
	case StateActive, StateReady:
		states := []repository.ServerState{repository.ServerRunning}
		if q.State == StateActive {
			states = append(states, repository.ServerSpawning, repository.ServerStopping)
		}
		names, lerr := h.serverOwners(ctx, states...)
		if lerr != nil {
			return nil, lerr
		}
		if len(names) == 0 {
			return []UserView{}, nil
		}
		list, err = users.List(ctx, repository.ListUsersFilter{Names: names, Offset: q.Offset, Limit: q.Limit})
	case StateInactive:
		active, lerr := h.serverOwners(ctx, repository.ServerRunning, repository.ServerSpawning, repository.ServerStopping)
		if lerr != nil {
			return nil, lerr
		}
		busy := make(map[string]bool, len(active))
		for _, n := range active {
			busy[n] = true
		}
		all, lerr := users.List(ctx, repository.ListUsersFilter{})
		if lerr != nil {
			return nil, lerr
		}
		for _, u := range all {
			if !busy[u.Name] {
				list = append(list, u)
			}
		}
		list = paginate(list, q.Offset, q.Limit)
	default:
		return nil, invalid("state must be one of active, ready, inactive")
	}
	if err != nil {
		return nil, err
	}

	out := make([]UserView, 0, len(list))
	for i := range list {
		srvs, err := h.hc.Store.Servers().ListByUser(ctx, list[i].Name)
		if err != nil {
			return nil, err
		}
		out = append(out, UserView{User: &list[i], Servers: srvs})
	}
	return out, nil
}

func (h *Hub) serverOwners(ctx context.Context, states ...repository.ServerState) ([]string, error) {
	srvs, err := h.hc.Store.Servers().ListByState(ctx, states...)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(srvs))
	names := make([]string, 0, len(srvs))
	for _, s := range srvs {
		if _, ok := seen[s.User]; ok {
			continue
		}
		seen[s.User] = struct{}{}
		names = append(names, s.User)
	}
	sort.Strings(names)
	return names, nil
}

func paginate[T any](in []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return []T{}
		}
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

// GetUser retorna el usuario con sus servers.
func (h *Hub) GetUser(ctx context.Context, name string) (*UserView, error) {
	u, err := h.hc.Store.Users().Get(ctx, name)
	if err != nil {
		return nil, err
	}
	srvs, err := h.hc.Store.Servers().ListByUser(ctx, name)
	if err != nil {
		return nil, err
	}
	return &UserView{User: u, Servers: srvs}, nil
}

// CreateUsers crea usuarios en lote. Los que ya existen se saltean; si
// existen todos, retorna ErrConflict.
func (h *Hub) CreateUsers(ctx context.Context, names []string, admin bool) ([]UserView, error) {
	if len(names) == 0 {
		return nil, invalid("no users specified")
	}
	for i, n := range names {
		names[i] = auth.NormalizeUsername(n)
		if !auth.ValidUsername(names[i]) {
			return nil, invalid("invalid username %q", n)
		}
	}

	var created []UserView
	for _, n := range names {
		u, err := h.ensureUser(ctx, n, admin, false)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		created = append(created, UserView{User: u})
	}
	if len(created) == 0 {
		return nil, ErrConflict
	}
	logger.From(ctx).Info("users created", logger.Count(len(created)))
	return created, nil
}

// ensureUser crea el usuario con el rol user (y admin si corresponde).
// Con existingOK retorna el usuario existente en vez de ErrConflict.
func (h *Hub) ensureUser(ctx context.Context, name string, admin, existingOK bool) (*repository.User, error) {
	users := h.hc.Store.Users()
	u := &repository.User{Name: name, Admin: admin}
	err := users.Create(ctx, u)
	if errors.Is(err, repository.ErrConflict) && existingOK {
		return users.Get(ctx, name)
	}
	if err != nil {
		return nil, err
	}
	roles := []string{scopes.RoleUser}
	if admin {
		roles = append(roles, scopes.RoleAdmin)
	}
	if err := h.hc.Store.Roles().SetAssignments(ctx, repository.EntityUser, name, roles); err != nil {
		return nil, err
	}
	h.hc.Permissions.Invalidate(scopes.UserPrincipal(name))
	return users.Get(ctx, name)
}

// UserPatch son los cambios de PATCH /users/{name}. nil = sin cambios.
type UserPatch struct {
	Admin  *bool
	Roles  []string
	Groups []string
}

// UpdateUser aplica el patch. Cambiar admin agrega o quita el rol admin.
func (h *Hub) UpdateUser(ctx context.Context, name string, p UserPatch) (*UserView, error) {
	u, err := h.hc.Store.Users().Get(ctx, name)
	if err != nil {
		return nil, err
	}

	roles := u.Roles
	if p.Roles != nil {
		roles = p.Roles
	}
	if p.Admin != nil {
		changed := u.Admin != *p.Admin
		u.Admin = *p.Admin
		if err := h.hc.Store.Users().Update(ctx, u); err != nil {
			return nil, err
		}
		if changed {
			audit.Log(ctx, audit.UserAdminChanged, logger.Username(name), logger.Bool("admin", u.Admin))
		}
		roles = withRole(roles, scopes.RoleAdmin, u.Admin)
	}
	if p.Roles != nil || p.Admin != nil {
		if err := h.hc.Store.Roles().SetAssignments(ctx, repository.EntityUser, name, roles); err != nil {
			if repository.IsNotFound(err) {
				return nil, invalid("unknown role in %v", roles)
			}
			return nil, err
		}
	}
	if p.Groups != nil {
		if err := h.setGroups(ctx, name, p.Groups); err != nil {
			return nil, err
		}
	}
	h.hc.Permissions.Invalidate(scopes.UserPrincipal(name))
	return h.GetUser(ctx, name)
}

func withRole(roles []string, role string, on bool) []string {
	out := make([]string, 0, len(roles)+1)
	for _, r := range roles {
		if r != role {
			out = append(out, r)
		}
	}
	if on {
		out = append(out, role)
	}
	return out
}

// DeleteUser detiene y borra todos los servers del usuario, revoca sus
// tokens y lo elimina.
func (h *Hub) DeleteUser(ctx context.Context, name string) error {
	if _, err := h.hc.Store.Users().Get(ctx, name); err != nil {
		return err
	}

	srvs, err := h.hc.Store.Servers().ListByUser(ctx, name)
	if err != nil {
		return err
	}
	for _, s := range srvs {
		if err := h.removeServer(ctx, name, s.Name); err != nil {
			return err
		}
	}

	n, err := h.hc.Tokens.RevokeOwner(ctx, scopes.UserPrincipal(name))
	if err != nil {
		return err
	}
	if err := h.hc.Store.Users().Delete(ctx, name); err != nil {
		return err
	}
	h.hc.Permissions.Invalidate(scopes.UserPrincipal(name))
	audit.Log(ctx, audit.UserDeleted, logger.Username(name), logger.Int("servers", len(srvs)), logger.Int("tokens", n))
	return nil
}

// ─── Login / logout ───

// Session es el resultado de un login.
type Session struct {
	User      *repository.User
	ID        string
	Token     string
	ExpiresAt *time.Time
}

// Login autentica, crea o actualiza el usuario y emite un token de sesión.
func (h *Hub) Login(ctx context.Context, c auth.Credentials) (*Session, error) {
	log := logger.From(ctx).With(logger.Component("hub"), logger.Op("login"))
	c.Username = auth.NormalizeUsername(c.Username)

	if h.hc.LoginLimiter != nil {
		rl, err := h.hc.LoginLimiter.Allow(ctx, "login:user:"+c.Username)
		switch {
		case err != nil:
			log.Warn("login rate limiter unavailable", logger.Err(err))
		case !rl.Allowed:
			audit.Log(ctx, audit.LoginRateLimited, logger.Username(c.Username))
			return nil, ErrLoginRateLimited
		}
	}

	res, err := h.hc.Authenticator.Authenticate(ctx, c)
	if err != nil {
		audit.Log(ctx, audit.LoginRejected, logger.Username(c.Username))
		return nil, err
	}
	name := auth.NormalizeUsername(res.Name)
	if !auth.ValidUsername(name) {
		return nil, invalid("invalid username %q", res.Name)
	}

	admin := h.isConfiguredAdmin(name)
	u, err := h.ensureUser(ctx, name, admin || (res.Admin != nil && *res.Admin), true)
	if err != nil {
		return nil, err
	}
	if res.Admin != nil && *res.Admin != u.Admin && !admin {
		if _, err := h.UpdateUser(ctx, name, UserPatch{Admin: res.Admin}); err != nil {
			return nil, err
		}
	}
	if res.Groups != nil {
		if err := h.setGroups(ctx, name, res.Groups); err != nil {
			return nil, err
		}
	}
	if err := h.saveAuthState(ctx, name, res.AuthState); err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	issued, err := h.hc.Tokens.Issue(ctx, tokens.IssueRequest{
		Owner:     scopes.UserPrincipal(name),
		ExpiresIn: h.hc.Config.Auth.SessionTTL,
		SessionID: sessionID,
		Note:      "login session",
	})
	if err != nil {
		return nil, err
	}
	h.TouchUser(ctx, name)

	u, err = h.hc.Store.Users().Get(ctx, name)
	if err != nil {
		return nil, err
	}
	audit.Log(ctx, audit.LoginSucceeded, logger.Username(name), logger.TokenID(issued.Token.ID))
	return &Session{User: u, ID: sessionID, Token: issued.Secret, ExpiresAt: issued.Token.ExpiresAt}, nil
}

// Logout revoca todos los tokens de la sesión.
func (h *Hub) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	n, err := h.hc.Tokens.RevokeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	audit.Log(ctx, audit.SessionRevoked, logger.Count(n))
	return nil
}

func (h *Hub) isConfiguredAdmin(name string) bool {
	for _, a := range h.hc.Config.Auth.AdminUsers {
		if auth.NormalizeUsername(a) == name {
			return true
		}
	}
	return false
}

// saveAuthState cifra y persiste el auth_state. Sin crypt_key se descarta.
func (h *Hub) saveAuthState(ctx context.Context, name string, state map[string]any) error {
	if state == nil {
		return nil
	}
	if !h.hc.AuthState.Enabled() {
		logger.From(ctx).Debug("auth_state discarded, no crypt_key configured", logger.Username(name))
		return nil
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	sealed, err := h.hc.AuthState.Seal(string(raw))
	if err != nil {
		return err
	}
	u, err := h.hc.Store.Users().Get(ctx, name)
	if err != nil {
		return err
	}
	u.AuthState = sealed
	return h.hc.Store.Users().Update(ctx, u)
}

// AuthState descifra el auth_state del usuario.
func (h *Hub) AuthState(ctx context.Context, name string) (map[string]any, error) {
	u, err := h.hc.Store.Users().Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if u.AuthState == "" || !h.hc.AuthState.Enabled() {
		return nil, nil
	}
	plain, err := h.hc.AuthState.Open(u.AuthState)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(plain), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ─── Activity ───

// activityThrottle acota las escrituras de last_activity por request.
const activityThrottle = time.Minute

// TouchUser registra actividad del usuario, a lo sumo una vez por minuto.
func (h *Hub) TouchUser(ctx context.Context, name string) {
	key := "activity:" + name
	if _, err := h.hc.Cache.Get(ctx, key); err == nil {
		return
	}
	_ = h.hc.Cache.Set(ctx, key, "1", activityThrottle)
	if err := h.hc.Store.Users().TouchActivity(ctx, name, time.Now().UTC()); err != nil && !repository.IsNotFound(err) {
		logger.From(ctx).Debug("touch user activity", logger.Username(name), logger.Err(err))
	}
}

// ActivityReport es lo que reportan los servers en POST /users/{name}/activity.
type ActivityReport struct {
	LastActivity *time.Time
	Servers      map[string]time.Time
}

// RecordActivity aplica un reporte de actividad.
func (h *Hub) RecordActivity(ctx context.Context, user string, r ActivityReport) error {
	if _, err := h.hc.Store.Users().Get(ctx, user); err != nil {
		return err
	}
	for name, t := range r.Servers {
		if err := h.hc.Spawner.TouchActivity(ctx, user, name, t); err != nil {
			if repository.IsNotFound(err) {
				return invalid("no such server %q", name)
			}
			return err
		}
		if r.LastActivity == nil || t.After(*r.LastActivity) {
			t := t
			r.LastActivity = &t
		}
	}
	if r.LastActivity == nil {
		return invalid("last_activity or servers required")
	}
	return h.hc.Store.Users().TouchActivity(ctx, user, r.LastActivity.UTC())
}
