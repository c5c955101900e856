package hub_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/spawnhub/internal/auth"
	"github.com/dropDatabas3/spawnhub/internal/config"
	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/hub"
	"github.com/dropDatabas3/spawnhub/internal/proxy"
	"github.com/dropDatabas3/spawnhub/internal/rate"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
	"github.com/dropDatabas3/spawnhub/internal/spawner/spawnertest"
	"github.com/dropDatabas3/spawnhub/internal/store/adapters/memory"
	"github.com/dropDatabas3/spawnhub/internal/tokens"
)

const serviceToken = "svc-token-0123456789abcdef0123456789abcdef"

type env struct {
	h       *hub.Hub
	cfg     *config.Config
	st      *memory.Store
	backend *spawnertest.Backend
	proxy   *proxy.MemoryBackend
}

func newEnv(t *testing.T, mutate func(*config.Config)) *env {
	t.Helper()
	cfg := config.Default()
	cfg.Spawner.SlowSpawnTimeout = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	e := &env{cfg: cfg, st: memory.New(), backend: spawnertest.New(), proxy: proxy.NewMemoryBackend()}
	h, err := hub.New(hub.Deps{
		Config:         cfg,
		Store:          e.st,
		ProxyBackend:   e.proxy,
		SpawnerBackend: e.backend,
		ProxyOptions: []proxy.Option{proxy.WithRetry(proxy.RetryConfig{
			MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond,
		})},
	})
	require.NoError(t, err)
	require.NoError(t, h.Init(context.Background()))
	t.Cleanup(func() { _ = h.Shutdown(context.Background(), false) })
	e.h = h
	return e
}

func (e *env) routes(t *testing.T) map[string]proxy.Route {
	t.Helper()
	r, err := e.proxy.GetRoutes(context.Background())
	require.NoError(t, err)
	return r
}

func (e *env) valid(secret string) (*tokens.Validated, error) {
	return e.h.Context().Tokens.Validate(context.Background(), secret)
}

func TestInit_SeedsRolesAdminsAndServices(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.Auth.AdminUsers = []string{"root"}
		c.Roles = []config.RoleConfig{{
			Name:     "grader",
			Scopes:   []string{"read:users", "admin:servers!group=instructors"},
			Users:    []string{"bob"},
			Groups:   []string{"instructors"},
			Services: []string{"cull"},
		}}
		c.Services = []config.ServiceConfig{{
			Name:     "cull",
			APIToken: serviceToken,
			URL:      "http://127.0.0.1:9000",
		}}
	})
	ctx := context.Background()

	roles, err := e.h.ListRoles(ctx)
	require.NoError(t, err)
	var names []string
	for _, r := range roles {
		names = append(names, r.Name)
	}
	require.Subset(t, names, []string{scopes.RoleUser, scopes.RoleAdmin, scopes.RoleServer, scopes.RoleToken, "grader"})

	root, err := e.h.GetUser(ctx, "root")
	require.NoError(t, err)
	require.True(t, root.User.Admin)
	require.Contains(t, root.User.Roles, scopes.RoleAdmin)

	bob, err := e.h.GetUser(ctx, "bob")
	require.NoError(t, err)
	require.Contains(t, bob.User.Roles, "grader")

	_, err = e.h.GetGroup(ctx, "instructors")
	require.NoError(t, err)

	svc, err := e.h.GetService(ctx, "cull")
	require.NoError(t, err)
	require.Contains(t, svc.Roles, "grader")

	v, err := e.valid(serviceToken)
	require.NoError(t, err)
	require.Equal(t, repository.OwnerService, v.Principal.Kind)
	require.True(t, scopes.Allows(v.Effective, "read:users", scopes.UserResource("alice"), nil))

	// Init es idempotente: el mismo token declarado no se duplica
	require.NoError(t, e.h.Init(ctx))
	toks, err := e.h.ListTokens(ctx, scopes.ServicePrincipal("cull"))
	require.NoError(t, err)
	require.Len(t, toks, 1)
}

func TestInit_ServiceDeclaredRolesApply(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.Services = []config.ServiceConfig{{
			Name:     "cull",
			APIToken: serviceToken,
			Roles:    []string{scopes.RoleAdmin},
		}}
	})
	ctx := context.Background()

	svc, err := e.h.GetService(ctx, "cull")
	require.NoError(t, err)
	require.Equal(t, []string{scopes.RoleAdmin}, svc.Roles)

	v, err := e.valid(serviceToken)
	require.NoError(t, err)
	require.NotEmpty(t, v.Effective)
	require.True(t, scopes.Allows(v.Effective, "read:users", scopes.UserResource("alice"), nil))
	require.True(t, scopes.Allows(v.Effective, "admin:servers", scopes.ServerResource("bob", ""), nil))

	// re-init no duplica la asignación
	require.NoError(t, e.h.Init(ctx))
	svc, err = e.h.GetService(ctx, "cull")
	require.NoError(t, err)
	require.Equal(t, []string{scopes.RoleAdmin}, svc.Roles)
}

func TestInit_DeclaredServiceTokenFollowsConfigRoles(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.Services = []config.ServiceConfig{{Name: "cull", APIToken: serviceToken}}
	})
	ctx := context.Background()

	v, err := e.valid(serviceToken)
	require.NoError(t, err)
	require.False(t, scopes.Allows(v.Effective, "read:users", scopes.UserResource("alice"), nil))

	// el operador le agrega un rol en la config y reinicia
	e.cfg.Services[0].Roles = []string{scopes.RoleAdmin}
	require.NoError(t, e.h.Init(ctx))

	v, err = e.valid(serviceToken)
	require.NoError(t, err)
	require.True(t, scopes.Allows(v.Effective, "read:users", scopes.UserResource("alice"), nil))
	toks, err := e.h.ListTokens(ctx, scopes.ServicePrincipal("cull"))
	require.NoError(t, err)
	require.Len(t, toks, 1)
}

func TestLoginLogout(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.Auth.AdminUsers = []string{"alice"} })
	ctx := context.Background()

	_, err := e.h.Login(ctx, auth.Credentials{Username: "bad/name"})
	require.ErrorIs(t, err, auth.ErrRejected)

	sess, err := e.h.Login(ctx, auth.Credentials{Username: "  Alice "})
	require.NoError(t, err)
	require.Equal(t, "alice", sess.User.Name)
	require.True(t, sess.User.Admin)
	require.NotNil(t, sess.ExpiresAt)

	v, err := e.valid(sess.Token)
	require.NoError(t, err)
	require.True(t, scopes.Allows(v.Effective, "admin:users", scopes.UserResource("zed"), nil))

	require.NoError(t, e.h.Logout(ctx, sess.ID))
	_, err = e.valid(sess.Token)
	require.ErrorIs(t, err, tokens.ErrInvalidToken)
}

func TestSpawnAndStop(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, err := e.h.CreateUsers(ctx, []string{"alice"}, false)
	require.NoError(t, err)

	res, err := e.h.Spawn(ctx, "alice", "", nil)
	require.NoError(t, err)
	require.False(t, res.Pending)

	r, ok := e.routes(t)["/user/alice"]
	require.True(t, ok)
	require.True(t, r.Managed())

	srv, err := e.h.RunningServer(ctx, "alice", "")
	require.NoError(t, err)
	require.NotEmpty(t, srv.TokenID)

	envVars := e.backend.Env("alice", "")
	v, err := e.valid(envVars["SPAWNHUB_API_TOKEN"])
	require.NoError(t, err)
	require.True(t, scopes.Allows(v.Effective, "access:servers", scopes.ServerResource("alice", ""), nil))
	require.False(t, scopes.Allows(v.Effective, "access:servers", scopes.ServerResource("bob", ""), nil))

	_, err = e.h.Spawn(ctx, "alice", "", nil)
	require.ErrorIs(t, err, hub.ErrAlreadyRunning)

	require.NoError(t, e.h.StopServer(ctx, "alice", "", false))
	_, ok = e.routes(t)["/user/alice"]
	require.False(t, ok)
	_, err = e.valid(envVars["SPAWNHUB_API_TOKEN"])
	require.ErrorIs(t, err, tokens.ErrInvalidToken)

	_, err = e.h.RunningServer(ctx, "alice", "")
	require.ErrorIs(t, err, hub.ErrNotRunning)
}

func TestSpawn_SlowIsPending(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.Spawner.SlowSpawnTimeout = 20 * time.Millisecond })
	ctx := context.Background()
	_, err := e.h.CreateUsers(ctx, []string{"alice"}, false)
	require.NoError(t, err)

	block := make(chan struct{})
	e.backend.Block = block

	res, err := e.h.Spawn(ctx, "alice", "", nil)
	require.NoError(t, err)
	require.True(t, res.Pending)

	stream, srv, err := e.h.Progress(ctx, "alice", "")
	require.NoError(t, err)
	require.NotNil(t, stream)
	require.Equal(t, repository.ServerSpawning, srv.State)

	began := time.Now()
	_, err = e.h.Spawn(ctx, "alice", "", nil)
	require.ErrorIs(t, err, hub.ErrPending)
	require.Less(t, time.Since(began), time.Second)

	close(block)
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, res.Spawn.Wait(waitCtx))

	_, err = e.h.RunningServer(ctx, "alice", "")
	require.NoError(t, err)
}

func TestSpawn_FailureCarriesMessage(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, err := e.h.CreateUsers(ctx, []string{"alice"}, false)
	require.NoError(t, err)

	e.backend.StartErr = errors.New("image not found")
	_, err = e.h.Spawn(ctx, "alice", "", nil)
	var se *hub.SpawnError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "alice", se.User)
	require.NotEmpty(t, se.Message)

	srv, err := e.h.GetServer(ctx, "alice", "")
	require.NoError(t, err)
	require.Equal(t, repository.ServerFailed, srv.State)
	_, ok := e.routes(t)["/user/alice"]
	require.False(t, ok)
}

func TestNamedServerPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		off := false
		e := newEnv(t, func(c *config.Config) { c.Spawner.AllowNamedServers = &off })
		_, err := e.h.CreateUsers(ctx, []string{"alice"}, false)
		require.NoError(t, err)
		_, err = e.h.Spawn(ctx, "alice", "gpu", nil)
		require.ErrorIs(t, err, hub.ErrNamedServersDisabled)
	})

	t.Run("limit", func(t *testing.T) {
		e := newEnv(t, func(c *config.Config) { c.Spawner.NamedServerLimitPerUser = 1 })
		_, err := e.h.CreateUsers(ctx, []string{"alice"}, false)
		require.NoError(t, err)

		_, err = e.h.Spawn(ctx, "alice", "gpu", nil)
		require.NoError(t, err)
		_, ok := e.routes(t)["/user/alice/gpu"]
		require.True(t, ok)

		_, err = e.h.Spawn(ctx, "alice", "cpu", nil)
		require.ErrorIs(t, err, hub.ErrNamedServerLimit)

		// el default no cuenta contra el límite
		_, err = e.h.Spawn(ctx, "alice", "", nil)
		require.NoError(t, err)

		// remove libera el slot
		require.NoError(t, e.h.StopServer(ctx, "alice", "gpu", true))
		_, err = e.h.GetServer(ctx, "alice", "gpu")
		require.ErrorIs(t, err, hub.ErrNotFound)
		_, err = e.h.Spawn(ctx, "alice", "cpu", nil)
		require.NoError(t, err)
	})

	t.Run("invalid name", func(t *testing.T) {
		e := newEnv(t, nil)
		_, err := e.h.CreateUsers(ctx, []string{"alice"}, false)
		require.NoError(t, err)
		_, err = e.h.Spawn(ctx, "alice", "a/b", nil)
		require.ErrorIs(t, err, hub.ErrValidation)
	})
}

func TestDeleteUser_Cascades(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, err := e.h.CreateUsers(ctx, []string{"alice"}, false)
	require.NoError(t, err)
	_, err = e.h.Spawn(ctx, "alice", "", nil)
	require.NoError(t, err)
	_, err = e.h.Spawn(ctx, "alice", "gpu", nil)
	require.NoError(t, err)
	issued, err := e.h.IssueToken(ctx, scopes.UserPrincipal("alice"), hub.TokenRequest{Note: "ci"})
	require.NoError(t, err)
	_, err = e.h.CreateGroup(ctx, "students", []string{"alice"})
	require.NoError(t, err)

	require.NoError(t, e.h.DeleteUser(ctx, "alice"))

	routes := e.routes(t)
	require.NotContains(t, routes, "/user/alice")
	require.NotContains(t, routes, "/user/alice/gpu")
	srvs, err := e.st.Servers().ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, srvs)
	_, err = e.valid(issued.Secret)
	require.ErrorIs(t, err, tokens.ErrInvalidToken)
	g, err := e.h.GetGroup(ctx, "students")
	require.NoError(t, err)
	require.NotContains(t, g.Members, "alice")

	_, err = e.h.GetUser(ctx, "alice")
	require.ErrorIs(t, err, hub.ErrNotFound)
}

func TestCreateUsers(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	created, err := e.h.CreateUsers(ctx, []string{"alice", "Bob"}, false)
	require.NoError(t, err)
	require.Len(t, created, 2)

	created, err = e.h.CreateUsers(ctx, []string{"alice", "carol"}, false)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, "carol", created[0].User.Name)

	_, err = e.h.CreateUsers(ctx, []string{"alice"}, false)
	require.ErrorIs(t, err, hub.ErrConflict)

	_, err = e.h.CreateUsers(ctx, []string{"no/slash"}, false)
	require.ErrorIs(t, err, hub.ErrValidation)

	list, err := e.h.ListUsers(ctx, hub.ListUsersQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "alice", list[0].User.Name)
}

func TestListUsers_StateFilter(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, err := e.h.CreateUsers(ctx, []string{"alice", "bob"}, false)
	require.NoError(t, err)
	_, err = e.h.Spawn(ctx, "alice", "", nil)
	require.NoError(t, err)

	ready, err := e.h.ListUsers(ctx, hub.ListUsersQuery{State: hub.StateReady})
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, "alice", ready[0].User.Name)

	inactive, err := e.h.ListUsers(ctx, hub.ListUsersQuery{State: hub.StateInactive})
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	require.Equal(t, "bob", inactive[0].User.Name)
}

func TestIssueToken_Subset(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, err := e.h.CreateUsers(ctx, []string{"alice"}, false)
	require.NoError(t, err)
	alice := scopes.UserPrincipal("alice")

	_, err = e.h.IssueToken(ctx, alice, hub.TokenRequest{Scopes: []string{"admin:users"}})
	var notHeld *tokens.ScopesNotHeldError
	require.ErrorAs(t, err, &notHeld)

	_, err = e.h.IssueToken(ctx, alice, hub.TokenRequest{Scopes: []string{"nope:nothing"}})
	require.ErrorIs(t, err, hub.ErrValidation)

	_, err = e.h.IssueToken(ctx, scopes.UserPrincipal("ghost"), hub.TokenRequest{})
	require.ErrorIs(t, err, hub.ErrNotFound)

	issued, err := e.h.IssueToken(ctx, alice, hub.TokenRequest{Scopes: []string{"read:servers!user=alice"}, ExpiresIn: time.Hour})
	require.NoError(t, err)
	require.NotNil(t, issued.Token.ExpiresAt)

	list, err := e.h.ListTokens(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = e.h.GetToken(ctx, scopes.UserPrincipal("bob"), issued.Token.ID)
	require.ErrorIs(t, err, hub.ErrNotFound)
	require.NoError(t, e.h.RevokeToken(ctx, alice, issued.Token.ID))
	_, err = e.valid(issued.Secret)
	require.ErrorIs(t, err, tokens.ErrInvalidToken)
}

func TestGroupRolesReachMembers(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.Roles = []config.RoleConfig{{Name: "lister", Scopes: []string{"list:users"}}}
	})
	ctx := context.Background()
	_, err := e.h.CreateUsers(ctx, []string{"alice"}, false)
	require.NoError(t, err)
	issued, err := e.h.IssueToken(ctx, scopes.UserPrincipal("alice"), hub.TokenRequest{})
	require.NoError(t, err)

	v, err := e.valid(issued.Secret)
	require.NoError(t, err)
	require.False(t, scopes.Allows(v.Effective, "list:users", scopes.Resource{}, nil))

	_, err = e.h.CreateGroup(ctx, "staff", []string{"alice"})
	require.NoError(t, err)
	_, err = e.h.SetGroupRoles(ctx, "staff", []string{"lister"})
	require.NoError(t, err)

	// el token hereda (rol token) los permisos actuales del dueño
	v, err = e.valid(issued.Secret)
	require.NoError(t, err)
	require.True(t, scopes.Allows(v.Effective, "list:users", scopes.Resource{}, nil))

	_, err = e.h.RemoveGroupMembers(ctx, "staff", []string{"alice"})
	require.NoError(t, err)
	v, err = e.valid(issued.Secret)
	require.NoError(t, err)
	require.False(t, scopes.Allows(v.Effective, "list:users", scopes.Resource{}, nil))

	_, err = e.h.SetGroupRoles(ctx, "staff", []string{"missing"})
	require.ErrorIs(t, err, hub.ErrValidation)
}

func TestSyncRoutes(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.Services = []config.ServiceConfig{{Name: "dash", URL: "http://127.0.0.1:9100"}}
	})
	ctx := context.Background()
	_, err := e.h.CreateUsers(ctx, []string{"alice"}, false)
	require.NoError(t, err)
	_, err = e.h.Spawn(ctx, "alice", "", nil)
	require.NoError(t, err)

	// ruta huérfana del hub, ruta ajena y ruta del server perdida
	require.NoError(t, e.proxy.AddRoute(ctx, "/user/ghost", "http://10.9.9.9:8888", map[string]any{proxy.DataHub: true}))
	require.NoError(t, e.proxy.AddRoute(ctx, "/other", "http://elsewhere", nil))
	require.NoError(t, e.proxy.DeleteRoute(ctx, "/user/alice"))

	rep, err := e.h.SyncRoutes(ctx)
	require.NoError(t, err)
	require.True(t, rep.Changed())

	routes := e.routes(t)
	require.Contains(t, routes, "/user/alice")
	require.Contains(t, routes, "/services/dash")
	require.Contains(t, routes, "/")
	require.Contains(t, routes, "/other")
	require.NotContains(t, routes, "/user/ghost")

	rep, err = e.h.SyncRoutes(ctx)
	require.NoError(t, err)
	require.False(t, rep.Changed())
}

func TestRecordActivity(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, err := e.h.CreateUsers(ctx, []string{"alice"}, false)
	require.NoError(t, err)
	_, err = e.h.Spawn(ctx, "alice", "", nil)
	require.NoError(t, err)

	at := time.Now().UTC().Add(time.Minute).Truncate(time.Second)
	require.NoError(t, e.h.RecordActivity(ctx, "alice", hub.ActivityReport{Servers: map[string]time.Time{"": at}}))

	u, err := e.h.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, u.User.LastActivity)
	require.True(t, u.User.LastActivity.Equal(at))
	require.NotNil(t, u.Servers[0].LastActivity)
	require.True(t, u.Servers[0].LastActivity.Equal(at))

	err = e.h.RecordActivity(ctx, "alice", hub.ActivityReport{Servers: map[string]time.Time{"nope": at}})
	require.ErrorIs(t, err, hub.ErrValidation)
	err = e.h.RecordActivity(ctx, "alice", hub.ActivityReport{})
	require.ErrorIs(t, err, hub.ErrValidation)
}

func TestRequestShutdown_OnlyOnce(t *testing.T) {
	e := newEnv(t, nil)
	e.h.RequestShutdown(context.Background(), hub.ShutdownRequest{StopServers: true})
	e.h.RequestShutdown(context.Background(), hub.ShutdownRequest{})

	req := <-e.h.ShutdownRequested()
	require.True(t, req.StopServers)
	select {
	case <-e.h.ShutdownRequested():
		t.Fatal("second shutdown request delivered")
	default:
	}
}

func TestLogin_RateLimited(t *testing.T) {
	cfg := config.Default()
	st := memory.New()
	h, err := hub.New(hub.Deps{
		Config:         cfg,
		Store:          st,
		ProxyBackend:   proxy.NewMemoryBackend(),
		SpawnerBackend: spawnertest.New(),
		Authenticator:  &auth.Dummy{Password: "pw"},
		LoginLimiter:   rate.NewMemoryLimiter("test:", 2, time.Hour),
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, h.Init(ctx))

	for i := 0; i < 2; i++ {
		_, err = h.Login(ctx, auth.Credentials{Username: "alice", Password: "wrong"})
		require.ErrorIs(t, err, auth.ErrRejected)
	}
	_, err = h.Login(ctx, auth.Credentials{Username: "alice", Password: "pw"})
	require.ErrorIs(t, err, hub.ErrLoginRateLimited)

	// otro usuario no comparte la ventana
	_, err = h.Login(ctx, auth.Credentials{Username: "bob", Password: "pw"})
	require.NoError(t, err)
}
