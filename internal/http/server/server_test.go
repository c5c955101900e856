package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/spawnhub/internal/config"
	"github.com/dropDatabas3/spawnhub/internal/http/server"
	"github.com/dropDatabas3/spawnhub/internal/hub"
	"github.com/dropDatabas3/spawnhub/internal/proxy"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
	"github.com/dropDatabas3/spawnhub/internal/spawner/spawnertest"
	"github.com/dropDatabas3/spawnhub/internal/store/adapters/memory"
)

type gateway struct {
	app     *server.App
	backend *spawnertest.Backend
	proxy   *proxy.MemoryBackend
}

// newGateway arma el hub completo con el proxy ya confirmado.
func newGateway(t *testing.T, mutate func(*config.Config)) *gateway {
	t.Helper()
	g := newColdGateway(t, mutate)
	_, err := g.app.Hub.SyncRoutes(context.Background())
	require.NoError(t, err)
	require.True(t, g.app.Hub.Ready())
	return g
}

// newColdGateway es newGateway antes de que el proxy haya respondido.
func newColdGateway(t *testing.T, mutate func(*config.Config)) *gateway {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.AdminUsers = []string{"root"}
	cfg.Spawner.SlowSpawnTimeout = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	g := &gateway{backend: spawnertest.New(), proxy: proxy.NewMemoryBackend()}
	app, err := server.BuildWith(context.Background(), cfg, server.Overrides{
		Store:          memory.New(),
		ProxyBackend:   g.proxy,
		SpawnerBackend: g.backend,
		Registry:       prometheus.NewRegistry(),
		ProxyOptions: []proxy.Option{proxy.WithRetry(proxy.RetryConfig{
			MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond,
		})},
	})
	require.NoError(t, err)
	require.NoError(t, app.Hub.Init(context.Background()))
	t.Cleanup(func() {
		_ = app.Hub.Shutdown(context.Background(), false)
		_ = app.Cleanup()
	})
	g.app = app

	_, err = app.Hub.CreateUsers(context.Background(), []string{"alice", "bob"}, false)
	require.NoError(t, err)
	return g
}

// token emite un token para user con los scopes dados (nil = permisos del dueño).
func (g *gateway) token(t *testing.T, user string, raw ...string) string {
	t.Helper()
	issued, err := g.app.Hub.IssueToken(context.Background(), scopes.UserPrincipal(user), hub.TokenRequest{Scopes: raw})
	require.NoError(t, err)
	return issued.Secret
}

func (g *gateway) do(t *testing.T, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "token "+token)
	}
	rec := httptest.NewRecorder()
	g.app.Handler.ServeHTTP(rec, r)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func TestVersion_IsPublic(t *testing.T) {
	g := newGateway(t, nil)
	rec := g.do(t, http.MethodGet, "/hub/api", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version"`)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestServerScopeFilteredToOwner(t *testing.T) {
	g := newGateway(t, nil)
	root := g.token(t, "root")
	alice := g.token(t, "alice", "servers!user=alice")

	require.Equal(t, http.StatusCreated, g.do(t, http.MethodPost, "/hub/api/users/bob/server", root, "").Code)

	rec := g.do(t, http.MethodDelete, "/hub/api/users/bob/server", alice, "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "INSUFFICIENT_SCOPES", errorCode(t, rec))
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="insufficient_scope"`)
	assert.True(t, g.backend.Running("bob", ""))

	require.Equal(t, http.StatusCreated, g.do(t, http.MethodPost, "/hub/api/users/alice/server", alice, "").Code)
	assert.Equal(t, http.StatusNoContent, g.do(t, http.MethodDelete, "/hub/api/users/alice/server", alice, "").Code)
	assert.False(t, g.backend.Running("alice", ""))
}

func TestStartServer_CreatedThenAlreadyRunning(t *testing.T) {
	g := newGateway(t, nil)
	alice := g.token(t, "alice")

	rec := g.do(t, http.MethodPost, "/hub/api/users/alice/server", alice, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var srv struct {
		Ready bool   `json:"ready"`
		URL   string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &srv))
	assert.True(t, srv.Ready)
	assert.Equal(t, "/user/alice/", srv.URL)

	routes, err := g.proxy.GetRoutes(context.Background())
	require.NoError(t, err)
	assert.Contains(t, routes, "/user/alice")

	rec = g.do(t, http.MethodPost, "/hub/api/users/alice/server", alice, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartServer_SlowSpawnIsAccepted(t *testing.T) {
	g := newGateway(t, func(c *config.Config) { c.Spawner.SlowSpawnTimeout = 20 * time.Millisecond })
	alice := g.token(t, "alice")
	block := make(chan struct{})
	g.backend.Block = block

	rec := g.do(t, http.MethodPost, "/hub/api/users/alice/server", alice, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/hub/api/users/alice/server/progress", rec.Header().Get("Location"))

	// un segundo start mientras el spawn sigue en curso responde enseguida
	began := time.Now()
	assert.Equal(t, http.StatusBadRequest, g.do(t, http.MethodPost, "/hub/api/users/alice/server", alice, "").Code)
	assert.Less(t, time.Since(began), time.Second)

	close(block)
	require.Eventually(t, func() bool {
		rec := g.do(t, http.MethodGet, "/hub/api/users/alice/server", alice, "")
		return rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), `"ready":true`)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUserRedirect_NotRunningVsNotFound(t *testing.T) {
	g := newGateway(t, nil)
	alice := g.token(t, "alice")

	// nunca lanzado: no existe
	assert.Equal(t, http.StatusNotFound, g.do(t, http.MethodGet, "/hub/user/alice/tree", alice, "").Code)

	require.Equal(t, http.StatusCreated, g.do(t, http.MethodPost, "/hub/api/users/alice/server", alice, "").Code)
	rec := g.do(t, http.MethodGet, "/hub/user/alice/tree?x=1", alice, "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/user/alice/tree?x=1", rec.Header().Get("Location"))

	require.Equal(t, http.StatusNoContent, g.do(t, http.MethodDelete, "/hub/api/users/alice/server", alice, "").Code)
	rec = g.do(t, http.MethodGet, "/hub/user/alice/tree", alice, "")
	assert.Equal(t, http.StatusFailedDependency, rec.Code)
	assert.Contains(t, rec.Body.String(), "not running")

	// bob no tiene access:servers sobre alice
	bob := g.token(t, "bob")
	assert.Equal(t, http.StatusForbidden, g.do(t, http.MethodGet, "/hub/user/alice/tree", bob, "").Code)
}

func TestUsers_AuthorizationAndNotFound(t *testing.T) {
	g := newGateway(t, func(c *config.Config) {
		c.Roles = []config.RoleConfig{{
			Name:   "lister",
			Scopes: []string{"list:users!user=alice"},
			Users:  []string{"alice"},
		}}
	})
	root := g.token(t, "root")
	alice := g.token(t, "alice")
	bob := g.token(t, "bob")

	assert.Equal(t, http.StatusUnauthorized, g.do(t, http.MethodGet, "/hub/api/users", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, g.do(t, http.MethodGet, "/hub/api/users", "bogus", "").Code)
	assert.Equal(t, http.StatusNotFound, g.do(t, http.MethodGet, "/hub/api/users/nobody", root, "").Code)

	// sin list:users no hay listado
	assert.Equal(t, http.StatusForbidden, g.do(t, http.MethodGet, "/hub/api/users", bob, "").Code)

	// con el filtro, alice solo se ve a sí misma
	rec := g.do(t, http.MethodGet, "/hub/api/users", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var users []struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Name)

	assert.Equal(t, http.StatusOK, g.do(t, http.MethodGet, "/hub/api/users/alice", alice, "").Code)
	assert.Equal(t, http.StatusForbidden, g.do(t, http.MethodGet, "/hub/api/users/bob", alice, "").Code)
	assert.Equal(t, http.StatusForbidden, g.do(t, http.MethodPost, "/hub/api/users/carol", alice, "").Code)

	rec = g.do(t, http.MethodPost, "/hub/api/users", root, `{"usernames":["carol","dave"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = g.do(t, http.MethodGet, "/hub/api/users?limit=2", root, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	assert.Len(t, users, 2)
}

func TestWhoAmI_ReportsEffectiveScopes(t *testing.T) {
	g := newGateway(t, nil)
	alice := g.token(t, "alice", "read:users!user=alice")

	rec := g.do(t, http.MethodGet, "/hub/api/user", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		Kind   string   `json:"kind"`
		Name   string   `json:"name"`
		Scopes []string `json:"scopes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "user", me.Kind)
	assert.Equal(t, "alice", me.Name)
	assert.Contains(t, me.Scopes, "read:users!user=alice")
	assert.NotContains(t, me.Scopes, "admin:users")
}

func TestTokens_CreateListRevoke(t *testing.T) {
	g := newGateway(t, nil)
	alice := g.token(t, "alice")

	rec := g.do(t, http.MethodPost, "/hub/api/users/alice/tokens", alice, `{"note":"ci","expires_in":3600}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID    string `json:"id"`
		Token string `json:"token"`
		Note  string `json:"note"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Token)
	assert.Equal(t, "ci", created.Note)

	// el token nuevo autentica
	assert.Equal(t, http.StatusOK, g.do(t, http.MethodGet, "/hub/api/user", created.Token, "").Code)

	rec = g.do(t, http.MethodGet, "/hub/api/users/alice/tokens", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), created.Token)

	// pedir scopes que alice no tiene
	rec = g.do(t, http.MethodPost, "/hub/api/users/alice/tokens", alice, `{"scopes":["admin:users"]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.Equal(t, http.StatusNoContent, g.do(t, http.MethodDelete, "/hub/api/users/alice/tokens/"+created.ID, alice, "").Code)
	assert.Equal(t, http.StatusUnauthorized, g.do(t, http.MethodGet, "/hub/api/user", created.Token, "").Code)
}

func TestLogin_SetsSessionCookie(t *testing.T) {
	g := newGateway(t, nil)

	rec := g.do(t, http.MethodPost, "/hub/login", "", `{"username":"Carol","password":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Name  string `json:"name"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "carol", resp.Name)

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "spawnhub-session" {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	assert.Equal(t, resp.Token, session.Value)

	r := httptest.NewRequest(http.MethodGet, "/hub/api/user", nil)
	r.AddCookie(session)
	me := httptest.NewRecorder()
	g.app.Handler.ServeHTTP(me, r)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"name":"carol"`)

	r = httptest.NewRequest(http.MethodPost, "/hub/logout", nil)
	r.AddCookie(session)
	out := httptest.NewRecorder()
	g.app.Handler.ServeHTTP(out, r)
	require.Equal(t, http.StatusNoContent, out.Code)

	// la sesión quedó revocada
	assert.Equal(t, http.StatusUnauthorized, g.do(t, http.MethodGet, "/hub/api/user", resp.Token, "").Code)
}

func TestLogin_RateLimitedPerIP(t *testing.T) {
	g := newGateway(t, func(c *config.Config) {
		c.Rate.Enabled = true
		c.Rate.Login.Limit = 2
		c.Rate.Login.Window = time.Hour
	})
	login := func(user string) int {
		r := httptest.NewRequest(http.MethodPost, "/hub/login", strings.NewReader(`{"username":"`+user+`"}`))
		r.Header.Set("Content-Type", "application/json")
		r.RemoteAddr = "10.1.2.3:4000"
		rec := httptest.NewRecorder()
		g.app.Handler.ServeHTTP(rec, r)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, login("u1"))
	assert.Equal(t, http.StatusOK, login("u2"))
	assert.Equal(t, http.StatusTooManyRequests, login("u3"))
}

func TestHealth_UnavailableUntilProxyResponds(t *testing.T) {
	g := newColdGateway(t, nil)

	rec := g.do(t, http.MethodGet, "/hub/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unavailable"`)
	assert.Equal(t, hub.Version, rec.Header().Get("X-Service-Version"))

	_, err := g.app.Hub.SyncRoutes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, g.do(t, http.MethodGet, "/hub/health", "", "").Code)
}

func TestUserRoutes_UnavailableUntilProxyResponds(t *testing.T) {
	g := newColdGateway(t, func(c *config.Config) { c.Spawner.ConsecutiveFailureLimit = 2 })
	g.proxy.SetDown(true)
	root := g.token(t, "root")

	for _, user := range []string{"alice", "bob"} {
		rec := g.do(t, http.MethodPost, "/hub/api/users/"+user+"/server", root, "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "SERVICE_UNAVAILABLE", errorCode(t, rec))
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	}
	login := g.do(t, http.MethodPost, "/hub/login", "", `{"username":"alice","password":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, login.Code)
	assert.Equal(t, http.StatusServiceUnavailable, g.do(t, http.MethodPost, "/hub/api/oauth2/token", "", "").Code)

	// versión y health responden igual
	assert.Equal(t, http.StatusOK, g.do(t, http.MethodGet, "/hub/api", "", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, g.do(t, http.MethodGet, "/hub/health", "", "").Code)
	assert.Empty(t, g.backend.Calls())
	assert.False(t, g.app.Hub.Context().Spawner.Disabled())

	g.proxy.SetDown(false)
	require.Equal(t, http.StatusOK, g.do(t, http.MethodPost, "/hub/api/proxy", root, "").Code)
	require.True(t, g.app.Hub.Ready())
	assert.Equal(t, http.StatusCreated, g.do(t, http.MethodPost, "/hub/api/users/alice/server", root, "").Code)
}

func TestProxy_RoutesAndSync(t *testing.T) {
	g := newGateway(t, nil)
	root := g.token(t, "root")
	alice := g.token(t, "alice")

	require.Equal(t, http.StatusCreated, g.do(t, http.MethodPost, "/hub/api/users/alice/server", alice, "").Code)
	assert.Equal(t, http.StatusForbidden, g.do(t, http.MethodGet, "/hub/api/proxy", alice, "").Code)

	// alguien borró la ruta por fuera del hub
	require.NoError(t, g.proxy.DeleteRoute(context.Background(), "/user/alice"))

	rec := g.do(t, http.MethodPost, "/hub/api/proxy", root, "")
	require.Equal(t, http.StatusOK, rec.Code)
	routes, err := g.proxy.GetRoutes(context.Background())
	require.NoError(t, err)
	assert.Contains(t, routes, "/user/alice")

	rec = g.do(t, http.MethodGet, "/hub/api/proxy", root, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/user/alice")
}

func TestOAuthToken_Errors(t *testing.T) {
	g := newGateway(t, nil)
	post := func(form url.Values) (int, string) {
		r := httptest.NewRequest(http.MethodPost, "/hub/api/oauth2/token", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		g.app.Handler.ServeHTTP(rec, r)
		var body struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		return rec.Code, body.Error
	}

	code, e := post(url.Values{"grant_type": {"password"}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "unsupported_grant_type", e)

	code, e = post(url.Values{"grant_type": {"authorization_code"}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", e)

	code, e = post(url.Values{"grant_type": {"authorization_code"}, "code": {"x"}, "client_id": {"nope"}})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid_client", e)
}

func TestMetrics_RequiresScope(t *testing.T) {
	g := newGateway(t, nil)
	root := g.token(t, "root")
	alice := g.token(t, "alice")

	assert.Equal(t, http.StatusUnauthorized, g.do(t, http.MethodGet, "/hub/metrics", "", "").Code)
	assert.Equal(t, http.StatusForbidden, g.do(t, http.MethodGet, "/hub/metrics", alice, "").Code)
	assert.Equal(t, http.StatusOK, g.do(t, http.MethodGet, "/hub/metrics", root, "").Code)
}

func TestShutdown_RequestsHubStop(t *testing.T) {
	g := newGateway(t, nil)
	root := g.token(t, "root")

	assert.Equal(t, http.StatusForbidden, g.do(t, http.MethodPost, "/hub/api/shutdown", g.token(t, "alice"), "").Code)
	require.Equal(t, http.StatusAccepted, g.do(t, http.MethodPost, "/hub/api/shutdown", root, `{"servers":true}`).Code)
	select {
	case req := <-g.app.Hub.ShutdownRequested():
		assert.True(t, req.StopServers)
	case <-time.After(time.Second):
		t.Fatal("shutdown not requested")
	}
}

func TestUnknownRoute_IsJSON404(t *testing.T) {
	g := newGateway(t, nil)
	rec := g.do(t, http.MethodGet, "/hub/api/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}
