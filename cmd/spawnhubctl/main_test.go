package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seen struct {
	method, path, query, auth, body string
}

// fakeHub responde status/body fijos y registra cada request.
func fakeHub(t *testing.T, status int, body string) (*httptest.Server, func() []seen) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []seen
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		got = append(got, seen{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			body:   string(b),
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []seen {
		mu.Lock()
		defer mu.Unlock()
		return append([]seen(nil), got...)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{"SPAWNHUB_URL", "SPAWNHUB_API_TOKEN", "SPAWNHUB_OUT"} {
		t.Setenv(k, "")
	}
	var out bytes.Buffer
	cl := &client{HTTP: http.DefaultClient, Out: &out}
	cmd := newRootCmd(cl)
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

func TestUsersList(t *testing.T) {
	srv, got := fakeHub(t, http.StatusOK, `[{"name":"alice"},{"name":"bob"}]`)

	out, err := run(t, "--url", srv.URL+"/", "--token", "secret-abc", "--out", "json",
		"users", "list", "--state", "active", "--limit", "5")
	require.NoError(t, err)

	reqs := got()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, http.MethodGet, req.method)
	assert.Equal(t, "/hub/api/users", req.path)
	assert.Equal(t, "limit=5&state=active", req.query)
	assert.Equal(t, "token secret-abc", req.auth)
	assert.Contains(t, out, `"name": "alice"`)
	assert.Contains(t, out, `"name": "bob"`)
}

func TestServersStart(t *testing.T) {
	srv, got := fakeHub(t, http.StatusCreated, "")

	out, err := run(t, "--url", srv.URL, "--token", "secret-abc", "servers", "start", "alice")
	require.NoError(t, err)
	assert.Equal(t, "status=201\n", out)

	_, err = run(t, "--url", srv.URL, "--token", "secret-abc", "servers", "start", "alice", "--name", "gpu 1")
	require.NoError(t, err)

	reqs := got()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, "/hub/api/users/alice/server", reqs[0].path)
	assert.Equal(t, "token secret-abc", reqs[0].auth)
	assert.Empty(t, reqs[0].body)
	assert.Equal(t, http.MethodPost, reqs[1].method)
	assert.Equal(t, "/hub/api/users/alice/servers/gpu 1", reqs[1].path)
}

func TestServersStart_ErrorStatus(t *testing.T) {
	srv, _ := fakeHub(t, http.StatusBadRequest, `{"code":"PENDING","message":"spawn pending"}`)

	_, err := run(t, "--url", srv.URL, "--token", "secret-abc", "servers", "start", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "servers start")
	assert.Contains(t, err.Error(), "status=400")
	assert.Contains(t, err.Error(), "PENDING")
}

func TestMissingToken(t *testing.T) {
	srv, got := fakeHub(t, http.StatusOK, "[]")

	_, err := run(t, "--url", srv.URL, "users", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "falta token")
	assert.Empty(t, got())
}
