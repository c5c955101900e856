package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "spawnhub.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/", c.Server.BaseURL)
	require.Equal(t, "memory", c.Storage.Driver)
	require.Equal(t, "memory", c.Proxy.Kind)
	require.Equal(t, 8, c.Proxy.Retry.MaxAttempts)
	require.Equal(t, 5*time.Second, c.Proxy.Retry.MaxDelay)
	require.Equal(t, 5*time.Second, c.Auth.ScopeCacheTTL)
	require.True(t, c.NamedServersAllowed())
	require.True(t, c.SelfAccessEnabled())
	require.Equal(t, "http://127.0.0.1:8081", c.Server.HubConnectURL)
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	p := writeYAML(t, `
server:
  base_url: hub
spawner:
  start_timeout: 2m
  consecutive_failure_limit: 3
  allow_named_servers: false
auth:
  self_access: false
roles:
  - name: grader
    scopes: ["read:users", "admin:servers!group=staff"]
    users: [alice]
services:
  - name: announcer
    api_token: secret-token
    roles: [grader]
`)
	t.Setenv("SPAWNER_ACTIVE_SERVER_LIMIT", "25")
	t.Setenv("PROXY_AUTH_TOKEN", "proxy-secret")

	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "/hub/", c.Server.BaseURL)
	require.Equal(t, 2*time.Minute, c.Spawner.StartTimeout)
	require.Equal(t, 3, c.Spawner.ConsecutiveFailureLimit)
	require.Equal(t, 25, c.Spawner.ActiveServerLimit)
	require.Equal(t, "proxy-secret", c.Proxy.AuthToken)
	require.False(t, c.NamedServersAllowed())
	require.False(t, c.SelfAccessEnabled())
	require.Len(t, c.Roles, 1)
	require.Equal(t, []string{"alice"}, c.Roles[0].Users)
	require.Equal(t, "announcer", c.Services[0].Name)
}

func TestValidate_Errors(t *testing.T) {
	p := writeYAML(t, `
storage:
  driver: postgres
proxy:
  kind: rest
services:
  - name: Bad Name
`)
	_, err := Load(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "storage.dsn")
	require.Contains(t, err.Error(), "proxy.api_url")
	require.Contains(t, err.Error(), "services[0].name")
}
