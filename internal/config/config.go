package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/spawnhub/internal/validation"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env     string `yaml:"app_env"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// BaseURL es el prefijo de todas las rutas públicas ("/" por defecto).
		BaseURL string `yaml:"base_url"`
		// PublicURL es la URL externa del proxy (para redirects absolutos).
		PublicURL string `yaml:"public_url"`
		// HubConnectURL es cómo los servers alcanzan la API del hub.
		HubConnectURL   string        `yaml:"hub_connect_url"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Storage struct {
		Driver   string `yaml:"driver"` // memory | postgres
		DSN      string `yaml:"dsn"`
		Migrate  bool   `yaml:"migrate"`
		Postgres struct {
			MaxOpenConns int `yaml:"max_open_conns"`
			MinIdleConns int `yaml:"min_idle_conns"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Proxy struct {
		Kind                string        `yaml:"kind"` // memory | rest
		APIURL              string        `yaml:"api_url"`
		AuthToken           string        `yaml:"auth_token"`
		Timeout             time.Duration `yaml:"timeout"`
		CheckRoutesInterval time.Duration `yaml:"check_routes_interval"`
		Retry               struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"retry"`
	} `yaml:"proxy"`

	Spawner struct {
		Kind                    string        `yaml:"kind"` // local
		StartTimeout            time.Duration `yaml:"start_timeout"`
		StopTimeout             time.Duration `yaml:"stop_timeout"`
		SlowSpawnTimeout        time.Duration `yaml:"slow_spawn_timeout"`
		PollInterval            time.Duration `yaml:"poll_interval"`
		ConcurrentSpawnLimit    int           `yaml:"concurrent_spawn_limit"`
		ActiveServerLimit       int           `yaml:"active_server_limit"`
		ConsecutiveFailureLimit int           `yaml:"consecutive_failure_limit"`
		AllowNamedServers       *bool         `yaml:"allow_named_servers"`
		NamedServerLimitPerUser int           `yaml:"named_server_limit_per_user"`
		Local                   struct {
			Cmd  string   `yaml:"cmd"`
			Args []string `yaml:"args"`
			IP   string   `yaml:"ip"`
			Dir  string   `yaml:"dir"`
		} `yaml:"local"`
	} `yaml:"spawner"`

	Auth struct {
		Authenticator string `yaml:"authenticator"` // dummy | static
		DummyPassword string `yaml:"dummy_password"`
		StaticUsers   map[string]struct {
			PasswordHash string   `yaml:"password_hash"`
			Groups       []string `yaml:"groups"`
			Admin        bool     `yaml:"admin"`
		} `yaml:"static_users"`
		AdminUsers []string `yaml:"admin_users"`

		Cookie struct {
			Name   string `yaml:"name"`
			Secure bool   `yaml:"secure"`
		} `yaml:"cookie"`
		// SessionTTL es la vida del token de login (cookie).
		SessionTTL time.Duration `yaml:"session_ttl"`
		// SelfAccess: un usuario siempre puede operar sobre sí mismo (scope "self").
		SelfAccess          *bool         `yaml:"self_access"`
		ScopeCacheTTL       time.Duration `yaml:"scope_cache_ttl"`
		CryptKey            string        `yaml:"crypt_key"`
		ConfirmSigningKey   string        `yaml:"confirm_signing_key"`
		OAuthTokenExpiresIn time.Duration `yaml:"oauth_token_expires_in"`
	} `yaml:"auth"`

	Roles []RoleConfig `yaml:"roles"`

	Services []ServiceConfig `yaml:"services"`

	Cull struct {
		Enabled bool          `yaml:"enabled"`
		Timeout time.Duration `yaml:"timeout"`
		Every   time.Duration `yaml:"every"`
		MaxAge  time.Duration `yaml:"max_age"`
	} `yaml:"cull"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Login   struct {
			Limit  int           `yaml:"limit"`
			Window time.Duration `yaml:"window"`
		} `yaml:"login"`
	} `yaml:"rate"`
}

// RoleConfig declara un rol y a quién se asigna.
type RoleConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Scopes      []string `yaml:"scopes"`
	Users       []string `yaml:"users"`
	Groups      []string `yaml:"groups"`
	Services    []string `yaml:"services"`
}

// ServiceConfig declara un service externo.
type ServiceConfig struct {
	Name             string   `yaml:"name"`
	APIToken         string   `yaml:"api_token"`
	URL              string   `yaml:"url"`
	Roles            []string `yaml:"roles"`
	OAuthClientID    string   `yaml:"oauth_client_id"`
	OAuthRedirectURI string   `yaml:"oauth_redirect_uri"`
	OAuthNoConfirm   bool     `yaml:"oauth_no_confirm"`
}

// NamedServersAllowed aplica el default (true).
func (c *Config) NamedServersAllowed() bool {
	return c.Spawner.AllowNamedServers == nil || *c.Spawner.AllowNamedServers
}

// SelfAccessEnabled aplica el default (true).
func (c *Config) SelfAccessEnabled() bool {
	return c.Auth.SelfAccess == nil || *c.Auth.SelfAccess
}

// Load lee el YAML (si path no es vacío), aplica defaults y overrides de entorno, y valida.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default retorna una config con todos los defaults y sin leer el entorno.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// ApplyDefaults completa los campos vacíos de una config armada a mano.
func (c *Config) ApplyDefaults() { c.applyDefaults() }

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8081"
	}
	c.Server.BaseURL = normalizeBase(c.Server.BaseURL)
	if c.Server.HubConnectURL == "" {
		c.Server.HubConnectURL = "http://127.0.0.1" + portOf(c.Server.Addr)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "spawnhub"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Proxy.Kind == "" {
		c.Proxy.Kind = "memory"
	}
	if c.Proxy.Timeout == 0 {
		c.Proxy.Timeout = 10 * time.Second
	}
	if c.Proxy.CheckRoutesInterval == 0 {
		c.Proxy.CheckRoutesInterval = 5 * time.Minute
	}
	if c.Proxy.Retry.MaxAttempts == 0 {
		c.Proxy.Retry.MaxAttempts = 8
	}
	if c.Proxy.Retry.InitialDelay == 0 {
		c.Proxy.Retry.InitialDelay = 100 * time.Millisecond
	}
	if c.Proxy.Retry.MaxDelay == 0 {
		c.Proxy.Retry.MaxDelay = 5 * time.Second
	}

	if c.Spawner.Kind == "" {
		c.Spawner.Kind = "local"
	}
	if c.Spawner.StartTimeout == 0 {
		c.Spawner.StartTimeout = 60 * time.Second
	}
	if c.Spawner.StopTimeout == 0 {
		c.Spawner.StopTimeout = 10 * time.Second
	}
	if c.Spawner.SlowSpawnTimeout == 0 {
		c.Spawner.SlowSpawnTimeout = 10 * time.Second
	}
	if c.Spawner.PollInterval == 0 {
		c.Spawner.PollInterval = 30 * time.Second
	}
	if c.Spawner.ConcurrentSpawnLimit == 0 {
		c.Spawner.ConcurrentSpawnLimit = 100
	}

	if c.Auth.Authenticator == "" {
		c.Auth.Authenticator = "dummy"
	}
	if c.Auth.Cookie.Name == "" {
		c.Auth.Cookie.Name = "spawnhub-session"
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = 14 * 24 * time.Hour
	}
	if c.Auth.ScopeCacheTTL == 0 {
		c.Auth.ScopeCacheTTL = 5 * time.Second
	}

	if c.Cull.Timeout == 0 {
		c.Cull.Timeout = time.Hour
	}
	if c.Cull.Every == 0 {
		c.Cull.Every = 10 * time.Minute
	}

	if c.Rate.Login.Limit == 0 {
		c.Rate.Login.Limit = 10
	}
	if c.Rate.Login.Window == 0 {
		c.Rate.Login.Window = time.Minute
	}
}

// Validate revisa combinaciones inválidas. Los errores se acumulan.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			bad("storage.dsn is required for driver postgres")
		}
	default:
		bad("storage.driver %q: want memory|postgres", c.Storage.Driver)
	}
	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		bad("cache.kind %q: want memory|redis", c.Cache.Kind)
	}
	switch c.Proxy.Kind {
	case "memory":
	case "rest":
		if c.Proxy.APIURL == "" {
			bad("proxy.api_url is required for kind rest")
		}
	default:
		bad("proxy.kind %q: want memory|rest", c.Proxy.Kind)
	}
	if c.Proxy.Retry.MaxAttempts < 1 {
		bad("proxy.retry.max_attempts must be >= 1")
	}
	if c.Proxy.Retry.InitialDelay > c.Proxy.Retry.MaxDelay {
		bad("proxy.retry.initial_delay must not exceed max_delay")
	}
	if c.Spawner.Kind != "local" {
		bad("spawner.kind %q: want local", c.Spawner.Kind)
	}
	for k, v := range map[string]int{
		"spawner.concurrent_spawn_limit":      c.Spawner.ConcurrentSpawnLimit,
		"spawner.active_server_limit":         c.Spawner.ActiveServerLimit,
		"spawner.consecutive_failure_limit":   c.Spawner.ConsecutiveFailureLimit,
		"spawner.named_server_limit_per_user": c.Spawner.NamedServerLimitPerUser,
	} {
		if v < 0 {
			bad("%s must be >= 0", k)
		}
	}
	switch c.Auth.Authenticator {
	case "dummy", "static":
	default:
		bad("auth.authenticator %q: want dummy|static", c.Auth.Authenticator)
	}

	roles := map[string]bool{}
	for i, r := range c.Roles {
		if !validation.ValidEntityName(r.Name) {
			bad("roles[%d].name %q is invalid", i, r.Name)
		}
		roles[r.Name] = true
	}
	services := map[string]bool{}
	for i, s := range c.Services {
		if !validation.ValidEntityName(s.Name) {
			bad("services[%d].name %q is invalid", i, s.Name)
		}
		if services[s.Name] {
			bad("services[%d].name %q is duplicated", i, s.Name)
		}
		services[s.Name] = true
		if s.OAuthClientID != "" && s.OAuthRedirectURI == "" {
			bad("services[%d]: oauth_redirect_uri is required with oauth_client_id", i)
		}
		if s.OAuthClientID != "" && s.APIToken == "" {
			bad("services[%d]: api_token is required with oauth_client_id (used as client secret)", i)
		}
	}
	return errors.Join(errs...)
}

func normalizeBase(b string) string {
	b = "/" + strings.Trim(strings.TrimSpace(b), "/")
	if b != "/" {
		b += "/"
	}
	return b
}

func portOf(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i:]
	}
	return ":8081"
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("BASE_URL"); ok {
		c.Server.BaseURL = v
	}
	if v, ok := getEnvStr("PUBLIC_URL"); ok {
		c.Server.PublicURL = v
	}
	if v, ok := getEnvStr("HUB_CONNECT_URL"); ok {
		c.Server.HubConnectURL = v
	}

	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvBool("STORAGE_MIGRATE"); ok {
		c.Storage.Migrate = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}

	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	if v, ok := getEnvStr("PROXY_KIND"); ok {
		c.Proxy.Kind = v
	}
	if v, ok := getEnvStr("PROXY_API_URL"); ok {
		c.Proxy.APIURL = v
	}
	if v, ok := getEnvStr("PROXY_AUTH_TOKEN"); ok {
		c.Proxy.AuthToken = v
	} else if v, ok := getEnvStr("CONFIGPROXY_AUTH_TOKEN"); ok {
		c.Proxy.AuthToken = v
	}
	if v, ok := getEnvDur("PROXY_CHECK_ROUTES_INTERVAL"); ok {
		c.Proxy.CheckRoutesInterval = v
	}

	if v, ok := getEnvDur("SPAWNER_START_TIMEOUT"); ok {
		c.Spawner.StartTimeout = v
	}
	if v, ok := getEnvDur("SPAWNER_STOP_TIMEOUT"); ok {
		c.Spawner.StopTimeout = v
	}
	if v, ok := getEnvInt("SPAWNER_CONCURRENT_SPAWN_LIMIT"); ok {
		c.Spawner.ConcurrentSpawnLimit = v
	}
	if v, ok := getEnvInt("SPAWNER_ACTIVE_SERVER_LIMIT"); ok {
		c.Spawner.ActiveServerLimit = v
	}
	if v, ok := getEnvInt("SPAWNER_CONSECUTIVE_FAILURE_LIMIT"); ok {
		c.Spawner.ConsecutiveFailureLimit = v
	}
	if v, ok := getEnvBool("SPAWNER_ALLOW_NAMED_SERVERS"); ok {
		c.Spawner.AllowNamedServers = &v
	}
	if v, ok := getEnvStr("SPAWNER_LOCAL_CMD"); ok {
		c.Spawner.Local.Cmd = v
	}
	if v, ok := getEnvCSV("SPAWNER_LOCAL_ARGS"); ok {
		c.Spawner.Local.Args = v
	}

	if v, ok := getEnvStr("AUTH_AUTHENTICATOR"); ok {
		c.Auth.Authenticator = v
	}
	if v, ok := getEnvStr("AUTH_DUMMY_PASSWORD"); ok {
		c.Auth.DummyPassword = v
	}
	if v, ok := getEnvCSV("AUTH_ADMIN_USERS"); ok {
		c.Auth.AdminUsers = v
	}
	if v, ok := getEnvBool("AUTH_COOKIE_SECURE"); ok {
		c.Auth.Cookie.Secure = v
	}
	if v, ok := getEnvBool("AUTH_SELF_ACCESS"); ok {
		c.Auth.SelfAccess = &v
	}
	if v, ok := getEnvDur("AUTH_SCOPE_CACHE_TTL"); ok {
		c.Auth.ScopeCacheTTL = v
	}
	if v, ok := getEnvStr("CRYPT_KEY"); ok {
		c.Auth.CryptKey = v
	}
	if v, ok := getEnvStr("AUTH_CONFIRM_SIGNING_KEY"); ok {
		c.Auth.ConfirmSigningKey = v
	}

	if v, ok := getEnvBool("CULL_ENABLED"); ok {
		c.Cull.Enabled = v
	}
	if v, ok := getEnvDur("CULL_TIMEOUT"); ok {
		c.Cull.Timeout = v
	}

	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_LOGIN_LIMIT"); ok {
		c.Rate.Login.Limit = v
	}
	if v, ok := getEnvDur("RATE_LOGIN_WINDOW"); ok {
		c.Rate.Login.Window = v
	}
}
