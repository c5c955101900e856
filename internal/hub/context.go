// Package hub orquesta usuarios, servers, tokens y el proxy.
//
// Context reúne las dependencias compartidas del proceso (store, proxy,
// spawner, token store, proveedor OAuth y configuración) y se pasa
// explícitamente a cada componente; no hay estado global.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dropDatabas3/spawnhub/internal/audit"
	"github.com/dropDatabas3/spawnhub/internal/auth"
	"github.com/dropDatabas3/spawnhub/internal/cache"
	"github.com/dropDatabas3/spawnhub/internal/config"
	"github.com/dropDatabas3/spawnhub/internal/oauth"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/proxy"
	"github.com/dropDatabas3/spawnhub/internal/rate"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
	"github.com/dropDatabas3/spawnhub/internal/security/secretbox"
	"github.com/dropDatabas3/spawnhub/internal/spawner"
	"github.com/dropDatabas3/spawnhub/internal/store"
	"github.com/dropDatabas3/spawnhub/internal/tokens"
)

// Version del hub, se sobreescribe con -ldflags.
var Version = "0.1.0-dev"

// Deps son los colaboradores externos que arma el main.
type Deps struct {
	Config         *config.Config
	Store          store.Store
	Cache          cache.Client
	ProxyBackend   proxy.Backend
	SpawnerBackend spawner.Backend
	Authenticator  auth.Authenticator

	// LoginLimiter es opcional.
	LoginLimiter rate.Limiter

	// ProxyOptions permite ajustar reintentos en tests.
	ProxyOptions []proxy.Option
}

// Context es el estado compartido del hub.
type Context struct {
	Config        *config.Config
	Store         store.Store
	Cache         cache.Client
	Proxy         *proxy.Synchronizer
	Spawner       *spawner.Manager
	Tokens        *tokens.Store
	Permissions   *tokens.Permissions
	OAuth         *oauth.Provider
	Authenticator auth.Authenticator
	AuthState     *secretbox.Box
	LoginLimiter  rate.Limiter
	StartedAt     time.Time
}

// Hub implementa las operaciones de la API sobre un Context.
type Hub struct {
	hc *Context

	// servicios con URL registran una ruta propia en el proxy
	serviceRoutes map[string]proxy.Route

	shutdownOnce sync.Once
	shutdownC    chan ShutdownRequest
}

// ShutdownRequest es lo que pide POST /shutdown.
type ShutdownRequest struct {
	StopServers bool
}

// New arma el Context y el Hub. No toca el store: llamar Init antes de servir.
func New(d Deps) (*Hub, error) {
	cfg := d.Config
	if cfg == nil || d.Store == nil || d.ProxyBackend == nil || d.SpawnerBackend == nil {
		return nil, errors.New("hub: config, store, proxy and spawner backends are required")
	}
	if d.Cache == nil {
		d.Cache = cache.NewMemory("spawnhub")
	}
	if d.Authenticator == nil {
		d.Authenticator = &auth.Dummy{}
	}

	box, err := secretbox.New(cfg.Auth.CryptKey)
	if err != nil {
		return nil, fmt.Errorf("auth.crypt_key: %w", err)
	}

	resolver := scopes.NewResolver(scopes.Options{SelfAccess: cfg.SelfAccessEnabled()})
	perms := tokens.NewPermissions(d.Store, resolver, cfg.Auth.ScopeCacheTTL)
	tokStore := tokens.New(d.Store, perms)

	opts := append([]proxy.Option{proxy.WithRetry(proxy.RetryConfig{
		MaxAttempts:  cfg.Proxy.Retry.MaxAttempts,
		InitialDelay: cfg.Proxy.Retry.InitialDelay,
		MaxDelay:     cfg.Proxy.Retry.MaxDelay,
	})}, d.ProxyOptions...)
	routes := proxy.NewSynchronizer(d.ProxyBackend, opts...)

	signing := []byte(cfg.Auth.ConfirmSigningKey)
	if len(signing) == 0 {
		// sin clave configurada los tickets solo valen para este proceso
		s, err := randomSecret()
		if err != nil {
			return nil, err
		}
		signing = []byte(s)
	}
	provider := oauth.New(oauth.Deps{
		Clients:        d.Store.OAuthClients(),
		Tokens:         tokStore,
		Cache:          d.Cache,
		SigningKey:     signing,
		TokenExpiresIn: cfg.Auth.OAuthTokenExpiresIn,
	})

	hc := &Context{
		Config:        cfg,
		Store:         d.Store,
		Cache:         d.Cache,
		Proxy:         routes,
		Tokens:        tokStore,
		Permissions:   perms,
		OAuth:         provider,
		Authenticator: d.Authenticator,
		AuthState:     box,
		LoginLimiter:  d.LoginLimiter,
		StartedAt:     time.Now().UTC(),
	}
	hc.Spawner = spawner.New(spawner.Config{
		BaseURL:                 cfg.Server.BaseURL,
		HubAPIURL:               apiURL(cfg),
		StartTimeout:            cfg.Spawner.StartTimeout,
		StopTimeout:             cfg.Spawner.StopTimeout,
		ConcurrentSpawnLimit:    cfg.Spawner.ConcurrentSpawnLimit,
		ActiveServerLimit:       cfg.Spawner.ActiveServerLimit,
		ConsecutiveFailureLimit: cfg.Spawner.ConsecutiveFailureLimit,
	}, spawner.Deps{
		Backend:     d.SpawnerBackend,
		Servers:     d.Store.Servers(),
		Routes:      routes,
		Credentials: &serverCredentials{hc: hc},
	})

	return &Hub{
		hc:            hc,
		serviceRoutes: make(map[string]proxy.Route),
		shutdownC:     make(chan ShutdownRequest, 1),
	}, nil
}

// Context expone el estado compartido (middlewares, controllers).
func (h *Hub) Context() *Context { return h.hc }

// Init siembra roles, admins y services de la config y recupera el estado
// del spawner tras un restart.
func (h *Hub) Init(ctx context.Context) error {
	log := logger.From(ctx).With(logger.Component("hub"), logger.Op("init"))
	if err := h.syncRoles(ctx); err != nil {
		return fmt.Errorf("sync roles: %w", err)
	}
	if err := h.syncAdmins(ctx); err != nil {
		return fmt.Errorf("sync admin users: %w", err)
	}
	if err := h.syncServices(ctx); err != nil {
		return fmt.Errorf("sync services: %w", err)
	}
	if err := h.syncRoleAssignments(ctx); err != nil {
		return fmt.Errorf("sync role assignments: %w", err)
	}
	if err := h.syncServiceTokens(ctx); err != nil {
		return fmt.Errorf("sync service tokens: %w", err)
	}
	if err := h.hc.Spawner.Recover(ctx); err != nil {
		return fmt.Errorf("recover spawner: %w", err)
	}
	h.hc.Permissions.InvalidateAll()
	log.Info("hub initialized", logger.String("version", Version))
	return nil
}

// Ready indica si el hub puede atender requests de usuarios: el proxy
// respondió al menos una vez.
func (h *Hub) Ready() bool { return h.hc.Proxy.Ready() }

// ShutdownRequested se dispara cuando la API pide apagar el hub.
func (h *Hub) ShutdownRequested() <-chan ShutdownRequest { return h.shutdownC }

// RequestShutdown encola el pedido de apagado. Llamadas repetidas no tienen efecto.
func (h *Hub) RequestShutdown(ctx context.Context, req ShutdownRequest) {
	h.shutdownOnce.Do(func() {
		audit.Log(ctx, audit.ShutdownRequested, logger.Bool("stop_servers", req.StopServers))
		h.shutdownC <- req
	})
}

// Shutdown cancela los spawns en curso y, si se pide, detiene todos los servers.
func (h *Hub) Shutdown(ctx context.Context, stopServers bool) error {
	log := logger.From(ctx).With(logger.Component("hub"), logger.Op("shutdown"))
	if stopServers {
		stopped, err := h.stopAll(ctx)
		log.Info("servers stopped for shutdown", logger.Count(stopped))
		if err != nil {
			log.Warn("stop servers on shutdown", logger.Err(err))
		}
	}
	return h.hc.Spawner.Close(ctx)
}

func apiURL(cfg *config.Config) string {
	return cfg.Server.HubConnectURL + cfg.Server.BaseURL + "hub/api"
}
