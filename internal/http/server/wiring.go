// Package server arma el hub completo a partir de la config: store, cache,
// backends de proxy y spawner, rate limiting, métricas y el router HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dropDatabas3/spawnhub/internal/auth"
	"github.com/dropDatabas3/spawnhub/internal/cache"
	"github.com/dropDatabas3/spawnhub/internal/config"
	"github.com/dropDatabas3/spawnhub/internal/http/middlewares"
	"github.com/dropDatabas3/spawnhub/internal/http/router"
	"github.com/dropDatabas3/spawnhub/internal/hub"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/proxy"
	"github.com/dropDatabas3/spawnhub/internal/rate"
	"github.com/dropDatabas3/spawnhub/internal/spawner"
	"github.com/dropDatabas3/spawnhub/internal/spawner/local"
	"github.com/dropDatabas3/spawnhub/internal/store"
	migrations "github.com/dropDatabas3/spawnhub/migrations/postgres"

	// adapters se registran vía init()
	_ "github.com/dropDatabas3/spawnhub/internal/store/adapters/memory"
	_ "github.com/dropDatabas3/spawnhub/internal/store/adapters/pg"
)

// App es el hub armado y listo para Init/Run.
type App struct {
	Hub     *hub.Hub
	Handler http.Handler
	Store   store.Store
	Cache   cache.Client

	cleanups []func() error
}

// Overrides reemplaza piezas del armado (tests, embebido).
type Overrides struct {
	Store          store.Store
	ProxyBackend   proxy.Backend
	SpawnerBackend spawner.Backend
	Registry       *prometheus.Registry
	ProxyOptions   []proxy.Option
}

// Cleanup libera store y cache en orden inverso.
func (a *App) Cleanup() error {
	var errs []error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build arma el App con los backends indicados por la config.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	return BuildWith(ctx, cfg, Overrides{})
}

// BuildWith es Build con piezas reemplazables.
func BuildWith(ctx context.Context, cfg *config.Config, o Overrides) (app *App, err error) {
	log := logger.From(ctx).With(logger.Component("wiring"))
	app = &App{}
	defer func() {
		if err != nil {
			_ = app.Cleanup()
		}
	}()

	// 1. Store
	st := o.Store
	if st == nil {
		st, err = openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		app.cleanups = append(app.cleanups, st.Close)
	}
	app.Store = st
	log.Info("store ready", logger.String("driver", st.Name()))

	// 2. Cache (códigos OAuth, tickets, rate limit compartido)
	cc, err := cache.New(ctx, cache.Config{
		Driver:   cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	app.cleanups = append(app.cleanups, cc.Close)
	app.Cache = cc

	// 3. Backends
	pb := o.ProxyBackend
	if pb == nil {
		pb = proxyBackend(cfg)
	}
	sb := o.SpawnerBackend
	if sb == nil {
		sb, err = spawnerBackend(cfg)
		if err != nil {
			return nil, err
		}
	}
	authn, err := authenticator(cfg)
	if err != nil {
		return nil, err
	}

	// 4. Rate limiting: el mismo limiter cubre usuario (hub) e IP (router)
	var limiter rate.Limiter
	if cfg.Rate.Enabled {
		limiter = loginLimiter(cfg, cc)
	}

	h, err := hub.New(hub.Deps{
		Config:         cfg,
		Store:          st,
		Cache:          cc,
		ProxyBackend:   pb,
		SpawnerBackend: sb,
		Authenticator:  authn,
		LoginLimiter:   limiter,
		ProxyOptions:   o.ProxyOptions,
	})
	if err != nil {
		return nil, err
	}
	app.Hub = h

	// 5. Métricas y router
	reg := o.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metricsHandler, err := middlewares.RegisterMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	app.Handler = router.New(router.Deps{
		Hub:            h,
		MetricsHandler: metricsHandler,
		LoginLimiter:   limiter,
	})
	return app, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, store.AdapterConfig{
		Name:         cfg.Storage.Driver,
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.Postgres.MaxOpenConns,
		MinIdleConns: cfg.Storage.Postgres.MinIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if !cfg.Storage.Migrate {
		return st, nil
	}
	ms, ok := st.(store.MigratableStore)
	if !ok {
		return st, nil
	}
	res, err := store.NewMigrator(migrations.HubFS, migrations.HubDir).Run(ctx, ms.MigrationExecutor())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.From(ctx).Info("migrations applied",
		logger.Component("wiring"),
		logger.Count(len(res.Applied)),
		logger.Duration(res.Duration),
	)
	return st, nil
}

func proxyBackend(cfg *config.Config) proxy.Backend {
	switch cfg.Proxy.Kind {
	case "rest":
		return proxy.NewRESTBackend(cfg.Proxy.APIURL, cfg.Proxy.AuthToken, cfg.Proxy.Timeout)
	default:
		return proxy.NewMemoryBackend()
	}
}

func spawnerBackend(cfg *config.Config) (spawner.Backend, error) {
	switch cfg.Spawner.Kind {
	case "", "local":
		return local.New(local.Config{
			Cmd:  cfg.Spawner.Local.Cmd,
			Args: cfg.Spawner.Local.Args,
			IP:   cfg.Spawner.Local.IP,
			Dir:  cfg.Spawner.Local.Dir,
		}), nil
	default:
		return nil, fmt.Errorf("spawner: unknown kind %q", cfg.Spawner.Kind)
	}
}

func authenticator(cfg *config.Config) (auth.Authenticator, error) {
	switch cfg.Auth.Authenticator {
	case "", "dummy":
		return &auth.Dummy{Password: cfg.Auth.DummyPassword}, nil
	case "static":
		users := make(map[string]auth.StaticUser, len(cfg.Auth.StaticUsers))
		for name, u := range cfg.Auth.StaticUsers {
			users[auth.NormalizeUsername(name)] = auth.StaticUser{
				PasswordHash: u.PasswordHash,
				Groups:       u.Groups,
				Admin:        u.Admin,
			}
		}
		return &auth.Static{Users: users}, nil
	default:
		return nil, fmt.Errorf("auth: unknown authenticator %q", cfg.Auth.Authenticator)
	}
}

func loginLimiter(cfg *config.Config, cc cache.Client) rate.Limiter {
	if rc := cache.RedisOf(cc); rc != nil {
		return rate.NewRedisLimiter(rc, "spawnhub:rl:login:", cfg.Rate.Login.Limit, cfg.Rate.Login.Window)
	}
	return rate.NewMemoryLimiter("login:", cfg.Rate.Login.Limit, cfg.Rate.Login.Window)
}
