package hub

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/proxy"
)

// DesiredRoutes es la tabla que el hub quiere ver en el proxy: la ruta del
// propio hub, la de cada service con URL y la de cada server corriendo.
func (h *Hub) DesiredRoutes(ctx context.Context) (map[string]proxy.Route, error) {
	desired, err := h.hc.Spawner.DesiredRoutes(ctx)
	if err != nil {
		return nil, err
	}
	for p, r := range h.serviceRoutes {
		desired[p] = r
	}
	hp := proxy.HubPrefix(h.hc.Config.Server.BaseURL)
	desired[hp] = proxy.Route{
		Prefix: hp,
		Target: h.hc.Config.Server.HubConnectURL,
		Data:   map[string]any{proxy.DataHub: true},
	}
	return desired, nil
}

// Routes retorna la tabla actual del proxy.
func (h *Hub) Routes(ctx context.Context) (map[string]proxy.Route, error) {
	return h.hc.Proxy.Routes(ctx)
}

// SyncRoutes reconcilia el proxy con DesiredRoutes. Las correcciones sobre
// rutas de servers se revalidan con el lock de cada server, así un spawn o un
// stop concurrente no queda pisado por el snapshot.
func (h *Hub) SyncRoutes(ctx context.Context) (proxy.Report, error) {
	desired, err := h.DesiredRoutes(ctx)
	if err != nil {
		return proxy.Report{}, err
	}
	return h.hc.Proxy.CheckRoutesGuarded(ctx, desired, h.hc.Spawner.GuardRoute)
}

// Run corre los loops de fondo hasta que ctx termine: espera al proxy y hace
// la sincronización inicial, después poll de servers, check_routes, culling
// de servers inactivos y limpieza de tokens vencidos.
func (h *Hub) Run(ctx context.Context) error {
	cfg := h.hc.Config
	log := logger.From(ctx).With(logger.Component("hub"), logger.Op("run"))
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := h.hc.Proxy.WaitReachable(ctx); err != nil {
			return nil
		}
		rep, err := h.SyncRoutes(ctx)
		if err != nil {
			log.Warn("initial route sync", logger.Err(err))
		} else {
			log.Info("proxy ready", logger.Count(len(rep.Added)+len(rep.Updated)+len(rep.Removed)))
		}
		every(ctx, cfg.Proxy.CheckRoutesInterval, func(ctx context.Context) {
			rep, err := h.SyncRoutes(ctx)
			if err != nil {
				log.Warn("check routes", logger.Err(err))
				return
			}
			if rep.Changed() {
				log.Info("proxy routes corrected",
					logger.Int("added", len(rep.Added)),
					logger.Int("updated", len(rep.Updated)),
					logger.Int("removed", len(rep.Removed)))
			}
		})
		return nil
	})

	g.Go(func() error {
		every(ctx, cfg.Spawner.PollInterval, func(ctx context.Context) {
			stopped, err := h.hc.Spawner.PollAll(ctx)
			if err != nil {
				log.Warn("poll servers", logger.Err(err))
				return
			}
			if stopped > 0 {
				log.Info("servers found stopped", logger.Count(stopped))
			}
		})
		return nil
	})

	if cfg.Cull.Enabled {
		g.Go(func() error {
			every(ctx, cfg.Cull.Every, func(ctx context.Context) {
				culled, err := h.hc.Spawner.StopIdle(ctx, cfg.Cull.Timeout, cfg.Cull.MaxAge)
				if err != nil {
					log.Warn("cull idle servers", logger.Err(err))
					return
				}
				if len(culled) > 0 {
					log.Info("idle servers culled", logger.Count(len(culled)), logger.Any("servers", culled))
				}
			})
			return nil
		})
	}

	g.Go(func() error {
		every(ctx, time.Hour, func(ctx context.Context) {
			n, err := h.hc.Tokens.PurgeExpired(ctx)
			if err != nil {
				log.Warn("purge expired tokens", logger.Err(err))
				return
			}
			if n > 0 {
				log.Debug("expired tokens purged", logger.Count(n))
			}
		})
		return nil
	})

	return g.Wait()
}

// every llama fn cada d hasta que ctx termine. d <= 0 deshabilita el loop.
func every(ctx context.Context, d time.Duration, fn func(context.Context)) {
	if d <= 0 {
		return
	}
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}

// Info es la respuesta de GET /info.
type Info struct {
	Version        string    `json:"version"`
	Authenticator  string    `json:"authenticator"`
	Spawner        string    `json:"spawner"`
	Proxy          string    `json:"proxy"`
	ProxyReady     bool      `json:"proxy_ready"`
	SpawnsDisabled bool      `json:"spawns_disabled"`
	ActiveServers  int       `json:"active_servers"`
	NamedServers   bool      `json:"named_servers"`
	StartedAt      time.Time `json:"started_at"`
}

// Info describe la configuración efectiva del hub.
func (h *Hub) Info() Info {
	cfg := h.hc.Config
	return Info{
		Version:        Version,
		Authenticator:  cfg.Auth.Authenticator,
		Spawner:        cfg.Spawner.Kind,
		Proxy:          cfg.Proxy.Kind,
		ProxyReady:     h.hc.Proxy.Ready(),
		SpawnsDisabled: h.hc.Spawner.Disabled(),
		ActiveServers:  h.hc.Spawner.Active(),
		NamedServers:   cfg.NamedServersAllowed(),
		StartedAt:      h.hc.StartedAt,
	}
}
