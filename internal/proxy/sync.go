package proxy

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dropDatabas3/spawnhub/internal/metrics"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
)

// Synchronizer envuelve un Backend con reintentos y la reconciliación
// periódica (CheckRoutes). Es seguro para uso concurrente.
type Synchronizer struct {
	backend Backend
	retry   RetryConfig

	// onRetry se invoca antes de cada espera (tests / métricas).
	onRetry func(op string, err error, delay time.Duration)

	readyOnce sync.Once
	ready     chan struct{}
}

// Option configura un Synchronizer.
type Option func(*Synchronizer)

// WithRetry fija la política de reintentos.
func WithRetry(c RetryConfig) Option {
	return func(s *Synchronizer) { s.retry = c.normalized() }
}

// WithRetryHook registra un callback por cada reintento.
func WithRetryHook(fn func(op string, err error, delay time.Duration)) Option {
	return func(s *Synchronizer) { s.onRetry = fn }
}

// NewSynchronizer crea el synchronizer.
func NewSynchronizer(b Backend, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		backend: b,
		retry:   DefaultRetry,
		ready:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// call ejecuta op con backoff exponencial. Solo ErrUnavailable se reintenta.
func (s *Synchronizer) call(ctx context.Context, op string, fn func(context.Context) error) error {
	log := logger.From(ctx).With(logger.Component("proxy"), logger.Op(op))
	start := time.Now()
	attempt := 0

	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		metrics.ProxyOps.WithLabelValues(op, "retry").Inc()
		log.Warn("proxy call failed, retrying", logger.Attempt(attempt), logger.Delay(delay), logger.Err(err))
		if s.onRetry != nil {
			s.onRetry(op, err, delay)
		}
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(s.retry.newBackOff(), ctx), notify)
	metrics.ProxyOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProxyOps.WithLabelValues(op, "error").Inc()
		return err
	}
	metrics.ProxyOps.WithLabelValues(op, "ok").Inc()
	s.markReady()
	return nil
}

// AddRoute registra (o sobrescribe) prefix -> target. Idempotente.
func (s *Synchronizer) AddRoute(ctx context.Context, prefix, target string, data map[string]any) error {
	d := make(map[string]any, len(data)+1)
	for k, v := range data {
		d[k] = v
	}
	d[DataHub] = true

	err := s.call(ctx, "add_route", func(ctx context.Context) error {
		return s.backend.AddRoute(ctx, prefix, target, d)
	})
	if err == nil {
		logger.From(ctx).Info("route added", logger.Route(prefix), logger.Target(target))
	}
	return err
}

// DeleteRoute elimina la ruta. Idempotente.
func (s *Synchronizer) DeleteRoute(ctx context.Context, prefix string) error {
	err := s.call(ctx, "delete_route", func(ctx context.Context) error {
		return s.backend.DeleteRoute(ctx, prefix)
	})
	if err == nil {
		logger.From(ctx).Info("route deleted", logger.Route(prefix))
	}
	return err
}

// Routes lista la tabla actual del proxy.
func (s *Synchronizer) Routes(ctx context.Context) (map[string]Route, error) {
	var out map[string]Route
	err := s.call(ctx, "get_routes", func(ctx context.Context) error {
		r, err := s.backend.GetRoutes(ctx)
		out = r
		return err
	})
	return out, err
}

// Report resume una pasada de CheckRoutes.
type Report struct {
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
}

// Changed indica si la pasada tuvo que corregir algo.
func (r Report) Changed() bool {
	return len(r.Added)+len(r.Updated)+len(r.Removed) > 0
}

// Guard serializa una corrección de CheckRoutes con las operaciones sobre el
// dueño de la ruta r. Si r no tiene dueño retorna handled=false y se aplica la
// decisión tomada con el snapshot. Si lo tiene, llama a fix con la ruta que
// corresponde en ese momento (nil = ninguna), o no la llama si el dueño está
// ocupado: la corrección queda para la próxima pasada.
type Guard func(ctx context.Context, r Route, fix func(want *Route) error) (handled bool, err error)

// CheckRoutes reconcilia la tabla del proxy con desired: agrega las rutas
// faltantes, corrige las que apuntan a otro target y borra las rutas del hub
// que ya no corresponden a nada. Las rutas ajenas al hub no se tocan.
//
// Un error en una ruta no aborta la pasada: se loguea y se reintenta en la
// próxima. El error devuelto es el primero encontrado.
func (s *Synchronizer) CheckRoutes(ctx context.Context, desired map[string]Route) (Report, error) {
	return s.CheckRoutesGuarded(ctx, desired, nil)
}

// CheckRoutesGuarded es CheckRoutes con cada corrección pasada por guard, que
// revalida contra el estado actual lo que el snapshot desired daba por hecho.
func (s *Synchronizer) CheckRoutesGuarded(ctx context.Context, desired map[string]Route, guard Guard) (Report, error) {
	log := logger.From(ctx).With(logger.Component("proxy"), logger.Op("check_routes"))
	var rep Report

	live, err := s.Routes(ctx)
	if err != nil {
		return rep, err
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// apply lleva el prefijo a want (nil = sin ruta) y anota el cambio.
	apply := func(prefix string, want *Route) error {
		got, ok := live[prefix]
		switch {
		case want == nil && ok && got.Managed():
			log.Warn("deleting orphaned route", logger.Route(prefix), logger.Target(got.Target))
			if err := s.DeleteRoute(ctx, prefix); err != nil {
				log.Error("delete orphaned route failed", logger.Route(prefix), logger.Err(err))
				return err
			}
			rep.Removed = append(rep.Removed, prefix)
			metrics.RouteChanges.WithLabelValues("removed").Inc()
		case want != nil && !ok:
			log.Warn("adding missing route", logger.Route(prefix), logger.Target(want.Target))
			if err := s.AddRoute(ctx, prefix, want.Target, want.Data); err != nil {
				log.Error("add missing route failed", logger.Route(prefix), logger.Err(err))
				return err
			}
			rep.Added = append(rep.Added, prefix)
			metrics.RouteChanges.WithLabelValues("added").Inc()
		case want != nil && got.Target != want.Target:
			log.Warn("updating route with wrong target", logger.Route(prefix), logger.Target(want.Target), logger.String("was", got.Target))
			if err := s.AddRoute(ctx, prefix, want.Target, want.Data); err != nil {
				log.Error("update route failed", logger.Route(prefix), logger.Err(err))
				return err
			}
			rep.Updated = append(rep.Updated, prefix)
			metrics.RouteChanges.WithLabelValues("updated").Inc()
		}
		return nil
	}

	fix := func(prefix string, owner Route, snapshot *Route) {
		if guard != nil {
			handled, err := guard(ctx, owner, func(want *Route) error { return apply(prefix, want) })
			if handled {
				keep(err)
				return
			}
		}
		keep(apply(prefix, snapshot))
	}

	for _, prefix := range sortedPrefixes(desired) {
		want := desired[prefix]
		if got, ok := live[prefix]; ok && got.Target == want.Target {
			continue
		}
		fix(prefix, want, &want)
	}

	for _, prefix := range sortedPrefixes(live) {
		if _, ok := desired[prefix]; ok || !live[prefix].Managed() {
			continue
		}
		fix(prefix, live[prefix], nil)
	}

	return rep, firstErr
}

func sortedPrefixes(m map[string]Route) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ─── Reachability ───

func (s *Synchronizer) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Ready indica si el proxy respondió al menos una vez.
func (s *Synchronizer) Ready() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// ReadyC se cierra la primera vez que el proxy responde.
func (s *Synchronizer) ReadyC() <-chan struct{} {
	return s.ready
}

// WaitReachable consulta el proxy hasta que responda o ctx termine. Entre
// rondas de reintentos espera el tope de backoff.
func (s *Synchronizer) WaitReachable(ctx context.Context) error {
	for {
		if _, err := s.Routes(ctx); err == nil {
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		} else {
			logger.From(ctx).Warn("proxy not reachable yet", logger.Err(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retry.MaxDelay):
		}
	}
}
