package hub

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/spawner"
	"github.com/dropDatabas3/spawnhub/internal/validation"
)

// checkServerName aplica la política de named servers antes de crear uno.
func (h *Hub) checkServerName(ctx context.Context, user, name string) error {
	if name == "" {
		return nil
	}
	if !h.hc.Config.NamedServersAllowed() {
		return ErrNamedServersDisabled
	}
	if !validation.ValidServerName(name) {
		return invalid("invalid server name %q", name)
	}
	limit := h.hc.Config.Spawner.NamedServerLimitPerUser
	if limit <= 0 {
		return nil
	}
	srvs, err := h.hc.Store.Servers().ListByUser(ctx, user)
	if err != nil {
		return err
	}
	named := 0
	for _, s := range srvs {
		if s.Name == name {
			return nil // ya existe, no cuenta como nuevo
		}
		if s.Name != "" {
			named++
		}
	}
	if named >= limit {
		return ErrNamedServerLimit
	}
	return nil
}

// SpawnResult es el resultado de Spawn.
type SpawnResult struct {
	// Pending indica que el spawn sigue en curso al vencer slow_spawn_timeout.
	Pending bool
	Spawn   *spawner.Spawn
}

// Spawn lanza el server y espera hasta slow_spawn_timeout. Si el spawn
// falla dentro de ese plazo retorna *SpawnError con el mensaje del backend.
func (h *Hub) Spawn(ctx context.Context, user, name string, opts map[string]any) (*SpawnResult, error) {
	if _, err := h.hc.Store.Users().Get(ctx, user); err != nil {
		return nil, err
	}
	if err := h.checkServerName(ctx, user, name); err != nil {
		return nil, err
	}

	sp, err := h.hc.Spawner.Start(ctx, user, name, opts)
	if err != nil {
		return nil, err
	}

	wait := h.hc.Config.Spawner.SlowSpawnTimeout
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	err = sp.Wait(waitCtx)
	if err == nil {
		return &SpawnResult{Spawn: sp}, nil
	}
	if waitCtx.Err() != nil && errors.Is(err, waitCtx.Err()) {
		// sigue en background; el caller sigue el progreso
		logger.From(ctx).Info("spawn still pending", logger.ServerKey(sp.Key), logger.Duration(wait))
		return &SpawnResult{Pending: true, Spawn: sp}, nil
	}

	msg := spawner.UserMessage(err)
	if srv, gerr := h.hc.Store.Servers().Get(ctx, user, name); gerr == nil && srv.Message != "" {
		msg = srv.Message
	}
	return nil, &SpawnError{User: user, Server: name, Message: msg, Err: err}
}

// GetServer retorna el server. Si corre, antes verifica que siga vivo.
func (h *Hub) GetServer(ctx context.Context, user, name string) (*repository.Server, error) {
	srv, err := h.hc.Store.Servers().Get(ctx, user, name)
	if err != nil {
		return nil, err
	}
	if srv.State != repository.ServerRunning {
		return srv, nil
	}
	if _, err := h.hc.Spawner.Poll(ctx, user, name); err != nil && !errors.Is(err, spawner.ErrNotRunning) {
		logger.From(ctx).Warn("opportunistic poll failed", logger.ServerKey(srv.Key()), logger.Err(err))
	}
	return h.hc.Store.Servers().Get(ctx, user, name)
}

// RunningServer retorna el server si está en Running tras verificarlo.
// Un server que existe pero no corre da ErrNotRunning.
func (h *Hub) RunningServer(ctx context.Context, user, name string) (*repository.Server, error) {
	srv, err := h.GetServer(ctx, user, name)
	if err != nil {
		return nil, err
	}
	if srv.State != repository.ServerRunning {
		return srv, ErrNotRunning
	}
	return srv, nil
}

// StopServer detiene el server. Con remove, un named server además se
// elimina junto con su cliente OAuth.
func (h *Hub) StopServer(ctx context.Context, user, name string, remove bool) error {
	if _, err := h.hc.Store.Servers().Get(ctx, user, name); err != nil {
		return err
	}
	if remove && name != "" {
		return h.removeServer(ctx, user, name)
	}
	return h.hc.Spawner.Stop(ctx, user, name)
}

// removeServer detiene y borra el server y su cliente OAuth.
func (h *Hub) removeServer(ctx context.Context, user, name string) error {
	if err := h.hc.Spawner.Stop(ctx, user, name); err != nil && !repository.IsNotFound(err) {
		return err
	}
	if err := h.hc.OAuth.DeleteClient(ctx, OAuthClientID(user, name)); err != nil {
		logger.From(ctx).Warn("delete server oauth client", logger.Username(user), logger.ServerName(name), logger.Err(err))
	}
	err := h.hc.Store.Servers().Delete(ctx, user, name)
	if repository.IsNotFound(err) {
		return nil
	}
	return err
}

// Progress retorna el stream del spawn en curso, o nil si no hay uno.
func (h *Hub) Progress(ctx context.Context, user, name string) (*spawner.Stream, *repository.Server, error) {
	srv, err := h.hc.Store.Servers().Get(ctx, user, name)
	if err != nil {
		return nil, nil, err
	}
	if sp := h.hc.Spawner.Pending(user, name); sp != nil {
		return sp.Progress, srv, nil
	}
	return nil, srv, nil
}

// ServerURL es el prefijo público del server.
func (h *Hub) ServerURL(user, name string) string {
	return h.hc.Spawner.Prefix(user, name) + "/"
}

// stopAll detiene todos los servers activos o fallidos.
func (h *Hub) stopAll(ctx context.Context) (int, error) {
	srvs, err := h.hc.Store.Servers().ListByState(ctx,
		repository.ServerRunning, repository.ServerSpawning, repository.ServerFailed)
	if err != nil {
		return 0, err
	}
	var firstErr error
	stopped := 0
	for _, s := range srvs {
		stopCtx, cancel := context.WithTimeout(ctx, h.hc.Config.Spawner.StopTimeout+5*time.Second)
		err := h.hc.Spawner.Stop(stopCtx, s.User, s.Name)
		cancel()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		stopped++
	}
	return stopped, firstErr
}

// ResetSpawner rehabilita los spawns tras consecutive_failure_limit.
func (h *Hub) ResetSpawner(ctx context.Context) {
	h.hc.Spawner.ResetFailures(ctx)
}
