package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/hub"
	dto "github.com/dropDatabas3/spawnhub/internal/http/dto/api"
	"github.com/dropDatabas3/spawnhub/internal/http/helpers"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/spawner"
)

// ServersController maneja /users/{name}/server y /users/{name}/servers/{server_name}.
type ServersController struct {
	hub *hub.Hub
	m   *mapper
}

// keepAlive es el intervalo de comentarios SSE mientras no hay eventos.
var keepAlive = 15 * time.Second

// serverParams: en /users/{name}/server el parámetro server_name no existe
// y chi devuelve "" (server default).
func serverParams(r *http.Request) (user, name string) {
	return chi.URLParam(r, "name"), chi.URLParam(r, "server_name")
}

// StartServer maneja POST. 201 si el server quedó corriendo, 202 si el
// spawn sigue en curso pasado slow_spawn_timeout.
func (c *ServersController) StartServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, name := serverParams(r)
	log := logger.From(ctx).With(
		logger.Layer("controller"),
		logger.Op("ServersController.StartServer"),
		logger.Username(user),
		logger.ServerName(name),
	)

	var opts map[string]any
	if !helpers.ReadJSON(w, r, &opts) {
		return
	}

	res, err := c.hub.Spawn(ctx, user, name, opts)
	if err != nil {
		fail(w, r, "ServersController.StartServer", err)
		return
	}

	progress := c.m.progressURL(user, name)
	if res.Pending {
		log.Info("spawn pending")
		w.Header().Set("Location", progress)
		helpers.WriteJSON(w, http.StatusAccepted, map[string]string{"progress_url": progress})
		return
	}

	srv, err := c.hub.GetServer(ctx, user, name)
	if err != nil {
		fail(w, r, "ServersController.StartServer", err)
		return
	}
	w.Header().Set("Location", c.hub.ServerURL(user, name))
	helpers.WriteJSON(w, http.StatusCreated, c.m.server(ctx, srv))
}

// StopServer maneja DELETE. Con {"remove": true} un named server además se
// elimina.
func (c *ServersController) StopServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, name := serverParams(r)

	var req dto.StopServerRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if err := c.hub.StopServer(ctx, user, name, req.Remove); err != nil {
		fail(w, r, "ServersController.StopServer", err)
		return
	}
	helpers.NoContent(w)
}

// GetServer maneja GET.
func (c *ServersController) GetServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, name := serverParams(r)
	srv, err := c.hub.GetServer(ctx, user, name)
	if err != nil {
		fail(w, r, "ServersController.GetServer", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, c.m.server(ctx, srv))
}

// Progress maneja GET .../progress como Server-Sent Events. Sin spawn en
// curso emite un único evento con el estado actual.
func (c *ServersController) Progress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, name := serverParams(r)

	stream, srv, err := c.hub.Progress(ctx, user, name)
	if err != nil {
		fail(w, r, "ServersController.Progress", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	if stream == nil {
		_ = writeEvent(w, c.finalEvent(srv))
		_ = rc.Flush()
		return
	}

	events := stream.Subscribe(ctx)
	tick := time.NewTicker(keepAlive)
	defer tick.Stop()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, e); err != nil {
				return
			}
			_ = rc.Flush()
		case <-tick.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (c *ServersController) finalEvent(srv *repository.Server) spawner.Event {
	switch srv.State {
	case repository.ServerRunning:
		return spawner.Event{Progress: 100, Ready: true, Message: "Server ready", URL: c.hub.ServerURL(srv.User, srv.Name)}
	case repository.ServerFailed:
		msg := srv.Message
		if msg == "" {
			msg = "Spawn failed"
		}
		return spawner.Event{Progress: 100, Failed: true, Message: msg}
	default:
		return spawner.Event{Progress: 0, Failed: true, Message: "Server " + string(srv.State)}
	}
}

func writeEvent(w http.ResponseWriter, e spawner.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}
