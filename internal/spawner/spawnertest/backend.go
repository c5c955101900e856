// Package spawnertest provee un Backend programable para tests.
package spawnertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dropDatabas3/spawnhub/internal/spawner"
)

// Backend es un spawner.Backend en memoria. Por defecto cada Start tiene
// éxito con una dirección única; los campos exportados cambian ese comportamiento.
type Backend struct {
	mu sync.Mutex

	// StartErr, si no es nil, se retorna en cada Start.
	StartErr error
	// FailStarts hace fallar los próximos N starts con StartErr (o un error genérico).
	FailStarts int
	// StartDelay demora cada Start (respetando ctx).
	StartDelay time.Duration
	// Block hace que Start espere hasta que se cierre el canal o ctx termine.
	Block chan struct{}
	// StopErr se retorna en cada Stop (el server igual se da por detenido).
	StopErr error

	running map[string]bool
	exited  map[string]int
	envs    map[string]map[string]string
	seq     int
	calls   []string
}

// New crea el backend.
func New() *Backend {
	return &Backend{
		running: make(map[string]bool),
		exited:  make(map[string]int),
		envs:    make(map[string]map[string]string),
	}
}

func key(user, name string) string { return user + "/" + name }

func (b *Backend) record(op, k string) {
	b.calls = append(b.calls, op+" "+k)
}

// Start implementa spawner.Backend.
func (b *Backend) Start(ctx context.Context, req spawner.StartRequest) (*spawner.StartResult, error) {
	k := key(req.User, req.ServerName)
	b.mu.Lock()
	b.record("start", k)
	env := make(map[string]string, len(req.Env))
	for ek, ev := range req.Env {
		env[ek] = ev
	}
	b.envs[k] = env
	delay, block := b.StartDelay, b.Block
	var failErr error
	if b.StartErr != nil {
		failErr = b.StartErr
	}
	if b.FailStarts > 0 {
		b.FailStarts--
		if failErr == nil {
			failErr = errors.New("backend exploded")
		}
	}
	b.mu.Unlock()

	if req.Progress != nil {
		req.Progress("launching", 50)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.running[k] = true
	delete(b.exited, k)
	return &spawner.StartResult{
		Address: fmt.Sprintf("http://10.0.0.%d:8888", b.seq),
		State:   map[string]any{"seq": b.seq},
	}, nil
}

// Poll implementa spawner.Backend.
func (b *Backend) Poll(_ context.Context, ref spawner.ServerRef) (spawner.PollStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key(ref.User, ref.ServerName)
	b.record("poll", k)
	if b.running[k] {
		return spawner.PollStatus{Running: true}, nil
	}
	return spawner.PollStatus{ExitCode: b.exited[k]}, nil
}

// Stop implementa spawner.Backend.
func (b *Backend) Stop(_ context.Context, ref spawner.ServerRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key(ref.User, ref.ServerName)
	b.record("stop", k)
	delete(b.running, k)
	return b.StopErr
}

// Exit simula que el proceso terminó solo con el código dado.
func (b *Backend) Exit(user, name string, code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key(user, name)
	delete(b.running, k)
	b.exited[k] = code
}

// Forget simula un backend que perdió todo su estado (restart del host).
func (b *Backend) Forget() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = make(map[string]bool)
}

// Running indica si el backend cree que el server corre.
func (b *Backend) Running(user, name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running[key(user, name)]
}

// Env retorna el entorno del último Start del server.
func (b *Backend) Env(user, name string) map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.envs[key(user, name)]
}

// Calls retorna las llamadas registradas ("start alice/", "stop alice/", ...).
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

var _ spawner.Backend = (*Backend)(nil)
