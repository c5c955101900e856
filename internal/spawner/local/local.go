// Package local lanza cada server como un proceso local. Pensado para
// desarrollo: un solo host, sin aislamiento entre usuarios.
package local

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/spawner"
)

// Config del backend local.
type Config struct {
	Cmd  string   // ejecutable
	Args []string // argumentos; nunca llevan credenciales
	IP   string   // IP donde escucha el server (default 127.0.0.1)
	Dir  string   // working dir opcional
}

// Backend implementa spawner.Backend con procesos del sistema.
type Backend struct {
	cfg Config

	mu    sync.Mutex
	procs map[string]*proc
}

type proc struct {
	cmd  *exec.Cmd
	done chan struct{}
	code int
}

// New crea el backend.
func New(cfg Config) *Backend {
	if cfg.IP == "" {
		cfg.IP = "127.0.0.1"
	}
	return &Backend{cfg: cfg, procs: make(map[string]*proc)}
}

func key(user, name string) string { return user + "/" + name }

// Start lanza el proceso y espera a que el puerto acepte conexiones.
func (b *Backend) Start(ctx context.Context, req spawner.StartRequest) (*spawner.StartResult, error) {
	if b.cfg.Cmd == "" {
		return nil, &spawner.UserError{Message: "No server command configured."}
	}
	port, err := freePort(b.cfg.IP)
	if err != nil {
		return nil, fmt.Errorf("allocate port: %w", err)
	}

	cmd := exec.Command(b.cfg.Cmd, b.cfg.Args...)
	cmd.Dir = b.cfg.Dir
	cmd.Env = os.Environ()
	for _, k := range spawner.EnvKeys(req.Env) {
		cmd.Env = append(cmd.Env, k+"="+req.Env[k])
	}
	cmd.Env = append(cmd.Env,
		"SPAWNHUB_SERVER_IP="+b.cfg.IP,
		"SPAWNHUB_SERVER_PORT="+strconv.Itoa(port),
	)
	if err := cmd.Start(); err != nil {
		return nil, &spawner.UserError{Message: "Server command could not be started.", Err: err}
	}

	p := &proc{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.code = exitErr.ExitCode()
		}
		close(p.done)
	}()
	b.mu.Lock()
	b.procs[key(req.User, req.ServerName)] = p
	b.mu.Unlock()

	if req.Progress != nil {
		req.Progress("process started, waiting for port "+strconv.Itoa(port), 50)
	}
	addr := net.JoinHostPort(b.cfg.IP, strconv.Itoa(port))
	if err := waitForPort(ctx, addr, p.done); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	return &spawner.StartResult{
		Address: "http://" + addr,
		State:   map[string]any{"pid": cmd.Process.Pid},
	}, nil
}

// Poll usa el proceso propio si lo tiene, o el pid persistido tras un restart.
func (b *Backend) Poll(_ context.Context, ref spawner.ServerRef) (spawner.PollStatus, error) {
	b.mu.Lock()
	p := b.procs[key(ref.User, ref.ServerName)]
	b.mu.Unlock()
	if p != nil {
		select {
		case <-p.done:
			return spawner.PollStatus{ExitCode: p.code}, nil
		default:
			return spawner.PollStatus{Running: true}, nil
		}
	}
	pid := pidOf(ref.State)
	if pid <= 0 {
		return spawner.PollStatus{}, nil
	}
	return spawner.PollStatus{Running: alive(pid)}, nil
}

// Stop manda SIGTERM y, si el proceso no termina antes de ctx, SIGKILL.
func (b *Backend) Stop(ctx context.Context, ref spawner.ServerRef) error {
	k := key(ref.User, ref.ServerName)
	b.mu.Lock()
	p := b.procs[k]
	delete(b.procs, k)
	b.mu.Unlock()

	if p == nil {
		pid := pidOf(ref.State)
		if pid <= 0 || !alive(pid) {
			return nil
		}
		return syscall.Kill(pid, syscall.SIGTERM)
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		logger.From(ctx).Warn("server did not exit after SIGTERM, killing", logger.ServerKey(k))
		_ = p.cmd.Process.Kill()
		<-p.done
		return nil
	}
}

func freePort(ip string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(ip, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func waitForPort(ctx context.Context, addr string, exited <-chan struct{}) error {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-exited:
			return &spawner.UserError{Message: "Server process exited before it was ready."}
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func pidOf(state map[string]any) int {
	switch v := state["pid"].(type) {
	case int:
		return v
	case float64: // después de pasar por JSON
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

func alive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

var _ spawner.Backend = (*Backend)(nil)
