package hub

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/proxy"
	"github.com/dropDatabas3/spawnhub/internal/spawner"
)

// Taxonomía de errores del hub. La capa HTTP los traduce a status codes.
var (
	// ErrValidation: request malformada (400). No se reintenta.
	ErrValidation = errors.New("validation error")

	// ErrPermission: el caller no tiene el scope requerido (403).
	ErrPermission = errors.New("permission denied")

	// ErrNotFound: el recurso nunca existió (404).
	ErrNotFound = repository.ErrNotFound

	// ErrConflict: duplicado (409).
	ErrConflict = repository.ErrConflict

	// ErrNotRunning: el recurso existe pero no está corriendo (424).
	ErrNotRunning = spawner.ErrNotRunning

	ErrAlreadyRunning = spawner.ErrAlreadyRunning
	ErrPending        = spawner.ErrPending

	// ErrTooManyPending y ErrActiveLimit: 429, el caller reintenta.
	ErrTooManyPending = spawner.ErrTooManyPending
	ErrActiveLimit    = spawner.ErrActiveLimit

	// ErrBackendTimeout: el spawn no terminó a tiempo, el server queda Failed.
	ErrBackendTimeout = spawner.ErrBackendTimeout

	// ErrBackendFatal: se superó consecutive_failure_limit (503 hasta reset).
	ErrBackendFatal = spawner.ErrSpawnsDisabled

	// ErrProxyUnavailable: el proxy no respondió tras los reintentos.
	ErrProxyUnavailable = proxy.ErrUnavailable

	// ErrNamedServersDisabled y ErrNamedServerLimit aplican la política de named servers.
	ErrNamedServersDisabled = errors.New("named servers are not enabled")
	ErrNamedServerLimit     = errors.New("named server limit reached")

	// ErrLoginRateLimited: demasiados intentos de login (429).
	ErrLoginRateLimited = errors.New("too many login attempts")
)

// SpawnError es un spawn que terminó en Failed mientras el caller esperaba.
// Message es apto para mostrar al usuario.
type SpawnError struct {
	User    string
	Server  string
	Message string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s/%s failed: %s", e.User, e.Server, e.Message)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// invalid envuelve ErrValidation con un mensaje para el usuario.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
