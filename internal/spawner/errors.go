package spawner

import "errors"

var (
	// ErrTooManyPending: se alcanzó concurrent_spawn_limit. No se encola, el caller reintenta.
	ErrTooManyPending = errors.New("too many pending spawns")

	// ErrActiveLimit: se alcanzó active_server_limit.
	ErrActiveLimit = errors.New("active server limit reached")

	// ErrSpawnsDisabled: se superó consecutive_failure_limit. Requiere intervención.
	ErrSpawnsDisabled = errors.New("spawns disabled after consecutive failures")

	// ErrPending: el server ya tiene un spawn o stop en curso.
	ErrPending = errors.New("server has a pending operation")

	// ErrAlreadyRunning: start sobre un server que ya corre.
	ErrAlreadyRunning = errors.New("server already running")

	// ErrNotRunning: la operación requiere un server en Running.
	ErrNotRunning = errors.New("server not running")

	// ErrBackendTimeout: el backend no completó dentro de start_timeout.
	ErrBackendTimeout = errors.New("backend timeout")

	// ErrInvalidTransition indica un bug: transición fuera de la tabla.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// genericFailure se muestra cuando el backend no aporta un mensaje propio.
const genericFailure = "Spawn failed. Contact an administrator if the problem persists."
