// Package spawner implementa la máquina de estados del ciclo de vida de los
// servers de usuario: start, poll y stop contra un Backend enchufable, con
// límites de concurrencia, locks por server y recuperación tras un restart.
package spawner

import (
	"context"
	"errors"
)

// Backend es el contrato con la implementación concreta (procesos locales,
// containers, batch schedulers...). El Manager nunca depende de una concreta.
type Backend interface {
	// Start lanza el proceso y retorna su dirección cuando ya sirve tráfico.
	// Debe respetar la cancelación de ctx (start_timeout).
	Start(ctx context.Context, req StartRequest) (*StartResult, error)

	// Poll reporta si el proceso sigue vivo.
	Poll(ctx context.Context, ref ServerRef) (PollStatus, error)

	// Stop detiene el proceso. Detener algo que ya no existe no es error.
	Stop(ctx context.Context, ref ServerRef) error
}

// StartRequest es lo que el backend necesita para lanzar un server.
// Las credenciales viajan solo en Env, nunca como argumentos.
type StartRequest struct {
	User       string
	ServerName string
	Options    map[string]any
	Env        map[string]string

	// State es el blob opaco del spawn anterior, si lo hubo.
	State map[string]any

	// Progress publica eventos de avance. Nunca bloquea.
	Progress func(message string, progress int)
}

// StartResult es el resultado de un start exitoso.
type StartResult struct {
	Address string         // "http://host:port" o URL opaca
	State   map[string]any // se persiste para poll/stop tras un restart
}

// ServerRef identifica un server ya lanzado.
type ServerRef struct {
	User       string
	ServerName string
	Address    string
	State      map[string]any
}

// PollStatus es el resultado de Poll.
type PollStatus struct {
	Running  bool
	ExitCode int
}

// UserError es un error de backend con un mensaje apto para el usuario.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *UserError) Unwrap() error { return e.Err }

// UserMessage extrae el mensaje visible de err, o "" si no trae uno.
func UserMessage(err error) string {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Message
	}
	return ""
}
