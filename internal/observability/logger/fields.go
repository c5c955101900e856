package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para la duración del request.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// DurationMs crea un campo para la duración en milisegundos.
func DurationMs(v int64) zap.Field {
	return zap.Int64("duration_ms", v)
}

// Bytes crea un campo para los bytes de respuesta.
func Bytes(v int) zap.Field {
	return zap.Int("bytes", v)
}

// ClientIP crea un campo para la IP del cliente.
func ClientIP(v string) zap.Field {
	return zap.String("client_ip", v)
}

// UserAgent crea un campo para el User-Agent.
func UserAgent(v string) zap.Field {
	return zap.String("user_agent", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - HUB
// =================================================================================

// Username crea un campo para el nombre del usuario dueño del recurso.
func Username(v string) zap.Field {
	return zap.String("user", v)
}

// ServerName crea un campo para el nombre del server ("" = default).
func ServerName(v string) zap.Field {
	return zap.String("server_name", v)
}

// ServerKey crea un campo para la clave compuesta user/server.
func ServerKey(v string) zap.Field {
	return zap.String("server", v)
}

// State crea un campo para un estado del ciclo de vida de un server.
func State(v string) zap.Field {
	return zap.String("state", v)
}

// Transition crea los campos from/to de una transición de estado.
func Transition(from, to string) zap.Field {
	return zap.Strings("transition", []string{from, to})
}

// Route crea un campo para el prefijo de una ruta del proxy.
func Route(v string) zap.Field {
	return zap.String("route", v)
}

// Target crea un campo para la dirección backend de una ruta.
func Target(v string) zap.Field {
	return zap.String("target", v)
}

// TokenID crea un campo para el ID (nunca el secreto) de un token.
func TokenID(v string) zap.Field {
	return zap.String("token_id", v)
}

// ClientID crea un campo para el ID del cliente OAuth.
func ClientID(v string) zap.Field {
	return zap.String("client_id", v)
}

// Scope crea un campo para un scope requerido.
func Scope(v string) zap.Field {
	return zap.String("scope", v)
}

// Attempt crea un campo para el número de intento de un retry.
func Attempt(v int) zap.Field {
	return zap.Int("attempt", v)
}

// Delay crea un campo para la espera antes del próximo intento.
func Delay(v time.Duration) zap.Field {
	return zap.Duration("delay", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Layer crea un campo para la capa (handler, service, repository).
func Layer(v string) zap.Field {
	return zap.String("layer", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// =================================================================================
// CAMPOS ESTÁNDAR - DATOS
// =================================================================================

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// ID crea un campo genérico para un ID.
func ID(v string) zap.Field {
	return zap.String("id", v)
}

// Key crea un campo genérico para una clave.
func Key(v string) zap.Field {
	return zap.String("key", v)
}

// Value crea un campo genérico para un valor (string).
func Value(v string) zap.Field {
	return zap.String("value", v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}
