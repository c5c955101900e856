package repository

import (
	"context"
	"time"
)

// ServerState es el estado persistido del ciclo de vida de un server.
type ServerState string

const (
	ServerStopped  ServerState = "stopped"
	ServerSpawning ServerState = "spawning"
	ServerRunning  ServerState = "running"
	ServerStopping ServerState = "stopping"
	ServerFailed   ServerState = "failed"
)

// Active indica si el server ocupa un slot (pendiente o corriendo).
func (s ServerState) Active() bool {
	return s == ServerSpawning || s == ServerRunning || s == ServerStopping
}

// Server es un proceso backend de un usuario. Name "" es el server default.
type Server struct {
	User  string
	Name  string
	State ServerState

	// Address solo es autoritativa cuando State == ServerRunning.
	Address string

	UserOptions  map[string]any
	BackendState map[string]any // blob opaco del backend, necesario para sobrevivir restarts

	StartedAt    *time.Time
	LastActivity *time.Time

	// Message es el último error visible para el usuario (spawn fallido).
	Message string

	TokenID       string // token emitido al server en el último spawn
	OAuthClientID string
}

// Key retorna "user/name" (o "user/" para el server default).
func (s *Server) Key() string {
	return s.User + "/" + s.Name
}

// ServerRepository define operaciones sobre servers.
type ServerRepository interface {
	// Create inserta un server. Retorna ErrConflict si ya existe (user, name).
	Create(ctx context.Context, s *Server) error

	// Get retorna ErrNotFound si no existe.
	Get(ctx context.Context, user, name string) (*Server, error)

	// ListByUser retorna los servers del usuario, default primero.
	ListByUser(ctx context.Context, user string) ([]Server, error)

	// ListByState retorna todos los servers en alguno de los estados dados.
	// Sin estados retorna todos.
	ListByState(ctx context.Context, states ...ServerState) ([]Server, error)

	// Save persiste todos los campos mutables del server.
	Save(ctx context.Context, s *Server) error

	// Delete elimina el server.
	Delete(ctx context.Context, user, name string) error
}
