package repository

import (
	"context"
	"time"
)

// OAuthClient es una relying party registrada en el proveedor OAuth del hub:
// un server single-user o un service.
type OAuthClient struct {
	ClientID    string
	SecretHash  string
	RedirectURI string
	Description string

	// AllowedScopes acota lo que el cliente puede pedir en nombre de un usuario.
	AllowedScopes []string

	// NoConfirm saltea la pantalla de confirmación (cliente administrado).
	NoConfirm bool

	// OwnerUser es el usuario dueño del recurso (server), vacío para services.
	OwnerUser string

	CreatedAt time.Time
}

// OAuthClientRepository define operaciones sobre clientes OAuth.
type OAuthClientRepository interface {
	// Upsert crea o actualiza un cliente por ClientID.
	Upsert(ctx context.Context, c *OAuthClient) error
	Get(ctx context.Context, clientID string) (*OAuthClient, error)
	Delete(ctx context.Context, clientID string) error
}

// Service es un proceso externo administrado con su propio token y roles.
type Service struct {
	Name          string
	URL           string // si no está vacío, el hub le registra una ruta en el proxy
	Roles         []string
	OAuthClientID string
	CreatedAt     time.Time
}

// ServiceRepository define operaciones sobre services.
type ServiceRepository interface {
	Upsert(ctx context.Context, s *Service) error
	Get(ctx context.Context, name string) (*Service, error)
	List(ctx context.Context) ([]Service, error)
	Delete(ctx context.Context, name string) error
}
