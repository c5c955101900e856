package repository

import (
	"context"
	"time"
)

// OwnerKind distingue tokens de usuarios y de services.
type OwnerKind string

const (
	OwnerUser    OwnerKind = "user"
	OwnerService OwnerKind = "service"
)

// APIToken es la fila persistida de un token. El secreto nunca se guarda,
// solo su hash (TokenHash) y un prefijo corto para mostrar.
type APIToken struct {
	ID        string
	Prefix    string
	TokenHash string

	OwnerKind OwnerKind
	Owner     string

	// Scopes es el conjunto ya resuelto al momento de la emisión.
	Scopes []string

	ExpiresAt    *time.Time
	SessionID    string
	ClientID     string
	Note         string
	CreatedAt    time.Time
	LastActivity *time.Time
}

// Expired indica si el token venció en el instante now.
func (t *APIToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// TokenRepository define operaciones sobre api tokens.
type TokenRepository interface {
	Create(ctx context.Context, t *APIToken) error

	// GetByHash busca un token por el hash de su secreto.
	// Retorna ErrNotFound si no existe.
	GetByHash(ctx context.Context, tokenHash string) (*APIToken, error)

	// GetByID retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*APIToken, error)

	ListByOwner(ctx context.Context, kind OwnerKind, owner string) ([]APIToken, error)

	// Delete revoca un token por su ID.
	Delete(ctx context.Context, id string) error

	// DeleteBySession revoca todos los tokens de una sesión.
	// Retorna el número de tokens revocados.
	DeleteBySession(ctx context.Context, sessionID string) (int, error)

	// DeleteByOwner revoca todos los tokens del owner.
	DeleteByOwner(ctx context.Context, kind OwnerKind, owner string) (int, error)

	// DeleteExpired purga tokens vencidos antes de now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// Touch actualiza last_activity.
	Touch(ctx context.Context, id string, t time.Time) error
}
