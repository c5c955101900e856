package middlewares

import (
	"context"

	"github.com/dropDatabas3/spawnhub/internal/tokens"
)

type ctxKey string

const (
	ctxIdentityKey  ctxKey = "identity"
	ctxRequestIDKey ctxKey = "request_id"
)

// Identity es el caller autenticado de la request.
type Identity struct {
	*tokens.Validated

	// FromCookie indica que el token vino de la cookie de sesión.
	FromCookie bool
}

// Name es el nombre del usuario o service dueño del token.
func (i *Identity) Name() string { return i.Principal.Name }

// WithIdentity inyecta la identidad en el contexto.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey, id)
}

// GetIdentity retorna la identidad o nil si la request es anónima.
func GetIdentity(ctx context.Context) *Identity {
	if v, ok := ctx.Value(ctxIdentityKey).(*Identity); ok {
		return v
	}
	return nil
}

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// GetRequestID retorna el request ID o "".
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return v
	}
	return ""
}
