package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	httperrors "github.com/dropDatabas3/spawnhub/internal/http/errors"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/tokens"
)

// TokenValidator valida un secreto opaco. *tokens.Store lo implementa.
type TokenValidator interface {
	Validate(ctx context.Context, secret string) (*tokens.Validated, error)
}

// AuthConfig configura WithAuthentication.
type AuthConfig struct {
	Tokens     TokenValidator
	CookieName string

	// Touch se llama con el usuario de cada request autenticada
	// (actividad). Puede ser nil.
	Touch func(ctx context.Context, user string)
}

// extractToken busca el secreto en Authorization ("token X" o "Bearer X")
// y, si no está, en la cookie de sesión.
func extractToken(r *http.Request, cookieName string) (secret string, fromCookie bool) {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && (strings.EqualFold(scheme, "token") || strings.EqualFold(scheme, "bearer")) {
			return strings.TrimSpace(value), false
		}
		return "", false
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

// WithAuthentication resuelve la identidad del caller. No rechaza: una
// request sin token (o con uno inválido) sigue como anónima y son
// RequireAuth / RequireScope los que deciden.
func WithAuthentication(cfg AuthConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret, fromCookie := extractToken(r, cfg.CookieName)
			if secret == "" || cfg.Tokens == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			v, err := cfg.Tokens.Validate(ctx, secret)
			if err != nil {
				if !errors.Is(err, tokens.ErrInvalidToken) {
					logger.From(ctx).Error("token validation failed", logger.Op("WithAuthentication"), logger.Err(err))
					httperrors.WriteError(w, httperrors.ErrInternalServerError)
					return
				}
				logger.From(ctx).Debug("invalid token presented", logger.Bool("cookie", fromCookie))
				next.ServeHTTP(w, r)
				return
			}

			id := &Identity{Validated: v, FromCookie: fromCookie}
			ctx = WithIdentity(ctx, id)
			ctx = logger.Scoped(ctx, logger.Username(id.Name()), logger.TokenID(v.Token.ID))
			if cfg.Touch != nil && v.Principal.Kind == repository.OwnerUser {
				cfg.Touch(ctx, id.Name())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rechaza con 401 las requests anónimas.
func RequireAuth() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetIdentity(r.Context()) == nil {
				w.Header().Set("WWW-Authenticate", `token realm="spawnhub"`)
				httperrors.WriteError(w, httperrors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
