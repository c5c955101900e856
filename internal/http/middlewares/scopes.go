package middlewares

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/dropDatabas3/spawnhub/internal/http/errors"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
)

// ResourceFunc deriva del request el recurso sobre el que se opera.
type ResourceFunc func(r *http.Request) scopes.Resource

// Global es el recurso del hub (sin filtro).
func Global(*http.Request) scopes.Resource { return scopes.Resource{} }

// UserParam toma el usuario del parámetro {param}.
func UserParam(param string) ResourceFunc {
	return func(r *http.Request) scopes.Resource {
		return scopes.UserResource(chi.URLParam(r, param))
	}
}

// ServerParams toma usuario y server de {user} y {server}. Si server no
// está en la ruta es el server default ("").
func ServerParams(user, server string) ResourceFunc {
	return func(r *http.Request) scopes.Resource {
		return scopes.ServerResource(chi.URLParam(r, user), chi.URLParam(r, server))
	}
}

// GroupParam toma el grupo del parámetro {param}.
func GroupParam(param string) ResourceFunc {
	return func(r *http.Request) scopes.Resource {
		return scopes.GroupResource(chi.URLParam(r, param))
	}
}

// ServiceParam toma el service del parámetro {param}.
func ServiceParam(param string) ResourceFunc {
	return func(r *http.Request) scopes.Resource {
		return scopes.ServiceResource(chi.URLParam(r, param))
	}
}

// Authorizer chequea scopes efectivos contra recursos. MemberOf provee la
// membresía de grupos para filtros group=.
type Authorizer struct {
	MemberOf func(ctx context.Context) scopes.MemberOf
}

func (a Authorizer) memberOf(ctx context.Context) scopes.MemberOf {
	if a.MemberOf == nil {
		return nil
	}
	return a.MemberOf(ctx)
}

// Allowed indica si el caller tiene required sobre res.
func (a Authorizer) Allowed(ctx context.Context, required string, res scopes.Resource) bool {
	id := GetIdentity(ctx)
	if id == nil {
		return false
	}
	return scopes.Allows(id.Effective, required, res, a.memberOf(ctx))
}

// AllowedAny indica si el caller tiene alguno de los scopes sobre res.
func (a Authorizer) AllowedAny(ctx context.Context, res scopes.Resource, required ...string) bool {
	for _, s := range required {
		if a.Allowed(ctx, s, res) {
			return true
		}
	}
	return false
}

// Require exige alguno de los scopes sobre el recurso del request. Sin
// identidad responde 401; sin el scope, 403 con insufficient_scope.
func (a Authorizer) Require(res ResourceFunc, required ...string) Middleware {
	if res == nil {
		res = Global
	}
	return func(next http.Handler) http.Handler {
		if len(required) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if GetIdentity(ctx) == nil {
				w.Header().Set("WWW-Authenticate", `token realm="spawnhub"`)
				httperrors.WriteError(w, httperrors.ErrUnauthorized)
				return
			}

			target := res(r)
			if a.AllowedAny(ctx, target, required...) {
				next.ServeHTTP(w, r)
				return
			}

			need := required[0]
			logger.From(ctx).Info("request denied",
				logger.Scope(need),
				logger.String("resource", target.String()),
			)
			w.Header().Set("WWW-Authenticate", `token error="insufficient_scope", scope="`+need+`"`)
			httperrors.WriteError(w, httperrors.ErrInsufficientScopes.WithDetail(
				"action requires "+need+" on "+target.String()))
		})
	}
}

// Holds indica si el caller tiene required con cualquier filtro. Los
// listados lo usan para entrar y después filtran ítem por ítem.
func (a Authorizer) Holds(ctx context.Context, required string) bool {
	id := GetIdentity(ctx)
	if id == nil {
		return false
	}
	for sc := range id.Effective {
		if sc.Name == required {
			return true
		}
	}
	return false
}

// RequireHeld exige tener required sobre algún recurso.
func (a Authorizer) RequireHeld(required string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if GetIdentity(ctx) == nil {
				w.Header().Set("WWW-Authenticate", `token realm="spawnhub"`)
				httperrors.WriteError(w, httperrors.ErrUnauthorized)
				return
			}
			if !a.Holds(ctx, required) {
				w.Header().Set("WWW-Authenticate", `token error="insufficient_scope", scope="`+required+`"`)
				httperrors.WriteError(w, httperrors.ErrInsufficientScopes.WithDetail("action requires "+required))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
