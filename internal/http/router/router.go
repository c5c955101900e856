// Package router arma el árbol de rutas HTTP del hub sobre chi.
package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/spawnhub/internal/hub"
	apictrl "github.com/dropDatabas3/spawnhub/internal/http/controllers/api"
	healthctrl "github.com/dropDatabas3/spawnhub/internal/http/controllers/health"
	oauthctrl "github.com/dropDatabas3/spawnhub/internal/http/controllers/oauth"
	sessionctrl "github.com/dropDatabas3/spawnhub/internal/http/controllers/session"
	httperrors "github.com/dropDatabas3/spawnhub/internal/http/errors"
	mw "github.com/dropDatabas3/spawnhub/internal/http/middlewares"
	"github.com/dropDatabas3/spawnhub/internal/rate"
)

// Deps contiene las dependencias del router.
type Deps struct {
	Hub *hub.Hub

	// MetricsHandler sirve /hub/metrics; nil lo deshabilita.
	MetricsHandler http.Handler

	// LoginLimiter limita POST /hub/login por IP; nil lo deshabilita.
	LoginLimiter rate.Limiter
}

// New construye el handler raíz. Todas las rutas cuelgan de
// <base_url>hub: la API en /api, login/logout, health y metrics.
func New(d Deps) http.Handler {
	hc := d.Hub.Context()
	cfg := hc.Config
	hubPrefix := strings.TrimSuffix(cfg.Server.BaseURL, "/") + "/hub"

	authz := mw.Authorizer{MemberOf: hc.Permissions.MemberOf}
	ready := mw.WithReadiness(d.Hub.Ready)

	r := chi.NewRouter()
	r.Use(
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithLogging(),
		mw.WithSecurityHeaders(),
		mw.WithMetrics(),
		mw.WithAuthentication(mw.AuthConfig{
			Tokens:     hc.Tokens,
			CookieName: cfg.Auth.Cookie.Name,
			Touch:      d.Hub.TouchUser,
		}),
	)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	r.Route(hubPrefix, func(r chi.Router) {
		RegisterAPIRoutes(r, APIRouterDeps{
			Controllers: apictrl.NewControllers(apictrl.Deps{
				Hub:       d.Hub,
				Authz:     authz,
				APIPrefix: hubPrefix + "/api",
			}),
			OAuth: oauthctrl.NewOAuthController(hc.OAuth),
			Authz: authz,
			Ready: ready,
		})
		RegisterSessionRoutes(r, SessionRouterDeps{
			Controller: sessionctrl.NewSessionController(sessionctrl.Deps{
				Hub:          d.Hub,
				Authz:        authz,
				CookieName:   cfg.Auth.Cookie.Name,
				CookiePath:   hubPrefix + "/",
				CookieSecure: cfg.Auth.Cookie.Secure,
			}),
			LoginLimiter: d.LoginLimiter,
			Ready:        ready,
		})
		RegisterHealthRoutes(r, HealthRouterDeps{
			Controller:     healthctrl.NewHealthController(d.Hub),
			MetricsHandler: d.MetricsHandler,
			Authz:          authz,
		})
	})
	return r
}
