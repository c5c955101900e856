package router

import (
	"github.com/go-chi/chi/v5"

	sessionctrl "github.com/dropDatabas3/spawnhub/internal/http/controllers/session"
	mw "github.com/dropDatabas3/spawnhub/internal/http/middlewares"
	"github.com/dropDatabas3/spawnhub/internal/rate"
)

// SessionRouterDeps contiene las dependencias de login/logout.
type SessionRouterDeps struct {
	Controller   *sessionctrl.SessionController
	LoginLimiter rate.Limiter
	Ready        mw.Middleware
}

// RegisterSessionRoutes registra /login, /logout y /user/{name}/*.
func RegisterSessionRoutes(r chi.Router, d SessionRouterDeps) {
	c := d.Controller
	ready := d.Ready
	if ready == nil {
		ready = mw.WithReadiness(nil)
	}
	r.Group(func(r chi.Router) {
		r.Use(ready)
		r.With(
			mw.WithNoStore(),
			mw.WithRateLimit(mw.RateLimitConfig{Limiter: d.LoginLimiter, KeyFunc: mw.IPOnlyRateKey}),
		).Post("/login", c.Login)
		r.With(mw.WithNoStore()).Post("/logout", c.Logout)

		r.With(mw.RequireAuth()).Get("/user/{name}", c.UserRedirect)
		r.With(mw.RequireAuth()).Get("/user/{name}/*", c.UserRedirect)
	})
}
