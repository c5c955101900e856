package router

import (
	"github.com/go-chi/chi/v5"

	apictrl "github.com/dropDatabas3/spawnhub/internal/http/controllers/api"
	oauthctrl "github.com/dropDatabas3/spawnhub/internal/http/controllers/oauth"
	mw "github.com/dropDatabas3/spawnhub/internal/http/middlewares"
)

// APIRouterDeps contiene las dependencias de /hub/api.
type APIRouterDeps struct {
	Controllers *apictrl.Controllers
	OAuth       *oauthctrl.OAuthController
	Authz       mw.Authorizer

	// Ready corta las rutas de usuario hasta que el proxy respondió.
	Ready mw.Middleware
}

// RegisterAPIRoutes registra la REST API. Cada ruta declara el scope que
// exige sobre el recurso que nombra su path. Hasta que el proxy respondió por
// primera vez solo atienden la versión, /proxy y /shutdown.
func RegisterAPIRoutes(r chi.Router, d APIRouterDeps) {
	c := d.Controllers
	az := d.Authz
	user := mw.UserParam("name")
	server := mw.ServerParams("name", "server_name")
	grp := mw.GroupParam("name")
	ready := d.Ready
	if ready == nil {
		ready = mw.WithReadiness(nil)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(mw.WithNoStore())

		// versión y operaciones de operador: responden aunque el proxy no esté listo
		r.Get("/", c.Hub.Version)
		r.With(az.Require(mw.Global, "shutdown")).Post("/shutdown", c.Hub.Shutdown)
		r.With(az.Require(mw.Global, "proxy")).Get("/proxy", c.Proxy.GetRoutes)
		r.With(az.Require(mw.Global, "proxy")).Post("/proxy", c.Proxy.Sync)

		r.Group(func(r chi.Router) {
			r.Use(ready)

			r.With(az.Require(mw.Global, "read:hub")).Get("/info", c.Hub.Info)
			r.With(mw.RequireAuth()).Get("/user", c.Hub.WhoAmI)
			r.With(mw.RequireAuth()).Get("/authorizations/token/{token}", c.Authorizations.Token)
			r.With(az.Require(mw.Global, "admin:servers")).Post("/spawner/reset", c.Hub.ResetSpawner)

			// users
			r.With(az.RequireHeld("list:users")).Get("/users", c.Users.ListUsers)
			r.With(az.Require(mw.Global, "admin:users")).Post("/users", c.Users.CreateUsers)
			r.Route("/users/{name}", func(r chi.Router) {
				r.With(az.Require(user, "read:users", "read:users:name")).Get("/", c.Users.GetUser)
				r.With(az.Require(user, "admin:users")).Post("/", c.Users.CreateUser)
				r.With(az.Require(user, "admin:users")).Patch("/", c.Users.PatchUser)
				r.With(az.Require(user, "admin:users")).Delete("/", c.Users.DeleteUser)
				r.With(az.Require(user, "users:activity")).Post("/activity", c.Users.Activity)

				// server default
				r.With(az.Require(server, "servers")).Post("/server", c.Servers.StartServer)
				r.With(az.Require(server, "delete:servers")).Delete("/server", c.Servers.StopServer)
				r.With(az.Require(server, "read:servers")).Get("/server", c.Servers.GetServer)
				r.With(az.Require(server, "read:servers")).Get("/server/progress", c.Servers.Progress)

				// named servers
				r.With(az.Require(server, "servers")).Post("/servers/{server_name}", c.Servers.StartServer)
				r.With(az.Require(server, "delete:servers")).Delete("/servers/{server_name}", c.Servers.StopServer)
				r.With(az.Require(server, "read:servers")).Get("/servers/{server_name}", c.Servers.GetServer)
				r.With(az.Require(server, "read:servers")).Get("/servers/{server_name}/progress", c.Servers.Progress)

				// tokens
				r.With(az.Require(user, "read:tokens")).Get("/tokens", c.Tokens.ListTokens)
				r.With(az.Require(user, "tokens")).Post("/tokens", c.Tokens.CreateToken)
				r.With(az.Require(user, "read:tokens")).Get("/tokens/{token_id}", c.Tokens.GetToken)
				r.With(az.Require(user, "tokens")).Delete("/tokens/{token_id}", c.Tokens.RevokeToken)
			})

			// groups
			r.With(az.RequireHeld("list:groups")).Get("/groups", c.Groups.ListGroups)
			r.Route("/groups/{name}", func(r chi.Router) {
				r.With(az.Require(grp, "read:groups", "read:groups:name")).Get("/", c.Groups.GetGroup)
				r.With(az.Require(grp, "admin:groups")).Post("/", c.Groups.CreateGroup)
				r.With(az.Require(grp, "admin:groups")).Delete("/", c.Groups.DeleteGroup)
				r.With(az.Require(grp, "groups")).Post("/users", c.Groups.AddMembers)
				r.With(az.Require(grp, "groups")).Delete("/users", c.Groups.RemoveMembers)
				r.With(az.Require(grp, "admin:groups")).Put("/roles", c.Groups.SetRoles)
			})

			// roles, services
			r.With(az.Require(mw.Global, "read:roles")).Get("/roles", c.Roles.ListRoles)
			r.With(az.RequireHeld("list:services")).Get("/services", c.Services.ListServices)
			r.With(az.Require(mw.ServiceParam("name"), "read:services", "read:services:name")).
				Get("/services/{name}", c.Services.GetService)

			// oauth
			r.With(mw.RequireAuth()).Get("/oauth2/authorize", d.OAuth.Authorize)
			r.With(mw.RequireAuth()).Post("/oauth2/authorize", d.OAuth.Confirm)
			r.Post("/oauth2/token", d.OAuth.Token)
		})
	})
}
