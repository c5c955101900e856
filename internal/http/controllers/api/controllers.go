// Package api contiene los controllers de la REST API del hub (/hub/api).
package api

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/spawnhub/internal/hub"
	httperrors "github.com/dropDatabas3/spawnhub/internal/http/errors"
	mw "github.com/dropDatabas3/spawnhub/internal/http/middlewares"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
)

// Deps son las dependencias de los controllers de la API.
type Deps struct {
	Hub   *hub.Hub
	Authz mw.Authorizer

	// APIPrefix es la ruta base de la API (ej: "/hub/api").
	APIPrefix string
}

// Controllers agrupa todos los controllers de la API.
type Controllers struct {
	Users          *UsersController
	Servers        *ServersController
	Tokens         *TokensController
	Groups         *GroupsController
	Roles          *RolesController
	Services       *ServicesController
	Proxy          *ProxyController
	Authorizations *AuthorizationsController
	Hub            *HubController
}

// NewControllers crea el agregador de controllers de la API.
func NewControllers(d Deps) *Controllers {
	d.APIPrefix = strings.TrimSuffix(d.APIPrefix, "/")
	m := &mapper{hub: d.Hub, authz: d.Authz, apiPrefix: d.APIPrefix}
	return &Controllers{
		Users:          &UsersController{hub: d.Hub, authz: d.Authz, m: m},
		Servers:        &ServersController{hub: d.Hub, m: m},
		Tokens:         &TokensController{hub: d.Hub},
		Groups:         &GroupsController{hub: d.Hub, authz: d.Authz},
		Roles:          &RolesController{hub: d.Hub},
		Services:       &ServicesController{hub: d.Hub, authz: d.Authz, m: m},
		Proxy:          &ProxyController{hub: d.Hub},
		Authorizations: &AuthorizationsController{hub: d.Hub, m: m},
		Hub:            &HubController{hub: d.Hub, m: m},
	}
}

// fail loguea según la clase de error y lo escribe.
func fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	appErr := httperrors.FromError(err)
	log := logger.From(r.Context()).With(logger.Layer("controller"), logger.Op(op))
	if appErr.HTTPStatus >= 500 {
		log.Error("request failed", logger.Err(err))
	} else {
		log.Debug("request rejected", logger.Status(appErr.HTTPStatus), logger.Err(err))
	}
	httperrors.WriteError(w, appErr)
}
