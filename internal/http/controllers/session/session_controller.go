// Package session contiene los endpoints de navegador del hub: login,
// logout y el redirect a servers que no están corriendo.
package session

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/spawnhub/internal/auth"
	"github.com/dropDatabas3/spawnhub/internal/hub"
	dto "github.com/dropDatabas3/spawnhub/internal/http/dto/api"
	httperrors "github.com/dropDatabas3/spawnhub/internal/http/errors"
	"github.com/dropDatabas3/spawnhub/internal/http/helpers"
	mw "github.com/dropDatabas3/spawnhub/internal/http/middlewares"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
)

// Deps son las dependencias del controller de sesión.
type Deps struct {
	Hub   *hub.Hub
	Authz mw.Authorizer

	CookieName   string
	CookiePath   string
	CookieSecure bool
}

// SessionController maneja /hub/login, /hub/logout y /hub/user/{name}.
type SessionController struct {
	d Deps
}

// NewSessionController crea el controller.
func NewSessionController(d Deps) *SessionController {
	return &SessionController{d: d}
}

// readCredentials acepta JSON o un form urlencoded.
func readCredentials(w http.ResponseWriter, r *http.Request) (auth.Credentials, bool) {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
		if err := r.ParseForm(); err != nil {
			httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("invalid form"))
			return auth.Credentials{}, false
		}
		return auth.Credentials{Username: r.PostForm.Get("username"), Password: r.PostForm.Get("password")}, true
	}
	var req dto.LoginRequest
	if !helpers.ReadJSON(w, r, &req) {
		return auth.Credentials{}, false
	}
	return auth.Credentials{Username: req.Username, Password: req.Password}, true
}

// Login maneja POST /hub/login. Deja el token de sesión en la cookie y
// también lo devuelve en el body.
func (c *SessionController) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("SessionController.Login"))

	creds, ok := readCredentials(w, r)
	if !ok {
		return
	}
	if creds.Username == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("username required"))
		return
	}

	sess, err := c.d.Hub.Login(ctx, creds)
	if err != nil {
		appErr := httperrors.FromError(err)
		if appErr.HTTPStatus >= 500 {
			log.Error("login failed", logger.Err(err))
		}
		httperrors.WriteError(w, appErr)
		return
	}

	helpers.SetSessionCookie(w, c.d.CookieName, sess.Token, c.d.CookiePath, c.d.CookieSecure, sess.ExpiresAt)
	resp := dto.LoginResponse{Name: sess.User.Name, Token: sess.Token}
	if sess.ExpiresAt != nil {
		exp := sess.ExpiresAt.Unix()
		resp.ExpiresAt = &exp
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// Logout maneja POST /hub/logout: revoca todos los tokens de la sesión
// de login y borra la cookie.
func (c *SessionController) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if id := mw.GetIdentity(ctx); id != nil && id.Token.SessionID != "" {
		if err := c.d.Hub.Logout(ctx, id.Token.SessionID); err != nil {
			logger.From(ctx).Error("logout failed", logger.Layer("controller"), logger.Err(err))
			httperrors.WriteError(w, err)
			return
		}
	}
	helpers.ClearCookie(w, c.d.CookieName, c.d.CookiePath, c.d.CookieSecure)
	helpers.NoContent(w)
}

// UserRedirect maneja /hub/user/{name}/*: el proxy manda acá las requests a
// servers sin ruta. Si el server corre (ruta todavía en camino) redirige de
// nuevo; si no, 424.
func (c *SessionController) UserRedirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := chi.URLParam(r, "name")
	rest := chi.URLParam(r, "*")

	name := ""
	if seg, tail, _ := strings.Cut(rest, "/"); seg != "" {
		if _, err := c.d.Hub.GetServer(ctx, user, seg); err == nil {
			name, rest = seg, tail
		}
	}

	if !c.d.Authz.Allowed(ctx, "access:servers", scopes.ServerResource(user, name)) {
		httperrors.WriteError(w, httperrors.ErrForbidden.WithDetail("no access to this server"))
		return
	}

	if _, err := c.d.Hub.RunningServer(ctx, user, name); err != nil {
		appErr := httperrors.FromError(err)
		if appErr.HTTPStatus == http.StatusFailedDependency {
			appErr = appErr.WithDetail("server is not running; start it via the API and retry")
		}
		httperrors.WriteError(w, appErr)
		return
	}
	target := c.d.Hub.ServerURL(user, name) + rest
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusFound)
}
