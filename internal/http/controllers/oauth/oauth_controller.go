// Package oauth contiene los endpoints del proveedor OAuth del hub.
package oauth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	dto "github.com/dropDatabas3/spawnhub/internal/http/dto/api"
	httperrors "github.com/dropDatabas3/spawnhub/internal/http/errors"
	"github.com/dropDatabas3/spawnhub/internal/http/helpers"
	mw "github.com/dropDatabas3/spawnhub/internal/http/middlewares"
	"github.com/dropDatabas3/spawnhub/internal/oauth"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
)

// OAuthController maneja /oauth2/authorize y /oauth2/token.
type OAuthController struct {
	provider *oauth.Provider
}

// NewOAuthController crea el controller.
func NewOAuthController(p *oauth.Provider) *OAuthController {
	return &OAuthController{provider: p}
}

// Authorize maneja GET /oauth2/authorize. Si el cliente no requiere
// confirmación redirige con el código; si no, devuelve el ticket que el
// usuario aprueba con POST.
func (c *OAuthController) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mw.GetIdentity(ctx)
	if id.Principal.Kind != repository.OwnerUser {
		httperrors.WriteError(w, httperrors.ErrForbidden.WithDetail("only users can authorize clients"))
		return
	}

	q := r.URL.Query()
	req := oauth.AuthorizeRequest{
		ResponseType: q.Get("response_type"),
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		State:        q.Get("state"),
		Scopes:       strings.Fields(q.Get("scope")),
	}
	res, err := c.provider.Authorize(ctx, id.Name(), req)
	if err != nil {
		c.fail(w, r, "OAuthController.Authorize", err)
		return
	}
	if res.NeedsConfirm {
		helpers.WriteJSON(w, http.StatusOK, dto.AuthorizeResponse{
			ClientID:    res.Client.ClientID,
			Description: res.Client.Description,
			Scopes:      res.Scopes,
			Ticket:      res.Ticket,
		})
		return
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

// Confirm maneja POST /oauth2/authorize con el ticket aprobado.
func (c *OAuthController) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mw.GetIdentity(ctx)

	var ticket string
	if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/x-www-form-urlencoded") {
		r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
		if err := r.ParseForm(); err != nil {
			httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("invalid form"))
			return
		}
		ticket = r.PostForm.Get("ticket")
	} else {
		var req dto.ConfirmRequest
		if !helpers.ReadJSON(w, r, &req) {
			return
		}
		ticket = req.Ticket
	}
	if ticket == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("ticket required"))
		return
	}

	res, err := c.provider.Confirm(ctx, id.Name(), ticket)
	if err != nil {
		c.fail(w, r, "OAuthController.Confirm", err)
		return
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

func (c *OAuthController) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	appErr := httperrors.FromError(err)
	if appErr.HTTPStatus >= 500 {
		logger.From(r.Context()).Error("oauth request failed", logger.Layer("controller"), logger.Op(op), logger.Err(err))
	}
	httperrors.WriteError(w, appErr)
}

// Token maneja POST /oauth2/token (form urlencoded). Las credenciales del
// cliente pueden venir en el form o por HTTP Basic. Los errores siguen el
// formato de RFC 6749.
func (c *OAuthController) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	req := oauth.ExchangeRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
	}
	if id, secret, ok := r.BasicAuth(); ok {
		req.ClientID, req.ClientSecret = id, secret
	}

	resp, err := c.provider.Exchange(ctx, req)
	if err != nil {
		status, code := oauthErrorCode(err)
		if status >= 500 {
			logger.From(ctx).Error("token exchange failed", logger.Layer("controller"), logger.ClientID(req.ClientID), logger.Err(err))
			writeOAuthError(w, status, code, "")
			return
		}
		writeOAuthError(w, status, code, err.Error())
		return
	}
	w.Header().Set("Pragma", "no-cache")
	helpers.WriteJSON(w, http.StatusOK, resp)
}

func oauthErrorCode(err error) (int, string) {
	switch {
	case errors.Is(err, oauth.ErrUnsupportedGrant):
		return http.StatusBadRequest, "unsupported_grant_type"
	case errors.Is(err, oauth.ErrMissingParams):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, oauth.ErrInvalidClient):
		return http.StatusUnauthorized, "invalid_client"
	case errors.Is(err, oauth.ErrInvalidGrant), errors.Is(err, oauth.ErrInvalidRedirect):
		return http.StatusBadRequest, "invalid_grant"
	}
	return http.StatusInternalServerError, "server_error"
}

func writeOAuthError(w http.ResponseWriter, status int, code, desc string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="spawnhub"`)
	}
	helpers.WriteJSON(w, status, dto.OAuthError{Error: code, Description: desc})
}
