package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/spawnhub/internal/hub"
	dto "github.com/dropDatabas3/spawnhub/internal/http/dto/api"
	"github.com/dropDatabas3/spawnhub/internal/http/helpers"
	mw "github.com/dropDatabas3/spawnhub/internal/http/middlewares"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
)

// TokensController maneja /users/{name}/tokens.
type TokensController struct {
	hub *hub.Hub
}

// ListTokens maneja GET /users/{name}/tokens
func (c *TokensController) ListTokens(w http.ResponseWriter, r *http.Request) {
	owner := scopes.UserPrincipal(chi.URLParam(r, "name"))
	list, err := c.hub.ListTokens(r.Context(), owner)
	if err != nil {
		fail(w, r, "TokensController.ListTokens", err)
		return
	}
	resp := dto.TokenListResponse{APITokens: make([]dto.TokenResponse, 0, len(list))}
	for i := range list {
		resp.APITokens = append(resp.APITokens, token(&list[i]))
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// CreateToken maneja POST /users/{name}/tokens. El secreto solo se
// devuelve en esta respuesta.
func (c *TokensController) CreateToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := scopes.UserPrincipal(chi.URLParam(r, "name"))

	var req dto.TokenRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.Note == "" {
		req.Note = "Requested via api"
		if id := mw.GetIdentity(ctx); id != nil && id.Name() != owner.Name {
			req.Note += " by " + string(id.Principal.Kind) + " " + id.Name()
		}
	}

	issued, err := c.hub.IssueToken(ctx, owner, hub.TokenRequest{
		Scopes:    req.Scopes,
		Roles:     req.Roles,
		ExpiresIn: time.Duration(req.ExpiresIn) * time.Second,
		Note:      req.Note,
	})
	if err != nil {
		fail(w, r, "TokensController.CreateToken", err)
		return
	}
	resp := token(issued.Token)
	resp.Token = issued.Secret
	helpers.WriteJSON(w, http.StatusCreated, resp)
}

// GetToken maneja GET /users/{name}/tokens/{token_id}
func (c *TokensController) GetToken(w http.ResponseWriter, r *http.Request) {
	owner := scopes.UserPrincipal(chi.URLParam(r, "name"))
	t, err := c.hub.GetToken(r.Context(), owner, chi.URLParam(r, "token_id"))
	if err != nil {
		fail(w, r, "TokensController.GetToken", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, token(t))
}

// RevokeToken maneja DELETE /users/{name}/tokens/{token_id}
func (c *TokensController) RevokeToken(w http.ResponseWriter, r *http.Request) {
	owner := scopes.UserPrincipal(chi.URLParam(r, "name"))
	if err := c.hub.RevokeToken(r.Context(), owner, chi.URLParam(r, "token_id")); err != nil {
		fail(w, r, "TokensController.RevokeToken", err)
		return
	}
	helpers.NoContent(w)
}
