// Package oauth implementa el hub como proveedor OAuth2 (authorization code)
// para los servers single-user y los services registrados como clientes.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dropDatabas3/spawnhub/internal/cache"
	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
	tok "github.com/dropDatabas3/spawnhub/internal/security/token"
	"github.com/dropDatabas3/spawnhub/internal/tokens"
)

// Cache key prefixes
const (
	cacheKeyPrefixCode = "oauth_code:"
)

// TTL constants
const (
	defaultCodeTTL    = 10 * time.Minute
	defaultConfirmTTL = 5 * time.Minute
)

// Errors for authorize/token flow
var (
	ErrMissingParams       = errors.New("missing required parameters")
	ErrUnsupportedResponse = errors.New("unsupported response_type")
	ErrUnsupportedGrant    = errors.New("unsupported grant_type")
	ErrInvalidClient       = errors.New("invalid client")
	ErrInvalidRedirect     = errors.New("redirect_uri not allowed")
	ErrInvalidGrant        = errors.New("invalid or expired authorization code")
	ErrInvalidTicket       = errors.New("invalid or expired confirmation ticket")
	ErrAccessDenied        = errors.New("user lacks the permissions this client requires")
)

// Deps contiene las dependencias del Provider.
type Deps struct {
	Clients repository.OAuthClientRepository
	Tokens  *tokens.Store
	Cache   cache.Client

	// SigningKey firma los tickets de confirmación (HS256).
	SigningKey []byte

	CodeTTL        time.Duration
	ConfirmTTL     time.Duration
	TokenExpiresIn time.Duration // 0 = sin vencimiento
}

// Provider es el proveedor OAuth del hub.
type Provider struct {
	deps Deps
	now  func() time.Time
}

// New crea el Provider.
func New(d Deps) *Provider {
	if d.CodeTTL <= 0 {
		d.CodeTTL = defaultCodeTTL
	}
	if d.ConfirmTTL <= 0 {
		d.ConfirmTTL = defaultConfirmTTL
	}
	return &Provider{deps: d, now: time.Now}
}

// AuthorizeRequest son los parámetros de /hub/api/oauth2/authorize.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	State        string
	Scopes       []string // vacío = los allowed_scopes del cliente
}

// AuthorizeResult es el resultado de Authorize o Confirm.
type AuthorizeResult struct {
	Client *repository.OAuthClient
	Scopes []string

	// Si NeedsConfirm, el usuario debe aprobar enviando Ticket a Confirm.
	NeedsConfirm bool
	Ticket       string

	// RedirectURL lleva code y state cuando no hace falta confirmación.
	RedirectURL string
}

// Authorize valida el pedido para el usuario autenticado y, si el cliente no
// requiere confirmación, emite el código de autorización.
func (p *Provider) Authorize(ctx context.Context, user string, req AuthorizeRequest) (*AuthorizeResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.Authorize"), logger.ClientID(req.ClientID))

	if req.ResponseType != "code" {
		return nil, ErrUnsupportedResponse
	}
	if req.ClientID == "" {
		return nil, ErrMissingParams
	}
	client, err := p.deps.Clients.Get(ctx, req.ClientID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrInvalidClient
		}
		return nil, err
	}
	if req.RedirectURI == "" {
		req.RedirectURI = client.RedirectURI
	}
	if req.RedirectURI != client.RedirectURI {
		return nil, ErrInvalidRedirect
	}

	granted, err := p.grantable(ctx, user, client, req.Scopes)
	if err != nil {
		log.Debug("authorize denied", logger.Username(user), logger.Err(err))
		return nil, err
	}

	res := &AuthorizeResult{Client: client, Scopes: granted}
	if needsConfirm(client, user) {
		ticket, err := p.signTicket(user, client.ClientID, req.RedirectURI, req.State, granted)
		if err != nil {
			return nil, err
		}
		res.NeedsConfirm = true
		res.Ticket = ticket
		return res, nil
	}

	res.RedirectURL, err = p.issueCode(ctx, user, client.ClientID, req.RedirectURI, req.State, granted)
	if err != nil {
		return nil, err
	}
	log.Info("auth code issued", logger.Username(user))
	return res, nil
}

// Confirm completa un Authorize que requería aprobación del usuario.
func (p *Provider) Confirm(ctx context.Context, user, ticket string) (*AuthorizeResult, error) {
	c, err := p.parseTicket(ticket)
	if err != nil || c.Subject != user {
		return nil, ErrInvalidTicket
	}
	client, err := p.deps.Clients.Get(ctx, c.ClientID)
	if err != nil {
		return nil, ErrInvalidClient
	}
	redirect, err := p.issueCode(ctx, user, c.ClientID, c.RedirectURI, c.State, c.Scopes)
	if err != nil {
		return nil, err
	}
	logger.From(ctx).Info("auth code issued after confirmation", logger.Username(user), logger.ClientID(c.ClientID))
	return &AuthorizeResult{Client: client, Scopes: c.Scopes, RedirectURL: redirect}, nil
}

// needsConfirm: los clientes administrados y los del propio usuario no piden confirmación.
func needsConfirm(c *repository.OAuthClient, user string) bool {
	return !c.NoConfirm && c.OwnerUser != user
}

// grantable calcula los scopes que el token final puede llevar: lo pedido,
// acotado por los allowed_scopes del cliente y por los permisos actuales
// del usuario.
func (p *Provider) grantable(ctx context.Context, user string, client *repository.OAuthClient, requested []string) ([]string, error) {
	perms := p.deps.Tokens.Permissions()
	owner := scopes.UserPrincipal(user)
	current, err := perms.Current(ctx, owner)
	if err != nil {
		return nil, err
	}
	memberOf := perms.MemberOf(ctx)

	allowed, err := perms.Resolver().ResolveRequested(client.AllowedScopes, owner, current)
	if err != nil {
		return nil, fmt.Errorf("client %s allowed_scopes: %w", client.ClientID, err)
	}
	want := allowed
	if len(requested) > 0 {
		want, err = perms.Resolver().ResolveRequested(requested, owner, current)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", tokens.ErrInvalidScope, err)
		}
		want = scopes.Intersect(want, allowed, memberOf)
	}

	effective := scopes.Intersect(want, current, memberOf)
	if len(effective) == 0 && len(allowed) > 0 {
		return nil, ErrAccessDenied
	}
	return effective.Strings(), nil
}

type codePayload struct {
	User        string    `json:"user"`
	ClientID    string    `json:"client_id"`
	RedirectURI string    `json:"redirect_uri"`
	Scopes      []string  `json:"scopes"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (p *Provider) issueCode(ctx context.Context, user, clientID, redirectURI, state string, granted []string) (string, error) {
	code, err := tok.GenerateOpaqueToken(32)
	if err != nil {
		return "", err
	}
	payload, _ := json.Marshal(codePayload{
		User:        user,
		ClientID:    clientID,
		RedirectURI: redirectURI,
		Scopes:      granted,
		ExpiresAt:   p.now().Add(p.deps.CodeTTL),
	})
	// solo el hash del código queda en cache
	if err := p.deps.Cache.Set(ctx, cacheKeyPrefixCode+tok.SHA256Base64URL(code), string(payload), p.deps.CodeTTL); err != nil {
		return "", fmt.Errorf("store auth code: %w", err)
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", ErrInvalidRedirect
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ExchangeRequest son los parámetros de /hub/api/oauth2/token.
type ExchangeRequest struct {
	GrantType    string
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// TokenResponse es la respuesta estándar del token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
	Scope       string `json:"scope"`
}

// Exchange canjea un código (una sola vez) por un token de API.
func (p *Provider) Exchange(ctx context.Context, req ExchangeRequest) (*TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.Exchange"), logger.ClientID(req.ClientID))

	if req.GrantType != "authorization_code" {
		return nil, ErrUnsupportedGrant
	}
	if req.Code == "" || req.ClientID == "" {
		return nil, ErrMissingParams
	}
	client, err := p.deps.Clients.Get(ctx, req.ClientID)
	if err != nil || !tok.Equal(client.SecretHash, tok.SHA256Base64URL(req.ClientSecret)) {
		return nil, ErrInvalidClient
	}

	raw, err := p.deps.Cache.Take(ctx, cacheKeyPrefixCode+tok.SHA256Base64URL(req.Code))
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	var cp codePayload
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil, ErrInvalidGrant
	}
	if cp.ClientID != req.ClientID || p.now().After(cp.ExpiresAt) {
		return nil, ErrInvalidGrant
	}
	if req.RedirectURI != "" && req.RedirectURI != cp.RedirectURI {
		return nil, ErrInvalidRedirect
	}

	scopesReq := cp.Scopes
	if len(scopesReq) == 0 {
		// token de identificación: sin permisos sobre recursos
		scopesReq = []string{"read:users:name!user"}
	}
	issued, err := p.deps.Tokens.Issue(ctx, tokens.IssueRequest{
		Owner:     scopes.UserPrincipal(cp.User),
		Scopes:    scopesReq,
		ExpiresIn: p.deps.TokenExpiresIn,
		ClientID:  client.ClientID,
		Note:      "oauth: " + client.ClientID,
	})
	if err != nil {
		return nil, err
	}
	log.Info("oauth token issued", logger.Username(cp.User), logger.TokenID(issued.Token.ID))

	out := &TokenResponse{
		AccessToken: issued.Secret,
		TokenType:   "Bearer",
		Scope:       strings.Join(issued.Token.Scopes, " "),
	}
	if p.deps.TokenExpiresIn > 0 {
		out.ExpiresIn = int64(p.deps.TokenExpiresIn.Seconds())
	}
	return out, nil
}

// RegisterClient crea o actualiza un cliente. Solo se guarda el hash del secreto.
func (p *Provider) RegisterClient(ctx context.Context, c *repository.OAuthClient, secret string) error {
	if c.ClientID == "" || secret == "" {
		return ErrMissingParams
	}
	if _, err := url.Parse(c.RedirectURI); err != nil {
		return ErrInvalidRedirect
	}
	c.SecretHash = tok.SHA256Base64URL(secret)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = p.now().UTC()
	}
	return p.deps.Clients.Upsert(ctx, c)
}

// DeleteClient elimina un cliente. No falla si no existe.
func (p *Provider) DeleteClient(ctx context.Context, clientID string) error {
	err := p.deps.Clients.Delete(ctx, clientID)
	if repository.IsNotFound(err) {
		return nil
	}
	return err
}

// ─── Confirm ticket ───

type ticketClaims struct {
	ClientID    string   `json:"cid"`
	RedirectURI string   `json:"ruri"`
	State       string   `json:"st,omitempty"`
	Scopes      []string `json:"scp"`
	jwtv5.RegisteredClaims
}

func (p *Provider) signTicket(user, clientID, redirectURI, state string, granted []string) (string, error) {
	now := p.now()
	claims := ticketClaims{
		ClientID:    clientID,
		RedirectURI: redirectURI,
		State:       state,
		Scopes:      granted,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Subject:   user,
			ID:        uuid.NewString(),
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(p.deps.ConfirmTTL)),
		},
	}
	return jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(p.deps.SigningKey)
}

func (p *Provider) parseTicket(raw string) (*ticketClaims, error) {
	var c ticketClaims
	_, err := jwtv5.ParseWithClaims(raw, &c, func(*jwtv5.Token) (any, error) {
		return p.deps.SigningKey, nil
	}, jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}), jwtv5.WithTimeFunc(p.now))
	if err != nil {
		return nil, err
	}
	return &c, nil
}
