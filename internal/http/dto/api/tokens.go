package api

import "time"

// TokenRequest es el body de POST /users/{name}/tokens.
type TokenRequest struct {
	Scopes    []string `json:"scopes"`
	Roles     []string `json:"roles"`
	ExpiresIn int64    `json:"expires_in"` // segundos, 0 = no vence
	Note      string   `json:"note"`
}

// TokenResponse es el modelo de un token. Token solo viaja al crearlo.
type TokenResponse struct {
	Kind         string     `json:"kind"`
	ID           string     `json:"id"`
	Token        string     `json:"token,omitempty"`
	Prefix       string     `json:"prefix"`
	User         string     `json:"user,omitempty"`
	Service      string     `json:"service,omitempty"`
	Scopes       []string   `json:"scopes"`
	Note         string     `json:"note"`
	OAuthClient  string     `json:"oauth_client,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`
	Created      time.Time  `json:"created"`
	ExpiresAt    *time.Time `json:"expires_at"`
	LastActivity *time.Time `json:"last_activity"`
}

// TokenListResponse es la respuesta de GET /users/{name}/tokens.
type TokenListResponse struct {
	APITokens []TokenResponse `json:"api_tokens"`
}
