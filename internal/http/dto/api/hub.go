package api

// VersionResponse es la respuesta de GET /hub/api.
type VersionResponse struct {
	Version string `json:"version"`
}

// ShutdownRequest es el body de POST /shutdown.
type ShutdownRequest struct {
	Servers bool `json:"servers"`
}

// HealthResponse es la respuesta de /hub/health.
type HealthResponse struct {
	Status         string `json:"status"` // ok | unavailable
	ProxyReady     bool   `json:"proxy_ready"`
	SpawnsDisabled bool   `json:"spawns_disabled"`
}

// LoginRequest es el body de POST /hub/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse es la respuesta de un login exitoso.
type LoginResponse struct {
	Name      string `json:"name"`
	Token     string `json:"token"`
	ExpiresAt *int64 `json:"expires_at,omitempty"` // unix
}

// AuthorizeResponse es la respuesta de GET /oauth2/authorize cuando el
// usuario tiene que confirmar.
type AuthorizeResponse struct {
	ClientID    string   `json:"client_id"`
	Description string   `json:"description"`
	Scopes      []string `json:"scopes"`
	Ticket      string   `json:"ticket"`
}

// ConfirmRequest es el body de POST /oauth2/authorize.
type ConfirmRequest struct {
	Ticket string `json:"ticket"`
}

// OAuthError es el formato de error del token endpoint (RFC 6749 §5.2).
type OAuthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}
