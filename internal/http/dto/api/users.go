// Package api contiene los DTOs de la REST API del hub.
package api

import "time"

// ServerResponse es el modelo de un server.
type ServerResponse struct {
	Name         string         `json:"name"`
	Ready        bool           `json:"ready"`
	Pending      *string        `json:"pending"` // "spawn" | "stop" | null
	Stopped      bool           `json:"stopped"`
	URL          string         `json:"url"`
	ProgressURL  string         `json:"progress_url"`
	Started      *time.Time     `json:"started"`
	LastActivity *time.Time     `json:"last_activity"`
	Message      string         `json:"message,omitempty"`
	UserOptions  map[string]any `json:"user_options,omitempty"`
	State        map[string]any `json:"state,omitempty"` // solo con admin:server_state
}

// UserResponse es el modelo de un usuario.
type UserResponse struct {
	Kind         string                    `json:"kind"`
	Name         string                    `json:"name"`
	Admin        bool                      `json:"admin"`
	Roles        []string                  `json:"roles,omitempty"`
	Groups       []string                  `json:"groups,omitempty"`
	Server       *string                   `json:"server"` // url del server default si corre
	Pending      *string                   `json:"pending"`
	Created      time.Time                 `json:"created"`
	LastActivity *time.Time                `json:"last_activity"`
	Servers      map[string]ServerResponse `json:"servers,omitempty"`
	AuthState    map[string]any            `json:"auth_state,omitempty"`

	// Scopes solo aparece en /user y /authorizations/token.
	Scopes []string `json:"scopes,omitempty"`
}

// CreateUsersRequest es el body de POST /users.
type CreateUsersRequest struct {
	Usernames []string `json:"usernames"`
	Admin     bool     `json:"admin"`
}

// CreateUserRequest es el body (opcional) de POST /users/{name}.
type CreateUserRequest struct {
	Admin bool `json:"admin"`
}

// PatchUserRequest es el body de PATCH /users/{name}.
type PatchUserRequest struct {
	Admin  *bool    `json:"admin"`
	Roles  []string `json:"roles"`
	Groups []string `json:"groups"`
}

// ActivityRequest es lo que reporta un server en POST /users/{name}/activity.
type ActivityRequest struct {
	LastActivity *time.Time `json:"last_activity"`
	Servers      map[string]struct {
		LastActivity time.Time `json:"last_activity"`
	} `json:"servers"`
}

// StopServerRequest es el body (opcional) de DELETE de un server.
type StopServerRequest struct {
	Remove bool `json:"remove"`
}
