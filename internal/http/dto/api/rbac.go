package api

// GroupResponse es el modelo de un grupo.
type GroupResponse struct {
	Kind  string   `json:"kind"`
	Name  string   `json:"name"`
	Users []string `json:"users"`
	Roles []string `json:"roles"`
}

// GroupRequest es el body de POST /groups/{name}.
type GroupRequest struct {
	Users []string `json:"users"`
}

// GroupMembersRequest es el body de POST y DELETE /groups/{name}/users.
type GroupMembersRequest struct {
	Users []string `json:"users"`
}

// GroupRolesRequest es el body de PUT /groups/{name}/roles.
type GroupRolesRequest struct {
	Roles []string `json:"roles"`
}

// RoleResponse es el modelo de un rol.
type RoleResponse struct {
	Kind        string   `json:"kind"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Scopes      []string `json:"scopes"`
}

// ServiceResponse es el modelo de un service.
type ServiceResponse struct {
	Kind          string   `json:"kind"`
	Name          string   `json:"name"`
	Roles         []string `json:"roles"`
	URL           string   `json:"url,omitempty"`
	Prefix        string   `json:"prefix,omitempty"`
	OAuthClientID string   `json:"oauth_client_id,omitempty"`

	// Scopes solo aparece en /user y /authorizations/token.
	Scopes []string `json:"scopes,omitempty"`
}
