package scopes

import (
	"sort"
	"strings"

	"github.com/dropDatabas3/spawnhub/internal/validation"
)

// Metascopes. No son permisos en sí: se expanden al resolver.
const (
	// MetaSelf se expande a los permisos de un usuario sobre sus propios recursos.
	MetaSelf = "self"

	// MetaInherit se expande a todos los permisos actuales del dueño del token.
	MetaInherit = "inherit"
)

// customPrefix permite scopes definidos por services ("custom:foo:bar").
const customPrefix = "custom:"

// definition describe un scope y los subscopes que implica.
type definition struct {
	description string
	subscopes   []string
}

var definitions = map[string]definition{
	MetaSelf:    {description: "Your own resources."},
	MetaInherit: {description: "Everything the token owner is allowed to do."},

	"admin:users":         {description: "Read, write, create and delete users.", subscopes: []string{"admin:auth_state", "users", "read:roles:users", "admin:servers"}},
	"admin:auth_state":    {description: "Read a user's authentication state."},
	"users":               {description: "Read and write user models.", subscopes: []string{"read:users", "list:users", "users:activity"}},
	"read:users":          {description: "Read user models.", subscopes: []string{"read:users:name", "read:users:groups", "read:users:activity"}},
	"list:users":          {description: "List users.", subscopes: []string{"read:users:name"}},
	"read:users:name":     {description: "Read names of users."},
	"read:users:groups":   {description: "Read users' group membership."},
	"read:users:activity": {description: "Read time of last user activity."},
	"users:activity":      {description: "Update last activity of users.", subscopes: []string{"read:users:activity"}},

	"admin:servers":      {description: "Read, start, stop servers and their state.", subscopes: []string{"admin:server_state", "servers"}},
	"admin:server_state": {description: "Read and write the backend state of servers."},
	"servers":            {description: "Start and stop user servers.", subscopes: []string{"read:servers", "delete:servers"}},
	"read:servers":       {description: "Read servers' models.", subscopes: []string{"read:users:name"}},
	"delete:servers":     {description: "Stop and delete servers."},
	"access:servers":     {description: "Access user servers through the proxy."},

	"tokens":      {description: "Create, read and revoke tokens.", subscopes: []string{"read:tokens"}},
	"read:tokens": {description: "Read token models."},

	"admin:groups":     {description: "Create, read, update and delete groups.", subscopes: []string{"groups", "read:roles:groups"}},
	"groups":           {description: "Add and remove users from groups.", subscopes: []string{"read:groups", "list:groups"}},
	"read:groups":      {description: "Read group models.", subscopes: []string{"read:groups:name"}},
	"list:groups":      {description: "List groups.", subscopes: []string{"read:groups:name"}},
	"read:groups:name": {description: "Read group names."},

	"read:services":      {description: "Read service models.", subscopes: []string{"read:services:name"}},
	"list:services":      {description: "List services.", subscopes: []string{"read:services:name"}},
	"read:services:name": {description: "Read service names."},

	"read:roles":          {description: "Read role assignments.", subscopes: []string{"read:roles:users", "read:roles:groups", "read:roles:services"}},
	"read:roles:users":    {description: "Read user role assignments."},
	"read:roles:groups":   {description: "Read group role assignments."},
	"read:roles:services": {description: "Read service role assignments."},

	"proxy":        {description: "Read and sync the proxy routing table."},
	"shutdown":     {description: "Shutdown the hub."},
	"read:hub":     {description: "Read detailed information about the hub."},
	"read:metrics": {description: "Read hub metrics."},
}

// selfScopes son los permisos de un usuario sobre sí mismo (con filtro !user).
var selfScopes = []string{
	"read:users", "read:users:name", "read:users:groups", "read:users:activity",
	"users:activity", "servers", "delete:servers", "read:servers",
	"tokens", "read:tokens", "access:servers",
}

// selfIdentityScopes aplica cuando la política de self-access está deshabilitada:
// el usuario solo puede identificarse, el resto debe venir de roles explícitos.
var selfIdentityScopes = []string{"read:users:name", "read:users:groups"}

// Defined indica si un nombre de scope existe.
func Defined(name string) bool {
	if _, ok := definitions[name]; ok {
		return true
	}
	return strings.HasPrefix(name, customPrefix) && len(name) > len(customPrefix) && validation.ValidScopeName(name)
}

// Description retorna la descripción de un scope definido.
func Description(name string) string {
	return definitions[name].description
}

// All retorna todos los scopes concretos (sin metascopes), ordenados.
func All() []string {
	out := make([]string, 0, len(definitions))
	for name := range definitions {
		if name == MetaSelf || name == MetaInherit {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Expand agrega recursivamente los subscopes de cada scope, heredando su filtro.
// Los metascopes se dejan tal cual.
func Expand(in ...Scope) Set {
	out := make(Set, len(in)*2)
	var walk func(Scope)
	walk = func(sc Scope) {
		if out.Has(sc) {
			return
		}
		out[sc] = struct{}{}
		for _, sub := range definitions[sc.Name].subscopes {
			walk(Scope{Name: sub, Filter: sc.Filter})
		}
	}
	for _, sc := range in {
		walk(sc)
	}
	return out
}

// ─── Roles por defecto ───

// Nombres de roles predefinidos.
const (
	RoleUser   = "user"
	RoleAdmin  = "admin"
	RoleServer = "server"
	RoleToken  = "token"
)

// DefaultRole es un rol predefinido que el hub siembra al arrancar.
type DefaultRole struct {
	Name        string
	Description string
	Scopes      []string
}

// DefaultRoles retorna los roles predefinidos.
func DefaultRoles() []DefaultRole {
	return []DefaultRole{
		{Name: RoleUser, Description: "Standard user privileges", Scopes: []string{MetaSelf}},
		{Name: RoleAdmin, Description: "Elevated privileges (can do anything)", Scopes: All()},
		{Name: RoleServer, Description: "Post activity only", Scopes: []string{"users:activity!user", "access:servers!server"}},
		{Name: RoleToken, Description: "Token with same permissions as its owner", Scopes: []string{MetaInherit}},
	}
}
