// Package validation reúne las reglas de nombres del hub: usuarios, servers,
// grupos, roles, services y scopes custom.
package validation

import "regexp"

var (
	// usernames normalizados: minúsculas, pueden ser emails.
	usernameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._@-]{0,63}$`)

	// roles y services viven en la config: mismas reglas que un hostname.
	entityNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

	// servers y grupos aparecen en URLs; solo caracteres unreserved (RFC 3986).
	pathNameRe = regexp.MustCompile(`^[A-Za-z0-9._~-]{1,255}$`)

	// Scope name rules:
	// - Lowercase only.
	// - Start and end with [a-z0-9].
	// - Middle chars may include [a-z0-9:_.-].
	// - Length 1..64.
	scopeNameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_\.-]{0,62}[a-z0-9])?$`)
)

// ValidUsername indica si un username (ya normalizado) es aceptable.
func ValidUsername(name string) bool {
	return usernameRe.MatchString(name)
}

// ValidEntityName aplica a roles y services.
func ValidEntityName(name string) bool {
	return entityNameRe.MatchString(name)
}

// ValidServerName aplica a named servers.
func ValidServerName(name string) bool {
	return pathNameRe.MatchString(name)
}

// ValidGroupName aplica a grupos.
func ValidGroupName(name string) bool {
	return pathNameRe.MatchString(name)
}

// ValidScopeName valida el nombre completo de un scope (ej. "custom:reports:read").
func ValidScopeName(name string) bool {
	return scopeNameRe.MatchString(name)
}
