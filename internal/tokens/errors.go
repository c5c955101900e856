package tokens

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidToken el secreto no corresponde a un token vigente.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrOwnerNotFound el dueño del token ya no existe.
	ErrOwnerNotFound = errors.New("token owner not found")

	// ErrRoleNotFound se pidió un rol inexistente al emitir.
	ErrRoleNotFound = errors.New("role not found")

	// ErrInvalidScope se pidió un scope malformado o inexistente.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrWeakSecret un secreto provisto es demasiado corto.
	ErrWeakSecret = errors.New("provided token secret is too short")
)

// ScopesNotHeldError se devuelve al pedir scopes que el dueño no tiene.
type ScopesNotHeldError struct {
	Owner   string
	Missing []string
}

func (e *ScopesNotHeldError) Error() string {
	return fmt.Sprintf("%s does not have permission(s): %s", e.Owner, strings.Join(e.Missing, ", "))
}
