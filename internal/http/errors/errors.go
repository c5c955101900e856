// Package errors traduce los errores del hub a respuestas JSON.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/dropDatabas3/spawnhub/internal/auth"
	"github.com/dropDatabas3/spawnhub/internal/hub"
	"github.com/dropDatabas3/spawnhub/internal/oauth"
	"github.com/dropDatabas3/spawnhub/internal/tokens"
)

// errorResponse es lo único que ve el cliente: la causa interna nunca se serializa.
type errorResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// FromError convierte cualquier error en un AppError. Los errores que no
// pertenecen a la taxonomía del hub terminan como 500 genérico.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var spawnErr *hub.SpawnError
	if stderrors.As(err, &spawnErr) {
		base := ErrSpawnFailed
		if stderrors.Is(err, hub.ErrBackendTimeout) {
			base = ErrSpawnTimeout
		}
		return base.WithDetail(spawnErr.Message).WithCause(err)
	}

	var notHeld *tokens.ScopesNotHeldError
	if stderrors.As(err, &notHeld) {
		return ErrForbidden.WithDetail(notHeld.Error()).WithCause(err)
	}

	switch {
	case stderrors.Is(err, hub.ErrValidation):
		return ErrBadRequest.WithDetail(validationDetail(err)).WithCause(err)
	case stderrors.Is(err, hub.ErrPermission):
		return ErrForbidden.WithCause(err)
	case stderrors.Is(err, hub.ErrNotRunning):
		return ErrNotRunning.WithCause(err)
	case stderrors.Is(err, hub.ErrNotFound):
		return ErrNotFound.WithCause(err)
	case stderrors.Is(err, hub.ErrConflict):
		return ErrConflict.WithCause(err)
	case stderrors.Is(err, hub.ErrAlreadyRunning):
		return ErrAlreadyRunning.WithCause(err)
	case stderrors.Is(err, hub.ErrPending):
		return ErrPending.WithCause(err)
	case stderrors.Is(err, hub.ErrNamedServersDisabled), stderrors.Is(err, hub.ErrNamedServerLimit):
		return ErrBadRequest.WithDetail(err.Error()).WithCause(err)
	case stderrors.Is(err, hub.ErrTooManyPending):
		return ErrTooManyPending.WithCause(err)
	case stderrors.Is(err, hub.ErrActiveLimit):
		return ErrActiveLimit.WithCause(err)
	case stderrors.Is(err, hub.ErrLoginRateLimited):
		return ErrRateLimitExceeded.WithCause(err)
	case stderrors.Is(err, hub.ErrBackendFatal):
		return ErrSpawnsDisabled.WithCause(err)
	case stderrors.Is(err, hub.ErrBackendTimeout):
		return ErrSpawnTimeout.WithCause(err)
	case stderrors.Is(err, hub.ErrProxyUnavailable):
		return ErrProxyUnavailable.WithCause(err)
	case stderrors.Is(err, auth.ErrRejected):
		return ErrInvalidCredentials.WithCause(err)
	case stderrors.Is(err, tokens.ErrInvalidToken):
		return ErrUnauthorized.WithCause(err)
	case stderrors.Is(err, oauth.ErrAccessDenied):
		return ErrForbidden.WithDetail(err.Error()).WithCause(err)
	case stderrors.Is(err, oauth.ErrMissingParams),
		stderrors.Is(err, oauth.ErrUnsupportedResponse),
		stderrors.Is(err, oauth.ErrInvalidClient),
		stderrors.Is(err, oauth.ErrInvalidRedirect),
		stderrors.Is(err, oauth.ErrInvalidTicket):
		return ErrBadRequest.WithDetail(err.Error()).WithCause(err)
	}
	return ErrInternalServerError.WithCause(err)
}

// validationDetail quita el prefijo del sentinel: "validation error: x" → "x".
func validationDetail(err error) string {
	msg := err.Error()
	prefix := hub.ErrValidation.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}

// WriteError escribe el error como JSON con su status.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)
	resp := errorResponse{
		Status:  appErr.HTTPStatus,
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(resp)
}
