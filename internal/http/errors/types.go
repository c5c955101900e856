package errors

import (
	"fmt"
	"net/http"
)

// AppError es la forma estándar de un error en la frontera HTTP.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // causa interna, solo para logs
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New crea un AppError.
func New(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// Wrap crea un AppError con causa.
func Wrap(err error, status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// WithDetail devuelve una copia con Detail. Las variables base no se mutan.
func (e *AppError) WithDetail(detail string) *AppError {
	n := *e
	n.Detail = detail
	return &n
}

// WithCause devuelve una copia con la causa original.
func (e *AppError) WithCause(err error) *AppError {
	n := *e
	n.Err = err
	return &n
}

// ─── 400 ───

var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "The request is malformed or missing parameters.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		Message:    "The request body is not valid JSON.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidParameter = &AppError{
		Code:       "INVALID_PARAMETER",
		Message:    "A path or query parameter is invalid.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrAlreadyRunning = &AppError{
		Code:       "ALREADY_RUNNING",
		Message:    "The server is already running.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrPending = &AppError{
		Code:       "PENDING",
		Message:    "The server has a pending start or stop.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrBodyTooLarge = &AppError{
		Code:       "BODY_TOO_LARGE",
		Message:    "The request body is too large.",
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}
)

// ─── 401 / 403 ───

var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Invalid username or password.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "You do not have permission to perform this action.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrInsufficientScopes = &AppError{
		Code:       "INSUFFICIENT_SCOPES",
		Message:    "The token lacks the scope required for this resource.",
		HTTPStatus: http.StatusForbidden,
	}
)

// ─── 404 / 405 / 409 / 424 ───

var (
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "The requested resource does not exist.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrRouteNotFound = &AppError{
		Code:       "ROUTE_NOT_FOUND",
		Message:    "The requested route does not exist.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrMethodNotAllowed = &AppError{
		Code:       "METHOD_NOT_ALLOWED",
		Message:    "The HTTP method is not allowed for this resource.",
		HTTPStatus: http.StatusMethodNotAllowed,
	}

	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "The resource already exists.",
		HTTPStatus: http.StatusConflict,
	}

	ErrNotRunning = &AppError{
		Code:       "NOT_RUNNING",
		Message:    "The server exists but is not running.",
		HTTPStatus: http.StatusFailedDependency,
	}
)

// ─── 429 ───

var (
	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests. Try again later.",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrTooManyPending = &AppError{
		Code:       "TOO_MANY_PENDING",
		Message:    "Too many servers are starting right now. Try again later.",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrActiveLimit = &AppError{
		Code:       "ACTIVE_SERVER_LIMIT",
		Message:    "The active server limit has been reached. Try again later.",
		HTTPStatus: http.StatusTooManyRequests,
	}
)

// ─── 5xx ───

var (
	ErrInternalServerError = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error.",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrSpawnFailed = &AppError{
		Code:       "SPAWN_FAILED",
		Message:    "The server failed to start.",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrSpawnTimeout = &AppError{
		Code:       "SPAWN_TIMEOUT",
		Message:    "The server did not start in time. Try again.",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrSpawnsDisabled = &AppError{
		Code:       "SPAWNS_DISABLED",
		Message:    "Server spawning is disabled after repeated failures. Contact an administrator.",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	ErrServiceUnavailable = &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "The hub is not ready yet.",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	ErrProxyUnavailable = &AppError{
		Code:       "PROXY_UNAVAILABLE",
		Message:    "The proxy is not reachable. Try again later.",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)
