// Package proxy mantiene la tabla de rutas de un proxy externo sincronizada
// con los servers que el hub tiene corriendo.
package proxy

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// Route es una entrada de la tabla del proxy.
type Route struct {
	Prefix string         `json:"routespec"`
	Target string         `json:"target"`
	Data   map[string]any `json:"data,omitempty"`
}

// Claves de Data que el hub escribe en sus rutas.
const (
	DataHub    = "hub"    // true en toda ruta administrada por el hub
	DataUser   = "user"   // dueño del server
	DataServer = "server" // nombre del server
)

// Managed indica si la ruta la registró el hub.
func (r Route) Managed() bool {
	v, _ := r.Data[DataHub].(bool)
	return v
}

// Backend es el contrato con el proxy externo.
type Backend interface {
	// AddRoute crea o sobrescribe la ruta prefix -> target.
	AddRoute(ctx context.Context, prefix, target string, data map[string]any) error

	// DeleteRoute elimina la ruta. Borrar una ruta inexistente no es error.
	DeleteRoute(ctx context.Context, prefix string) error

	// GetRoutes lista la tabla completa, indexada por prefix.
	GetRoutes(ctx context.Context) (map[string]Route, error)
}

var (
	// ErrUnavailable el proxy no respondió (conexión rechazada, timeout, 5xx).
	// Es el único error que se reintenta.
	ErrUnavailable = errors.New("proxy unavailable")

	// ErrRejected el proxy respondió con un error no reintentable.
	ErrRejected = errors.New("proxy rejected request")
)

// RoutePrefix arma el prefix de un server: <base>user/<name>[/<server>].
func RoutePrefix(baseURL, user, server string) string {
	base := "/" + strings.Trim(baseURL, "/")
	if base != "/" {
		base += "/"
	}
	p := base + "user/" + url.PathEscape(user)
	if server != "" {
		p += "/" + url.PathEscape(server)
	}
	return p
}

// HubPrefix es el prefix de la ruta por defecto que apunta al hub.
func HubPrefix(baseURL string) string {
	base := "/" + strings.Trim(baseURL, "/")
	if base == "/" {
		return base
	}
	return base + "/"
}
