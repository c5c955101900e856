package middlewares

import (
	"net/http"

	httperrors "github.com/dropDatabas3/spawnhub/internal/http/errors"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
)

// WithReadiness responde 503 mientras ready() sea false. El hub no atiende
// requests de usuarios hasta que el proxy respondió al menos una vez.
// ready nil deja pasar todo.
func WithReadiness(ready func() bool) Middleware {
	return func(next http.Handler) http.Handler {
		if ready == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ready() {
				logger.From(r.Context()).Debug("request rejected, proxy not ready yet")
				w.Header().Set("Retry-After", "5")
				httperrors.WriteError(w, httperrors.ErrServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
