// Package audit emite eventos de seguridad (logins, tokens, borrados,
// shutdown) como líneas estructuradas en el logger "audit".
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
)

// Eventos auditados.
const (
	LoginSucceeded    = "login.succeeded"
	LoginRejected     = "login.rejected"
	LoginRateLimited  = "login.rate_limited"
	SessionRevoked    = "session.revoked"
	TokenIssued       = "token.issued"
	TokenRevoked      = "token.revoked"
	UserDeleted       = "user.deleted"
	UserAdminChanged  = "user.admin_changed"
	ShutdownRequested = "hub.shutdown_requested"
)

// Log escribe un evento de auditoría con el logger del request (request_id,
// username) más los campos dados.
func Log(ctx context.Context, event string, fields ...zap.Field) {
	logger.From(ctx).Named("audit").Info(event, append(fields, logger.String("event", event))...)
}
