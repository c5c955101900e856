package hub

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/spawnhub/internal/audit"
	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
	"github.com/dropDatabas3/spawnhub/internal/tokens"
)

// TokenRequest es el body de POST /users/{name}/tokens.
type TokenRequest struct {
	Scopes    []string
	Roles     []string
	ExpiresIn time.Duration
	Note      string
}

// IssueToken emite un token para owner. Los scopes pedidos tienen que estar
// cubiertos por los permisos actuales del dueño.
func (h *Hub) IssueToken(ctx context.Context, owner scopes.Principal, req TokenRequest) (*tokens.Issued, error) {
	if req.ExpiresIn < 0 {
		return nil, invalid("expires_in must be positive")
	}
	issued, err := h.hc.Tokens.Issue(ctx, tokens.IssueRequest{
		Owner:     owner,
		Scopes:    req.Scopes,
		Roles:     req.Roles,
		ExpiresIn: req.ExpiresIn,
		Note:      req.Note,
	})
	switch {
	case err == nil:
	case errors.Is(err, tokens.ErrOwnerNotFound):
		return nil, ErrNotFound
	case errors.Is(err, tokens.ErrInvalidScope), errors.Is(err, tokens.ErrRoleNotFound):
		return nil, invalid("%v", err)
	default:
		return nil, err
	}
	audit.Log(ctx, audit.TokenIssued, logger.String("owner", owner.Name), logger.TokenID(issued.Token.ID))
	return issued, nil
}

// ListTokens lista los tokens del dueño.
func (h *Hub) ListTokens(ctx context.Context, owner scopes.Principal) ([]repository.APIToken, error) {
	if err := h.ownerExists(ctx, owner); err != nil {
		return nil, err
	}
	return h.hc.Tokens.List(ctx, owner)
}

// GetToken retorna un token si pertenece a owner; si no, ErrNotFound.
func (h *Hub) GetToken(ctx context.Context, owner scopes.Principal, id string) (*repository.APIToken, error) {
	t, err := h.hc.Tokens.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OwnerKind != owner.Kind || t.Owner != owner.Name {
		return nil, ErrNotFound
	}
	return t, nil
}

// RevokeToken revoca un token de owner.
func (h *Hub) RevokeToken(ctx context.Context, owner scopes.Principal, id string) error {
	if _, err := h.GetToken(ctx, owner, id); err != nil {
		return err
	}
	if err := h.hc.Tokens.Revoke(ctx, id); err != nil {
		return err
	}
	audit.Log(ctx, audit.TokenRevoked, logger.String("owner", owner.Name), logger.TokenID(id))
	return nil
}

func (h *Hub) ownerExists(ctx context.Context, owner scopes.Principal) error {
	var err error
	switch owner.Kind {
	case repository.OwnerService:
		_, err = h.hc.Store.Services().Get(ctx, owner.Name)
	default:
		_, err = h.hc.Store.Users().Get(ctx, owner.Name)
	}
	return err
}
