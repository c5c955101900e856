package hub

import (
	"context"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
	tok "github.com/dropDatabas3/spawnhub/internal/security/token"
	"github.com/dropDatabas3/spawnhub/internal/spawner"
	"github.com/dropDatabas3/spawnhub/internal/tokens"
)

// serverCredentials emite el token de cada server y registra su cliente
// OAuth. Implementa spawner.Credentials.
type serverCredentials struct {
	hc *Context
}

// OAuthClientID es el client id del server (user, name).
func OAuthClientID(user, name string) string {
	id := "spawnhub-user-" + user
	if name != "" {
		id += "-" + name
	}
	return id
}

func (c *serverCredentials) Issue(ctx context.Context, srv *repository.Server) (*spawner.Credential, error) {
	owner := scopes.UserPrincipal(srv.User)
	owner.Server = srv.Key()

	issued, err := c.hc.Tokens.Issue(ctx, tokens.IssueRequest{
		Owner:   owner,
		Roles:   []string{scopes.RoleServer},
		Note:    "server at " + c.hc.Spawner.Prefix(srv.User, srv.Name),
		Trusted: true,
	})
	if err != nil {
		return nil, err
	}

	clientID := OAuthClientID(srv.User, srv.Name)
	prefix := c.hc.Spawner.Prefix(srv.User, srv.Name)
	client := &repository.OAuthClient{
		ClientID:      clientID,
		RedirectURI:   c.hc.Config.Server.PublicURL + prefix + "/oauth_callback",
		Description:   "Server at " + prefix,
		AllowedScopes: []string{"access:servers!server=" + srv.Key()},
		OwnerUser:     srv.User,
	}
	// el token del server es también el secreto de su cliente OAuth
	if err := c.hc.OAuth.RegisterClient(ctx, client, issued.Secret); err != nil {
		_ = c.hc.Tokens.Revoke(ctx, issued.Token.ID)
		return nil, err
	}
	return &spawner.Credential{Token: issued.Secret, TokenID: issued.Token.ID, ClientID: clientID}, nil
}

func (c *serverCredentials) Revoke(ctx context.Context, srv *repository.Server) error {
	if srv.TokenID == "" {
		return nil
	}
	err := c.hc.Tokens.Revoke(ctx, srv.TokenID)
	if repository.IsNotFound(err) {
		return nil
	}
	if err == nil {
		logger.From(ctx).Debug("server token revoked", logger.ServerKey(srv.Key()), logger.TokenID(srv.TokenID))
	}
	return err
}

func randomSecret() (string, error) {
	return tok.NewSecret()
}
