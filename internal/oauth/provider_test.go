package oauth

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/spawnhub/internal/cache"
	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
	"github.com/dropDatabas3/spawnhub/internal/store/adapters/memory"
	"github.com/dropDatabas3/spawnhub/internal/tokens"
)

type fixture struct {
	p      *Provider
	tokens *tokens.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	for _, d := range scopes.DefaultRoles() {
		require.NoError(t, st.Roles().Upsert(ctx, &repository.Role{Name: d.Name, Scopes: d.Scopes}))
	}
	for _, u := range []string{"alice", "bob"} {
		require.NoError(t, st.Users().Create(ctx, &repository.User{Name: u}))
		require.NoError(t, st.Roles().SetAssignments(ctx, repository.EntityUser, u, []string{scopes.RoleUser}))
	}
	perms := tokens.NewPermissions(st, scopes.NewResolver(scopes.Options{SelfAccess: true}), time.Minute)
	ts := tokens.New(st, perms)
	p := New(Deps{
		Clients:    st.OAuthClients(),
		Tokens:     ts,
		Cache:      cache.NewMemory("test"),
		SigningKey: []byte("0123456789abcdef0123456789abcdef"),
	})

	require.NoError(t, p.RegisterClient(ctx, &repository.OAuthClient{
		ClientID:      "spawnhub-user-alice",
		RedirectURI:   "http://hub/user/alice/oauth_callback",
		AllowedScopes: []string{"access:servers!server=alice/"},
		OwnerUser:     "alice",
	}, "alice-secret"))
	require.NoError(t, p.RegisterClient(ctx, &repository.OAuthClient{
		ClientID:      "service-grader",
		RedirectURI:   "http://grader/callback",
		AllowedScopes: []string{"read:users:name!user"},
	}, "grader-secret"))
	return &fixture{p: p, tokens: ts}
}

func codeFrom(t *testing.T, redirect string) (code, state string) {
	t.Helper()
	u, err := url.Parse(redirect)
	require.NoError(t, err)
	return u.Query().Get("code"), u.Query().Get("state")
}

func TestAuthorize_OwnServerNoConfirm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.p.Authorize(ctx, "alice", AuthorizeRequest{ResponseType: "code", ClientID: "spawnhub-user-alice", State: "xyz"})
	require.NoError(t, err)
	require.False(t, res.NeedsConfirm)
	require.Equal(t, []string{"access:servers!server=alice/"}, res.Scopes)

	code, state := codeFrom(t, res.RedirectURL)
	require.NotEmpty(t, code)
	require.Equal(t, "xyz", state)

	tr, err := f.p.Exchange(ctx, ExchangeRequest{
		GrantType: "authorization_code", Code: code,
		ClientID: "spawnhub-user-alice", ClientSecret: "alice-secret",
		RedirectURI: "http://hub/user/alice/oauth_callback",
	})
	require.NoError(t, err)
	require.Equal(t, "Bearer", tr.TokenType)
	require.Equal(t, "access:servers!server=alice/", tr.Scope)

	v, err := f.tokens.Validate(ctx, tr.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "alice", v.Principal.Name)
	require.True(t, scopes.Allows(v.Effective, "access:servers", scopes.ServerResource("alice", ""), nil))

	// el código es de un solo uso
	_, err = f.p.Exchange(ctx, ExchangeRequest{
		GrantType: "authorization_code", Code: code,
		ClientID: "spawnhub-user-alice", ClientSecret: "alice-secret",
	})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestAuthorize_OtherUsersServerDenied(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Authorize(context.Background(), "bob", AuthorizeRequest{ResponseType: "code", ClientID: "spawnhub-user-alice"})
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestAuthorize_ServiceNeedsConfirm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.p.Authorize(ctx, "bob", AuthorizeRequest{ResponseType: "code", ClientID: "service-grader", State: "s1"})
	require.NoError(t, err)
	require.True(t, res.NeedsConfirm)
	require.NotEmpty(t, res.Ticket)
	require.Empty(t, res.RedirectURL)

	_, err = f.p.Confirm(ctx, "alice", res.Ticket)
	require.ErrorIs(t, err, ErrInvalidTicket)
	_, err = f.p.Confirm(ctx, "bob", res.Ticket+"x")
	require.ErrorIs(t, err, ErrInvalidTicket)

	done, err := f.p.Confirm(ctx, "bob", res.Ticket)
	require.NoError(t, err)
	code, state := codeFrom(t, done.RedirectURL)
	require.Equal(t, "s1", state)

	tr, err := f.p.Exchange(ctx, ExchangeRequest{GrantType: "authorization_code", Code: code, ClientID: "service-grader", ClientSecret: "grader-secret"})
	require.NoError(t, err)
	require.Equal(t, "read:users:name!user=bob", tr.Scope)
}

func TestAuthorize_ExpiredTicket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.p.Authorize(ctx, "bob", AuthorizeRequest{ResponseType: "code", ClientID: "service-grader"})
	require.NoError(t, err)

	f.p.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = f.p.Confirm(ctx, "bob", res.Ticket)
	require.ErrorIs(t, err, ErrInvalidTicket)
}

func TestAuthorize_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.p.Authorize(ctx, "alice", AuthorizeRequest{ResponseType: "token", ClientID: "spawnhub-user-alice"})
	require.ErrorIs(t, err, ErrUnsupportedResponse)
	_, err = f.p.Authorize(ctx, "alice", AuthorizeRequest{ResponseType: "code", ClientID: "nope"})
	require.ErrorIs(t, err, ErrInvalidClient)
	_, err = f.p.Authorize(ctx, "alice", AuthorizeRequest{ResponseType: "code", ClientID: "spawnhub-user-alice", RedirectURI: "http://evil/cb"})
	require.ErrorIs(t, err, ErrInvalidRedirect)
}

func TestExchange_BadSecret(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.p.Authorize(ctx, "alice", AuthorizeRequest{ResponseType: "code", ClientID: "spawnhub-user-alice"})
	require.NoError(t, err)
	code, _ := codeFrom(t, res.RedirectURL)

	_, err = f.p.Exchange(ctx, ExchangeRequest{GrantType: "authorization_code", Code: code, ClientID: "spawnhub-user-alice", ClientSecret: "wrong"})
	require.ErrorIs(t, err, ErrInvalidClient)
	_, err = f.p.Exchange(ctx, ExchangeRequest{GrantType: "password", Code: code, ClientID: "spawnhub-user-alice", ClientSecret: "alice-secret"})
	require.ErrorIs(t, err, ErrUnsupportedGrant)
}
