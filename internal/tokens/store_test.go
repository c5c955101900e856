package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
	"github.com/dropDatabas3/spawnhub/internal/store/adapters/memory"
)

func newTestStore(t *testing.T) (*Store, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	for _, d := range scopes.DefaultRoles() {
		require.NoError(t, st.Roles().Upsert(ctx, &repository.Role{Name: d.Name, Description: d.Description, Scopes: d.Scopes}))
	}
	for _, name := range []string{"alice", "bob"} {
		require.NoError(t, st.Users().Create(ctx, &repository.User{Name: name}))
		require.NoError(t, st.Roles().SetAssignments(ctx, repository.EntityUser, name, []string{scopes.RoleUser}))
	}
	perms := NewPermissions(st, scopes.NewResolver(scopes.Options{SelfAccess: true}), time.Minute)
	return New(st, perms), st
}

func TestIssueValidate_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, st := newTestStore(t)
	alice := scopes.UserPrincipal("alice")

	issued, err := s.Issue(ctx, IssueRequest{Owner: alice, Scopes: []string{"servers!user"}, Note: "test"})
	require.NoError(t, err)
	require.NotEmpty(t, issued.Secret)
	require.NotEqual(t, issued.Secret, issued.Token.TokenHash)
	require.Equal(t, issued.Secret[:4], issued.Token.Prefix)
	require.Contains(t, issued.Token.Scopes, "delete:servers!user=alice")

	v, err := s.Validate(ctx, issued.Secret)
	require.NoError(t, err)
	require.Equal(t, alice, v.Principal)

	current, err := s.Permissions().Current(ctx, alice)
	require.NoError(t, err)
	want := scopes.Intersect(scopes.FromStrings(issued.Token.Scopes), current, nil)
	require.Equal(t, want.Strings(), v.Effective.Strings())

	// el secreto no está en el store, solo su hash
	stored, err := st.Tokens().GetByID(ctx, issued.Token.ID)
	require.NoError(t, err)
	require.NotEqual(t, issued.Secret, stored.TokenHash)
}

func TestIssue_DefaultInheritsOwner(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	issued, err := s.Issue(ctx, IssueRequest{Owner: scopes.UserPrincipal("bob")})
	require.NoError(t, err)
	require.Contains(t, issued.Token.Scopes, "servers!user=bob")
	require.Contains(t, issued.Token.Scopes, "access:servers!user=bob")
}

func TestIssue_RejectsScopesNotHeld(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Issue(ctx, IssueRequest{Owner: scopes.UserPrincipal("alice"), Scopes: []string{"admin:users"}})
	var notHeld *ScopesNotHeldError
	require.True(t, errors.As(err, &notHeld))
	require.Contains(t, notHeld.Missing, "admin:users")

	_, err = s.Issue(ctx, IssueRequest{Owner: scopes.UserPrincipal("alice"), Scopes: []string{"servers!user=bob"}})
	require.True(t, errors.As(err, &notHeld))

	_, err = s.Issue(ctx, IssueRequest{Owner: scopes.UserPrincipal("alice"), Scopes: []string{"bogus"}})
	require.ErrorIs(t, err, ErrInvalidScope)

	_, err = s.Issue(ctx, IssueRequest{Owner: scopes.UserPrincipal("alice"), Roles: []string{"nope"}})
	require.ErrorIs(t, err, ErrRoleNotFound)

	_, err = s.Issue(ctx, IssueRequest{Owner: scopes.UserPrincipal("ghost")})
	require.ErrorIs(t, err, ErrOwnerNotFound)
}

func TestValidate_Expired(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	issued, err := s.Issue(ctx, IssueRequest{Owner: scopes.UserPrincipal("alice"), ExpiresIn: time.Hour})
	require.NoError(t, err)

	_, err = s.Validate(ctx, issued.Secret)
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = s.Validate(ctx, issued.Secret)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_OwnerDeleted(t *testing.T) {
	ctx := context.Background()
	s, st := newTestStore(t)

	issued, err := s.Issue(ctx, IssueRequest{Owner: scopes.UserPrincipal("bob")})
	require.NoError(t, err)

	require.NoError(t, st.Users().Delete(ctx, "bob"))
	s.Permissions().Invalidate(scopes.UserPrincipal("bob"))

	_, err = s.Validate(ctx, issued.Secret)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Validate(ctx, "not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_IntersectsAfterRoleRevoked(t *testing.T) {
	ctx := context.Background()
	s, st := newTestStore(t)
	alice := scopes.UserPrincipal("alice")

	require.NoError(t, st.Roles().SetAssignments(ctx, repository.EntityUser, "alice", []string{scopes.RoleUser, scopes.RoleAdmin}))
	s.Permissions().Invalidate(alice)

	issued, err := s.Issue(ctx, IssueRequest{Owner: alice, Scopes: []string{"admin:users"}})
	require.NoError(t, err)

	v, err := s.Validate(ctx, issued.Secret)
	require.NoError(t, err)
	require.True(t, scopes.Allows(v.Effective, "delete:servers", scopes.ServerResource("bob", ""), nil))

	// se revoca admin: el token conserva sus scopes pero el efectivo se achica
	require.NoError(t, st.Roles().SetAssignments(ctx, repository.EntityUser, "alice", []string{scopes.RoleUser}))
	s.Permissions().Invalidate(alice)

	v, err = s.Validate(ctx, issued.Secret)
	require.NoError(t, err)
	require.Contains(t, v.Token.Scopes, "admin:users")
	require.False(t, scopes.Allows(v.Effective, "delete:servers", scopes.ServerResource("bob", ""), nil))
	require.True(t, scopes.Allows(v.Effective, "delete:servers", scopes.ServerResource("alice", ""), nil))
}

func TestRevokeSession(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	alice := scopes.UserPrincipal("alice")

	a, err := s.Issue(ctx, IssueRequest{Owner: alice, SessionID: "sess-1"})
	require.NoError(t, err)
	b, err := s.Issue(ctx, IssueRequest{Owner: alice, SessionID: "sess-1"})
	require.NoError(t, err)
	c, err := s.Issue(ctx, IssueRequest{Owner: alice, SessionID: "sess-2"})
	require.NoError(t, err)

	n, err := s.RevokeSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, secret := range []string{a.Secret, b.Secret} {
		_, err := s.Validate(ctx, secret)
		require.ErrorIs(t, err, ErrInvalidToken)
	}
	_, err = s.Validate(ctx, c.Secret)
	require.NoError(t, err)
}

func TestIssue_ProvidedSecret(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	alice := scopes.UserPrincipal("alice")

	_, err := s.Issue(ctx, IssueRequest{Owner: alice, Secret: "short"})
	require.ErrorIs(t, err, ErrWeakSecret)

	secret := "0123456789abcdef0123456789abcdef-svc"
	issued, err := s.Issue(ctx, IssueRequest{Owner: alice, Secret: secret})
	require.NoError(t, err)
	require.Equal(t, secret, issued.Secret)

	v, err := s.Validate(ctx, secret)
	require.NoError(t, err)
	require.Equal(t, issued.Token.ID, v.Token.ID)
}

func TestValidate_InheritIsFixedAtIssuance(t *testing.T) {
	ctx := context.Background()
	s, st := newTestStore(t)
	bob := scopes.UserPrincipal("bob")

	issued, err := s.Issue(ctx, IssueRequest{Owner: bob})
	require.NoError(t, err)
	require.NotContains(t, issued.Token.Scopes, scopes.MetaInherit)
	require.Contains(t, issued.Token.Scopes, "servers!user=bob")

	v, err := s.Validate(ctx, issued.Secret)
	require.NoError(t, err)
	require.False(t, v.Effective.HasUnfiltered("admin:users"))

	// bob pasa a admin: el token emitido antes no se amplía
	require.NoError(t, st.Roles().SetAssignments(ctx, repository.EntityUser, "bob", []string{scopes.RoleUser, scopes.RoleAdmin}))
	s.Permissions().Invalidate(bob)

	v, err = s.Validate(ctx, issued.Secret)
	require.NoError(t, err)
	require.False(t, v.Effective.HasUnfiltered("admin:users"))
	require.True(t, scopes.Allows(v.Effective, "servers", scopes.ServerResource("bob", ""), nil))

	// uno nuevo sí lo ve
	fresh, err := s.Issue(ctx, IssueRequest{Owner: bob})
	require.NoError(t, err)
	v, err = s.Validate(ctx, fresh.Secret)
	require.NoError(t, err)
	require.True(t, v.Effective.HasUnfiltered("admin:users"))

	// y al perder roles ambos se achican
	require.NoError(t, st.Roles().SetAssignments(ctx, repository.EntityUser, "bob", nil))
	s.Permissions().Invalidate(bob)

	for _, secret := range []string{issued.Secret, fresh.Secret} {
		v, err = s.Validate(ctx, secret)
		require.NoError(t, err)
		require.False(t, scopes.Allows(v.Effective, "servers", scopes.ServerResource("bob", ""), nil))
	}
}
