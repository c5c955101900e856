package scopes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
)

func TestParse(t *testing.T) {
	sc, err := Parse("servers!user=alice")
	require.NoError(t, err)
	require.Equal(t, Scope{Name: "servers", Filter: Filter{Kind: FilterUser, Value: "alice"}}, sc)
	require.Equal(t, "servers!user=alice", sc.String())

	sc, err = Parse("access:servers!server=alice/research")
	require.NoError(t, err)
	require.Equal(t, FilterServer, sc.Filter.Kind)

	sc, err = Parse("servers!user")
	require.NoError(t, err)
	require.False(t, sc.Filter.Bound())

	sc, err = Parse("custom:reports:read")
	require.NoError(t, err)
	require.Equal(t, "custom:reports:read", sc.Name)

	for _, bad := range []string{"nope", "servers!planet=x", "servers!server=alice", "self!user", "users!user=a/b"} {
		_, err := Parse(bad)
		require.Error(t, err, bad)
	}
}

func TestExpandInheritsFilter(t *testing.T) {
	set := Expand(MustParse("servers!user=alice"))
	require.True(t, set.Has(MustParse("delete:servers!user=alice")))
	require.True(t, set.Has(MustParse("read:servers!user=alice")))
	require.True(t, set.Has(MustParse("read:users:name!user=alice")))
	require.False(t, set.HasUnfiltered("delete:servers"))
}

func TestResolveBindsSelf(t *testing.T) {
	r := NewResolver(Options{SelfAccess: true})
	roles := []repository.Role{{Name: RoleUser, Scopes: []string{MetaSelf}}}

	alice, err := r.Resolve(roles, UserPrincipal("alice"))
	require.NoError(t, err)
	require.True(t, alice.Has(MustParse("servers!user=alice")))
	require.True(t, alice.Has(MustParse("access:servers!user=alice")))
	require.False(t, alice.HasUnfiltered("servers"))

	// Mismo role-set, otro principal: la expansión memorizada no se filtra.
	bob, err := r.Resolve(roles, UserPrincipal("bob"))
	require.NoError(t, err)
	require.True(t, bob.Has(MustParse("servers!user=bob")))
	require.False(t, bob.Has(MustParse("servers!user=alice")))
}

func TestResolveSelfAccessDisabled(t *testing.T) {
	r := NewResolver(Options{SelfAccess: false})
	set, err := r.Resolve([]repository.Role{{Name: RoleUser, Scopes: []string{MetaSelf}}}, UserPrincipal("alice"))
	require.NoError(t, err)
	require.True(t, set.Has(MustParse("read:users:name!user=alice")))
	require.False(t, Allows(set, "delete:servers", ServerResource("alice", ""), nil))
}

func TestResolveServerRole(t *testing.T) {
	r := NewResolver(Options{SelfAccess: true})
	roles := []repository.Role{{Name: RoleServer, Scopes: []string{"users:activity!user", "access:servers!server"}}}

	set, err := r.Resolve(roles, Principal{Kind: repository.OwnerUser, Name: "alice", Server: "alice/research"})
	require.NoError(t, err)
	require.True(t, set.Has(MustParse("access:servers!server=alice/research")))
	require.True(t, set.Has(MustParse("users:activity!user=alice")))

	// sin server no hay a qué ligar !server
	set, err = r.Resolve(roles, UserPrincipal("alice"))
	require.NoError(t, err)
	require.False(t, Allows(set, "access:servers", ServerResource("alice", "research"), nil))
}

func TestResolveAdminIsUnfiltered(t *testing.T) {
	r := NewResolver(Options{SelfAccess: true})
	var admin DefaultRole
	for _, d := range DefaultRoles() {
		if d.Name == RoleAdmin {
			admin = d
		}
	}
	set, err := r.Resolve([]repository.Role{{Name: admin.Name, Scopes: admin.Scopes}}, UserPrincipal("root"))
	require.NoError(t, err)
	require.True(t, set.HasUnfiltered("delete:servers"))
	require.True(t, set.HasUnfiltered("admin:auth_state"))
	require.True(t, Allows(set, "delete:servers", ServerResource("bob", ""), nil))
}

func TestResolveRequestedInherit(t *testing.T) {
	r := NewResolver(Options{SelfAccess: true})
	owner := NewSet(MustParse("servers!user=alice"), MustParse("read:users!user=alice"))

	got, err := r.ResolveRequested([]string{MetaInherit}, UserPrincipal("alice"), owner)
	require.NoError(t, err)
	require.Equal(t, owner.Strings(), got.Strings())
}

func TestIntersectFilters(t *testing.T) {
	token := NewSet(MustParse("servers"), MustParse("read:users!user=alice"), MustParse("tokens"))
	owner := NewSet(MustParse("servers!user=alice"), MustParse("read:users!user=alice"))

	got := Intersect(token, owner, nil)
	require.Equal(t, []string{"read:users!user=alice", "servers!user=alice"}, got.Strings())

	// user ∩ server del mismo usuario = server
	got = Intersect(NewSet(MustParse("access:servers!user=alice")), NewSet(MustParse("access:servers!server=alice/x")), nil)
	require.Equal(t, []string{"access:servers!server=alice/x"}, got.Strings())

	// user de otro usuario no intersecta
	got = Intersect(NewSet(MustParse("access:servers!user=bob")), NewSet(MustParse("access:servers!server=alice/x")), nil)
	require.Empty(t, got)

	// group ∩ user depende de la membresía
	memberOf := func(user, group string) bool { return user == "alice" && group == "physics" }
	got = Intersect(NewSet(MustParse("servers!group=physics")), NewSet(MustParse("servers!user=alice"), MustParse("servers!user=bob")), memberOf)
	require.Equal(t, []string{"servers!user=alice"}, got.Strings())
}

func TestAllows(t *testing.T) {
	set := NewSet(MustParse("delete:servers!user=alice"), MustParse("read:groups!group=physics"), MustParse("read:hub"))

	require.True(t, Allows(set, "delete:servers", ServerResource("alice", "research"), nil))
	require.False(t, Allows(set, "delete:servers", ServerResource("bob", ""), nil))
	require.True(t, Allows(set, "read:groups", GroupResource("physics"), nil))
	require.False(t, Allows(set, "read:groups", GroupResource("chemistry"), nil))
	require.True(t, Allows(set, "read:hub", Resource{}, nil))

	// un scope filtrado nunca concede un recurso global
	require.False(t, Allows(NewSet(MustParse("proxy!user=alice")), "proxy", Resource{}, nil))

	memberOf := func(user, group string) bool { return user == "carol" && group == "physics" }
	require.True(t, Allows(NewSet(MustParse("servers!group=physics")), "servers", ServerResource("carol", ""), memberOf))
}

func TestCoversAndMissing(t *testing.T) {
	available := NewSet(MustParse("servers!user=alice"), MustParse("read:hub"))

	require.True(t, Covers(available, MustParse("servers!server=alice/x"), nil))
	require.True(t, Covers(available, MustParse("read:hub"), nil))
	require.False(t, Covers(available, MustParse("servers"), nil))
	require.False(t, Covers(available, MustParse("servers!user=bob"), nil))

	missing := Missing(NewSet(MustParse("servers!user=alice"), MustParse("servers"), MustParse("proxy")), available, nil)
	require.Equal(t, []string{"proxy", "servers"}, missing)
}
