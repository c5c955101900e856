package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/spawnhub/internal/security/password"
)

func TestDummy(t *testing.T) {
	ctx := context.Background()

	res, err := (&Dummy{}).Authenticate(ctx, Credentials{Username: "  Alice "})
	require.NoError(t, err)
	require.Equal(t, "alice", res.Name)

	_, err = (&Dummy{}).Authenticate(ctx, Credentials{Username: "bad/name"})
	require.ErrorIs(t, err, ErrRejected)

	d := &Dummy{Password: "s3cret"}
	_, err = d.Authenticate(ctx, Credentials{Username: "bob", Password: "nope"})
	require.ErrorIs(t, err, ErrRejected)
	_, err = d.Authenticate(ctx, Credentials{Username: "bob", Password: "s3cret"})
	require.NoError(t, err)
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	hash, err := password.Hash(password.Fast, "hunter2")
	require.NoError(t, err)

	s := &Static{Users: map[string]StaticUser{
		"carol": {PasswordHash: hash, Groups: []string{"research"}, Admin: true},
	}}

	res, err := s.Authenticate(ctx, Credentials{Username: "Carol", Password: "hunter2"})
	require.NoError(t, err)
	require.Equal(t, "carol", res.Name)
	require.Equal(t, []string{"research"}, res.Groups)
	require.True(t, *res.Admin)

	_, err = s.Authenticate(ctx, Credentials{Username: "carol", Password: "wrong"})
	require.ErrorIs(t, err, ErrRejected)
	_, err = s.Authenticate(ctx, Credentials{Username: "dave", Password: "hunter2"})
	require.ErrorIs(t, err, ErrRejected)
}
