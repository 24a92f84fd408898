package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-id/halcyon-id/internal/accounts"
	"github.com/halcyon-id/halcyon-id/internal/roles"
	"github.com/halcyon-id/halcyon-id/internal/shared"
)

func newIssuer(t *testing.T) (*RedisIssuer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisIssuer(client, time.Hour), mr
}

func activeUser() *accounts.UserRecord {
	return &accounts.UserRecord{
		ID:        7,
		LoginName: "alice",
		Email:     "alice@example.com",
		Roles:     roles.NewSet(roles.Active),
		Enabled:   true,
	}
}

func TestEstablishAndResolve(t *testing.T) {
	issuer, _ := newIssuer(t)
	ctx := context.Background()

	token, err := issuer.Establish(ctx, activeUser())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	principal, err := issuer.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), principal.AccountID)
	assert.Equal(t, "alice", principal.LoginName)
	assert.True(t, principal.FullyAuthenticated)
}

func TestEstablishRefusesDisabledAccount(t *testing.T) {
	issuer, _ := newIssuer(t)

	user := activeUser()
	user.Enabled = false

	_, err := issuer.Establish(context.Background(), user)
	require.ErrorIs(t, err, shared.ErrAccountDisabled)
}

func TestResolveUnknownToken(t *testing.T) {
	issuer, _ := newIssuer(t)
	_, err := issuer.Resolve(context.Background(), "no-such-token")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRevoke(t *testing.T) {
	issuer, _ := newIssuer(t)
	ctx := context.Background()

	token, err := issuer.Establish(ctx, activeUser())
	require.NoError(t, err)
	require.NoError(t, issuer.Revoke(ctx, token))

	_, err = issuer.Resolve(ctx, token)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSessionExpiry(t *testing.T) {
	issuer, mr := newIssuer(t)
	ctx := context.Background()

	token, err := issuer.Establish(ctx, activeUser())
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	_, err = issuer.Resolve(ctx, token)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
