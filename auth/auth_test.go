package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyon/billing-engine/auth"
	"github.com/studyon/billing-engine/billing"
	"github.com/studyon/billing-engine/billing/store"
)

func newTestService(t *testing.T) (*auth.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := auth.NewService(mem, "test-secret", time.Hour, 24*time.Hour)
	return svc, mem
}

func TestRegister_CreatesAccountAndIssuesTokens(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	account, pair, err := svc.Register(ctx, "u@example.com", "password")
	require.NoError(t, err)
	assert.Equal(t, []string{billing.RoleUser}, account.Roles)
	assert.True(t, account.Balance.IsZero())
	assert.NotEmpty(t, pair.Token)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, "password", account.PasswordHash, "password must be hashed")

	stored, err := mem.AccountByEmail(ctx, "u@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, stored.ID)
}

func TestRegister_DuplicateEmail_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "u@example.com", "password")
	require.NoError(t, err)

	_, _, err = svc.Register(ctx, "u@example.com", "other")
	assert.ErrorIs(t, err, billing.ErrEmailTaken)
}

func TestLogin_CorrectAndWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "u@example.com", "password")
	require.NoError(t, err)

	_, pair, err := svc.Login(ctx, "u@example.com", "password")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.Token)

	_, _, err = svc.Login(ctx, "u@example.com", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, "nobody@example.com", "password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestAuthenticate_RoundTripsIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	account, pair, err := svc.Register(ctx, "u@example.com", "password")
	require.NoError(t, err)

	identity, err := svc.Authenticate(pair.Token)
	require.NoError(t, err)
	assert.Equal(t, account.ID, identity.UserID)
	assert.Equal(t, "u@example.com", identity.Email)
	assert.True(t, identity.HasRole(billing.RoleUser))
	assert.False(t, identity.HasRole(billing.RoleSuperAdmin))
}

func TestAuthenticate_RejectsGarbageAndRefreshTokens(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, pair, err := svc.Register(ctx, "u@example.com", "password")
	require.NoError(t, err)

	_, err = svc.Authenticate("not-a-token")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	// A refresh token must not pass as an access token.
	_, err = svc.Authenticate(pair.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestAuthenticate_RejectsTokenSignedWithOtherSecret(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	other := auth.NewService(mem, "other-secret", time.Hour, 24*time.Hour)
	_, pair, err := other.Register(ctx, "u@example.com", "password")
	require.NoError(t, err)

	_, err = svc.Authenticate(pair.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestRefresh_IssuesNewPair(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	account, pair, err := svc.Register(ctx, "u@example.com", "password")
	require.NoError(t, err)

	fresh, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	identity, err := svc.Authenticate(fresh.Token)
	require.NoError(t, err)
	assert.Equal(t, account.ID, identity.UserID)
}

func TestRefresh_AccessTokenRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, pair, err := svc.Register(ctx, "u@example.com", "password")
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, pair.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}
