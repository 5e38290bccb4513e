package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/infrastructure/memory"
)

func TestLoginIssuesVerifiableToken(t *testing.T) {
	svc := NewService(memory.New(), "test-secret", time.Hour, nil)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, NewUserRequest{Username: "pharm1", Password: "s3cret-pass", Name: "Priya", Role: "pharmacist"})
	require.NoError(t, err)
	assert.Equal(t, domain.RolePharmacist, u.Role)
	assert.NotEqual(t, "s3cret-pass", u.PasswordHash)

	token, got, err := svc.Login(ctx, "PHARM1", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	actor, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{UserID: u.ID, Name: "Priya", Role: domain.RolePharmacist}, actor)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := NewService(memory.New(), "test-secret", time.Hour, nil)
	ctx := context.Background()
	_, err := svc.CreateUser(ctx, NewUserRequest{Username: "doc", Password: "password1", Role: "DOCTOR"})
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "doc", "wrong-password")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, _, err = svc.Login(ctx, "nobody", "password1")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	svc := NewService(memory.New(), "test-secret", time.Minute, nil)
	u := &domain.User{ID: "u1", Username: "a", Name: "A", Role: domain.RoleAdmin}

	token, err := svc.Issue(u)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	other := NewService(memory.New(), "another-secret", time.Hour, nil)
	foreign, err := other.Issue(u)
	require.NoError(t, err)
	svc.now = time.Now
	_, err = svc.Verify(foreign)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1", Role: domain.RoleAdmin})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Verify(unsigned)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCreateUserValidation(t *testing.T) {
	svc := NewService(memory.New(), "s", time.Hour, nil)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, NewUserRequest{Username: "x", Password: "short", Role: "ADMIN"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateUser(ctx, NewUserRequest{Username: "x", Password: "long-enough", Role: "NURSE"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateUser(ctx, NewUserRequest{Username: "x", Password: "long-enough", Role: "ADMIN"})
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, NewUserRequest{Username: "X", Password: "long-enough", Role: "ADMIN"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	svc := NewService(memory.New(), "s", time.Hour, nil)
	ctx := context.Background()

	created, err := svc.EnsureBootstrapAdmin(ctx, "")
	require.NoError(t, err)
	assert.False(t, created)

	created, err = svc.EnsureBootstrapAdmin(ctx, "change-me-now")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.EnsureBootstrapAdmin(ctx, "change-me-now")
	require.NoError(t, err)
	assert.False(t, created)

	_, u, err := svc.Login(ctx, "admin", "change-me-now")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, u.Role)
}
