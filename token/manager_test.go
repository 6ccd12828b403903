package token_test

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/token"
	"github.com/jrsteele09/storefront-auth/token/whitelist"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testFixture struct {
	manager   *token.Manager
	whitelist *whitelist.InMemory
	now       time.Time
}

func (f *testFixture) Now() time.Time {
	return f.now
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	f.whitelist = whitelist.NewInMemory(whitelist.WithNowFunc(f.Now))

	signer, err := token.NewHMACSigner(testSecret)
	require.NoError(t, err)

	f.manager, err = token.NewManager(signer, f.whitelist,
		token.WithIssuer("storefront"),
		token.WithAudience("storefront-api"),
		token.WithAccessTokenLifetime(30*time.Minute),
		token.WithNowFunc(f.Now),
	)
	require.NoError(t, err)
	return f
}

func testIdentity() token.Identity {
	return token.Identity{UserID: "user-1", Username: "alice", SecurityStamp: "stamp-1"}
}

func signWith(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return raw
}

func TestNewManagerValidation(t *testing.T) {
	signer, err := token.NewHMACSigner(testSecret)
	require.NoError(t, err)
	wl := whitelist.NewInMemory()

	_, err = token.NewHMACSigner("")
	require.Error(t, err)

	_, err = token.NewManager(signer, wl, token.WithAudience("aud"))
	require.Error(t, err, "issuer required")

	_, err = token.NewManager(signer, wl, token.WithIssuer("iss"))
	require.Error(t, err, "audience required")

	_, err = token.NewManager(nil, wl, token.WithIssuer("iss"), token.WithAudience("aud"))
	require.Error(t, err)

	_, err = token.NewManager(signer, nil, token.WithIssuer("iss"), token.WithAudience("aud"))
	require.Error(t, err)

	_, err = token.NewManager(signer, wl, token.WithIssuer("iss"), token.WithAudience("aud"))
	require.NoError(t, err)
}

func TestGenerateRefreshToken(t *testing.T) {
	f := setupTestFixture(t)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, err := f.manager.GenerateRefreshToken()
		require.NoError(t, err)

		decoded, err := base64.RawURLEncoding.DecodeString(id)
		require.NoError(t, err)
		require.Len(t, decoded, 32)

		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestGenerateAccessToken(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	refreshID, err := f.manager.GenerateRefreshToken()
	require.NoError(t, err)

	at, err := f.manager.GenerateAccessToken(ctx, refreshID, testIdentity())
	require.NoError(t, err)
	require.Equal(t, f.now.Add(30*time.Minute), at.ExpiresAt)

	t.Run("whitelist holds the issued token", func(t *testing.T) {
		entry, ok := f.whitelist.TryGet(ctx, refreshID)
		require.True(t, ok)
		require.Equal(t, at.Raw, entry.Token)
		require.Equal(t, at.ExpiresAt, entry.ExpiresAt)
	})

	t.Run("claims round trip", func(t *testing.T) {
		claims, err := f.manager.ValidateToken(at.Raw, true)
		require.NoError(t, err)
		require.Equal(t, refreshID, claims.RefreshTokenID())
		require.Equal(t, "user-1", claims.Subject)
		require.Equal(t, "alice", claims.Username)
		require.Equal(t, "stamp-1", claims.SecurityStamp)
		require.Equal(t, "storefront", claims.Issuer)
		require.Equal(t, jwt.ClaimStrings{"storefront-api"}, claims.Audience)
		require.Equal(t, at.ExpiresAt, claims.ValidTo())
	})

	t.Run("empty refresh id rejected", func(t *testing.T) {
		_, err := f.manager.GenerateAccessToken(ctx, "", testIdentity())
		require.ErrorIs(t, err, apperrors.ErrInvalidArgs)
	})
}

func TestValidateTokenLifetime(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	at, err := f.manager.GenerateAccessToken(ctx, "refresh-1", testIdentity())
	require.NoError(t, err)

	f.now = f.now.Add(31 * time.Minute)

	_, err = f.manager.ValidateToken(at.Raw, true)
	require.ErrorIs(t, err, apperrors.ErrInvalidToken)

	claims, err := f.manager.ValidateToken(at.Raw, false)
	require.NoError(t, err)
	require.Equal(t, "refresh-1", claims.ID)

	claims, err = f.manager.PrincipalFromExpiredToken(at.Raw)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Username)
}

func TestValidateTokenRejections(t *testing.T) {
	f := setupTestFixture(t)

	valid := func() *token.Claims {
		return &token.Claims{
			Username: "alice",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "storefront",
				Subject:   "user-1",
				Audience:  jwt.ClaimStrings{"storefront-api"},
				IssuedAt:  jwt.NewNumericDate(f.now),
				ExpiresAt: jwt.NewNumericDate(f.now.Add(time.Hour)),
				ID:        "refresh-1",
			},
		}
	}

	wrongIssuer := valid()
	wrongIssuer.Issuer = "someone-else"
	wrongAudience := valid()
	wrongAudience.Audience = jwt.ClaimStrings{"other-api"}

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "garbage", raw: "not.a.jwt"},
		{name: "HS384 with the same secret", raw: signWith(t, jwt.SigningMethodHS384, []byte(testSecret), valid())},
		{name: "HS512 with the same secret", raw: signWith(t, jwt.SigningMethodHS512, []byte(testSecret), valid())},
		{name: "wrong secret", raw: signWith(t, jwt.SigningMethodHS256, []byte("another-secret-another-secret!!"), valid())},
		{name: "wrong issuer", raw: signWith(t, jwt.SigningMethodHS256, []byte(testSecret), wrongIssuer)},
		{name: "wrong audience", raw: signWith(t, jwt.SigningMethodHS256, []byte(testSecret), wrongAudience)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.ValidateToken(tt.raw, true)
			require.ErrorIs(t, err, apperrors.ErrInvalidToken)

			_, err = f.manager.ValidateToken(tt.raw, false)
			require.ErrorIs(t, err, apperrors.ErrInvalidToken)
		})
	}

	t.Run("HS256 with the same secret accepted", func(t *testing.T) {
		_, err := f.manager.ValidateToken(signWith(t, jwt.SigningMethodHS256, []byte(testSecret), valid()), true)
		require.NoError(t, err)
	})
}

func TestRefreshToken(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	refreshID, err := f.manager.GenerateRefreshToken()
	require.NoError(t, err)
	first, err := f.manager.GenerateAccessToken(ctx, refreshID, testIdentity())
	require.NoError(t, err)

	f.now = f.now.Add(10 * time.Minute)

	second, err := f.manager.RefreshToken(ctx, refreshID)
	require.NoError(t, err)
	require.NotEqual(t, first.Raw, second.Raw)
	require.Equal(t, f.now.Add(30*time.Minute), second.ExpiresAt)

	entry, ok := f.manager.Whitelisted(ctx, refreshID)
	require.True(t, ok)
	require.Equal(t, second.Raw, entry.Token)

	claims, err := f.manager.ValidateToken(second.Raw, true)
	require.NoError(t, err)
	require.Equal(t, testIdentity(), claims.Identity())
	require.Equal(t, refreshID, claims.RefreshTokenID())

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := f.manager.RefreshToken(ctx, "unknown")
		require.ErrorIs(t, err, apperrors.ErrInvalidToken)
	})

	t.Run("revoked identifier", func(t *testing.T) {
		require.NoError(t, f.manager.RevokeRefreshToken(ctx, refreshID))
		require.NoError(t, f.manager.RevokeRefreshToken(ctx, refreshID))

		_, err := f.manager.RefreshToken(ctx, refreshID)
		require.ErrorIs(t, err, apperrors.ErrInvalidToken)
		_, ok := f.manager.Whitelisted(ctx, refreshID)
		require.False(t, ok)
	})
}
