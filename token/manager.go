package token

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/storefront-auth/internal/cryptox"
	apperrors "github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/token/whitelist"
)

const (
	DefaultAccessTokenLifetime = 30 * time.Minute
	DefaultRefreshTokenLength  = cryptox.TokenSize256
)

// Manager issues access tokens bound to refresh token identifiers and verifies them.
// Every issued token is recorded in the whitelist under its refresh token identifier.
type Manager struct {
	signer              Signer
	whitelist           whitelist.Whitelist
	issuer              string
	audience            string
	accessTokenLifetime time.Duration
	refreshTokenLength  int
	nowFunc             func() time.Time
}

type ManagerOption func(*Manager)

func WithIssuer(issuer string) ManagerOption {
	return func(m *Manager) {
		m.issuer = issuer
	}
}

func WithAudience(audience string) ManagerOption {
	return func(m *Manager) {
		m.audience = audience
	}
}

func WithAccessTokenLifetime(lifetime time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessTokenLifetime = lifetime
	}
}

// WithRefreshTokenLength sets the number of random bytes in a refresh token identifier.
func WithRefreshTokenLength(n int) ManagerOption {
	return func(m *Manager) {
		m.refreshTokenLength = n
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func NewManager(signer Signer, wl whitelist.Whitelist, options ...ManagerOption) (*Manager, error) {
	m := &Manager{
		signer:              signer,
		whitelist:           wl,
		accessTokenLifetime: DefaultAccessTokenLifetime,
		refreshTokenLength:  DefaultRefreshTokenLength,
		nowFunc:             time.Now,
	}

	for _, opt := range options {
		opt(m)
	}

	if m.signer == nil {
		return nil, errors.New("token.NewManager: signer is required")
	}
	if m.whitelist == nil {
		return nil, errors.New("token.NewManager: whitelist is required")
	}
	if strings.TrimSpace(m.issuer) == "" {
		return nil, errors.New("token.NewManager: issuer is required")
	}
	if strings.TrimSpace(m.audience) == "" {
		return nil, errors.New("token.NewManager: audience is required")
	}
	if m.accessTokenLifetime <= 0 {
		return nil, errors.New("token.NewManager: access token lifetime must be positive")
	}
	return m, nil
}

func (m *Manager) AccessTokenLifetime() time.Duration {
	return m.accessTokenLifetime
}

// GenerateRefreshToken returns a new random refresh token identifier, base64url encoded without padding.
func (m *Manager) GenerateRefreshToken() (string, error) {
	return cryptox.GenerateToken(m.refreshTokenLength)
}

// GenerateAccessToken signs an access token for id with jti set to refreshTokenID and
// records it as the latest token for that identifier.
func (m *Manager) GenerateAccessToken(ctx context.Context, refreshTokenID string, id Identity) (AccessToken, error) {
	if refreshTokenID == "" {
		return AccessToken{}, apperrors.Wrapf(apperrors.ErrInvalidArgs, "token.GenerateAccessToken: refresh token id is required")
	}

	now := m.nowFunc()
	claims := &Claims{
		Username:      id.Username,
		SecurityStamp: id.SecurityStamp,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   id.UserID,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTokenLifetime)),
			ID:        refreshTokenID,
		},
	}

	raw, err := m.signer.Sign(claims)
	if err != nil {
		return AccessToken{}, fmt.Errorf("token.GenerateAccessToken: %w", err)
	}

	expiresAt := claims.ExpiresAt.Time
	if err := m.whitelist.Set(ctx, refreshTokenID, raw, expiresAt); err != nil {
		return AccessToken{}, fmt.Errorf("token.GenerateAccessToken whitelist: %w", err)
	}
	return AccessToken{Raw: raw, ExpiresAt: expiresAt}, nil
}

// ValidateToken verifies the signature, algorithm, issuer and audience of raw.
// Expiry is only enforced when validateLifetime is set. All failures wrap ErrInvalidToken.
func (m *Manager) ValidateToken(raw string, validateLifetime bool) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperrors.ErrInvalidToken
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.signer.GetSigningMethod().Alg()}),
		jwt.WithTimeFunc(m.nowFunc),
	}
	if validateLifetime {
		options = append(options,
			jwt.WithIssuer(m.issuer),
			jwt.WithAudience(m.audience),
			jwt.WithExpirationRequired(),
		)
	} else {
		options = append(options, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, m.signer.GetVerificationKey, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, apperrors.ErrInvalidToken
	}

	// Issuer and audience are skipped together with the lifetime checks above.
	if !validateLifetime {
		if claims.Issuer != m.issuer {
			return nil, fmt.Errorf("%w: unexpected issuer %q", apperrors.ErrInvalidToken, claims.Issuer)
		}
		if !slices.Contains(claims.Audience, m.audience) {
			return nil, fmt.Errorf("%w: audience mismatch", apperrors.ErrInvalidToken)
		}
	}
	return claims, nil
}

// PrincipalFromToken verifies raw without checking its lifetime.
func (m *Manager) PrincipalFromToken(raw string) (*Claims, error) {
	return m.ValidateToken(raw, false)
}

// PrincipalFromExpiredToken verifies a token that may already have expired, used when refreshing.
func (m *Manager) PrincipalFromExpiredToken(raw string) (*Claims, error) {
	return m.ValidateToken(raw, false)
}

// RefreshToken issues a new access token for a whitelisted refresh token identifier,
// reusing the identity of the token currently stored for it. Concurrent refreshes of the
// same identifier race and the last write to the whitelist wins.
func (m *Manager) RefreshToken(ctx context.Context, refreshTokenID string) (AccessToken, error) {
	entry, ok := m.whitelist.TryGet(ctx, refreshTokenID)
	if !ok {
		return AccessToken{}, fmt.Errorf("%w: refresh token not whitelisted", apperrors.ErrInvalidToken)
	}

	claims, err := m.PrincipalFromExpiredToken(entry.Token)
	if err != nil {
		return AccessToken{}, err
	}
	if claims.RefreshTokenID() != refreshTokenID {
		return AccessToken{}, fmt.Errorf("%w: whitelisted token bound to another identifier", apperrors.ErrInvalidToken)
	}
	return m.GenerateAccessToken(ctx, refreshTokenID, claims.Identity())
}

func (m *Manager) RevokeRefreshToken(ctx context.Context, refreshTokenID string) error {
	if err := m.whitelist.Remove(ctx, refreshTokenID); err != nil {
		return fmt.Errorf("token.RevokeRefreshToken: %w", err)
	}
	return nil
}

// Whitelisted returns the latest access token issued for refreshTokenID.
func (m *Manager) Whitelisted(ctx context.Context, refreshTokenID string) (whitelist.Entry, bool) {
	return m.whitelist.TryGet(ctx, refreshTokenID)
}
