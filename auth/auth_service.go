package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/token"
	"github.com/jrsteele09/storefront-auth/users"
	"github.com/rs/zerolog/log"
)

// Grant is the outcome of a successful login or refresh.
type Grant struct {
	RefreshTokenID string
	AccessToken    token.AccessToken
}

// Service logs users in, refreshes their access tokens and revokes them on logout.
type Service struct {
	users  UserStore
	tokens *token.Manager
}

func NewService(users UserStore, tokens *token.Manager) (*Service, error) {
	if users == nil {
		return nil, errors.New("[NewService] user store is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewService] token manager is required")
	}
	return &Service{users: users, tokens: tokens}, nil
}

// Login checks the credentials and issues a refresh token identifier with its first access token.
// Unknown users and wrong passwords both return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (Grant, error) {
	user, err := s.users.FindUserByName(ctx, username)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return Grant{}, apperrors.ErrInvalidCredentials
		}
		return Grant{}, fmt.Errorf("auth.Login: %w", err)
	}
	if !s.users.CheckPassword(ctx, user, password) {
		return Grant{}, apperrors.ErrInvalidCredentials
	}

	stamp, ok, err := s.users.SecurityStamp(ctx, user)
	if err != nil {
		return Grant{}, fmt.Errorf("auth.Login security stamp: %w", err)
	}
	if !ok {
		stamp = ""
	}

	refreshTokenID, err := s.tokens.GenerateRefreshToken()
	if err != nil {
		return Grant{}, fmt.Errorf("auth.Login: %w", err)
	}
	accessToken, err := s.tokens.GenerateAccessToken(ctx, refreshTokenID, token.Identity{
		UserID:        user.ID,
		Username:      user.Username,
		SecurityStamp: stamp,
	})
	if err != nil {
		return Grant{}, fmt.Errorf("auth.Login: %w", err)
	}

	if recorder, ok := s.users.(loginRecorder); ok {
		recorder.RecordLogin(ctx, user)
	}
	log.Info().Str("user_id", user.ID).Msg("user logged in")

	return Grant{RefreshTokenID: refreshTokenID, AccessToken: accessToken}, nil
}

// Refresh issues a new access token for refreshTokenID. The presented token may be expired but
// must be the one currently whitelisted for the identifier. A changed security stamp revokes the identifier.
func (s *Service) Refresh(ctx context.Context, refreshTokenID, presentedToken string) (Grant, error) {
	if refreshTokenID == "" {
		return Grant{}, apperrors.ErrInvalidToken
	}

	claims, err := s.tokens.PrincipalFromExpiredToken(presentedToken)
	if err != nil {
		return Grant{}, err
	}
	if claims.RefreshTokenID() != refreshTokenID {
		return Grant{}, fmt.Errorf("%w: token not bound to this session", apperrors.ErrInvalidToken)
	}

	entry, ok := s.tokens.Whitelisted(ctx, refreshTokenID)
	if !ok {
		return Grant{}, fmt.Errorf("%w: refresh token revoked", apperrors.ErrInvalidToken)
	}
	if entry.Token != presentedToken {
		return Grant{}, fmt.Errorf("%w: token superseded", apperrors.ErrInvalidToken)
	}

	if err := s.checkSecurityStamp(ctx, claims); err != nil {
		if revokeErr := s.tokens.RevokeRefreshToken(ctx, refreshTokenID); revokeErr != nil {
			log.Err(revokeErr).Msg("auth.Refresh revoke")
		}
		return Grant{}, err
	}

	accessToken, err := s.tokens.RefreshToken(ctx, refreshTokenID)
	if err != nil {
		return Grant{}, err
	}
	return Grant{RefreshTokenID: refreshTokenID, AccessToken: accessToken}, nil
}

func (s *Service) checkSecurityStamp(ctx context.Context, claims *token.Claims) error {
	current, ok, err := s.users.SecurityStamp(ctx, &users.User{ID: claims.Subject})
	if err != nil {
		return fmt.Errorf("%w: user unavailable", apperrors.ErrInvalidToken)
	}
	if ok && current != claims.SecurityStamp {
		return fmt.Errorf("%w: credentials changed", apperrors.ErrInvalidToken)
	}
	return nil
}

// Reissue replaces the access token bound to refreshTokenID with one carrying the user's
// current identity, keeping the session alive after its own credential change.
func (s *Service) Reissue(ctx context.Context, refreshTokenID string, user *users.User) (Grant, error) {
	if _, ok := s.tokens.Whitelisted(ctx, refreshTokenID); !ok {
		return Grant{}, fmt.Errorf("%w: refresh token revoked", apperrors.ErrInvalidToken)
	}
	accessToken, err := s.tokens.GenerateAccessToken(ctx, refreshTokenID, token.Identity{
		UserID:        user.ID,
		Username:      user.Username,
		SecurityStamp: user.SecurityStamp,
	})
	if err != nil {
		return Grant{}, fmt.Errorf("auth.Reissue: %w", err)
	}
	return Grant{RefreshTokenID: refreshTokenID, AccessToken: accessToken}, nil
}

// Logout revokes refreshTokenID. Revoking an unknown identifier is not an error.
func (s *Service) Logout(ctx context.Context, refreshTokenID string) error {
	if refreshTokenID == "" {
		return nil
	}
	return s.tokens.RevokeRefreshToken(ctx, refreshTokenID)
}

// ExpiresIn is the remaining lifetime of the grant's access token.
func (g Grant) ExpiresIn(now time.Time) time.Duration {
	return g.AccessToken.ExpiresAt.Sub(now)
}
