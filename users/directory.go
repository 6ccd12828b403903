package users

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/rs/zerolog/log"
)

// Directory exposes a UserRepo through the lookup, password and security stamp
// capabilities the authentication core depends on.
type Directory struct {
	repo UserRepo
}

func NewDirectory(repo UserRepo) *Directory {
	return &Directory{repo: repo}
}

// FindUserByName returns the user with the given name. Blocked users are reported as not found.
func (d *Directory) FindUserByName(ctx context.Context, username string) (*User, error) {
	if strings.TrimSpace(username) == "" {
		return nil, apperrors.ErrUserNotFound
	}
	u, err := d.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u.Blocked {
		return nil, apperrors.ErrUserNotFound
	}
	return u, nil
}

func (d *Directory) CheckPassword(_ context.Context, user *User, password string) bool {
	if user == nil || password == "" {
		return false
	}
	return user.CheckPassword(password)
}

// SecurityStamp returns the user's current stamp. ok is false when the user has none,
// in which case callers skip the comparison.
func (d *Directory) SecurityStamp(ctx context.Context, user *User) (string, bool, error) {
	if user == nil {
		return "", false, apperrors.ErrUserNotFound
	}
	current, err := d.repo.GetByID(ctx, user.ID)
	if err != nil {
		return "", false, err
	}
	if current.Blocked {
		return "", false, apperrors.ErrUserNotFound
	}
	if current.SecurityStamp == "" {
		return "", false, nil
	}
	return current.SecurityStamp, true, nil
}

// ChangePassword verifies the current password, stores the new one and rotates the security stamp.
func (d *Directory) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (*User, error) {
	u, err := d.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.CheckPassword(currentPassword) {
		return nil, apperrors.ErrInvalidCredentials
	}
	if err := u.SetPassword(newPassword); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrWeakPassword, err)
	}
	// Only the credentials are written back so a concurrent block or last login update survives.
	if err := d.repo.SetPassword(ctx, u.ID, u.PasswordHash, u.SecurityStamp); err != nil {
		return nil, fmt.Errorf("users.ChangePassword: %w", err)
	}
	log.Info().Str("user_id", u.ID).Msg("password changed, security stamp rotated")
	return u, nil
}

// RecordLogin stamps the user's last login time. Failures are logged only.
func (d *Directory) RecordLogin(ctx context.Context, user *User) {
	if err := d.repo.SetLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		log.Err(err).Str("user_id", user.ID).Msg("users.RecordLogin")
	}
}
