package users

import (
	"context"
	"time"
)

// UserRepo persists users. Lookups of unknown users return errors.ErrUserNotFound
// from internal/errors.
type UserRepo interface {
	Upsert(ctx context.Context, user *User) error
	Delete(ctx context.Context, id string) error
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Count(ctx context.Context) (int, error)
	SetLastLogin(ctx context.Context, id string, at time.Time) error
	SetBlocked(ctx context.Context, id string, blocked bool) error
	// SetPassword replaces only the password hash and security stamp.
	SetPassword(ctx context.Context, id, passwordHash, securityStamp string) error
}
