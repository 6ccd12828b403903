package auth

import (
	"context"

	"github.com/jrsteele09/storefront-auth/users"
)

// UserStore is what authentication needs from the user directory.
// SecurityStamp returns ok=false when the store does not track stamps for the user,
// which disables the credential-change check.
type UserStore interface {
	FindUserByName(ctx context.Context, username string) (*users.User, error)
	CheckPassword(ctx context.Context, user *users.User, password string) bool
	SecurityStamp(ctx context.Context, user *users.User) (string, bool, error)
}

var _ UserStore = (*users.Directory)(nil)

// loginRecorder is implemented by stores that track the last login time.
type loginRecorder interface {
	RecordLogin(ctx context.Context, user *users.User)
}
