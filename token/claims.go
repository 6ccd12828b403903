package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the user data carried in an access token.
type Identity struct {
	UserID        string
	Username      string
	SecurityStamp string
}

// Claims are the claims of a storefront access token. The registered jti claim
// holds the refresh token identifier the token is bound to.
type Claims struct {
	Username      string `json:"name"`
	SecurityStamp string `json:"security_stamp,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) RefreshTokenID() string {
	return c.ID
}

// ValidTo returns the expiry of the token, or the zero time when exp is missing.
func (c *Claims) ValidTo() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

func (c *Claims) Identity() Identity {
	return Identity{
		UserID:        c.Subject,
		Username:      c.Username,
		SecurityStamp: c.SecurityStamp,
	}
}

// AccessToken is a signed access token and its expiry.
type AccessToken struct {
	Raw       string
	ExpiresAt time.Time
}
