package sessions

import "time"

const (
	// CookieName is the cookie carrying the opaque server-side session identifier.
	CookieName = "storefront_session"

	KeyRefreshTokenID = "refresh_token_id"
	KeyAccessToken    = "access_token"
)

// Session is the server-side state attached to a browser through CookieName.
type Session struct {
	ID        string            `json:"id"`
	Values    map[string]string `json:"values"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func (s Session) Value(key string) (string, bool) {
	v, ok := s.Values[key]
	return v, ok && v != ""
}

func (s Session) RefreshTokenID() (string, bool) {
	return s.Value(KeyRefreshTokenID)
}

func (s Session) AccessToken() (string, bool) {
	return s.Value(KeyAccessToken)
}
