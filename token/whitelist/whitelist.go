package whitelist

import (
	"context"
	"time"
)

// Entry is the latest signed access token issued for a refresh token identifier.
type Entry struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Whitelist maps refresh token identifiers to the access token currently bound to them.
// An identifier that is absent, expired or unreadable is treated as revoked.
type Whitelist interface {
	// Set stores or replaces the entry for id. An expireAt that has already passed removes the entry.
	Set(ctx context.Context, id, token string, expireAt time.Time) error
	TryGet(ctx context.Context, id string) (Entry, bool)
	// Remove is idempotent.
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}
