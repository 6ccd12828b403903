package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	tokenSigningSecretKey  = "token.signing_secret"
	tokenIssuerKey         = "token.issuer"
	tokenAudienceKey       = "token.audience"
	tokenAccessLifetimeKey = "token.access_lifetime"
	tokenRefreshLengthKey  = "token.refresh_length"
)

type TokenConfig interface {
	GetSigningSecret() string
	GetIssuer() string
	GetAudience() string
	GetAccessTokenLifetime() time.Duration
	GetRefreshTokenLength() int
}

type Token struct {
	v *viper.Viper
}

var _ TokenConfig = Token{}

// GetSigningSecret returns the HMAC-SHA256 secret shared by issuer and verifier.
func (t Token) GetSigningSecret() string {
	return t.v.GetString(tokenSigningSecretKey)
}

func (t Token) GetIssuer() string {
	return t.v.GetString(tokenIssuerKey)
}

func (t Token) GetAudience() string {
	return t.v.GetString(tokenAudienceKey)
}

func (t Token) GetAccessTokenLifetime() time.Duration {
	return t.v.GetDuration(tokenAccessLifetimeKey)
}

func (t Token) GetRefreshTokenLength() int {
	return t.v.GetInt(tokenRefreshLengthKey) // 32 bytes = 256 bits
}
