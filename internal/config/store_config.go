package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	WhitelistBackendMemory = "memory"
	WhitelistBackendRedis  = "redis"
)

const (
	whitelistBackendKey = "whitelist.backend"
	whitelistSweepKey   = "whitelist.sweep_interval"
	redisAddrKey        = "redis.addr"
	redisPasswordKey    = "redis.password"
	redisDBKey          = "redis.db"
	redisPrefixKey      = "redis.prefix"
	userStoreDSNKey     = "user_store.dsn"
	sessionLifetimeKey  = "session.lifetime"
	loginRateKey        = "login.rate_per_minute"
	loginBurstKey       = "login.rate_burst"
	trustedProxiesKey   = "login.trusted_proxies"
)

type StoreConfig interface {
	GetWhitelistBackend() string
	GetWhitelistSweepInterval() time.Duration
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
	GetUserStoreDSN() string
	GetSessionLifetime() time.Duration
	GetLoginRatePerMinute() int
	GetLoginRateBurst() int
	GetTrustedProxies() []string
}

type Store struct {
	v *viper.Viper
}

var _ StoreConfig = Store{}

func (s Store) GetWhitelistBackend() string {
	return s.v.GetString(whitelistBackendKey)
}

func (s Store) GetWhitelistSweepInterval() time.Duration {
	return s.v.GetDuration(whitelistSweepKey)
}

func (s Store) GetRedisAddr() string {
	return s.v.GetString(redisAddrKey)
}

func (s Store) GetRedisPassword() string {
	return s.v.GetString(redisPasswordKey)
}

func (s Store) GetRedisDB() int {
	return s.v.GetInt(redisDBKey)
}

func (s Store) GetRedisPrefix() string {
	return s.v.GetString(redisPrefixKey)
}

// GetUserStoreDSN is the SQLite DSN for the user store. Empty selects the in-memory store.
func (s Store) GetUserStoreDSN() string {
	return s.v.GetString(userStoreDSNKey)
}

func (s Store) GetSessionLifetime() time.Duration {
	return s.v.GetDuration(sessionLifetimeKey)
}

func (s Store) GetLoginRatePerMinute() int {
	return s.v.GetInt(loginRateKey)
}

func (s Store) GetLoginRateBurst() int {
	return s.v.GetInt(loginBurstKey)
}

// GetTrustedProxies lists the proxy IPs or CIDRs whose forwarding headers identify the client.
// Empty means the connection address is always used.
func (s Store) GetTrustedProxies() []string {
	var proxies []string
	for _, proxy := range strings.Split(s.v.GetString(trustedProxiesKey), ",") {
		if proxy = strings.TrimSpace(proxy); proxy != "" {
			proxies = append(proxies, proxy)
		}
	}
	return proxies
}
