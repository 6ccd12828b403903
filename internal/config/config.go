package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config interface {
	EnvConfig
	CorsConfig
	TokenConfig
	MonitorConfig
	StoreConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetAdminUsername() string
	GetAdminPassword() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Token
	Monitor
	Store
}

// New builds the configuration from environment variables, falling back to defaults.
func New() Config {
	return NewFromViper(newViper())
}

// NewFromViper wraps an existing viper instance. Missing keys fall back to the package defaults.
func NewFromViper(v *viper.Viper) Config {
	setDefaults(v)
	return mainConfig{
		EnvVars: EnvVars{v: v},
		Cors:    Cors{v: v},
		Token:   Token{v: v},
		Monitor: Monitor{v: v},
		Store:   Store{v: v},
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(portKey, "8080")
	v.SetDefault(appNameKey, "Storefront")
	v.SetDefault(envKey, "DEV")
	v.SetDefault(logLevelKey, "info")
	v.SetDefault(adminUsernameKey, "admin")

	v.SetDefault(allowedOriginsKey, "")

	v.SetDefault(tokenIssuerKey, "storefront")
	v.SetDefault(tokenAudienceKey, "storefront-api")
	v.SetDefault(tokenAccessLifetimeKey, "30m")
	v.SetDefault(tokenRefreshLengthKey, 32)

	v.SetDefault(monitorIntervalKey, "10m")
	v.SetDefault(monitorWarningKey, "5m")
	v.SetDefault(monitorFinalWarningKey, "1m")
	v.SetDefault(monitorLogoutMarginKey, "30s")

	v.SetDefault(whitelistBackendKey, WhitelistBackendMemory)
	v.SetDefault(whitelistSweepKey, "1m")
	v.SetDefault(redisAddrKey, "localhost:6379")
	v.SetDefault(redisDBKey, 0)
	v.SetDefault(redisPrefixKey, "storefront:whitelist:")
	v.SetDefault(userStoreDSNKey, "")
	v.SetDefault(sessionLifetimeKey, "8h")
	v.SetDefault(loginRateKey, 10)
	v.SetDefault(loginBurstKey, 5)
	v.SetDefault(trustedProxiesKey, "")
}
