package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/storefront-auth/internal/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := config.NewFromViper(viper.New())

	require.Equal(t, ":8080", cfg.GetPort())
	require.Equal(t, "DEV", cfg.GetEnv())
	require.Equal(t, 30*time.Minute, cfg.GetAccessTokenLifetime())
	require.Equal(t, 32, cfg.GetRefreshTokenLength())
	require.Equal(t, 10*time.Minute, cfg.GetRevalidationInterval())
	require.Equal(t, 5*time.Minute, cfg.GetExpiryWarningThreshold())
	require.Equal(t, time.Minute, cfg.GetFinalWarningThreshold())
	require.Equal(t, 30*time.Second, cfg.GetLogoutMargin())
	require.Equal(t, config.WhitelistBackendMemory, cfg.GetWhitelistBackend())
	require.Empty(t, cfg.GetSigningSecret())
	require.Empty(t, cfg.GetAllowedOrigins())
	require.Empty(t, cfg.GetTrustedProxies())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", ":9090")
	t.Setenv("TOKEN_SIGNING_SECRET", "s3cret")
	t.Setenv("MONITOR_INTERVAL", "2m")
	t.Setenv("ALLOWED_ORIGINS", "https://shop.example, https://admin.example")
	t.Setenv("LOGIN_TRUSTED_PROXIES", "10.0.0.1, 192.168.0.0/16")

	cfg := config.New()

	require.Equal(t, ":9090", cfg.GetPort())
	require.Equal(t, "s3cret", cfg.GetSigningSecret())
	require.Equal(t, 2*time.Minute, cfg.GetRevalidationInterval())

	origins := cfg.GetAllowedOrigins()
	require.Len(t, origins, 2)
	require.True(t, origins.IsAllowedOrigin("https://admin.example"))
	require.False(t, origins.IsAllowedOrigin("https://evil.example"))
	require.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.GetTrustedProxies())
}
