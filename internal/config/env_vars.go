package config

import (
	"strings"

	"github.com/spf13/viper"
)

const (
	portKey          = "port"
	appNameKey       = "app_name"
	envKey           = "env"
	logLevelKey      = "log_level"
	adminUsernameKey = "admin_username"
	adminPasswordKey = "admin_password"
)

type EnvVars struct {
	v *viper.Viper
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.v.GetString(portKey)
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.v.GetString(appNameKey)
}

// GetEnv returns the deployment environment, "DEV" unless overridden.
func (e EnvVars) GetEnv() string {
	return strings.ToUpper(e.v.GetString(envKey))
}

func (e EnvVars) GetLogLevel() string {
	return strings.ToLower(e.v.GetString(logLevelKey))
}

// GetAdminUsername is the account created when the user store is empty.
func (e EnvVars) GetAdminUsername() string {
	return e.v.GetString(adminUsernameKey)
}

// GetAdminPassword is the bootstrap admin's password. Empty means one is generated and logged once.
func (e EnvVars) GetAdminPassword() string {
	return e.v.GetString(adminPasswordKey)
}
