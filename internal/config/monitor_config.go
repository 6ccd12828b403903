package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	monitorIntervalKey     = "monitor.interval"
	monitorWarningKey      = "monitor.warning_threshold"
	monitorFinalWarningKey = "monitor.final_warning_threshold"
	monitorLogoutMarginKey = "monitor.logout_margin"
)

type MonitorConfig interface {
	GetRevalidationInterval() time.Duration
	GetExpiryWarningThreshold() time.Duration
	GetFinalWarningThreshold() time.Duration
	GetLogoutMargin() time.Duration
}

type Monitor struct {
	v *viper.Viper
}

var _ MonitorConfig = Monitor{}

func (m Monitor) GetRevalidationInterval() time.Duration {
	return m.v.GetDuration(monitorIntervalKey)
}

func (m Monitor) GetExpiryWarningThreshold() time.Duration {
	return m.v.GetDuration(monitorWarningKey)
}

func (m Monitor) GetFinalWarningThreshold() time.Duration {
	return m.v.GetDuration(monitorFinalWarningKey)
}

// GetLogoutMargin is the remaining lifetime below which a session is treated as already expired.
func (m Monitor) GetLogoutMargin() time.Duration {
	return m.v.GetDuration(monitorLogoutMarginKey)
}
