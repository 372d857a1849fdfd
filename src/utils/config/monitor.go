package config

import "github.com/spf13/viper"

// Monitor holds settings for the HTTP status/observability server.
type Monitor struct {
	ListenAddress string
}

func setMonitorDefaults() {
	viper.SetDefault("Monitor.ListenAddress", ":8888")
}
