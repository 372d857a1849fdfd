package config

import (
	"time"

	"github.com/spf13/viper"
)

// Node holds the connection settings for the remote L2 node RPC.
type Node struct {
	Url            string
	RequestTimeout time.Duration
	DialTimeout    time.Duration
	IdleConnTimeout time.Duration
	RetryCount     int
}

func setNodeDefaults() {
	viper.SetDefault("Node.Url", "http://127.0.0.1:8080")
	viper.SetDefault("Node.RequestTimeout", "30s")
	viper.SetDefault("Node.DialTimeout", "5s")
	viper.SetDefault("Node.IdleConnTimeout", "60s")
	viper.SetDefault("Node.RetryCount", "1")
}
