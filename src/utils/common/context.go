// Package common holds small cross-cutting helpers shared by every package
// that needs access to the global Config through a context.Context.
package common

import (
	"context"

	"github.com/l2privacy/client-sync/src/utils/config"
)

type contextKey int

const configKey contextKey = iota

// SetConfig returns a derived context carrying config, retrievable with GetConfig.
func SetConfig(ctx context.Context, config *config.Config) context.Context {
	return context.WithValue(ctx, configKey, config)
}

// GetConfig retrieves the Config stored by SetConfig, or nil if none was set.
func GetConfig(ctx context.Context) *config.Config {
	config, _ := ctx.Value(configKey).(*config.Config)
	return config
}
