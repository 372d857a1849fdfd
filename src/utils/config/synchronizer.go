package config

import (
	"time"

	"github.com/spf13/viper"
)

// Synchronizer holds tuning knobs for the top level sync control loop.
type Synchronizer struct {
	// Number of blocks fetched per node request, both in forward mode and catch-up mode.
	Limit int

	// Sleep duration after a tick makes no progress, before retrying.
	RetryInterval time.Duration

	// Pinned sleep-and-retry interval (§7: no exponential backoff) for
	// individual NodeClient calls and database writes made inside a single
	// work/workNoteProcessorCatchUp attempt.
	InnerRetryInterval time.Duration

	// Upper bound on the total time spent retrying a single NodeClient call
	// or database write before giving up and letting the tick fail through
	// to the outer RetryInterval cadence.
	InnerRetryMaxElapsedTime time.Duration

	// Default starting block for callers to pass to Synchronizer.AddAccount
	// when no processor status is persisted yet. Nothing in this module
	// reads it; AddAccount uses the startingBlock it is given.
	InitialL2BlockNum int64
}

func setSynchronizerDefaults() {
	viper.SetDefault("Synchronizer.Limit", "1")
	viper.SetDefault("Synchronizer.RetryInterval", "1s")
	viper.SetDefault("Synchronizer.InnerRetryInterval", "200ms")
	viper.SetDefault("Synchronizer.InnerRetryMaxElapsedTime", "2s")
	viper.SetDefault("Synchronizer.InitialL2BlockNum", "1")
}
