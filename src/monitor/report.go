package monitor

import (
	"time"

	"go.uber.org/atomic"
)

// Errors counts the error kinds from spec.md §7 that surface as metrics
// rather than as fatal process exits.
type Errors struct {
	TransientNode  atomic.Uint64 `json:"transient_node"`
	MalformedBatch atomic.Uint64 `json:"malformed_batch"`
	Database       atomic.Uint64 `json:"database"`
}

// Report is the observable state served at GET /v1/health, modeled on the
// teacher's utils/monitor/report.go.
type Report struct {
	StartTimestamp atomic.Int64  `json:"start_timestamp"`
	UpForSeconds   atomic.Uint64 `json:"up_for_seconds"`

	NodeCurrentHeight   atomic.Int64 `json:"node_current_height"`
	SyncerCurrentHeight atomic.Int64 `json:"syncer_current_height"`
	SyncerBlocksBehind  atomic.Int64 `json:"syncer_blocks_behind"`

	AverageBlocksProcessedPerMinute atomic.Float64 `json:"average_blocks_processed_per_minute"`

	CaughtUpEvents atomic.Uint64 `json:"note_processor_caught_up_events"`

	Errors Errors `json:"errors"`
}

// Fill recomputes derived fields just before serialization.
func (self *Report) Fill() {
	self.SyncerBlocksBehind.Store(self.NodeCurrentHeight.Load() - self.SyncerCurrentHeight.Load())
	self.UpForSeconds.Store(uint64(time.Now().Unix() - self.StartTimestamp.Load()))
}
