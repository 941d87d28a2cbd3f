package orchestrator

import (
	"github.com/lexiqai/playback-sync/internal/drift"
)

// SyncStatus is the drift-correction state machine position
type SyncStatus string

const (
	StatusIdle       SyncStatus = "idle"
	StatusCorrecting SyncStatus = "correcting"
)

// State is a snapshot of everything rendering collaborators observe.
// Version increases with every transition so consumers receiving snapshots
// from several goroutines can drop stale ones.
type State struct {
	Version            uint64        `json:"version"`
	IsPlaying          bool          `json:"is_playing"`
	CurrentTimeMs      int64         `json:"current_time_ms"`
	DurationMs         int64         `json:"duration_ms"`
	ActiveSegmentIndex int           `json:"active_segment_index"`
	IsSyncing          bool          `json:"is_syncing"`
	SyncStatus         SyncStatus    `json:"sync_status"`
	DriftMetrics       drift.Metrics `json:"drift_metrics"`
	LastDriftOutcome   string        `json:"last_drift_outcome,omitempty"`
	SyncOffsetMs       int64         `json:"sync_offset_ms"`
	Simulated          bool          `json:"simulated"`
	MediaError         string        `json:"media_error,omitempty"`
}
