package drift

import (
	"math"

	"github.com/lexiqai/playback-sync/internal/transcript"
)

// DefaultThresholdMs is the absolute drift above which a transcript is rescaled
const DefaultThresholdMs = 1000

// Outcome is the result of a drift detection pass
type Outcome int

const (
	OutcomeSkipped        Outcome = iota // No segments, or a correction is already in flight
	OutcomeServerAligned                 // Server timestamps are authoritative
	OutcomeNoCorrection                  // Drift within threshold
	OutcomeCorrectionRequired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeServerAligned:
		return "server_aligned"
	case OutcomeNoCorrection:
		return "no_correction"
	case OutcomeCorrectionRequired:
		return "correction_required"
	}
	return "unknown"
}

// Metrics describes the drift between audio and transcript durations
type Metrics struct {
	Ratio             float64 `json:"ratio"`
	AbsoluteDriftMs   int64   `json:"absolute_drift_ms"`
	CorrectionApplied bool    `json:"correction_applied"`
}

// NeutralMetrics returns metrics for a transcript that needs no rescaling
func NeutralMetrics() Metrics {
	return Metrics{Ratio: 1.0}
}

// Input holds everything the detector looks at
type Input struct {
	AudioDurationMs int64
	Segments        []transcript.Segment
	AlignmentStatus transcript.AlignmentStatus
	IsSyncing       bool
}

// Decision is the detector's verdict. Metrics is meaningless when Outcome
// is OutcomeSkipped.
type Decision struct {
	Outcome Outcome
	Metrics Metrics
}

// DetectorConfig holds configuration for drift detection
type DetectorConfig struct {
	ThresholdMs int64 // Absolute drift that triggers a correction

	// RatioTolerance additionally requires the ratio to fall outside
	// [1-tol, 1+tol] before correcting. Zero disables the ratio check.
	RatioTolerance float64
}

// DefaultDetectorConfig returns the absolute one-second policy
func DefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		ThresholdMs:    DefaultThresholdMs,
		RatioTolerance: 0,
	}
}

// Detector decides whether a transcript needs rescaling to match its audio
type Detector struct {
	config *DetectorConfig
}

// NewDetector creates a new drift detector
func NewDetector(config *DetectorConfig) *Detector {
	if config == nil {
		config = DefaultDetectorConfig()
	}
	return &Detector{config: config}
}

// Detect runs a single detection pass
func (d *Detector) Detect(in Input) Decision {
	implied, ok := transcript.ImpliedDurationMs(in.Segments)
	if !ok || in.IsSyncing {
		return Decision{Outcome: OutcomeSkipped}
	}

	if in.AlignmentStatus.IsServerAligned() {
		return Decision{Outcome: OutcomeServerAligned, Metrics: NeutralMetrics()}
	}

	if implied <= 0 || in.AudioDurationMs <= 0 {
		return Decision{Outcome: OutcomeSkipped}
	}

	m := Metrics{
		Ratio:           float64(in.AudioDurationMs) / float64(implied),
		AbsoluteDriftMs: abs(in.AudioDurationMs - implied),
	}

	if m.AbsoluteDriftMs <= d.config.ThresholdMs {
		return Decision{Outcome: OutcomeNoCorrection, Metrics: m}
	}
	if tol := d.config.RatioTolerance; tol > 0 && math.Abs(m.Ratio-1) <= tol {
		return Decision{Outcome: OutcomeNoCorrection, Metrics: m}
	}
	return Decision{Outcome: OutcomeCorrectionRequired, Metrics: m}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
