package drift

import (
	"testing"

	"github.com/lexiqai/playback-sync/internal/transcript"
)

func segmentsEndingAt(endMs int64) []transcript.Segment {
	return []transcript.Segment{
		{ID: "s0", StartMs: 0, EndMs: endMs / 2, SpeakerID: "A", Text: "first"},
		{ID: "s1", StartMs: endMs / 2, EndMs: endMs, SpeakerID: "B", Text: "second"},
	}
}

func TestDetector_Outcomes(t *testing.T) {
	d := NewDetector(nil)

	tests := []struct {
		name     string
		in       Input
		expected Outcome
	}{
		{
			name:     "empty transcript",
			in:       Input{AudioDurationMs: 130000, AlignmentStatus: transcript.AlignmentPending},
			expected: OutcomeSkipped,
		},
		{
			name:     "already syncing",
			in:       Input{AudioDurationMs: 130000, Segments: segmentsEndingAt(120000), IsSyncing: true},
			expected: OutcomeSkipped,
		},
		{
			name:     "server aligned",
			in:       Input{AudioDurationMs: 130000, Segments: segmentsEndingAt(120000), AlignmentStatus: transcript.AlignmentAligned},
			expected: OutcomeServerAligned,
		},
		{
			name:     "server fallback",
			in:       Input{AudioDurationMs: 130000, Segments: segmentsEndingAt(120000), AlignmentStatus: transcript.AlignmentFallback},
			expected: OutcomeServerAligned,
		},
		{
			name:     "large drift",
			in:       Input{AudioDurationMs: 130000, Segments: segmentsEndingAt(120000), AlignmentStatus: transcript.AlignmentPending},
			expected: OutcomeCorrectionRequired,
		},
		{
			name:     "exactly one second",
			in:       Input{AudioDurationMs: 121000, Segments: segmentsEndingAt(120000), AlignmentStatus: transcript.AlignmentPending},
			expected: OutcomeNoCorrection,
		},
		{
			name:     "just over one second",
			in:       Input{AudioDurationMs: 121001, Segments: segmentsEndingAt(120000), AlignmentStatus: transcript.AlignmentPending},
			expected: OutcomeCorrectionRequired,
		},
		{
			name:     "audio shorter than transcript",
			in:       Input{AudioDurationMs: 100000, Segments: segmentsEndingAt(120000)},
			expected: OutcomeCorrectionRequired,
		},
		{
			name:     "short clip jitter",
			in:       Input{AudioDurationMs: 5300, Segments: segmentsEndingAt(5000)},
			expected: OutcomeNoCorrection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(tt.in)
			if got.Outcome != tt.expected {
				t.Errorf("Expected outcome %s, got %s", tt.expected, got.Outcome)
			}
		})
	}
}

func TestDetector_Metrics(t *testing.T) {
	d := NewDetector(nil)

	got := d.Detect(Input{AudioDurationMs: 130000, Segments: segmentsEndingAt(120000)})
	if got.Metrics.AbsoluteDriftMs != 10000 {
		t.Errorf("Expected drift 10000, got %d", got.Metrics.AbsoluteDriftMs)
	}
	if got.Metrics.Ratio < 1.0833 || got.Metrics.Ratio > 1.0834 {
		t.Errorf("Expected ratio around 1.0833, got %f", got.Metrics.Ratio)
	}
	if got.Metrics.CorrectionApplied {
		t.Error("Expected detector to never mark a correction as applied")
	}

	aligned := d.Detect(Input{AudioDurationMs: 130000, Segments: segmentsEndingAt(120000), AlignmentStatus: transcript.AlignmentAligned})
	if aligned.Metrics != NeutralMetrics() {
		t.Errorf("Expected neutral metrics for aligned transcript, got %+v", aligned.Metrics)
	}
}

func TestDetector_RatioTolerance(t *testing.T) {
	d := NewDetector(&DetectorConfig{ThresholdMs: 2000, RatioTolerance: 0.05})

	// 2.5s over a 100s recording is 2.5%, inside tolerance
	got := d.Detect(Input{AudioDurationMs: 102500, Segments: segmentsEndingAt(100000)})
	if got.Outcome != OutcomeNoCorrection {
		t.Errorf("Expected no correction within ratio tolerance, got %s", got.Outcome)
	}

	got = d.Detect(Input{AudioDurationMs: 110000, Segments: segmentsEndingAt(100000)})
	if got.Outcome != OutcomeCorrectionRequired {
		t.Errorf("Expected correction outside ratio tolerance, got %s", got.Outcome)
	}
}

func TestRescale(t *testing.T) {
	orig := transcript.Conversation{
		ID:              "conv",
		Segments:        segmentsEndingAt(120000),
		DurationMs:      120000,
		AlignmentStatus: transcript.AlignmentPending,
	}
	orig.Segments[0].Metadata = map[string]string{"k": "v"}
	ratio := 130000.0 / 120000.0

	out := Rescale(orig, ratio, 130000)

	if out.DurationMs != 130000 {
		t.Errorf("Expected duration 130000, got %d", out.DurationMs)
	}
	last := out.Segments[len(out.Segments)-1]
	if last.EndMs < 129999 || last.EndMs > 130001 {
		t.Errorf("Expected last end within 1ms of 130000, got %d", last.EndMs)
	}
	if out.Segments[0].EndMs != 65000 {
		t.Errorf("Expected 60000*ratio = 65000, got %d", out.Segments[0].EndMs)
	}
	for i, s := range out.Segments {
		if s.ID != orig.Segments[i].ID || s.Text != orig.Segments[i].Text || s.SpeakerID != orig.Segments[i].SpeakerID {
			t.Errorf("Expected segment %d fields to be preserved, got %+v", i, s)
		}
	}

	// Input must not be mutated
	if orig.Segments[1].EndMs != 120000 || orig.DurationMs != 120000 {
		t.Error("Expected original conversation to be unchanged")
	}
	out.Segments[0].Metadata["k"] = "changed"
	if orig.Segments[0].Metadata["k"] != "v" {
		t.Error("Expected rescaled metadata to be a copy")
	}
}

func TestRescale_Rounding(t *testing.T) {
	conv := transcript.Conversation{Segments: []transcript.Segment{{ID: "x", StartMs: 1, EndMs: 3}}}

	out := Rescale(conv, 1.5, 5)
	// 1.5 rounds away from zero to 2, 4.5 rounds to 5
	if out.Segments[0].StartMs != 2 || out.Segments[0].EndMs != 5 {
		t.Errorf("Expected 2-5, got %d-%d", out.Segments[0].StartMs, out.Segments[0].EndMs)
	}
}
