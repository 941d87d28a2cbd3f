package transcript

import (
	"errors"
	"maps"
)

// ErrEmptyTranscript is returned when an operation needs at least one segment
var ErrEmptyTranscript = errors.New("transcript has no segments")

// AlignmentStatus is the server-set trust level of segment timestamps
type AlignmentStatus string

const (
	AlignmentPending  AlignmentStatus = "pending"
	AlignmentAligned  AlignmentStatus = "aligned"
	AlignmentFallback AlignmentStatus = "fallback"
)

// IsServerAligned reports whether an upstream timestamp pass already ran.
// Client-side drift correction must not run for these conversations.
func (s AlignmentStatus) IsServerAligned() bool {
	return s == AlignmentAligned || s == AlignmentFallback
}

// Segment is a single timestamped transcript unit
type Segment struct {
	ID        string            `json:"segment_id"`
	StartMs   int64             `json:"start_ms"`
	EndMs     int64             `json:"end_ms"`
	SpeakerID string            `json:"speaker_id,omitempty"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"` // Opaque to the sync engine
}

// Clone returns a deep copy of the segment
func (s Segment) Clone() Segment {
	s.Metadata = maps.Clone(s.Metadata)
	return s
}

// Conversation is a transcript plus the audio it belongs to
type Conversation struct {
	ID              string          `json:"conversation_id"`
	Segments        []Segment       `json:"segments"`
	DurationMs      int64           `json:"duration_ms"`
	AlignmentStatus AlignmentStatus `json:"alignment_status"`
}

// Clone returns a deep copy of the conversation
func (c Conversation) Clone() Conversation {
	out := c
	if c.Segments != nil {
		out.Segments = make([]Segment, len(c.Segments))
		for i, s := range c.Segments {
			out.Segments[i] = s.Clone()
		}
	}
	return out
}

// ImpliedDurationMs returns the last segment's end time.
// The second return value is false when there are no segments.
func (c Conversation) ImpliedDurationMs() (int64, bool) {
	return ImpliedDurationMs(c.Segments)
}

// ImpliedDurationMs returns the transcript-implied duration of segments
func ImpliedDurationMs(segments []Segment) (int64, bool) {
	if len(segments) == 0 {
		return 0, false
	}
	return segments[len(segments)-1].EndMs, true
}

// Validate checks segment ids are unique and every range is non-empty
func (c Conversation) Validate() error {
	seen := make(map[string]struct{}, len(c.Segments))
	for i, s := range c.Segments {
		if s.StartMs >= s.EndMs {
			return &SegmentError{Index: i, ID: s.ID, Reason: "start must be before end"}
		}
		if s.StartMs < 0 {
			return &SegmentError{Index: i, ID: s.ID, Reason: "negative start"}
		}
		if _, dup := seen[s.ID]; dup {
			return &SegmentError{Index: i, ID: s.ID, Reason: "duplicate segment id"}
		}
		seen[s.ID] = struct{}{}
	}
	switch c.AlignmentStatus {
	case AlignmentPending, AlignmentAligned, AlignmentFallback, "":
	default:
		return errors.New("unknown alignment status: " + string(c.AlignmentStatus))
	}
	return nil
}

// SegmentError describes an invalid segment
type SegmentError struct {
	Index  int
	ID     string
	Reason string
}

func (e *SegmentError) Error() string {
	return "invalid segment " + e.ID + ": " + e.Reason
}
