package transcript

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
)

type (
	whisperxResult struct {
		Segments []whisperxSegment `json:"segments"`
	}

	whisperxSegment struct {
		Text    string          `json:"text"`
		Start   decimal.Decimal `json:"start"`
		End     decimal.Decimal `json:"end"`
		Speaker string          `json:"speaker"`
	}
)

var msPerSecond = decimal.NewFromInt(1000)

// ParseWhisperX decodes a whisperx JSON result into a pending conversation.
// Segment times are given in decimal seconds and rounded to whole milliseconds.
func ParseWhisperX(r io.Reader, conversationID string) (Conversation, error) {
	var wr whisperxResult
	if err := json.NewDecoder(r).Decode(&wr); err != nil {
		return Conversation{}, fmt.Errorf("decoding whisperx json result: %w", err)
	}

	conv := Conversation{
		ID:              conversationID,
		Segments:        make([]Segment, 0, len(wr.Segments)),
		AlignmentStatus: AlignmentPending,
	}
	for n, s := range wr.Segments {
		seg := Segment{
			ID:        fmt.Sprintf("%s-%d", conversationID, n),
			StartMs:   secondsToMs(s.Start),
			EndMs:     secondsToMs(s.End),
			SpeakerID: s.Speaker,
			Text:      s.Text,
		}
		// whisperx occasionally emits zero-length segments for single tokens
		if seg.EndMs <= seg.StartMs {
			seg.EndMs = seg.StartMs + 1
		}
		conv.Segments = append(conv.Segments, seg)
	}

	if d, ok := conv.ImpliedDurationMs(); ok {
		conv.DurationMs = d
	}
	if err := conv.Validate(); err != nil {
		return Conversation{}, fmt.Errorf("parsing whisperx result: %w", err)
	}
	return conv, nil
}

func secondsToMs(d decimal.Decimal) int64 {
	return d.Mul(msPerSecond).Round(0).IntPart()
}
