package drift

import (
	"math"

	"github.com/lexiqai/playback-sync/internal/transcript"
)

// Rescale returns a copy of conv with every segment boundary multiplied by
// ratio and the duration set to audioDurationMs. conv is not modified.
//
// Boundaries are rounded half away from zero (math.Round). Segment ids and
// all non-timing fields are preserved.
func Rescale(conv transcript.Conversation, ratio float64, audioDurationMs int64) transcript.Conversation {
	out := conv.Clone()
	for i := range out.Segments {
		s := &out.Segments[i]
		s.StartMs = scale(s.StartMs, ratio)
		s.EndMs = scale(s.EndMs, ratio)
	}
	out.DurationMs = audioDurationMs
	return out
}

func scale(ms int64, ratio float64) int64 {
	return int64(math.Round(float64(ms) * ratio))
}
