package transcript

// NoSegment is returned by Resolve when no segment is active
const NoSegment = -1

// Resolve returns the index of the segment active at adjustedMs, or NoSegment.
//
// adjustedMs is the playback time with the manual sync offset already applied.
// Segments may overlap or leave gaps:
//   - If several segments contain adjustedMs, the one whose start is closest
//     wins, so seeking to a segment's own start highlights that segment and not
//     an overlapping predecessor.
//   - Inside a gap the previous segment stays active until the next one begins.
//   - Before the first segment (or with no segments) nothing is active.
func Resolve(adjustedMs int64, segments []Segment) int {
	best := NoSegment
	var bestDist int64
	for i, s := range segments {
		if adjustedMs < s.StartMs || adjustedMs >= s.EndMs {
			continue
		}
		dist := abs(s.StartMs - adjustedMs)
		if best == NoSegment || dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	if best != NoSegment {
		return best
	}

	if adjustedMs <= 0 {
		return NoSegment
	}

	last := len(segments) - 1
	for i := last; i >= 0; i-- {
		if segments[i].EndMs > adjustedMs {
			continue
		}
		if i == last || segments[i+1].StartMs > adjustedMs {
			return i
		}
	}
	return NoSegment
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
