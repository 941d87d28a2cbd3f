package orchestrator

// OffsetController holds the manual sync offset. It shifts the time used for
// segment resolution only; stored timestamps and the audio position are never
// touched. Bounds are the caller's business.
//
// OffsetController is not safe for concurrent use; the Orchestrator guards it.
type OffsetController struct {
	offsetMs int64
}

// Set replaces the offset
func (c *OffsetController) Set(ms int64) {
	c.offsetMs = ms
}

// Get returns the offset
func (c *OffsetController) Get() int64 {
	return c.offsetMs
}

// Apply returns the resolver input for a playback time
func (c *OffsetController) Apply(currentMs int64) int64 {
	return currentMs + c.offsetMs
}

// ClampOffset bounds ms to [-limit, limit]. A non-positive limit disables the bound.
func ClampOffset(ms, limit int64) int64 {
	if limit <= 0 {
		return ms
	}
	if ms > limit {
		return limit
	}
	if ms < -limit {
		return -limit
	}
	return ms
}
