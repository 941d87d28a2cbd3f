package playback

import (
	"errors"
	"fmt"
)

// ErrSourceClosed is returned by operations on a disposed source
var ErrSourceClosed = errors.New("playback source closed")

// EventType identifies a playback lifecycle event
type EventType int

const (
	EventMetadataLoaded EventType = iota
	EventDurationChanged
	EventTimeUpdated
	EventEnded
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventMetadataLoaded:
		return "metadata_loaded"
	case EventDurationChanged:
		return "duration_changed"
	case EventTimeUpdated:
		return "time_updated"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is a single notification from a Source.
// DurationMs is a float so media backends can report NaN or Inf.
type Event struct {
	Type       EventType
	DurationMs float64 // metadata_loaded, duration_changed
	CurrentMs  int64   // time_updated
	Err        error   // error
}

// Handler receives events from a Source
type Handler func(Event)

// Source is a time-reporting playback backend.
// Implementations emit events from their own goroutines.
type Source interface {
	// Subscribe registers h for events of type t and returns a function that
	// removes the registration.
	Subscribe(t EventType, h Handler) (unsubscribe func())

	// Load starts initialising the source. Events may follow asynchronously.
	Load()

	// TogglePlay flips between playing and paused
	TogglePlay()

	// SeekTo moves the playback position. Completion may be asynchronous.
	SeekTo(ms int64)

	// IsPlaying reports whether the source is currently advancing
	IsPlaying() bool

	// CurrentMs returns the source's own notion of playback position
	CurrentMs() int64

	// Close stops timers and drops every listener
	Close() error
}

// MediaLoadError wraps a failure to initialise or play an audio resource
type MediaLoadError struct {
	Locator string
	Err     error
}

func (e *MediaLoadError) Error() string {
	return fmt.Sprintf("loading media %q: %v", e.Locator, e.Err)
}

func (e *MediaLoadError) Unwrap() error {
	return e.Err
}
