package playback

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"time"

	"github.com/lexiqai/playback-sync/internal/resilience"
)

// MediaConfig holds configuration for a real audio source
type MediaConfig struct {
	TimeUpdateInterval time.Duration // How often time_updated fires while playing
	Probe              Prober
	Retry              *resilience.RetryConfig // Applied to the probe
}

// DefaultMediaConfig returns a WAV-backed source reporting every 250ms
func DefaultMediaConfig() *MediaConfig {
	return &MediaConfig{
		TimeUpdateInterval: 250 * time.Millisecond,
		Probe:              ProbeWAV,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        time.Second,
			BackoffMultiplier: 2.0,
		},
	}
}

// MediaSource plays a real audio resource against the wall clock.
// Duration comes from probing the resource; position is derived from the
// time elapsed since playback last (re)started.
type MediaSource struct {
	*Emitter
	locator string
	config  *MediaConfig
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	durationMs int64
	loaded     bool
	failed     bool
	playing    bool
	baseMs     int64
	startedAt  time.Time
	stopTick   chan struct{}
	closed     bool
}

// NewMediaSource creates a source for locator. Call Load to start probing.
func NewMediaSource(locator string, config *MediaConfig) *MediaSource {
	if config == nil {
		config = DefaultMediaConfig()
	}
	if config.Probe == nil {
		config.Probe = ProbeWAV
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MediaSource{
		Emitter: NewEmitter(),
		locator: locator,
		config:  config,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Locator returns the resource this source plays
func (m *MediaSource) Locator() string {
	return m.locator
}

// Load probes the resource in the background and emits metadata_loaded or error
func (m *MediaSource) Load() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()

		var d time.Duration
		err := resilience.RetryContext(m.ctx, func() error {
			var perr error
			d, perr = m.config.Probe(m.ctx, m.locator)
			return perr
		}, m.config.Retry, isRetryableMediaError)

		if m.ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		if err != nil {
			m.failed = true
		} else {
			m.loaded = true
			m.failed = false
			m.durationMs = d.Milliseconds()
		}
		m.mu.Unlock()

		if err != nil {
			m.Emit(Event{Type: EventError, Err: &MediaLoadError{Locator: m.locator, Err: err}})
			return
		}
		m.Emit(Event{Type: EventMetadataLoaded, DurationMs: float64(d) / float64(time.Millisecond)})
	}()
}

func isRetryableMediaError(err error) bool {
	return !errors.Is(err, fs.ErrNotExist) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// TogglePlay starts or pauses playback. A source that failed to load or has
// not finished loading cannot progress and ignores the call.
func (m *MediaSource) TogglePlay() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.failed || !m.loaded {
		return
	}
	if m.playing {
		m.baseMs = m.positionLocked()
		m.stopLocked()
		return
	}

	if m.durationMs > 0 && m.baseMs >= m.durationMs {
		m.baseMs = 0
	}
	m.playing = true
	m.startedAt = m.now()
	m.stopTick = make(chan struct{})
	m.wg.Add(1)
	go m.run(m.stopTick)
}

// SeekTo moves the position and reports it asynchronously, like a media
// element completing a seek.
func (m *MediaSource) SeekTo(ms int64) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if ms < 0 {
		ms = 0
	}
	if m.durationMs > 0 && ms > m.durationMs {
		ms = m.durationMs
	}
	m.baseMs = ms
	m.startedAt = m.now()
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		if m.ctx.Err() != nil {
			return
		}
		m.Emit(Event{Type: EventTimeUpdated, CurrentMs: ms})
	}()
}

// IsPlaying reports whether the wall clock is advancing the position
func (m *MediaSource) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// CurrentMs returns the current position
func (m *MediaSource) CurrentMs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positionLocked()
}

// DurationMs returns the probed duration, or 0 before metadata has loaded
func (m *MediaSource) DurationMs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.durationMs
}

// Close cancels any pending probe, stops the clock and drops all listeners
func (m *MediaSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cancel()
	m.stopLocked()
	m.mu.Unlock()

	m.wg.Wait()
	m.Emitter.Close()
	return nil
}

func (m *MediaSource) positionLocked() int64 {
	pos := m.baseMs
	if m.playing {
		pos += m.now().Sub(m.startedAt).Milliseconds()
	}
	if m.durationMs > 0 && pos > m.durationMs {
		pos = m.durationMs
	}
	return pos
}

func (m *MediaSource) stopLocked() {
	m.playing = false
	if m.stopTick != nil {
		close(m.stopTick)
		m.stopTick = nil
	}
}

func (m *MediaSource) run(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.TimeUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		select {
		case <-stop:
			m.mu.Unlock()
			return
		default:
		}
		pos := m.positionLocked()
		ended := m.durationMs > 0 && pos >= m.durationMs
		if ended {
			m.baseMs = m.durationMs
			m.stopLocked()
		}
		m.mu.Unlock()

		m.Emit(Event{Type: EventTimeUpdated, CurrentMs: pos})
		if ended {
			m.Emit(Event{Type: EventEnded})
			return
		}
	}
}
