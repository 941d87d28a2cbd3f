package playback

import (
	"sync"
	"time"
)

// SimulatedConfig holds configuration for the timer-driven stand-in source
type SimulatedConfig struct {
	TickInterval time.Duration // Wall-clock time between ticks
	StepMs       int64         // Playback time added per tick
}

// DefaultSimulatedConfig returns a 100ms tick advancing 100ms of playback
func DefaultSimulatedConfig() *SimulatedConfig {
	return &SimulatedConfig{
		TickInterval: 100 * time.Millisecond,
		StepMs:       100,
	}
}

// SimulatedSource advances a local clock while "playing" when no real audio
// is available. It never emits metadata events.
type SimulatedSource struct {
	*Emitter
	config *SimulatedConfig

	mu         sync.Mutex
	currentMs  int64
	durationMs int64
	playing    bool
	stopTick   chan struct{}
	closed     bool
	wg         sync.WaitGroup
}

// NewSimulatedSource creates a simulated source clamped to durationMs
func NewSimulatedSource(durationMs int64, config *SimulatedConfig) *SimulatedSource {
	if config == nil {
		config = DefaultSimulatedConfig()
	}
	return &SimulatedSource{
		Emitter:    NewEmitter(),
		config:     config,
		durationMs: durationMs,
	}
}

// Load is a no-op; simulated playback has nothing to initialise
func (s *SimulatedSource) Load() {}

// SetDuration updates the clamp applied to the simulated clock
func (s *SimulatedSource) SetDuration(ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ms > 0 {
		s.durationMs = ms
	}
}

// TogglePlay starts or stops the tick loop
func (s *SimulatedSource) TogglePlay() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.playing {
		s.stopLocked()
		return
	}

	// Playing from the end starts over
	if s.durationMs > 0 && s.currentMs >= s.durationMs {
		s.currentMs = 0
	}
	s.playing = true
	s.stopTick = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.stopTick)
}

// SeekTo sets the local clock directly
func (s *SimulatedSource) SeekTo(ms int64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.currentMs = s.clamp(ms)
	cur := s.currentMs
	s.mu.Unlock()

	s.Emit(Event{Type: EventTimeUpdated, CurrentMs: cur})
}

// IsPlaying reports whether the tick loop is running
func (s *SimulatedSource) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// CurrentMs returns the simulated position
func (s *SimulatedSource) CurrentMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentMs
}

// Close stops the tick loop, waits for it to exit and drops all listeners
func (s *SimulatedSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopLocked()
	s.mu.Unlock()

	s.wg.Wait()
	s.Emitter.Close()
	return nil
}

func (s *SimulatedSource) stopLocked() {
	s.playing = false
	if s.stopTick != nil {
		close(s.stopTick)
		s.stopTick = nil
	}
}

func (s *SimulatedSource) clamp(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	if s.durationMs > 0 && ms > s.durationMs {
		return s.durationMs
	}
	return ms
}

func (s *SimulatedSource) run(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		select {
		case <-stop:
			// Paused while this tick was waiting for the lock
			s.mu.Unlock()
			return
		default:
		}
		s.currentMs = s.clamp(s.currentMs + s.config.StepMs)
		cur := s.currentMs
		ended := s.durationMs > 0 && cur >= s.durationMs
		if ended {
			s.stopLocked()
		}
		s.mu.Unlock()

		s.Emit(Event{Type: EventTimeUpdated, CurrentMs: cur})
		if ended {
			s.Emit(Event{Type: EventEnded})
			return
		}
	}
}
