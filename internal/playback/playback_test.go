package playback

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) waitFor(t *testing.T, typ EventType) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range r.snapshot() {
			if ev.Type == typ {
				return ev
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s event", typ)
	return Event{}
}

func subscribeAll(s Source, r *recorder) {
	for _, typ := range []EventType{EventMetadataLoaded, EventDurationChanged, EventTimeUpdated, EventEnded, EventError} {
		s.Subscribe(typ, r.handle)
	}
}

func TestEmitter_SubscribeUnsubscribe(t *testing.T) {
	e := NewEmitter()
	calls := 0
	unsub := e.Subscribe(EventEnded, func(Event) { calls++ })

	e.Emit(Event{Type: EventEnded})
	e.Emit(Event{Type: EventTimeUpdated})
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}

	unsub()
	e.Emit(Event{Type: EventEnded})
	if calls != 1 {
		t.Errorf("Expected no calls after unsubscribe, got %d", calls)
	}
	if e.Count(EventEnded) != 0 {
		t.Errorf("Expected 0 listeners, got %d", e.Count(EventEnded))
	}
}

func TestEmitter_CloseDropsListeners(t *testing.T) {
	e := NewEmitter()
	calls := 0
	e.Subscribe(EventEnded, func(Event) { calls++ })

	e.Close()
	e.Emit(Event{Type: EventEnded})
	e.Subscribe(EventEnded, func(Event) { calls++ })
	e.Emit(Event{Type: EventEnded})

	if calls != 0 {
		t.Errorf("Expected no calls after close, got %d", calls)
	}
}

func TestSimulatedSource_PlaysToEnd(t *testing.T) {
	s := NewSimulatedSource(300, &SimulatedConfig{TickInterval: 2 * time.Millisecond, StepMs: 100})
	defer s.Close()
	r := &recorder{}
	subscribeAll(s, r)

	s.TogglePlay()
	if !s.IsPlaying() {
		t.Fatal("Expected source to be playing")
	}

	r.waitFor(t, EventEnded)

	if s.IsPlaying() {
		t.Error("Expected source to stop at the end")
	}
	if s.CurrentMs() != 300 {
		t.Errorf("Expected position clamped to 300, got %d", s.CurrentMs())
	}

	var times []int64
	for _, ev := range r.snapshot() {
		if ev.Type == EventTimeUpdated {
			times = append(times, ev.CurrentMs)
		}
		if ev.Type == EventMetadataLoaded {
			t.Error("Expected simulated source to never emit metadata")
		}
	}
	expected := []int64{100, 200, 300}
	if len(times) != len(expected) {
		t.Fatalf("Expected time updates %v, got %v", expected, times)
	}
	for i := range expected {
		if times[i] != expected[i] {
			t.Errorf("Expected %d at update %d, got %d", expected[i], i, times[i])
		}
	}
}

func TestSimulatedSource_ClampsOvershoot(t *testing.T) {
	s := NewSimulatedSource(250, &SimulatedConfig{TickInterval: 2 * time.Millisecond, StepMs: 100})
	defer s.Close()
	r := &recorder{}
	subscribeAll(s, r)

	s.TogglePlay()
	r.waitFor(t, EventEnded)

	if s.CurrentMs() != 250 {
		t.Errorf("Expected position clamped to 250, got %d", s.CurrentMs())
	}
}

func TestSimulatedSource_PauseStopsClock(t *testing.T) {
	s := NewSimulatedSource(0, &SimulatedConfig{TickInterval: 2 * time.Millisecond, StepMs: 100})
	defer s.Close()

	s.TogglePlay()
	time.Sleep(20 * time.Millisecond)
	s.TogglePlay()

	if s.IsPlaying() {
		t.Fatal("Expected source to be paused")
	}
	paused := s.CurrentMs()
	time.Sleep(20 * time.Millisecond)
	if s.CurrentMs() != paused {
		t.Errorf("Expected clock to stay at %d while paused, got %d", paused, s.CurrentMs())
	}
}

func TestSimulatedSource_Seek(t *testing.T) {
	s := NewSimulatedSource(1000, nil)
	defer s.Close()
	r := &recorder{}
	subscribeAll(s, r)

	s.SeekTo(400)
	if s.CurrentMs() != 400 {
		t.Errorf("Expected 400, got %d", s.CurrentMs())
	}
	s.SeekTo(5000)
	if s.CurrentMs() != 1000 {
		t.Errorf("Expected seek clamped to 1000, got %d", s.CurrentMs())
	}
	s.SeekTo(-5)
	if s.CurrentMs() != 0 {
		t.Errorf("Expected seek clamped to 0, got %d", s.CurrentMs())
	}
	if n := len(r.snapshot()); n != 3 {
		t.Errorf("Expected 3 time updates, got %d", n)
	}
}

func TestSimulatedSource_ReplayFromEnd(t *testing.T) {
	s := NewSimulatedSource(1000, &SimulatedConfig{TickInterval: time.Hour, StepMs: 100})
	defer s.Close()

	s.SeekTo(1000)
	s.TogglePlay()
	if s.CurrentMs() != 0 {
		t.Errorf("Expected play at end to restart from 0, got %d", s.CurrentMs())
	}
}

func TestSimulatedSource_CloseStopsEvents(t *testing.T) {
	s := NewSimulatedSource(0, &SimulatedConfig{TickInterval: time.Millisecond, StepMs: 100})
	r := &recorder{}
	subscribeAll(s, r)

	s.TogglePlay()
	time.Sleep(10 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	n := len(r.snapshot())
	time.Sleep(10 * time.Millisecond)
	if len(r.snapshot()) != n {
		t.Error("Expected no events after Close")
	}
	if s.IsPlaying() {
		t.Error("Expected closed source to not be playing")
	}
	s.TogglePlay()
	if s.IsPlaying() {
		t.Error("Expected TogglePlay on closed source to be a no-op")
	}
}

func fixedProbe(d time.Duration, err error) Prober {
	return func(ctx context.Context, locator string) (time.Duration, error) {
		return d, err
	}
}

func TestMediaSource_MetadataLoaded(t *testing.T) {
	m := NewMediaSource("talk.wav", &MediaConfig{
		TimeUpdateInterval: 2 * time.Millisecond,
		Probe:              fixedProbe(1500*time.Millisecond, nil),
	})
	defer m.Close()
	r := &recorder{}
	subscribeAll(m, r)

	m.Load()
	ev := r.waitFor(t, EventMetadataLoaded)
	if ev.DurationMs != 1500 {
		t.Errorf("Expected duration 1500, got %f", ev.DurationMs)
	}
	if m.DurationMs() != 1500 {
		t.Errorf("Expected stored duration 1500, got %d", m.DurationMs())
	}
}

func TestMediaSource_PlaysAgainstClock(t *testing.T) {
	m := NewMediaSource("talk.wav", &MediaConfig{
		TimeUpdateInterval: time.Millisecond,
		Probe:              fixedProbe(1000*time.Millisecond, nil),
	})
	defer m.Close()

	base := time.Unix(0, 0)
	var mu sync.Mutex
	now := base
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	r := &recorder{}
	subscribeAll(m, r)
	m.Load()
	r.waitFor(t, EventMetadataLoaded)

	m.TogglePlay()
	if !m.IsPlaying() {
		t.Fatal("Expected media to be playing")
	}

	mu.Lock()
	now = base.Add(400 * time.Millisecond)
	mu.Unlock()
	if got := m.CurrentMs(); got != 400 {
		t.Errorf("Expected position 400, got %d", got)
	}

	mu.Lock()
	now = base.Add(2 * time.Second)
	mu.Unlock()
	r.waitFor(t, EventEnded)
	if m.IsPlaying() {
		t.Error("Expected media to stop at the end")
	}
	if got := m.CurrentMs(); got != 1000 {
		t.Errorf("Expected position clamped to 1000, got %d", got)
	}
}

func TestMediaSource_LoadError(t *testing.T) {
	m := NewMediaSource("missing.wav", &MediaConfig{
		TimeUpdateInterval: time.Millisecond,
		Probe:              fixedProbe(0, os.ErrNotExist),
	})
	defer m.Close()
	r := &recorder{}
	subscribeAll(m, r)

	m.Load()
	ev := r.waitFor(t, EventError)

	var loadErr *MediaLoadError
	if !errors.As(ev.Err, &loadErr) {
		t.Fatalf("Expected MediaLoadError, got %v", ev.Err)
	}
	if loadErr.Locator != "missing.wav" {
		t.Errorf("Expected locator 'missing.wav', got '%s'", loadErr.Locator)
	}

	m.TogglePlay()
	if m.IsPlaying() {
		t.Error("Expected failed media to refuse to play")
	}
}

func TestMediaSource_RetriesTransientProbeErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	probe := func(ctx context.Context, locator string) (time.Duration, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 2 {
			return 0, errors.New("resource temporarily unavailable")
		}
		return time.Second, nil
	}

	m := NewMediaSource("talk.wav", &MediaConfig{TimeUpdateInterval: time.Millisecond, Probe: probe})
	defer m.Close()
	r := &recorder{}
	subscribeAll(m, r)

	m.Load()
	r.waitFor(t, EventMetadataLoaded)

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("Expected 2 probe attempts, got %d", attempts)
	}
}

func TestMediaSource_CloseCancelsProbe(t *testing.T) {
	started := make(chan struct{})
	probe := func(ctx context.Context, locator string) (time.Duration, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	}

	m := NewMediaSource("slow.wav", &MediaConfig{TimeUpdateInterval: time.Millisecond, Probe: probe})
	r := &recorder{}
	subscribeAll(m, r)

	m.Load()
	<-started
	m.Close()

	if n := len(r.snapshot()); n != 0 {
		t.Errorf("Expected no events from a cancelled probe, got %d", n)
	}
}

func TestMediaSource_SeekReportsAsync(t *testing.T) {
	m := NewMediaSource("talk.wav", &MediaConfig{
		TimeUpdateInterval: time.Millisecond,
		Probe:              fixedProbe(time.Second, nil),
	})
	defer m.Close()
	r := &recorder{}
	subscribeAll(m, r)

	m.Load()
	r.waitFor(t, EventMetadataLoaded)

	m.SeekTo(5000)
	ev := r.waitFor(t, EventTimeUpdated)
	if ev.CurrentMs != 1000 {
		t.Errorf("Expected seek clamped to 1000, got %d", ev.CurrentMs)
	}
}

func writeTestWAV(t *testing.T, path string, sampleRate uint32, dataBytes uint32) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	header := struct {
		ChunkID       [4]byte
		ChunkSize     uint32
		Format        [4]byte
		Subchunk1ID   [4]byte
		Subchunk1Size uint32
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Subchunk2ID   [4]byte
		Subchunk2Size uint32
	}{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     dataBytes + 36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataBytes,
	}
	if err := binary.Write(f, binary.LittleEndian, header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := f.Write(make([]byte, dataBytes)); err != nil {
		t.Fatalf("write data: %v", err)
	}
}

func TestProbeWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one-second.wav")
	writeTestWAV(t, path, 8000, 16000)

	d, err := ProbeWAV(context.Background(), path)
	if err != nil {
		t.Fatalf("ProbeWAV() failed: %v", err)
	}
	if d != time.Second {
		t.Errorf("Expected 1s, got %v", d)
	}
}

func TestProbeWAV_Missing(t *testing.T) {
	_, err := ProbeWAV(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}

func TestDirResolver(t *testing.T) {
	dir := t.TempDir()
	writeTestWAV(t, filepath.Join(dir, "conv-1.wav"), 8000, 160)
	r := DirResolver{Dir: dir}

	loc, err := r.Resolve(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if loc != filepath.Join(dir, "conv-1.wav") {
		t.Errorf("Expected wav path, got '%s'", loc)
	}

	loc, err = r.Resolve(context.Background(), "conv-2")
	if err != nil || loc != "" {
		t.Errorf("Expected empty locator for missing audio, got '%s' (%v)", loc, err)
	}

	if _, err := r.Resolve(context.Background(), "../etc/passwd"); err == nil {
		t.Error("Expected error for path traversal")
	}
}

func TestNewSourceFactory(t *testing.T) {
	factory := NewSourceFactory(nil, nil)

	sim := factory("", 1000)
	defer sim.Close()
	if _, ok := sim.(*SimulatedSource); !ok {
		t.Errorf("Expected SimulatedSource for empty locator, got %T", sim)
	}

	media := factory("talk.wav", 1000)
	defer media.Close()
	if _, ok := media.(*MediaSource); !ok {
		t.Errorf("Expected MediaSource for locator, got %T", media)
	}
}

func TestWatchLocator(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conv.wav")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)
	ready := make(chan error, 1)
	go func() {
		ready <- WatchLocator(ctx, path, zerolog.Nop(), func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	// Give the watcher time to register the directory
	time.Sleep(50 * time.Millisecond)
	writeTestWAV(t, filepath.Join(dir, "other.wav"), 8000, 160)
	writeTestWAV(t, path, 8000, 160)

	select {
	case <-changed:
	case err := <-ready:
		t.Fatalf("Watcher exited early: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("Expected change notification")
	}

	cancel()
	select {
	case err := <-ready:
		if err != nil {
			t.Errorf("Expected nil error on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Expected watcher to exit on cancel")
	}
}
