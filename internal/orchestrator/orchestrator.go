package orchestrator

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/playback-sync/internal/drift"
	"github.com/lexiqai/playback-sync/internal/observability"
	"github.com/lexiqai/playback-sync/internal/playback"
	"github.com/lexiqai/playback-sync/internal/transcript"
)

// DefaultGracePeriod is how long IsSyncing stays true after a correction
const DefaultGracePeriod = 1500 * time.Millisecond

// DriftCorrectedFunc receives a rescaled transcript and the transcript it
// replaces. It is called at most once per correction cycle, without any
// orchestrator lock held.
type DriftCorrectedFunc func(corrected, original transcript.Conversation)

// Config holds the orchestrator's collaborators and tunables
type Config struct {
	GracePeriod      time.Duration
	Detector         *drift.Detector
	SourceFactory    playback.SourceFactory
	OnDriftCorrected DriftCorrectedFunc
	Logger           *zerolog.Logger
	Metrics          *observability.SessionMetrics
}

// DefaultConfig returns a config with the default detector and sources
func DefaultConfig() *Config {
	return &Config{
		GracePeriod:   DefaultGracePeriod,
		Detector:      drift.NewDetector(nil),
		SourceFactory: playback.NewSourceFactory(nil, nil),
	}
}

type correction struct {
	corrected transcript.Conversation
	original  transcript.Conversation
}

// Orchestrator owns one conversation's playback session: the active
// PlaybackSource, the (possibly rescaled) segments and every piece of
// observable state. Source events, timer callbacks and public operations are
// applied one at a time under a single lock; sources are never called while
// that lock is held.
type Orchestrator struct {
	config  *Config
	logger  zerolog.Logger
	metrics *observability.SessionMetrics

	// swapMu serialises source replacement and shutdown
	swapMu sync.Mutex

	mu          sync.Mutex
	conv        transcript.Conversation
	source      playback.Source
	unsubscribe []func()
	generation  uint64
	locator     string

	currentMs    int64
	durationMs   int64
	playing      bool
	scrubbing    bool
	syncing      bool
	status       SyncStatus
	driftMetrics drift.Metrics
	lastOutcome  string
	offset       OffsetController
	active       int
	mediaErr     string
	version      uint64

	// stops counts ended and error events so a racing TogglePlay cannot
	// resurrect a playing flag the source already cleared
	stops uint64

	graceTimer  *time.Timer
	watchers    map[int]func(State)
	nextWatcher int
	closed      bool
}

// New creates an orchestrator for conv. The orchestrator keeps its own copy
// of conv. No source is attached until SetSource is called.
func New(conv transcript.Conversation, config *Config) *Orchestrator {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.GracePeriod < 0 {
		config.GracePeriod = 0
	}
	if config.Detector == nil {
		config.Detector = defaults.Detector
	}
	if config.SourceFactory == nil {
		config.SourceFactory = defaults.SourceFactory
	}

	var logger zerolog.Logger
	if config.Logger != nil {
		logger = *config.Logger
	} else {
		logger = observability.SessionLogger(conv.ID, "")
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = observability.NewSessionMetrics(conv.ID)
	}
	metrics.RecordSessionStart()

	o := &Orchestrator{
		config:       config,
		logger:       logger,
		metrics:      metrics,
		conv:         conv.Clone(),
		status:       StatusIdle,
		driftMetrics: drift.NeutralMetrics(),
		watchers:     make(map[int]func(State)),
	}
	o.durationMs = conv.DurationMs
	if o.durationMs <= 0 {
		o.durationMs, _ = conv.ImpliedDurationMs()
	}
	o.resolveLocked()
	return o
}

// Open creates an orchestrator and attaches a source for locator
func Open(conv transcript.Conversation, locator string, config *Config) *Orchestrator {
	o := New(conv, config)
	o.SetSource(locator)
	return o
}

// SetSource replaces the playback source. The previous source is fully torn
// down (listeners removed, timers stopped) before the next one is built, and
// any pending sync grace timer is cancelled. An empty locator selects
// simulated playback.
func (o *Orchestrator) SetSource(locator string) {
	o.swapMu.Lock()
	defer o.swapMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	old, oldUnsub := o.source, o.unsubscribe
	o.source, o.unsubscribe = nil, nil
	o.generation++
	gen := o.generation
	o.cancelGraceLocked()
	o.locator = locator
	o.currentMs = 0
	o.playing = false
	o.scrubbing = false
	o.mediaErr = ""
	o.resolveLocked()
	durationMs := o.durationMs
	o.mu.Unlock()

	for _, unsub := range oldUnsub {
		unsub()
	}
	if old != nil {
		if err := old.Close(); err != nil {
			o.logger.Warn().Err(err).Msg("Error closing previous playback source")
		}
	}

	src := o.config.SourceFactory(locator, durationMs)
	var unsubs []func()
	for _, t := range []playback.EventType{
		playback.EventMetadataLoaded,
		playback.EventDurationChanged,
		playback.EventTimeUpdated,
		playback.EventEnded,
		playback.EventError,
	} {
		unsubs = append(unsubs, src.Subscribe(t, func(ev playback.Event) {
			o.handleEvent(gen, ev)
		}))
	}

	o.mu.Lock()
	o.source, o.unsubscribe = src, unsubs
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.metrics.RecordSourceLoad(locator == "")
	o.logger.Info().
		Str("locator", locator).
		Bool("simulated", locator == "").
		Uint64("generation", gen).
		Msg("Playback source attached")

	src.Load()
	o.notify(snap)
}

func (o *Orchestrator) handleEvent(gen uint64, ev playback.Event) {
	o.mu.Lock()
	if o.closed || gen != o.generation {
		o.mu.Unlock()
		return
	}

	var fix *correction
	switch ev.Type {
	case playback.EventMetadataLoaded:
		if audioMs, ok := o.applyDurationLocked(ev.DurationMs); ok {
			fix = o.detectLocked(audioMs, gen)
		}

	case playback.EventDurationChanged:
		o.applyDurationLocked(ev.DurationMs)

	case playback.EventTimeUpdated:
		if !o.scrubbing {
			o.currentMs = ev.CurrentMs
		}

	case playback.EventEnded:
		o.playing = false
		o.stops++

	case playback.EventError:
		o.playing = false
		o.stops++
		if ev.Err != nil {
			o.mediaErr = ev.Err.Error()
		}
		o.metrics.RecordError(observability.ErrorMediaLoad, observability.ComponentPlayback)
		o.logger.Warn().
			Err(ev.Err).
			Str("locator", o.locator).
			Int64("duration_ms", o.durationMs).
			Msg("Media failed to load, keeping last known duration")
	}

	o.resolveLocked()
	snap := o.snapshotLocked()
	o.mu.Unlock()

	if fix != nil && o.config.OnDriftCorrected != nil {
		o.config.OnDriftCorrected(fix.corrected, fix.original)
	}
	o.notify(snap)
}

// applyDurationLocked validates a reported duration. Non-finite and
// non-positive reports are ignored and the previous value kept.
func (o *Orchestrator) applyDurationLocked(reported float64) (int64, bool) {
	if math.IsNaN(reported) || math.IsInf(reported, 0) || reported <= 0 {
		o.metrics.RecordError(observability.ErrorInvalidDuration, observability.ComponentPlayback)
		o.logger.Warn().
			Float64("reported_ms", reported).
			Int64("kept_ms", o.durationMs).
			Msg("Ignoring invalid duration report")
		return 0, false
	}
	ms := int64(math.Round(reported))
	if ms <= 0 {
		return 0, false
	}
	o.durationMs = ms
	return ms, true
}

// detectLocked runs drift detection for a freshly loaded audio duration and,
// when required, rescales the owned segments and starts the grace timer.
func (o *Orchestrator) detectLocked(audioMs int64, gen uint64) *correction {
	dec := o.config.Detector.Detect(drift.Input{
		AudioDurationMs: audioMs,
		Segments:        o.conv.Segments,
		AlignmentStatus: o.conv.AlignmentStatus,
		IsSyncing:       o.syncing,
	})
	outcome := dec.Outcome.String()
	o.metrics.RecordDriftDecision(outcome, dec.Metrics.AbsoluteDriftMs,
		dec.Outcome == drift.OutcomeNoCorrection || dec.Outcome == drift.OutcomeCorrectionRequired)

	switch dec.Outcome {
	case drift.OutcomeSkipped:
		if o.syncing {
			o.metrics.RecordError(observability.ErrorConcurrentCorrect, observability.ComponentOrchestrator)
			o.logger.Debug().Msg("Drift correction already in progress, ignoring")
		}
		return nil

	case drift.OutcomeServerAligned:
		o.driftMetrics = dec.Metrics
		o.lastOutcome = outcome
		o.logger.Info().
			Str("alignment_status", string(o.conv.AlignmentStatus)).
			Msg("Server-side alignment present, skipping drift correction")
		return nil

	case drift.OutcomeNoCorrection:
		o.driftMetrics = dec.Metrics
		o.lastOutcome = outcome
		o.logger.Debug().
			Float64("ratio", dec.Metrics.Ratio).
			Int64("drift_ms", dec.Metrics.AbsoluteDriftMs).
			Msg("Drift within threshold")
		return nil
	}

	o.syncing = true
	o.status = StatusCorrecting

	original := o.conv.Clone()
	o.conv = drift.Rescale(o.conv, dec.Metrics.Ratio, audioMs)

	applied := dec.Metrics
	applied.CorrectionApplied = true
	o.driftMetrics = applied
	o.lastOutcome = outcome

	o.logger.Info().
		Float64("ratio", applied.Ratio).
		Int64("drift_ms", applied.AbsoluteDriftMs).
		Int64("audio_duration_ms", audioMs).
		Int("segments", len(o.conv.Segments)).
		Msg("Transcript drift corrected")

	o.graceTimer = time.AfterFunc(o.config.GracePeriod, func() {
		o.endGrace(gen)
	})

	return &correction{corrected: o.conv.Clone(), original: original}
}

func (o *Orchestrator) endGrace(gen uint64) {
	o.mu.Lock()
	if o.closed || gen != o.generation || !o.syncing {
		o.mu.Unlock()
		return
	}
	o.syncing = false
	o.status = StatusIdle
	o.graceTimer = nil
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.notify(snap)
}

func (o *Orchestrator) cancelGraceLocked() {
	if o.graceTimer != nil {
		o.graceTimer.Stop()
		o.graceTimer = nil
	}
	o.syncing = false
	o.status = StatusIdle
}

// TogglePlay starts or pauses playback
func (o *Orchestrator) TogglePlay() {
	o.mu.Lock()
	src, gen, stops := o.source, o.generation, o.stops
	o.mu.Unlock()
	if src == nil {
		return
	}

	src.TogglePlay()
	playing := src.IsPlaying()

	o.mu.Lock()
	if o.closed || gen != o.generation {
		o.mu.Unlock()
		return
	}
	if stops == o.stops {
		o.playing = playing
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.notify(snap)
}

// SeekTo commits an absolute time to the visual state and the source. It does
// not wait for the source to finish seeking.
func (o *Orchestrator) SeekTo(ms int64) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	ms = o.clampLocked(ms)
	o.currentMs = ms
	o.scrubbing = false
	o.resolveLocked()
	src := o.source
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.notify(snap)
	if src != nil {
		src.SeekTo(ms)
	}
}

// Scrub updates the visual time only, e.g. while a position control is being
// dragged. Source time updates are ignored until the next SeekTo.
func (o *Orchestrator) Scrub(ms int64) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.currentMs = o.clampLocked(ms)
	o.scrubbing = true
	o.resolveLocked()
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.notify(snap)
}

// SetSyncOffset replaces the manual offset applied to segment resolution
func (o *Orchestrator) SetSyncOffset(ms int64) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.offset.Set(ms)
	o.resolveLocked()
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.notify(snap)
}

// State returns the current observable state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Conversation returns a copy of the owned, possibly rescaled, conversation
func (o *Orchestrator) Conversation() transcript.Conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conv.Clone()
}

// Watch registers fn to receive a snapshot after every state transition.
// fn runs on the goroutine that caused the transition and must not block.
func (o *Orchestrator) Watch(fn func(State)) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextWatcher++
	id := o.nextWatcher
	o.watchers[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.watchers, id)
	}
}

// Close detaches and disposes the source, cancels the grace timer and drops
// all watchers. The orchestrator is unusable afterwards.
func (o *Orchestrator) Close() error {
	o.swapMu.Lock()
	defer o.swapMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.generation++
	o.cancelGraceLocked()
	src, unsubs := o.source, o.unsubscribe
	o.source, o.unsubscribe = nil, nil
	o.watchers = make(map[int]func(State))
	o.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	var err error
	if src != nil {
		err = src.Close()
	}
	o.metrics.RecordSessionEnd()
	o.logger.Info().Msg("Playback session closed")
	return err
}

func (o *Orchestrator) clampLocked(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	if o.durationMs > 0 && ms > o.durationMs {
		return o.durationMs
	}
	return ms
}

func (o *Orchestrator) resolveLocked() {
	o.active = transcript.Resolve(o.offset.Apply(o.currentMs), o.conv.Segments)
}

func (o *Orchestrator) snapshotLocked() State {
	o.version++
	return State{
		Version:            o.version,
		IsPlaying:          o.playing,
		CurrentTimeMs:      o.currentMs,
		DurationMs:         o.durationMs,
		ActiveSegmentIndex: o.active,
		IsSyncing:          o.syncing,
		SyncStatus:         o.status,
		DriftMetrics:       o.driftMetrics,
		LastDriftOutcome:   o.lastOutcome,
		SyncOffsetMs:       o.offset.Get(),
		Simulated:          o.locator == "",
		MediaError:         o.mediaErr,
	}
}

func (o *Orchestrator) notify(snap State) {
	o.mu.Lock()
	fns := make([]func(State), 0, len(o.watchers))
	for _, fn := range o.watchers {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
