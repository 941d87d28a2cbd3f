package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/playback-sync/internal/drift"
	"github.com/lexiqai/playback-sync/internal/observability"
	"github.com/lexiqai/playback-sync/internal/orchestrator"
	"github.com/lexiqai/playback-sync/internal/playback"
	"github.com/lexiqai/playback-sync/internal/transcript"
)

// ErrManagerClosed is returned by Acquire after Close
var ErrManagerClosed = errors.New("session manager closed")

// ConversationLoader fetches the transcript a session plays against
type ConversationLoader interface {
	Get(ctx context.Context, id string) (transcript.Conversation, error)
}

// ManagerConfig holds what every playback session is built from
type ManagerConfig struct {
	Loader           ConversationLoader
	Locator          playback.LocatorResolver
	SourceFactory    playback.SourceFactory
	Detector         *drift.Detector
	GracePeriod      time.Duration
	OnDriftCorrected orchestrator.DriftCorrectedFunc
	WatchAudio       bool
	OffsetLimitMs    int64
}

// Session is one conversation's orchestrator shared by all its clients
type Session struct {
	ConversationID string
	CorrelationID  string

	orch        *orchestrator.Orchestrator
	logger      zerolog.Logger
	cancelWatch context.CancelFunc
	watchDone   chan struct{}
	clients     int
}

// Orchestrator returns the session's orchestrator
func (s *Session) Orchestrator() *orchestrator.Orchestrator {
	return s.orch
}

// Manager keeps one Session per conversation while it has clients
type Manager struct {
	config *ManagerConfig

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a session manager
func NewManager(config *ManagerConfig) *Manager {
	if config.SourceFactory == nil {
		config.SourceFactory = playback.NewSourceFactory(nil, nil)
	}
	if config.Locator == nil {
		config.Locator = playback.DirResolver{Dir: "."}
	}
	return &Manager{
		config:   config,
		sessions: make(map[string]*Session),
	}
}

// Acquire returns the session for conversationID, starting it if needed.
// Every successful Acquire must be paired with a Release.
func (m *Manager) Acquire(ctx context.Context, conversationID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if s, ok := m.sessions[conversationID]; ok {
		s.clients++
		return s, nil
	}

	conv, err := m.config.Loader.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}
	locator, err := m.config.Locator.Resolve(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("resolving audio for %s: %w", conversationID, err)
	}

	correlationID := observability.NewCorrelationID()
	logger := observability.SessionLogger(conversationID, correlationID)
	s := &Session{
		ConversationID: conversationID,
		CorrelationID:  correlationID,
		logger:         logger,
		clients:        1,
	}
	s.orch = orchestrator.Open(conv, locator, &orchestrator.Config{
		GracePeriod:      m.config.GracePeriod,
		Detector:         m.config.Detector,
		SourceFactory:    m.config.SourceFactory,
		OnDriftCorrected: m.config.OnDriftCorrected,
		Logger:           &logger,
		Metrics:          observability.NewSessionMetrics(conversationID),
	})

	if m.config.WatchAudio && locator != "" {
		watchCtx, cancel := context.WithCancel(context.Background())
		s.cancelWatch = cancel
		s.watchDone = make(chan struct{})
		go func() {
			defer close(s.watchDone)
			err := playback.WatchLocator(watchCtx, locator, logger, func() {
				logger.Info().Str("locator", locator).Msg("Audio replaced, reloading source")
				s.orch.SetSource(locator)
			})
			if err != nil {
				logger.Warn().Err(err).Msg("Audio watch stopped")
			}
		}()
	}

	m.sessions[conversationID] = s
	logger.Info().
		Str("locator", locator).
		Int("segments", len(conv.Segments)).
		Msg("Playback session started")
	return s, nil
}

// Release drops one client from s and closes the session when none remain
func (m *Manager) Release(s *Session) {
	m.mu.Lock()
	s.clients--
	last := s.clients <= 0
	if last && m.sessions[s.ConversationID] == s {
		delete(m.sessions, s.ConversationID)
	}
	m.mu.Unlock()

	if last {
		s.close()
	}
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close shuts down every session
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (s *Session) close() {
	if s.cancelWatch != nil {
		s.cancelWatch()
		<-s.watchDone
	}
	if err := s.orch.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing playback session")
	}
}
