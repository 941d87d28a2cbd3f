package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/playback-sync/internal/observability"
	"github.com/lexiqai/playback-sync/internal/resilience"
	"github.com/lexiqai/playback-sync/internal/transcript"
)

// CorrectionWriter stores a corrected transcript alongside the one it replaces
type CorrectionWriter interface {
	SaveCorrected(ctx context.Context, corrected, original transcript.Conversation) (Revision, error)
}

// PersisterConfig holds configuration for corrected-transcript persistence
type PersisterConfig struct {
	Timeout time.Duration // Per attempt
	Retry   *resilience.RetryConfig
	Breaker *resilience.CircuitBreaker
}

// DefaultPersisterConfig returns a 10s timeout, default retries and a
// breaker opening after 5 failures for 30s
func DefaultPersisterConfig() *PersisterConfig {
	return &PersisterConfig{
		Timeout: 10 * time.Second,
		Retry:   resilience.DefaultRetryConfig(),
		Breaker: resilience.NewCircuitBreaker("store", 5, 30*time.Second),
	}
}

// Persister writes drift corrections in the background so playback event
// delivery never waits on the database
type Persister struct {
	writer CorrectionWriter
	config *PersisterConfig
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPersister creates a persister for w
func NewPersister(w CorrectionWriter, config *PersisterConfig) *Persister {
	if config == nil {
		config = DefaultPersisterConfig()
	}
	if config.Retry == nil {
		config.Retry = resilience.DefaultRetryConfig()
	}
	if config.Breaker == nil {
		config.Breaker = resilience.NewCircuitBreaker("store", 5, 30*time.Second)
	}
	config.Breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Persister{
		writer: w,
		config: config,
		logger: observability.GetLogger().With().Str("component", observability.ComponentStore).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Persist stores one correction with retries behind the circuit breaker
func (p *Persister) Persist(ctx context.Context, corrected, original transcript.Conversation) (Revision, error) {
	start := time.Now()

	var rev Revision
	var conflict error
	err := p.config.Breaker.Call(func() error {
		err := resilience.RetryContext(ctx, func() error {
			attemptCtx := ctx
			if p.config.Timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
				defer cancel()
			}

			var err error
			rev, err = p.writer.SaveCorrected(attemptCtx, corrected, original)
			return err
		}, p.config.Retry, resilience.IsRetryableStoreError)
		// a stale correction says nothing about store health
		if errors.Is(err, ErrConflict) {
			conflict = err
			return nil
		}
		return err
	})
	if err == nil {
		err = conflict
	}

	observability.RecordPersist(err == nil, time.Since(start))
	return rev, err
}

// OnDriftCorrected queues a correction for persistence. Its signature matches
// the orchestrator's drift-corrected callback.
func (p *Persister) OnDriftCorrected(corrected, original transcript.Conversation) {
	if p.ctx.Err() != nil {
		p.logger.Warn().Str("conversation_id", corrected.ID).Msg("Persister closed, dropping corrected transcript")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		rev, err := p.Persist(p.ctx, corrected, original)
		if errors.Is(err, ErrConflict) {
			p.logger.Warn().
				Str("conversation_id", corrected.ID).
				Msg("Conversation changed since drift correction, dropping stale correction")
			return
		}
		if err != nil {
			p.logger.Error().
				Err(err).
				Str("conversation_id", corrected.ID).
				Str("breaker_state", p.config.Breaker.GetState().String()).
				Msg("Failed to persist corrected transcript")
			return
		}
		p.logger.Info().
			Str("conversation_id", corrected.ID).
			Int64("revision_id", rev.ID).
			Str("original_hash", rev.ContentHash).
			Msg("Corrected transcript persisted")
	}()
}

// Wait blocks until queued corrections have finished
func (p *Persister) Wait() {
	p.wg.Wait()
}

// Close cancels in-flight corrections and waits for them
func (p *Persister) Close() {
	p.cancel()
	p.wg.Wait()
}
