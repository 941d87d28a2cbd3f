package playback

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocatorResolver finds a playable audio resource for a conversation.
// An empty locator with a nil error means no audio exists and playback
// should be simulated.
type LocatorResolver interface {
	Resolve(ctx context.Context, conversationID string) (string, error)
}

// DirResolver looks for <Dir>/<conversationID>.wav
type DirResolver struct {
	Dir string
}

// Resolve returns the WAV path for conversationID, or "" when it does not exist
func (r DirResolver) Resolve(ctx context.Context, conversationID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if conversationID == "" || conversationID != filepath.Base(conversationID) {
		return "", fmt.Errorf("resolving audio locator: invalid conversation id %q", conversationID)
	}

	path := filepath.Join(r.Dir, conversationID+".wav")
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving audio locator: %w", err)
	}
	if info.IsDir() {
		return "", nil
	}
	return path, nil
}

// SourceFactory builds a Source for a locator. Empty locators get a
// simulated source clamped to durationMs.
type SourceFactory func(locator string, durationMs int64) Source

// NewSourceFactory selects the implementation by presence of a locator
func NewSourceFactory(sim *SimulatedConfig, media *MediaConfig) SourceFactory {
	return func(locator string, durationMs int64) Source {
		if locator == "" {
			return NewSimulatedSource(durationMs, sim)
		}
		return NewMediaSource(locator, media)
	}
}
