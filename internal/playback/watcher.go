package playback

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Editors and encoders often write a file in several bursts
const watchDebounce = 200 * time.Millisecond

// WatchLocator calls onChange whenever the file at locator is created or
// rewritten. It watches the parent directory so atomic renames are seen.
// WatchLocator blocks until ctx is cancelled.
func WatchLocator(ctx context.Context, locator string, logger zerolog.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating audio watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(locator)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching audio directory %s: %w", dir, err)
	}

	target := filepath.Clean(locator)
	var debounce *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("Audio file changed")
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Str("path", locator).Msg("Audio watcher error")
		}
	}
}
