package playback

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/youpy/go-wav"
)

// Prober reports the duration of the audio behind locator
type Prober func(ctx context.Context, locator string) (time.Duration, error)

// ProbeWAV reads the RIFF header and data chunk size of a WAV file
func ProbeWAV(ctx context.Context, locator string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	file, err := os.Open(locator)
	if err != nil {
		return 0, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	reader := wav.NewReader(file)
	if _, err := reader.Format(); err != nil {
		return 0, fmt.Errorf("failed to read wav format: %w", err)
	}

	d, err := reader.Duration()
	if err != nil {
		return 0, fmt.Errorf("failed to read wav duration: %w", err)
	}
	return d, nil
}
