// Package capture keeps the screen and audio recorders running in two
// overlapping slots and collects their finished chunks in a rolling buffer.
package capture

import (
	"os"
	"sync"
	"time"

	"github.com/tphakala/kapt/internal/errors"
)

// Chunk holds the files and timing of one finished capture segment.
// Times are wall-clock milliseconds since the Unix epoch.
type Chunk struct {
	ID         string
	Session    string
	Slot       int
	VideoPath  string
	AudioPath  string
	VideoStart int64 // first video frame, as reported by ffmpeg
	AudioStart int64 // first audio sample, as reported by ffmpeg
	EarlyEnd   int64 // both streams are guaranteed to reach this instant
}

// Duration returns the span guaranteed to be covered by both streams.
func (c Chunk) Duration() time.Duration {
	start := max(c.VideoStart, c.AudioStart)
	if c.EarlyEnd <= start {
		return 0
	}
	return time.Duration(c.EarlyEnd-start) * time.Millisecond
}

// CompletedChunk owns the media files of a Chunk. The files are removed by
// Release, which whoever drops the chunk must call.
type CompletedChunk struct {
	Chunk

	releaseOnce sync.Once
	releaseErr  error
}

// NewCompletedChunk wraps c.
func NewCompletedChunk(c Chunk) *CompletedChunk {
	return &CompletedChunk{Chunk: c}
}

// Release deletes the chunk's media files. It is safe to call more than once;
// later calls return the result of the first.
func (c *CompletedChunk) Release() error {
	c.releaseOnce.Do(func() {
		c.releaseErr = removeFiles(c.VideoPath, c.AudioPath)
	})
	return c.releaseErr
}

// removeFiles deletes paths, ignoring ones that are already gone.
func removeFiles(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.New(errors.Join(errs...)).
		Component("capture").
		Category(errors.CategoryFileIO).
		Context("operation", "release_chunk").
		Build()
}
