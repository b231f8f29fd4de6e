package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/kapt/internal/errors"
)

// stderrTailSize is how much trailing ffmpeg output is attached to errors.
const stderrTailSize = 4096

// TrimRequest describes one segment cut from a chunk's video and audio files.
type TrimRequest struct {
	VideoPath     string
	VideoOffsetMs int64
	VideoTimeMs   int64
	AudioPath     string
	AudioOffsetMs int64
	AudioTimeMs   int64
	OutputPath    string
}

// Transcoder runs the one-shot ffmpeg jobs of a kapture
type Transcoder struct {
	ffmpegPath string
	timeout    time.Duration
}

// NewTranscoder creates a Transcoder. A zero timeout disables the per-job limit.
func NewTranscoder(ffmpegPath string, timeout time.Duration) *Transcoder {
	return &Transcoder{ffmpegPath: ffmpegPath, timeout: timeout}
}

// Trim extracts one segment described by r.
func (t *Transcoder) Trim(ctx context.Context, r TrimRequest) error {
	return t.run(ctx, "trim", r.OutputPath, TrimArgs(r))
}

// Concat joins segments in order into output by stream copy.
func (t *Transcoder) Concat(ctx context.Context, segments []string, output string) error {
	listPath := output + ".txt"
	if err := WriteConcatList(listPath, segments); err != nil {
		return err
	}
	defer os.Remove(listPath)

	return t.run(ctx, "concat", output, ConcatArgs(listPath, output))
}

func (t *Transcoder) run(ctx context.Context, operation, output string, args []string) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	tail := newStderrTail(stderrTailSize)

	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return errors.New(err).
			Component("ffmpeg").
			Category(errors.CategoryProcessSpawn).
			Context("operation", operation).
			Context("command", t.ffmpegPath).
			Build()
	}

	if err := cmd.Wait(); err != nil {
		_ = os.Remove(output)
		category := errors.CategoryExtraction
		if ctx.Err() != nil {
			category = errors.CategoryTimeout
		}
		return errors.New(fmt.Errorf("ffmpeg %s failed: %w", operation, err)).
			Component("ffmpeg").
			Category(category).
			Context("operation", operation).
			Context("output", output).
			Context("stderr", tail.String()).
			Build()
	}

	logger.Debug("ffmpeg job finished",
		"operation", operation,
		"output", output,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// WriteConcatList writes a concat demuxer list file for segments.
func WriteConcatList(listPath string, segments []string) error {
	var b strings.Builder
	for _, seg := range segments {
		abs, err := filepath.Abs(seg)
		if err != nil {
			abs = seg
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}

	if err := os.WriteFile(listPath, []byte(b.String()), 0o600); err != nil {
		return errors.New(err).
			Component("ffmpeg").
			Category(errors.CategoryFileIO).
			Context("operation", "write-concat-list").
			Context("path", listPath).
			Build()
	}
	return nil
}

// stderrTail keeps the last bytes written to it.
type stderrTail struct {
	mu sync.Mutex
	rb *ringbuffer.RingBuffer
}

func newStderrTail(size int) *stderrTail {
	return &stderrTail{rb: ringbuffer.New(size)}
}

// Write never fails; old bytes are dropped to make room.
func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if capacity := t.rb.Capacity(); len(p) > capacity {
		p = p[len(p)-capacity:]
	}
	if free := t.rb.Free(); free < len(p) {
		discard := make([]byte, len(p)-free)
		_, _ = t.rb.Read(discard)
	}
	_, _ = t.rb.Write(p)
	return n, nil
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf := make([]byte, t.rb.Length())
	n, _ := t.rb.Read(buf)
	_, _ = t.rb.Write(buf[:n])
	return strings.TrimSpace(string(buf[:n]))
}
