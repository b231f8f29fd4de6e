// Package controller owns the capture components and exposes the commands
// available to the CLI and the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tphakala/kapt/internal/audio"
	"github.com/tphakala/kapt/internal/capture"
	"github.com/tphakala/kapt/internal/conf"
	"github.com/tphakala/kapt/internal/errors"
	"github.com/tphakala/kapt/internal/ffmpeg"
	"github.com/tphakala/kapt/internal/kapture"
	"github.com/tphakala/kapt/internal/logging"
	"github.com/tphakala/kapt/internal/observability"
	"github.com/tphakala/kapt/internal/observability/metrics"
)

var logger *slog.Logger

func init() {
	logger = logging.ForService("controller")
	if logger == nil {
		logger = slog.Default().With("service", "controller")
	}
}

// transcodeTimeout bounds a single trim or concat job.
const transcodeTimeout = 2 * time.Minute

// SourceLister lists audio sources. *audio.Enumerator implements it.
type SourceLister interface {
	Sources(ctx context.Context) ([]audio.Source, error)
}

// Options configures a Controller. Only Settings is required.
type Options struct {
	Settings   *conf.Settings
	Spawner    ffmpeg.Spawner
	Transcoder kapture.Transcoder
	Sources    SourceLister
	Metrics    *observability.Metrics
	// Persist applies a settings change. Defaults to validating and
	// applying in memory only.
	Persist func(fn func(*conf.Settings)) (*conf.Settings, error)
	Now     func() time.Time
}

// Status is a point-in-time view of the capture state.
type Status struct {
	Active         bool   `json:"active"`
	SessionID      string `json:"session_id,omitempty"`
	RecordingSlots int    `json:"recording_slots"`
	BufferedChunks int    `json:"buffered_chunks"`
	SpanStart      int64  `json:"span_start,omitempty"`
	SpanEnd        int64  `json:"span_end,omitempty"`
	CacheBudgetSec int    `json:"cache_budget_seconds"`
	AudioSource    string `json:"audio_source"`
	OutputFolder   string `json:"output_folder"`
}

// Controller serialises activate, deactivate and kapture against one
// scheduler and buffer.
type Controller struct {
	// mu serialises the commands that start or stop capture
	mu sync.Mutex

	settingsMu sync.RWMutex
	settings   *conf.Settings

	buffer    *capture.RollingBuffer
	recorder  *capture.Recorder
	scheduler *capture.Scheduler
	extractor *kapture.Extractor
	sources   SourceLister
	persist   func(fn func(*conf.Settings)) (*conf.Settings, error)
	now       func() time.Time
}

// New builds the capture pipeline. ctx bounds the lifetime of every capture
// process and should live as long as the daemon.
func New(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Settings == nil {
		return nil, errors.Newf("controller requires settings").
			Component("controller").
			Category(errors.CategoryConfiguration).
			Build()
	}
	settings := opts.Settings

	tempDir := settings.TempDir()
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, errors.New(err).
			Component("controller").
			Category(errors.CategoryFileIO).
			Context("temp_dir", tempDir).
			Build()
	}
	removeStaleFiles(tempDir)

	var (
		captureMetrics *metrics.CaptureMetrics
		kaptureMetrics *metrics.KaptureMetrics
	)
	if opts.Metrics != nil {
		captureMetrics = opts.Metrics.Capture
		kaptureMetrics = opts.Metrics.Kapture
	}

	spawner := opts.Spawner
	if spawner == nil {
		spawner = ffmpeg.ExecSpawner{}
	}
	transcoder := opts.Transcoder
	if transcoder == nil {
		transcoder = ffmpeg.NewTranscoder(settings.Capture.FfmpegPath, transcodeTimeout)
	}
	sources := opts.Sources
	if sources == nil {
		sources = audio.NewEnumerator("pactl", 30*time.Second)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Controller{
		settings: settings,
		sources:  sources,
		persist:  opts.Persist,
		now:      now,
	}
	if c.persist == nil {
		c.persist = c.applyInMemory
	}

	c.buffer = capture.NewRollingBuffer(captureMetrics)
	c.recorder = capture.NewRecorder(ctx, capture.RecorderConfig{
		Spawner: spawner,
		Params:  captureParams(settings),
		TempDir: tempDir,
		Buffer:  c.buffer,
		Guard:   capture.NewDiskGuard(tempDir, settings.Capture.MinFreeMB),
		Metrics: captureMetrics,
		Now:     now,
	})
	c.scheduler = capture.NewScheduler(c.recorder, c.buffer, settings.ChunkInterval(), settings.CacheBudget())
	c.extractor = kapture.NewExtractor(transcoder, tempDir, kaptureMetrics)

	return c, nil
}

func captureParams(s *conf.Settings) ffmpeg.CaptureParams {
	return ffmpeg.CaptureParams{
		FFmpegPath:  s.Capture.FfmpegPath,
		Display:     s.Capture.Display,
		VideoSize:   s.Capture.VideoSize,
		Framerate:   s.Capture.Framerate,
		VideoCodec:  s.Capture.VideoCodec,
		Preset:      s.Capture.Preset,
		AudioSource: s.Capture.AudioSource,
	}
}

// removeStaleFiles deletes chunk and segment files left by a previous run.
func removeStaleFiles(dir string) {
	for _, pattern := range []string{"*-video.mp4", "*-audio.m4a", "*-segment-*.mp4"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil {
				logger.Warn("failed to delete stale capture file", "path", m, "error", err)
			}
		}
		if len(matches) > 0 {
			logger.Info("removed stale capture files", "pattern", pattern, "count", len(matches))
		}
	}
}

// Settings returns the current settings.
func (c *Controller) Settings() *conf.Settings {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	return c.settings
}

// Activate starts continuous capture. It reports whether capture was
// started by this call.
func (c *Controller) Activate(_ context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduler.Activate()
}

// Deactivate stops capture and discards the buffer. It reports whether
// capture was running.
func (c *Controller) Deactivate(_ context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduler.Deactivate()
}

// Kapture writes a clip of length d ending at endMs (epoch milliseconds)
// and returns it. A zero endMs means now and a zero d the configured
// default length. On success the buffer is cleared and capture restarts
// under a new session; on failure the buffer is kept for a retry.
func (c *Controller) Kapture(ctx context.Context, endMs int64, d time.Duration) (*kapture.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	settings := c.Settings()
	requested := c.now()
	if endMs == 0 {
		endMs = requested.UnixMilli()
	}
	if d == 0 {
		d = time.Duration(settings.Output.DefaultLength) * time.Second
	}
	if d < 0 {
		return nil, errors.Newf("kapture duration must be positive, got %s", d).
			Component("controller").
			Category(errors.CategoryValidation).
			Build()
	}

	wasActive, err := c.scheduler.Suspend()
	if err != nil {
		// the buffer still holds every chunk that did finish
		logger.Warn("capture did not stop cleanly before kapture", "error", err)
	}

	resume := func() {
		if !wasActive {
			return
		}
		if _, err := c.scheduler.Activate(); err != nil {
			logger.Error("failed to resume capture after kapture", "error", err)
		}
	}

	output, err := kapture.OutputPath(settings.OutputFolder(), settings.Output.Template, settings.Output.Extension, requested)
	if err != nil {
		resume()
		return nil, err
	}

	result, err := c.extractor.Extract(ctx, c.buffer.Snapshot(), endMs, d, output)
	if err != nil {
		resume()
		return nil, err
	}

	if err := c.buffer.Clear(); err != nil {
		logger.Warn("failed to delete some chunk files after kapture", "error", err)
	}
	resume()

	return result, nil
}

// AudioSources lists the audio sources available for capture.
func (c *Controller) AudioSources(ctx context.Context) ([]audio.Source, error) {
	return c.sources.Sources(ctx)
}

// SetAudioSource switches capture to the named source. Chunks already
// recording keep their source.
func (c *Controller) SetAudioSource(ctx context.Context, name string) error {
	sources, err := c.sources.Sources(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, s := range sources {
		if s.Name == name {
			found = true
			break
		}
	}
	if !found {
		return errors.Newf("unknown audio source %q", name).
			Component("controller").
			Category(errors.CategoryValidation).
			Context("audio_source", name).
			Build()
	}

	if err := c.update(func(s *conf.Settings) { s.Capture.AudioSource = name }); err != nil {
		return err
	}
	logger.Info("audio source changed", "audio_source", name)
	return nil
}

// SetOutputFolder changes where kaptures are written.
func (c *Controller) SetOutputFolder(folder string) error {
	if err := c.update(func(s *conf.Settings) { s.Output.Folder = folder }); err != nil {
		return err
	}
	logger.Info("output folder changed", "folder", folder)
	return nil
}

// SetMaxCached changes how much history the buffer keeps.
func (c *Controller) SetMaxCached(d time.Duration) error {
	if d <= 0 || d%time.Second != 0 {
		return errors.Newf("cache budget must be a positive whole number of seconds, got %s", d).
			Component("controller").
			Category(errors.CategoryValidation).
			Build()
	}
	if err := c.update(func(s *conf.Settings) { s.Capture.MaxCached = int(d / time.Second) }); err != nil {
		return err
	}
	logger.Info("cache budget changed", "max_cached_s", int(d/time.Second))
	return nil
}

// update persists a settings change and applies it to the running pipeline.
func (c *Controller) update(fn func(*conf.Settings)) error {
	updated, err := c.persist(fn)
	if err != nil {
		var ve conf.ValidationError
		category := errors.CategoryConfiguration
		if errors.As(err, &ve) {
			category = errors.CategoryValidation
		}
		return errors.New(err).
			Component("controller").
			Category(category).
			Context("operation", "update_settings").
			Build()
	}
	c.ApplySettings(updated)
	return nil
}

func (c *Controller) applyInMemory(fn func(*conf.Settings)) (*conf.Settings, error) {
	updated := *c.Settings()
	fn(&updated)
	if err := conf.ValidateSettings(&updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ApplySettings makes the running pipeline follow s. The chunk length and
// capture geometry only take effect after a restart.
func (c *Controller) ApplySettings(s *conf.Settings) {
	c.settingsMu.Lock()
	prev := c.settings
	c.settings = s
	c.settingsMu.Unlock()

	c.scheduler.SetBudget(s.CacheBudget())
	c.recorder.SetAudioSource(s.Capture.AudioSource)

	if prev != nil && (prev.Capture.ChunkLength != s.Capture.ChunkLength || prev.Capture.VideoSize != s.Capture.VideoSize) {
		logger.Warn("capture geometry or chunk length changed, restart to apply",
			"chunk_length_s", s.Capture.ChunkLength,
			"video_size", s.Capture.VideoSize)
	}
}

// Status reports the current capture state.
func (c *Controller) Status() Status {
	settings := c.Settings()
	from, to := c.buffer.Span()
	return Status{
		Active:         c.scheduler.Active(),
		SessionID:      c.scheduler.Session(),
		RecordingSlots: c.recorder.Active(),
		BufferedChunks: c.buffer.Len(),
		SpanStart:      from,
		SpanEnd:        to,
		CacheBudgetSec: int(c.scheduler.Budget() / time.Second),
		AudioSource:    c.recorder.Params().AudioSource,
		OutputFolder:   settings.OutputFolder(),
	}
}

// Close stops capture and deletes the buffered chunks.
func (c *Controller) Close() error {
	_, err := c.Deactivate(context.Background())
	return err
}
