package capture

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/kapt/internal/errors"
	"github.com/tphakala/kapt/internal/ffmpeg"
	"github.com/tphakala/kapt/internal/logging"
	"github.com/tphakala/kapt/internal/observability/metrics"
)

var logger *slog.Logger

func init() {
	logger = logging.ForService("capture")
	if logger == nil {
		logger = slog.Default().With("service", "capture")
	}
}

// SlotCount is the number of alternating recorder slots.
const SlotCount = 2

// ActiveSlot is an in-progress recording: one video and one audio process.
type ActiveSlot struct {
	Index     int
	ChunkID   string
	Session   string
	Video     ffmpeg.Process
	Audio     ffmpeg.Process
	VideoPath string
	AudioPath string
	Spawned   time.Time
}

// RecorderConfig configures a Recorder
type RecorderConfig struct {
	Spawner ffmpeg.Spawner
	Params  ffmpeg.CaptureParams
	TempDir string
	Buffer  *RollingBuffer
	Guard   *DiskGuard              // optional
	Metrics *metrics.CaptureMetrics // optional
	Now     func() time.Time        // optional, defaults to time.Now
}

// Recorder owns the two capture slots and turns stopped slots into
// buffered chunks.
type Recorder struct {
	spawner ffmpeg.Spawner
	tempDir string
	buffer  *RollingBuffer
	guard   *DiskGuard
	metrics *metrics.CaptureMetrics
	now     func() time.Time

	// procCtx outlives sessions so a cancelled session never kills a
	// recording that is still being finalized.
	procCtx context.Context

	mu     sync.Mutex
	params ffmpeg.CaptureParams
	slots  [SlotCount]*ActiveSlot
}

// NewRecorder creates a Recorder. Processes are bound to ctx, which should
// live as long as the daemon.
func NewRecorder(ctx context.Context, cfg RecorderConfig) *Recorder {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		spawner: cfg.Spawner,
		params:  cfg.Params,
		tempDir: cfg.TempDir,
		buffer:  cfg.Buffer,
		guard:   cfg.Guard,
		metrics: cfg.Metrics,
		now:     now,
		procCtx: ctx,
	}
}

// SetAudioSource changes the audio source used by chunks started from now on.
func (r *Recorder) SetAudioSource(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params.AudioSource = source
}

// Params returns the current capture parameters.
func (r *Recorder) Params() ffmpeg.CaptureParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params
}

// Active returns how many slots are currently recording.
func (r *Recorder) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// Start begins a new chunk in slot. A chunk already recording in that slot
// is stopped and buffered first.
func (r *Recorder) Start(slot int, session string) error {
	if slot < 0 || slot >= SlotCount {
		return errors.Newf("invalid slot %d", slot).
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}

	if err := r.Stop(slot); err != nil {
		// the previous chunk is lost, the new one can still start
		logger.Warn("previous chunk in slot was not buffered", "slot", slot, "error", err)
	}

	if r.guard != nil {
		if err := r.guard.Check(); err != nil {
			r.metrics.RecordChunk("skipped")
			return err
		}
	}

	r.mu.Lock()
	params := r.params
	r.mu.Unlock()

	chunkID := uuid.NewString()
	videoPath := filepath.Join(r.tempDir, fmt.Sprintf("%s-video.mp4", chunkID))
	audioPath := filepath.Join(r.tempDir, fmt.Sprintf("%s-audio.m4a", chunkID))

	video, err := r.spawner.Spawn(r.procCtx, &ffmpeg.ProcessConfig{
		ID:         fmt.Sprintf("video-%d-%s", slot, chunkID[:8]),
		FFmpegPath: params.FFmpegPath,
		Args:       ffmpeg.VideoArgs(params, videoPath),
		OutputPath: videoPath,
	})
	if err != nil {
		r.metrics.RecordSpawnError("video")
		return spawnError(err, slot, "video")
	}

	audio, err := r.spawner.Spawn(r.procCtx, &ffmpeg.ProcessConfig{
		ID:         fmt.Sprintf("audio-%d-%s", slot, chunkID[:8]),
		FFmpegPath: params.FFmpegPath,
		Args:       ffmpeg.AudioArgs(params, audioPath),
		OutputPath: audioPath,
	})
	if err != nil {
		r.metrics.RecordSpawnError("audio")
		r.abandon(video, videoPath)
		return spawnError(err, slot, "audio")
	}

	active := &ActiveSlot{
		Index:     slot,
		ChunkID:   chunkID,
		Session:   session,
		Video:     video,
		Audio:     audio,
		VideoPath: videoPath,
		AudioPath: audioPath,
		Spawned:   r.now(),
	}

	r.mu.Lock()
	prev := r.slots[slot]
	r.slots[slot] = active
	r.mu.Unlock()

	if prev != nil {
		// another Start raced us into this slot
		if err := r.finish(prev); err != nil {
			logger.Warn("displaced chunk was not buffered", "slot", slot, "error", err)
		}
	}

	logger.Debug("chunk recording started", "slot", slot, "chunk_id", chunkID, "session_id", session)
	return nil
}

// Stop ends the chunk recording in slot and pushes it to the buffer. It
// blocks until both processes have exited. Stopping an empty slot is a no-op.
func (r *Recorder) Stop(slot int) error {
	r.mu.Lock()
	active := r.slots[slot]
	r.slots[slot] = nil
	r.mu.Unlock()

	if active == nil {
		return nil
	}
	return r.finish(active)
}

// StopAll stops both slots concurrently.
func (r *Recorder) StopAll() error {
	var (
		g    errgroup.Group
		errs [SlotCount]error
	)
	for slot := range SlotCount {
		g.Go(func() error {
			errs[slot] = r.Stop(slot)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs[:]...)
}

// finish quits and drains both processes of a slot, then buffers or discards
// the resulting chunk.
func (r *Recorder) finish(s *ActiveSlot) error {
	stopStart := r.now()

	for _, p := range []ffmpeg.Process{s.Video, s.Audio} {
		if err := p.Quit(); err != nil {
			logger.Warn("quit signal failed", "process_id", p.ID(), "error", err)
		}
	}

	var (
		g                    errgroup.Group
		videoStart, audioStart int64
		videoOK, audioOK     bool
	)
	g.Go(func() error {
		videoStart, videoOK = ffmpeg.FindStartTime(s.Video.Lines())
		return waitLogged(s.Video)
	})
	g.Go(func() error {
		audioStart, audioOK = ffmpeg.FindStartTime(s.Audio.Lines())
		return waitLogged(s.Audio)
	})
	_ = g.Wait()

	// both processes are gone, so everything up to now is on disk
	earlyEnd := r.now().UnixMilli()

	chunk := NewCompletedChunk(Chunk{
		ID:         s.ChunkID,
		Session:    s.Session,
		Slot:       s.Index,
		VideoPath:  s.VideoPath,
		AudioPath:  s.AudioPath,
		VideoStart: videoStart,
		AudioStart: audioStart,
		EarlyEnd:   earlyEnd,
	})

	if !videoOK || !audioOK {
		if err := chunk.Release(); err != nil {
			logger.Warn("failed to delete discarded chunk files", "chunk_id", s.ChunkID, "error", err)
		}
		r.metrics.RecordChunk("discarded")
		logger.Warn("chunk discarded, stream reported no start time",
			"slot", s.Index,
			"chunk_id", s.ChunkID,
			"video_start_found", videoOK,
			"audio_start_found", audioOK)
		return errors.Newf("chunk %s: stream reported no start time", s.ChunkID).
			Component("capture").
			Category(errors.CategoryMissingStartTime).
			Context("slot", s.Index).
			Context("video_start_found", videoOK).
			Context("audio_start_found", audioOK).
			Build()
	}

	r.buffer.Push(chunk)
	r.metrics.RecordChunk("buffered")
	r.metrics.ObserveStopLatency(r.now().Sub(stopStart))
	return nil
}

// abandon stops a half-started slot and removes its file.
func (r *Recorder) abandon(p ffmpeg.Process, path string) {
	_ = p.Quit()
	for range p.Lines() {
	}
	_ = p.Wait()
	if err := removeFiles(path); err != nil {
		logger.Warn("failed to delete abandoned capture file", "path", path, "error", err)
	}
}

func waitLogged(p ffmpeg.Process) error {
	if err := p.Wait(); err != nil {
		// ffmpeg often exits non-zero after q on a live input
		logger.Debug("capture process exit status", "process_id", p.ID(), "error", err)
	}
	return nil
}

func spawnError(err error, slot int, stream string) error {
	return errors.New(err).
		Component("capture").
		Category(errors.CategoryProcessSpawn).
		Context("operation", "spawn_"+stream).
		Context("slot", slot).
		Build()
}
