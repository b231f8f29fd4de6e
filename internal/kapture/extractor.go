package kapture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/kapt/internal/capture"
	"github.com/tphakala/kapt/internal/errors"
	"github.com/tphakala/kapt/internal/ffmpeg"
	"github.com/tphakala/kapt/internal/logging"
	"github.com/tphakala/kapt/internal/observability/metrics"
)

var logger *slog.Logger

func init() {
	logger = logging.ForService("kapture")
	if logger == nil {
		logger = slog.Default().With("service", "kapture")
	}
}

// Transcoder runs the trim and concat jobs of a kapture.
// *ffmpeg.Transcoder implements it.
type Transcoder interface {
	Trim(ctx context.Context, r ffmpeg.TrimRequest) error
	Concat(ctx context.Context, segments []string, output string) error
}

// Result describes a finished clip.
type Result struct {
	Path     string
	Segments int
	Length   time.Duration
}

// Extractor assembles clips from buffered chunks.
type Extractor struct {
	transcoder Transcoder
	tempDir    string
	metrics    *metrics.KaptureMetrics
}

// NewExtractor creates an Extractor writing intermediate segments to tempDir.
func NewExtractor(transcoder Transcoder, tempDir string, m *metrics.KaptureMetrics) *Extractor {
	return &Extractor{transcoder: transcoder, tempDir: tempDir, metrics: m}
}

// Extract writes a clip of length d ending at end to output. chunks is a
// sorted and clamped buffer snapshot; the chunk files are only read. On
// failure no segment or partial output is left behind.
func (e *Extractor) Extract(ctx context.Context, chunks []capture.Chunk, end int64, d time.Duration, output string) (*Result, error) {
	start := time.Now()

	plan, err := Plan(chunks, end, d)
	e.metrics.ObserveStep("plan", time.Since(start))
	if err != nil {
		e.metrics.RecordKapture(statusFor(err))
		return nil, err
	}

	length := Length(plan)
	logger.Info("kapture planned",
		"end_time", end,
		"requested_ms", d.Milliseconds(),
		"planned_ms", length.Milliseconds(),
		"segments", len(plan))

	segments := make([]string, 0, len(plan))
	cleanup := func() {
		for _, s := range segments {
			if err := os.Remove(s); err != nil && !os.IsNotExist(err) {
				logger.Warn("failed to delete kapture segment", "path", s, "error", err)
			}
		}
	}
	defer cleanup()

	trimStart := time.Now()
	batch := uuid.NewString()
	for n, vc := range plan {
		c := chunks[vc.ChunkIndex]
		segment := filepath.Join(e.tempDir, fmt.Sprintf("%s-segment-%03d.mp4", batch, n))
		segments = append(segments, segment)

		err := e.transcoder.Trim(ctx, ffmpeg.TrimRequest{
			VideoPath:     c.VideoPath,
			VideoOffsetMs: vc.VideoOffset,
			VideoTimeMs:   vc.VideoTime,
			AudioPath:     c.AudioPath,
			AudioOffsetMs: vc.AudioOffset,
			AudioTimeMs:   vc.AudioTime,
			OutputPath:    segment,
		})
		if err != nil {
			e.metrics.RecordKapture("failed")
			return nil, extractionError(err, "trim", time.Since(trimStart)).
				Context("chunk_index", vc.ChunkIndex).
				Context("chunk_id", c.ID).
				Build()
		}
		logger.Debug("kapture segment trimmed",
			"chunk_index", vc.ChunkIndex,
			"video_offset_ms", vc.VideoOffset,
			"audio_offset_ms", vc.AudioOffset,
			"duration_ms", vc.VideoTime)
	}
	e.metrics.ObserveStep("trim", time.Since(trimStart))

	concatStart := time.Now()
	if err := e.transcoder.Concat(ctx, segments, output); err != nil {
		if rmErr := os.Remove(output); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to delete partial kapture", "path", output, "error", rmErr)
		}
		e.metrics.RecordKapture("failed")
		return nil, extractionError(err, "concat", time.Since(concatStart)).
			Context("output", output).
			Build()
	}
	e.metrics.ObserveStep("concat", time.Since(concatStart))

	e.metrics.RecordKapture("success")
	e.metrics.ObserveClip(len(plan), length)
	logger.Info("kapture written",
		"path", output,
		"segments", len(plan),
		"duration_ms", length.Milliseconds(),
		"elapsed_ms", time.Since(start).Milliseconds())

	return &Result{Path: output, Segments: len(plan), Length: length}, nil
}

func extractionError(err error, step string, elapsed time.Duration) *errors.ErrorBuilder {
	return errors.New(err).
		Component("kapture").
		Category(errors.CategoryExtraction).
		Timing(step, elapsed)
}

func statusFor(err error) string {
	switch {
	case errors.IsCategory(err, errors.CategoryOutOfRange):
		return "out_of_range"
	case errors.IsCategory(err, errors.CategoryValidation):
		return "invalid"
	default:
		return "failed"
	}
}

// OutputPath returns a path in folder that does not exist yet, named by
// formatting at with template. A numeric suffix is added on collision.
func OutputPath(folder, template, ext string, at time.Time) (string, error) {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", errors.New(err).
			Component("kapture").
			Category(errors.CategoryFileIO).
			Context("folder", folder).
			Build()
	}

	base := at.Format(template)
	candidate := filepath.Join(folder, base+"."+ext)
	for n := 1; ; n++ {
		_, err := os.Stat(candidate)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", errors.New(err).
				Component("kapture").
				Category(errors.CategoryFileIO).
				Context("path", candidate).
				Build()
		}
		candidate = filepath.Join(folder, fmt.Sprintf("%s-%d.%s", base, n, ext))
	}
}
