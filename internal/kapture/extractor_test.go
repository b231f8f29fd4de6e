package kapture

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/kapt/internal/capture"
	"github.com/tphakala/kapt/internal/errors"
	"github.com/tphakala/kapt/internal/ffmpeg"
)

// fakeTranscoder writes placeholder files instead of running ffmpeg.
type fakeTranscoder struct {
	mu         sync.Mutex
	trims      []ffmpeg.TrimRequest
	concats    [][]string
	failTrimAt int // 1-based, 0 disables
	failConcat bool
}

func (f *fakeTranscoder) Trim(_ context.Context, r ffmpeg.TrimRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trims = append(f.trims, r)
	if err := os.WriteFile(r.OutputPath, []byte("segment"), 0o600); err != nil {
		return err
	}
	if f.failTrimAt == len(f.trims) {
		return errors.Newf("ffmpeg trim exited with status 1").
			Component("ffmpeg").
			Category(errors.CategoryExtraction).
			Build()
	}
	return nil
}

func (f *fakeTranscoder) Concat(_ context.Context, segments []string, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.concats = append(f.concats, append([]string(nil), segments...))
	if err := os.WriteFile(output, []byte("clip"), 0o600); err != nil {
		return err
	}
	if f.failConcat {
		return errors.NewStd("concat: invalid data found when processing input")
	}
	return nil
}

func testChunks() []capture.Chunk {
	chunks := overlapping(4, 7500, 300, 50)
	for k := range chunks {
		chunks[k].ID = string(rune('a' + k))
		chunks[k].VideoPath = "/buffer/" + chunks[k].ID + "-video.mp4"
		chunks[k].AudioPath = "/buffer/" + chunks[k].ID + "-audio.m4a"
	}
	return chunks
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestExtractorBuildsClip(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	out := filepath.Join(t.TempDir(), "clip.mp4")
	tc := &fakeTranscoder{}
	ex := NewExtractor(tc, tmp, nil)
	chunks := testChunks()

	res, err := ex.Extract(t.Context(), chunks, 25000, 20*time.Second, out)
	require.NoError(t, err)

	plan, err := Plan(chunks, 25000, 20*time.Second)
	require.NoError(t, err)

	assert.Equal(t, out, res.Path)
	assert.Equal(t, len(plan), res.Segments)
	assert.Equal(t, 20*time.Second, res.Length)

	require.Len(t, tc.trims, len(plan))
	for n, vc := range plan {
		r := tc.trims[n]
		assert.Equal(t, chunks[vc.ChunkIndex].VideoPath, r.VideoPath)
		assert.Equal(t, chunks[vc.ChunkIndex].AudioPath, r.AudioPath)
		assert.Equal(t, vc.VideoOffset, r.VideoOffsetMs)
		assert.Equal(t, vc.AudioTime, r.AudioTimeMs)
	}

	require.Len(t, tc.concats, 1)
	for n, s := range tc.concats[0] {
		assert.Equal(t, tc.trims[n].OutputPath, s, "segments are joined in chronological order")
	}

	assert.FileExists(t, out)
	assert.Empty(t, dirEntries(t, tmp), "segments are removed")
}

func TestExtractorTrimFailureCleansUp(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	out := filepath.Join(t.TempDir(), "clip.mp4")
	tc := &fakeTranscoder{failTrimAt: 2}
	ex := NewExtractor(tc, tmp, nil)

	_, err := ex.Extract(t.Context(), testChunks(), 25000, 20*time.Second, out)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryExtraction))
	assert.ErrorIs(t, err, errors.ErrExtractionFailed)

	assert.Len(t, tc.trims, 2)
	assert.Empty(t, tc.concats)
	assert.Empty(t, dirEntries(t, tmp))
	assert.NoFileExists(t, out)
}

func TestExtractorConcatFailureRemovesOutput(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	out := filepath.Join(t.TempDir(), "clip.mp4")
	ex := NewExtractor(&fakeTranscoder{failConcat: true}, tmp, nil)

	_, err := ex.Extract(t.Context(), testChunks(), 25000, 10*time.Second, out)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExtractionFailed)
	assert.NoFileExists(t, out)
	assert.Empty(t, dirEntries(t, tmp))
}

func TestExtractorOutOfRangeRunsNothing(t *testing.T) {
	t.Parallel()

	tc := &fakeTranscoder{}
	ex := NewExtractor(tc, t.TempDir(), nil)

	_, err := ex.Extract(t.Context(), testChunks(), -1, 10*time.Second, filepath.Join(t.TempDir(), "clip.mp4"))
	assert.ErrorIs(t, err, errors.ErrOutOfRange)
	assert.Empty(t, tc.trims)
}

func TestOutputPathAvoidsCollisions(t *testing.T) {
	t.Parallel()

	folder := filepath.Join(t.TempDir(), "clips")
	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.Local)

	first, err := OutputPath(folder, "kapture-20060102-150405", "mp4", at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(folder, "kapture-20260314-150926.mp4"), first)
	require.NoError(t, os.WriteFile(first, nil, 0o600))

	second, err := OutputPath(folder, "kapture-20060102-150405", "mp4", at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(folder, "kapture-20260314-150926-1.mp4"), second)
}
