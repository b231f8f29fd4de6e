package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkWithFiles(t *testing.T, id string, audioStart, earlyEnd int64) *CompletedChunk {
	t.Helper()
	dir := t.TempDir()
	video := filepath.Join(dir, id+"-video.mp4")
	audio := filepath.Join(dir, id+"-audio.m4a")
	require.NoError(t, os.WriteFile(video, nil, 0o600))
	require.NoError(t, os.WriteFile(audio, nil, 0o600))
	return NewCompletedChunk(Chunk{
		ID:         id,
		VideoPath:  video,
		AudioPath:  audio,
		VideoStart: audioStart,
		AudioStart: audioStart,
		EarlyEnd:   earlyEnd,
	})
}

func TestSortAndClampInvariant(t *testing.T) {
	t.Parallel()

	b := NewRollingBuffer(nil)
	// pushed out of order, early ends overrun the same-parity successor
	b.Push(chunkWithFiles(t, "c2", 15000, 30500))
	b.Push(chunkWithFiles(t, "c0", 0, 15400))
	b.Push(chunkWithFiles(t, "c3", 22500, 37500))
	b.Push(chunkWithFiles(t, "c1", 7500, 22900))
	b.Push(chunkWithFiles(t, "c4", 30000, 45000))

	snap := b.Snapshot()
	require.Len(t, snap, 5)

	for i := range snap {
		if i > 0 {
			assert.LessOrEqual(t, snap[i-1].AudioStart, snap[i].AudioStart)
		}
		if i+2 < len(snap) {
			assert.LessOrEqual(t, snap[i].EarlyEnd, snap[i+2].AudioStart, "chunk %d", i)
		}
	}
	assert.Equal(t, []string{"c0", "c1", "c2", "c3", "c4"}, []string{snap[0].ID, snap[1].ID, snap[2].ID, snap[3].ID, snap[4].ID})
	assert.Equal(t, int64(14999), snap[0].EarlyEnd)
	assert.Equal(t, int64(22499), snap[1].EarlyEnd)
	assert.Equal(t, int64(29999), snap[2].EarlyEnd)
	assert.Equal(t, int64(37500), snap[3].EarlyEnd, "last two chunks have no successor")
	assert.Equal(t, int64(45000), snap[4].EarlyEnd)
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	b := NewRollingBuffer(nil)
	b.Push(chunkWithFiles(t, "c0", 0, 15000))

	snap := b.Snapshot()
	snap[0].EarlyEnd = 1

	assert.Equal(t, int64(15000), b.Snapshot()[0].EarlyEnd)
}

func TestEvictExpiredRemovesMaximalPrefix(t *testing.T) {
	t.Parallel()

	b := NewRollingBuffer(nil)
	chunks := []*CompletedChunk{
		chunkWithFiles(t, "c0", 0, 15000),
		chunkWithFiles(t, "c1", 7500, 22500),
		chunkWithFiles(t, "c2", 15000, 30000),
		chunkWithFiles(t, "c3", 22500, 37500),
	}
	for _, c := range chunks {
		b.Push(c)
	}

	now := time.UnixMilli(60000)
	budget := 35 * time.Second

	n := b.EvictExpired(now, budget)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, b.Len())

	for _, c := range b.Snapshot() {
		assert.LessOrEqual(t, now.UnixMilli()-c.EarlyEnd, budget.Milliseconds())
	}
	assert.False(t, fileExists(chunks[0].VideoPath))
	assert.False(t, fileExists(chunks[1].AudioPath))
	assert.True(t, fileExists(chunks[2].VideoPath))

	assert.Zero(t, b.EvictExpired(now, budget), "nothing left to evict")
}

func TestEvictExpiredKeepsChunkAtBudgetBoundary(t *testing.T) {
	t.Parallel()

	b := NewRollingBuffer(nil)
	b.Push(chunkWithFiles(t, "c0", 0, 10000))

	assert.Zero(t, b.EvictExpired(time.UnixMilli(20000), 10*time.Second))
	assert.Equal(t, 1, b.EvictExpired(time.UnixMilli(20001), 10*time.Second))
}

func TestClearReleasesFiles(t *testing.T) {
	t.Parallel()

	b := NewRollingBuffer(nil)
	c0 := chunkWithFiles(t, "c0", 0, 15000)
	c1 := chunkWithFiles(t, "c1", 7500, 22500)
	b.Push(c0)
	b.Push(c1)

	require.NoError(t, b.Clear())
	assert.Zero(t, b.Len())
	assert.False(t, fileExists(c0.VideoPath))
	assert.False(t, fileExists(c1.AudioPath))

	require.NoError(t, b.Clear(), "clearing an empty buffer is fine")
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	c := chunkWithFiles(t, "c0", 0, 1000)
	require.NoError(t, c.Release())
	require.NoError(t, c.Release())
	assert.False(t, fileExists(c.VideoPath))
}

func TestSpan(t *testing.T) {
	t.Parallel()

	b := NewRollingBuffer(nil)
	from, to := b.Span()
	assert.Zero(t, from)
	assert.Zero(t, to)

	b.Push(chunkWithFiles(t, "c1", 7500, 22500))
	b.Push(chunkWithFiles(t, "c0", 1000, 15000))

	from, to = b.Span()
	assert.Equal(t, int64(1000), from)
	assert.Equal(t, int64(22500), to)
}

func TestChunkDuration(t *testing.T) {
	t.Parallel()

	c := Chunk{VideoStart: 1000, AudioStart: 1200, EarlyEnd: 16200}
	assert.Equal(t, 15*time.Second, c.Duration())
	assert.Zero(t, Chunk{AudioStart: 5, EarlyEnd: 1}.Duration())
}
