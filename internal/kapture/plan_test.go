package kapture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/kapt/internal/capture"
	"github.com/tphakala/kapt/internal/errors"
)

// overlapping builds n chunks started every step ms, each recording for
// 2*step plus tail ms, with video starting videoLead ms before audio. Early
// ends are clamped the way RollingBuffer.Snapshot clamps them.
func overlapping(n int, step, tail, videoLead int64) []capture.Chunk {
	chunks := make([]capture.Chunk, n)
	for k := range chunks {
		as := int64(k) * step
		chunks[k] = capture.Chunk{
			VideoStart: as - videoLead,
			AudioStart: as,
			EarlyEnd:   as + 2*step + tail,
		}
	}
	for i := 0; i+2 < n; i++ {
		chunks[i].EarlyEnd = min(chunks[i].EarlyEnd, chunks[i+2].AudioStart-1)
	}
	return chunks
}

func TestPlanMainChunkBoundary(t *testing.T) {
	t.Parallel()

	chunks := []capture.Chunk{
		{VideoStart: 0, AudioStart: 0, EarlyEnd: 15000},
		{VideoStart: 7500, AudioStart: 7500, EarlyEnd: 22500},
		{VideoStart: 15000, AudioStart: 15000, EarlyEnd: 30000},
		{VideoStart: 22500, AudioStart: 22500, EarlyEnd: 37500},
	}

	plan, err := Plan(chunks, 22500, 15*time.Second)
	require.NoError(t, err)

	// chunk 1 adds nothing between chunk 0's end and chunk 2's start
	assert.Equal(t, []VideoChunk{
		{ChunkIndex: 0, VideoOffset: 7500, VideoTime: 7500, AudioOffset: 7500, AudioTime: 7500},
		{ChunkIndex: 2, VideoOffset: 0, VideoTime: 7500, AudioOffset: 0, AudioTime: 7500},
	}, plan)
	assert.Equal(t, 15*time.Second, Length(plan))
}

func TestPlanAnchorsOnSecondaryPastMainCoverage(t *testing.T) {
	t.Parallel()

	chunks := []capture.Chunk{
		{VideoStart: 0, AudioStart: 0, EarlyEnd: 14999},
		{VideoStart: 7500, AudioStart: 7500, EarlyEnd: 22000},
	}

	plan, err := Plan(chunks, 20000, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []VideoChunk{
		{ChunkIndex: 0, VideoOffset: 10000, VideoTime: 4999, AudioOffset: 10000, AudioTime: 4999},
		{ChunkIndex: 1, VideoOffset: 7499, VideoTime: 5001, AudioOffset: 7499, AudioTime: 5001},
	}, plan)
}

func TestPlanAnchorsOnMainWhileCovered(t *testing.T) {
	t.Parallel()

	chunks := []capture.Chunk{
		{VideoStart: 0, AudioStart: 0, EarlyEnd: 14999},
		{VideoStart: 7500, AudioStart: 7500, EarlyEnd: 22000},
	}

	plan, err := Plan(chunks, 12000, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []VideoChunk{
		{ChunkIndex: 0, VideoOffset: 7000, VideoTime: 5000, AudioOffset: 7000, AudioTime: 5000},
	}, plan)
}

func TestPlanDurationIsExact(t *testing.T) {
	t.Parallel()

	chunks := overlapping(8, 7500, 300, 100)

	for _, end := range []int64{30000, 33333, 41250, 52000, 60001} {
		for _, d := range []time.Duration{time.Second, 5 * time.Second, 15 * time.Second, 22500 * time.Millisecond} {
			plan, err := Plan(chunks, end, d)
			require.NoError(t, err, "end=%d d=%s", end, d)
			require.NotEmpty(t, plan)

			assert.Equal(t, d, Length(plan), "end=%d d=%s", end, d)

			// contiguous wall-clock coverage ending at end
			var prevEnd int64
			for n, vc := range plan {
				c := chunks[vc.ChunkIndex]
				from := c.AudioStart + vc.AudioOffset
				assert.Equal(t, from, c.VideoStart+vc.VideoOffset, "streams start together")
				assert.Equal(t, vc.VideoTime, vc.AudioTime)
				assert.Positive(t, vc.VideoTime)
				assert.GreaterOrEqual(t, vc.AudioOffset, int64(0))
				if n > 0 {
					assert.Equal(t, prevEnd, from, "end=%d d=%s segment %d", end, d, n)
					assert.Greater(t, vc.ChunkIndex, plan[n-1].ChunkIndex)
				}
				prevEnd = from + vc.VideoTime
			}
			assert.Equal(t, end, prevEnd)
		}
	}
}

func TestPlanInsufficientHistory(t *testing.T) {
	t.Parallel()

	chunks := []capture.Chunk{{VideoStart: 0, AudioStart: 0, EarlyEnd: 5000}}

	plan, err := Plan(chunks, 5000, 15*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []VideoChunk{
		{ChunkIndex: 0, VideoOffset: 0, VideoTime: 5000, AudioOffset: 0, AudioTime: 5000},
	}, plan)
}

func TestPlanCompensatesStartDiscrepancy(t *testing.T) {
	t.Parallel()

	chunks := []capture.Chunk{{VideoStart: 1000, AudioStart: 1200, EarlyEnd: 16000}}

	plan, err := Plan(chunks, 16000, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, int64(200), plan[0].VideoOffset)
	assert.Equal(t, int64(0), plan[0].AudioOffset)
	assert.Equal(t, int64(14800), plan[0].VideoTime)
	assert.Equal(t, int64(14800), plan[0].AudioTime)
}

func TestPlanOutOfRange(t *testing.T) {
	t.Parallel()

	chunks := overlapping(3, 7500, 0, 0)
	chunks[0].AudioStart, chunks[0].VideoStart = 1000, 1000

	_, err := Plan(chunks, 999, 5*time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryOutOfRange))
	assert.ErrorIs(t, err, errors.ErrOutOfRange)

	_, err = Plan(nil, 999, 5*time.Second)
	assert.ErrorIs(t, err, errors.ErrOutOfRange)
}

func TestPlanRejectsNonPositiveDuration(t *testing.T) {
	t.Parallel()

	_, err := Plan(overlapping(2, 7500, 0, 0), 10000, 0)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}
