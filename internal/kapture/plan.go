// Package kapture turns the rolling buffer into a finished clip: it plans
// which slice of which chunk covers each part of the requested window and
// runs the trim and concat jobs that assemble them.
package kapture

import (
	"slices"
	"sort"
	"time"

	"github.com/tphakala/kapt/internal/capture"
	"github.com/tphakala/kapt/internal/errors"
)

// VideoChunk is the slice of one buffered chunk used by a kapture. Offsets
// are relative to the start of the respective file; all values are
// milliseconds.
type VideoChunk struct {
	ChunkIndex  int
	VideoOffset int64
	VideoTime   int64
	AudioOffset int64
	AudioTime   int64
}

// Plan selects the chunk slices that make up a clip of length d ending at
// end (epoch milliseconds). chunks must be sorted and clamped, as returned
// by RollingBuffer.Snapshot. The result is in chronological order and sums
// to exactly d unless the buffer holds less history, in which case every
// usable chunk is returned.
func Plan(chunks []capture.Chunk, end int64, d time.Duration) ([]VideoChunk, error) {
	want := d.Milliseconds()
	if want <= 0 {
		return nil, errors.Newf("kapture duration must be positive, got %s", d).
			Component("kapture").
			Category(errors.CategoryValidation).
			Build()
	}
	if len(chunks) == 0 {
		return nil, errors.Newf("no buffered chunks").
			Component("kapture").
			Category(errors.CategoryOutOfRange).
			Context("end_time", end).
			Build()
	}

	// last chunk whose audio started at or before end
	i := sort.Search(len(chunks), func(n int) bool { return chunks[n].AudioStart > end }) - 1
	if i < 0 {
		return nil, errors.Newf("end time %d precedes the buffered range starting at %d", end, chunks[0].AudioStart).
			Component("kapture").
			Category(errors.CategoryOutOfRange).
			Context("end_time", end).
			Context("buffer_start", chunks[0].AudioStart).
			Build()
	}

	anchor := i
	if i%2 == 1 && end <= chunks[i-1].EarlyEnd {
		// still inside the preceding main chunk's guaranteed coverage
		anchor = i - 1
	}

	var (
		planned []VideoChunk
		total   int64
		next    = end // start of the newer, already planned window
	)
	for k := anchor; k >= 0 && total < want; k-- {
		c := chunks[k]

		from := max(c.VideoStart, c.AudioStart)
		if k%2 == 1 {
			from = max(from, chunks[k-1].EarlyEnd)
		}
		to := min(c.EarlyEnd, next)
		if to <= from {
			continue
		}

		planned = append(planned, VideoChunk{
			ChunkIndex:  k,
			VideoOffset: from - c.VideoStart,
			VideoTime:   to - from,
			AudioOffset: from - c.AudioStart,
			AudioTime:   to - from,
		})
		total += to - from
		next = from
	}

	if len(planned) == 0 {
		return nil, errors.Newf("no footage recorded before end time %d", end).
			Component("kapture").
			Category(errors.CategoryOutOfRange).
			Context("end_time", end).
			Build()
	}

	if excess := total - want; excess > 0 {
		oldest := &planned[len(planned)-1]
		oldest.VideoOffset += excess
		oldest.VideoTime -= excess
		oldest.AudioOffset += excess
		oldest.AudioTime -= excess
	}

	slices.Reverse(planned)
	return planned, nil
}

// Length returns the total clip length of a plan.
func Length(plan []VideoChunk) time.Duration {
	var ms int64
	for _, vc := range plan {
		ms += vc.VideoTime
	}
	return time.Duration(ms) * time.Millisecond
}
