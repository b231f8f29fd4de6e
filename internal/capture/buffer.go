package capture

import (
	"slices"
	"sync"
	"time"

	"github.com/tphakala/kapt/internal/errors"
	"github.com/tphakala/kapt/internal/observability/metrics"
)

// RollingBuffer is the ordered set of completed chunks available to kaptures.
// Every method takes the buffer lock for its whole duration.
type RollingBuffer struct {
	mu      sync.Mutex
	chunks  []*CompletedChunk
	metrics *metrics.CaptureMetrics
}

// NewRollingBuffer creates an empty buffer. m may be nil.
func NewRollingBuffer(m *metrics.CaptureMetrics) *RollingBuffer {
	return &RollingBuffer{metrics: m}
}

// Push appends a chunk. Ordering is restored lazily by SortAndClamp.
func (b *RollingBuffer) Push(c *CompletedChunk) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, c)
	b.observe()

	logger.Debug("chunk buffered",
		"chunk_id", c.ID,
		"slot", c.Slot,
		"session_id", c.Session,
		"duration_ms", c.Duration().Milliseconds(),
		"buffered", len(b.chunks))
}

// Len returns the number of buffered chunks.
func (b *RollingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// SortAndClamp orders chunks by audio start and caps each chunk's early end
// just before the audio start of the next chunk of the same parity.
func (b *RollingBuffer) SortAndClamp() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sortAndClamp()
}

func (b *RollingBuffer) sortAndClamp() {
	slices.SortStableFunc(b.chunks, func(x, y *CompletedChunk) int {
		switch {
		case x.AudioStart < y.AudioStart:
			return -1
		case x.AudioStart > y.AudioStart:
			return 1
		}
		return 0
	})

	for i := 0; i+2 < len(b.chunks); i++ {
		b.chunks[i].EarlyEnd = min(b.chunks[i].EarlyEnd, b.chunks[i+2].AudioStart-1)
	}
}

// Snapshot sorts and clamps the buffer and returns a copy of its chunks.
// The copy stays valid until the chunks are released.
func (b *RollingBuffer) Snapshot() []Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sortAndClamp()
	out := make([]Chunk, len(b.chunks))
	for i, c := range b.chunks {
		out[i] = c.Chunk
	}
	return out
}

// EvictExpired removes, oldest first, every chunk whose early end lies more
// than budget before now, and returns how many were removed.
func (b *RollingBuffer) EvictExpired(now time.Time, budget time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sortAndClamp()

	nowMs := now.UnixMilli()
	budgetMs := budget.Milliseconds()

	n := 0
	for n < len(b.chunks) && nowMs-b.chunks[n].EarlyEnd > budgetMs {
		n++
	}
	if n == 0 {
		return 0
	}

	for _, c := range b.chunks[:n] {
		if err := c.Release(); err != nil {
			logger.Warn("failed to delete evicted chunk files", "chunk_id", c.ID, "error", err)
		}
		logger.Debug("chunk evicted", "chunk_id", c.ID, "age_ms", nowMs-c.EarlyEnd)
	}
	b.chunks = slices.Delete(b.chunks, 0, n)

	b.metrics.RecordEviction("expired", n)
	b.observe()
	return n
}

// Clear drops every chunk and deletes its files. Deletion failures are
// joined into the returned error; the buffer is empty either way.
func (b *RollingBuffer) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for _, c := range b.chunks {
		if err := c.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	n := len(b.chunks)
	b.chunks = nil

	if n > 0 {
		b.metrics.RecordEviction("clear", n)
		logger.Debug("buffer cleared", "chunks", n)
	}
	b.observe()

	return errors.Join(errs...)
}

// Span returns the earliest start and latest guaranteed end among the
// buffered chunks, or zeros for an empty buffer.
func (b *RollingBuffer) Span() (from, to int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.span()
}

func (b *RollingBuffer) span() (from, to int64) {
	for i, c := range b.chunks {
		start := max(c.VideoStart, c.AudioStart)
		if i == 0 || start < from {
			from = start
		}
		to = max(to, c.EarlyEnd)
	}
	return from, to
}

// observe publishes buffer gauges; callers hold b.mu.
func (b *RollingBuffer) observe() {
	from, to := b.span()
	b.metrics.SetBuffered(len(b.chunks), time.Duration(to-from)*time.Millisecond)
}
