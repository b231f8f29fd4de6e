package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/kapt/internal/errors"
)

// Scheduler alternates the recorder between its two slots every interval, so
// each chunk records for two intervals and consecutive chunks overlap by one.
type Scheduler struct {
	recorder *Recorder
	buffer   *RollingBuffer
	interval time.Duration
	budget   atomic.Int64 // nanoseconds
	now      func() time.Time

	// session is the live session id, empty while inactive. Loop iterations
	// compare against it without taking mu.
	session atomic.Pointer[string]

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// NewScheduler creates an inactive scheduler.
func NewScheduler(recorder *Recorder, buffer *RollingBuffer, interval, budget time.Duration) *Scheduler {
	s := &Scheduler{
		recorder: recorder,
		buffer:   buffer,
		interval: interval,
		now:      recorder.now,
	}
	s.budget.Store(int64(budget))
	empty := ""
	s.session.Store(&empty)
	return s
}

// SetBudget changes how long completed chunks are retained.
func (s *Scheduler) SetBudget(d time.Duration) {
	s.budget.Store(int64(d))
}

// Budget returns the retention budget.
func (s *Scheduler) Budget() time.Duration {
	return time.Duration(s.budget.Load())
}

// Session returns the live session id, or "" while inactive.
func (s *Scheduler) Session() string {
	return *s.session.Load()
}

// Active reports whether continuous capture is running.
func (s *Scheduler) Active() bool {
	return s.Session() != ""
}

// Activate starts continuous capture under a fresh session. It returns
// false without side effects when capture is already active.
func (s *Scheduler) Activate() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Active() {
		return false, nil
	}

	session := uuid.NewString()
	if err := s.recorder.Start(0, session); err != nil {
		return false, errors.New(err).
			Component("capture").
			Context("operation", "activate").
			Build()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.session.Store(&session)

	go s.loop(ctx, session, s.loopDone)

	logger.Info("capture session started", "session_id", session, "interval_ms", s.interval.Milliseconds())
	return true, nil
}

// Deactivate stops capture and discards every buffered chunk. It returns
// false without side effects when capture is not active.
func (s *Scheduler) Deactivate() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok, stopErr := s.halt()
	if !ok {
		return false, nil
	}

	clearErr := s.buffer.Clear()
	logger.Info("capture session stopped", "session_id", session)
	return true, errors.Join(stopErr, clearErr)
}

// Suspend stops capture but keeps the buffer, so the chunks that were
// recording become available to a kapture. It reports whether capture was
// active.
func (s *Scheduler) Suspend() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok, err := s.halt()
	if !ok {
		return false, nil
	}
	logger.Info("capture session suspended", "session_id", session)
	return true, err
}

// halt invalidates the session, waits for the loop to exit and stops both
// slots. A chunk without start times only thins the buffer, so that case is
// logged rather than returned. Callers hold mu.
func (s *Scheduler) halt() (string, bool, error) {
	session := s.Session()
	if session == "" {
		return "", false, nil
	}

	empty := ""
	s.session.Store(&empty)
	s.cancel()
	<-s.loopDone
	s.cancel, s.loopDone = nil, nil

	err := s.recorder.StopAll()
	if err != nil && errors.IsCategory(err, errors.CategoryMissingStartTime) {
		logger.Warn("chunk lost while stopping", "session_id", session, "error", err)
		err = nil
	}
	return session, true, err
}

// loop toggles the slot every interval until the session changes.
func (s *Scheduler) loop(ctx context.Context, session string, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slot := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.Session() != session {
			return
		}

		slot = 1 - slot
		if n := s.buffer.EvictExpired(s.now(), s.Budget()); n > 0 {
			logger.Debug("evicted expired chunks", "count", n, "session_id", session)
		}

		if err := s.recorder.Start(slot, session); err != nil {
			// a missing chunk only thins the buffer, keep the cadence
			logger.Error("failed to start chunk", "slot", slot, "session_id", session, "error", err)
		}
	}
}
