package retry

import (
	"sync"
	"time"
)

// RecordingTimer is a backoff.Timer that fires at once and remembers every
// wait it was asked for. It lets callers assert on delays without sleeping.
type RecordingTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

// NewRecordingTimer returns a ready RecordingTimer.
func NewRecordingTimer() *RecordingTimer {
	return &RecordingTimer{c: make(chan time.Time, 1)}
}

func (r *RecordingTimer) Start(d time.Duration) {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	select {
	case r.c <- time.Now():
	default:
	}
}

func (r *RecordingTimer) Stop() {}

func (r *RecordingTimer) C() <-chan time.Time { return r.c }

// Waits returns a copy of the recorded delays.
func (r *RecordingTimer) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}
