package testutil

import (
	"sync"
	"time"
)

// RecordingTimer is a retry timer that fires immediately and records every
// requested delay. It satisfies backoff.Timer.
type RecordingTimer struct {
	// OnStart, when set, is called with the 1-based sleep number before the
	// timer fires. Tests use it to release a simulated lock.
	OnStart func(n int)

	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

// NewRecordingTimer creates a RecordingTimer with no recorded delays.
func NewRecordingTimer() *RecordingTimer {
	return &RecordingTimer{}
}

// Start records d and makes C ready without sleeping.
func (r *RecordingTimer) Start(d time.Duration) {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	n := len(r.delays)
	r.c = make(chan time.Time, 1)
	r.c <- time.Now()
	r.mu.Unlock()

	if r.OnStart != nil {
		r.OnStart(n)
	}
}

// Stop is a no-op.
func (r *RecordingTimer) Stop() {}

// C returns the channel made ready by the last Start.
func (r *RecordingTimer) C() <-chan time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c
}

// Delays returns a copy of the recorded delays in order.
func (r *RecordingTimer) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}
