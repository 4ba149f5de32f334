package retry

import (
	"sync"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// immediateTimers fires every task right away and records the delays.
type immediateTimers struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (t *immediateTimers) Schedule(d time.Duration, fn func()) CancelFunc {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	fn()
	return func() bool { return false }
}

func (t *immediateTimers) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}

// manualTimers keeps tasks until fired or cancelled.
type manualTimers struct {
	mu        sync.Mutex
	delays    []time.Duration
	pending   []func()
	cancelled int
}

func (t *manualTimers) Schedule(d time.Duration, fn func()) CancelFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delays = append(t.delays, d)
	idx := len(t.pending)
	t.pending = append(t.pending, fn)
	return func() bool {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.pending[idx] == nil {
			return false
		}
		t.pending[idx] = nil
		t.cancelled++
		return true
	}
}

func (t *manualTimers) Scheduled() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.delays)
}

func (t *manualTimers) Cancelled() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *manualTimers) FireAll() {
	t.mu.Lock()
	var fns []func()
	for i, fn := range t.pending {
		if fn != nil {
			fns = append(fns, fn)
			t.pending[i] = nil
		}
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// countingSource counts draws and always returns n-1.
type countingSource struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSource) Int64N(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return n - 1
}

// zeroSource always returns 0.
type zeroSource struct{}

func (zeroSource) Int64N(int64) int64 { return 0 }
