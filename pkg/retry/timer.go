package retry

import (
	"context"
	"time"
)

// CancelFunc cancels a scheduled task. It reports whether the task was
// prevented from running.
type CancelFunc func() bool

// TimerSource runs fn once after d has elapsed.
type TimerSource interface {
	Schedule(d time.Duration, fn func()) CancelFunc
}

// TimerFunc adapts a function to TimerSource.
type TimerFunc func(d time.Duration, fn func()) CancelFunc

// Schedule calls f(d, fn).
func (f TimerFunc) Schedule(d time.Duration, fn func()) CancelFunc { return f(d, fn) }

type systemTimers struct{}

func (systemTimers) Schedule(d time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(d, fn)
	return t.Stop
}

// SystemTimers returns the default TimerSource backed by time.AfterFunc.
func SystemTimers() TimerSource {
	return systemTimers{}
}

// wait blocks until d has elapsed on timers or ctx is done. A pending task is
// cancelled when ctx ends first. Zero delays skip the timer.
func wait(ctx context.Context, timers TimerSource, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	fired := make(chan struct{})
	cancel := timers.Schedule(d, func() { close(fired) })

	select {
	case <-fired:
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}
