package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Signal) (Signal, bool) {
	t.Helper()
	select {
	case sig, ok := <-ch:
		return sig, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal")
		return Signal{}, false
	}
}

func TestRetry_Watch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	timers := &immediateTimers{}
	r := Any[struct{}]().RetryMax(2).ExponentialBackoff(100*time.Millisecond, 10*time.Second).WithBackoffScheduler(timers)

	failures := make(chan error)
	signals := r.Watch(ctx, failures)

	failures <- errors.New("e1")
	sig, ok := receive(t, signals)
	require.True(t, ok)
	assert.NoError(t, sig.Err)
	assert.Equal(t, int64(1), sig.Iteration)
	assert.Equal(t, 100*time.Millisecond, sig.Delay)

	failures <- errors.New("e2")
	sig, ok = receive(t, signals)
	require.True(t, ok)
	assert.Equal(t, 200*time.Millisecond, sig.Delay)

	e3 := errors.New("e3")
	failures <- e3
	sig, ok = receive(t, signals)
	require.True(t, ok)
	require.ErrorIs(t, sig.Err, ErrExhausted)
	require.ErrorIs(t, sig.Err, e3)

	_, ok = receive(t, signals)
	assert.False(t, ok, "channel must be closed after a terminal signal")
}

func TestRetry_WatchCancelStopsPendingTimer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	timers := &manualTimers{}
	var hooks atomic.Int32
	r := Any[struct{}]().
		RetryMax(5).
		FixedBackoff(time.Hour).
		WithBackoffScheduler(timers).
		DoOnRetry(func(Context[struct{}]) { hooks.Add(1) })

	failures := make(chan error, 1)
	signals := r.Watch(ctx, failures)

	failures <- errTimeout
	require.Eventually(t, func() bool { return timers.Scheduled() == 1 }, time.Second, time.Millisecond)

	cancel()

	_, ok := receive(t, signals)
	assert.False(t, ok)
	assert.Equal(t, 1, timers.Cancelled())

	timers.FireAll()
	assert.Equal(t, int32(1), hooks.Load())
}

func TestRetry_WatchManualTimer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	timers := &manualTimers{}
	r := Any[struct{}]().RetryMax(5).FixedBackoff(time.Minute).WithBackoffScheduler(timers)

	failures := make(chan error, 1)
	signals := r.Watch(ctx, failures)
	failures <- errTimeout

	require.Eventually(t, func() bool { return timers.Scheduled() == 1 }, time.Second, time.Millisecond)
	select {
	case <-signals:
		t.Fatal("signal emitted before the delay elapsed")
	default:
	}

	timers.FireAll()
	sig, ok := receive(t, signals)
	require.True(t, ok)
	assert.Equal(t, time.Minute, sig.Delay)
}

func TestRetry_WatchInputClosed(t *testing.T) {
	failures := make(chan error)
	signals := Any[struct{}]().Watch(context.Background(), failures)
	close(failures)

	_, ok := receive(t, signals)
	assert.False(t, ok)
}

func TestRetry_WatchInvalidConfig(t *testing.T) {
	signals := Any[struct{}]().RetryMax(-1).Watch(context.Background(), make(chan error))

	sig, ok := receive(t, signals)
	require.True(t, ok)
	require.ErrorIs(t, sig.Err, ErrInvalidConfig)

	_, ok = receive(t, signals)
	assert.False(t, ok)
}

func TestRepeat_Watch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := Times[struct{}](2).FixedBackoff(time.Second).WithBackoffScheduler(&immediateTimers{})
	completions := make(chan int64, 1)
	signals := r.Watch(ctx, completions)

	completions <- 1
	sig, ok := receive(t, signals)
	require.True(t, ok)
	assert.NoError(t, sig.Err)
	assert.Equal(t, int64(1), sig.Iteration)

	completions <- 2
	_, ok = receive(t, signals)
	assert.False(t, ok, "repeat stops cleanly once exhausted")
}
