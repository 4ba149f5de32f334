package retry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTimeout = errors.New("timeout")
	errFatal   = errors.New("fatal")
)

func TestRetry_ExhaustsAfterRetryMax(t *testing.T) {
	r := Any[struct{}]().RetryMax(2).ExponentialBackoff(100*time.Millisecond, 10*time.Second)
	s, err := r.Start()
	require.NoError(t, err)

	e1, e2, e3 := errors.New("e1"), errors.New("e2"), errors.New("e3")

	s, d := r.Step(s, e1)
	assert.Equal(t, ActionRetry, d.Action)
	assert.Equal(t, 100*time.Millisecond, d.Delay)

	s, d = r.Step(s, e2)
	assert.Equal(t, ActionRetry, d.Action)
	assert.Equal(t, 200*time.Millisecond, d.Delay)

	s, d = r.Step(s, e3)
	assert.Equal(t, ActionFail, d.Action)
	assert.True(t, s.Done())
	require.ErrorIs(t, d.Err, ErrExhausted)
	require.ErrorIs(t, d.Err, e3)
	assert.True(t, IsExhausted(d.Err))

	var exhausted *ExhaustedError
	require.ErrorAs(t, d.Err, &exhausted)
	assert.Equal(t, int64(3), exhausted.Attempts)
	assert.Equal(t, ReasonMaxIterations, exhausted.Reason)
	assert.Contains(t, exhausted.Error(), "e3")
}

func TestRetry_PredicateRejectsError(t *testing.T) {
	var hooks int
	r := AnyOf[struct{}](errTimeout).
		RetryMax(5).
		DoOnRetry(func(Context[struct{}]) { hooks++ })
	s, err := r.Start()
	require.NoError(t, err)

	other := errors.New("other")
	s, d := r.Step(s, other)

	assert.Equal(t, ActionFail, d.Action)
	assert.Same(t, other, d.Err)
	assert.False(t, IsExhausted(d.Err))
	assert.True(t, s.Done())
	assert.Zero(t, hooks)
}

func TestRetry_AnyOfMatchesWrapped(t *testing.T) {
	r := AnyOf[struct{}](errTimeout).RetryMax(5)
	s, err := r.Start()
	require.NoError(t, err)

	_, d := r.Step(s, errors.Join(errors.New("dial"), errTimeout))
	assert.Equal(t, ActionRetry, d.Action)
}

func TestRetry_AllBut(t *testing.T) {
	r := AllBut[struct{}](errFatal).RetryMax(5)
	s, err := r.Start()
	require.NoError(t, err)

	s, d := r.Step(s, errTimeout)
	assert.Equal(t, ActionRetry, d.Action)

	_, d = r.Step(s, errFatal)
	assert.Equal(t, ActionFail, d.Action)
	assert.Same(t, errFatal, d.Err)
}

func TestRetry_Timeout(t *testing.T) {
	clock := newFakeClock()
	r := OnlyIf(func(Context[struct{}]) bool { return true }).
		Timeout(500 * time.Millisecond).
		WithClock(clock.Now).
		Backoff(func(c Context[struct{}]) BackoffDelay {
			if c.Iteration == 1 {
				return FixedDelay(100 * time.Millisecond)
			}
			return FixedDelay(time.Second)
		})
	s, err := r.Start()
	require.NoError(t, err)

	deadline, ok := s.Deadline()
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(500*time.Millisecond), deadline)

	s, d := r.Step(s, errTimeout)
	require.Equal(t, ActionRetry, d.Action)
	clock.Advance(d.Delay)

	_, d = r.Step(s, errTimeout)
	assert.Equal(t, ActionFail, d.Action)

	var exhausted *ExhaustedError
	require.ErrorAs(t, d.Err, &exhausted)
	assert.Equal(t, ReasonTimeout, exhausted.Reason)
	assert.Equal(t, 100*time.Millisecond, exhausted.Elapsed)
}

func TestRetry_ContextSeenByPredicateAndHook(t *testing.T) {
	var seen []Context[string]
	var hooked []Context[string]
	r := OnlyIf(func(c Context[string]) bool {
		seen = append(seen, c)
		return true
	}).
		RetryMax(2).
		FixedBackoff(50 * time.Millisecond).
		WithApplicationContext("txn-1").
		DoOnRetry(func(c Context[string]) { hooked = append(hooked, c) })

	s, err := r.Start()
	require.NoError(t, err)
	s, _ = r.Step(s, errTimeout)
	s, _ = r.Step(s, errTimeout)
	_, d := r.Step(s, errTimeout)
	require.Equal(t, ActionFail, d.Action)

	require.Len(t, seen, 3)
	require.Len(t, hooked, 2)

	assert.Equal(t, int64(1), seen[0].Iteration)
	assert.Equal(t, 50*time.Millisecond, seen[0].Backoff.Delay)
	assert.Equal(t, time.Duration(0), seen[0].PreviousDelay)
	assert.Equal(t, 50*time.Millisecond, seen[1].PreviousDelay)
	assert.True(t, seen[2].Backoff.IsExhausted())
	assert.Same(t, errTimeout, seen[2].Err())

	assert.Equal(t, "txn-1", hooked[0].ApplicationContext)
	assert.Equal(t, int64(2), hooked[1].Iteration)
}

func TestRetry_StepAfterDone(t *testing.T) {
	r := Any[struct{}]()
	s, err := r.Start()
	require.NoError(t, err)

	s, d := r.Step(s, errFatal)
	require.Equal(t, ActionRetry, d.Action)
	s, d = r.Step(s, errFatal)
	require.Equal(t, ActionFail, d.Action)

	_, d = r.Step(s, errFatal)
	assert.Equal(t, ActionStop, d.Action)
	assert.NoError(t, d.Err)
}

func TestRetry_Immutable(t *testing.T) {
	base := Any[struct{}]()
	five := base.RetryMax(5)
	seven := base.RetryMax(2).RetryMax(7)

	assert.Equal(t, int64(1), base.MaxIterations())
	assert.Equal(t, int64(5), five.MaxIterations())
	assert.Equal(t, int64(7), seven.MaxIterations())

	assert.Equal(t, int64(1), base.RetryOnce().MaxIterations())

	named := OnlyIf(func(Context[string]) bool { return true })
	a := named.WithApplicationContext("a")
	b := a.WithApplicationContext("b")
	assert.Equal(t, "", named.ApplicationContext())
	assert.Equal(t, "a", a.ApplicationContext())
	assert.Equal(t, "b", b.ApplicationContext())

	clock := newFakeClock()
	timed := Any[struct{}]().WithClock(clock.Now)
	latest := timed.Timeout(time.Second).Timeout(5 * time.Second)

	s, err := latest.Start()
	require.NoError(t, err)
	deadline, ok := s.Deadline()
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(5*time.Second), deadline)

	s, err = timed.Start()
	require.NoError(t, err)
	_, ok = s.Deadline()
	assert.False(t, ok, "receiver keeps no deadline")
}

func TestRetry_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		policy Retry[struct{}]
	}{
		{"negative max", Any[struct{}]().RetryMax(-1)},
		{"negative timeout", Any[struct{}]().Timeout(-time.Second)},
		{"nil backoff", Any[struct{}]().Backoff(nil)},
		{"nil jitter", Any[struct{}]().Jitter(nil)},
		{"nil predicate", OnlyIf[struct{}](nil)},
		{"exponential zero first", Any[struct{}]().ExponentialBackoff(0, time.Second)},
		{"exponential max below first", Any[struct{}]().RandomBackoff(time.Second, time.Millisecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.policy.Validate(), ErrInvalidConfig)

			_, err := tt.policy.Start()
			require.ErrorIs(t, err, ErrInvalidConfig)

			var calls int
			err = tt.policy.Do(context.Background(), func(context.Context) error {
				calls++
				return nil
			})
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Zero(t, calls)
		})
	}
}

func TestRetry_FirstConfigErrorKept(t *testing.T) {
	err := Any[struct{}]().RetryMax(-1).Timeout(-time.Second).Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "max iterations")
}

func TestRetry_Do(t *testing.T) {
	timers := &immediateTimers{}
	r := Any[struct{}]().RetryMax(3).FixedBackoff(10 * time.Millisecond).WithBackoffScheduler(timers)

	var calls int
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTimeout
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}, timers.Delays())
}

func TestRetry_DoExhausted(t *testing.T) {
	r := Any[struct{}]().RetryMax(2).WithBackoffScheduler(&immediateTimers{})

	var calls int
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errTimeout
	})

	require.ErrorIs(t, err, ErrExhausted)
	require.ErrorIs(t, err, errTimeout)
	assert.Equal(t, 3, calls)
}

func TestRetry_DoNonRetryable(t *testing.T) {
	r := AllBut[struct{}](errFatal).RetryMax(5)

	var calls int
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errFatal
	})

	assert.Same(t, errFatal, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_DoZeroDelaySkipsTimer(t *testing.T) {
	timers := TimerFunc(func(time.Duration, func()) CancelFunc {
		t.Error("timer must not be used for zero delays")
		return func() bool { return false }
	})
	r := Any[struct{}]().RetryMax(3).NoBackoff().WithBackoffScheduler(timers)

	var calls int
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 4 {
			return errTimeout
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetry_DoCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	err := Any[struct{}]().Do(ctx, func(context.Context) error {
		calls++
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetry_DoCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := Any[struct{}]().RetryMax(3).FixedBackoff(time.Hour)

	start := time.Now()
	err := r.Do(ctx, func(context.Context) error {
		time.AfterFunc(10*time.Millisecond, cancel)
		return errTimeout
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDoValue(t *testing.T) {
	r := Any[struct{}]().RetryMax(2).WithBackoffScheduler(&immediateTimers{})

	var calls int
	v, err := DoValue(context.Background(), r, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errTimeout
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestRetry_ConcurrentRuns(t *testing.T) {
	r := Any[struct{}]().RetryMax(3).RandomBackoff(time.Millisecond, 5*time.Millisecond)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var calls int
			err := r.Do(context.Background(), func(context.Context) error {
				calls++
				if calls < 4 {
					return errTimeout
				}
				return nil
			})
			if err != nil || calls != 4 {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
}

func TestRetry_RandomBackoffStaysInBounds(t *testing.T) {
	r := OnlyIf(func(Context[struct{}]) bool { return true }).
		RetryMax(50).
		RandomBackoff(10*time.Millisecond, 200*time.Millisecond)
	s, err := r.Start()
	require.NoError(t, err)

	for range 50 {
		var d Decision
		s, d = r.Step(s, errTimeout)
		require.Equal(t, ActionRetry, d.Action)
		assert.GreaterOrEqual(t, d.Delay, 10*time.Millisecond)
		assert.LessOrEqual(t, d.Delay, 200*time.Millisecond)
	}
}
