package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepeat_Times(t *testing.T) {
	var repeats int
	r := Times[struct{}](3).DoOnRepeat(func(Context[struct{}]) { repeats++ })
	s, err := r.Start()
	require.NoError(t, err)

	for v := int64(1); v <= 2; v++ {
		var d Decision
		s, d = r.Step(s, v)
		assert.Equal(t, ActionRetry, d.Action, "value %d", v)
	}

	s, d := r.Step(s, 3)
	assert.Equal(t, ActionStop, d.Action, "third value is terminal")
	assert.NoError(t, d.Err)
	assert.True(t, s.Done())
	assert.Equal(t, 2, repeats)
}

func TestRepeat_Once(t *testing.T) {
	assert.Equal(t, int64(1), Once[struct{}]().MaxIterations())

	var runs int
	err := Once[struct{}]().Do(context.Background(), func(context.Context) (int64, error) {
		runs++
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
}

func TestRepeat_Do(t *testing.T) {
	timers := &immediateTimers{}
	r := Times[struct{}](3).FixedBackoff(time.Second).WithBackoffScheduler(timers)

	var runs int64
	err := r.Do(context.Background(), func(context.Context) (int64, error) {
		runs++
		return runs, nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(3), runs, "no fourth attempt")
	assert.Equal(t, []time.Duration{time.Second, time.Second}, timers.Delays())
}

func TestRepeat_OnlyIfCompanionValue(t *testing.T) {
	var values []int64
	r := RepeatOnlyIf(func(c Context[struct{}]) bool {
		values = append(values, c.CompanionValue())
		return c.CompanionValue() > 0
	})

	remaining := int64(3)
	err := r.Do(context.Background(), func(context.Context) (int64, error) {
		remaining--
		return remaining, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1, 0}, values)
}

func TestRepeat_While(t *testing.T) {
	r := RepeatWhile(func(c Context[struct{}]) bool { return true }, 2)

	var runs int
	err := r.Do(context.Background(), func(context.Context) (int64, error) {
		runs++
		return 1, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, runs)
}

func TestRepeat_ErrorEndsRun(t *testing.T) {
	boom := errors.New("boom")
	r := RepeatOnlyIf(func(Context[struct{}]) bool { return true })

	var runs int
	err := r.Do(context.Background(), func(context.Context) (int64, error) {
		runs++
		if runs == 2 {
			return 0, boom
		}
		return 1, nil
	})

	assert.Same(t, boom, err)
	assert.Equal(t, 2, runs)
}

func TestRepeat_TimeoutStopsCleanly(t *testing.T) {
	clock := newFakeClock()
	r := RepeatOnlyIf(func(Context[struct{}]) bool { return true }).
		FixedBackoff(time.Second).
		Timeout(1500 * time.Millisecond).
		WithClock(clock.Now)
	s, err := r.Start()
	require.NoError(t, err)

	s, d := r.Step(s, 1)
	require.Equal(t, ActionRetry, d.Action)
	clock.Advance(time.Second)

	_, d = r.Step(s, 1)
	assert.Equal(t, ActionStop, d.Action)
	assert.NoError(t, d.Err)
}

func TestRepeat_InvalidConfig(t *testing.T) {
	require.ErrorIs(t, Times[struct{}](-1).Validate(), ErrInvalidConfig)
	require.ErrorIs(t, RepeatOnlyIf[struct{}](nil).Validate(), ErrInvalidConfig)

	var runs int
	err := Times[struct{}](2).ExponentialBackoff(0, 0).Do(context.Background(), func(context.Context) (int64, error) {
		runs++
		return 0, nil
	})
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Zero(t, runs)
}

func TestRepeat_Immutable(t *testing.T) {
	base := Times[struct{}](2)
	more := base.RepeatMax(10)

	assert.Equal(t, int64(2), base.MaxIterations())
	assert.Equal(t, int64(10), more.MaxIterations())
}
