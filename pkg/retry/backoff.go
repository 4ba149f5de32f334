package retry

import (
	"fmt"
	"math"
	"time"
)

// maxDuration is used as the upper bound when none is configured.
const maxDuration = time.Duration(math.MaxInt64)

// BackoffDelay is the result of a backoff computation.
// Delay is the value actually waited. Min and Max are the bounds applied after
// jitter; a non-positive Max means the delay is not bounded above.
type BackoffDelay struct {
	Min   time.Duration
	Max   time.Duration
	Delay time.Duration

	exhausted bool
}

// Exhausted signals that no further attempt should be made.
var Exhausted = BackoffDelay{Delay: -1, exhausted: true}

// FixedDelay returns a delay with min=max=delay=d.
func FixedDelay(d time.Duration) BackoffDelay {
	return BackoffDelay{Min: d, Max: d, Delay: d}
}

// NewBackoffDelay returns a delay bounded by min and max.
func NewBackoffDelay(min, max, delay time.Duration) BackoffDelay {
	return BackoffDelay{Min: min, Max: max, Delay: delay}
}

// IsExhausted reports whether b is the Exhausted sentinel.
func (b BackoffDelay) IsExhausted() bool {
	return b.exhausted
}

// clamp keeps d inside [Min, Max].
func (b BackoffDelay) clamp(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

func (b BackoffDelay) String() string {
	if b.exhausted {
		return "exhausted"
	}
	return fmt.Sprintf("%s [%s..%s]", b.Delay, b.Min, b.Max)
}

// Backoff computes the delay before the attempt described by the context.
type Backoff[T any] func(c Context[T]) BackoffDelay

// ZeroBackoff retries immediately.
func ZeroBackoff[T any]() Backoff[T] {
	return func(Context[T]) BackoffDelay {
		return BackoffDelay{}
	}
}

// FixedBackoff waits d before every attempt.
func FixedBackoff[T any](d time.Duration) Backoff[T] {
	return func(Context[T]) BackoffDelay {
		return FixedDelay(d)
	}
}

// ExponentialBackoff grows the delay by factor on every iteration.
//
// When basedOnPrevious is false the delay for iteration n is
// first * factor^(n-1). Otherwise it is the previous delay multiplied by factor,
// and never less than first. The result is capped by max; a zero max means no
// cap. first and factor must be positive and max, when set, not less than
// first.
func ExponentialBackoff[T any](first, max time.Duration, factor float64, basedOnPrevious bool) (Backoff[T], error) {
	if factor <= 0 || math.IsNaN(factor) {
		return nil, fmt.Errorf("%w: backoff factor must be positive, got %v", ErrInvalidConfig, factor)
	}
	if first <= 0 {
		return nil, fmt.Errorf("%w: first backoff must be positive, got %s", ErrInvalidConfig, first)
	}
	if max == 0 {
		max = maxDuration
	}
	if max < first {
		return nil, fmt.Errorf("%w: max backoff %s is less than first backoff %s", ErrInvalidConfig, max, first)
	}

	return func(c Context[T]) BackoffDelay {
		var next float64
		if basedOnPrevious {
			next = float64(c.PreviousDelay) * factor
		} else {
			next = float64(first) * math.Pow(factor, float64(c.Iteration-1))
		}

		delay := max
		if !math.IsNaN(next) && next < float64(max) {
			delay = time.Duration(next)
		}
		if delay < first {
			delay = first
		}
		return BackoffDelay{Min: first, Max: max, Delay: delay}
	}, nil
}
