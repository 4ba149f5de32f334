package retry

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Jitter turns a computed backoff into the delay that is actually waited.
// The engine clamps the result to the bounds of the BackoffDelay afterwards.
type Jitter func(b BackoffDelay) time.Duration

// Source is the random source used by jitter.
// *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	Int64N(n int64) int64
}

// globalSource uses the top-level math/rand/v2 generator, which is safe for
// concurrent use.
type globalSource struct{}

func (globalSource) Int64N(n int64) int64 { return rand.Int64N(n) }

// lockedSource serialises access to a source that is not safe for concurrent use.
type lockedSource struct {
	mu  sync.Mutex
	src Source
}

func (s *lockedSource) Int64N(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Int64N(n)
}

// NoJitter returns the computed delay unchanged.
func NoJitter() Jitter {
	return func(b BackoffDelay) time.Duration {
		return b.Delay
	}
}

// RandomJitter draws uniformly from [Min, Delay].
func RandomJitter() Jitter {
	return randomJitter(globalSource{})
}

// RandomJitterFrom is RandomJitter with a caller supplied source.
// The source is guarded by a mutex so the jitter can be shared across runs.
func RandomJitterFrom(src Source) Jitter {
	if src == nil {
		return RandomJitter()
	}
	return randomJitter(&lockedSource{src: src})
}

func randomJitter(src Source) Jitter {
	return func(b BackoffDelay) time.Duration {
		if b.Delay <= b.Min {
			return b.Min
		}
		span := int64(b.Delay - b.Min)
		if span == int64(maxDuration) {
			return b.Min + time.Duration(src.Int64N(span))
		}
		return b.Min + time.Duration(src.Int64N(span+1))
	}
}

// RandomFactorJitter moves the delay by up to ±factor*Delay.
// factor is limited to (0, 1]; other values disable the jitter.
func RandomFactorJitter(factor float64) Jitter {
	return randomFactorJitter(globalSource{}, factor)
}

func randomFactorJitter(src Source, factor float64) Jitter {
	return func(b BackoffDelay) time.Duration {
		if factor <= 0 || factor > 1 || b.Delay <= 0 {
			return b.Delay
		}
		offset := int64(float64(b.Delay) * factor)
		if offset <= 0 {
			return b.Delay
		}
		low := int64(b.Delay) - offset
		high := int64(b.Delay) + offset
		if high < 0 {
			high = int64(maxDuration)
		}
		return time.Duration(low + src.Int64N(high-low))
	}
}
