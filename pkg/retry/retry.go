package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// Retry decides, for every failure of an upstream operation, whether to try
// again and after which delay. A Retry is an immutable value: every method
// returns a modified copy and leaves the receiver untouched, so one policy can
// be shared by any number of concurrent runs.
type Retry[T any] struct {
	policy[T]
	predicate func(Context[T]) bool
	onRetry   func(Context[T])
}

func newRetry[T any](predicate func(Context[T]) bool, maxIterations int64) Retry[T] {
	r := Retry[T]{policy: newPolicy[T](maxIterations), predicate: predicate}
	if predicate == nil {
		r.policy = r.fail(fmt.Errorf("%w: predicate must not be nil", ErrInvalidConfig))
	}
	return r
}

// Any retries every error once.
func Any[T any]() Retry[T] {
	return newRetry(func(Context[T]) bool { return true }, 1)
}

// AnyOf retries errors matching one of targets (errors.Is). A context without
// an error is accepted.
func AnyOf[T any](targets ...error) Retry[T] {
	targets = slices.Clone(targets)
	return newRetry(func(c Context[T]) bool {
		err := c.Err()
		if err == nil {
			return true
		}
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}, 1)
}

// AllBut retries every error except those matching one of targets.
func AllBut[T any](targets ...error) Retry[T] {
	targets = slices.Clone(targets)
	return newRetry(func(c Context[T]) bool {
		err := c.Err()
		for _, target := range targets {
			if err != nil && errors.Is(err, target) {
				return false
			}
		}
		return true
	}, 1)
}

// OnlyIf retries while predicate accepts the context, without an iteration
// bound unless RetryMax is used.
func OnlyIf[T any](predicate func(Context[T]) bool) Retry[T] {
	return newRetry(predicate, maxIterationsUnbounded)
}

// WithApplicationContext sets the value passed to predicates and hooks.
func (r Retry[T]) WithApplicationContext(v T) Retry[T] {
	r.appCtx = v
	return r
}

// DoOnRetry sets a hook called synchronously before each scheduled retry.
func (r Retry[T]) DoOnRetry(fn func(Context[T])) Retry[T] {
	r.onRetry = fn
	return r
}

// RetryMax limits the number of retries.
func (r Retry[T]) RetryMax(n int64) Retry[T] {
	r.policy = r.withMaxIterations(n)
	return r
}

// RetryOnce allows a single retry.
func (r Retry[T]) RetryOnce() Retry[T] {
	return r.RetryMax(1)
}

// Timeout bounds the total time of a run, measured from its start.
func (r Retry[T]) Timeout(d time.Duration) Retry[T] {
	r.policy = r.withTimeout(d)
	return r
}

// Backoff sets the backoff function.
func (r Retry[T]) Backoff(b Backoff[T]) Retry[T] {
	r.policy = r.withBackoff(b)
	return r
}

// Jitter sets the jitter applied to each backoff.
func (r Retry[T]) Jitter(j Jitter) Retry[T] {
	r.policy = r.withJitter(j)
	return r
}

// WithBackoffScheduler sets the timer source used to wait between attempts.
func (r Retry[T]) WithBackoffScheduler(ts TimerSource) Retry[T] {
	r.timers = ts
	return r
}

// WithClock replaces time.Now, mostly for tests.
func (r Retry[T]) WithClock(now func() time.Time) Retry[T] {
	r.now = now
	return r
}

// WithLogger sets the logger used for decision logs.
func (r Retry[T]) WithLogger(l *slog.Logger) Retry[T] {
	r.logger = l
	return r
}

// NoBackoff retries immediately.
func (r Retry[T]) NoBackoff() Retry[T] {
	return r.Backoff(ZeroBackoff[T]()).Jitter(NoJitter())
}

// FixedBackoff waits d between attempts.
func (r Retry[T]) FixedBackoff(d time.Duration) Retry[T] {
	return r.Backoff(FixedBackoff[T](d)).Jitter(NoJitter())
}

// ExponentialBackoff doubles the delay from first up to max.
func (r Retry[T]) ExponentialBackoff(first, max time.Duration) Retry[T] {
	r.policy = r.withExponential(first, max, 2, false, NoJitter())
	return r
}

// ExponentialBackoffWithJitter is ExponentialBackoff with random jitter.
func (r Retry[T]) ExponentialBackoffWithJitter(first, max time.Duration) Retry[T] {
	r.policy = r.withExponential(first, max, 2, false, RandomJitter())
	return r
}

// RandomBackoff uses decorrelated jitter: each delay is drawn between first
// and three times the previous delay.
func (r Retry[T]) RandomBackoff(first, max time.Duration) Retry[T] {
	r.policy = r.withExponential(first, max, 3, true, RandomJitter())
	return r
}

// MaxIterations returns the configured retry bound.
func (r Retry[T]) MaxIterations() int64 { return r.maxIterations }

// ApplicationContext returns the configured application context.
func (r Retry[T]) ApplicationContext() T { return r.appCtx }

// Validate returns the first configuration error, if any.
func (r Retry[T]) Validate() error { return r.validate() }

// Start begins a run. The returned State belongs to that run only.
func (r Retry[T]) Start() (State, error) { return r.start() }

// Step folds a failure into s and decides what happens next. The hook set by
// DoOnRetry runs only when another attempt is scheduled. Step on a finished
// run reports ActionStop without calling anything.
func (r Retry[T]) Step(s State, err error) (State, Decision) {
	if s.done {
		return s, Decision{Action: ActionStop}
	}

	iteration := s.iteration + 1
	c := Context[T]{
		ApplicationContext: r.appCtx,
		Iteration:          iteration,
		PreviousDelay:      s.lastDelay,
		Trigger:            ErrorTrigger(err),
	}
	next, reason := r.nextBackoff(c, s.deadline)
	c.Backoff = next

	s.iteration = iteration
	if !next.IsExhausted() {
		s.lastDelay = next.Delay
	}

	log := r.log()
	if !r.predicate(c) {
		s.done = true
		log.Debug("stopping retries since predicate returned false",
			slog.Int64("iteration", iteration), slog.Any("error", err))
		if err == nil {
			return s, Decision{Action: ActionStop}
		}
		return s, Decision{Action: ActionFail, Err: err}
	}

	if next.IsExhausted() {
		s.done = true
		log.Debug("retries exhausted",
			slog.Int64("iteration", iteration), slog.String("reason", reason), slog.Any("error", err))
		return s, Decision{Action: ActionFail, Err: &ExhaustedError{
			LastError: err,
			Attempts:  iteration,
			Elapsed:   r.clock().Sub(s.started),
			Reason:    reason,
		}}
	}

	log.Debug("scheduling retry attempt",
		slog.Int64("iteration", iteration), slog.Duration("delay", next.Delay), slog.Any("error", err))
	if r.onRetry != nil {
		r.onRetry(c)
	}
	return s, Decision{Action: ActionRetry, Delay: next.Delay}
}

// Watch consumes the failures of an upstream operation, one per failed
// attempt, and emits a Signal once the host should invoke the operation again.
// The next failure is read only after the previous Signal was delivered, so
// attempts never overlap. A terminal Signal carries the error to fail the run
// with. The channel is closed after a terminal Signal, when failures is closed,
// or when ctx is done; a pending delay is cancelled in the last case.
func (r Retry[T]) Watch(ctx context.Context, failures <-chan error) <-chan Signal {
	out := make(chan Signal)
	go func() {
		defer close(out)

		s, err := r.Start()
		if err != nil {
			emit(ctx, out, Signal{Err: err})
			return
		}
		timers := r.timerSource()

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-failures:
				if !ok || ctx.Err() != nil {
					return
				}
				var d Decision
				s, d = r.Step(s, e)
				if !forward(ctx, timers, out, s, d) {
					return
				}
			}
		}
	}()
	return out
}

// Do runs fn until it succeeds or r gives up.
func (r Retry[T]) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue runs fn until it succeeds or r gives up and returns its result.
func DoValue[T, V any](ctx context.Context, r Retry[T], fn func(ctx context.Context) (V, error)) (V, error) {
	var zero V

	s, err := r.Start()
	if err != nil {
		return zero, err
	}
	timers := r.timerSource()

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		var d Decision
		s, d = r.Step(s, err)
		if d.Action != ActionRetry {
			return zero, d.Err
		}
		if err := wait(ctx, timers, d.Delay); err != nil {
			return zero, err
		}
	}
}

// forward turns a decision into a Signal on out, waiting for the delay first.
// It reports whether the run goes on.
func forward(ctx context.Context, timers TimerSource, out chan<- Signal, s State, d Decision) bool {
	switch d.Action {
	case ActionFail:
		emit(ctx, out, Signal{Iteration: s.iteration, Err: d.Err})
		return false
	case ActionStop:
		return false
	}

	if err := wait(ctx, timers, d.Delay); err != nil {
		return false
	}
	return emit(ctx, out, Signal{Iteration: s.iteration, Delay: d.Delay})
}

func emit(ctx context.Context, out chan<- Signal, sig Signal) bool {
	select {
	case out <- sig:
		return true
	case <-ctx.Done():
		return false
	}
}
