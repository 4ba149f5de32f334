package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Repeat decides, after each successful completion of an upstream operation,
// whether to run it again. The trigger is a companion value emitted on
// completion, usually the number of items the run produced. Like Retry, a
// Repeat is immutable and safe to share.
type Repeat[T any] struct {
	policy[T]
	predicate func(Context[T]) bool
	onRepeat  func(Context[T])
}

// RepeatOnlyIf repeats while predicate accepts the context.
func RepeatOnlyIf[T any](predicate func(Context[T]) bool) Repeat[T] {
	r := Repeat[T]{policy: newPolicy[T](maxIterationsUnbounded), predicate: predicate}
	if predicate == nil {
		r.policy = r.fail(fmt.Errorf("%w: predicate must not be nil", ErrInvalidConfig))
	}
	return r
}

// Times lets the operation complete n times: the n-th companion value stops
// the run without scheduling another attempt.
func Times[T any](n int64) Repeat[T] {
	return RepeatOnlyIf(func(Context[T]) bool { return true }).RepeatMax(n)
}

// Once runs the operation a single time.
func Once[T any]() Repeat[T] {
	return Times[T](1)
}

// RepeatWhile runs the operation at most n times while predicate accepts
// the context.
func RepeatWhile[T any](predicate func(Context[T]) bool, n int64) Repeat[T] {
	return RepeatOnlyIf(predicate).RepeatMax(n)
}

// WithApplicationContext attaches v to every Context the policy builds.
func (r Repeat[T]) WithApplicationContext(v T) Repeat[T] {
	r.appCtx = v
	return r
}

// DoOnRepeat sets a hook called synchronously before each scheduled repeat.
func (r Repeat[T]) DoOnRepeat(fn func(Context[T])) Repeat[T] {
	r.onRepeat = fn
	return r
}

// RepeatMax bounds a run to n companion values. Negative n is invalid.
func (r Repeat[T]) RepeatMax(n int64) Repeat[T] {
	r.policy = r.withMaxIterations(n)
	return r
}

// Timeout stops the run cleanly once the next repeat would start after d.
func (r Repeat[T]) Timeout(d time.Duration) Repeat[T] {
	r.policy = r.withTimeout(d)
	return r
}

// Backoff sets the delay function between runs.
func (r Repeat[T]) Backoff(b Backoff[T]) Repeat[T] {
	r.policy = r.withBackoff(b)
	return r
}

// Jitter sets the jitter applied to each backoff delay.
func (r Repeat[T]) Jitter(j Jitter) Repeat[T] {
	r.policy = r.withJitter(j)
	return r
}

// WithBackoffScheduler sets the timer source used to wait between runs.
func (r Repeat[T]) WithBackoffScheduler(ts TimerSource) Repeat[T] {
	r.timers = ts
	return r
}

// WithClock replaces time.Now for deadline checks.
func (r Repeat[T]) WithClock(now func() time.Time) Repeat[T] {
	r.now = now
	return r
}

// WithLogger sets the logger for repeat decisions.
func (r Repeat[T]) WithLogger(l *slog.Logger) Repeat[T] {
	r.logger = l
	return r
}

// NoBackoff repeats without delay.
func (r Repeat[T]) NoBackoff() Repeat[T] {
	return r.Backoff(ZeroBackoff[T]()).Jitter(NoJitter())
}

// FixedBackoff waits d between runs.
func (r Repeat[T]) FixedBackoff(d time.Duration) Repeat[T] {
	return r.Backoff(FixedBackoff[T](d)).Jitter(NoJitter())
}

// ExponentialBackoff doubles the delay from first up to max.
func (r Repeat[T]) ExponentialBackoff(first, max time.Duration) Repeat[T] {
	r.policy = r.withExponential(first, max, 2, false, NoJitter())
	return r
}

// ExponentialBackoffWithJitter is ExponentialBackoff with random jitter.
func (r Repeat[T]) ExponentialBackoffWithJitter(first, max time.Duration) Repeat[T] {
	r.policy = r.withExponential(first, max, 2, false, RandomJitter())
	return r
}

// RandomBackoff grows the delay from the previous one by a factor of 3 with
// random jitter.
func (r Repeat[T]) RandomBackoff(first, max time.Duration) Repeat[T] {
	r.policy = r.withExponential(first, max, 3, true, RandomJitter())
	return r
}

// MaxIterations returns the bound on companion values per run.
func (r Repeat[T]) MaxIterations() int64 { return r.maxIterations }

// ApplicationContext returns the value set by WithApplicationContext.
func (r Repeat[T]) ApplicationContext() T { return r.appCtx }

// Validate returns the first configuration error recorded by a mutator.
func (r Repeat[T]) Validate() error { return r.validate() }

// Start validates r and returns the state of a fresh run.
func (r Repeat[T]) Start() (State, error) { return r.start() }

// Step folds a companion value into s. A repeat never fails: when the
// predicate rejects the value or the budget is spent, the run stops cleanly.
func (r Repeat[T]) Step(s State, value int64) (State, Decision) {
	if s.done {
		return s, Decision{Action: ActionStop}
	}

	iteration := s.iteration + 1
	c := Context[T]{
		ApplicationContext: r.appCtx,
		Iteration:          iteration,
		PreviousDelay:      s.lastDelay,
		Trigger:            ValueTrigger(value),
	}
	next, reason := r.nextBackoff(c, s.deadline)
	if iteration >= r.maxIterations {
		next, reason = Exhausted, ReasonMaxIterations
	}
	c.Backoff = next

	s.iteration = iteration
	if !next.IsExhausted() {
		s.lastDelay = next.Delay
	}

	log := r.log()
	if !r.predicate(c) {
		s.done = true
		log.Debug("stopping repeats since predicate returned false",
			slog.Int64("iteration", iteration), slog.Int64("value", value))
		return s, Decision{Action: ActionStop}
	}
	if next.IsExhausted() {
		s.done = true
		log.Debug("repeats exhausted",
			slog.Int64("iteration", iteration), slog.String("reason", reason))
		return s, Decision{Action: ActionStop}
	}

	log.Debug("scheduling repeat",
		slog.Int64("iteration", iteration), slog.Duration("delay", next.Delay), slog.Int64("value", value))
	if r.onRepeat != nil {
		r.onRepeat(c)
	}
	return s, Decision{Action: ActionRetry, Delay: next.Delay}
}

// Watch consumes the companion values of an upstream operation, one per
// completed run, and emits a Signal when the operation should run again. The
// channel is closed once the repeat stops, when completions is closed, or
// when ctx is done.
func (r Repeat[T]) Watch(ctx context.Context, completions <-chan int64) <-chan Signal {
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
			case v, ok := <-completions:
				if !ok || ctx.Err() != nil {
					return
				}
				var d Decision
				s, d = r.Step(s, v)
				if !forward(ctx, timers, out, s, d) {
					return
				}
			}
		}
	}()
	return out
}

// Do runs fn, then again for as long as r allows. An error from fn ends the
// run and is returned as is.
func (r Repeat[T]) Do(ctx context.Context, fn func(ctx context.Context) (int64, error)) error {
	s, err := r.Start()
	if err != nil {
		return err
	}
	timers := r.timerSource()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		v, err := fn(ctx)
		if err != nil {
			return err
		}

		var d Decision
		s, d = r.Step(s, v)
		if d.Action != ActionRetry {
			return nil
		}
		if err := wait(ctx, timers, d.Delay); err != nil {
			return err
		}
	}
}
