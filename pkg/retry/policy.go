package retry

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// policy holds the settings shared by Retry and Repeat. It is copied by value on
// every mutation, so a policy is never changed once handed out.
type policy[T any] struct {
	maxIterations int64
	timeout       time.Duration
	hasTimeout    bool
	backoff       Backoff[T]
	jitter        Jitter
	timers        TimerSource
	now           func() time.Time
	logger        *slog.Logger
	appCtx        T
	err           error
}

func newPolicy[T any](maxIterations int64) policy[T] {
	return policy[T]{
		maxIterations: maxIterations,
		backoff:       ZeroBackoff[T](),
		jitter:        NoJitter(),
	}
}

// fail records the first configuration error.
func (p policy[T]) fail(err error) policy[T] {
	if p.err == nil {
		p.err = err
	}
	return p
}

func (p policy[T]) withMaxIterations(n int64) policy[T] {
	if n < 0 {
		return p.fail(fmt.Errorf("%w: max iterations must not be negative, got %d", ErrInvalidConfig, n))
	}
	p.maxIterations = n
	return p
}

func (p policy[T]) withTimeout(d time.Duration) policy[T] {
	if d < 0 {
		return p.fail(fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidConfig, d))
	}
	p.timeout = d
	p.hasTimeout = true
	return p
}

func (p policy[T]) withBackoff(b Backoff[T]) policy[T] {
	if b == nil {
		return p.fail(fmt.Errorf("%w: backoff must not be nil", ErrInvalidConfig))
	}
	p.backoff = b
	return p
}

func (p policy[T]) withJitter(j Jitter) policy[T] {
	if j == nil {
		return p.fail(fmt.Errorf("%w: jitter must not be nil", ErrInvalidConfig))
	}
	p.jitter = j
	return p
}

func (p policy[T]) withExponential(first, max time.Duration, factor float64, basedOnPrevious bool, j Jitter) policy[T] {
	b, err := ExponentialBackoff[T](first, max, factor, basedOnPrevious)
	if err != nil {
		return p.fail(err)
	}
	return p.withBackoff(b).withJitter(j)
}

func (p policy[T]) validate() error {
	return p.err
}

func (p policy[T]) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p policy[T]) timerSource() TimerSource {
	if p.timers != nil {
		return p.timers
	}
	return SystemTimers()
}

func (p policy[T]) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// start computes the per-run state: the absolute deadline, or the zero time
// when no timeout is configured.
func (p policy[T]) start() (State, error) {
	if err := p.validate(); err != nil {
		return State{}, err
	}
	now := p.clock()
	s := State{started: now}
	if p.hasTimeout {
		s.deadline = now.Add(p.timeout)
	}
	return s, nil
}

// calculateBackoff applies backoff, jitter and clamping to c and returns
// Exhausted when the iteration or time budget does not allow another attempt.
func (p policy[T]) calculateBackoff(c Context[T], deadline time.Time) BackoffDelay {
	b, _ := p.nextBackoff(c, deadline)
	return b
}

// nextBackoff is calculateBackoff that also names the exhausted budget.
func (p policy[T]) nextBackoff(c Context[T], deadline time.Time) (BackoffDelay, string) {
	if c.Iteration > p.maxIterations {
		return Exhausted, ReasonMaxIterations
	}

	raw := p.backoff(c)
	if raw.IsExhausted() {
		return Exhausted, ReasonBackoff
	}

	delay := raw.clamp(p.jitter(raw))
	if !deadline.IsZero() && p.clock().Add(delay).After(deadline) {
		return Exhausted, ReasonTimeout
	}
	return BackoffDelay{Min: raw.Min, Max: raw.Max, Delay: delay}, ""
}

// State is the per-run accumulator. It is a plain value: Step returns a new
// State and never changes the one it was given, so runs cannot interfere.
type State struct {
	iteration int64
	lastDelay time.Duration
	started   time.Time
	deadline  time.Time
	done      bool
}

// Iteration returns the number of triggers folded into s.
func (s State) Iteration() int64 { return s.iteration }

// LastDelay returns the delay of the last scheduled attempt.
func (s State) LastDelay() time.Duration { return s.lastDelay }

// Deadline returns the absolute deadline of the run and whether one is set.
func (s State) Deadline() (time.Time, bool) { return s.deadline, !s.deadline.IsZero() }

// Done reports whether a terminal decision has been made.
func (s State) Done() bool { return s.done }

// Action is the outcome of a single trigger.
type Action int

const (
	// ActionRetry asks the host to wait Delay and invoke the operation again.
	ActionRetry Action = iota
	// ActionFail ends the run with Err.
	ActionFail
	// ActionStop ends the run without an error.
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionFail:
		return "fail"
	case ActionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Decision is what the engine tells the host after a trigger.
type Decision struct {
	Action Action
	Delay  time.Duration
	Err    error
}

// Signal is emitted by Watch. A Signal with a nil Err asks the host to invoke
// the operation again; a non-nil Err ends the run.
type Signal struct {
	Iteration int64
	Delay     time.Duration
	Err       error
}

// maxIterationsUnbounded is the iteration bound used when none is given.
const maxIterationsUnbounded = math.MaxInt64

// IsExhausted reports whether err came from a run that ran out of budget.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrExhausted)
}
