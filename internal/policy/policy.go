// Package policy builds the retry and repeat policies of the prober from
// configuration.
package policy

import (
	"fmt"
	"log/slog"
	"time"

	"resilience/internal/config"
	"resilience/internal/shared"
	"resilience/pkg/retry"
)

// Check identifies the probe attempt handed to predicates and hooks.
type Check struct {
	RunID  string
	Target string
}

// Options tune the built policies beyond configuration.
type Options struct {
	Timers  retry.TimerSource
	Logger  *slog.Logger
	OnRetry func(retry.Context[Check])
}

// Retry returns the policy applied to a single failing check: only transient
// errors are retried, with exponential backoff and the configured jitter.
func Retry(cfg config.Config, check Check, o Options) (retry.Retry[Check], error) {
	r := retry.OnlyIf(func(c retry.Context[Check]) bool {
		return shared.IsTransient(c.Err())
	}).
		RetryMax(cfg.Retry.Max).
		WithApplicationContext(check)

	switch cfg.Retry.Jitter {
	case "none":
		r = r.ExponentialBackoff(cfg.Retry.FirstBackoff, cfg.Retry.MaxBackoff)
	case "random":
		r = r.ExponentialBackoffWithJitter(cfg.Retry.FirstBackoff, cfg.Retry.MaxBackoff)
	case "factor":
		r = r.ExponentialBackoff(cfg.Retry.FirstBackoff, cfg.Retry.MaxBackoff).Jitter(retry.RandomFactorJitter(0.2))
	default:
		return r, fmt.Errorf("%w: unknown jitter %q", shared.ErrValidation, cfg.Retry.Jitter)
	}

	if cfg.Retry.Timeout > 0 {
		r = r.Timeout(cfg.Retry.Timeout)
	}
	if o.Timers != nil {
		r = r.WithBackoffScheduler(o.Timers)
	}
	if o.Logger != nil {
		r = r.WithLogger(o.Logger.With(slog.String("run_id", check.RunID), slog.String("target", check.Target)))
	}
	if o.OnRetry != nil {
		r = r.DoOnRetry(o.OnRetry)
	}

	if err := r.Validate(); err != nil {
		return r, shared.MarkKind(err, shared.KindValidation)
	}
	return r, nil
}

// Rounds returns the policy that schedules probe rounds at a fixed interval.
// Zero rounds repeat until the context ends.
func Rounds(cfg config.Config, o Options) (retry.Repeat[Check], error) {
	r := retry.RepeatOnlyIf(func(retry.Context[Check]) bool { return true }).
		FixedBackoff(cfg.Probe.Interval)
	if cfg.Probe.Rounds > 0 {
		r = r.RepeatMax(cfg.Probe.Rounds)
	}
	if o.Timers != nil {
		r = r.WithBackoffScheduler(o.Timers)
	}
	if o.Logger != nil {
		r = r.WithLogger(o.Logger)
	}

	if err := r.Validate(); err != nil {
		return r, shared.MarkKind(err, shared.KindValidation)
	}
	return r, nil
}

// Startup returns the policy used while waiting for dependencies at boot:
// every error except cancellation is retried for up to timeout.
func Startup(timeout time.Duration, log *slog.Logger) retry.Retry[struct{}] {
	r := retry.OnlyIf(func(c retry.Context[struct{}]) bool {
		return !shared.IsCanceled(c.Err())
	}).
		ExponentialBackoffWithJitter(100*time.Millisecond, 5*time.Second).
		Timeout(timeout)
	if log != nil {
		r = r.WithLogger(log)
	}
	return r
}
