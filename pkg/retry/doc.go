// Package retry decides when a failed or completed operation should run again.
//
// Two engines share the same configuration model. Retry reacts to failures and
// either schedules another attempt or ends the run with an error. Repeat reacts
// to successful completions, each carrying a companion value, and either
// schedules another run or stops cleanly.
//
// Policies are immutable values. Every method returns a modified copy:
//
//	base := retry.AnyOf[struct{}](ErrUnavailable).ExponentialBackoff(100*time.Millisecond, 10*time.Second)
//	strict := base.RetryMax(2)
//	patient := base.RetryMax(10).Timeout(time.Minute)
//
// A policy can be driven three ways:
//
//	// blocking, the policy owns re-invocation
//	err := policy.Do(ctx, func(ctx context.Context) error { return ping(ctx) })
//
//	// channels, the host owns re-invocation
//	for sig := range policy.Watch(ctx, failures) {
//	    if sig.Err != nil {
//	        return sig.Err
//	    }
//	    go attempt()
//	}
//
//	// step by step, no goroutines or timers
//	s, err := policy.Start()
//	s, d := policy.Step(s, failure)
//
// When the budget set by RetryMax or Timeout runs out while the predicate still
// accepts the error, the run fails with an *ExhaustedError that wraps the last
// error and matches ErrExhausted. When the predicate rejects an error, that
// error is returned unchanged.
//
// Delays are computed by a Backoff, randomised by a Jitter, clamped to the
// bounds the Backoff returned, and waited for on a TimerSource.
package retry
