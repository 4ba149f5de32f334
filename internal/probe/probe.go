// Package probe checks targets in rounds. Every check runs under the retry
// policy built from configuration; its decisions are journaled, counted and,
// once retries are exhausted, alerted.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"resilience/internal/config"
	"resilience/internal/journal"
	"resilience/internal/platform/httpclient"
	"resilience/internal/platform/metrics"
	"resilience/internal/platform/pg"
	"resilience/internal/policy"
	"resilience/internal/shared"
	"resilience/pkg/retry"
)

// Alert describes a target whose retries ran out.
type Alert struct {
	RunID    string
	Target   string
	Attempts int64
	Elapsed  time.Duration
	Reason   string
	Err      error
	At       time.Time
}

func (a Alert) String() string {
	return fmt.Sprintf("%s is down: %s after %d attempts in %s: %v",
		a.Target, a.Reason, a.Attempts, a.Elapsed.Round(time.Millisecond), a.Err)
}

// Alerter delivers alerts.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// Recorder persists journal entries.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Result is the outcome of one check within a round.
type Result struct {
	Target   string
	Outcome  string
	Attempts int64
	Elapsed  time.Duration
	Err      error
}

type target struct {
	cfg     config.Target
	checker Checker
}

// Options are the collaborators of a Prober. All of them are optional.
type Options struct {
	Client   *httpclient.Client
	Recorder Recorder
	Alerter  Alerter
	Metrics  *metrics.Metrics
	Timers   retry.TimerSource
	Logger   *slog.Logger
	// Checkers overrides the checker of a target by name.
	Checkers map[string]Checker
}

// Prober runs rounds of checks against the configured targets.
type Prober struct {
	cfg     config.Config
	targets []target
	rec     Recorder
	alerter Alerter
	metrics *metrics.Metrics
	timers  retry.TimerSource
	log     *slog.Logger
	now     func() time.Time
	runID   func() string
	rounds  atomic.Int64
}

// New builds a Prober. It fails on an invalid retry configuration or target.
func New(cfg config.Config, o Options) (*Prober, error) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Client == nil {
		o.Client = httpclient.New(httpclient.WithLogger(o.Logger), httpclient.WithTimeout(cfg.Probe.AttemptTimeout))
	}
	if _, err := policy.Retry(cfg, policy.Check{}, policy.Options{}); err != nil {
		return nil, err
	}

	p := &Prober{
		cfg:     cfg,
		rec:     o.Recorder,
		alerter: o.Alerter,
		metrics: o.Metrics,
		timers:  o.Timers,
		log:     o.Logger,
		now:     time.Now,
		runID:   uuid.NewString,
	}
	for _, t := range cfg.Probe.Targets {
		c, ok := o.Checkers[t.Name]
		if !ok {
			var err error
			if c, err = NewChecker(t, o.Client, cfg.Probe.AttemptTimeout); err != nil {
				return nil, err
			}
		}
		p.targets = append(p.targets, target{cfg: t, checker: c})
	}
	return p, nil
}

// Close releases connections held by the checkers.
func (p *Prober) Close() {
	for _, t := range p.targets {
		if c, ok := t.checker.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// WaitReady blocks until every Postgres target answers a ping or the startup
// policy gives up. HTTP targets are not waited for.
func (p *Prober) WaitReady(ctx context.Context, timeout time.Duration) error {
	for _, t := range p.targets {
		if _, ok := t.checker.(*PostgresChecker); !ok {
			continue
		}
		p.log.Info("waiting for database", "target", t.cfg.Name)
		r := policy.Startup(timeout, p.log.With("target", t.cfg.Name))
		if p.timers != nil {
			r = r.WithBackoffScheduler(p.timers)
		}
		if err := pg.WaitForDB(ctx, t.cfg.URL, p.cfg.Probe.AttemptTimeout, r); err != nil {
			return fmt.Errorf("target %s: %w", t.cfg.Name, err)
		}
	}
	return nil
}

// Round checks all targets concurrently and returns the round number, which
// serves as the companion value of the rounds policy. The error is non-nil
// only when ctx ended.
func (p *Prober) Round(ctx context.Context) (int64, error) {
	n := p.rounds.Add(1)
	if _, err := p.Run(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// Run checks all targets once under a fresh run ID.
func (p *Prober) Run(ctx context.Context) ([]Result, error) {
	runID := p.runID()
	log := p.log.With("run_id", runID)
	log.Debug("probe round started", "targets", len(p.targets))

	results := make([]Result, len(p.targets))
	var wg sync.WaitGroup
	for i, t := range p.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.check(ctx, runID, t)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	if p.metrics != nil {
		p.metrics.Rounds.Inc()
	}
	log.Info("probe round finished", "targets", len(p.targets))
	return results, nil
}

func (p *Prober) check(ctx context.Context, runID string, t target) Result {
	name := t.cfg.Name
	log := p.log.With("run_id", runID, "target", name)
	// journal writes outlive a canceled round
	bg := context.WithoutCancel(ctx)

	r, err := policy.Retry(p.cfg, policy.Check{RunID: runID, Target: name}, policy.Options{
		Timers: p.timers,
		Logger: p.log,
		OnRetry: func(c retry.Context[policy.Check]) {
			if p.metrics != nil {
				p.metrics.Retries.WithLabelValues(name).Inc()
			}
			p.record(bg, log, journal.Entry{
				RunID:   runID,
				Target:  name,
				Kind:    journal.KindRetry,
				Attempt: c.Iteration,
				Delay:   c.Backoff.Delay,
				Error:   errString(c.Err()),
			})
		},
	})
	if err != nil {
		return Result{Target: name, Outcome: journal.OutcomeFailed, Err: err}
	}

	var attempts int64
	started := p.now()
	err = r.Do(ctx, func(ctx context.Context) error {
		attempts++
		if p.metrics != nil {
			p.metrics.Attempts.WithLabelValues(name).Inc()
		}
		ctx, cancel := context.WithTimeout(ctx, p.cfg.Probe.AttemptTimeout)
		defer cancel()
		return t.checker.Check(ctx)
	})
	res := Result{Target: name, Attempts: attempts, Elapsed: p.now().Sub(started), Err: err}

	var exhausted *retry.ExhaustedError
	switch {
	case err == nil:
		res.Outcome = journal.OutcomeOK
	case ctx.Err() != nil && shared.IsCanceled(err):
		res.Outcome = journal.OutcomeCanceled
	case errors.As(err, &exhausted):
		res.Outcome = journal.OutcomeExhausted
	default:
		res.Outcome = journal.OutcomeFailed
	}

	p.record(bg, log, journal.Entry{
		RunID:   runID,
		Target:  name,
		Kind:    journal.KindOutcome,
		Attempt: attempts,
		Outcome: res.Outcome,
		Error:   errString(err),
	})
	if p.metrics != nil && res.Outcome != journal.OutcomeCanceled {
		p.metrics.ObserveCheck(name, res.Outcome, res.Elapsed)
	}

	switch res.Outcome {
	case journal.OutcomeOK:
		log.Debug("target up", "attempts", attempts)
	case journal.OutcomeCanceled:
		log.Debug("check canceled", "attempts", attempts)
	case journal.OutcomeExhausted:
		log.Warn("retries exhausted", "attempts", exhausted.Attempts, "reason", exhausted.Reason, "err", exhausted.LastError)
		p.alert(bg, log, Alert{
			RunID:    runID,
			Target:   name,
			Attempts: exhausted.Attempts,
			Elapsed:  exhausted.Elapsed,
			Reason:   exhausted.Reason,
			Err:      exhausted.LastError,
			At:       p.now(),
		})
	default:
		log.Warn("check failed", "attempts", attempts, "kind", shared.KindOf(err).String(), "err", err)
	}
	return res
}

func (p *Prober) record(ctx context.Context, log *slog.Logger, e journal.Entry) {
	if p.rec == nil {
		return
	}
	if err := p.rec.Record(ctx, e); err != nil {
		log.Error("journal write failed", "kind", e.Kind, "err", err)
	}
}

func (p *Prober) alert(ctx context.Context, log *slog.Logger, a Alert) {
	if p.alerter == nil {
		return
	}
	if err := p.alerter.Alert(ctx, a); err != nil {
		log.Error("alert failed", "err", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
