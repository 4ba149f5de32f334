// Package scheduler runs the background work of the probe daemon on a single
// robfig/cron instance.
//
// Three kinds of work share it:
//   - cron jobs, for maintenance such as journal pruning;
//   - repeat jobs, driven by a retry.Repeat policy: the job runs, reports a
//     companion value and the policy decides when it runs again;
//   - one-shot timers: Scheduler implements retry.TimerSource, so the delays
//     of retry and repeat policies are scheduled as cron entries and removed
//     once fired or cancelled.
//
// Basic usage:
//
//	s := scheduler.New(ctx, scheduler.Config{Logger: logger, OnJobFinish: m.JobFinished})
//
//	_, err := s.AddCronJob("@hourly", prune, scheduler.JobOptions{
//		Name:    "journal-prune",
//		Overlap: scheduler.SkipIfRunning,
//	})
//
//	id, err := scheduler.AddRepeatJob(s, rounds, prober.Round, scheduler.JobOptions{Name: "probe"})
//
//	s.Start()
//	defer s.Stop()
//
// Overlap policies apply to cron jobs:
//   - AllowOverlap: Jobs can run concurrently (default)
//   - SkipIfRunning: Skip execution if previous run is still active
//   - DelayIfRunning: Wait for previous run to finish before starting
//
// The scheduler ensures that:
//   - Panics are recovered and reported to OnJobFinish as errors
//   - Errors of cron jobs are logged but don't stop the scheduler
//   - Context cancellation stops all jobs and pending timers
//   - Start/Stop operations are idempotent and thread-safe
//   - Graceful shutdown can be bounded with StopContext
package scheduler
