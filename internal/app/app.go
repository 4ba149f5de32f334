package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"resilience/internal/adapter/httpapi"
	"resilience/internal/adapter/scheduler"
	"resilience/internal/adapter/telegram"
	"resilience/internal/config"
	"resilience/internal/journal"
	"resilience/internal/platform/httpclient"
	"resilience/internal/platform/logger"
	"resilience/internal/platform/metrics"
	"resilience/internal/policy"
	"resilience/internal/probe"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
	pruneTimeout    = time.Minute
)

// App wires application components.
type App struct {
	cfg         config.Config
	log         *slog.Logger
	waitTimeout time.Duration
}

// Option configures App.
type Option func(*App)

// WithWaitTimeout makes Run wait for database targets before the first round.
func WithWaitTimeout(d time.Duration) Option {
	return func(a *App) { a.waitTimeout = d }
}

// New creates a new App instance and loads configuration.
func New(opts ...Option) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "probed",
	})
	a := &App{cfg: cfg, log: log}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Run starts the prober and the HTTP API and blocks until a signal arrives
// or the configured number of rounds is done.
func (a *App) Run() error {
	defer func() { _ = logger.Close(a.log) }()
	a.log.Info("starting", "targets", len(a.cfg.Probe.Targets), "interval", a.cfg.Probe.Interval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := metrics.New()
	if err != nil {
		return err
	}
	sched := scheduler.New(ctx, scheduler.Config{
		Logger:      a.log,
		OnJobFinish: m.JobFinished,
	})
	sched.Start()
	defer sched.Stop()

	store, err := journal.Open(ctx, a.cfg.Journal.Path, policy.Startup(startupTimeout, a.log).WithBackoffScheduler(sched), a.log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	alerter, err := a.alerter()
	if err != nil {
		return err
	}

	prober, err := probe.New(a.cfg, probe.Options{
		Client: httpclient.New(
			httpclient.WithLogger(a.log),
			httpclient.WithTimeout(a.cfg.Probe.AttemptTimeout),
			httpclient.WithHeaders(map[string]string{"User-Agent": "probed"}),
		),
		Recorder: store,
		Alerter:  alerter,
		Metrics:  m,
		Timers:   sched,
		Logger:   a.log,
	})
	if err != nil {
		return err
	}
	defer prober.Close()

	if a.waitTimeout > 0 {
		if err := prober.WaitReady(ctx, a.waitTimeout); err != nil {
			return err
		}
	}

	rounds, err := policy.Rounds(a.cfg, policy.Options{Logger: a.log})
	if err != nil {
		return err
	}
	roundsID, err := scheduler.AddRepeatJob(sched, rounds, prober.Round, scheduler.JobOptions{Name: "probe-round"})
	if err != nil {
		return err
	}
	_, err = sched.AddCronJob(a.cfg.Journal.PruneSpec, func(ctx context.Context) error {
		_, err := store.Prune(ctx, a.cfg.Journal.Retention)
		return err
	}, scheduler.JobOptions{Name: "journal-prune", Timeout: pruneTimeout, Overlap: scheduler.SkipIfRunning})
	if err != nil {
		return err
	}

	mode := gin.ReleaseMode
	if a.cfg.Env == "dev" {
		mode = gin.DebugMode
	}
	srv := &http.Server{
		Addr: a.cfg.HTTP.Addr,
		Handler: httpapi.NewRouter(httpapi.Options{
			Journal: store,
			Metrics: m.Handler(),
			Logger:  a.log,
			Mode:    mode,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()
	a.log.Info("http api listening", "addr", a.cfg.HTTP.Addr)

	roundsDone := make(chan error, 1)
	go func() { roundsDone <- sched.WaitRepeatJob(ctx, roundsID) }()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case runErr = <-srvErr:
		a.log.Error("server", slog.Any("err", runErr))
	case runErr = <-roundsDone:
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		}
		a.log.Info("probe rounds finished", slog.Any("err", runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("server shutdown", slog.Any("err", err))
	}
	if err := sched.StopContext(shutdownCtx); err != nil {
		a.log.Warn("scheduler shutdown", slog.Any("err", err))
	}
	a.log.Info("stopped")
	return runErr
}

// alerter returns the Telegram notifier, or nil when no token is configured.
func (a *App) alerter() (probe.Alerter, error) {
	tg := a.cfg.Telegram
	if tg.Token == "" {
		a.log.Info("telegram alerts disabled")
		return nil, nil
	}
	client := httpclient.New(
		httpclient.WithLogger(a.log),
		httpclient.WithTimeout(10*time.Second),
		httpclient.WithURLRedactor(func(u *url.URL) string {
			return strings.ReplaceAll(u.Redacted(), tg.Token, "***")
		}),
	)
	n, err := telegram.NewNotifier(tg.Token, tg.ChatID, telegram.Options{
		ServerURL:   tg.ServerURL,
		HTTPClient:  client.Doer(),
		MinInterval: tg.AlertInterval,
		Logger:      a.log,
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}
