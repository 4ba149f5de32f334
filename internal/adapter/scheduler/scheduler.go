package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc представляет функцию задачи планировщика.
type JobFunc func(ctx context.Context) error

// OverlapPolicy определяет, что делать с cron-задачей, если предыдущий
// запуск еще не завершился.
type OverlapPolicy int

const (
	// AllowOverlap запускает задачу параллельно с предыдущей (по умолчанию).
	AllowOverlap OverlapPolicy = iota
	// SkipIfRunning пропускает запуск.
	SkipIfRunning
	// DelayIfRunning ждет завершения предыдущего запуска.
	DelayIfRunning
)

func (p OverlapPolicy) String() string {
	switch p {
	case SkipIfRunning:
		return "skip"
	case DelayIfRunning:
		return "delay"
	}
	return "allow"
}

func (p OverlapPolicy) chain(l cron.Logger) cron.Chain {
	switch p {
	case SkipIfRunning:
		return cron.NewChain(cron.SkipIfStillRunning(l))
	case DelayIfRunning:
		return cron.NewChain(cron.DelayIfStillRunning(l))
	}
	return cron.NewChain()
}

// JobOptions содержит опции задачи.
type JobOptions struct {
	// Name - имя задачи для логов и метрик.
	Name string
	// Timeout ограничивает один запуск задачи.
	Timeout time.Duration
	// Overlap применяется только к cron-задачам.
	Overlap OverlapPolicy
}

func (o JobOptions) name() string {
	if o.Name == "" {
		return "unnamed"
	}
	return o.Name
}

// cronLogger передает логи cron в slog. Info у cron шумный, поэтому уходит
// в Debug.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}

// Config содержит конфигурацию планировщика.
type Config struct {
	Logger *slog.Logger
	// OnJobFinish вызывается после каждого запуска задачи, включая
	// завершившиеся паникой.
	OnJobFinish func(name string, duration time.Duration, err error)
}

// Scheduler управляет cron-задачами, повторяющимися задачами и одноразовыми
// таймерами для политик повторов.
type Scheduler struct {
	cron     *cron.Cron
	cronLog  cronLogger
	log      *slog.Logger
	onFinish func(string, time.Duration, error)
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu           sync.Mutex
	repeatJobs   map[RepeatJobID]*repeatJob
	nextRepeatID RepeatJobID

	startOnce sync.Once
	stopOnce  sync.Once
}

// New создает планировщик. Отмена ctx останавливает его так же, как Stop.
func New(ctx context.Context, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	cl := cronLogger{log: log.With("component", "cron")}

	return &Scheduler{
		cron:         cron.New(cron.WithSeconds(), cron.WithLogger(cl)),
		cronLog:      cl,
		log:          log,
		onFinish:     cfg.OnJobFinish,
		ctx:          ctx,
		cancel:       cancel,
		repeatJobs:   make(map[RepeatJobID]*repeatJob),
		nextRepeatID: 1,
	}
}

// AddCronJob добавляет задачу по cron-расписанию с секундами, например
// "0 */5 * * * *" или "@every 10m".
func (s *Scheduler) AddCronJob(spec string, job JobFunc, opts JobOptions) (cron.EntryID, error) {
	id, err := s.cron.AddJob(spec, opts.Overlap.chain(s.cronLog).Then(cron.FuncJob(func() {
		_ = s.runJob(s.ctx, opts, job)
	})))
	if err != nil {
		return 0, fmt.Errorf("cron job %s: %w", opts.name(), err)
	}

	s.log.Info("cron job added", "name", opts.name(), "spec", spec, "overlap", opts.Overlap, "id", id)
	return id, nil
}

// Start запускает планировщик. Повторные вызовы и вызов после Stop ничего
// не делают.
func (s *Scheduler) Start() {
	if !s.IsRunning() {
		return
	}
	s.startOnce.Do(func() {
		s.log.Info("starting scheduler")
		s.cron.Start()

		go func() {
			<-s.ctx.Done()
			s.stopOnce.Do(s.stop)
		}()
	})
}

// Stop останавливает планировщик и ждет завершения всех задач.
func (s *Scheduler) Stop() {
	_ = s.StopContext(context.Background())
}

// StopContext останавливает планировщик. Если ctx истекает раньше, чем
// завершаются задачи, остановка все равно доводится до конца, а вызов
// возвращает ошибку ctx.
func (s *Scheduler) StopContext(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.stopOnce.Do(s.stop)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop deadline exceeded, waiting for jobs")
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) stop() {
	<-s.cron.Stop().Done()

	s.mu.Lock()
	for _, job := range s.repeatJobs {
		job.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// runJob выполняет один запуск задачи с таймаутом и восстановлением после
// паники. Паника становится ошибкой запуска.
func (s *Scheduler) runJob(ctx context.Context, opts JobOptions, job JobFunc) (err error) {
	name := opts.name()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s: panic: %v", name, r)
		}
		dur := time.Since(start)
		if s.onFinish != nil {
			s.onFinish(name, dur, err)
		}
		switch {
		case err == nil:
			s.log.Debug("job finished", "name", name, "duration", dur)
		case errors.Is(err, context.Canceled):
			s.log.Debug("job canceled", "name", name, "duration", dur)
		default:
			s.log.Error("job failed", "name", name, "duration", dur, "error", err)
		}
	}()

	return job(ctx)
}

// IsRunning сообщает, что планировщик еще не остановлен.
func (s *Scheduler) IsRunning() bool {
	return s.ctx.Err() == nil
}
