package scheduler

import (
	"context"
	"errors"
	"sync"

	"resilience/pkg/retry"
)

// RepeatJobID представляет идентификатор повторяющейся задачи.
type RepeatJobID int

// RepeatJobFunc выполняет один прогон задачи и возвращает значение-компаньон
// для политики повторов.
type RepeatJobFunc func(ctx context.Context) (int64, error)

type repeatJob struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// AddRepeatJob запускает job сразу, а затем повторяет его, пока политика r
// это разрешает. Задержки между прогонами отсчитываются планировщиком, поэтому
// до Start задача выполнится один раз и будет ждать.
// Ошибка прогона завершает задачу.
func AddRepeatJob[T any](s *Scheduler, r retry.Repeat[T], job RepeatJobFunc, opts JobOptions) (RepeatJobID, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	r = r.WithBackoffScheduler(s)

	ctx, cancel := context.WithCancel(s.ctx)
	rj := &repeatJob{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	id := s.nextRepeatID
	s.nextRepeatID++
	s.repeatJobs[id] = rj
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(rj.done)
		defer cancel()

		err := r.Do(ctx, func(ctx context.Context) (int64, error) {
			var v int64
			err := s.runJob(ctx, opts, func(ctx context.Context) error {
				var err error
				v, err = job(ctx)
				return err
			})
			return v, err
		})
		if errors.Is(err, context.Canceled) {
			s.log.Debug("repeat job stopped due to context cancellation", "name", opts.Name, "id", id)
			err = nil
		}

		rj.mu.Lock()
		rj.err = err
		rj.mu.Unlock()
		s.log.Info("repeat job finished", "name", opts.Name, "id", id, "error", err)
	}()

	s.log.Info("repeat job added", "name", opts.Name, "id", id)
	return id, nil
}

// RemoveRepeatJob останавливает повторяющуюся задачу по ID.
func (s *Scheduler) RemoveRepeatJob(id RepeatJobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.repeatJobs[id]
	if !exists {
		return false
	}
	job.cancel()
	delete(s.repeatJobs, id)

	s.log.Info("repeat job removed", "id", id)
	return true
}

// WaitRepeatJob ждет завершения повторяющейся задачи и возвращает ошибку
// последнего прогона.
func (s *Scheduler) WaitRepeatJob(ctx context.Context, id RepeatJobID) error {
	s.mu.Lock()
	job, exists := s.repeatJobs[id]
	s.mu.Unlock()
	if !exists {
		return nil
	}

	select {
	case <-job.done:
		job.mu.Lock()
		defer job.mu.Unlock()
		return job.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
