package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"resilience/pkg/retry"
)

const (
	timerPending int32 = iota
	timerFired
	timerCancelled
)

// onceSchedule срабатывает один раз в момент at. cron запрашивает Next при
// добавлении записи и после каждого запуска, поэтому все вызовы, кроме
// первого, возвращают нулевое время.
type onceSchedule struct {
	at    time.Time
	calls atomic.Int32
}

func (o *onceSchedule) Next(time.Time) time.Time {
	if o.calls.Add(1) > 1 {
		return time.Time{}
	}
	return o.at
}

// Schedule запускает fn один раз через d на cron-планировщике.
// Scheduler реализует retry.TimerSource: задержки политик повторов
// отсчитываются тем же планировщиком, что и cron-задачи.
// До Start и после Stop задачи не срабатывают.
func (s *Scheduler) Schedule(d time.Duration, fn func()) retry.CancelFunc {
	var state atomic.Int32
	ready := make(chan cron.EntryID, 1)

	id := s.cron.Schedule(&onceSchedule{at: time.Now().Add(d)}, cron.FuncJob(func() {
		if !state.CompareAndSwap(timerPending, timerFired) {
			return
		}
		s.cron.Remove(<-ready)
		fn()
	}))
	ready <- id

	return func() bool {
		if !state.CompareAndSwap(timerPending, timerCancelled) {
			return false
		}
		s.cron.Remove(id)
		return true
	}
}

var _ retry.TimerSource = (*Scheduler)(nil)
