package reactors

import (
	"sync"
	"time"
)

// TimerScheduler wraps a delegate Scheduler and additionally re-schedules
// a fixed set of frames on a period, independent of whether they have
// any pending events, to drive reactors that
// need to wake up periodically (heartbeats, polling, flush-on-interval).
// Registering a frame with a TimerScheduler does not change which
// Scheduler actually runs its batches; Period wraps whatever scheduler
// the frame was spawned with.
type TimerScheduler struct {
	delegate Scheduler

	mu      sync.Mutex
	timers  map[uint64]*time.Ticker
	stopped map[uint64]chan struct{}
}

// NewTimerScheduler wraps delegate; Schedule and HandleError both pass
// through to it unchanged. Use Period to register periodic wakeups.
func NewTimerScheduler(delegate Scheduler) *TimerScheduler {
	return &TimerScheduler{
		delegate: delegate,
		timers:   make(map[uint64]*time.Ticker),
		stopped:  make(map[uint64]chan struct{}),
	}
}

// Schedule implements Scheduler by delegating.
func (t *TimerScheduler) Schedule(f *Frame) { t.delegate.Schedule(f) }

// HandleError implements Scheduler by delegating.
func (t *TimerScheduler) HandleError(err error) { t.delegate.HandleError(err) }

// Period calls f.ScheduleForExecution every period, until f terminates or
// StopPeriod(f.UID()) is called. Calling Period again for the same uid
// replaces the previous ticker.
func (t *TimerScheduler) Period(f *Frame, period time.Duration) {
	t.StopPeriod(f.UID())

	ticker := time.NewTicker(period)
	stop := make(chan struct{})

	t.mu.Lock()
	t.timers[f.UID()] = ticker
	t.stopped[f.UID()] = stop
	t.mu.Unlock()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if f.HasTerminated() {
					t.StopPeriod(f.UID())
					return
				}
				f.ScheduleForExecution()
			}
		}
	}()
}

// StopPeriod cancels a previously registered Period for uid, if any.
func (t *TimerScheduler) StopPeriod(uid uint64) {
	t.mu.Lock()
	stop, ok := t.stopped[uid]
	if ok {
		delete(t.stopped, uid)
		delete(t.timers, uid)
	}
	t.mu.Unlock()
	if ok {
		close(stop)
	}
}
