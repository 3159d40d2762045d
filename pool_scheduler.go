package reactors

import (
	"context"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/paddymahoney/reactors/rlog"
	"golang.org/x/sync/semaphore"
)

// PoolScheduler is a Scheduler that bounds how many batches run at once:
// each Schedule call starts a goroutine, which waits on a weighted
// semaphore for one of a fixed number of slots before running the frame's
// batch. It is the default choice for most Systems: unlike
// NewThreadScheduler it bounds the number of batches executing
// concurrently (not the number of goroutines waiting for a slot), at the
// cost of a frame occasionally waiting for a free slot before its batch
// runs.
type PoolScheduler struct {
	sem *semaphore.Weighted

	// errorThrottle rate-limits HandleError reports per error category, so
	// a reactor stuck in a crash loop cannot flood the configured onError
	// callback with thousands of identical reports a second.
	errorThrottle *catrate.Limiter

	// logger receives throttled-out error reports at debug level, so
	// throttling hides them from onError without losing them entirely.
	logger *logiface.Logger[*rlog.Event]

	onError func(error)

	wg sync.WaitGroup
}

// PoolSchedulerOption configures a PoolScheduler.
type PoolSchedulerOption interface{ applyPool(*PoolScheduler) }

type poolSchedulerOptionFunc func(*PoolScheduler)

func (f poolSchedulerOptionFunc) applyPool(p *PoolScheduler) { f(p) }

// WithErrorHandler sets the callback invoked by HandleError. The default
// handler discards the error.
func WithErrorHandler(f func(error)) PoolSchedulerOption {
	return poolSchedulerOptionFunc(func(p *PoolScheduler) { p.onError = f })
}

// WithPoolLogger sets the structured logger used for scheduler
// diagnostics, notably error reports suppressed by the per-category
// throttle. The default logger drops everything (rlog.Discard).
func WithPoolLogger(l *logiface.Logger[*rlog.Event]) PoolSchedulerOption {
	return poolSchedulerOptionFunc(func(p *PoolScheduler) { p.logger = l })
}

// NewPoolScheduler constructs a PoolScheduler with at most concurrency
// batches executing at any one time. concurrency <= 0 means
// runtime.GOMAXPROCS-sized behavior is left to the caller; this runtime
// instead defaults a non-positive value to 1 worker, since reactors are
// meant to run correctly (if slowly) even fully serialized.
func NewPoolScheduler(concurrency int64, opts ...PoolSchedulerOption) *PoolScheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	p := &PoolScheduler{
		sem: semaphore.NewWeighted(concurrency),
		errorThrottle: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 5,
		}),
		logger:  rlog.Discard(),
		onError: func(error) {},
	}
	for _, o := range opts {
		o.applyPool(p)
	}
	return p
}

// Schedule implements Scheduler.
func (p *PoolScheduler) Schedule(f *Frame) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			p.onError(err)
			return
		}
		defer p.sem.Release(1)
		f.executeBatch()
	}()
}

// HandleError implements Scheduler. Reports are throttled per error
// category; a throttled report skips onError but is still logged at
// debug level.
func (p *PoolScheduler) HandleError(err error) {
	category := errorCategory(err)
	if _, allowed := p.errorThrottle.Allow(category); !allowed {
		p.logger.Debug().Err(err).Str("category", category).
			Log("error report throttled")
		return
	}
	p.onError(err)
}

// Wait blocks until every batch this scheduler has dispatched has
// returned. Intended for tests and for an orderly System.Shutdown.
func (p *PoolScheduler) Wait() { p.wg.Wait() }

func errorCategory(err error) string {
	switch err.(type) {
	case *ConstructorError:
		return "constructor"
	case *HandlerError:
		return "handler"
	default:
		return "other"
	}
}
