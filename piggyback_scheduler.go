package reactors

import "sync"

// PiggybackScheduler runs a frame's batch synchronously, on whichever
// goroutine called Schedule. This is the deliberately dangerous scheduler
// the runtime ships for test harnesses that want deterministic,
// single-threaded execution of a small reactor graph: since Schedule
// calls executeBatch directly, a reactor that sends to another reactor
// scheduled on the same PiggybackScheduler from inside a handler will
// trip NestedReactorError, exactly like any other nested batch.
// Production code almost always wants PoolScheduler or
// NewThreadScheduler instead.
type PiggybackScheduler struct {
	mu      sync.Mutex
	onError func(error)
	errs    []error
}

// NewPiggybackScheduler constructs a PiggybackScheduler. A nil onError
// defaults to appending to Errors().
func NewPiggybackScheduler(onError func(error)) *PiggybackScheduler {
	s := &PiggybackScheduler{}
	if onError == nil {
		onError = s.record
	}
	s.onError = onError
	return s
}

// Schedule implements Scheduler by running the batch inline.
func (s *PiggybackScheduler) Schedule(f *Frame) { f.executeBatch() }

// HandleError implements Scheduler.
func (s *PiggybackScheduler) HandleError(err error) { s.onError(err) }

func (s *PiggybackScheduler) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// Errors returns every error recorded by the default onError handler, in
// the order received. Only meaningful when constructed with a nil
// onError.
func (s *PiggybackScheduler) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.errs))
	copy(out, s.errs)
	return out
}
