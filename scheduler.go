package reactors

// Scheduler decides when a Frame's batch runs and absorbs otherwise
// uncaught errors from frames it schedules. Schedule must eventually cause
// some worker to call Frame.executeBatch(); per the frame protocol it is
// only ever invoked while the frame's own executing flag transitioned
// false->true, so Scheduler implementations never need to de-duplicate a
// frame that is already queued.
type Scheduler interface {
	// Schedule arranges for f.executeBatch to be called at least once in
	// the future, on some worker.
	Schedule(f *Frame)
	// HandleError is the top-level handler for errors that propagate out
	// of a frame's batch (ConstructorError, HandlerError) without being
	// otherwise observed.
	HandleError(err error)
}

// SchedulerState is a per-frame, per-batch budget object, the only
// mechanism for fairness across frames sharing a scheduler. A frame's
// SchedulerState is created once (from Proto.NewSchedulerState, or the
// default) and reused across all of that frame's batches.
type SchedulerState interface {
	// OnBatchStart resets any per-batch counters.
	OnBatchStart(f *Frame)
	// OnBatchEvent is called once per dispatched event; it returns whether
	// the batch may continue consuming events.
	OnBatchEvent(f *Frame) (canConsume bool)
	// OnBatchStop is a hook for end-of-batch accounting (wallclock, etc).
	OnBatchStop(f *Frame)
}

// DefaultBatchBudget is the event budget applied when a Proto does not
// configure one.
const DefaultBatchBudget = 50

// Budget is the default SchedulerState: a fixed number of events per
// batch.
type Budget struct {
	limit     int
	remaining int
}

// NewBudget returns a SchedulerState factory allowing at most n events per
// batch. n <= 0 means DefaultBatchBudget.
func NewBudget(n int) func() SchedulerState {
	if n <= 0 {
		n = DefaultBatchBudget
	}
	return func() SchedulerState {
		return &Budget{limit: n}
	}
}

func (b *Budget) OnBatchStart(*Frame) { b.remaining = b.limit }

func (b *Budget) OnBatchEvent(*Frame) bool {
	b.remaining--
	return b.remaining > 0
}

func (b *Budget) OnBatchStop(*Frame) {}
