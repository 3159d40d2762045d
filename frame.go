package reactors

import (
	"sync"

	"github.com/paddymahoney/reactors/internal/gid"
)

// currentFrame is the process-wide goroutine-local cell enforcing the
// no-reactor-inside-a-reactor rule: set only around Frame.executeBatch.
var currentFrame = gid.NewCell[*Frame]()

// CurrentFrame returns the Frame bound to the calling goroutine, if any.
// It is nil unless called from inside a handler, the system-event
// subscriber, or the Factory of the frame currently executing a batch on
// this goroutine.
func CurrentFrame() (*Frame, bool) {
	return currentFrame.Get()
}

// CurrentReactor returns the reactor value of the frame bound to the
// calling goroutine. The value is nil (with ok true) while the Factory of
// that frame is still running, since the reactor doesn't exist until it
// returns.
func CurrentReactor() (any, bool) {
	f, ok := currentFrame.Get()
	if !ok {
		return nil, false
	}
	return f.Reactor(), true
}

// Frame is the per-reactor runtime object: mailboxes, lifecycle state, and
// the scheduling flag. A Frame is created by Spawn and is never
// constructed directly by user code.
type Frame struct {
	uid  uint64
	name string

	scheduler Scheduler
	system    *System

	monitor sync.Mutex // guards everything below down to lifecycle

	connectors     *uniqueStore[connector]
	pendingQueues  []connector
	nonDaemonCount int
	executing      bool
	lifecycle      LifecycleState

	sysConn *Connector[LifecycleEvent]
	iso     any // the user's reactor value, set once the Factory returns

	newSchedulerState func() SchedulerState
	schedState        SchedulerState

	// fresh holds everything needed to run the constructor exactly once,
	// on whichever goroutine first calls executeBatch.
	fresh func(f *Frame) (any, error)
}

// UID returns the frame's unique id within its System.
func (f *Frame) UID() uint64 { return f.uid }

// Name returns the frame's registered name.
func (f *Frame) Name() string { return f.name }

// System returns the owning System.
func (f *Frame) System() *System { return f.system }

// Reactor returns the value returned by the Proto's Factory, or nil before
// the first batch has run.
func (f *Frame) Reactor() any {
	f.monitor.Lock()
	defer f.monitor.Unlock()
	return f.iso
}

// HasTerminated reports whether the frame's lifecycle has reached
// Terminated.
func (f *Frame) HasTerminated() bool { return f.hasTerminated() }

func (f *Frame) hasTerminated() bool {
	f.monitor.Lock()
	defer f.monitor.Unlock()
	return f.lifecycle == Terminated
}

// HasPendingEvents reports whether any connector currently has queued
// events awaiting a batch.
func (f *Frame) HasPendingEvents() bool {
	f.monitor.Lock()
	defer f.monitor.Unlock()
	return len(f.pendingQueues) > 0
}

// EstimateTotalPendingEvents sums queue lengths across pending connectors.
// It is advisory only: sizes are read non-atomically across connectors, so
// the total can be stale the instant it is returned.
func (f *Frame) EstimateTotalPendingEvents() int {
	f.monitor.Lock()
	pending := make([]connector, len(f.pendingQueues))
	copy(pending, f.pendingQueues)
	f.monitor.Unlock()

	total := 0
	for _, c := range pending {
		total += c.queueLen()
	}
	return total
}

// openConnector reserves a uid, builds the queue/handler pair, stores it
// under a unique name, and tracks the non-daemon count. Fails if the
// frame has already terminated.
func openConnector[T any](f *Frame, name string, daemon bool, qf QueueFactory[T], handler func(T)) (*Connector[T], error) {
	if f.hasTerminated() {
		return nil, errFrameTerminated
	}
	if qf == nil {
		qf = NewUnboundedQueue[T]()
	}

	uid := f.connectors.reserveID()
	c := &Connector[T]{
		id:      uid,
		frame:   f,
		daemon:  daemon,
		queue:   qf(),
		handler: handler,
	}
	c.open.Store(true)

	stored, err := f.connectors.tryStore(uid, name, connector(c))
	if err != nil {
		return nil, err
	}
	c.nm = stored

	if !daemon {
		f.monitor.Lock()
		f.nonDaemonCount++
		f.monitor.Unlock()
	}

	return c, nil
}

// enqueueEdge is the second half of the canonical sender path, called
// only on the 0->1 transition of a connector's queue. It appends the
// connector to pendingQueues and, only if the frame was not already
// scheduled, flips executing and notifies the scheduler after releasing
// the monitor.
func (f *Frame) enqueueEdge(c connector) {
	var notify bool
	f.monitor.Lock()
	if f.lifecycle == Terminated {
		// The sender raced with termination: the event stays queued but
		// is never drained, the silent-drop outcome for a terminated
		// target.
		f.monitor.Unlock()
		return
	}
	f.appendPendingLocked(c)
	if !f.executing {
		f.executing = true
		notify = true
	}
	f.monitor.Unlock()
	if notify {
		f.scheduler.Schedule(f)
	}
}

// ScheduleForExecution performs the same executing-flag transition as
// enqueueEdge, without an accompanying enqueue. Idempotent while
// executing is already true. Used by timers and by seal's
// termination-check nudge.
func (f *Frame) ScheduleForExecution() {
	var notify bool
	f.monitor.Lock()
	if !f.executing && f.lifecycle != Terminated {
		f.executing = true
		notify = true
	}
	f.monitor.Unlock()
	if notify {
		f.scheduler.Schedule(f)
	}
}

func (f *Frame) appendPendingLocked(c connector) {
	if c.pending() {
		return
	}
	c.setPending(true)
	f.pendingQueues = append(f.pendingQueues, c)
}

func (f *Frame) popPendingLocked() (connector, bool) {
	if len(f.pendingQueues) == 0 {
		return nil, false
	}
	c := f.pendingQueues[0]
	f.pendingQueues = f.pendingQueues[1:]
	c.setPending(false)
	return c, true
}

// sealConnector closes the connector's channel, releases its uid, and
// updates the non-daemon count; queued events are still drained by later
// batches. Returns false if the uid is unknown or already sealed.
func (f *Frame) sealConnector(uid uint64) bool {
	c, ok := f.connectors.forID(uid)
	if !ok {
		return false
	}
	if !c.seal() {
		return false // already sealed: idempotent
	}

	f.monitor.Lock()
	if !c.isDaemon() {
		f.nonDaemonCount--
	}
	shouldCheck := f.lifecycle == Running && f.nonDaemonCount == 0 && len(f.pendingQueues) == 0 && !f.executing
	f.monitor.Unlock()

	f.connectors.tryReleaseByID(uid)

	if shouldCheck {
		// Nudge a batch into existence purely to run the termination
		// check; if a batch is running or queued instead, its own step 6
		// observes the new state, or step 7 does when the seal lands
		// after step 6.
		f.ScheduleForExecution()
	}
	return true
}

// executeBatch runs one batch of the frame's pending events. It must be
// called by a Scheduler worker, and only while f.executing is true.
func (f *Frame) executeBatch() {
	if outer, bound := currentFrame.Get(); bound {
		panic(&NestedReactorError{Outer: outer.name, Inner: f.name})
	}
	currentFrame.Bind(f)
	defer currentFrame.Unbind()

	if f.runFreshPath() {
		// Constructor failed; the frame was force-terminated and no
		// further steps (Scheduled/Preempted/drain/reschedule) apply.
		return
	}

	f.emitLifecycle(EventScheduled, nil)

	if f.drainPending() {
		// A handler panicked: handleHandlerError already ran the forced
		// termination path (Died, Terminated, forget). The normal
		// Preempted/check-termination/reschedule steps that follow a
		// clean batch do not apply.
		return
	}

	f.emitLifecycle(EventPreempted, nil)

	f.checkTerminated()

	f.rescheduleDecision()
}

// runFreshPath performs the Fresh->Running transition and the Factory
// call, the first time a frame's batch runs. Returns true if the frame was
// force-terminated due to a ConstructorError (in which case the caller
// must not proceed with the rest of the batch).
func (f *Frame) runFreshPath() (terminatedByConstructor bool) {
	f.monitor.Lock()
	fresh := f.lifecycle == Fresh
	f.monitor.Unlock()
	if !fresh {
		return false
	}

	iso, err := f.callFactory()

	if err != nil {
		f.monitor.Lock()
		f.lifecycle = Terminated
		f.executing = false
		f.monitor.Unlock()
		f.scheduler.HandleError(&ConstructorError{FrameName: f.name, Err: err})
		f.system.forget(f.uid)
		return true
	}

	f.monitor.Lock()
	f.lifecycle = Running
	f.iso = iso
	f.monitor.Unlock()

	f.emitLifecycle(EventStarted, nil)
	return false
}

func (f *Frame) callFactory() (iso any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, nested := r.(*NestedReactorError); nested {
				panic(r) // never recovered; crashes the goroutine
			}
			err = panicToError(r)
		}
	}()
	return f.fresh(f)
}

// drainPending is the budgeted drain loop at the heart of a batch. A
// panic from a handler is recovered exactly once here (the batch boundary,
// not per event), reported as a HandlerError, and forces termination.
// Returns true if a handler error forced termination, in which case the
// caller must skip the rest of the normal batch epilogue.
func (f *Frame) drainPending() (died bool) {
	f.schedState.OnBatchStart(f)
	defer f.schedState.OnBatchStop(f)

	herr := f.runDrainLoop()
	if herr != nil {
		f.handleHandlerError(herr)
		return true
	}
	return false
}

func (f *Frame) runDrainLoop() (herr error) {
	defer func() {
		if r := recover(); r != nil {
			if _, nested := r.(*NestedReactorError); nested {
				panic(r) // never recovered; crashes the goroutine
			}
			herr = panicToError(r)
		}
	}()

	f.monitor.Lock()
	c, ok := f.popPendingLocked()
	f.monitor.Unlock()

	for ok {
		remaining, consumed := c.drainOne()
		if !consumed {
			f.monitor.Lock()
			c, ok = f.popPendingLocked()
			f.monitor.Unlock()
			continue
		}

		canConsume := f.schedState.OnBatchEvent(f)
		if canConsume {
			if remaining > 0 {
				continue
			}
			f.monitor.Lock()
			c, ok = f.popPendingLocked()
			f.monitor.Unlock()
			continue
		}

		if remaining > 0 {
			f.monitor.Lock()
			f.appendPendingLocked(c)
			f.monitor.Unlock()
		}
		break
	}
	return nil
}

func (f *Frame) handleHandlerError(cause error) {
	herr := &HandlerError{FrameName: f.name, Err: cause}
	f.scheduler.HandleError(herr)

	f.monitor.Lock()
	alreadyTerminated := f.lifecycle == Terminated
	f.monitor.Unlock()

	if !alreadyTerminated {
		f.emitLifecycle(EventDied, herr)
	}

	f.monitor.Lock()
	f.lifecycle = Terminated
	f.executing = false
	f.monitor.Unlock()
	f.emitLifecycle(EventTerminated, nil)
	f.system.forget(f.uid)
}

// checkTerminated is step 6: the monitor-guarded termination check run at
// the end of every batch.
func (f *Frame) checkTerminated() {
	f.monitor.Lock()
	shouldTerminate := f.lifecycle == Running && len(f.pendingQueues) == 0 && f.nonDaemonCount == 0
	if shouldTerminate {
		f.lifecycle = Terminated
	}
	f.monitor.Unlock()

	if shouldTerminate {
		f.emitLifecycle(EventTerminated, nil)
		f.system.forget(f.uid)
	}
}

// rescheduleDecision is step 7. A seal that lands between step 6 and
// here finds executing still true and skips its nudge, so the
// termination condition is re-checked before executing is cleared.
func (f *Frame) rescheduleDecision() {
	var mustSchedule, terminate bool
	f.monitor.Lock()
	if len(f.pendingQueues) > 0 && f.lifecycle != Terminated {
		mustSchedule = true
	} else {
		f.executing = false
		if f.lifecycle == Running && f.nonDaemonCount == 0 {
			f.lifecycle = Terminated
			terminate = true
		}
	}
	f.monitor.Unlock()

	if terminate {
		f.emitLifecycle(EventTerminated, nil)
		f.system.forget(f.uid)
	}
	if mustSchedule {
		f.scheduler.Schedule(f)
	}
}

func (f *Frame) emitLifecycle(kind EventKind, err error) {
	ev := LifecycleEvent{Kind: kind, Err: err}
	f.logLifecycle(kind, err)

	f.monitor.Lock()
	sc := f.sysConn
	f.monitor.Unlock()
	if sc == nil || sc.handler == nil {
		return
	}

	func() {
		defer func() { _ = recover() }() // a broken system-event subscriber must not crash the loop
		sc.handler(ev)
	}()
}
