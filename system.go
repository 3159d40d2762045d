package reactors

import (
	"errors"
	"runtime"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/paddymahoney/reactors/rlog"
)

// errSystemShutdown is returned by Spawn once System.Shutdown has been
// called.
var errSystemShutdown = errors.New("reactors: system is shutting down")

// System is the process-wide registry of frames: it owns the frame
// uid/name namespace, the named scheduler registry, and a default
// scheduler for Protos that don't pick one explicitly.
type System struct {
	mu sync.Mutex

	frames *uniqueStore[*Frame]

	schedulers    map[string]Scheduler
	defaultSched  string
	channelsByUID map[uint64]AnyChannel

	logger *logiface.Logger[*rlog.Event]

	closed bool
}

// SystemOption configures a System at construction time.
type SystemOption interface {
	apply(*System)
}

type systemOptionFunc func(*System)

func (f systemOptionFunc) apply(s *System) { f(s) }

// WithLogger attaches a structured logger for lifecycle and scheduler
// diagnostics. The zero value System logs nothing (rlog.Discard).
func WithLogger(l *logiface.Logger[*rlog.Event]) SystemOption {
	return systemOptionFunc(func(s *System) { s.logger = l })
}

// WithDefaultScheduler registers sch under name and makes it the
// System's default.
func WithDefaultScheduler(name string, sch Scheduler) SystemOption {
	return systemOptionFunc(func(s *System) {
		s.schedulers[name] = sch
		s.defaultSched = name
	})
}

// WithScheduler registers an additional named scheduler, selectable via
// Proto.Scheduler.
func WithScheduler(name string, sch Scheduler) SystemOption {
	return systemOptionFunc(func(s *System) { s.schedulers[name] = sch })
}

// Built-in scheduler names, registered by NewSystem for any name the
// options did not already take. "default" and "global-execution-context"
// share one pool sized to GOMAXPROCS.
const (
	SchedulerDefault   = "default"
	SchedulerNewThread = "new-thread"
	SchedulerPiggyback = "piggyback"
	SchedulerGlobal    = "global-execution-context"
)

// NewSystem constructs a System with the built-in schedulers registered
// ("default", "new-thread", "piggyback", "global-execution-context") and
// "default" selected for Protos that don't name one. Options may add,
// replace, or re-point the default; the built-in pool shares the
// System's logger, so WithLogger also covers its throttled-error
// diagnostics.
func NewSystem(opts ...SystemOption) *System {
	s := &System{
		frames:        newUniqueStore[*Frame]("reactor"),
		schedulers:    make(map[string]Scheduler),
		channelsByUID: make(map[uint64]AnyChannel),
		logger:        rlog.Discard(),
	}
	for _, o := range opts {
		o.apply(s)
	}
	if _, ok := s.schedulers[SchedulerDefault]; !ok {
		pool := NewPoolScheduler(int64(runtime.GOMAXPROCS(0)), WithPoolLogger(s.logger))
		s.schedulers[SchedulerDefault] = pool
		if _, ok := s.schedulers[SchedulerGlobal]; !ok {
			s.schedulers[SchedulerGlobal] = pool
		}
	} else if _, ok := s.schedulers[SchedulerGlobal]; !ok {
		s.schedulers[SchedulerGlobal] = NewPoolScheduler(int64(runtime.GOMAXPROCS(0)), WithPoolLogger(s.logger))
	}
	if _, ok := s.schedulers[SchedulerNewThread]; !ok {
		s.schedulers[SchedulerNewThread] = NewNewThreadScheduler(nil)
	}
	if _, ok := s.schedulers[SchedulerPiggyback]; !ok {
		s.schedulers[SchedulerPiggyback] = NewPiggybackScheduler(nil)
	}
	if s.defaultSched == "" {
		s.defaultSched = SchedulerDefault
	}
	return s
}

// RegisterScheduler adds (or replaces) a named scheduler after
// construction, selectable via Proto.Scheduler from then on. Frames
// already spawned keep the scheduler they resolved at spawn time.
func (s *System) RegisterScheduler(name string, sch Scheduler) {
	s.mu.Lock()
	s.schedulers[name] = sch
	s.mu.Unlock()
}

// Scheduler returns the scheduler registered under name.
func (s *System) Scheduler(name string) (Scheduler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, ok := s.schedulers[name]
	return sch, ok
}

func (s *System) resolveScheduler(name string) (Scheduler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" {
		name = s.defaultSched
	}
	sch, ok := s.schedulers[name]
	if !ok {
		return nil, errors.New("reactors: unknown scheduler " + name)
	}
	return sch, nil
}

// Find looks up a live frame's main channel by the name it was spawned
// with (or its synthesized uid-based name).
func (s *System) Find(name string) (AnyChannel, bool) {
	f, ok := s.frames.forName(name)
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	ch, ok := s.channelsByUID[f.uid]
	s.mu.Unlock()
	return ch, ok
}

// FrameByName returns the live Frame registered under name.
func (s *System) FrameByName(name string) (*Frame, bool) {
	return s.frames.forName(name)
}

// FrameByUID returns the live Frame with the given uid.
func (s *System) FrameByUID(uid uint64) (*Frame, bool) {
	return s.frames.forID(uid)
}

// Frames returns a snapshot of all currently live frames.
func (s *System) Frames() []*Frame {
	return s.frames.snapshot()
}

// Len reports the number of currently live frames.
func (s *System) Len() int { return s.frames.len() }

// forget removes a terminated frame from the registry. Called from
// Frame's termination paths; idempotent.
func (s *System) forget(uid uint64) {
	s.frames.tryReleaseByID(uid)
	s.mu.Lock()
	delete(s.channelsByUID, uid)
	s.mu.Unlock()
}

func (s *System) registerChannel(uid uint64, ch AnyChannel) {
	s.mu.Lock()
	s.channelsByUID[uid] = ch
	s.mu.Unlock()
}

// Shutdown prevents further Spawn calls and seals every connector of every
// live frame (main, system, and any opened via OpenConnector), giving already-queued work a
// chance to drain and each frame a chance to terminate on its own. It
// does not wait for that draining to complete; callers that need to
// block until quiescent should poll Len.
func (s *System) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	for _, f := range s.frames.snapshot() {
		f.sealAllConnectors()
	}
}

// Spawn registers and schedules a new reactor from proto. It opens
// the frame's main connector (non-daemon) and system connector (daemon)
// synchronously, so the returned Channel is immediately valid even though
// the Factory itself hasn't run yet; the first batch, scheduled before
// Spawn returns, runs the Factory, binds its OnMainEvent handler, and
// emits Started before draining anything queued in the meantime.
//
// Spawn is a free function, not a System method, because Go does not
// allow a method to introduce a type parameter beyond its receiver's.
func Spawn[T any](sys *System, proto Proto[T]) (*Channel[T], error) {
	sch, err := sys.resolveScheduler(proto.Scheduler)
	if err != nil {
		return nil, err
	}

	sys.mu.Lock()
	closed := sys.closed
	sys.mu.Unlock()
	if closed {
		return nil, errSystemShutdown
	}

	newState := proto.NewSchedulerState
	if newState == nil {
		newState = NewBudget(proto.Budget)
	}

	f := &Frame{
		scheduler:         sch,
		system:            sys,
		connectors:        newUniqueStore[connector]("conn"),
		lifecycle:         Fresh,
		newSchedulerState: newState,
	}
	f.schedState = f.newSchedulerState()

	uid := sys.frames.reserveID()
	f.uid = uid
	name, err := sys.frames.tryStore(uid, proto.Name, f)
	if err != nil {
		return nil, err
	}
	f.name = name

	sysConn, err := openConnector[LifecycleEvent](f, "system", true, nil, nil)
	if err != nil {
		sys.frames.tryReleaseByID(uid)
		return nil, err
	}
	f.sysConn = sysConn

	mainName := proto.ChannelName
	if mainName == "" {
		mainName = "main"
	}
	mainConn, err := openConnector[T](f, mainName, false, proto.QueueFactory, nil)
	if err != nil {
		sys.frames.tryReleaseByID(uid)
		return nil, err
	}

	f.fresh = func(fr *Frame) (any, error) {
		ctx := &Context[T]{frame: fr, main: mainConn, sys: sysConn}
		return proto.Factory(ctx)
	}

	ch := mainConn.Channel()
	sys.registerChannel(uid, ch)

	// Re-check after registration: a Shutdown whose seal sweep ran between
	// the first closed check and registerChannel would otherwise miss this
	// frame entirely, leaving it alive past shutdown.
	sys.mu.Lock()
	closed = sys.closed
	sys.mu.Unlock()
	if closed {
		sys.forget(uid)
		return nil, errSystemShutdown
	}

	f.ScheduleForExecution()
	return ch, nil
}

func (f *Frame) logLifecycle(kind EventKind, err error) {
	l := f.system.logger
	if l == nil {
		return
	}
	var b *logiface.Builder[*rlog.Event]
	if err != nil {
		b = l.Err().Err(err)
	} else {
		b = l.Info()
	}
	b.Str("frame", f.name).Uint64("uid", f.uid).Str("event", kind.String()).
		Log("reactor lifecycle")
}

// sealAllConnectors seals every connector currently registered against
// the frame, used by System.Shutdown. Sealing goes through
// sealConnector (not the bare connector.seal()) so nonDaemonCount
// bookkeeping and the termination nudge both run normally.
func (f *Frame) sealAllConnectors() {
	for _, c := range f.connectors.snapshot() {
		f.sealConnector(c.uid())
	}
}
