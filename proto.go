package reactors

// Proto is the reactor template: how to construct a reactor and how to
// schedule it.
type Proto[T any] struct {
	// Name optionally fixes the frame's registered name. If empty, a name
	// is synthesized from the frame's uid. An explicit Name that collides
	// with an existing frame name fails Spawn with a *DuplicateNameError.
	Name string

	// Scheduler optionally selects a scheduler by name from the owning
	// System's registry. Empty selects the System's default scheduler.
	Scheduler string

	// Factory constructs the reactor. It runs exactly once, on whichever
	// worker goroutine first executes the frame's batch; that is the
	// caller of Spawn only when the frame's scheduler runs batches inline
	// (PiggybackScheduler). It must register a main-connector handler via
	// ctx.OnMainEvent for events sent on the returned Channel to be
	// observed. The returned value, if non-nil, is retained as
	// Frame.Reactor() for diagnostic/test purposes only.
	Factory func(ctx *Context[T]) (any, error)

	// ChannelName optionally renames the main connector (and hence the
	// name reported by the returned Channel). Empty means "main".
	ChannelName string

	// QueueFactory overrides the EventQueue implementation used for the
	// main connector. Nil selects an unbounded queue.
	QueueFactory QueueFactory[T]

	// Budget overrides the default per-batch event budget (see
	// DefaultBatchBudget). Ignored if NewSchedulerState is set.
	Budget int

	// NewSchedulerState overrides the SchedulerState construction
	// entirely, for callers that need fairness accounting other than a
	// flat per-batch event count.
	NewSchedulerState func() SchedulerState
}

// ConnectorOptions configures an additional connector opened via
// OpenConnector.
type ConnectorOptions[U any] struct {
	// Name optionally fixes the connector's registered name.
	Name string
	// Daemon marks the connector as not keeping the frame alive: a frame
	// with zero open non-daemon connectors and an empty pending set
	// terminates at the next batch boundary.
	Daemon bool
	// Handler receives dequeued events, on the reactor's own goroutine.
	Handler func(U)
	// QueueFactory overrides the EventQueue implementation. Nil selects an
	// unbounded queue.
	QueueFactory QueueFactory[U]
}

// Context is the reactor-local handle passed to a Proto's Factory and
// retained by the constructed reactor to open/seal further connectors.
type Context[T any] struct {
	frame *Frame
	main  *Connector[T]
	sys   *Connector[LifecycleEvent]
}

// Frame returns the context's owning Frame.
func (c *Context[T]) Frame() *Frame { return c.frame }

// System returns the owning System.
func (c *Context[T]) System() *System { return c.frame.system }

// MainChannel returns the Channel for this reactor's default connector.
func (c *Context[T]) MainChannel() *Channel[T] { return c.main.Channel() }

// OnMainEvent registers the handler for the default connector. Calling it
// more than once replaces the previous handler; this is only safe to do
// from within Factory, before any batch drains the main connector.
func (c *Context[T]) OnMainEvent(h func(T)) { c.main.handler = h }

// OnSystemEvent subscribes to this frame's lifecycle events (Started,
// Scheduled, Preempted, Died, Terminated), delivered synchronously on the
// reactor's own goroutine.
func (c *Context[T]) OnSystemEvent(h func(LifecycleEvent)) { c.sys.handler = h }

// Seal seals the connector identified by uid. Queued events are still
// drained by later batches. Returns false if already sealed or unknown.
func (c *Context[T]) Seal(uid uint64) bool { return c.frame.sealConnector(uid) }

// OpenConnector opens an additional connector on the frame owning ctx. It
// is a package-level function, rather than a Context method, because Go
// does not allow a method to introduce a type parameter beyond its
// receiver's.
func OpenConnector[T, U any](ctx *Context[T], opts ConnectorOptions[U]) (*Channel[U], error) {
	conn, err := openConnector[U](ctx.frame, opts.Name, opts.Daemon, opts.QueueFactory, opts.Handler)
	if err != nil {
		return nil, err
	}
	return conn.Channel(), nil
}

// SealChannel seals ch's connector. Returns false if already sealed.
func SealChannel[T any](ch *Channel[T]) bool {
	return ch.conn.frame.sealConnector(ch.conn.uid())
}
