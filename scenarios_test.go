package reactors

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPiggybackSystem() (*System, *PiggybackScheduler) {
	pb := NewPiggybackScheduler(nil)
	sys := NewSystem(WithDefaultScheduler("piggyback", pb))
	return sys, pb
}

// Spawn a string reactor, send one event, seal main, and observe Started
// before a single Terminated on the system stream.
func TestReactor_SendSealTerminate(t *testing.T) {
	sys, _ := newPiggybackSystem()

	var mainSink sink[string]
	var sysSink sink[EventKind]

	ch, err := Spawn(sys, Proto[string]{
		Name: "greeter",
		Factory: func(ctx *Context[string]) (any, error) {
			ctx.OnMainEvent(func(s string) { mainSink.push(s) })
			ctx.OnSystemEvent(func(ev LifecycleEvent) { sysSink.push(ev.Kind) })
			return nil, nil
		},
	})
	require.NoError(t, err)

	ch.Send("Hola!")
	SealChannel(ch)

	assert.Equal(t, []string{"Hola!"}, mainSink.snapshot())

	events := sysSink.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, EventStarted, events[0])
	assert.Equal(t, EventTerminated, events[len(events)-1])

	terminatedCount := 0
	for _, e := range events {
		if e == EventTerminated {
			terminatedCount++
		}
	}
	assert.Equal(t, 1, terminatedCount)
}

// A reactor with two connectors: each connector's own stream is FIFO,
// independent of interleaving across connectors.
func TestReactor_TwoConnectorsIndependentFIFO(t *testing.T) {
	sys, _ := newPiggybackSystem()

	var mainSink sink[int]
	var auxSink sink[int]
	var auxCh *Channel[int]

	ch, err := Spawn(sys, Proto[int]{
		Factory: func(ctx *Context[int]) (any, error) {
			ctx.OnMainEvent(func(v int) { mainSink.push(v) })
			ac, err := OpenConnector(ctx, ConnectorOptions[int]{
				Name:    "aux",
				Handler: func(v int) { auxSink.push(v) },
			})
			if err != nil {
				return nil, err
			}
			auxCh = ac
			return nil, nil
		},
	})
	require.NoError(t, err)

	ch.Send(1)
	ch.Send(2)
	ch.Send(3)
	auxCh.Send(10)
	auxCh.Send(20)

	assert.Equal(t, []int{1, 2, 3}, mainSink.snapshot())
	assert.Equal(t, []int{10, 20}, auxSink.snapshot())
}

// A handler panic on the 5th event ends the batch: events 1-4 were
// processed, the scheduler observes exactly the sentinel error, and Died
// then Terminated are emitted; further sends are dropped.
func TestReactor_HandlerPanicForcesTermination(t *testing.T) {
	sys, pb := newPiggybackSystem()

	var mainSink sink[int]
	var sysSink sink[LifecycleEvent]
	sentinel := errors.New("boom")

	ch, err := Spawn(sys, Proto[int]{
		Factory: func(ctx *Context[int]) (any, error) {
			ctx.OnMainEvent(func(v int) {
				if v == 5 {
					panic(sentinel)
				}
				mainSink.push(v)
			})
			ctx.OnSystemEvent(func(ev LifecycleEvent) { sysSink.push(ev) })
			return nil, nil
		},
	})
	require.NoError(t, err)

	for i := 1; i <= 8; i++ {
		ch.Send(i)
	}

	assert.Equal(t, []int{1, 2, 3, 4}, mainSink.snapshot())
	assert.True(t, ch.conn.frame.HasTerminated())

	errs := pb.Errors()
	require.Len(t, errs, 1)
	var herr *HandlerError
	require.ErrorAs(t, errs[0], &herr)
	assert.Equal(t, sentinel, errors.Unwrap(herr))

	events := sysSink.snapshot()
	require.GreaterOrEqual(t, len(events), 2)
	last, secondLast := events[len(events)-1], events[len(events)-2]
	assert.Equal(t, EventTerminated, last.Kind)
	assert.Equal(t, EventDied, secondLast.Kind)
	assert.Equal(t, sentinel, errors.Unwrap(secondLast.Err))

	// events after the 5th that triggered the panic (6,7,8) must not have
	// been observed, since the frame already terminated by the time they
	// were sent.
	accepted := ch.TrySend(999)
	assert.False(t, accepted)
}

// A failing factory: no Started, the scheduler observes the wrapped
// error, and the frame is removed from the registry.
func TestReactor_ConstructorFailureForcesTermination(t *testing.T) {
	sys, pb := newPiggybackSystem()
	sentinel := errors.New("construction failed")

	ch, err := Spawn(sys, Proto[int]{
		Name: "doomed",
		Factory: func(ctx *Context[int]) (any, error) {
			return nil, sentinel
		},
	})
	require.NoError(t, err)
	require.True(t, ch.conn.frame.HasTerminated())

	errs := pb.Errors()
	require.Len(t, errs, 1)
	var cerr *ConstructorError
	require.ErrorAs(t, errs[0], &cerr)
	assert.Equal(t, sentinel, errors.Unwrap(cerr))

	_, ok := sys.FrameByName("doomed")
	assert.False(t, ok)
}

// A daemon-only reactor terminates at the next batch boundary after
// processing its one event. The non-daemon count already reaches zero the
// moment main is sealed, so the one event has to be queued on the daemon
// connector by then: the factory seals main and self-sends before
// returning, and the piggyback scheduler (synchronous within Spawn)
// drains and terminates within that same first batch.
func TestReactor_DaemonOnlyTerminatesAfterOneEvent(t *testing.T) {
	sys, _ := newPiggybackSystem()

	var mainSink sink[int]
	var frame *Frame

	_, err := Spawn(sys, Proto[string]{
		Name: "daemon-opener",
		Factory: func(ctx *Context[string]) (any, error) {
			SealChannel(ctx.MainChannel())
			dc, err := OpenConnector(ctx, ConnectorOptions[int]{
				Daemon:  true,
				Handler: func(v int) { mainSink.push(v) },
			})
			if err != nil {
				return nil, err
			}
			dc.Send(42)
			frame = ctx.Frame()
			return nil, nil
		},
	})
	require.NoError(t, err)
	require.NotNil(t, frame)

	assert.Equal(t, []int{42}, mainSink.snapshot())
	assert.True(t, frame.HasTerminated())
}

// ScheduleForExecution can be called repeatedly on an idle frame (under
// the piggyback scheduler executing is false at each call, so each call
// runs one empty batch inline), and sealing is idempotent: the second
// seal reports false.
func TestReactor_ScheduleAndSealAreIdempotent(t *testing.T) {
	sys, _ := newPiggybackSystem()

	var calls int
	ch, err := Spawn(sys, Proto[int]{
		Factory: func(ctx *Context[int]) (any, error) {
			ctx.OnMainEvent(func(int) { calls++ })
			return nil, nil
		},
	})
	require.NoError(t, err)

	f := ch.conn.frame
	f.ScheduleForExecution()
	f.ScheduleForExecution()
	f.ScheduleForExecution()

	assert.True(t, SealChannel(ch))
	assert.False(t, SealChannel(ch))
}

// Many concurrent senders to a single hub reactor: the hub's handler is
// never invoked concurrently with itself, and every sent event is
// eventually received.
func TestReactor_HubNeverSeesConcurrentHandlers(t *testing.T) {
	sys := NewSystem(WithDefaultScheduler("pool", NewPoolScheduler(8)))

	const reactors = 20
	const perReactor = 200
	const total = reactors * perReactor

	var received atomic.Int64
	var inHandler atomic.Int32
	var concurrentSeen atomic.Bool

	hub, err := Spawn(sys, Proto[int]{
		Name: "hub",
		Factory: func(ctx *Context[int]) (any, error) {
			ctx.OnMainEvent(func(int) {
				if inHandler.Add(1) > 1 {
					concurrentSeen.Store(true)
				}
				received.Add(1)
				inHandler.Add(-1)
			})
			return nil, nil
		},
	})
	require.NoError(t, err)

	done := make(chan struct{})
	for i := 0; i < reactors; i++ {
		go func() {
			for j := 0; j < perReactor; j++ {
				hub.Send(j)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < reactors; i++ {
		<-done
	}

	require.Eventually(t, func() bool {
		return received.Load() == total
	}, 5*time.Second, time.Millisecond)

	assert.False(t, concurrentSeen.Load())
}
