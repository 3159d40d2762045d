// Package reactors is a runtime for lightweight, isolated,
// single-threaded reactors that communicate over typed, asynchronous
// channels.
//
// A reactor processes at most one event at a time: all of its handlers,
// across however many connectors it has opened, are serialised by its
// Frame. Many reactors run in parallel across goroutines; a Scheduler
// decides when each reactor's frame gets a turn and for how long.
//
// # Spawning a reactor
//
//	sys := reactors.NewSystem(
//		reactors.WithDefaultScheduler("pool", reactors.NewPoolScheduler(8)),
//	)
//	ch, err := reactors.Spawn(sys, reactors.Proto[string]{
//		Name: "greeter",
//		Factory: func(ctx *reactors.Context[string]) (any, error) {
//			ctx.OnMainEvent(func(s string) {
//				fmt.Println("got:", s)
//			})
//			return nil, nil
//		},
//	})
//	ch.Send("Hola!")
//
// Spawn does not wait for the Factory: it runs as part of the frame's
// first batch, on a scheduler worker. The exception is PiggybackScheduler,
// which runs that batch, and so the Factory, inline on the goroutine that
// calls Spawn. Additional connectors (for a reactor that listens on more than
// one event type) are opened from inside Factory via the package-level
// OpenConnector function, and sealed via SealChannel or Context.Seal.
//
// # Lifecycle
//
// A frame moves Fresh -> Running -> Terminated, each transition at most
// once; a frame whose Factory fails goes straight from Fresh to
// Terminated.
// The system connector, present on every reactor, delivers Started,
// Scheduled, Preempted, an optional Died, and exactly one Terminated, in
// that order, subscribed to via Context.OnSystemEvent.
package reactors
