// Package machines implements a user-space M:N concurrency runtime: many
// cooperatively-scheduled routines multiplexed over a fixed pool of worker
// threads, with typed channels and a multi-way select, in the style of the
// classic G/P/M scheduler.
//
// # Architecture
//
// The runtime is built from three tightly coupled subsystems:
//
//   - The scheduler: a three-level structure (global run queue, per-worker
//     run queue, per-worker scheduler loop) implementing cooperative context
//     switching with clock-driven preemption requests and work stealing.
//     [Machines] is the coordinator; each worker is an executor goroutine
//     locked to its own OS thread, driving routines through a transferable
//     processor run queue.
//   - Channels: [Channel] is a typed bounded FIFO port with blocking and
//     non-blocking send/receive, closure semantics, and cooperative yielding
//     whenever progress is impossible. Capacity zero means a rendezvous
//     channel with a single handoff cell.
//   - Select: [Select] composes the channels' non-blocking probes into a
//     fair multi-way choice with an optional default branch.
//
// # Execution Model
//
// Each routine runs on its own goroutine, parked on a one-slot handoff gate.
// An executor "switches into" a routine by waking the routine's gate and
// parking on its own; the routine yields back the same way. Suspension
// points are every [Yield], every contended [SpinYieldLock], every blocking
// channel operation, and every select retry.
//
// Preemption is cooperative-with-a-clock: a coordinator goroutine ticks
// every preemption interval (default 20ms) and marks each worker's active
// routine preempt-requested. The request is honoured at the next suspension
// point; compute-heavy loops should call [Safepoint], which yields only when
// preemption has been requested.
//
// Routines submitted from outside the runtime land on the global queue;
// routines submitted from within a running routine land on the submitting
// worker's processor queue. A worker whose processor runs dry steals the
// back half of a peer's queue, or drains the global queue.
//
// # Usage
//
//	m, err := machines.New(
//	    machines.WithMaxProcs(4),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	c := machines.NewChannel[int](0)
//	m.Go(func() {
//	    defer c.Close()
//	    for i := 1; i <= 3; i++ {
//	        c.Send(i)
//	    }
//	})
//	m.Go(func() {
//	    for {
//	        v, ok := c.Recv()
//	        if !ok {
//	            return
//	        }
//	        fmt.Println(v)
//	    }
//	})
//
//	if err := m.Shutdown(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// The package-level [Go] and [End] operate on the lazily-created [Default]
// instance, mirroring the global spawn surface of the original runtime
// design. [Yield] and [Safepoint] act on the calling routine, whichever
// instance runs it.
//
// # Termination
//
// [Machines.Shutdown] implements idle-based termination: it samples the
// worker pool and stops once every worker has been continuously idle for a
// configurable number of consecutive samples (default 20 x 100ms). Programs
// that park all routines on a never-closed channel will never become idle;
// closing channels on the writer side is a user obligation.
//
// # Thread Safety
//
//   - [Machines.Go] and the package-level [Go] are safe from any goroutine.
//   - [Channel] operations are safe from any goroutine; on a goroutine that
//     is not a routine, cooperative yields degrade to [runtime.Gosched].
//   - [Machines.Shutdown] may be retried after its context is cancelled; a
//     call made while another is in progress, or after one has completed,
//     returns [ErrStopped].
//
// # Errors
//
// Recoverable conditions surface as errors ([ErrStopped], option validation
// errors). Programming errors panic with a "machines:"-prefixed message:
// send on a closed channel, multiple default cases in one select, nil
// functions, channels, select cases or send values, and a negative channel
// capacity.
package machines
