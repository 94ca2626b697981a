package machines

import (
	"runtime"
	"sync/atomic"

	"github.com/joeycumines/go-machines/internal/threadid"
)

// executor drives one worker's scheduling loop. The backing goroutine is
// locked to its own OS thread for the life of the loop, so each executor is
// genuinely one worker thread. At most one routine is active on an executor
// at any moment; while that routine runs, the executor is parked at its
// scheduler context's gate.
type executor struct {
	m     *Machines
	sched *execContext

	// proc is the processor currently held, nil while parked waiting for
	// one. Atomic because peers read it when scanning for steal victims,
	// and the active routine swaps it out in Blocking.
	proc atomic.Pointer[processor]

	// active is the currently-dispatched routine. Atomic because the
	// preemption clock reads it to flag the routine.
	active atomic.Pointer[routine]

	running atomic.Bool
	id      int
	tid     int
}

func newExecutor(id int, m *Machines) *executor {
	e := &executor{
		id:    id,
		m:     m,
		sched: newExecContext(contextScheduler),
	}
	e.running.Store(true)
	return e
}

// run is the scheduler loop. It counts itself idle whenever it is executing
// scheduler code (as opposed to a routine), which is what the idle-based
// termination protocol samples.
func (e *executor) run() {
	defer e.m.wg.Done()
	runtime.LockOSThread()
	e.tid = threadid.Current()
	e.m.logger.Debug().
		Int("executor", e.id).
		Int("tid", e.tid).
		Log("executor started")

	e.m.idleCount.Add(1)
	for e.running.Load() {
		p := e.proc.Load()
		if p == nil {
			e.m.pullProcessor(e)
			continue
		}
		active := e.active.Load()
		if active != nil && active.done {
			e.m.logger.Debug().
				Int("executor", e.id).
				Uint64("routine", active.id).
				Log("routine done")
			e.active.Store(nil)
			active = nil
		}
		if next := p.next(active); next != nil {
			e.active.Store(next)
			e.dispatch(next)
		} else if active != nil && !active.done {
			// Nothing else runnable; just continue the current routine.
			e.dispatch(active)
		}
	}
	e.m.idleCount.Add(-1)

	e.m.logger.Debug().
		Int("executor", e.id).
		Int("tid", e.tid).
		Log("executor stopped")
}

// dispatch switches into the routine and parks the scheduler context until
// the routine yields or completes. The executor is non-idle for exactly the
// duration of the switch.
func (e *executor) dispatch(r *routine) {
	e.m.idleCount.Add(-1)
	r.exec = e
	r.sched = e.sched
	if !r.started {
		r.started = true
		go r.run()
	}
	e.m.metrics.addDispatch()
	e.sched.set(r.ctx)
	e.sched.gate.sleep()
	e.m.idleCount.Add(1)
}
