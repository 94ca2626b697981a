package machines

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// routines maps goroutine id -> *routine for every routine currently
// executing user code. Maintained by the routine trampoline; read by the
// package-level entry points (Yield, Safepoint, Go) to locate the calling
// routine without any explicit handle.
var routines sync.Map // int64 -> *routine

// currentRoutine returns the routine executing on the calling goroutine, or
// nil when the caller is not a routine.
func currentRoutine() *routine {
	if v, ok := routines.Load(goid.Get()); ok {
		return v.(*routine)
	}
	return nil
}

// routine is a one-shot task: a callable plus the context it runs in, and a
// reference to the scheduler context it lands back in whenever it yields or
// exits. A routine is exclusively owned by at most one processor queue or
// one executor's active slot; it is never copied, only handed off.
type routine struct {
	fn func()
	m  *Machines

	// ctx is the routine context; user code runs between parks at its gate.
	ctx *execContext
	// sched is the scheduler context to wake on yield or exit. Assigned by
	// the dispatching executor immediately before each resume, so a stolen
	// routine always lands back in its current worker's scheduler.
	sched *execContext
	// exec is the executor currently driving this routine; assigned
	// alongside sched.
	exec *executor

	// started is owned by whichever executor dispatches the routine; the
	// backing goroutine is launched lazily on first dispatch.
	started bool
	// done is written by the trampoline before waking sched, and read by
	// the executor after its park returns; the gate handoff orders the two.
	done bool

	preempt atomic.Bool
	id      uint64
}

func newRoutine(fn func(), m *Machines) *routine {
	return &routine{
		fn:  fn,
		m:   m,
		ctx: newExecContext(contextRoutine),
		id:  m.routineSeq.Add(1),
	}
}

// run is the trampoline executed on the routine's backing goroutine. It
// parks until first dispatched, invokes the callable exactly once, and wakes
// the scheduler on the way out. The deferred cleanup runs even when the
// callable panics, so the driving executor is never left parked; the panic
// itself is not recovered and will take the process down.
func (r *routine) run() {
	id := goid.Get()
	routines.Store(id, r)
	defer func() {
		routines.Delete(id)
		r.done = true
		r.m.metrics.addCompleted()
		r.ctx.set(r.sched)
	}()
	r.ctx.gate.sleep()
	r.fn()
}

// yield suspends the routine and resumes its worker's scheduler loop. Any
// pending preemption request is consumed.
func (r *routine) yield() {
	r.preempt.Store(false)
	r.m.metrics.addYield()
	r.ctx.switchTo(r.sched)
}

// Yield suspends the calling routine, handing control back to its worker's
// scheduler; the routine is re-enqueued at the tail of its processor's run
// queue and will be resumed at this exact point. On a goroutine that is not
// a routine, Yield degrades to [runtime.Gosched].
func Yield() {
	if r := currentRoutine(); r != nil {
		r.yield()
		return
	}
	runtime.Gosched()
}

// Safepoint yields if, and only if, preemption of the calling routine has
// been requested since it last yielded. Compute-heavy loops that do not
// otherwise touch the runtime should call Safepoint to remain preemptable.
// On a goroutine that is not a routine, Safepoint is a no-op.
func Safepoint() {
	if r := currentRoutine(); r != nil && r.preempt.Load() {
		r.yield()
	}
}

// Blocking releases the calling routine's processor back to the idle pool,
// first draining the processor's run queue into the global queue so no
// routine is stranded, and then runs fn. It is the hook for operations that
// block the underlying thread outside the runtime's control. When the
// caller is not a routine, fn is simply invoked.
func Blocking(fn func()) {
	if fn == nil {
		panic(`machines: nil function`)
	}
	if r := currentRoutine(); r != nil {
		r.m.yieldRoutinesAndProcessor(r)
	}
	fn()
}
