package machines

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

func TestMachines_runsEveryRoutineExactlyOnce(t *testing.T) {
	m := newTestMachines(t, WithMaxProcs(4))

	const routines = 500
	var count atomic.Int64
	for i := 0; i < routines; i++ {
		m.Go(func() {
			count.Add(1)
		})
	}

	shutdown(t, m)

	assert.Equal(t, int64(routines), count.Load())
	stats := m.Metrics()
	assert.Equal(t, int64(routines), stats.RoutinesSpawned)
	assert.Equal(t, int64(routines), stats.RoutinesCompleted)
}

func TestMachines_submitFromRoutine(t *testing.T) {
	m := newTestMachines(t)

	var parent, child atomic.Bool
	m.Go(func() {
		parent.Store(true)
		m.Go(func() {
			child.Store(true)
		})
	})

	shutdown(t, m)
	assert.True(t, parent.Load())
	assert.True(t, child.Load(), "a routine spawned from within a routine must still run")
}

func TestMachines_workStealing(t *testing.T) {
	m := newTestMachines(t, WithMaxProcs(4))

	// All children are submitted from within a single routine, so they all
	// land on that worker's processor queue; the other workers have nothing
	// to do but steal.
	const children = 200
	var count atomic.Int64
	m.Go(func() {
		for i := 0; i < children; i++ {
			m.Go(func() {
				for j := 0; j < 1000; j++ {
					if j%100 == 0 {
						Safepoint()
					}
				}
				count.Add(1)
			})
		}
	})

	shutdown(t, m)

	assert.Equal(t, int64(children), count.Load())
	stats := m.Metrics()
	assert.Positive(t, stats.Steals, "idle workers must have stolen from the busy one")
	assert.Positive(t, stats.StolenRoutines)
}

func TestMachines_preemption(t *testing.T) {
	m := newTestMachines(t,
		WithMaxProcs(1),
		WithPreemptionInterval(2*time.Millisecond),
	)

	// Both routines share the single processor. The first never yields
	// explicitly; only the preemption request, observed at a safepoint,
	// lets the second run.
	var other atomic.Bool
	m.Go(func() {
		for !other.Load() {
			Safepoint()
		}
	})
	m.Go(func() {
		other.Store(true)
	})

	done := make(chan struct{})
	go func() {
		shutdown(t, m)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("preemption did not let the second routine run")
	}
	assert.True(t, other.Load())
	assert.Positive(t, m.Metrics().PreemptRounds)
}

func TestMachines_roundRobinYield(t *testing.T) {
	m := newTestMachines(t, WithMaxProcs(1))

	// A yielding in a tight loop must not starve B on the same processor:
	// the current routine is re-enqueued at the tail, behind B.
	var ran atomic.Bool
	m.Go(func() {
		for i := 0; i < 1000 && !ran.Load(); i++ {
			Yield()
		}
	})
	m.Go(func() {
		ran.Store(true)
	})

	shutdown(t, m)
	assert.True(t, ran.Load())
}

func TestMachines_blocking(t *testing.T) {
	m := newTestMachines(t, WithMaxProcs(2))

	var after, sibling atomic.Bool
	m.Go(func() {
		Blocking(func() {
			time.Sleep(5 * time.Millisecond)
		})
		after.Store(true)
	})
	m.Go(func() {
		sibling.Store(true)
	})

	shutdown(t, m)
	assert.True(t, after.Load(), "the routine must continue after Blocking")
	assert.True(t, sibling.Load())
}

func TestMachines_shutdownTwice(t *testing.T) {
	m := newTestMachines(t)
	shutdown(t, m)
	assert.ErrorIs(t, m.Shutdown(context.Background()), ErrStopped)
}

func TestMachines_shutdownContextCancelled(t *testing.T) {
	m := newTestMachines(t, WithMaxProcs(1))

	// A routine parked forever on a never-closed channel keeps the pool
	// non-idle; shutdown must respect the context.
	c := NewChannel[int](0)
	m.Go(func() {
		c.Recv()
	})

	ctx, cancel := testContext(200 * time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)

	// Unblock the routine and the instance shuts down cleanly after all.
	c.Close()
	shutdown(t, m)
}

func TestMachines_goNilPanics(t *testing.T) {
	m := newTestMachines(t)
	defer shutdown(t, m)
	assert.PanicsWithValue(t, `machines: nil function`, func() {
		m.Go(nil)
	})
}

func TestBlocking_nilPanics(t *testing.T) {
	assert.PanicsWithValue(t, `machines: nil function`, func() {
		Blocking(nil)
	})
}

func TestBlocking_offRoutineRunsInline(t *testing.T) {
	var ran bool
	Blocking(func() { ran = true })
	assert.True(t, ran)
}

func TestYield_offRoutineIsSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		Yield()
		Safepoint()
	})
}

func TestDefault_identity(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestMachines_manyInstancesAreIsolated(t *testing.T) {
	m1 := newTestMachines(t, WithMaxProcs(1))
	m2 := newTestMachines(t, WithMaxProcs(1))

	var a, b atomic.Int64
	for i := 0; i < 50; i++ {
		m1.Go(func() { a.Add(1) })
		m2.Go(func() { b.Add(1) })
	}

	shutdown(t, m1)
	shutdown(t, m2)
	assert.Equal(t, int64(50), a.Load())
	assert.Equal(t, int64(50), b.Load())
}

// A deferred callable may itself yield to the scheduler.
func TestMachines_yieldFromDefer(t *testing.T) {
	m := newTestMachines(t)

	var done atomic.Bool
	m.Go(func() {
		defer func() {
			Yield()
			done.Store(true)
		}()
	})

	shutdown(t, m)
	assert.True(t, done.Load())
}

func TestSpinYieldLock_counter(t *testing.T) {
	m := newTestMachines(t, WithMaxProcs(4))

	const (
		routines   = 50
		increments = 100
	)
	var mu sync.Mutex
	counter := 0
	for i := 0; i < routines; i++ {
		m.Go(func() {
			for j := 0; j < increments; j++ {
				lock := SpinYieldLock{L: &mu}
				lock.Lock()
				counter++
				lock.Unlock()
			}
		})
	}

	shutdown(t, m)
	assert.Equal(t, routines*increments, counter)
}

func TestSpinYieldLock_nilLockerPanics(t *testing.T) {
	var lock SpinYieldLock
	assert.PanicsWithValue(t, `machines: nil locker`, func() {
		lock.Lock()
	})
}

var _ sync.Locker = (*SpinYieldLock)(nil)

func TestMainGoroutineChannelUse(t *testing.T) {
	m := newTestMachines(t)

	// The original drivers send on channels directly from the main thread;
	// off-routine senders must interoperate with routine receivers.
	c := NewChannel[int](0)
	var got []int
	var mu sync.Mutex
	m.Go(func() {
		for {
			v, ok := c.Recv()
			if !ok {
				return
			}
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		}
	})

	for i := 0; i < 5; i++ {
		c.Send(i)
	}
	c.Close()

	shutdown(t, m)
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)
}
