// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package machines

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// stealWaitTimeout bounds how long an idle worker waits for a new-routine
// wake before rescanning steal victims and the global queue.
const stealWaitTimeout = 100 * time.Millisecond

// Machines is the coordinator: it owns the pool of workers, the pool of
// idle processors, the global run queue, the preemption clock, and the
// termination protocol. Instances must be initialized using the New
// factory; see also Default.
type Machines struct {
	// Prevent copying
	_ [0]func()

	execs []*executor

	// idleProcs is the idle-processor pool; its buffer holds every
	// processor ever created, so returning one never blocks.
	idleProcs chan *processor

	globalMu sync.Mutex
	global   []*routine
	// newRoutine wakes one waiter per submission.
	newRoutine chan struct{}

	stopCh  chan struct{}
	stopped atomic.Bool
	// shutdownStarted guards the termination protocol, which must run at
	// most once to completion.
	shutdownStarted atomic.Bool

	// idleCount tracks how many workers are currently executing scheduler
	// code rather than a routine; the termination protocol samples it.
	idleCount atomic.Int64

	wg sync.WaitGroup

	logger  *logiface.Logger[logiface.Event]
	metrics *metricsState

	routineSeq atomic.Uint64

	preemptionInterval time.Duration
	idleSamples        int
	idleSamplePeriod   time.Duration
}

// New initializes a new Machines instance: maxProcs processors pushed into
// the idle pool, maxProcs workers each locked to its own OS thread and
// entering its scheduler loop, and the preemption clock armed with the
// configured interval.
func New(opts ...Option) (*Machines, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	m := &Machines{
		idleProcs:          make(chan *processor, cfg.maxProcs),
		newRoutine:         make(chan struct{}, 1),
		stopCh:             make(chan struct{}),
		logger:             cfg.logger,
		preemptionInterval: cfg.preemptionInterval,
		idleSamples:        cfg.idleSamples,
		idleSamplePeriod:   cfg.idleSamplePeriod,
	}
	if cfg.metricsEnabled {
		m.metrics = &metricsState{}
	}

	for i := 0; i < cfg.maxProcs; i++ {
		m.idleProcs <- newProcessor(i, m)
	}
	for i := 0; i < cfg.maxProcs; i++ {
		m.execs = append(m.execs, newExecutor(i, m))
	}

	m.wg.Add(len(m.execs) + 1)
	for _, e := range m.execs {
		go e.run()
	}
	go m.preemptionClock()

	m.logger.Info().
		Int("procs", cfg.maxProcs).
		Dur("preemptionInterval", cfg.preemptionInterval).
		Log("machines started")

	return m, nil
}

var (
	defaultOnce     sync.Once
	defaultMachines *Machines
)

// Default returns the lazily-created process-wide instance used by the
// package-level Go and End.
func Default() *Machines {
	defaultOnce.Do(func() {
		m, err := New()
		if err != nil {
			panic(err)
		}
		defaultMachines = m
	})
	return defaultMachines
}

// Go submits fn to the Default instance, see Machines.Go.
func Go(fn func()) {
	Default().Go(fn)
}

// End blocks until all routines submitted to the Default instance have
// finished and all of its workers are idle, then stops the workers and
// joins their threads.
func End() {
	if err := Default().Shutdown(context.Background()); err != nil && !errors.Is(err, ErrStopped) {
		panic(err)
	}
}

// Go queues fn to run as a routine, at some unspecified later time on some
// worker. Submissions from within a running routine land on the submitting
// worker's processor queue; all other submissions land on the global queue.
// Either way one waiting worker is woken. A nil fn panics.
func (m *Machines) Go(fn func()) {
	if fn == nil {
		panic(`machines: nil function`)
	}
	r := newRoutine(fn, m)
	m.metrics.addSpawned()

	if cur := currentRoutine(); cur != nil && cur.m == m && cur.exec != nil {
		if p := cur.exec.proc.Load(); p != nil {
			p.submit(r)
			m.logger.Debug().
				Uint64("routine", r.id).
				Int("processor", p.id).
				Log("routine submitted locally")
			m.notifyNewRoutine()
			return
		}
	}

	m.globalMu.Lock()
	m.global = append(m.global, r)
	m.globalMu.Unlock()
	m.logger.Debug().
		Uint64("routine", r.id).
		Log("routine submitted globally")
	m.notifyNewRoutine()
}

func (m *Machines) notifyNewRoutine() {
	select {
	case m.newRoutine <- struct{}{}:
	default:
	}
}

func (m *Machines) running() bool {
	return !m.stopped.Load()
}

// pullProcessor hands an idle processor to a worker that lacks one,
// blocking until one is released or the instance stops.
func (m *Machines) pullProcessor(e *executor) {
	select {
	case p := <-m.idleProcs:
		e.proc.Store(p)
		m.metrics.addHandoff()
		m.logger.Debug().
			Int("executor", e.id).
			Int("processor", p.id).
			Log("processor acquired")
	case <-m.stopCh:
	}
}

// pullRoutines finds work for a processor that has run dry: first attempt
// to steal the back half of any peer processor's queue, then drain the
// entire global queue, and finally - only when the caller is idle - park
// briefly waiting for a submission and retry.
func (m *Machines) pullRoutines(stealerID int, coreIdle bool) []*routine {
	for m.running() {
		for _, e := range m.execs {
			victim := e.proc.Load()
			if victim == nil || victim.id == stealerID {
				continue
			}
			if stolen := victim.surrender(false); len(stolen) > 0 {
				m.metrics.addSteal(len(stolen))
				m.logger.Debug().
					Int("processor", stealerID).
					Int("victim", victim.id).
					Int("routines", len(stolen)).
					Log("stole routines")
				return stolen
			}
		}

		m.globalMu.Lock()
		if len(m.global) > 0 {
			drained := m.global
			m.global = nil
			m.globalMu.Unlock()
			m.metrics.addGlobalDrain(len(drained))
			return drained
		}
		m.globalMu.Unlock()

		if !coreIdle {
			// The caller has a current routine to continue; no time to
			// waste waiting.
			return nil
		}

		select {
		case <-m.newRoutine:
		case <-m.stopCh:
			return nil
		case <-time.After(stealWaitTimeout):
		}
	}
	return nil
}

// yieldRoutinesAndProcessor moves the routine's worker's processor to the
// idle pool, after dumping the processor's entire queue into the global
// queue so no routine is stranded on an unreachable processor.
func (m *Machines) yieldRoutinesAndProcessor(r *routine) {
	e := r.exec
	if e == nil {
		return
	}
	p := e.proc.Swap(nil)
	if p == nil {
		return
	}
	if moved := p.surrender(true); len(moved) > 0 {
		m.globalMu.Lock()
		m.global = append(m.global, moved...)
		m.globalMu.Unlock()
		m.notifyNewRoutine()
	}
	m.logger.Debug().
		Int("executor", e.id).
		Int("processor", p.id).
		Log("processor released")
	m.idleProcs <- p
}

// preemptionClock periodically marks every worker's active routine
// preempt-requested. The request is honoured at the routine's next
// suspension point; see Safepoint.
func (m *Machines) preemptionClock() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.preemptionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			for _, e := range m.execs {
				if r := e.active.Load(); r != nil && !r.preempt.Load() {
					r.preempt.Store(true)
				}
			}
			m.metrics.addPreemptRound()
		}
	}
}

// Shutdown implements idle-based termination: once every worker has been
// continuously idle for the configured number of consecutive samples, the
// workers are stopped and joined. Shutdown returns ctx's error if it is
// cancelled first, in which case the instance keeps running and Shutdown
// may be retried. At most one Shutdown runs at a time; a second concurrent
// or subsequent call returns ErrStopped.
//
// Programs that park routines on a never-closed channel never become idle;
// Shutdown will block until ctx is cancelled.
func (m *Machines) Shutdown(ctx context.Context) error {
	if !m.shutdownStarted.CompareAndSwap(false, true) {
		return ErrStopped
	}

	m.logger.Info().Log("shutdown waiting for idle")

	target := int64(len(m.execs))
	for seen := 0; seen < m.idleSamples; {
		select {
		case <-ctx.Done():
			m.shutdownStarted.Store(false)
			return ctx.Err()
		case <-time.After(m.idleSamplePeriod):
		}
		if m.idleCount.Load() == target {
			seen++
		} else {
			seen = 0
		}
	}

	m.stopped.Store(true)
	close(m.stopCh)
	for _, e := range m.execs {
		e.running.Store(false)
	}
	m.wg.Wait()

	m.logger.Info().Log("machines stopped")
	return nil
}
