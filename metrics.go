package machines

import (
	"sync/atomic"
)

// metricsState holds the runtime counters. A nil *metricsState (metrics
// disabled) is valid; all update methods are nil-receiver safe so the hot
// paths need no branching at call sites.
type metricsState struct {
	spawned        atomic.Int64
	completed      atomic.Int64
	dispatches     atomic.Int64
	yields         atomic.Int64
	steals         atomic.Int64
	stolenRoutines atomic.Int64
	globalDrains   atomic.Int64
	drained        atomic.Int64
	preemptRounds  atomic.Int64
	handoffs       atomic.Int64
}

func (x *metricsState) addSpawned() {
	if x != nil {
		x.spawned.Add(1)
	}
}

func (x *metricsState) addCompleted() {
	if x != nil {
		x.completed.Add(1)
	}
}

func (x *metricsState) addDispatch() {
	if x != nil {
		x.dispatches.Add(1)
	}
}

func (x *metricsState) addYield() {
	if x != nil {
		x.yields.Add(1)
	}
}

func (x *metricsState) addSteal(routines int) {
	if x != nil {
		x.steals.Add(1)
		x.stolenRoutines.Add(int64(routines))
	}
}

func (x *metricsState) addGlobalDrain(routines int) {
	if x != nil {
		x.globalDrains.Add(1)
		x.drained.Add(int64(routines))
	}
}

func (x *metricsState) addPreemptRound() {
	if x != nil {
		x.preemptRounds.Add(1)
	}
}

func (x *metricsState) addHandoff() {
	if x != nil {
		x.handoffs.Add(1)
	}
}

// MetricsSnapshot is a point-in-time copy of the runtime counters, see
// [Machines.Metrics].
type MetricsSnapshot struct {
	// RoutinesSpawned is the number of routines submitted.
	RoutinesSpawned int64
	// RoutinesCompleted is the number of routines that ran to completion.
	RoutinesCompleted int64
	// Dispatches is the number of scheduler-to-routine switches.
	Dispatches int64
	// Yields is the number of routine-to-scheduler switches requested via
	// Yield (including those from channel retries and contended locks).
	Yields int64
	// Steals is the number of successful work-stealing attempts.
	Steals int64
	// StolenRoutines is the total number of routines moved by stealing.
	StolenRoutines int64
	// GlobalDrains is the number of times the global queue was drained by
	// a worker.
	GlobalDrains int64
	// GlobalDrained is the total number of routines moved out of the
	// global queue by workers.
	GlobalDrained int64
	// PreemptRounds is the number of preemption clock ticks delivered.
	PreemptRounds int64
	// ProcessorHandoffs is the number of idle-pool processor acquisitions.
	ProcessorHandoffs int64
}

// Metrics returns a snapshot of the runtime counters. The zero snapshot is
// returned when metrics are disabled (the default); enable collection with
// [WithMetrics].
func (m *Machines) Metrics() MetricsSnapshot {
	x := m.metrics
	if x == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		RoutinesSpawned:   x.spawned.Load(),
		RoutinesCompleted: x.completed.Load(),
		Dispatches:        x.dispatches.Load(),
		Yields:            x.yields.Load(),
		Steals:            x.steals.Load(),
		StolenRoutines:    x.stolenRoutines.Load(),
		GlobalDrains:      x.globalDrains.Load(),
		GlobalDrained:     x.drained.Load(),
		PreemptRounds:     x.preemptRounds.Load(),
		ProcessorHandoffs: x.handoffs.Load(),
	}
}
