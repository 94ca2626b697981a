// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package machines

import (
	"fmt"
	"runtime"
	"time"

	"github.com/joeycumines/logiface"
)

// Defaults applied by New, see the corresponding options for details.
const (
	// DefaultPreemptionInterval is the period of the preemption clock.
	DefaultPreemptionInterval = 20 * time.Millisecond

	// DefaultIdleShutdownSamples is the number of consecutive all-idle
	// samples required before Shutdown stops the workers.
	DefaultIdleShutdownSamples = 20

	// DefaultIdleSamplePeriod is the interval between idle samples taken by
	// Shutdown.
	DefaultIdleSamplePeriod = 100 * time.Millisecond
)

// machinesOptions holds configuration options for Machines creation.
type machinesOptions struct {
	logger             *logiface.Logger[logiface.Event]
	maxProcs           int
	preemptionInterval time.Duration
	idleSamples        int
	idleSamplePeriod   time.Duration
	metricsEnabled     bool
}

// Option configures a Machines instance.
type Option interface {
	apply(*machinesOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyFunc func(*machinesOptions) error
}

func (o *optionImpl) apply(opts *machinesOptions) error {
	return o.applyFunc(opts)
}

// WithMaxProcs sets the number of worker threads, which is also the number
// of processor run queues. Defaults to runtime.GOMAXPROCS(0). Values less
// than 1 are an error.
func WithMaxProcs(n int) Option {
	return &optionImpl{func(opts *machinesOptions) error {
		if n < 1 {
			return fmt.Errorf("machines: max procs must be at least 1, got %d", n)
		}
		opts.maxProcs = n
		return nil
	}}
}

// WithPreemptionInterval sets the period of the preemption clock, which
// marks every worker's active routine preempt-requested each tick. See
// [Safepoint]. Defaults to [DefaultPreemptionInterval]. Non-positive values
// are an error.
func WithPreemptionInterval(d time.Duration) Option {
	return &optionImpl{func(opts *machinesOptions) error {
		if d <= 0 {
			return fmt.Errorf("machines: preemption interval must be positive, got %v", d)
		}
		opts.preemptionInterval = d
		return nil
	}}
}

// WithIdleShutdown tunes the idle-based termination heuristic used by
// [Machines.Shutdown]: the workers are stopped after samples consecutive
// observations, period apart, of a fully idle pool. Defaults to
// [DefaultIdleShutdownSamples] x [DefaultIdleSamplePeriod].
func WithIdleShutdown(samples int, period time.Duration) Option {
	return &optionImpl{func(opts *machinesOptions) error {
		if samples < 1 {
			return fmt.Errorf("machines: idle shutdown samples must be at least 1, got %d", samples)
		}
		if period <= 0 {
			return fmt.Errorf("machines: idle sample period must be positive, got %v", period)
		}
		opts.idleSamples = samples
		opts.idleSamplePeriod = period
		return nil
	}}
}

// WithLogger sets the structured logger used by the runtime. The logger may
// be nil (the default), which disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *machinesOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics enables runtime metrics collection, see [Machines.Metrics].
// This adds minimal overhead (atomic counter updates on scheduler events).
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *machinesOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveOptions applies Option instances to machinesOptions.
func resolveOptions(opts []Option) (*machinesOptions, error) {
	cfg := &machinesOptions{
		maxProcs:           runtime.GOMAXPROCS(0),
		preemptionInterval: DefaultPreemptionInterval,
		idleSamples:        DefaultIdleShutdownSamples,
		idleSamplePeriod:   DefaultIdleSamplePeriod,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
