// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package control runs the userspace side of the benchmark: once per
// interval it samples the data plane's telemetry, lets a Decider resize the
// core group, resets the counters it read and emits a summary.
//
// The loop only reads counters and writes the core-group size, so it never
// blocks packet processing.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/nicsched/internal/clock"
	"go.uber.org/nicsched/internal/lifecycle"
	"go.uber.org/nicsched/state"
	"go.uber.org/nicsched/telemetry"
	"go.uber.org/zap"
)

// DefaultInterval is the sampling interval.
const DefaultInterval = time.Second

// State is the position of the loop in its cycle.
type State int32

const (
	// Idle loops have not started.
	Idle State = iota
	// Sampling loops are waiting out an interval and then reading counters.
	Sampling
	// Deciding loops are handing the interval's average to the Decider.
	Deciding
	// Resetting loops are clearing the counters they read and emitting the
	// summary.
	Resetting
	// Done loops ran for their duration or were stopped.
	Done
)

var stateNames = map[State]string{
	Idle:      "idle",
	Sampling:  "sampling",
	Deciding:  "deciding",
	Resetting: "resetting",
	Done:      "done",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Option customizes a Loop.
type Option interface {
	apply(*options)
}

type options struct {
	interval time.Duration
	duration time.Duration
	clock    clock.Clock
	logger   *zap.Logger
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// Interval sets the sampling interval.
//
// Defaults to DefaultInterval.
func Interval(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.interval = d
	})
}

// Duration limits the run to duration/interval intervals. Without it the
// loop runs until stopped.
func Duration(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.duration = d
	})
}

// Clock sets the time source for intervals and summary timestamps.
func Clock(c clock.Clock) Option {
	return optionFunc(func(o *options) {
		o.clock = c
	})
}

// Logger sets the logger.
func Logger(logger *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = logger
	})
}

// Loop is the control loop. There is one per benchmark run.
type Loop struct {
	arena   *state.Arena
	decider Decider
	sink    telemetry.Sink

	interval   time.Duration
	iterations int
	clock      clock.Clock
	logger     *zap.Logger

	state atomic.Int32
	once  *lifecycle.Once
	stop  chan struct{}
	done  chan struct{}

	// scratch is reused by every Snapshot. Only the loop goroutine uses it.
	scratch []state.CPUSample
}

// New builds a control loop over arena.
func New(arena *state.Arena, decider Decider, sink telemetry.Sink, opts ...Option) (*Loop, error) {
	if arena == nil {
		return nil, errors.New("control loop needs shared state")
	}
	if decider == nil {
		return nil, errors.New("control loop needs a decider")
	}
	o := options{interval: DefaultInterval, logger: zap.NewNop()}
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", o.interval)
	}
	if o.duration < 0 {
		return nil, fmt.Errorf("duration must not be negative, got %v", o.duration)
	}
	if o.clock == nil {
		o.clock = clock.NewReal()
	}
	if sink == nil {
		sink = telemetry.Nop()
	}

	iterations := 0
	if o.duration > 0 {
		iterations = int(o.duration / o.interval)
		if iterations == 0 {
			iterations = 1
		}
	}
	return &Loop{
		arena:      arena,
		decider:    decider,
		sink:       sink,
		interval:   o.interval,
		iterations: iterations,
		clock:      o.clock,
		logger:     o.logger.Named("control"),
		once:       lifecycle.NewOnce(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		scratch:    make([]state.CPUSample, 0, arena.MaxCPUs()),
	}, nil
}

// State returns the current state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Iterations returns the number of intervals the loop runs, or zero if it
// runs until stopped.
func (l *Loop) Iterations() int { return l.iterations }

// Done is closed once a loop launched by Start has finished.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Start runs the loop in the background.
func (l *Loop) Start() error {
	return l.once.Start(func() error {
		go func() {
			defer close(l.done)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				select {
				case <-l.stop:
					cancel()
				case <-ctx.Done():
				}
			}()
			if err := l.Run(ctx); err != nil && err != context.Canceled {
				l.logger.Error("control loop failed", zap.Error(err))
			}
		}()
		return nil
	})
}

// Stop ends a loop started with Start and waits for it.
func (l *Loop) Stop() error {
	return l.once.Stop(func() error {
		close(l.stop)
		<-l.done
		return nil
	})
}

// Run executes intervals until the configured duration has elapsed or ctx is
// done. It returns ctx.Err() in the latter case.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(Sampling)
	defer l.setState(Done)

	l.logger.Info("control loop started",
		zap.Duration("interval", l.interval),
		zap.Int("iterations", l.iterations))

	timer := l.clock.Timer(l.interval)
	defer timer.Stop()
	for i := 0; l.iterations == 0 || i < l.iterations; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
		}
		l.Step(i)
		timer.Reset(l.interval)
	}
	l.logger.Info("control loop finished", zap.Int("iterations", l.iterations))
	return nil
}

// Step runs one sample, decide and reset cycle and returns its summary.
func (l *Loop) Step(iteration int) telemetry.Summary {
	l.setState(Sampling)
	samples := l.arena.Telemetry.Snapshot(l.scratch[:0])
	agg := l.arena.Aggregates.Snapshot()
	at := l.clock.Now()

	l.setState(Deciding)
	avg := AverageQueuingDelay(samples)
	decision := l.decider.Decide(avg)
	if decision.Grew {
		l.logger.Info("grew core group",
			zap.Uint32("size", decision.CoreGroupSize),
			zap.Duration("avgQueuingDelay", avg))
	}

	l.setState(Resetting)
	l.arena.Telemetry.Consume(samples)
	l.arena.Aggregates.Consume(agg)

	sum := telemetry.Summary{
		Iteration:      iteration,
		At:             at,
		Received:       agg.Received,
		Transmitted:    agg.Transmitted,
		Dropped:        agg.Dropped,
		Aborted:        agg.Aborted,
		RedirectFailed: agg.RedirectFailed,
		PerCPU:         perCPU(samples),
		AvgDelay:       avg,
		CoreGroupSize:  decision.CoreGroupSize,
		Grew:           decision.Grew,
	}
	if err := l.sink.Emit(sum); err != nil {
		l.logger.Warn("could not emit cycle summary", zap.Int("iteration", iteration), zap.Error(err))
	}
	l.setState(Sampling)
	return sum
}

func (l *Loop) setState(s State) { l.state.Store(int32(s)) }

func perCPU(samples []state.CPUSample) []telemetry.CPUDelay {
	var delays []telemetry.CPUDelay
	for _, s := range samples {
		if s.TxPackets == 0 {
			continue
		}
		delays = append(delays, telemetry.CPUDelay{
			CPU:      s.CPU,
			Packets:  s.TxPackets,
			AvgDelay: time.Duration(s.QueueDelayNs / s.TxPackets),
		})
	}
	return delays
}
