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

// Package worker runs the second stage of the data plane: one goroutine per
// CPU that drains the frames the ingress program redirected to it, simulates
// serving each request, records its queuing delay and bounces the response
// back out of the device.
package worker

import (
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/nicsched/internal/affinity"
	"go.uber.org/nicsched/internal/clock"
	"go.uber.org/nicsched/internal/lifecycle"
	"go.uber.org/nicsched/internal/sampledlogger"
	"go.uber.org/nicsched/packet"
	"go.uber.org/nicsched/state"
	"go.uber.org/nicsched/xdp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// DefaultQueueSize bounds the frames waiting for one CPU.
	DefaultQueueSize = 4096

	// EgressKey is the device redirect table entry responses leave through.
	EgressKey = 0

	// OwnerKey is the device redirect table entry for the device that
	// received the frames. Frames dropped before reaching a device are
	// released back to it when it implements state.FrameReleaser.
	OwnerKey = 1
)

// Option customizes a Worker or a Pool.
type Option interface {
	apply(*options)
}

type options struct {
	queueSize int
	cost      CostModel
	clock     clock.Clock
	logger    *zap.Logger
	pin       bool
}

func defaultOptions() options {
	return options{
		queueSize: DefaultQueueSize,
		cost:      LinearCost(DefaultCostFactor),
		logger:    zap.NewNop(),
	}
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// QueueSize bounds the number of frames waiting for the worker.
func QueueSize(n int) Option {
	return optionFunc(func(o *options) {
		o.queueSize = n
	})
}

// Cost sets the service cost model.
func Cost(m CostModel) Option {
	return optionFunc(func(o *options) {
		o.cost = m
	})
}

// Clock sets the source of LeaveServer stamps.
func Clock(c clock.Clock) Option {
	return optionFunc(func(o *options) {
		o.clock = c
	})
}

// Logger sets the logger. Per-frame diagnostics are rate limited.
func Logger(logger *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = logger
	})
}

// Pin locks each worker goroutine to an OS thread bound to the worker's CPU.
func Pin(pin bool) Option {
	return optionFunc(func(o *options) {
		o.pin = pin
	})
}

// Worker serves the frames redirected to one CPU.
type Worker struct {
	cpu      uint32
	queue    chan []byte
	counters *state.CPUCounters
	agg      *state.Aggregates
	devices  *state.DevMap
	cost     CostModel
	clock    clock.Clock
	logger   *zap.Logger
	log      *sampledlogger.Logger
	pin      bool

	once *lifecycle.Once
	stop chan struct{}
	done chan struct{}

	// spun keeps Spin's result live. Only the serving goroutine writes it.
	spun uint32
}

var _ state.CPUTarget = (*Worker)(nil)

// New builds the worker for cpu. It reports into cpu's telemetry slot.
func New(cpu uint32, arena *state.Arena, opts ...Option) (*Worker, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}
	return newWorker(cpu, arena, o)
}

func newWorker(cpu uint32, arena *state.Arena, o options) (*Worker, error) {
	if arena == nil {
		return nil, errors.New("worker needs shared state")
	}
	counters, ok := arena.Telemetry.Slot(cpu)
	if !ok {
		return nil, fmt.Errorf("cpu %d has no telemetry slot", cpu)
	}
	if o.queueSize <= 0 {
		return nil, fmt.Errorf("queue size must be positive, got %d", o.queueSize)
	}
	if o.cost == nil {
		return nil, errors.New("worker needs a cost model")
	}
	if o.clock == nil {
		o.clock = clock.NewReal()
	}

	logger := o.logger.With(zap.Uint32("cpu", cpu))
	return &Worker{
		cpu:      cpu,
		queue:    make(chan []byte, o.queueSize),
		counters: counters,
		agg:      arena.Aggregates,
		devices:  arena.Devices,
		cost:     o.cost,
		clock:    o.clock,
		logger:   logger,
		log:      sampledlogger.New(logger, sampledlogger.Clock(o.clock)),
		pin:      o.pin,
		once:     lifecycle.NewOnce(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// CPU returns the CPU the worker serves.
func (w *Worker) CPU() uint32 { return w.cpu }

// Backlog returns the number of queued frames.
func (w *Worker) Backlog() int { return len(w.queue) }

// Enqueue hands frame to the worker. It never blocks and reports false if
// the queue is full.
func (w *Worker) Enqueue(frame []byte) bool {
	select {
	case w.queue <- frame:
		return true
	default:
		return false
	}
}

// Start launches the serving goroutine. With pinning enabled it fails if the
// goroutine's thread cannot be bound to the worker's CPU.
func (w *Worker) Start() error {
	return w.once.Start(func() error {
		ready := make(chan error, 1)
		go w.run(ready)
		return <-ready
	})
}

// Stop ends the serving goroutine and waits for it. Frames still queued are
// abandoned.
func (w *Worker) Stop() error {
	return w.once.Stop(func() error {
		close(w.stop)
		<-w.done
		return nil
	})
}

func (w *Worker) run(ready chan<- error) {
	defer close(w.done)

	if w.pin {
		// The thread is never unlocked so it exits with the goroutine
		// instead of returning to the scheduler still pinned.
		runtime.LockOSThread()
		if err := affinity.Pin(int(w.cpu)); err != nil {
			ready <- err
			return
		}
		w.logger.Debug("pinned worker thread")
	}
	ready <- nil

	for {
		select {
		case <-w.stop:
			return
		case frame := <-w.queue:
			w.Process(frame)
		}
	}
}

// Process serves one frame: it stamps its departure, spins for its cost,
// swaps it into a response and transmits it. Queuing delay and transmit
// counts are credited only once the device accepts the response. Failures
// drop the frame and are never retried.
func (w *Worker) Process(frame []byte) xdp.Action {
	h, err := packet.Parse(frame)
	if err != nil {
		w.release(frame)
		return xdp.ActionFor(err)
	}

	leave := w.clock.Nanotime()
	h.StampLeaveServer(frame, leave)
	var delay uint64
	if reach := h.ReachServer(frame); leave > reach {
		delay = leave - reach
	}

	w.spun ^= Spin(w.cost(h.Workload(frame)))

	packet.SwapAndChecksum(frame, h)

	dev, ok := w.devices.Lookup(EgressKey)
	if !ok {
		w.agg.Dropped.Inc()
		w.release(frame)
		if ce := w.log.Check(zapcore.WarnLevel, "device redirect table has no egress entry"); ce != nil {
			ce.Write()
		}
		return xdp.Drop
	}
	// Transmit consumes the frame whether or not it succeeds.
	if err := dev.Transmit(frame); err != nil {
		w.agg.Dropped.Inc()
		w.agg.RedirectFailed.Inc()
		if ce := w.log.Check(zapcore.WarnLevel, "device rejected response"); ce != nil {
			ce.Write(zap.Error(err))
		}
		return xdp.Drop
	}

	if delay > 0 {
		w.counters.QueueDelayNs.Add(delay)
	}
	w.counters.TxPackets.Inc()
	w.agg.Transmitted.Inc()
	return xdp.Redirect
}

// release hands a frame that will not be transmitted back to the device it
// came from.
func (w *Worker) release(frame []byte) {
	dev, ok := w.devices.Lookup(OwnerKey)
	if !ok {
		return
	}
	if r, ok := dev.(state.FrameReleaser); ok {
		r.Release(frame)
	}
}
