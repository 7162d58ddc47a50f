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

// Package server assembles a benchmark server from a config.Config: the
// shared state, the dispatch policy, one worker per CPU, the ingress program
// attached to the network device and the control loop with its telemetry.
package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/uber-go/tally"
	"go.uber.org/multierr"
	"go.uber.org/nicsched/config"
	"go.uber.org/nicsched/control"
	"go.uber.org/nicsched/device"
	"go.uber.org/nicsched/device/udpdev"
	"go.uber.org/nicsched/ingress"
	"go.uber.org/nicsched/internal/clock"
	"go.uber.org/nicsched/internal/lifecycle"
	"go.uber.org/nicsched/policy"
	"go.uber.org/nicsched/state"
	"go.uber.org/nicsched/telemetry"
	"go.uber.org/nicsched/worker"
	"go.uber.org/zap"
)

// Server is one benchmark server run.
type Server struct {
	cfg    config.Config
	logger *zap.Logger

	arena   *state.Arena
	policy  policy.Policy
	group   *state.CoreGroup
	pool    *worker.Pool
	program *ingress.Program
	loop    *control.Loop
	sink    telemetry.Sink
	dev     device.Device

	once *lifecycle.Once
}

// New validates cfg and builds every component. Nothing runs until Start.
func New(cfg config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	o := options{logger: zap.NewNop(), scope: tally.NoopScope}
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.clock == nil {
		o.clock = clock.NewReal()
	}

	arena, err := state.NewArena(cfg.CPUs)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:    cfg,
		logger: o.logger,
		arena:  arena,
		dev:    o.device,
		once:   lifecycle.NewOnce(),
	}

	decider, err := s.buildPolicy()
	if err != nil {
		return nil, err
	}

	s.pool, err = worker.NewPool(arena, s.policy.Routes(),
		worker.QueueSize(cfg.QueueSize),
		worker.Cost(worker.LinearCost(uint32(cfg.CostFactor))),
		worker.Pin(cfg.PinWorkers),
		worker.Clock(o.clock),
		worker.Logger(o.logger.Named("worker")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build workers: %v", err)
	}

	s.program, err = ingress.New(uint16(cfg.Port), s.policy, arena,
		ingress.Clock(o.clock),
		ingress.Logger(o.logger),
	)
	if err != nil {
		return nil, err
	}

	s.sink, err = buildSinks(cfg.Telemetry, o)
	if err != nil {
		return nil, err
	}

	s.loop, err = control.New(arena, decider, s.sink,
		control.Interval(cfg.Interval),
		control.Duration(cfg.RunDuration()),
		control.Clock(o.clock),
		control.Logger(o.logger),
	)
	if err != nil {
		return nil, multierr.Append(err, s.sink.Close())
	}
	return s, nil
}

func (s *Server) buildPolicy() (control.Decider, error) {
	kind, err := s.cfg.PolicyKind()
	if err != nil {
		return nil, err
	}
	switch kind {
	case policy.PlainRR:
		roster, err := state.NewRoster(s.cfg.Roster(), s.cfg.CPUs)
		if err != nil {
			return nil, err
		}
		if s.policy, err = policy.NewRoundRobin(roster); err != nil {
			return nil, err
		}
		return control.Fixed(roster.Len()), nil

	case policy.ClassSeparatedRR:
		shortCPUs, longCPUs := s.cfg.ClassRosters()
		short, err := state.NewRoster(shortCPUs, s.cfg.CPUs)
		if err != nil {
			return nil, err
		}
		long, err := state.NewRoster(longCPUs, s.cfg.CPUs)
		if err != nil {
			return nil, err
		}
		s.policy, err = policy.NewClassSeparated(short, long, policy.Threshold(uint8(s.cfg.ClassThreshold)))
		if err != nil {
			return nil, err
		}
		return control.Fixed(short.Len() + long.Len()), nil

	case policy.DynamicAlloc:
		d := s.cfg.Dynamic
		roster, err := state.NewRoster(state.Sequence(0, d.MaxCPUs), s.cfg.CPUs)
		if err != nil {
			return nil, err
		}
		if s.group, err = state.NewCoreGroup(uint32(d.MinCPUs), uint32(d.MaxCPUs), uint32(d.MinCPUs)); err != nil {
			return nil, err
		}
		if s.policy, err = policy.NewDynamic(roster, s.group); err != nil {
			return nil, err
		}
		return control.NewGrower(s.group, d.DelayThreshold), nil
	}
	return nil, fmt.Errorf("unsupported policy %v", kind)
}

func buildSinks(cfg config.Telemetry, o options) (_ telemetry.Sink, err error) {
	sinks := []telemetry.Sink{
		telemetry.NewLogSink(o.logger.Named("telemetry")),
		telemetry.NewTallySink(o.scope),
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, telemetry.Multi(sinks...).Close())
		}
	}()

	if cfg.CSV != "" {
		f, err := create(cfg.CSV)
		if err != nil {
			return nil, err
		}
		csv, err := telemetry.NewCSVSink(f)
		if err != nil {
			return nil, multierr.Append(err, f.Close())
		}
		sinks = append(sinks, csv)
	}
	if cfg.GrowthLog != "" {
		f, err := create(cfg.GrowthLog)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, telemetry.NewGrowthLog(f))
	}
	sinks = append(sinks, o.sinks...)
	return telemetry.Multi(sinks...), nil
}

func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %q: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %q: %v", path, err)
	}
	return f, nil
}

// Start opens the device if none was given, starts the workers, attaches
// the ingress program and starts the control loop.
func (s *Server) Start() error {
	return s.once.Start(s.start)
}

func (s *Server) start() (err error) {
	// undo runs in reverse when a later step fails.
	var undo []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			err = multierr.Append(err, undo[i]())
		}
		err = multierr.Append(err, s.sink.Close())
	}()

	if s.dev == nil {
		dev, err := udpdev.New(s.cfg.Interface, uint16(s.cfg.Port), udpdev.Logger(s.logger))
		if err != nil {
			return err
		}
		s.dev = dev
	}
	undo = append(undo, s.dev.Close)

	if err := s.pool.Start(); err != nil {
		return err
	}
	undo = append(undo, s.pool.Stop)

	for _, key := range []uint32{worker.EgressKey, worker.OwnerKey} {
		if err := s.arena.Devices.Update(key, s.dev); err != nil {
			return err
		}
	}
	undo = append(undo, func() error {
		s.arena.Detach()
		return nil
	})

	if err := s.dev.Attach(s.program); err != nil {
		return fmt.Errorf("failed to attach to %q: %v", s.dev.Name(), err)
	}
	if err := s.loop.Start(); err != nil {
		return err
	}

	s.logger.Info("benchmark server started",
		zap.String("ifname", s.dev.Name()),
		zap.Int("port", s.cfg.Port),
		zap.Stringer("policy", s.policy.Kind()),
		zap.Int("cpus", s.cfg.CPUs),
		zap.Duration("duration", s.cfg.RunDuration()),
	)
	return nil
}

// Stop detaches the program from the device, stops the control loop and
// the workers, tears down the shared tables and closes the telemetry sinks.
func (s *Server) Stop() error {
	if s.once.State() == lifecycle.Idle {
		// Never started, so only the sinks opened by New are live.
		return multierr.Append(s.once.Stop(nil), s.sink.Close())
	}
	return s.once.Stop(func() error {
		err := s.dev.Close()
		err = multierr.Append(err, s.loop.Stop())
		err = multierr.Append(err, s.pool.Stop())
		s.arena.Detach()
		err = multierr.Append(err, s.sink.Close())

		stats := s.dev.Stats()
		s.logger.Info("benchmark server stopped",
			zap.Uint64("received", stats.Received),
			zap.Uint64("redirected", stats.Redirected),
			zap.Uint64("transmitted", stats.Transmitted),
			zap.Uint64("aborted", stats.Aborted),
			zap.Uint64("overruns", stats.Overruns),
		)
		return err
	})
}

// Done is closed when the configured run duration has elapsed.
func (s *Server) Done() <-chan struct{} { return s.loop.Done() }

// Arena returns the shared dispatch state.
func (s *Server) Arena() *state.Arena { return s.arena }

// Policy returns the dispatch policy.
func (s *Server) Policy() policy.Policy { return s.policy }

// CoreGroup returns the core group of the dynamic-alloc policy, or nil.
func (s *Server) CoreGroup() *state.CoreGroup { return s.group }

// Program returns the ingress program.
func (s *Server) Program() *ingress.Program { return s.program }

// Loop returns the control loop.
func (s *Server) Loop() *control.Loop { return s.loop }

// Workers returns the worker pool.
func (s *Server) Workers() *worker.Pool { return s.pool }

var errNotStarted = errors.New("server has no device until it starts")

// Device returns the device the server is attached to.
func (s *Server) Device() (device.Device, error) {
	if s.dev == nil {
		return nil, errNotStarted
	}
	return s.dev, nil
}
