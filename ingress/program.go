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

// Package ingress is the per-packet dispatcher. It runs on the receiving CPU
// for every frame the device delivers, filters benchmark traffic, stamps its
// arrival and redirects it to the worker of the CPU the policy selects.
package ingress

import (
	"errors"

	"go.uber.org/nicsched/internal/clock"
	"go.uber.org/nicsched/internal/sampledlogger"
	"go.uber.org/nicsched/packet"
	"go.uber.org/nicsched/policy"
	"go.uber.org/nicsched/state"
	"go.uber.org/nicsched/xdp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Option customizes a Program.
type Option interface {
	apply(*options)
}

type options struct {
	clock  clock.Clock
	logger *zap.Logger
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// Clock sets the source of ReachServer stamps.
func Clock(c clock.Clock) Option {
	return optionFunc(func(o *options) {
		o.clock = c
	})
}

// Logger sets the logger for dispatch diagnostics. Entries are rate limited.
func Logger(logger *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = logger
	})
}

// Program is the ingress dispatcher. It is safe to Run from any number of
// receiving goroutines at once.
//
// A frame for which Run returns xdp.Redirect belongs to the worker it was
// redirected to; the caller must not reuse its buffer.
type Program struct {
	port   uint16
	policy policy.Policy
	arena  *state.Arena
	clock  clock.Clock
	log    *sampledlogger.Logger
}

var _ xdp.Program = (*Program)(nil)

// New builds the dispatcher for benchmark traffic addressed to port.
func New(port uint16, p policy.Policy, arena *state.Arena, opts ...Option) (*Program, error) {
	if p == nil {
		return nil, errors.New("ingress program needs a policy")
	}
	if arena == nil {
		return nil, errors.New("ingress program needs shared state")
	}
	if port == 0 {
		return nil, errors.New("ingress program needs a benchmark port")
	}

	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.clock == nil {
		o.clock = clock.NewReal()
	}

	return &Program{
		port:   port,
		policy: p,
		arena:  arena,
		clock:  o.clock,
		log: sampledlogger.New(
			o.logger.Named("ingress"),
			sampledlogger.Clock(o.clock),
		),
	}, nil
}

// Port returns the benchmark port the program accepts.
func (p *Program) Port() uint16 { return p.port }

// Policy returns the dispatch policy.
func (p *Program) Policy() policy.Policy { return p.policy }

// Run dispatches one frame.
//
// Frames that fail format checks or are not addressed to the benchmark port
// pass untouched and leave every counter alone. Accepted frames count as
// received before any other outcome is decided.
func (p *Program) Run(frame []byte) xdp.Action {
	h, err := packet.Parse(frame)
	if err != nil || !packet.IsBenchmarkTraffic(frame, h, p.port) {
		return xdp.Pass
	}

	agg := p.arena.Aggregates
	agg.Received.Inc()
	h.StampReachServer(frame, p.clock.Nanotime())

	sel, err := p.policy.Select(h.Workload(frame))
	if err != nil {
		action := xdp.ActionFor(err)
		if action == xdp.Aborted {
			agg.Aborted.Inc()
			if ce := p.log.Check(zapcore.WarnLevel, "selected cpu is unavailable"); ce != nil {
				ce.Write(zap.Uint32("cpu", sel.CPU), zap.Uint32("slot", sel.Slot))
			}
			return action
		}
		agg.Dropped.Inc()
		if ce := p.log.Check(zapcore.DebugLevel, "cpu selection failed"); ce != nil {
			ce.Write(zap.Error(err))
		}
		return action
	}

	found, accepted := p.arena.CPUs.Redirect(sel.Key, frame)
	switch {
	case !found:
		agg.Dropped.Inc()
		if ce := p.log.Check(zapcore.WarnLevel, "cpu redirect table has no entry"); ce != nil {
			ce.Write(zap.Uint32("key", sel.Key), zap.Uint32("cpu", sel.CPU))
		}
		return xdp.Drop
	case !accepted:
		agg.Dropped.Inc()
		agg.RedirectFailed.Inc()
		if ce := p.log.Check(zapcore.WarnLevel, "cpu redirect rejected frame"); ce != nil {
			ce.Write(zap.Uint32("key", sel.Key), zap.Uint32("cpu", sel.CPU))
		}
		return xdp.Drop
	}
	return xdp.Redirect
}
