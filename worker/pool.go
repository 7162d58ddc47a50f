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

package worker

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/nicsched/internal/lifecycle"
	"go.uber.org/nicsched/policy"
	"go.uber.org/nicsched/state"
)

// Pool owns one Worker per CPU a policy can route to and installs them in
// the CPU redirect table.
type Pool struct {
	arena   *state.Arena
	routes  []policy.Route
	workers []*Worker
	byCPU   map[uint32]*Worker
	once    *lifecycle.Once
}

// NewPool builds the workers for routes. Several keys may share a CPU; each
// CPU gets a single worker.
func NewPool(arena *state.Arena, routes []policy.Route, opts ...Option) (*Pool, error) {
	if arena == nil {
		return nil, errors.New("worker pool needs shared state")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}

	p := &Pool{
		arena:  arena,
		routes: append([]policy.Route(nil), routes...),
		byCPU:  make(map[uint32]*Worker, len(routes)),
		once:   lifecycle.NewOnce(),
	}
	var err error
	for _, r := range routes {
		if int(r.Key) >= arena.MaxCPUs() {
			err = multierr.Append(err, fmt.Errorf("route key %d is out of range [0, %d)", r.Key, arena.MaxCPUs()))
			continue
		}
		if _, ok := p.byCPU[r.CPU]; ok {
			continue
		}
		w, werr := newWorker(r.CPU, arena, o)
		if werr != nil {
			err = multierr.Append(err, werr)
			continue
		}
		p.byCPU[r.CPU] = w
		p.workers = append(p.workers, w)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Start starts every worker, then installs the routes. If any worker fails
// to start, those already running are stopped again.
func (p *Pool) Start() error {
	return p.once.Start(func() error {
		for i, w := range p.workers {
			if err := w.Start(); err != nil {
				err = fmt.Errorf("could not start worker for cpu %d: %v", w.CPU(), err)
				for _, started := range p.workers[:i] {
					err = multierr.Append(err, started.Stop())
				}
				return err
			}
		}
		var err error
		for _, r := range p.routes {
			err = multierr.Append(err, p.arena.CPUs.Update(r.Key, p.byCPU[r.CPU]))
		}
		if err != nil {
			for _, w := range p.workers {
				err = multierr.Append(err, w.Stop())
			}
		}
		return err
	})
}

// Stop removes the routes so no new frames arrive, then stops every worker.
func (p *Pool) Stop() error {
	return p.once.Stop(func() error {
		for _, r := range p.routes {
			p.arena.CPUs.Delete(r.Key)
		}
		var err error
		for _, w := range p.workers {
			err = multierr.Append(err, w.Stop())
		}
		return err
	})
}

// Worker returns the worker serving cpu.
func (p *Pool) Worker(cpu uint32) (*Worker, bool) {
	w, ok := p.byCPU[cpu]
	return w, ok
}

// Workers returns the workers in route order.
func (p *Pool) Workers() []*Worker {
	return append([]*Worker(nil), p.workers...)
}
