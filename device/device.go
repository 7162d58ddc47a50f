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

// Package device defines the network devices nicsched attaches its ingress
// program to. A device delivers every received frame to the program on the
// receiving goroutine and sends the responses workers redirect to it.
package device

import (
	"go.uber.org/atomic"
	"go.uber.org/nicsched/state"
	"go.uber.org/nicsched/xdp"
)

// Device is a network device with an attach point for a per-packet program.
type Device interface {
	state.DeviceTarget

	// Name returns the interface name.
	Name() string

	// Attach starts delivering received frames to prog. A device runs at
	// most one program.
	Attach(prog xdp.Program) error

	// Stats returns the outcome counters of the attached program.
	Stats() Stats

	// Close detaches the program and releases the device.
	Close() error
}

// Stats counts program outcomes on a device.
type Stats struct {
	Received   uint64
	Passed     uint64
	Dropped    uint64
	Aborted    uint64
	Redirected uint64
	// Transmitted counts responses sent.
	Transmitted uint64
	// Overruns counts frames lost because no receive buffer was free.
	Overruns uint64
}

// Counters accumulates Stats from concurrent receive and transmit paths.
type Counters struct {
	received    atomic.Uint64
	passed      atomic.Uint64
	dropped     atomic.Uint64
	aborted     atomic.Uint64
	redirected  atomic.Uint64
	transmitted atomic.Uint64
	overruns    atomic.Uint64
}

// Transmitted counts one sent response.
func (c *Counters) Transmitted() { c.transmitted.Inc() }

// Overrun counts one frame lost for lack of a buffer.
func (c *Counters) Overrun() { c.overruns.Inc() }

// Stats reads the counters.
func (c *Counters) Stats() Stats {
	return Stats{
		Received:    c.received.Load(),
		Passed:      c.passed.Load(),
		Dropped:     c.dropped.Load(),
		Aborted:     c.aborted.Load(),
		Redirected:  c.redirected.Load(),
		Transmitted: c.transmitted.Load(),
		Overruns:    c.overruns.Load(),
	}
}

// Run hands frame to prog and counts the outcome. It reports whether the
// driver still owns the frame: a redirected frame belongs to its new target
// until that target transmits it.
func Run(prog xdp.Program, frame []byte, c *Counters) (xdp.Action, bool) {
	c.received.Inc()
	action := prog.Run(frame)
	switch action {
	case xdp.Redirect:
		c.redirected.Inc()
		return action, false
	case xdp.Pass:
		c.passed.Inc()
	case xdp.Aborted:
		c.aborted.Inc()
	default:
		c.dropped.Inc()
	}
	return action, true
}
