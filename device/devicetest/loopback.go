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

// Package devicetest provides an in-memory device for exercising the data
// plane without sockets.
package devicetest

import (
	"errors"
	"sync"

	"go.uber.org/nicsched/device"
	"go.uber.org/nicsched/xdp"
)

var errClosed = errors.New("loopback device is closed")

// Loopback is a Device whose received frames are injected by tests and whose
// transmitted frames are captured on a channel.
type Loopback struct {
	name     string
	counters device.Counters
	sent     chan []byte

	mu     sync.RWMutex
	prog   xdp.Program
	closed bool
}

var _ device.Device = (*Loopback)(nil)

// NewLoopback returns a loopback device able to buffer size responses.
// Transmit fails once the buffer is full.
func NewLoopback(name string, size int) *Loopback {
	return &Loopback{name: name, sent: make(chan []byte, size)}
}

// Name returns the device name.
func (l *Loopback) Name() string { return l.name }

// Attach installs prog.
func (l *Loopback) Attach(prog xdp.Program) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errClosed
	}
	if l.prog != nil {
		return errors.New("a program is already attached")
	}
	l.prog = prog
	return nil
}

// Inject delivers frame to the attached program as if it had arrived on the
// wire. Without a program the frame passes.
func (l *Loopback) Inject(frame []byte) xdp.Action {
	l.mu.RLock()
	prog := l.prog
	l.mu.RUnlock()
	if prog == nil {
		return xdp.Pass
	}
	action, _ := device.Run(prog, frame, &l.counters)
	return action
}

// Transmit captures frame.
func (l *Loopback) Transmit(frame []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return errClosed
	}
	select {
	case l.sent <- frame:
		l.counters.Transmitted()
		return nil
	default:
		return errors.New("loopback transmit buffer is full")
	}
}

// Sent returns the channel transmitted frames are captured on.
func (l *Loopback) Sent() <-chan []byte { return l.sent }

// Stats returns the device counters.
func (l *Loopback) Stats() device.Stats { return l.counters.Stats() }

// Close detaches the program. Later transmits fail.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prog = nil
	l.closed = true
	return nil
}
