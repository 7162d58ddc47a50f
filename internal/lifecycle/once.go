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

// Package lifecycle makes Start and Stop of long-lived components
// idempotent and safe to call from several goroutines.
package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/atomic"
)

// State is a position in a component's lifecycle. States only move forward.
type State int32

const (
	// Idle components have not been started.
	Idle State = iota
	// Starting components are running their start function.
	Starting
	// Running components started successfully.
	Running
	// Stopping components are running their stop function.
	Stopping
	// Stopped components stopped successfully or were stopped before they
	// ever started.
	Stopped
	// Errored components failed to start or stop.
	Errored
)

var stateNames = map[State]string{
	Idle:     "idle",
	Starting: "starting",
	Running:  "running",
	Stopping: "stopping",
	Stopped:  "stopped",
	Errored:  "errored",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Once runs a start function and a stop function at most once each.
//
// Start blocks until the component is Running or has failed to start. Stop
// blocks until the component is Stopped or Errored. A Stop that arrives
// before any Start wins: the start function never runs.
type Once struct {
	state atomic.Int32
	err   atomic.Error

	started  chan struct{}
	stopping chan struct{}
	stopped  chan struct{}
}

// NewOnce returns an Idle Once.
func NewOnce() *Once {
	return &Once{
		started:  make(chan struct{}),
		stopping: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start runs f if this is the first call to Start and Stop has not been
// called. Later calls wait for the first and return its error.
func (o *Once) Start(f func() error) error {
	if !o.state.CAS(int32(Idle), int32(Starting)) {
		<-o.started
		return o.err.Load()
	}

	var err error
	if f != nil {
		err = f()
	}
	if err != nil {
		o.err.Store(err)
		o.state.Store(int32(Errored))
		close(o.stopping)
		close(o.stopped)
	} else {
		o.state.Store(int32(Running))
	}
	close(o.started)
	return err
}

// Stop runs f if the component is Running. Later calls wait for the first
// and return its error.
func (o *Once) Stop(f func() error) error {
	if o.state.CAS(int32(Idle), int32(Stopped)) {
		close(o.started)
		close(o.stopping)
		close(o.stopped)
		return nil
	}

	<-o.started
	if !o.state.CAS(int32(Running), int32(Stopping)) {
		<-o.stopped
		return o.err.Load()
	}
	close(o.stopping)

	var err error
	if f != nil {
		err = f()
	}
	if err != nil {
		o.err.Store(err)
		o.state.Store(int32(Errored))
	} else {
		o.state.Store(int32(Stopped))
	}
	close(o.stopped)
	return err
}

// WaitUntilRunning blocks until the component is Running. It fails if the
// component can no longer reach Running or ctx ends first.
func (o *Once) WaitUntilRunning(ctx context.Context) error {
	select {
	case <-o.started:
	case <-ctx.Done():
		return fmt.Errorf("waiting for start: %v", ctx.Err())
	}
	if s := o.State(); s != Running {
		return fmt.Errorf("component is %v, not running", s)
	}
	return nil
}

// Started closes once the component is Running or failed to start.
func (o *Once) Started() <-chan struct{} { return o.started }

// Stopping closes once the component began stopping.
func (o *Once) Stopping() <-chan struct{} { return o.stopping }

// Stopped closes once the component is Stopped or Errored.
func (o *Once) Stopped() <-chan struct{} { return o.stopped }

// State returns a state the component has at least reached.
func (o *Once) State() State { return State(o.state.Load()) }

// IsRunning reports whether the component is Running.
func (o *Once) IsRunning() bool { return o.State() == Running }
