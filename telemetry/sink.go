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

// Package telemetry receives one Summary per control loop interval and
// forwards it to recorders: tally metrics, the rx/tx CSV file, the core-group
// growth log and the process log.
package telemetry

import (
	"time"

	"go.uber.org/multierr"
)

//go:generate mockgen -destination=telemetrytest/sink.go -package=telemetrytest go.uber.org/nicsched/telemetry Sink

// CPUDelay is the interval's queuing delay on one CPU.
type CPUDelay struct {
	CPU      uint32
	Packets  uint64
	AvgDelay time.Duration
}

// Summary describes one sampling interval.
type Summary struct {
	// Iteration counts intervals from zero.
	Iteration int
	// At is when the interval was sampled.
	At time.Time

	Received       uint64
	Transmitted    uint64
	Dropped        uint64
	Aborted        uint64
	RedirectFailed uint64

	// PerCPU lists the CPUs that transmitted during the interval, by CPU.
	PerCPU []CPUDelay
	// AvgDelay is the queuing delay averaged over every transmitted packet.
	AvgDelay time.Duration

	// CoreGroupSize is the active core-group size after the decision.
	CoreGroupSize uint32
	// Grew reports whether the decision added a CPU to the group.
	Grew bool
}

// Sink records interval summaries.
type Sink interface {
	Emit(Summary) error
	Close() error
}

type multiSink []Sink

// Multi fans every summary out to sinks in order. Errors from individual
// sinks are combined; one failing sink does not starve the others.
func Multi(sinks ...Sink) Sink {
	return multiSink(append([]Sink(nil), sinks...))
}

func (m multiSink) Emit(s Summary) error {
	var err error
	for _, sink := range m {
		err = multierr.Append(err, sink.Emit(s))
	}
	return err
}

func (m multiSink) Close() error {
	var err error
	for _, sink := range m {
		err = multierr.Append(err, sink.Close())
	}
	return err
}

type nopSink struct{}

// Nop discards every summary.
func Nop() Sink { return nopSink{} }

func (nopSink) Emit(Summary) error { return nil }

func (nopSink) Close() error { return nil }
