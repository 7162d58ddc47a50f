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

package server

import (
	"github.com/uber-go/tally"
	"go.uber.org/nicsched/device"
	"go.uber.org/nicsched/internal/clock"
	"go.uber.org/nicsched/telemetry"
	"go.uber.org/zap"
)

// Option customizes a Server.
type Option interface {
	apply(*options)
}

type options struct {
	logger *zap.Logger
	scope  tally.Scope
	clock  clock.Clock
	device device.Device
	sinks  []telemetry.Sink
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// Logger sets the logger every component logs to.
func Logger(logger *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = logger
	})
}

// Scope sets the tally scope interval summaries are reported to.
func Scope(scope tally.Scope) Option {
	return optionFunc(func(o *options) {
		o.scope = scope
	})
}

// Clock sets the time source of the data plane and the control loop.
func Clock(c clock.Clock) Option {
	return optionFunc(func(o *options) {
		o.clock = c
	})
}

// Device attaches the server to dev instead of opening a UDP device on the
// configured interface. The server closes dev when it stops.
func Device(dev device.Device) Option {
	return optionFunc(func(o *options) {
		o.device = dev
	})
}

// Sink adds a telemetry sink alongside the configured ones.
func Sink(sink telemetry.Sink) Option {
	return optionFunc(func(o *options) {
		o.sinks = append(o.sinks, sink)
	})
}
