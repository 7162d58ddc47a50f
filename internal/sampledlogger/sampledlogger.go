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

// Package sampledlogger rate-limits diagnostics emitted from the data plane
// so a misconfigured roster cannot flood the logs at line rate.
package sampledlogger

import (
	"time"

	"go.uber.org/atomic"
	"go.uber.org/nicsched/internal/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

const (
	_defaultInterval = time.Second
	_defaultBurst    = 5
)

// Logger writes at most Burst entries at once and one entry per Interval
// after that. Suppressed entries are counted and reported on the next entry
// that gets through.
type Logger struct {
	logger     *zap.Logger
	limiter    *rate.Limiter
	clock      clock.Clock
	suppressed atomic.Uint64
}

// Option customizes a Logger.
type Option interface {
	apply(*options)
}

type options struct {
	interval time.Duration
	burst    int
	clock    clock.Clock
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// Interval sets the steady-state spacing between entries.
func Interval(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.interval = d
	})
}

// Burst sets how many entries may be written back to back.
func Burst(n int) Option {
	return optionFunc(func(o *options) {
		o.burst = n
	})
}

// Clock sets the time source consulted by the limiter.
func Clock(c clock.Clock) Option {
	return optionFunc(func(o *options) {
		o.clock = c
	})
}

// New wraps logger. A nil logger is replaced with zap.NewNop().
func New(logger *zap.Logger, opts ...Option) *Logger {
	o := options{
		interval: _defaultInterval,
		burst:    _defaultBurst,
	}
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.clock == nil {
		o.clock = clock.NewReal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(o.interval), o.burst),
		clock:   o.clock,
	}
}

// Check returns a CheckedEntry if an entry at lvl is enabled and the rate
// limit allows it, or nil. Fields are only built by callers that got an
// entry back, which keeps suppressed paths free of allocations:
//
//	if ce := l.Check(zap.WarnLevel, "cpu is unavailable"); ce != nil {
//		ce.Write(zap.Uint32("cpu", cpu))
//	}
func (l *Logger) Check(lvl zapcore.Level, msg string) *zapcore.CheckedEntry {
	if !l.logger.Core().Enabled(lvl) {
		return nil
	}
	if !l.limiter.AllowN(l.clock.Now(), 1) {
		l.suppressed.Inc()
		return nil
	}
	logger := l.logger
	if n := l.suppressed.Swap(0); n > 0 {
		logger = logger.With(zap.Uint64("suppressed", n))
	}
	return logger.Check(lvl, msg)
}

// Warn writes a rate-limited warning.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	if ce := l.Check(zapcore.WarnLevel, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Error writes a rate-limited error.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	if ce := l.Check(zapcore.ErrorLevel, msg); ce != nil {
		ce.Write(fields...)
	}
}
