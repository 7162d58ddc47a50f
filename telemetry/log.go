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

package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type logSink struct {
	logger *zap.Logger
}

// NewLogSink logs a cycle summary per interval at info level.
func NewLogSink(logger *zap.Logger) Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logSink{logger: logger}
}

func (s logSink) Emit(sum Summary) error {
	s.logger.Info("cycle summary",
		zap.Int("iteration", sum.Iteration),
		zap.Uint64("received", sum.Received),
		zap.Uint64("transmitted", sum.Transmitted),
		zap.Uint64("dropped", sum.Dropped),
		zap.Uint64("aborted", sum.Aborted),
		zap.Duration("avgQueuingDelay", sum.AvgDelay),
		zap.Uint32("coreGroupSize", sum.CoreGroupSize),
		zap.Bool("grew", sum.Grew),
		zap.Array("cpus", cpuDelays(sum.PerCPU)),
	)
	return nil
}

// Close leaves syncing to the logger's owner.
func (s logSink) Close() error { return nil }

type cpuDelays []CPUDelay

func (ds cpuDelays) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, d := range ds {
		if err := enc.AppendObject(d); err != nil {
			return err
		}
	}
	return nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (d CPUDelay) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint32("cpu", d.CPU)
	enc.AddUint64("packets", d.Packets)
	enc.AddDuration("avgQueuingDelay", d.AvgDelay)
	return nil
}
