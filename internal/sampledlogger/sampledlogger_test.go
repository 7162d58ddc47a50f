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

package sampledlogger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/nicsched/internal/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerRateLimits(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	fake := clock.NewFake()
	l := New(zap.New(core), Interval(time.Second), Burst(2), Clock(fake))

	for i := 0; i < 5; i++ {
		l.Warn("cpu is unavailable", zap.Int("i", i))
	}
	require.Equal(t, 2, logs.Len())

	fake.Add(time.Second)
	l.Warn("cpu is unavailable", zap.Int("i", 5))

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, map[string]interface{}{
		"suppressed": uint64(3),
		"i":          int64(5),
	}, entries[2].ContextMap())
}

func TestLoggerRespectsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	l := New(zap.New(core), Burst(1), Clock(clock.NewFake()))

	l.Warn("ignored")
	assert.Nil(t, l.Check(zapcore.InfoLevel, "ignored"))
	l.Error("kept")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
}

func TestNilLogger(t *testing.T) {
	l := New(nil)
	l.Error("nowhere")
}

func TestSuppressedCheckDoesNotAllocate(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	fake := clock.NewFake()
	l := New(zap.New(core), Burst(1), Clock(fake))
	l.Warn("first")

	allocs := testing.AllocsPerRun(100, func() {
		if ce := l.Check(zapcore.WarnLevel, "suppressed"); ce != nil {
			ce.Write(zap.Int("unexpected", 1))
		}
	})
	assert.Zero(t, allocs)
}
