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
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var _summary = Summary{
	Iteration:   3,
	At:          time.Unix(10, 5),
	Received:    100,
	Transmitted: 98,
	Dropped:     1,
	Aborted:     1,
	PerCPU: []CPUDelay{
		{CPU: 0, Packets: 50, AvgDelay: 10 * time.Microsecond},
		{CPU: 3, Packets: 48, AvgDelay: 30 * time.Microsecond},
	},
	AvgDelay:      20 * time.Microsecond,
	CoreGroupSize: 3,
	Grew:          true,
}

func counterValue(t *testing.T, snap tally.Snapshot, name string, tags map[string]string) int64 {
	for _, c := range snap.Counters() {
		if c.Name() == name && assert.ObjectsAreEqual(tags, c.Tags()) {
			return c.Value()
		}
	}
	t.Fatalf("no counter %q with tags %v", name, tags)
	return 0
}

func gaugeValue(t *testing.T, snap tally.Snapshot, name string, tags map[string]string) float64 {
	for _, g := range snap.Gauges() {
		if g.Name() == name && assert.ObjectsAreEqual(tags, g.Tags()) {
			return g.Value()
		}
	}
	t.Fatalf("no gauge %q with tags %v", name, tags)
	return 0
}

func TestTallySink(t *testing.T) {
	scope := tally.NewTestScope("" /* prefix */, nil /* tags */)
	sink := NewTallySink(scope)

	require.NoError(t, sink.Emit(_summary))
	second := _summary
	second.Grew = false
	second.CoreGroupSize = 3
	second.PerCPU = second.PerCPU[:1]
	require.NoError(t, sink.Emit(second))
	require.NoError(t, sink.Close())

	snap := scope.Snapshot()
	noTags := map[string]string{}
	assert.Equal(t, int64(200), counterValue(t, snap, "dispatch.received", noTags))
	assert.Equal(t, int64(196), counterValue(t, snap, "dispatch.transmitted", noTags))
	assert.Equal(t, int64(2), counterValue(t, snap, "dispatch.aborted", noTags))
	assert.Equal(t, int64(1), counterValue(t, snap, "dispatch.core_group_grown", noTags))
	assert.Equal(t, float64(3), gaugeValue(t, snap, "dispatch.core_group_size", noTags))
	assert.Equal(t, float64(20*time.Microsecond), gaugeValue(t, snap, "dispatch.avg_queuing_delay_ns", noTags))

	assert.Equal(t, int64(100), counterValue(t, snap, "dispatch.cpu_transmitted", map[string]string{"cpu": "0"}))
	assert.Equal(t, int64(48), counterValue(t, snap, "dispatch.cpu_transmitted", map[string]string{"cpu": "3"}))
	assert.Equal(t, float64(30*time.Microsecond), gaugeValue(t, snap, "dispatch.cpu_avg_queuing_delay_ns", map[string]string{"cpu": "3"}))
}

func TestTallySinkNilScope(t *testing.T) {
	sink := NewTallySink(nil)
	assert.NoError(t, sink.Emit(_summary))
}

func TestCSVSink(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewCSVSink(&buf)
	require.NoError(t, err)
	assert.Equal(t, "rx,tx\n", buf.String(), "header is written up front")

	require.NoError(t, sink.Emit(_summary))
	require.NoError(t, sink.Emit(Summary{Received: 7, Transmitted: 6}))
	require.NoError(t, sink.Close())
	assert.Equal(t, "rx,tx\n100,98\n7,6\n", buf.String())
}

type closeRecorder struct {
	bytes.Buffer
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestGrowthLog(t *testing.T) {
	var w closeRecorder
	sink := NewGrowthLog(&w)

	require.NoError(t, sink.Emit(Summary{At: time.Unix(1, 0), CoreGroupSize: 2}))
	require.NoError(t, sink.Emit(_summary))
	require.NoError(t, sink.Close())

	assert.Equal(t, "10000000005 3\n", w.String(), "only growth is logged")
	assert.True(t, w.closed)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Emit(_summary))
	require.NoError(t, sink.Close())

	entries := logs.FilterMessage("cycle summary").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(3), fields["iteration"])
	assert.Equal(t, uint64(100), fields["received"])
	assert.Equal(t, uint32(3), fields["coreGroupSize"])
	assert.Equal(t, true, fields["grew"])
	assert.Len(t, fields["cpus"], 2)
}

type failingSink struct {
	err    error
	emits  int
	closed bool
}

func (f *failingSink) Emit(Summary) error {
	f.emits++
	return f.err
}

func (f *failingSink) Close() error {
	f.closed = true
	return f.err
}

func TestMulti(t *testing.T) {
	first := &failingSink{err: errors.New("first")}
	second := &failingSink{}
	third := &failingSink{err: errors.New("third")}
	sink := Multi(first, second, third)

	err := sink.Emit(_summary)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, 1, second.emits, "a failing sink does not starve the rest")

	err = sink.Close()
	assert.Len(t, multierr.Errors(err), 2)
	assert.True(t, first.closed && second.closed && third.closed)

	assert.NoError(t, Nop().Emit(_summary))
	assert.NoError(t, Nop().Close())
}
