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

package state

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestNewRoster(t *testing.T) {
	tests := []struct {
		msg      string
		cpus     []uint32
		maxCPUs  int
		wantErrs int
		wantCPUs []uint32
	}{
		{msg: "empty", maxCPUs: 4, wantCPUs: nil},
		{msg: "valid", cpus: []uint32{2, 5, 7}, maxCPUs: 8, wantCPUs: []uint32{2, 5, 7}},
		{msg: "duplicate", cpus: []uint32{1, 1}, maxCPUs: 4, wantErrs: 1},
		{msg: "out of range", cpus: []uint32{0, 4}, maxCPUs: 4, wantErrs: 1},
		{msg: "too many", cpus: []uint32{0, 1, 2}, maxCPUs: 2, wantErrs: 2},
		{msg: "bad capacity", cpus: []uint32{0}, maxCPUs: MaxCPUs + 1, wantErrs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			r, err := NewRoster(tt.cpus, tt.maxCPUs)
			if tt.wantErrs > 0 {
				require.Error(t, err)
				assert.Len(t, multierr.Errors(err), tt.wantErrs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint32(len(tt.wantCPUs)), r.Len())
			if len(tt.wantCPUs) > 0 {
				assert.Equal(t, tt.wantCPUs, r.CPUs())
			}
			for i := uint32(0); i < r.Len(); i++ {
				assert.True(t, r.Available(i), "slot %d should start available", i)
			}
		})
	}
}

func TestRosterAvailability(t *testing.T) {
	r, err := NewRoster([]uint32{3, 4}, 8)
	require.NoError(t, err)

	require.NoError(t, r.SetAvailable(1, false))
	assert.True(t, r.Available(0))
	assert.False(t, r.Available(1))
	assert.False(t, r.Available(2), "slots past the declared size are never available")

	assert.Error(t, r.SetAvailable(2, true))

	cpu, ok := r.CPU(1)
	assert.True(t, ok)
	assert.Equal(t, uint32(4), cpu)
	_, ok = r.CPU(2)
	assert.False(t, ok)
}

func TestCursorRoundRobin(t *testing.T) {
	var c Cursor
	var got []uint32
	for i := 0; i < 7; i++ {
		slot, ok := c.Next(3)
		require.True(t, ok)
		got = append(got, slot)
	}
	assert.Equal(t, []uint32{0, 1, 2, 0, 1, 2, 0}, got)
	assert.Equal(t, uint32(1), c.Peek(3))
	assert.Equal(t, uint64(7), c.Claims())
}

func TestCursorFollowsLiveSize(t *testing.T) {
	var c Cursor
	for i := 0; i < 3; i++ {
		c.Next(4)
	}
	require.Equal(t, uint32(3), c.Peek(4))

	claim := func(n uint32, count int) []uint32 {
		var got []uint32
		for i := 0; i < count; i++ {
			slot, ok := c.Next(n)
			require.True(t, ok)
			got = append(got, slot)
		}
		return got
	}

	// The group shrank to two: slot 3 is out of range and never claimed.
	assert.Equal(t, []uint32{1, 0, 1, 0}, claim(2, 4))
	// The group grew to three: every slot is reached within one rotation.
	assert.ElementsMatch(t, []uint32{0, 1, 2}, claim(3, 3))

	_, ok := c.Next(0)
	assert.False(t, ok)
	assert.Zero(t, c.Peek(0))

	c.Reset()
	assert.Zero(t, c.Claims())
	assert.Zero(t, c.Peek(3))
}

func TestCursorNeverFailsUnderContention(t *testing.T) {
	const (
		goroutines = 64
		perG       = 2000
		n          = 5
	)
	var (
		c      Cursor
		mu     sync.Mutex
		counts [n]int
		failed int
		wg     sync.WaitGroup
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var local [n]int
			var localFailed int
			for i := 0; i < perG; i++ {
				slot, ok := c.Next(n)
				if !ok {
					localFailed++
					continue
				}
				local[slot]++
			}
			mu.Lock()
			for i := range local {
				counts[i] += local[i]
			}
			failed += localFailed
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Zero(t, failed, "no claim is lost to a concurrent dispatcher")
	assert.Equal(t, uint64(goroutines*perG), c.Claims())
	// Every claim takes a distinct position in the sequence, so the slots
	// are shared exactly evenly.
	for slot, cnt := range counts {
		assert.Equal(t, goroutines*perG/n, cnt, "slot %d", slot)
	}
}

func TestTelemetryResetKeepsLaterIncrements(t *testing.T) {
	tel := NewTelemetry(4)
	slot, ok := tel.Slot(2)
	require.True(t, ok)
	slot.Record(100)
	slot.Record(300)

	assert.Equal(t, []CPUSample{{CPU: 2, TxPackets: 2, QueueDelayNs: 400}}, tel.Snapshot(nil))

	tel.Reset()
	assert.Zero(t, slot.TxPackets.Load())
	assert.Zero(t, slot.QueueDelayNs.Load())
	assert.Empty(t, tel.Snapshot(nil))

	slot.Record(50)
	assert.Equal(t, []CPUSample{{CPU: 2, TxPackets: 1, QueueDelayNs: 50}}, tel.Snapshot(nil))

	_, ok = tel.Slot(4)
	assert.False(t, ok)
	assert.Equal(t, 4, tel.Len())
}

func TestAggregates(t *testing.T) {
	var a Aggregates
	a.Received.Inc()
	a.Received.Inc()
	a.Transmitted.Inc()
	a.Aborted.Inc()
	a.Dropped.Inc()
	a.RedirectFailed.Inc()

	assert.Equal(t, AggregateSample{
		Received:       2,
		Transmitted:    1,
		Dropped:        1,
		Aborted:        1,
		RedirectFailed: 1,
	}, a.Snapshot())

	a.Reset()
	assert.Equal(t, AggregateSample{}, a.Snapshot())
}

func TestCoreGroup(t *testing.T) {
	_, err := NewCoreGroup(0, 4, 1)
	assert.Error(t, err)
	_, err = NewCoreGroup(3, 2, 3)
	assert.Error(t, err)
	_, err = NewCoreGroup(2, 4, 5)
	assert.Error(t, err)

	g, err := NewCoreGroup(2, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), g.Min())
	assert.Equal(t, uint32(4), g.Max())

	size, changed := g.Shrink()
	assert.False(t, changed)
	assert.Equal(t, uint32(2), size)

	for want := uint32(3); want <= 4; want++ {
		size, changed = g.Grow()
		assert.True(t, changed)
		assert.Equal(t, want, size)
	}
	size, changed = g.Grow()
	assert.False(t, changed)
	assert.Equal(t, uint32(4), size)

	size, changed = g.Shrink()
	assert.True(t, changed)
	assert.Equal(t, uint32(3), size)
	assert.Equal(t, uint32(3), g.Load())
}

type queue struct {
	frames [][]byte
	full   bool
}

func (q *queue) Enqueue(frame []byte) bool {
	if q.full {
		return false
	}
	q.frames = append(q.frames, frame)
	return true
}

type device struct{ err error }

func (d device) Transmit([]byte) error { return d.err }

func TestCPUMap(t *testing.T) {
	m := NewCPUMap(4)
	q := &queue{}
	require.NoError(t, m.Update(1, q))
	assert.Error(t, m.Update(4, q))

	found, accepted := m.Redirect(1, []byte{1})
	assert.True(t, found)
	assert.True(t, accepted)
	assert.Len(t, q.frames, 1)

	found, _ = m.Redirect(0, []byte{1})
	assert.False(t, found)
	found, _ = m.Redirect(9, []byte{1})
	assert.False(t, found)

	q.full = true
	found, accepted = m.Redirect(1, []byte{2})
	assert.True(t, found)
	assert.False(t, accepted)

	m.Delete(1)
	_, ok := m.Lookup(1)
	assert.False(t, ok)
}

func TestDevMap(t *testing.T) {
	m := NewDevMap()
	_, ok := m.Lookup(0)
	assert.False(t, ok)

	sad := errors.New("sad")
	require.NoError(t, m.Update(0, device{err: sad}))
	d, ok := m.Lookup(0)
	require.True(t, ok)
	assert.Equal(t, sad, d.Transmit(nil))

	assert.Error(t, m.Update(_devMapKeys, device{}))
	_, ok = m.Lookup(_devMapKeys)
	assert.False(t, ok)
}

func TestArena(t *testing.T) {
	_, err := NewArena(0)
	assert.Error(t, err)

	a, err := NewArena(4)
	require.NoError(t, err)
	assert.Equal(t, 4, a.MaxCPUs())

	slot, _ := a.Telemetry.Slot(0)
	slot.Record(10)
	a.Aggregates.Received.Inc()
	a.ResetCounters()
	assert.Empty(t, a.Telemetry.Snapshot(nil))
	assert.Equal(t, AggregateSample{}, a.Aggregates.Snapshot())

	require.NoError(t, a.CPUs.Update(3, &queue{}))
	require.NoError(t, a.Devices.Update(0, device{}))
	a.Detach()
	_, ok := a.CPUs.Lookup(3)
	assert.False(t, ok)
	_, ok = a.Devices.Lookup(0)
	assert.False(t, ok)
}

func TestSequence(t *testing.T) {
	assert.Equal(t, []uint32{3, 4, 5}, Sequence(3, 3))
	assert.Empty(t, Sequence(0, 0))
}

func TestConsumeKeepsIncrementsAfterSnapshot(t *testing.T) {
	tel := NewTelemetry(4)
	var agg Aggregates
	slot, _ := tel.Slot(1)

	slot.Record(100)
	agg.Received.Inc()
	samples := tel.Snapshot(nil)
	sample := agg.Snapshot()

	// Traffic keeps flowing between the snapshot and the reset.
	slot.Record(40)
	agg.Received.Inc()

	tel.Consume(samples)
	agg.Consume(sample)
	assert.Equal(t, []CPUSample{{CPU: 1, TxPackets: 1, QueueDelayNs: 40}}, tel.Snapshot(nil))
	assert.Equal(t, uint64(1), agg.Received.Load())

	tel.Consume(tel.Snapshot(nil))
	agg.Consume(agg.Snapshot())
	assert.Empty(t, tel.Snapshot(nil))
	assert.Equal(t, AggregateSample{}, agg.Snapshot())

	tel.Consume([]CPUSample{{CPU: 9, TxPackets: 1}})
	assert.Empty(t, tel.Snapshot(nil), "out of range samples are ignored")
}
