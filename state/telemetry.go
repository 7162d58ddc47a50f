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

import "go.uber.org/atomic"

// CPUCounters is the telemetry slot of one CPU. Only work scheduled onto that
// CPU increments it; the control loop reads and resets it.
type CPUCounters struct {
	// TxPackets counts packets sent back to clients.
	TxPackets atomic.Uint64
	// QueueDelayNs sums LeaveServer - ReachServer over those packets.
	QueueDelayNs atomic.Uint64
}

// Record credits one processed packet and its queuing delay.
func (c *CPUCounters) Record(delayNs uint64) {
	c.QueueDelayNs.Add(delayNs)
	c.TxPackets.Inc()
}

// CPUSample is a point-in-time read of one CPU's counters.
type CPUSample struct {
	CPU          uint32
	TxPackets    uint64
	QueueDelayNs uint64
}

// Telemetry holds one CPUCounters slot per possible CPU.
//
// Counters only grow within a sampling interval. A worker may be between its
// delay and packet increments when the control loop samples, which skews
// that interval's average by one packet; the windowed averages tolerate it.
type Telemetry struct {
	n     uint32
	slots [MaxCPUs]CPUCounters
}

// NewTelemetry returns zeroed telemetry for CPUs [0, maxCPUs).
func NewTelemetry(maxCPUs int) *Telemetry {
	if maxCPUs <= 0 || maxCPUs > MaxCPUs {
		maxCPUs = MaxCPUs
	}
	return &Telemetry{n: uint32(maxCPUs)}
}

// Slot returns the counters of cpu.
func (t *Telemetry) Slot(cpu uint32) (*CPUCounters, bool) {
	if cpu >= t.n {
		return nil, false
	}
	return &t.slots[cpu], true
}

// Len returns the number of CPU slots.
func (t *Telemetry) Len() int { return int(t.n) }

// Snapshot appends a sample of every CPU that transmitted or accumulated
// delay to dst.
func (t *Telemetry) Snapshot(dst []CPUSample) []CPUSample {
	for cpu := uint32(0); cpu < t.n; cpu++ {
		s := &t.slots[cpu]
		tx, delay := s.TxPackets.Load(), s.QueueDelayNs.Load()
		if tx == 0 && delay == 0 {
			continue
		}
		dst = append(dst, CPUSample{CPU: cpu, TxPackets: tx, QueueDelayNs: delay})
	}
	return dst
}

// Consume subtracts samples taken by Snapshot from the live counters. It is
// how the control loop resets an interval: increments that landed after the
// snapshot stay in the counters and count toward the next interval.
func (t *Telemetry) Consume(samples []CPUSample) {
	for _, s := range samples {
		if s.CPU >= t.n {
			continue
		}
		slot := &t.slots[s.CPU]
		slot.TxPackets.Sub(s.TxPackets)
		slot.QueueDelayNs.Sub(s.QueueDelayNs)
	}
}

// Reset zeroes every slot.
func (t *Telemetry) Reset() {
	for cpu := uint32(0); cpu < t.n; cpu++ {
		t.slots[cpu].TxPackets.Store(0)
		t.slots[cpu].QueueDelayNs.Store(0)
	}
}

// Aggregates are process-wide counters shared by every receive path and
// every worker, so every update is an atomic add.
type Aggregates struct {
	// Received counts accepted benchmark packets.
	Received atomic.Uint64
	// Transmitted counts packets handed back to the device.
	Transmitted atomic.Uint64
	// Dropped counts lookup and redirect failures.
	Dropped atomic.Uint64
	// Aborted counts dispatches to a CPU whose availability flag is clear.
	Aborted atomic.Uint64
	// RedirectFailed counts the subset of drops rejected by a redirect table.
	RedirectFailed atomic.Uint64
}

// AggregateSample is a point-in-time read of Aggregates.
type AggregateSample struct {
	Received       uint64
	Transmitted    uint64
	Dropped        uint64
	Aborted        uint64
	RedirectFailed uint64
}

// Snapshot reads every aggregate counter.
func (a *Aggregates) Snapshot() AggregateSample {
	return AggregateSample{
		Received:       a.Received.Load(),
		Transmitted:    a.Transmitted.Load(),
		Dropped:        a.Dropped.Load(),
		Aborted:        a.Aborted.Load(),
		RedirectFailed: a.RedirectFailed.Load(),
	}
}

// Consume subtracts a sample taken by Snapshot from the live counters.
func (a *Aggregates) Consume(s AggregateSample) {
	a.Received.Sub(s.Received)
	a.Transmitted.Sub(s.Transmitted)
	a.Dropped.Sub(s.Dropped)
	a.Aborted.Sub(s.Aborted)
	a.RedirectFailed.Sub(s.RedirectFailed)
}

// Reset zeroes every aggregate counter.
func (a *Aggregates) Reset() {
	a.Received.Store(0)
	a.Transmitted.Store(0)
	a.Dropped.Store(0)
	a.Aborted.Store(0)
	a.RedirectFailed.Store(0)
}
