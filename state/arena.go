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

import "fmt"

// Arena bundles the tables shared by every policy, the workers and the
// control loop. Policy-specific rosters, cursors and the core group live with
// the policy that owns them.
type Arena struct {
	maxCPUs int

	Telemetry  *Telemetry
	Aggregates *Aggregates
	CPUs       *CPUMap
	Devices    *DevMap
}

// NewArena allocates zeroed tables for CPUs [0, maxCPUs).
func NewArena(maxCPUs int) (*Arena, error) {
	if maxCPUs <= 0 || maxCPUs > MaxCPUs {
		return nil, fmt.Errorf("max cpus must be in (0, %d], got %d", MaxCPUs, maxCPUs)
	}
	return &Arena{
		maxCPUs:    maxCPUs,
		Telemetry:  NewTelemetry(maxCPUs),
		Aggregates: &Aggregates{},
		CPUs:       NewCPUMap(maxCPUs),
		Devices:    NewDevMap(),
	}, nil
}

// MaxCPUs returns the number of per-CPU slots.
func (a *Arena) MaxCPUs() int { return a.maxCPUs }

// ResetCounters zeroes per-CPU telemetry and the aggregate counters.
func (a *Arena) ResetCounters() {
	a.Telemetry.Reset()
	a.Aggregates.Reset()
}

// Detach empties both redirect tables. Frames dispatched afterwards drop.
func (a *Arena) Detach() {
	for key := uint32(0); key < uint32(a.maxCPUs); key++ {
		a.CPUs.Delete(key)
	}
	for key := uint32(0); key < _devMapKeys; key++ {
		a.Devices.Delete(key)
	}
}
