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

// Package state holds the tables every dispatch decision reads and writes:
// CPU rosters with their availability flags, round-robin cursors, the active
// core-group size, per-CPU telemetry, aggregate counters and the CPU and
// device redirect tables.
//
// Everything is allocated once, up front, in fixed-capacity slots. Each field
// documents which side writes it and which atomic operation it relies on.
// Nothing on the per-packet path takes a lock or allocates.
package state

import (
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// MaxCPUs is the backing capacity of every per-CPU table.
const MaxCPUs = 256

// Roster is an ordered, fixed-capacity sequence of CPU identifiers eligible
// to receive redirected work, with one availability flag per slot.
type Roster struct {
	size uint32
	cpus [MaxCPUs]uint32

	// available is written by operators and read by the dispatcher; zero
	// means "do not redirect here".
	available [MaxCPUs]atomic.Uint32
}

// NewRoster builds a roster over cpus, all initially available. Every CPU
// must be unique and in [0, maxCPUs), and maxCPUs may not exceed MaxCPUs.
func NewRoster(cpus []uint32, maxCPUs int) (*Roster, error) {
	var err error
	if maxCPUs <= 0 || maxCPUs > MaxCPUs {
		err = multierr.Append(err, fmt.Errorf("max cpus must be in (0, %d], got %d", MaxCPUs, maxCPUs))
		maxCPUs = MaxCPUs
	}
	if len(cpus) > maxCPUs {
		err = multierr.Append(err, fmt.Errorf("roster of %d cpus exceeds capacity %d", len(cpus), maxCPUs))
	}

	seen := make(map[uint32]struct{}, len(cpus))
	for _, cpu := range cpus {
		if int(cpu) >= maxCPUs {
			err = multierr.Append(err, fmt.Errorf("cpu %d is out of range [0, %d)", cpu, maxCPUs))
		}
		if _, ok := seen[cpu]; ok {
			err = multierr.Append(err, fmt.Errorf("cpu %d appears more than once", cpu))
		}
		seen[cpu] = struct{}{}
	}
	if err != nil {
		return nil, err
	}

	r := &Roster{size: uint32(len(cpus))}
	copy(r.cpus[:], cpus)
	for i := range cpus {
		r.available[i].Store(1)
	}
	return r, nil
}

// Len returns the declared size of the roster.
func (r *Roster) Len() uint32 { return r.size }

// CPU returns the CPU in slot i.
func (r *Roster) CPU(i uint32) (uint32, bool) {
	if i >= r.size {
		return 0, false
	}
	return r.cpus[i], true
}

// Available reports whether slot i may receive work.
func (r *Roster) Available(i uint32) bool {
	if i >= r.size {
		return false
	}
	return r.available[i].Load() != 0
}

// SetAvailable sets or clears the availability flag of slot i.
func (r *Roster) SetAvailable(i uint32, available bool) error {
	if i >= r.size {
		return fmt.Errorf("roster slot %d is out of range [0, %d)", i, r.size)
	}
	var v uint32
	if available {
		v = 1
	}
	r.available[i].Store(v)
	return nil
}

// CPUs returns a copy of the roster's CPU identifiers.
func (r *Roster) CPUs() []uint32 {
	return append([]uint32(nil), r.cpus[:r.size]...)
}

// Sequence returns the CPUs [first, first+n).
func Sequence(first, n int) []uint32 {
	cpus := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		cpus = append(cpus, uint32(first+i))
	}
	return cpus
}
