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
	"fmt"

	"go.uber.org/atomic"
)

// CPUTarget receives frames redirected to a CPU. Enqueue must not block; it
// returns false when the target cannot take the frame.
type CPUTarget interface {
	Enqueue(frame []byte) bool
}

// DeviceTarget sends frames out of a network device.
type DeviceTarget interface {
	Transmit(frame []byte) error
}

// FrameReleaser takes back frames it handed out that will never reach
// Transmit. Release must not be called on a frame after Transmit.
type FrameReleaser interface {
	Release(frame []byte)
}

type cpuSlot struct{ target CPUTarget }

type devSlot struct{ target DeviceTarget }

// CPUMap maps redirect keys to CPU targets. Entries are installed before
// traffic flows and removed on teardown; lookups never lock.
type CPUMap struct {
	n     uint32
	slots [MaxCPUs]atomic.Value
}

// NewCPUMap returns an empty table with keys [0, maxKeys).
func NewCPUMap(maxKeys int) *CPUMap {
	if maxKeys <= 0 || maxKeys > MaxCPUs {
		maxKeys = MaxCPUs
	}
	m := &CPUMap{n: uint32(maxKeys)}
	for i := range m.slots {
		m.slots[i].Store(cpuSlot{})
	}
	return m
}

// Update installs target at key.
func (m *CPUMap) Update(key uint32, target CPUTarget) error {
	if key >= m.n {
		return fmt.Errorf("cpu map key %d is out of range [0, %d)", key, m.n)
	}
	m.slots[key].Store(cpuSlot{target: target})
	return nil
}

// Delete removes the entry at key.
func (m *CPUMap) Delete(key uint32) {
	if key < m.n {
		m.slots[key].Store(cpuSlot{})
	}
}

// Lookup returns the target at key.
func (m *CPUMap) Lookup(key uint32) (CPUTarget, bool) {
	if key >= m.n {
		return nil, false
	}
	s := m.slots[key].Load().(cpuSlot)
	return s.target, s.target != nil
}

// Redirect hands frame to the target at key, reporting whether the key had
// an entry and whether its target accepted the frame.
func (m *CPUMap) Redirect(key uint32, frame []byte) (found, accepted bool) {
	t, ok := m.Lookup(key)
	if !ok {
		return false, false
	}
	return true, t.Enqueue(frame)
}

// _devMapKeys is the capacity of DevMap; the benchmark only uses the device
// packets arrived on, at the egress and owner keys.
const _devMapKeys = 8

// DevMap maps redirect keys to egress devices.
type DevMap struct {
	slots [_devMapKeys]atomic.Value
}

// NewDevMap returns an empty device table.
func NewDevMap() *DevMap {
	m := &DevMap{}
	for i := range m.slots {
		m.slots[i].Store(devSlot{})
	}
	return m
}

// Update installs target at key.
func (m *DevMap) Update(key uint32, target DeviceTarget) error {
	if key >= _devMapKeys {
		return fmt.Errorf("device map key %d is out of range [0, %d)", key, _devMapKeys)
	}
	m.slots[key].Store(devSlot{target: target})
	return nil
}

// Delete removes the entry at key.
func (m *DevMap) Delete(key uint32) {
	if key < _devMapKeys {
		m.slots[key].Store(devSlot{})
	}
}

// Lookup returns the device at key.
func (m *DevMap) Lookup(key uint32) (DeviceTarget, bool) {
	if key >= _devMapKeys {
		return nil, false
	}
	s := m.slots[key].Load().(devSlot)
	return s.target, s.target != nil
}
