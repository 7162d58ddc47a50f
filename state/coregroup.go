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

// CoreGroup is the active core-group size, bounded by [Min, Max]. The control
// loop is its only writer; the dynamic allocation policy reads it on every
// packet.
type CoreGroup struct {
	min, max uint32
	size     atomic.Uint32
}

// NewCoreGroup returns a core group of initial CPUs.
func NewCoreGroup(min, max, initial uint32) (*CoreGroup, error) {
	if min == 0 {
		return nil, fmt.Errorf("core group minimum must be positive")
	}
	if min > max {
		return nil, fmt.Errorf("core group minimum %d exceeds maximum %d", min, max)
	}
	if initial < min || initial > max {
		return nil, fmt.Errorf("initial core group size %d is outside [%d, %d]", initial, min, max)
	}
	g := &CoreGroup{min: min, max: max}
	g.size.Store(initial)
	return g, nil
}

// Load returns the current size.
func (g *CoreGroup) Load() uint32 { return g.size.Load() }

// Min returns the lower bound.
func (g *CoreGroup) Min() uint32 { return g.min }

// Max returns the upper bound.
func (g *CoreGroup) Max() uint32 { return g.max }

// Grow adds one CPU unless the group is already at Max. It returns the new
// size and whether it changed.
func (g *CoreGroup) Grow() (uint32, bool) {
	cur := g.size.Load()
	if cur >= g.max {
		return cur, false
	}
	g.size.Store(cur + 1)
	return cur + 1, true
}

// Shrink removes one CPU unless the group is already at Min. It returns the
// new size and whether it changed.
func (g *CoreGroup) Shrink() (uint32, bool) {
	cur := g.size.Load()
	if cur <= g.min {
		return cur, false
	}
	g.size.Store(cur - 1)
	return cur - 1, true
}
