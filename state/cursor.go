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

// Cursor is a round-robin pointer into a roster, shared by every receive
// path. It counts claims on a 64-bit sequence; the slot of a claim is the
// claim reduced modulo the roster size in effect for that call, so the size
// may change between calls without the cursor leaving its range. The
// sequence does not wrap in practice.
type Cursor struct {
	v atomic.Uint64
}

// Next claims a slot in [0, n). Concurrent callers each claim a distinct
// position with a single fetch-and-add, so a claim never fails under
// contention. Next returns false only when n is zero.
func (c *Cursor) Next(n uint32) (uint32, bool) {
	if n == 0 {
		return 0, false
	}
	return uint32((c.v.Inc() - 1) % uint64(n)), true
}

// Peek returns the slot the next call to Next(n) will claim.
func (c *Cursor) Peek(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return uint32(c.v.Load() % uint64(n))
}

// Claims returns the number of slots claimed since the last Reset.
func (c *Cursor) Claims() uint64 { return c.v.Load() }

// Reset moves the cursor back to slot zero.
func (c *Cursor) Reset() { c.v.Store(0) }
