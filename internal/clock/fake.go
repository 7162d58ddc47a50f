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

package clock

import (
	"container/heap"
	"sync"
	"time"
)

// FakeClock only moves when told to. Timers fire synchronously inside Add
// and Set, in deadline order, with the clock reading the timer's deadline.
type FakeClock struct {
	mu      sync.Mutex
	changed *sync.Cond
	now     time.Time
	timers  timers
}

var _ Clock = (*FakeClock)(nil)

// NewFake returns a fake clock reading the Unix epoch.
func NewFake() *FakeClock {
	fc := &FakeClock{now: time.Unix(0, 0)}
	fc.changed = sync.NewCond(&fc.mu)
	return fc
}

// Now returns the fake wall time.
func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

// Nanotime returns nanoseconds since the Unix epoch on the fake clock.
func (fc *FakeClock) Nanotime() uint64 {
	fc.mu.Lock()
	ns := fc.now.UnixNano()
	fc.mu.Unlock()
	return uint64(ns)
}

// Add moves the clock forward by d, firing every timer due on the way.
func (fc *FakeClock) Add(d time.Duration) {
	fc.mu.Lock()
	fc.advance(fc.now.Add(d))
	fc.mu.Unlock()
}

// Set moves the clock forward to end. Moving backwards is ignored.
func (fc *FakeClock) Set(end time.Time) {
	fc.mu.Lock()
	fc.advance(end)
	fc.mu.Unlock()
}

func (fc *FakeClock) advance(end time.Time) {
	for len(fc.timers) > 0 && !fc.timers[0].deadline.After(end) {
		t := heap.Pop(&fc.timers).(*FakeTimer)
		if fc.now.Before(t.deadline) {
			fc.now = t.deadline
		}
		t.fire()
	}
	if fc.now.Before(end) {
		fc.now = end
	}
	fc.changed.Broadcast()
}

// Pending returns the number of armed timers.
func (fc *FakeClock) Pending() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.timers)
}

// BlockUntil waits until at least n timers are armed. Tests use it to know a
// goroutine is parked on the clock before advancing it.
func (fc *FakeClock) BlockUntil(n int) {
	fc.mu.Lock()
	for len(fc.timers) < n {
		fc.changed.Wait()
	}
	fc.mu.Unlock()
}

// FakeTimer returns a concrete fake timer firing d from now.
func (fc *FakeClock) FakeTimer(d time.Duration) *FakeTimer {
	t := &FakeTimer{clock: fc, c: make(chan time.Time, 1), index: -1}
	fc.mu.Lock()
	fc.arm(t, d)
	fc.mu.Unlock()
	return t
}

// Timer returns a fake timer firing d from now.
func (fc *FakeClock) Timer(d time.Duration) Timer { return fc.FakeTimer(d) }

// After returns the channel of a fake timer firing d from now.
func (fc *FakeClock) After(d time.Duration) <-chan time.Time { return fc.FakeTimer(d).C() }

// arm schedules t; non-positive durations fire immediately.
func (fc *FakeClock) arm(t *FakeTimer, d time.Duration) {
	t.deadline = fc.now.Add(d)
	if d <= 0 {
		t.fire()
		return
	}
	heap.Push(&fc.timers, t)
	fc.changed.Broadcast()
}

// FakeTimer is a timer driven by a FakeClock.
type FakeTimer struct {
	clock    *FakeClock
	c        chan time.Time
	deadline time.Time
	index    int
}

var _ Timer = (*FakeTimer)(nil)

// C returns the channel the timer fires on.
func (t *FakeTimer) C() <-chan time.Time { return t.c }

// Stop disarms the timer.
func (t *FakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.disarm()
}

// Reset disarms the timer, drains a pending tick and re-arms it d from now.
func (t *FakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	armed := t.disarm()
	select {
	case <-t.c:
	default:
	}
	t.clock.arm(t, d)
	return armed
}

func (t *FakeTimer) disarm() bool {
	if t.index < 0 {
		return false
	}
	heap.Remove(&t.clock.timers, t.index)
	return true
}

func (t *FakeTimer) fire() {
	select {
	case t.c <- t.deadline:
	default:
	}
}
