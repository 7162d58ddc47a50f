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

// Package clock provides the time sources used by nicsched. The data plane
// reads Nanotime to stamp packets and the control loop waits on Timers, so
// tests can drive both from a FakeClock.
package clock

import "time"

// Clock is a source of wall time, monotonic packet stamps and timers.
type Clock interface {
	// Now returns the current wall time.
	Now() time.Time

	// Nanotime returns a monotonic nanosecond reading suitable for packet
	// stamps. Readings are only comparable within one process. It never
	// allocates.
	Nanotime() uint64

	// Timer returns a timer that fires once after d.
	Timer(d time.Duration) Timer

	// After is shorthand for Timer(d).C().
	After(d time.Duration) <-chan time.Time
}

// Timer is a one-shot timer that may be re-armed.
type Timer interface {
	C() <-chan time.Time
	// Stop prevents the timer from firing and reports whether it was armed.
	Stop() bool
	// Reset re-arms the timer to fire d from now and reports whether it
	// was armed.
	Reset(d time.Duration) bool
}
