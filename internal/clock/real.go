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

import "time"

// RealClock wraps the time package. Nanotime counts from the moment the clock
// was created using the runtime's monotonic reading.
type RealClock struct {
	base time.Time
}

var _ Clock = (*RealClock)(nil)

// NewReal returns a clock backed by the system time.
func NewReal() *RealClock {
	return &RealClock{base: time.Now()}
}

// Now returns time.Now().
func (*RealClock) Now() time.Time { return time.Now() }

// Nanotime returns the monotonic nanoseconds elapsed since NewReal.
func (c *RealClock) Nanotime() uint64 { return uint64(time.Since(c.base)) }

// Timer wraps time.NewTimer.
func (*RealClock) Timer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

// After wraps time.After.
func (*RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type realTimer struct {
	t *time.Timer
}

func (t *realTimer) C() <-chan time.Time { return t.t.C }

func (t *realTimer) Stop() bool { return t.t.Stop() }

func (t *realTimer) Reset(d time.Duration) bool {
	armed := t.t.Stop()
	if !armed {
		select {
		case <-t.t.C:
		default:
		}
	}
	t.t.Reset(d)
	return armed
}
