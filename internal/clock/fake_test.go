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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClockAdd(t *testing.T) {
	clock := NewFake()
	start := clock.Now()
	assert.Equal(t, time.Unix(0, 0), start)
	assert.Zero(t, clock.Nanotime())

	clock.Add(time.Second)
	assert.Equal(t, time.Second, clock.Now().Sub(start))
	assert.Equal(t, uint64(time.Second), clock.Nanotime())
}

func TestFakeClockSetNeverMovesBackwards(t *testing.T) {
	clock := NewFake()
	clock.Set(time.Unix(100, 0))
	assert.Equal(t, time.Unix(100, 0), clock.Now())
	clock.Set(time.Unix(50, 0))
	assert.Equal(t, time.Unix(100, 0), clock.Now())
}

func TestFakeTimersFireInDeadlineOrder(t *testing.T) {
	clock := NewFake()
	late := clock.FakeTimer(3 * time.Second)
	early := clock.FakeTimer(time.Second)
	assert.Equal(t, 2, clock.Pending())

	clock.Add(5 * time.Second)
	assert.Equal(t, time.Unix(1, 0), <-early.C())
	assert.Equal(t, time.Unix(3, 0), <-late.C())
	assert.Zero(t, clock.Pending())
	assert.Equal(t, time.Unix(5, 0), clock.Now())
}

func TestFakeTimerNotDueDoesNotFire(t *testing.T) {
	clock := NewFake()
	timer := clock.Timer(time.Minute)
	clock.Add(59 * time.Second)
	select {
	case <-timer.C():
		assert.Fail(t, "timer fired early")
	default:
	}
	clock.Add(time.Second)
	<-timer.C()
}

func TestFakeTimerStop(t *testing.T) {
	clock := NewFake()
	timer := clock.Timer(60 * time.Second)
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	assert.Zero(t, clock.Pending())
}

func TestFakeTimerReset(t *testing.T) {
	clock := NewFake()
	timer := clock.Timer(time.Second)
	clock.Add(time.Second)
	assert.False(t, timer.Reset(time.Second), "timer already fired")

	select {
	case <-timer.C():
		assert.Fail(t, "reset must drain the stale tick")
	default:
	}

	assert.True(t, timer.Reset(2*time.Second))
	clock.Add(time.Second)
	assert.Equal(t, 1, clock.Pending())
	clock.Add(time.Second)
	assert.Equal(t, time.Unix(3, 0), <-timer.C())
}

func TestFakeTimerNonPositiveFiresImmediately(t *testing.T) {
	clock := NewFake()
	<-clock.After(0)
	assert.Zero(t, clock.Pending())
}

func TestFakeClockBlockUntil(t *testing.T) {
	clock := NewFake()
	done := make(chan time.Time)
	go func() {
		done <- <-clock.After(time.Second)
	}()

	clock.BlockUntil(1)
	clock.Add(time.Second)

	select {
	case got := <-done:
		assert.Equal(t, time.Unix(1, 0), got)
	case <-time.After(time.Second):
		assert.Fail(t, "test timed out")
	}
}

func TestRealClock(t *testing.T) {
	clock := NewReal()
	a := clock.Nanotime()
	b := clock.Nanotime()
	assert.True(t, b >= a)

	timer := clock.Timer(time.Millisecond)
	<-timer.C()
	assert.False(t, timer.Reset(time.Hour))
	require.True(t, timer.Stop())

	assert.Zero(t, testing.AllocsPerRun(100, func() { clock.Nanotime() }))
}
