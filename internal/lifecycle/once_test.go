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

package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestStartStop(t *testing.T) {
	o := NewOnce()
	assert.Equal(t, Idle, o.State())

	var starts, stops atomic.Int32
	start := func() error { starts.Inc(); return nil }
	stop := func() error { stops.Inc(); return nil }

	require.NoError(t, o.Start(start))
	require.NoError(t, o.Start(start))
	assert.True(t, o.IsRunning())

	require.NoError(t, o.Stop(stop))
	require.NoError(t, o.Stop(stop))
	assert.Equal(t, Stopped, o.State())

	assert.Equal(t, int32(1), starts.Load())
	assert.Equal(t, int32(1), stops.Load())
}

func TestStartErrorIsSticky(t *testing.T) {
	o := NewOnce()
	sad := errors.New("great sadness")

	assert.Equal(t, sad, o.Start(func() error { return sad }))
	assert.Equal(t, sad, o.Start(nil))
	assert.Equal(t, Errored, o.State())

	called := false
	assert.Equal(t, sad, o.Stop(func() error { called = true; return nil }))
	assert.False(t, called, "stop must not run after a failed start")

	select {
	case <-o.Stopped():
	default:
		assert.Fail(t, "stopped channel must be closed")
	}
}

func TestStopBeforeStart(t *testing.T) {
	o := NewOnce()
	require.NoError(t, o.Stop(nil))

	called := false
	require.NoError(t, o.Start(func() error { called = true; return nil }))
	assert.False(t, called)
	assert.Equal(t, Stopped, o.State())
}

func TestStopError(t *testing.T) {
	o := NewOnce()
	require.NoError(t, o.Start(nil))

	sad := errors.New("great sadness")
	assert.Equal(t, sad, o.Stop(func() error { return sad }))
	assert.Equal(t, sad, o.Stop(nil))
	assert.Equal(t, Errored, o.State())
}

func TestConcurrentStart(t *testing.T) {
	o := NewOnce()
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, o.Start(func() error {
				calls.Inc()
				<-release
				return nil
			}))
			assert.True(t, o.IsRunning())
		}()
	}
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestWaitUntilRunning(t *testing.T) {
	o := NewOnce()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, o.WaitUntilRunning(ctx), "times out while idle")

	require.NoError(t, o.Start(nil))
	assert.NoError(t, o.WaitUntilRunning(context.Background()))

	require.NoError(t, o.Stop(nil))
	assert.Error(t, o.WaitUntilRunning(context.Background()))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "State(42)", State(42).String())
}
