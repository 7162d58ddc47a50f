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

package telemetry

import (
	"fmt"
	"io"
	"sync"
)

type growthLog struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewGrowthLog writes a line with the Unix nanosecond timestamp and the new
// core-group size every time the group grows. Other intervals write nothing.
func NewGrowthLog(w io.Writer) Sink {
	g := &growthLog{w: w}
	if c, ok := w.(io.Closer); ok {
		g.closer = c
	}
	return g
}

func (g *growthLog) Emit(sum Summary) error {
	if !sum.Grew {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := fmt.Fprintf(g.w, "%d %d\n", sum.At.UnixNano(), sum.CoreGroupSize)
	return err
}

func (g *growthLog) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer.Close()
}
