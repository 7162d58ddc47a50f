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

// Package framepool preallocates the frame buffers a device receives into,
// in the manner of an AF_XDP UMEM: a fixed number of fixed-size frames that
// circulate between the driver, the data plane and back.
package framepool

import "fmt"

// DefaultFrameSize holds a full 1500-byte MTU packet plus link headers.
const DefaultFrameSize = 2048

// Pool is a fixed set of equally sized frames. Get and Put never allocate
// and never block.
type Pool struct {
	size int
	free chan []byte
}

// New allocates count frames of size bytes in one backing array.
func New(count, size int) (*Pool, error) {
	if count <= 0 {
		return nil, fmt.Errorf("frame count must be positive, got %d", count)
	}
	if size <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", size)
	}
	p := &Pool{size: size, free: make(chan []byte, count)}
	backing := make([]byte, count*size)
	for i := 0; i < count; i++ {
		p.free <- backing[i*size : (i+1)*size : (i+1)*size]
	}
	return p, nil
}

// FrameSize returns the size of every frame.
func (p *Pool) FrameSize() int { return p.size }

// Available returns the number of frames ready to be handed out.
func (p *Pool) Available() int { return len(p.free) }

// Capacity returns the total number of frames.
func (p *Pool) Capacity() int { return cap(p.free) }

// Get returns a full-length frame, or false if every frame is in flight.
func (p *Pool) Get() ([]byte, bool) {
	select {
	case f := <-p.free:
		return f, true
	default:
		return nil, false
	}
}

// Put returns a frame obtained from Get, at any length. Frames that did not
// come from the pool are ignored.
func (p *Pool) Put(frame []byte) {
	if cap(frame) != p.size {
		return
	}
	select {
	case p.free <- frame[:p.size]:
	default:
		// The pool is already full, so frame was returned twice.
	}
}
