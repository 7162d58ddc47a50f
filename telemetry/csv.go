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
	"encoding/csv"
	"io"
	"strconv"
	"sync"
)

var _csvHeader = []string{"rx", "tx"}

type csvSink struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
}

// NewCSVSink writes one "rx,tx" row per interval to w, after a header row.
// If w is an io.Closer it is closed with the sink.
func NewCSVSink(w io.Writer) (Sink, error) {
	s := &csvSink{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	if err := s.write(_csvHeader); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *csvSink) Emit(sum Summary) error {
	return s.write([]string{
		strconv.FormatUint(sum.Received, 10),
		strconv.FormatUint(sum.Transmitted, 10),
	})
}

func (s *csvSink) write(record []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(record); err != nil {
		return err
	}
	// Rows are flushed as they come so an interrupted run keeps its data.
	s.w.Flush()
	return s.w.Error()
}

func (s *csvSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
