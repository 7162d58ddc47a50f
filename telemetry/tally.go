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
	"strconv"
	"sync"

	"github.com/uber-go/tally"
)

// tallySink reports summaries as counters and gauges. Counters accumulate
// across intervals; gauges hold the latest interval's value.
type tallySink struct {
	scope tally.Scope

	received       tally.Counter
	transmitted    tally.Counter
	dropped        tally.Counter
	aborted        tally.Counter
	redirectFailed tally.Counter
	grown          tally.Counter

	avgDelay      tally.Gauge
	coreGroupSize tally.Gauge

	mu     sync.Mutex
	perCPU map[uint32]cpuMetrics
}

type cpuMetrics struct {
	packets  tally.Counter
	avgDelay tally.Gauge
}

// NewTallySink reports summaries to scope. A nil scope reports nowhere.
func NewTallySink(scope tally.Scope) Sink {
	if scope == nil {
		scope = tally.NoopScope
	}
	scope = scope.SubScope("dispatch")
	return &tallySink{
		scope:          scope,
		received:       scope.Counter("received"),
		transmitted:    scope.Counter("transmitted"),
		dropped:        scope.Counter("dropped"),
		aborted:        scope.Counter("aborted"),
		redirectFailed: scope.Counter("redirect_failed"),
		grown:          scope.Counter("core_group_grown"),
		avgDelay:       scope.Gauge("avg_queuing_delay_ns"),
		coreGroupSize:  scope.Gauge("core_group_size"),
		perCPU:         make(map[uint32]cpuMetrics),
	}
}

func (s *tallySink) Emit(sum Summary) error {
	s.received.Inc(int64(sum.Received))
	s.transmitted.Inc(int64(sum.Transmitted))
	s.dropped.Inc(int64(sum.Dropped))
	s.aborted.Inc(int64(sum.Aborted))
	s.redirectFailed.Inc(int64(sum.RedirectFailed))
	if sum.Grew {
		s.grown.Inc(1)
	}
	s.avgDelay.Update(float64(sum.AvgDelay))
	s.coreGroupSize.Update(float64(sum.CoreGroupSize))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range sum.PerCPU {
		m := s.cpu(d.CPU)
		m.packets.Inc(int64(d.Packets))
		m.avgDelay.Update(float64(d.AvgDelay))
	}
	return nil
}

func (s *tallySink) cpu(cpu uint32) cpuMetrics {
	if m, ok := s.perCPU[cpu]; ok {
		return m
	}
	scope := s.scope.Tagged(map[string]string{"cpu": strconv.FormatUint(uint64(cpu), 10)})
	m := cpuMetrics{
		packets:  scope.Counter("cpu_transmitted"),
		avgDelay: scope.Gauge("cpu_avg_queuing_delay_ns"),
	}
	s.perCPU[cpu] = m
	return m
}

func (s *tallySink) Close() error { return nil }
