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

package control

import (
	"time"

	"go.uber.org/nicsched/state"
)

// DefaultDelayThreshold is the average queuing delay above which the dynamic
// allocation policy grows its core group.
const DefaultDelayThreshold = 200 * time.Microsecond

// Decision is what a Decider did with an interval's average delay.
type Decision struct {
	CoreGroupSize uint32
	Grew          bool
}

// Decider reacts to the average queuing delay of an interval.
type Decider interface {
	Decide(avg time.Duration) Decision
}

// Grower adds one CPU to a core group whenever the average queuing delay
// exceeds a threshold, up to the group's maximum.
//
// It never shrinks the group. CoreGroup.Shrink is available to a controller
// that wants hysteresis, but Grower deliberately stays one-directional.
type Grower struct {
	group     *state.CoreGroup
	threshold time.Duration
}

var _ Decider = (*Grower)(nil)

// NewGrower returns a Grower. A non-positive threshold selects
// DefaultDelayThreshold.
func NewGrower(group *state.CoreGroup, threshold time.Duration) *Grower {
	if threshold <= 0 {
		threshold = DefaultDelayThreshold
	}
	return &Grower{group: group, threshold: threshold}
}

// Threshold returns the delay above which the group grows.
func (g *Grower) Threshold() time.Duration { return g.threshold }

// Decide grows the group by one if avg is above the threshold.
func (g *Grower) Decide(avg time.Duration) Decision {
	if avg > g.threshold {
		size, grew := g.group.Grow()
		return Decision{CoreGroupSize: size, Grew: grew}
	}
	return Decision{CoreGroupSize: g.group.Load()}
}

type fixed uint32

// Fixed reports a constant group size and never changes anything. Policies
// without a core group use it.
func Fixed(size uint32) Decider { return fixed(size) }

func (f fixed) Decide(time.Duration) Decision {
	return Decision{CoreGroupSize: uint32(f)}
}

// AverageQueuingDelay averages the queuing delay over every packet in
// samples. CPUs that transmitted nothing are left out.
func AverageQueuingDelay(samples []state.CPUSample) time.Duration {
	var delay, packets uint64
	for _, s := range samples {
		if s.TxPackets == 0 {
			continue
		}
		delay += s.QueueDelayNs
		packets += s.TxPackets
	}
	if packets == 0 {
		return 0
	}
	return time.Duration(delay / packets)
}
