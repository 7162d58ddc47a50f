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

package packet

import (
	"encoding/binary"
	"fmt"
	"time"
)

// AppHeaderLen is the wire size of AppHeader: three 8-byte timestamps and
// one workload byte, unpadded.
const AppHeaderLen = 25

const (
	_leaveClientOff = 0
	_reachServerOff = 8
	_leaveServerOff = 16
	_workloadOff    = 24
)

// The timestamps are stored in little-endian order, the host order of the
// servers the benchmark targets.
var _order = binary.LittleEndian

// AppHeader is the benchmark header carried right after the UDP header.
//
// Once a request has been fully processed,
// LeaveClient <= ReachServer <= LeaveServer.
type AppHeader struct {
	// LeaveClient is stamped by the traffic generator right before send.
	LeaveClient uint64
	// ReachServer is stamped by the ingress program on arrival.
	ReachServer uint64
	// LeaveServer is stamped by the worker after queuing and before the
	// synthetic workload runs.
	LeaveServer uint64
	// Workload scales the synthetic service time of the request.
	Workload uint8
}

// MarshalTo writes h into b, which must hold at least AppHeaderLen bytes.
func (h AppHeader) MarshalTo(b []byte) error {
	if len(b) < AppHeaderLen {
		return fmt.Errorf("buffer of %d bytes is too short for an app header", len(b))
	}
	_order.PutUint64(b[_leaveClientOff:], h.LeaveClient)
	_order.PutUint64(b[_reachServerOff:], h.ReachServer)
	_order.PutUint64(b[_leaveServerOff:], h.LeaveServer)
	b[_workloadOff] = h.Workload
	return nil
}

// Marshal returns the wire encoding of h.
func (h AppHeader) Marshal() []byte {
	b := make([]byte, AppHeaderLen)
	_ = h.MarshalTo(b)
	return b
}

// UnmarshalAppHeader decodes the first AppHeaderLen bytes of b.
func UnmarshalAppHeader(b []byte) (AppHeader, error) {
	if len(b) < AppHeaderLen {
		return AppHeader{}, fmt.Errorf("buffer of %d bytes is too short for an app header", len(b))
	}
	return AppHeader{
		LeaveClient: _order.Uint64(b[_leaveClientOff:]),
		ReachServer: _order.Uint64(b[_reachServerOff:]),
		LeaveServer: _order.Uint64(b[_leaveServerOff:]),
		Workload:    b[_workloadOff],
	}, nil
}

// Delays computes the metrics a traffic generator derives from an echoed
// request: the round trip seen by the client (reachClient is the client's
// receive timestamp, on the same clock as LeaveClient) and the queuing delay
// measured by the server.
func Delays(h AppHeader, reachClient uint64) (rtt, queuing time.Duration) {
	if reachClient > h.LeaveClient {
		rtt = time.Duration(reachClient - h.LeaveClient)
	}
	if h.LeaveServer > h.ReachServer {
		queuing = time.Duration(h.LeaveServer - h.ReachServer)
	}
	return rtt, queuing
}
