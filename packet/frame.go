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

// Package packet parses and rewrites benchmark frames: an Ethernet header,
// an option-less IPv4 header, a UDP header and the AppHeader.
//
// Every function in this package that takes a frame works in place and
// never allocates, so it can run on the per-packet path.
package packet

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/nicsched/xdp"
)

// Header sizes and offsets of the fixed header stack.
const (
	EthernetLen = 14
	IPv4Len     = 20
	UDPLen      = 8

	// HeadersLen is the offset of the AppHeader inside a frame.
	HeadersLen = EthernetLen + IPv4Len + UDPLen
	// MinFrameLen is the shortest frame Parse accepts.
	MinFrameLen = HeadersLen + AppHeaderLen

	// EtherTypeIPv4 is the only link-layer payload type accepted.
	EtherTypeIPv4 = 0x0800
	// ProtocolUDP is the only transport accepted.
	ProtocolUDP = 17
)

// Offsets within the Ethernet header.
const (
	_ethDst  = 0
	_ethSrc  = 6
	_ethType = 12
	_macLen  = 6
)

// Offsets within the IPv4 header.
const (
	_ipVerIHL   = 0
	_ipTotalLen = 2
	_ipProto    = 9
	_ipCheck    = 10
	_ipSrc      = 12
	_ipDst      = 16
)

// Offsets within the UDP header.
const (
	_udpSrc   = 0
	_udpDst   = 2
	_udpLen   = 4
	_udpCheck = 6
)

var _be = binary.BigEndian

// Parse errors. They are built once so Parse stays allocation free.
var (
	errShortEthernet = fmt.Errorf("short ethernet header: %w", xdp.ErrFormatReject)
	errNotIPv4       = fmt.Errorf("ethertype is not ipv4: %w", xdp.ErrFormatReject)
	errShortIPv4     = fmt.Errorf("short ipv4 header: %w", xdp.ErrFormatReject)
	errIPv4Options   = fmt.Errorf("ipv4 header carries options: %w", xdp.ErrFormatReject)
	errNotUDP        = fmt.Errorf("network protocol is not udp: %w", xdp.ErrFormatReject)
	errShortUDP      = fmt.Errorf("short udp header: %w", xdp.ErrFormatReject)
	errShortApp      = fmt.Errorf("short app header: %w", xdp.ErrFormatReject)
)

// Headers records where each layer starts in a frame that passed Parse.
type Headers struct {
	Network   int
	Transport int
	App       int
}

// Parse validates the header stack of frame. On error the frame must be
// passed through untouched; every error wraps xdp.ErrFormatReject.
func Parse(frame []byte) (Headers, error) {
	if len(frame) < EthernetLen {
		return Headers{}, errShortEthernet
	}
	if _be.Uint16(frame[_ethType:]) != EtherTypeIPv4 {
		return Headers{}, errNotIPv4
	}

	l3 := EthernetLen
	if len(frame) < l3+IPv4Len {
		return Headers{}, errShortIPv4
	}
	if frame[l3+_ipVerIHL] != 0x45 {
		return Headers{}, errIPv4Options
	}
	if frame[l3+_ipProto] != ProtocolUDP {
		return Headers{}, errNotUDP
	}

	l4 := l3 + IPv4Len
	if len(frame) < l4+UDPLen {
		return Headers{}, errShortUDP
	}

	app := l4 + UDPLen
	if len(frame) < app+AppHeaderLen {
		return Headers{}, errShortApp
	}
	return Headers{Network: l3, Transport: l4, App: app}, nil
}

// DstPort returns the UDP destination port.
func (h Headers) DstPort(frame []byte) uint16 {
	return _be.Uint16(frame[h.Transport+_udpDst:])
}

// SrcPort returns the UDP source port.
func (h Headers) SrcPort(frame []byte) uint16 {
	return _be.Uint16(frame[h.Transport+_udpSrc:])
}

// IsBenchmarkTraffic reports whether the frame is addressed to the
// benchmark's listening port.
func IsBenchmarkTraffic(frame []byte, h Headers, port uint16) bool {
	return h.DstPort(frame) == port
}

// Workload returns the AppHeader workload byte.
func (h Headers) Workload(frame []byte) uint8 {
	return frame[h.App+_workloadOff]
}

// ReachServer returns the AppHeader arrival timestamp.
func (h Headers) ReachServer(frame []byte) uint64 {
	return _order.Uint64(frame[h.App+_reachServerOff:])
}

// LeaveServer returns the AppHeader departure timestamp.
func (h Headers) LeaveServer(frame []byte) uint64 {
	return _order.Uint64(frame[h.App+_leaveServerOff:])
}

// StampReachServer writes the arrival timestamp.
func (h Headers) StampReachServer(frame []byte, ns uint64) {
	_order.PutUint64(frame[h.App+_reachServerOff:], ns)
}

// StampLeaveServer writes the departure timestamp.
func (h Headers) StampLeaveServer(frame []byte, ns uint64) {
	_order.PutUint64(frame[h.App+_leaveServerOff:], ns)
}

// AppHeader decodes the AppHeader of frame.
func (h Headers) AppHeader(frame []byte) AppHeader {
	app, _ := UnmarshalAppHeader(frame[h.App:])
	return app
}

// Payload returns the UDP payload, AppHeader included.
func (h Headers) Payload(frame []byte) []byte {
	return frame[h.App:]
}

// SwapAndChecksum turns a request frame into its response: link addresses,
// network addresses and transport ports trade places, the IPv4 checksum is
// recomputed from scratch and the UDP checksum is cleared for offload.
//
// Applying it twice restores the original addresses.
func SwapAndChecksum(frame []byte, h Headers) {
	var mac [_macLen]byte
	copy(mac[:], frame[_ethSrc:_ethSrc+_macLen])
	copy(frame[_ethSrc:_ethSrc+_macLen], frame[_ethDst:_ethDst+_macLen])
	copy(frame[_ethDst:_ethDst+_macLen], mac[:])

	ip := frame[h.Network : h.Network+IPv4Len]
	var addr [4]byte
	copy(addr[:], ip[_ipSrc:_ipSrc+4])
	copy(ip[_ipSrc:_ipSrc+4], ip[_ipDst:_ipDst+4])
	copy(ip[_ipDst:_ipDst+4], addr[:])
	_be.PutUint16(ip[_ipCheck:], 0)
	_be.PutUint16(ip[_ipCheck:], IPv4Checksum(ip))

	udp := frame[h.Transport : h.Transport+UDPLen]
	src, dst := _be.Uint16(udp[_udpSrc:]), _be.Uint16(udp[_udpDst:])
	_be.PutUint16(udp[_udpSrc:], dst)
	_be.PutUint16(udp[_udpDst:], src)
	_be.PutUint16(udp[_udpCheck:], 0)
}

// Addr is one side of a frame's addressing.
type Addr struct {
	MAC  [6]byte
	IP   [4]byte
	Port uint16
}

// Endpoints returns the source and destination addressing of frame.
func (h Headers) Endpoints(frame []byte) (src, dst Addr) {
	copy(src.MAC[:], frame[_ethSrc:_ethSrc+_macLen])
	copy(dst.MAC[:], frame[_ethDst:_ethDst+_macLen])
	copy(src.IP[:], frame[h.Network+_ipSrc:h.Network+_ipSrc+4])
	copy(dst.IP[:], frame[h.Network+_ipDst:h.Network+_ipDst+4])
	src.Port = h.SrcPort(frame)
	dst.Port = h.DstPort(frame)
	return src, dst
}
