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

const (
	_defaultTTL = 64
	_flagsDF    = 0x4000
)

// AppendFrame appends a complete Ethernet|IPv4|UDP frame carrying payload
// from src to dst to b and returns the extended slice. The IPv4 checksum is
// valid and the UDP checksum is left at zero.
func AppendFrame(b []byte, src, dst Addr, payload []byte) []byte {
	start := len(b)
	b = append(b, make([]byte, HeadersLen)...)
	b = append(b, payload...)
	PutHeaders(b[start:], src, dst, len(payload))
	return b
}

// PutHeaders writes the Ethernet, IPv4 and UDP headers of a frame from src to
// dst whose payload of payloadLen bytes already sits at frame[HeadersLen:].
// Drivers receive payloads straight into place and frame them with it.
func PutHeaders(frame []byte, src, dst Addr, payloadLen int) {
	_ = frame[HeadersLen-1]
	copy(frame[_ethDst:], dst.MAC[:])
	copy(frame[_ethSrc:], src.MAC[:])
	_be.PutUint16(frame[_ethType:], EtherTypeIPv4)

	ip := frame[EthernetLen : EthernetLen+IPv4Len]
	ip[_ipVerIHL] = 0x45
	ip[1] = 0
	_be.PutUint16(ip[_ipTotalLen:], uint16(IPv4Len+UDPLen+payloadLen))
	_be.PutUint16(ip[4:], 0)
	_be.PutUint16(ip[6:], _flagsDF)
	ip[8] = _defaultTTL
	ip[_ipProto] = ProtocolUDP
	_be.PutUint16(ip[_ipCheck:], 0)
	copy(ip[_ipSrc:], src.IP[:])
	copy(ip[_ipDst:], dst.IP[:])
	_be.PutUint16(ip[_ipCheck:], IPv4Checksum(ip))

	udp := frame[EthernetLen+IPv4Len : HeadersLen]
	_be.PutUint16(udp[_udpSrc:], src.Port)
	_be.PutUint16(udp[_udpDst:], dst.Port)
	_be.PutUint16(udp[_udpLen:], uint16(UDPLen+payloadLen))
	_be.PutUint16(udp[_udpCheck:], 0)
}

// NewRequest builds a benchmark request frame whose payload is app.
func NewRequest(src, dst Addr, app AppHeader) []byte {
	return AppendFrame(make([]byte, 0, MinFrameLen), src, dst, app.Marshal())
}
