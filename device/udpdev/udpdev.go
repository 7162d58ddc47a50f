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

// Package udpdev is a Device backed by a UDP socket. Each datagram is read
// straight into a pooled frame behind room for Ethernet, IPv4 and UDP
// headers, which are then filled in from the socket addresses so the ingress
// program sees the same frames it would on the wire. Responses are unframed
// and written back to the client address carried in their swapped headers.
//
// On Linux datagrams are read in batches with recvmmsg.
package udpdev

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/nicsched/device"
	"go.uber.org/nicsched/internal/framepool"
	"go.uber.org/nicsched/internal/sampledlogger"
	"go.uber.org/nicsched/packet"
	"go.uber.org/nicsched/state"
	"go.uber.org/nicsched/xdp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/net/ipv4"
)

const (
	// DefaultFrames is the number of receive frames, enough to fill every
	// worker queue of a small server.
	DefaultFrames = 16384
	// DefaultBatch is the number of datagrams read per system call.
	DefaultBatch = 64
)

var errClosed = errors.New("udp device is closed")

// Option customizes a Device.
type Option interface {
	apply(*options)
}

type options struct {
	listenAddr string
	frames     int
	frameSize  int
	batch      int
	logger     *zap.Logger
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// ListenAddr binds the socket to addr instead of the interface's first IPv4
// address and the given port.
func ListenAddr(addr string) Option {
	return optionFunc(func(o *options) {
		o.listenAddr = addr
	})
}

// Frames sets the number of receive frames. Datagrams arriving while every
// frame is in flight are counted as overruns and discarded.
func Frames(n int) Option {
	return optionFunc(func(o *options) {
		o.frames = n
	})
}

// Batch sets the number of datagrams read per system call.
func Batch(n int) Option {
	return optionFunc(func(o *options) {
		o.batch = n
	})
}

// Logger sets the logger.
func Logger(logger *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = logger
	})
}

// Device is a UDP socket bound to one interface address and port.
type Device struct {
	name  string
	conn  *net.UDPConn
	pc    *ipv4.PacketConn
	local packet.Addr
	// wantDst is set when bound to the wildcard address, so the destination
	// of each datagram comes from its control message.
	wantDst bool
	pool    *framepool.Pool
	batch   int

	counters device.Counters
	logger   *zap.Logger
	log      *sampledlogger.Logger

	mu      sync.Mutex
	prog    xdp.Program
	closing atomic.Bool
	done    chan struct{}
}

var (
	_ device.Device       = (*Device)(nil)
	_ state.FrameReleaser = (*Device)(nil)
)

// New opens a device on ifname receiving datagrams for port.
func New(ifname string, port uint16, opts ...Option) (*Device, error) {
	o := options{
		frames:    DefaultFrames,
		frameSize: framepool.DefaultFrameSize,
		batch:     DefaultBatch,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.batch <= 0 {
		return nil, fmt.Errorf("batch must be positive, got %d", o.batch)
	}
	pool, err := framepool.New(o.frames, o.frameSize)
	if err != nil {
		return nil, err
	}

	var local packet.Addr
	bind := o.listenAddr
	if bind == "" || ifname != "" {
		iface, err := net.InterfaceByName(ifname)
		if err != nil {
			return nil, fmt.Errorf("failed to find interface %q: %v", ifname, err)
		}
		copy(local.MAC[:], iface.HardwareAddr)
		if bind == "" {
			ip, err := interfaceIPv4(iface)
			if err != nil {
				return nil, err
			}
			bind = net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
		}
	}

	laddr, err := net.ResolveUDPAddr("udp4", bind)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %v", bind, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %v: %v", laddr, err)
	}

	bound := conn.LocalAddr().(*net.UDPAddr)
	copy(local.IP[:], bound.IP.To4())
	local.Port = uint16(bound.Port)

	d := &Device{
		name:    ifname,
		conn:    conn,
		pc:      ipv4.NewPacketConn(conn),
		local:   local,
		wantDst: bound.IP.IsUnspecified(),
		pool:    pool,
		batch:   o.batch,
		logger:  o.logger.Named("udpdev").With(zap.String("ifname", ifname)),
		done:    make(chan struct{}),
	}
	d.log = sampledlogger.New(d.logger)
	if d.wantDst {
		if err := d.pc.SetControlMessage(ipv4.FlagDst, true); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to request destination addresses: %v", err)
		}
	}
	return d, nil
}

func interfaceIPv4(iface *net.Interface) (net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses of %q: %v", iface.Name, err)
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			if ip := ipn.IP.To4(); ip != nil {
				return ip, nil
			}
		}
	}
	return nil, fmt.Errorf("interface %q has no ipv4 address", iface.Name)
}

// Name returns the interface name.
func (d *Device) Name() string { return d.name }

// LocalAddr returns the address the socket is bound to.
func (d *Device) LocalAddr() *net.UDPAddr { return d.conn.LocalAddr().(*net.UDPAddr) }

// Stats returns the device counters.
func (d *Device) Stats() device.Stats { return d.counters.Stats() }

// Attach starts the receive loop.
func (d *Device) Attach(prog xdp.Program) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing.Load() {
		return errClosed
	}
	if d.prog != nil {
		return errors.New("a program is already attached")
	}
	d.prog = prog
	go d.receive(prog)
	d.logger.Info("attached program", zap.Stringer("addr", d.LocalAddr()))
	return nil
}

// Close stops the receive loop and closes the socket.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closing.CAS(false, true) {
		return nil
	}
	err := d.conn.Close()
	if d.prog != nil {
		<-d.done
	}
	return err
}

func (d *Device) receive(prog xdp.Program) {
	defer close(d.done)

	msgs := make([]ipv4.Message, d.batch)
	frames := make([][]byte, d.batch)
	// Datagrams that find no free frame land in scratch and are discarded.
	scratch := make([]byte, d.pool.FrameSize())
	for i := range msgs {
		msgs[i].Buffers = make([][]byte, 1)
		if d.wantDst {
			msgs[i].OOB = ipv4.NewControlMessage(ipv4.FlagDst)
		}
	}

	for {
		for i := range msgs {
			if frames[i] == nil {
				frames[i], _ = d.pool.Get()
			}
			buf := scratch
			if frames[i] != nil {
				buf = frames[i]
			}
			msgs[i].Buffers[0] = buf[packet.HeadersLen:]
			msgs[i].N, msgs[i].NN = 0, 0
		}

		n, err := d.pc.ReadBatch(msgs, 0)
		if err != nil {
			if d.closing.Load() {
				for _, f := range frames {
					d.pool.Put(f)
				}
				return
			}
			d.log.Warn("failed to read datagrams", zap.Error(err))
			continue
		}

		for i := 0; i < n; i++ {
			if frames[i] == nil {
				d.counters.Overrun()
				continue
			}
			if !d.deliver(prog, frames[i], &msgs[i]) {
				frames[i] = nil
			}
		}
	}
}

// deliver frames one datagram and runs prog on it. It reports whether the
// receive loop still owns the frame.
func (d *Device) deliver(prog xdp.Program, frame []byte, msg *ipv4.Message) bool {
	ua, ok := msg.Addr.(*net.UDPAddr)
	if !ok || ua.IP.To4() == nil {
		return true
	}
	var src packet.Addr
	copy(src.IP[:], ua.IP.To4())
	src.Port = uint16(ua.Port)

	dst := d.local
	if d.wantDst && msg.NN > 0 {
		var cm ipv4.ControlMessage
		if err := cm.Parse(msg.OOB[:msg.NN]); err == nil && cm.Dst.To4() != nil {
			copy(dst.IP[:], cm.Dst.To4())
		}
	}

	packet.PutHeaders(frame, src, dst, msg.N)
	_, own := device.Run(prog, frame[:packet.HeadersLen+msg.N], &d.counters)
	return own
}

// Release recycles a frame a worker dropped instead of transmitting.
func (d *Device) Release(frame []byte) { d.pool.Put(frame) }

// Transmit sends the payload of a response frame to the destination in its
// headers and recycles the frame.
func (d *Device) Transmit(frame []byte) error {
	defer d.pool.Put(frame)

	h, err := packet.Parse(frame)
	if err != nil {
		return err
	}
	_, dst := h.Endpoints(frame)
	addr := &net.UDPAddr{
		IP:   net.IPv4(dst.IP[0], dst.IP[1], dst.IP[2], dst.IP[3]),
		Port: int(dst.Port),
	}
	if _, err := d.pc.WriteTo(h.Payload(frame), nil, addr); err != nil {
		if ce := d.log.Check(zapcore.DebugLevel, "failed to send response"); ce != nil {
			ce.Write(zap.Error(err))
		}
		return err
	}
	d.counters.Transmitted()
	return nil
}
