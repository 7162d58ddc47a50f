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

package server

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/nicsched/config"
	"go.uber.org/nicsched/device/devicetest"
	"go.uber.org/nicsched/internal/clock"
	"go.uber.org/nicsched/packet"
	"go.uber.org/nicsched/telemetry"
	"go.uber.org/nicsched/worker"
	"go.uber.org/nicsched/xdp"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	_client = packet.Addr{MAC: [6]byte{2, 0, 0, 0, 0, 1}, IP: [4]byte{10, 0, 0, 1}, Port: 41000}
	_server = packet.Addr{MAC: [6]byte{2, 0, 0, 0, 0, 2}, IP: [4]byte{10, 0, 0, 2}, Port: 50000}
)

// summaries forwards every emitted summary to a channel.
type summaries chan telemetry.Summary

func (s summaries) Emit(sum telemetry.Summary) error {
	s <- sum
	return nil
}

func (summaries) Close() error { return nil }

func baseConfig(policy string, cpus int) config.Config {
	cfg := config.Default()
	cfg.Interface = "lo0"
	cfg.Policy = policy
	cfg.CPUs = cpus
	return cfg
}

type fixture struct {
	server *Server
	dev    *devicetest.Loopback
	clock  *clock.FakeClock
	sums   summaries
}

func start(t *testing.T, cfg config.Config) *fixture {
	f := &fixture{
		dev:   devicetest.NewLoopback("lo0", 64),
		clock: clock.NewFake(),
		sums:  make(summaries, 16),
	}
	var err error
	f.server, err = New(cfg,
		Device(f.dev),
		Clock(f.clock),
		Logger(zaptest.NewLogger(t)),
		Sink(f.sums),
	)
	require.NoError(t, err)
	require.NoError(t, f.server.Start())
	return f
}

func (f *fixture) request(t *testing.T, workload uint8) {
	frame := packet.NewRequest(_client, _server, packet.AppHeader{LeaveClient: 1, Workload: workload})
	require.Equal(t, xdp.Redirect, f.dev.Inject(frame))
}

func (f *fixture) response(t *testing.T) packet.Headers {
	select {
	case frame := <-f.dev.Sent():
		h, err := packet.Parse(frame)
		require.NoError(t, err)
		src, dst := h.Endpoints(frame)
		assert.Equal(t, _server, src)
		assert.Equal(t, _client, dst)
		return h
	case <-time.After(5 * time.Second):
		t.Fatal("no response was transmitted")
		return packet.Headers{}
	}
}

func (f *fixture) transmitted(t *testing.T, cpu uint32) uint64 {
	slot, ok := f.server.Arena().Telemetry.Slot(cpu)
	require.True(t, ok)
	return slot.TxPackets.Load()
}

// awaitTransmitted waits for cpu to credit want responses. Workers credit a
// response after the device accepts it, so the count can trail Sent.
func (f *fixture) awaitTransmitted(t *testing.T, cpu uint32, want uint64, msgAndArgs ...interface{}) {
	deadline := time.Now().Add(5 * time.Second)
	for f.transmitted(t, cpu) < want && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, want, f.transmitted(t, cpu), msgAndArgs...)
}

func TestRoundRobinEndToEnd(t *testing.T) {
	f := start(t, baseConfig("rr", 3))
	defer func() { assert.NoError(t, f.server.Stop()) }()

	for i := 0; i < 6; i++ {
		f.request(t, 1)
	}
	for i := 0; i < 6; i++ {
		f.response(t)
	}
	for cpu := uint32(0); cpu < 3; cpu++ {
		f.awaitTransmitted(t, cpu, 2, "cpu %d", cpu)
	}
	assert.Nil(t, f.server.CoreGroup())
	assert.Equal(t, uint64(6), f.server.Arena().Aggregates.Received.Load())
}

func TestClassSeparatedEndToEnd(t *testing.T) {
	cfg := baseConfig("class-separated-rr", 3)
	cfg.ReservedLong = 1
	f := start(t, cfg)
	defer func() { assert.NoError(t, f.server.Stop()) }()

	f.request(t, 3)
	f.response(t)
	f.awaitTransmitted(t, 0, 1, "short requests start on the first short cpu")

	f.request(t, 50)
	f.response(t)
	f.awaitTransmitted(t, 2, 1, "long requests go to the reserved cpu")
	assert.Zero(t, f.transmitted(t, 1))
}

func TestDynamicGrowsAndRecords(t *testing.T) {
	dir, err := ioutil.TempDir("", "nicsched-server")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	cfg := baseConfig("dynamic-alloc", 4)
	cfg.Duration = 2
	cfg.Dynamic.MaxCPUs = 4
	cfg.Telemetry.CSV = filepath.Join(dir, "results", "rx_tx.csv")
	cfg.Telemetry.GrowthLog = filepath.Join(dir, "results", "cpu_added_timestamps.txt")
	f := start(t, cfg)
	require.NotNil(t, f.server.CoreGroup())
	assert.Equal(t, uint32(2), f.server.CoreGroup().Load())

	// Every packet waited well past the threshold on cpu 0.
	slot, _ := f.server.Arena().Telemetry.Slot(0)
	agg := f.server.Arena().Aggregates
	for i := 0; i < 10; i++ {
		agg.Received.Inc()
		slot.Record(uint64(time.Millisecond))
		agg.Transmitted.Inc()
	}

	f.clock.BlockUntil(1)
	f.clock.Add(time.Second)
	first := <-f.sums
	assert.True(t, first.Grew)
	assert.Equal(t, uint32(3), first.CoreGroupSize)
	assert.Equal(t, time.Millisecond, first.AvgDelay)

	f.clock.BlockUntil(1)
	f.clock.Add(time.Second)
	second := <-f.sums
	assert.False(t, second.Grew, "an idle interval does not grow the group")

	select {
	case <-f.server.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not end after its duration")
	}
	require.NoError(t, f.server.Stop())

	csv, err := ioutil.ReadFile(cfg.Telemetry.CSV)
	require.NoError(t, err)
	assert.Equal(t, "rx,tx\n10,10\n0,0\n", string(csv))

	growth, err := ioutil.ReadFile(cfg.Telemetry.GrowthLog)
	require.NoError(t, err)
	assert.Equal(t, "1000000000 3\n", string(growth))
}

func TestStopDetaches(t *testing.T) {
	f := start(t, baseConfig("rr", 2))
	for _, key := range []uint32{worker.EgressKey, worker.OwnerKey} {
		dev, ok := f.server.Arena().Devices.Lookup(key)
		require.True(t, ok, "device installed at key %d", key)
		assert.Equal(t, f.dev, dev)
	}
	require.NoError(t, f.server.Stop())

	frame := packet.NewRequest(_client, _server, packet.AppHeader{Workload: 1})
	assert.Equal(t, xdp.Pass, f.dev.Inject(frame), "no program after stop")
	_, ok := f.server.Arena().CPUs.Lookup(0)
	assert.False(t, ok)
	_, ok = f.server.Arena().Devices.Lookup(worker.OwnerKey)
	assert.False(t, ok)
	assert.NoError(t, f.server.Stop(), "stop is idempotent")
}

func TestNewErrors(t *testing.T) {
	_, err := New(config.Default())
	assert.Error(t, err, "no interface")

	cfg := baseConfig("rr", 2)
	cfg.Telemetry.CSV = string([]byte{0})
	_, err = New(cfg)
	assert.Error(t, err, "unusable csv path")
}

func TestStopWithoutStartClosesFiles(t *testing.T) {
	dir, err := ioutil.TempDir("", "nicsched-server")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	cfg := baseConfig("rr", 2)
	cfg.Telemetry.CSV = filepath.Join(dir, "rx_tx.csv")
	s, err := New(cfg, Device(devicetest.NewLoopback("lo0", 1)))
	require.NoError(t, err)
	require.NoError(t, s.Stop())

	csv, err := ioutil.ReadFile(cfg.Telemetry.CSV)
	require.NoError(t, err)
	assert.Equal(t, "rx,tx\n", string(csv))
}
