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

package config

import (
	"flag"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/nicsched/policy"
)

func TestLoad(t *testing.T) {
	cfg, err := Load(strings.NewReader(`
port: 6000
ifname: eth1
policy: rrcs
cpus: 6
reservedLong: 2
duration: 30
interval: 500ms
pinWorkers: true
dynamic:
  minCPUs: 3
telemetry:
  csv: out/rx_tx.csv
logging:
  level: debug
`))
	require.NoError(t, err)

	want := Default()
	want.Port = 6000
	want.Interface = "eth1"
	want.Policy = "rrcs"
	want.CPUs = 6
	want.ReservedLong = 2
	want.Duration = 30
	want.Interval = 500 * time.Millisecond
	want.PinWorkers = true
	want.Dynamic.MinCPUs = 3
	want.Telemetry.CSV = "out/rx_tx.csv"
	want.Logging.Level = "debug"
	assert.Equal(t, want, cfg)

	require.NoError(t, cfg.Validate())
	kind, err := cfg.PolicyKind()
	require.NoError(t, err)
	assert.Equal(t, policy.ClassSeparatedRR, kind)
	assert.Equal(t, 30*time.Second, cfg.RunDuration())
}

func TestLoadEmpty(t *testing.T) {
	cfg, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(strings.NewReader("port: [1, 2"))
	assert.Error(t, err)

	_, err = Load(strings.NewReader("port: not-a-number"))
	assert.Error(t, err)

	_, err = Load(strings.NewReader("interval: forever"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "nicsched-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte("ifname: lo\ncpus: 4\n"), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "lo", cfg.Interface)
	assert.Equal(t, 4, cfg.CPUs)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func valid() Config {
	cfg := Default()
	cfg.Interface = "eth0"
	cfg.CPUs = 8
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		msg      string
		mutate   func(*Config)
		wantErrs []string
	}{
		{msg: "defaults with the required fields", mutate: func(*Config) {}},
		{
			msg: "everything wrong",
			mutate: func(c *Config) {
				c.Port = 70000
				c.Interface = ""
				c.CPUs = 0
				c.Duration = 0
				c.Interval = 0
				c.QueueSize = 0
				c.CostFactor = -1
				c.Logging.Level = "loud"
				c.Policy = "random"
			},
			wantErrs: []string{
				"port must be in [1, 65535], got 70000",
				"ifname is required",
				"cpus must be in [1, 256], got 0",
				"duration must be positive, got 0",
				"interval must be positive, got 0s",
				"queueSize must be positive, got 0",
				"costFactor must not be negative, got -1",
				`invalid logging.level "loud"`,
				`unknown policy "random"`,
			},
		},
		{
			msg: "class-separated needs both classes",
			mutate: func(c *Config) {
				c.Policy = "class-separated-rr"
				c.ReservedLong = 8
				c.ClassThreshold = 0
			},
			wantErrs: []string{
				"reservedLong must leave at least one cpu to each class: got 8 of 8 cpus",
				"classThreshold must be in [1, 255], got 0",
			},
		},
		{
			msg: "class-separated",
			mutate: func(c *Config) {
				c.Policy = "class-separated-rr"
				c.ReservedLong = 2
			},
		},
		{
			msg: "dynamic bounds",
			mutate: func(c *Config) {
				c.CPUs = 4
				c.Dynamic = Dynamic{MinCPUs: 0, MaxCPUs: 6}
			},
			wantErrs: []string{
				"dynamic.minCPUs must be positive, got 0",
				"dynamic.maxCPUs 6 exceeds the 4 configured cpus",
				"dynamic.delayThreshold must be positive, got 0s",
			},
		},
		{
			msg: "dynamic max below min",
			mutate: func(c *Config) {
				c.Dynamic.MinCPUs = 4
				c.Dynamic.MaxCPUs = 3
			},
			wantErrs: []string{"dynamic.maxCPUs 3 is below dynamic.minCPUs 4"},
		},
		{
			msg: "plain ignores dynamic bounds",
			mutate: func(c *Config) {
				c.Policy = "rr"
				c.Dynamic = Dynamic{}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if len(tt.wantErrs) == 0 {
				assert.NoError(t, err)
				return
			}
			errs := multierr.Errors(err)
			require.Len(t, errs, len(tt.wantErrs), "got %v", err)
			for i, want := range tt.wantErrs {
				assert.Contains(t, errs[i].Error(), want)
			}
		})
	}
}

func TestRosters(t *testing.T) {
	cfg := valid()
	cfg.CPUs = 5
	cfg.ReservedLong = 2
	assert.Equal(t, []uint32{0, 1, 2, 3, 4}, cfg.Roster())

	short, long := cfg.ClassRosters()
	assert.Equal(t, []uint32{0, 1, 2}, short)
	assert.Equal(t, []uint32{3, 4}, long)
}

func TestLoggingBuild(t *testing.T) {
	logger, err := Logging{Level: "warn"}.Build()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1), "debug is off at warn")

	logger, err = Logging{Development: true}.Build()
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = Logging{Level: "chatty"}.Build()
	assert.Error(t, err)
}

func TestFlags(t *testing.T) {
	dir, err := ioutil.TempDir("", "nicsched-flags")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte("ifname: eth0\ncpus: 4\nduration: 10\n"), 0644))

	fs := flag.NewFlagSet("nicsched", flag.ContinueOnError)
	flags := NewFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"-config", path,
		"-cpus", "6",
		"-policy", "dca",
		"-interval", "2s",
		"-pin",
	}))

	cfg, err := flags.Load()
	require.NoError(t, err)
	assert.Equal(t, "eth0", cfg.Interface, "unset flags keep file values")
	assert.Equal(t, 10, cfg.Duration)
	assert.Equal(t, 6, cfg.CPUs)
	assert.Equal(t, "dca", cfg.Policy)
	assert.Equal(t, 2*time.Second, cfg.Interval)
	assert.True(t, cfg.PinWorkers)
	assert.Equal(t, Default().Port, cfg.Port)
}

func TestFlagsWithoutFile(t *testing.T) {
	fs := flag.NewFlagSet("nicsched", flag.ContinueOnError)
	flags := NewFlags(fs)
	require.NoError(t, fs.Parse([]string{"-ifname", "lo", "-cpus", "2", "-port", "7000", "-reserved-long", "1", "-duration", "5"}))

	cfg, err := flags.Load()
	require.NoError(t, err)
	assert.Equal(t, "lo", cfg.Interface)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, 1, cfg.ReservedLong)
	assert.Equal(t, 5, cfg.Duration)
}
