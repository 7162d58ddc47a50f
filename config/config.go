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

// Package config describes a benchmark server run. A Config is read once at
// startup, from a YAML file overlaid with command line flags, and never
// changes afterwards.
//
//   port: 50000
//   ifname: eth0
//   policy: dynamic-alloc
//   cpus: 8
//   duration: 60
//   dynamic:
//     minCPUs: 2
//     maxCPUs: 8
//     delayThreshold: 200us
//   telemetry:
//     csv: server_results/rx_tx.csv
//     growthLog: server_results/cpu_added_timestamps.txt
//     prometheus: ":9102"
package config

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/nicsched/policy"
	"go.uber.org/nicsched/state"
	"go.uber.org/zap"
)

// Config is the full configuration of a benchmark server run.
type Config struct {
	// Port is the UDP port benchmark requests are addressed to.
	Port int `config:"port"`
	// Interface names the network device to attach to.
	Interface string `config:"ifname"`
	// Policy selects the dispatch policy: plain-rr, class-separated-rr or
	// dynamic-alloc.
	Policy string `config:"policy"`
	// CPUs is the total number of CPUs the policies may dispatch to.
	CPUs int `config:"cpus"`
	// ReservedLong is the number of CPUs, taken from the top of the range,
	// that serve long requests under class-separated-rr.
	ReservedLong int `config:"reservedLong"`
	// Duration is the length of the run in seconds.
	Duration int `config:"duration"`

	Interval       time.Duration `config:"interval"`
	QueueSize      int           `config:"queueSize"`
	ClassThreshold int           `config:"classThreshold"`
	CostFactor     int           `config:"costFactor"`
	PinWorkers     bool          `config:"pinWorkers"`

	Dynamic   Dynamic   `config:"dynamic"`
	Telemetry Telemetry `config:"telemetry"`
	Logging   Logging   `config:"logging"`
}

// Dynamic configures the dynamic-alloc policy's core group.
type Dynamic struct {
	MinCPUs        int           `config:"minCPUs"`
	MaxCPUs        int           `config:"maxCPUs"`
	DelayThreshold time.Duration `config:"delayThreshold"`
}

// Telemetry configures where interval summaries go. Empty values turn the
// corresponding recorder off.
type Telemetry struct {
	CSV        string `config:"csv"`
	GrowthLog  string `config:"growthLog"`
	Prometheus string `config:"prometheus"`
}

// Logging configures the process logger.
type Logging struct {
	Level       string `config:"level"`
	Development bool   `config:"development"`
}

// Default returns the configuration used for anything not set explicitly.
func Default() Config {
	return Config{
		Port:           50000,
		Policy:         policy.DynamicAlloc.String(),
		Duration:       60,
		Interval:       time.Second,
		QueueSize:      4096,
		ClassThreshold: policy.DefaultClassThreshold,
		CostFactor:     10,
		Dynamic: Dynamic{
			MinCPUs:        2,
			MaxCPUs:        8,
			DelayThreshold: 200 * time.Microsecond,
		},
		Logging: Logging{Level: "info"},
	}
}

// PolicyKind parses Policy.
func (c Config) PolicyKind() (policy.Kind, error) {
	return policy.ParseKind(c.Policy)
}

// RunDuration returns Duration as a time.Duration.
func (c Config) RunDuration() time.Duration {
	return time.Duration(c.Duration) * time.Second
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var err error
	if c.Port <= 0 || c.Port > math.MaxUint16 {
		err = multierr.Append(err, fmt.Errorf("port must be in [1, %d], got %d", math.MaxUint16, c.Port))
	}
	if c.Interface == "" {
		err = multierr.Append(err, fmt.Errorf("ifname is required"))
	}
	if c.CPUs <= 0 || c.CPUs > state.MaxCPUs {
		err = multierr.Append(err, fmt.Errorf("cpus must be in [1, %d], got %d", state.MaxCPUs, c.CPUs))
	}
	if c.Duration <= 0 {
		err = multierr.Append(err, fmt.Errorf("duration must be positive, got %d", c.Duration))
	}
	if c.Interval <= 0 {
		err = multierr.Append(err, fmt.Errorf("interval must be positive, got %v", c.Interval))
	}
	if c.QueueSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("queueSize must be positive, got %d", c.QueueSize))
	}
	if c.CostFactor < 0 {
		err = multierr.Append(err, fmt.Errorf("costFactor must not be negative, got %d", c.CostFactor))
	}
	if _, lerr := c.Logging.level(); lerr != nil {
		err = multierr.Append(err, lerr)
	}

	kind, perr := c.PolicyKind()
	if perr != nil {
		return multierr.Append(err, perr)
	}
	switch kind {
	case policy.ClassSeparatedRR:
		if c.ReservedLong <= 0 || c.ReservedLong >= c.CPUs {
			err = multierr.Append(err, fmt.Errorf(
				"reservedLong must leave at least one cpu to each class: got %d of %d cpus", c.ReservedLong, c.CPUs))
		}
		if c.ClassThreshold <= 0 || c.ClassThreshold > math.MaxUint8 {
			err = multierr.Append(err, fmt.Errorf("classThreshold must be in [1, %d], got %d", math.MaxUint8, c.ClassThreshold))
		}
	case policy.DynamicAlloc:
		d := c.Dynamic
		if d.MinCPUs <= 0 {
			err = multierr.Append(err, fmt.Errorf("dynamic.minCPUs must be positive, got %d", d.MinCPUs))
		}
		if d.MaxCPUs < d.MinCPUs {
			err = multierr.Append(err, fmt.Errorf("dynamic.maxCPUs %d is below dynamic.minCPUs %d", d.MaxCPUs, d.MinCPUs))
		}
		if d.MaxCPUs > c.CPUs {
			err = multierr.Append(err, fmt.Errorf("dynamic.maxCPUs %d exceeds the %d configured cpus", d.MaxCPUs, c.CPUs))
		}
		if d.DelayThreshold <= 0 {
			err = multierr.Append(err, fmt.Errorf("dynamic.delayThreshold must be positive, got %v", d.DelayThreshold))
		}
	}
	return err
}

// Roster returns the CPUs of the plain-rr and dynamic-alloc policies.
func (c Config) Roster() []uint32 {
	return state.Sequence(0, c.CPUs)
}

// ClassRosters splits the CPUs for class-separated-rr: the last ReservedLong
// serve long requests and the rest serve short ones.
func (c Config) ClassRosters() (short, long []uint32) {
	split := c.CPUs - c.ReservedLong
	return state.Sequence(0, split), state.Sequence(split, c.ReservedLong)
}

func (l Logging) level() (zap.AtomicLevel, error) {
	lvl := zap.NewAtomicLevel()
	if l.Level == "" {
		return lvl, nil
	}
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return lvl, fmt.Errorf("invalid logging.level %q: %v", l.Level, err)
	}
	return lvl, nil
}

// Build returns the process logger.
func (l Logging) Build(opts ...zap.Option) (*zap.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if l.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = lvl
	return cfg.Build(opts...)
}
