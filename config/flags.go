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
	"time"
)

// Flags overlays command line flags on a Config. Only flags that were set
// override the file.
type Flags struct {
	fs *flag.FlagSet

	File         string
	port         int
	ifname       string
	policy       string
	cpus         int
	reservedLong int
	duration     int
	interval     time.Duration
	pin          bool
}

// NewFlags registers the benchmark server flags on fs.
func NewFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.File, "config", "", "path to a YAML configuration file")
	fs.IntVar(&f.port, "port", 0, "UDP port of benchmark traffic")
	fs.StringVar(&f.ifname, "ifname", "", "network interface to attach to")
	fs.StringVar(&f.policy, "policy", "", "dispatch policy: plain-rr (rr), class-separated-rr (rrcs) or dynamic-alloc (dca)")
	fs.IntVar(&f.cpus, "cpus", 0, "number of cpus to dispatch to")
	fs.IntVar(&f.reservedLong, "reserved-long", 0, "cpus reserved for long requests under class-separated-rr")
	fs.IntVar(&f.duration, "duration", 0, "run duration in seconds")
	fs.DurationVar(&f.interval, "interval", 0, "control loop sampling interval")
	fs.BoolVar(&f.pin, "pin", false, "pin each worker to its cpu")
	return f
}

// Load reads the configuration file, if any, and applies the flags that were
// set on the command line.
func (f *Flags) Load() (Config, error) {
	cfg := Default()
	if f.File != "" {
		var err error
		if cfg, err = LoadFile(f.File); err != nil {
			return Config{}, err
		}
	}
	f.Apply(&cfg)
	return cfg, nil
}

// Apply copies explicitly set flags into cfg.
func (f *Flags) Apply(cfg *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			cfg.Port = f.port
		case "ifname":
			cfg.Interface = f.ifname
		case "policy":
			cfg.Policy = f.policy
		case "cpus":
			cfg.CPUs = f.cpus
		case "reserved-long":
			cfg.ReservedLong = f.reservedLong
		case "duration":
			cfg.Duration = f.duration
		case "interval":
			cfg.Interval = f.interval
		case "pin":
			cfg.PinWorkers = f.pin
		}
	})
}
