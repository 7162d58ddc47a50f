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

// nicsched runs a UDP benchmark server that dispatches requests across CPUs
// with a round robin, class-separated or dynamically sized core group
// policy, and records per-interval throughput and queuing delay.
//
//   nicsched -ifname eth0 -policy dca -cpus 8 -duration 60
//   nicsched -config server.yaml -pin
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/nicsched/config"
	"go.uber.org/nicsched/server"
	"go.uber.org/nicsched/server/serverfx"
)

const (
	_startTimeout = 15 * time.Second
	_stopTimeout  = 15 * time.Second
)

func main() {
	if err := do(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func do(args []string) error {
	fs := flag.NewFlagSet("nicsched", flag.ContinueOnError)
	flags := config.NewFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := flags.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}

	var s *server.Server
	app := fx.New(
		fx.Provide(func() config.Config { return cfg }),
		serverfx.Module,
		fx.Invoke(func(srv *server.Server) { s = srv }),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), _startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	select {
	case <-s.Done():
	case sig := <-app.Done():
		log.Printf("received %v, stopping early", sig)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), _stopTimeout)
	defer cancel()
	return app.Stop(stopCtx)
}
