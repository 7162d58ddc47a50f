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

// Package serverfx runs a benchmark server inside an fx application.
package serverfx

import (
	"context"

	"github.com/uber-go/tally"
	"go.uber.org/fx"
	"go.uber.org/nicsched/config"
	"go.uber.org/nicsched/device"
	"go.uber.org/nicsched/server"
	"go.uber.org/zap"
)

const _name = "serverfx"

// Module produces a benchmark server from a config.Config and ties it to the
// application lifecycle.
var Module = fx.Options(
	fx.Provide(NewLogger),
	fx.Provide(NewScope),
	fx.Provide(NewServer),
)

// LoggerParams defines the dependencies of this module.
type LoggerParams struct {
	fx.In

	Config config.Config
}

// LoggerResult defines the values produced by this module.
type LoggerResult struct {
	fx.Out

	Logger *zap.Logger
}

// NewLogger builds the process logger from the logging configuration.
func NewLogger(p LoggerParams) (LoggerResult, error) {
	logger, err := p.Config.Logging.Build()
	if err != nil {
		return LoggerResult{}, err
	}
	return LoggerResult{Logger: logger}, nil
}

// ServerParams defines the dependencies of this module.
type ServerParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Logger    *zap.Logger
	Scope     tally.Scope
	Device    device.Device `optional:"true"`
}

// ServerResult defines the values produced by this module.
type ServerResult struct {
	fx.Out

	Server *server.Server
}

// NewServer builds the server and starts it with the application.
func NewServer(p ServerParams) (ServerResult, error) {
	opts := []server.Option{
		server.Logger(p.Logger),
		server.Scope(p.Scope),
	}
	if p.Device != nil {
		opts = append(opts, server.Device(p.Device))
	}
	s, err := server.New(p.Config, opts...)
	if err != nil {
		return ServerResult{}, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return s.Start()
		},
		OnStop: func(context.Context) error {
			return s.Stop()
		},
	})
	return ServerResult{Server: s}, nil
}
