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

package serverfx

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/nicsched/config"
	"go.uber.org/zap"
)

const (
	_scopePrefix    = "nicsched"
	_reportInterval = time.Second
	_metricsPath    = "/metrics"
	_separator      = "_"
)

// ScopeParams defines the dependencies of this module.
type ScopeParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Logger    *zap.Logger
}

// ScopeResult defines the values produced by this module.
type ScopeResult struct {
	fx.Out

	Scope tally.Scope
	// Handler serves every metric reported through Scope in the Prometheus
	// exposition format. It is nil when no Prometheus address is configured.
	Handler http.Handler `name:"metrics"`
}

// NewScope produces the root metrics scope. With telemetry.prometheus set,
// the scope reports to a private Prometheus registry served over HTTP on that
// address; otherwise metrics are discarded.
func NewScope(p ScopeParams) (ScopeResult, error) {
	addr := p.Config.Telemetry.Prometheus
	if addr == "" {
		return ScopeResult{Scope: tally.NoopScope}, nil
	}

	reporter := newPromReporter(func(err error) {
		p.Logger.Warn("could not register metric", zap.String("module", _name), zap.Error(err))
	})
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:    _scopePrefix,
		Reporter:  reporter,
		Separator: _separator,
	}, _reportInterval)

	mux := http.NewServeMux()
	mux.Handle(_metricsPath, reporter)
	srv := &http.Server{Handler: mux}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen for metrics on %q: %v", addr, err)
			}
			p.Logger.Info("serving metrics", zap.Stringer("addr", ln.Addr()), zap.String("path", _metricsPath))
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					p.Logger.Error("metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return multierr.Append(srv.Shutdown(ctx), closer.Close())
		},
	})
	return ScopeResult{Scope: scope, Handler: reporter}, nil
}
