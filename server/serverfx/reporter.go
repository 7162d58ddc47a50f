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
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uber-go/tally"
)

// Match the Prometheus error message.
var errInconsistentCardinality = errors.New("inconsistent label cardinality")

// promReporter is a tally.StatsReporter that keeps every reported value in a
// private Prometheus registry. Counters arrive from tally as deltas and are
// accumulated; gauges keep the last value; timers feed a summary.
type promReporter struct {
	registry *prometheus.Registry
	handler  http.Handler
	onError  func(error)

	mu      sync.Mutex
	vectors map[string]promVector
}

// promVector is one registered metric name with its fixed label names.
type promVector struct {
	labels  []string
	counter *prometheus.CounterVec
	gauge   *prometheus.GaugeVec
	summary *prometheus.SummaryVec
}

var _ tally.StatsReporter = (*promReporter)(nil)

func newPromReporter(onError func(error)) *promReporter {
	registry := prometheus.NewRegistry()
	return &promReporter{
		registry: registry,
		handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			ErrorHandling: promhttp.HTTPErrorOnError, // 500 on errors
		}),
		onError: onError,
		vectors: make(map[string]promVector),
	}
}

// ServeHTTP serves the Prometheus exposition of every reported metric.
func (r *promReporter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *promReporter) ReportCounter(name string, tags map[string]string, value int64) {
	if value < 0 {
		return
	}
	v, ok := r.vector(name, tags, func(opts metricOpts) promVector {
		return promVector{counter: prometheus.NewCounterVec(prometheus.CounterOpts(opts.Opts), opts.labels)}
	})
	if !ok || v.counter == nil {
		return
	}
	v.counter.With(tags).Add(float64(value))
}

func (r *promReporter) ReportGauge(name string, tags map[string]string, value float64) {
	v, ok := r.vector(name, tags, func(opts metricOpts) promVector {
		return promVector{gauge: prometheus.NewGaugeVec(prometheus.GaugeOpts(opts.Opts), opts.labels)}
	})
	if !ok || v.gauge == nil {
		return
	}
	v.gauge.With(tags).Set(value)
}

func (r *promReporter) ReportTimer(name string, tags map[string]string, interval time.Duration) {
	v, ok := r.vector(name, tags, func(opts metricOpts) promVector {
		return promVector{summary: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name: opts.Name,
			Help: opts.Help,
		}, opts.labels)}
	})
	if !ok || v.summary == nil {
		return
	}
	v.summary.With(tags).Observe(interval.Seconds())
}

// Histogram samples are exported as one counter per bucket upper bound.
func (r *promReporter) ReportHistogramValueSamples(
	name string,
	tags map[string]string,
	_ tally.Buckets,
	_, upper float64,
	samples int64,
) {
	r.ReportCounter(name+"_bucket", withBound(tags, fmt.Sprint(upper)), samples)
}

func (r *promReporter) ReportHistogramDurationSamples(
	name string,
	tags map[string]string,
	_ tally.Buckets,
	_, upper time.Duration,
	samples int64,
) {
	r.ReportCounter(name+"_bucket", withBound(tags, fmt.Sprint(upper.Seconds())), samples)
}

func (r *promReporter) Capabilities() tally.Capabilities { return r }

func (r *promReporter) Reporting() bool { return true }

func (r *promReporter) Tagging() bool { return true }

// Flush is a no-op; the registry is read on every scrape.
func (r *promReporter) Flush() {}

type metricOpts struct {
	prometheus.Opts

	labels []string
}

// vector returns the metric registered under name, registering it with
// build on first use. Later reports must carry the same label names.
func (r *promReporter) vector(name string, tags map[string]string, build func(metricOpts) promVector) (promVector, bool) {
	name = scrubName(name)
	labels := make([]string, 0, len(tags))
	for k := range tags {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.vectors[name]; ok {
		if !sameLabels(v.labels, labels) {
			r.onError(fmt.Errorf("metric %q: %v", name, errInconsistentCardinality))
			return promVector{}, false
		}
		return v, true
	}

	v := build(metricOpts{
		Opts:   prometheus.Opts{Name: name, Help: name},
		labels: labels,
	})
	v.labels = labels
	var c prometheus.Collector
	switch {
	case v.counter != nil:
		c = v.counter
	case v.gauge != nil:
		c = v.gauge
	default:
		c = v.summary
	}
	if err := r.registry.Register(c); err != nil {
		r.onError(fmt.Errorf("metric %q: %v", name, err))
		return promVector{}, false
	}
	r.vectors[name] = v
	return v, true
}

func withBound(tags map[string]string, le string) map[string]string {
	out := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		out[k] = v
	}
	out["le"] = le
	return out
}

func sameLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// scrubName replaces characters Prometheus does not allow in metric names.
func scrubName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			return r
		default:
			return '_'
		}
	}, name)
}
