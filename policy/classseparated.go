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

package policy

import (
	"errors"
	"fmt"

	"go.uber.org/nicsched/state"
)

// ClassSeparated keeps short and long requests on disjoint rosters, each
// with its own round-robin cursor.
//
// Both classes index one CPU redirect table: short slot i uses key i and long
// slot j uses key short.Len()+j.
type ClassSeparated struct {
	short, long             *state.Roster
	shortCursor, longCursor state.Cursor
	threshold               uint8
}

var _ Policy = (*ClassSeparated)(nil)

// ClassSeparatedOption customizes a ClassSeparated policy.
type ClassSeparatedOption func(*ClassSeparated)

// Threshold sets the workload at which requests become long.
//
// Defaults to DefaultClassThreshold.
func Threshold(t uint8) ClassSeparatedOption {
	return func(p *ClassSeparated) {
		p.threshold = t
	}
}

// NewClassSeparated returns a class-separated round-robin policy.
func NewClassSeparated(short, long *state.Roster, opts ...ClassSeparatedOption) (*ClassSeparated, error) {
	if short == nil || short.Len() == 0 {
		return nil, errors.New("class-separated policy needs at least one short cpu")
	}
	if long == nil || long.Len() == 0 {
		return nil, errors.New("class-separated policy needs at least one long cpu")
	}
	if int(short.Len()+long.Len()) > state.MaxCPUs {
		return nil, fmt.Errorf("class-separated rosters hold %d cpus, more than %d", short.Len()+long.Len(), state.MaxCPUs)
	}
	shortCPUs := make(map[uint32]struct{}, short.Len())
	for _, cpu := range short.CPUs() {
		shortCPUs[cpu] = struct{}{}
	}
	for _, cpu := range long.CPUs() {
		if _, ok := shortCPUs[cpu]; ok {
			return nil, fmt.Errorf("cpu %d is reserved for both short and long requests", cpu)
		}
	}

	p := &ClassSeparated{short: short, long: long, threshold: DefaultClassThreshold}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Kind returns ClassSeparatedRR.
func (*ClassSeparated) Kind() Kind { return ClassSeparatedRR }

// Select classifies the request and rotates through its class's roster.
func (p *ClassSeparated) Select(workload uint8) (Selection, error) {
	class := Classify(workload, p.threshold)
	roster, cursor, offset := p.short, &p.shortCursor, uint32(0)
	if class == Long {
		roster, cursor, offset = p.long, &p.longCursor, p.short.Len()
	}

	sel, err := next(roster, cursor, roster.Len())
	sel.Class = class
	sel.Key = offset + sel.Slot
	return sel, err
}

// Routes maps key k to the k-th CPU of short followed by long.
func (p *ClassSeparated) Routes() []Route {
	routes := make([]Route, 0, p.short.Len()+p.long.Len())
	for i, cpu := range p.short.CPUs() {
		routes = append(routes, Route{Key: uint32(i), CPU: cpu})
	}
	for j, cpu := range p.long.CPUs() {
		routes = append(routes, Route{Key: p.short.Len() + uint32(j), CPU: cpu})
	}
	return routes
}

// ShortRoster returns the roster serving short requests.
func (p *ClassSeparated) ShortRoster() *state.Roster { return p.short }

// LongRoster returns the roster serving long requests.
func (p *ClassSeparated) LongRoster() *state.Roster { return p.long }

// ClassThreshold returns the workload at which requests become long.
func (p *ClassSeparated) ClassThreshold() uint8 { return p.threshold }
