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

	"go.uber.org/nicsched/state"
)

// RoundRobin visits its roster in order, one packet per CPU.
type RoundRobin struct {
	roster *state.Roster
	cursor state.Cursor
}

var _ Policy = (*RoundRobin)(nil)

// NewRoundRobin returns a plain round-robin policy over roster.
func NewRoundRobin(roster *state.Roster) (*RoundRobin, error) {
	if roster == nil || roster.Len() == 0 {
		return nil, errors.New("round-robin policy needs at least one cpu")
	}
	return &RoundRobin{roster: roster}, nil
}

// Kind returns PlainRR.
func (*RoundRobin) Kind() Kind { return PlainRR }

// Select returns roster[c] and advances c modulo the roster size.
func (p *RoundRobin) Select(uint8) (Selection, error) {
	return next(p.roster, &p.cursor, p.roster.Len())
}

// Routes keys every roster CPU by its own identifier.
func (p *RoundRobin) Routes() []Route { return routesByCPU(p.roster) }

// Roster returns the roster the policy rotates through.
func (p *RoundRobin) Roster() *state.Roster { return p.roster }

// Cursor exposes the round-robin cursor.
func (p *RoundRobin) Cursor() *state.Cursor { return &p.cursor }
