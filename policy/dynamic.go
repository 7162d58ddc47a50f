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

// Dynamic rotates like RoundRobin but only through the first
// group.Load() slots of its roster. The size is read on every packet, so
// growing the group admits the next CPU immediately and shrinking it stops
// traffic to the top of the range immediately.
type Dynamic struct {
	roster *state.Roster
	group  *state.CoreGroup
	cursor state.Cursor
}

var _ Policy = (*Dynamic)(nil)

// NewDynamic returns a dynamic core allocation policy.
func NewDynamic(roster *state.Roster, group *state.CoreGroup) (*Dynamic, error) {
	if roster == nil || roster.Len() == 0 {
		return nil, errors.New("dynamic allocation policy needs at least one cpu")
	}
	if group == nil {
		return nil, errors.New("dynamic allocation policy needs a core group")
	}
	if group.Min() > roster.Len() {
		return nil, fmt.Errorf("core group minimum %d exceeds the %d cpus in the roster", group.Min(), roster.Len())
	}
	return &Dynamic{roster: roster, group: group}, nil
}

// Kind returns DynamicAlloc.
func (*Dynamic) Kind() Kind { return DynamicAlloc }

// Select rotates through the active part of the roster.
func (p *Dynamic) Select(uint8) (Selection, error) {
	n := p.group.Load()
	if l := p.roster.Len(); n > l {
		n = l
	}
	return next(p.roster, &p.cursor, n)
}

// Routes keys every roster CPU by its own identifier, active or not, so a
// growing group never waits on table updates.
func (p *Dynamic) Routes() []Route { return routesByCPU(p.roster) }

// CoreGroup returns the group size the control loop adjusts.
func (p *Dynamic) CoreGroup() *state.CoreGroup { return p.group }

// Roster returns the roster the policy rotates through.
func (p *Dynamic) Roster() *state.Roster { return p.roster }
