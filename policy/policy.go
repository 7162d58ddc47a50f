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

// Package policy implements the CPU-selection policies of the ingress
// dispatcher. A policy is chosen once at startup and never switched.
//
// Select runs once per accepted packet on the receiving CPU, so it obeys the
// per-packet budget: no allocation, no blocking and no loops.
package policy

import (
	"fmt"
	"strings"

	"go.uber.org/nicsched/state"
	"go.uber.org/nicsched/xdp"
)

// Kind selects one of the dispatch policies.
type Kind int

const (
	// PlainRR rotates through a single fixed roster.
	PlainRR Kind = iota + 1
	// ClassSeparatedRR rotates through one roster per traffic class.
	ClassSeparatedRR
	// DynamicAlloc rotates through the active prefix of a roster whose
	// length the control loop adjusts.
	DynamicAlloc
)

var kindNames = map[Kind]string{
	PlainRR:          "plain-rr",
	ClassSeparatedRR: "class-separated-rr",
	DynamicAlloc:     "dynamic-alloc",
}

// Short names accepted on the command line.
var kindAliases = map[string]Kind{
	"rr":   PlainRR,
	"rrcs": ClassSeparatedRR,
	"dca":  DynamicAlloc,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses a policy selector.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unknown policy %q: expected one of plain-rr, class-separated-rr or dynamic-alloc", s)
}

// Class is the traffic class of a request.
type Class uint8

const (
	// Unclassified is reported by policies that do not separate classes.
	Unclassified Class = iota
	// Short requests carry a workload below the class threshold.
	Short
	// Long requests carry a workload at or above the class threshold.
	Long
)

func (c Class) String() string {
	switch c {
	case Short:
		return "short"
	case Long:
		return "long"
	default:
		return "unclassified"
	}
}

// DefaultClassThreshold is the workload at which a request becomes long.
const DefaultClassThreshold = 10

// Classify maps every workload to exactly one class.
func Classify(workload, threshold uint8) Class {
	if workload < threshold {
		return Short
	}
	return Long
}

// Selection is the outcome of a dispatch decision.
type Selection struct {
	// Key indexes the CPU redirect table.
	Key uint32
	// CPU is the destination CPU.
	CPU uint32
	// Slot is the roster slot the cursor claimed.
	Slot  uint32
	Class Class
}

// Route installs one CPU redirect table entry.
type Route struct {
	Key uint32
	CPU uint32
}

// Policy selects a destination CPU for an accepted packet.
type Policy interface {
	Kind() Kind

	// Select chooses the destination of a request with the given workload.
	// Errors wrap xdp.ErrLookupFailure or xdp.ErrUnavailableTarget; with the
	// latter the Selection still names the vetoed CPU.
	Select(workload uint8) (Selection, error)

	// Routes lists the CPU redirect table entries Select may produce.
	Routes() []Route
}

// Select errors. They are built once so Select stays allocation free.
var (
	errEmptyRoster = fmt.Errorf("roster is empty: %w", xdp.ErrLookupFailure)
	errMissingSlot = fmt.Errorf("roster slot has no cpu: %w", xdp.ErrLookupFailure)
	errUnavailable = fmt.Errorf("cpu availability flag is clear: %w", xdp.ErrUnavailableTarget)
)

// next claims a slot among the first n of roster and vets its availability.
func next(roster *state.Roster, cursor *state.Cursor, n uint32) (Selection, error) {
	if n == 0 {
		return Selection{}, errEmptyRoster
	}
	slot, _ := cursor.Next(n)
	cpu, ok := roster.CPU(slot)
	if !ok {
		return Selection{}, errMissingSlot
	}
	sel := Selection{Key: cpu, CPU: cpu, Slot: slot}
	if !roster.Available(slot) {
		return sel, errUnavailable
	}
	return sel, nil
}

func routesByCPU(roster *state.Roster) []Route {
	routes := make([]Route, 0, roster.Len())
	for _, cpu := range roster.CPUs() {
		routes = append(routes, Route{Key: cpu, CPU: cpu})
	}
	return routes
}
