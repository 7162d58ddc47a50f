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

// Package xdp defines the contract shared by every per-packet program in
// nicsched: the outcome a program returns for a frame and the error taxonomy
// that produces those outcomes.
//
// Programs run in a restricted context. They must not allocate, block, or
// loop without a bound that is visible in the code, and they must never retry.
package xdp

import "errors"

// Action is the verdict a Program returns for a frame. The numeric values
// match the kernel's XDP actions so they read the same in logs and metrics.
type Action uint32

const (
	// Aborted discards the frame and flags an operator-visible condition.
	Aborted Action = iota
	// Drop discards the frame silently.
	Drop
	// Pass leaves the frame unmodified for normal handling.
	Pass
	// TX is reserved for bouncing a frame out of the receiving device. It is
	// never returned by nicsched programs.
	TX
	// Redirect hands the frame to another CPU or device.
	Redirect
)

var actionNames = map[Action]string{
	Aborted:  "aborted",
	Drop:     "drop",
	Pass:     "pass",
	TX:       "tx",
	Redirect: "redirect",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// Program processes a single frame in place.
type Program interface {
	Run(frame []byte) Action
}

// ProgramFunc adapts a function into a Program.
type ProgramFunc func(frame []byte) Action

// Run calls f(frame).
func (f ProgramFunc) Run(frame []byte) Action { return f(frame) }

var (
	// ErrFormatReject marks frames that are too short, carry the wrong
	// protocol, or are not benchmark traffic. They pass through untouched.
	ErrFormatReject = errors.New("frame rejected by format checks")

	// ErrLookupFailure marks an expected shared-state entry that was absent.
	ErrLookupFailure = errors.New("shared state lookup failed")

	// ErrUnavailableTarget marks a selected CPU whose availability flag is
	// cleared.
	ErrUnavailableTarget = errors.New("selected cpu is unavailable")

	// ErrRedirectFailure marks a CPU or device redirect table that rejected
	// the target.
	ErrRedirectFailure = errors.New("redirect rejected")
)

// ActionFor maps an error from the taxonomy above to the Action a program
// must return. A nil error maps to Redirect.
func ActionFor(err error) Action {
	switch {
	case err == nil:
		return Redirect
	case errors.Is(err, ErrFormatReject):
		return Pass
	case errors.Is(err, ErrUnavailableTarget):
		return Aborted
	default:
		// Lookup and redirect failures, and anything unexpected, drop.
		return Drop
	}
}
