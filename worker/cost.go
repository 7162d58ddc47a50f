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

package worker

// DefaultCostFactor is the number of spin iterations per unit of workload.
const DefaultCostFactor = 10

// CostModel maps a request's workload to the spin iterations that simulate
// serving it.
type CostModel func(workload uint8) uint32

// LinearCost spins factor iterations per unit of workload, so no request
// costs more than 255*factor iterations.
func LinearCost(factor uint32) CostModel {
	return func(workload uint8) uint32 {
		return uint32(workload) * factor
	}
}

// Spin burns n iterations of integer work and returns a value derived from
// all of them so the loop cannot be optimized away.
func Spin(n uint32) uint32 {
	var acc uint32 = 2166136261
	for i := uint32(0); i < n; i++ {
		acc ^= i
		acc *= 16777619
	}
	return acc
}
