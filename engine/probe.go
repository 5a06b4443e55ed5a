// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package engine

import "github.com/e2crawfo/nengo-mpi/signal"

// Tensor is a single probe sample: a copy of the target view's values at
// the step it was sampled, plus the shape needed to interpret it.
type Tensor struct {
	Shape1, Shape2 int
	Data           []float64
}

// Probe samples a SignalView every Period steps into an in-memory ring
// of Tensor blocks. Period is fixed at build time.
type Probe struct {
	Key    signal.Key
	Target signal.Resolved
	Period int
	buffer []Tensor
}

// Sample appends a fresh copy of Target to the buffer if step is a
// multiple of Period. step is the step counter value at the time of
// sampling (the end of step `step`, per spec.md: "Probe samples reflect
// signal state at the end of step s*period").
func (p *Probe) Sample(step int) {
	if p.Period <= 0 {
		panic("engine: probe period must be >= 1")
	}
	if step%p.Period != 0 {
		return
	}
	data := make([]float64, p.Target.Len())
	if p.Target.NDim == 1 {
		for i := range data {
			data[i] = p.Target.At(i)
		}
	} else {
		idx := 0
		for i := 0; i < p.Target.Shape1; i++ {
			for j := 0; j < p.Target.Shape2; j++ {
				data[idx] = p.Target.At2(i, j)
				idx++
			}
		}
	}
	p.buffer = append(p.buffer, Tensor{Shape1: p.Target.Shape1, Shape2: p.Target.Shape2, Data: data})
}

// Flush returns the accumulated buffer and clears it. The caller (the
// chunk's log sink) owns the returned slice.
func (p *Probe) Flush() []Tensor {
	out := p.buffer
	p.buffer = nil
	return out
}

// Clear drops every buffered sample. If hard, the underlying backing
// array capacity is released as well as its length.
func (p *Probe) Clear(hard bool) {
	if hard {
		p.buffer = nil
		return
	}
	p.buffer = p.buffer[:0]
}

// Len reports how many samples are currently buffered, for tests and
// diagnostics.
func (p *Probe) Len() int { return len(p.buffer) }
