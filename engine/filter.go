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

import (
	"fmt"

	"github.com/e2crawfo/nengo-mpi/signal"
)

// Filter applies a discrete linear filter, elementwise along the signal
// dimension, with per-element state retained across steps:
//
//	denom[0]*out[n] = sum(numer[k]*in[n-k]) - sum(denom[k]*out[n-k])
//
// matching the standard direct-form-II transposed digital filter.
type Filter struct {
	Idx           float64
	Input, Output signal.Resolved
	Numer, Denom  []float64
	state         [][]float64 // per-element delay line, sized to the filter order
	initialized   bool
}

func (f *Filter) Index() float64 { return f.Idx }

func (f *Filter) Step() error {
	if f.Input.Len() != f.Output.Len() {
		return &RuntimeError{Reason: fmt.Sprintf(
			"Filter: input length %d does not match output length %d", f.Input.Len(), f.Output.Len())}
	}
	if len(f.Denom) == 0 || f.Denom[0] == 0 {
		return &RuntimeError{Reason: "Filter: denom[0] must be non-zero"}
	}
	n := f.Input.Len()
	order := len(f.Numer)
	if len(f.Denom) > order {
		order = len(f.Denom)
	}
	if !f.initialized {
		f.state = make([][]float64, n)
		for i := range f.state {
			f.state[i] = make([]float64, order)
		}
		f.initialized = true
	}
	a0 := f.Denom[0]
	for i := 0; i < n; i++ {
		x := f.Input.At(i)
		w := f.state[i]
		// direct-form-II transposed: shift, apply numer/denom taps
		y := (f.numerAt(0)*x + w[0]) / a0
		for k := 1; k < order; k++ {
			w[k-1] = f.numerAt(k)*x - f.denomAt(k)*y
			if k < order-1 {
				w[k-1] += w[k]
			}
		}
		f.Output.Set(i, y)
	}
	return nil
}

func (f *Filter) numerAt(k int) float64 {
	if k < len(f.Numer) {
		return f.Numer[k]
	}
	return 0
}

func (f *Filter) denomAt(k int) float64 {
	if k < len(f.Denom) {
		return f.Denom[k]
	}
	return 0
}
