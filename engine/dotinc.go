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

// DotInc computes Y += A.X, a standard matrix-vector multiply-accumulate.
// A is rank-2 (Shape1 rows, Shape2 cols), X and Y are rank-1 vectors of
// length Shape2 and Shape1 respectively. No aliasing between A/X and Y is
// required.
type DotInc struct {
	Idx  float64
	A    signal.Resolved
	X, Y signal.Resolved
}

func (d *DotInc) Index() float64 { return d.Idx }

func (d *DotInc) Step() error {
	rows, cols := d.A.Shape1, d.A.Shape2
	if d.X.Len() != cols {
		return &RuntimeError{Reason: fmt.Sprintf("DotInc: X length %d does not match A cols %d", d.X.Len(), cols)}
	}
	if d.Y.Len() != rows {
		return &RuntimeError{Reason: fmt.Sprintf("DotInc: Y length %d does not match A rows %d", d.Y.Len(), rows)}
	}
	xrow := contiguous(d.X, cols)
	for i := 0; i < rows; i++ {
		arow := d.A.RowSlice(i, cols)
		d.Y.Set(i, d.Y.At(i)+dotAccumulate(arow, xrow))
	}
	return nil
}

// ScalarDotInc is the scalar variant of DotInc: A is a single-element
// vector broadcast across every element of X before the update
// Y += A[0]*X.
type ScalarDotInc struct {
	Idx  float64
	A    signal.Resolved // length 1
	X, Y signal.Resolved
}

func (d *ScalarDotInc) Index() float64 { return d.Idx }

func (d *ScalarDotInc) Step() error {
	if d.A.Len() != 1 {
		return &RuntimeError{Reason: fmt.Sprintf("ScalarDotInc: A has length %d, want 1", d.A.Len())}
	}
	if d.X.Len() != d.Y.Len() {
		return &RuntimeError{Reason: fmt.Sprintf("ScalarDotInc: X length %d does not match Y length %d", d.X.Len(), d.Y.Len())}
	}
	a := d.A.At(0)
	for i := 0; i < d.Y.Len(); i++ {
		d.Y.Set(i, d.Y.At(i)+a*d.X.At(i))
	}
	return nil
}

// contiguous materializes a rank-1 resolved view into a contiguous
// []float64 so dotAccumulate can walk it branch-free. For the common
// unstrided case this is a zero-copy reslice.
func contiguous(r signal.Resolved, n int) []float64 {
	if r.Stride1 == 1 {
		return r.Data[:n]
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = r.At(i)
	}
	return out
}
