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

package signal

import "fmt"

// Key is the opaque identifier assigned by the network builder. It is
// unique within a run and names base signals, probes, and comm slots.
type Key uint64

// Spec describes a SignalView to be resolved against a Store. NDim must
// be 1 or 2; Store.ViewFull builds the full-extent view of a base signal.
type Spec struct {
	BaseKey Key
	Label   string
	NDim    int // 1 or 2
	Shape1  int
	Shape2  int // 0 when NDim == 1
	Stride1 int
	Stride2 int
	Offset  int
}

// View is a non-owning descriptor naming a (possibly strided) window into
// a BaseSignal. A View must be resolved via Store.Resolve before an
// operator can read or write through it.
type View struct {
	spec Spec
}

func (v View) Spec() Spec { return v.spec }

func (v View) String() string {
	return fmt.Sprintf("View{base=%d,label=%q,shape=(%d,%d)}",
		v.spec.BaseKey, v.spec.Label, v.spec.Shape1, v.spec.Shape2)
}

// Resolved is a View bound to its backing storage: a flat, row-major
// slice plus the shape/stride metadata needed to walk it. Operators hold
// Resolved views, not Views, once a chunk has finished its build phase.
type Resolved struct {
	Data    []float64 // base signal storage from the view's offset to the end of the base
	Label   string
	NDim    int
	Shape1  int
	Shape2  int
	Stride1 int
	Stride2 int
}

// Len returns the total element count described by the view's shape.
func (r Resolved) Len() int {
	if r.NDim == 1 {
		return r.Shape1
	}
	return r.Shape1 * r.Shape2
}

// At returns the element at (i) for a rank-1 view, honoring Stride1.
func (r Resolved) At(i int) float64 {
	return r.Data[r.Offset1(i)]
}

// Offset1 returns the flat data index for logical index i of a rank-1 view.
func (r Resolved) Offset1(i int) int {
	return i * r.Stride1
}

// At2 returns the element at (i,j) for a rank-2 view.
func (r Resolved) At2(i, j int) float64 {
	return r.Data[r.Offset2(i, j)]
}

// Offset2 returns the flat data index for logical index (i,j) of a rank-2 view.
func (r Resolved) Offset2(i, j int) int {
	return i*r.Stride1 + j*r.Stride2
}

// RowSlice returns row i of a rank-2 view as a contiguous []float64 of
// length ncols. When the row is already contiguous (Stride2 == 1) this
// is a zero-copy reslice; otherwise it is materialized into a fresh
// buffer.
func (r Resolved) RowSlice(i, ncols int) []float64 {
	base := r.Offset2(i, 0)
	if r.Stride2 == 1 {
		return r.Data[base : base+ncols]
	}
	out := make([]float64, ncols)
	for j := 0; j < ncols; j++ {
		out[j] = r.Data[base+j*r.Stride2]
	}
	return out
}

// Set writes v at logical index i of a rank-1 view.
func (r Resolved) Set(i int, v float64) {
	r.Data[r.Offset1(i)] = v
}

// Set2 writes v at logical index (i,j) of a rank-2 view.
func (r Resolved) Set2(i, j int, v float64) {
	r.Data[r.Offset2(i, j)] = v
}
