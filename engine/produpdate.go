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

// ProdUpdate computes Y = B*Y + A.X: elementwise scale Y by B, then add
// the A.X dot product. A is rank-2, B is elementwise broadcast over Y
// (same length as Y), X and Y are rank-1.
type ProdUpdate struct {
	Idx     float64
	A       signal.Resolved
	X, B, Y signal.Resolved
}

func (p *ProdUpdate) Index() float64 { return p.Idx }

func (p *ProdUpdate) Step() error {
	rows, cols := p.A.Shape1, p.A.Shape2
	if p.X.Len() != cols {
		return &RuntimeError{Reason: fmt.Sprintf("ProdUpdate: X length %d does not match A cols %d", p.X.Len(), cols)}
	}
	if p.Y.Len() != rows || p.B.Len() != rows {
		return &RuntimeError{Reason: fmt.Sprintf(
			"ProdUpdate: Y/B length mismatch with A rows %d (Y=%d B=%d)", rows, p.Y.Len(), p.B.Len())}
	}
	xrow := contiguous(p.X, cols)
	for i := 0; i < rows; i++ {
		arow := p.A.RowSlice(i, cols)
		p.Y.Set(i, p.B.At(i)*p.Y.At(i)+dotAccumulate(arow, xrow))
	}
	return nil
}

// ScalarProdUpdate is the scalar variant of ProdUpdate: A and/or B may be
// single-element vectors broadcast as scalars.
type ScalarProdUpdate struct {
	Idx     float64
	A       signal.Resolved // length 1
	X, B, Y signal.Resolved
	// ScalarB selects whether B is also a length-1 broadcast scalar
	// rather than elementwise (the builder chooses which contract
	// applies; see spec open question on Scalar* variants).
	ScalarB bool
}

func (p *ScalarProdUpdate) Index() float64 { return p.Idx }

func (p *ScalarProdUpdate) Step() error {
	if p.A.Len() != 1 {
		return &RuntimeError{Reason: fmt.Sprintf("ScalarProdUpdate: A has length %d, want 1", p.A.Len())}
	}
	if p.X.Len() != p.Y.Len() {
		return &RuntimeError{Reason: fmt.Sprintf("ScalarProdUpdate: X length %d does not match Y length %d", p.X.Len(), p.Y.Len())}
	}
	a := p.A.At(0)
	if p.ScalarB {
		if p.B.Len() != 1 {
			return &RuntimeError{Reason: fmt.Sprintf("ScalarProdUpdate: B has length %d, want 1", p.B.Len())}
		}
		b := p.B.At(0)
		for i := 0; i < p.Y.Len(); i++ {
			p.Y.Set(i, b*p.Y.At(i)+a*p.X.At(i))
		}
		return nil
	}
	if p.B.Len() != p.Y.Len() {
		return &RuntimeError{Reason: fmt.Sprintf("ScalarProdUpdate: B length %d does not match Y length %d", p.B.Len(), p.Y.Len())}
	}
	for i := 0; i < p.Y.Len(); i++ {
		p.Y.Set(i, p.B.At(i)*p.Y.At(i)+a*p.X.At(i))
	}
	return nil
}
