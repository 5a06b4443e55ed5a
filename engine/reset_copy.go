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

// Reset sets every element of Dst to Value.
type Reset struct {
	Idx   float64
	Dst   signal.Resolved
	Value float64
}

func (r *Reset) Index() float64 { return r.Idx }

func (r *Reset) Step() error {
	n := r.Dst.Len()
	if r.Dst.NDim == 1 {
		for i := 0; i < n; i++ {
			r.Dst.Set(i, r.Value)
		}
		return nil
	}
	for i := 0; i < r.Dst.Shape1; i++ {
		for j := 0; j < r.Dst.Shape2; j++ {
			r.Dst.Set2(i, j, r.Value)
		}
	}
	return nil
}

// Copy performs an element-wise assignment Dst = Src. Shapes must match.
type Copy struct {
	Idx      float64
	Dst, Src signal.Resolved
}

func (c *Copy) Index() float64 { return c.Idx }

func (c *Copy) Step() error {
	if c.Dst.Shape1 != c.Src.Shape1 || c.Dst.Shape2 != c.Src.Shape2 {
		return &RuntimeError{Reason: fmt.Sprintf(
			"Copy: shape mismatch dst=(%d,%d) src=(%d,%d)",
			c.Dst.Shape1, c.Dst.Shape2, c.Src.Shape1, c.Src.Shape2)}
	}
	if c.Dst.NDim == 1 {
		for i := 0; i < c.Dst.Shape1; i++ {
			c.Dst.Set(i, c.Src.At(i))
		}
		return nil
	}
	for i := 0; i < c.Dst.Shape1; i++ {
		for j := 0; j < c.Dst.Shape2; j++ {
			c.Dst.Set2(i, j, c.Src.At2(i, j))
		}
	}
	return nil
}
