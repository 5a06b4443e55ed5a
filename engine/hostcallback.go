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

// Func is the opaque callable a HostCallback invokes. The mechanism by
// which a host language (Python, etc.) registers one of these is outside
// the core; the core's contract is only "call this with these inputs
// each step and place the result in Output."
type Func func(t float64, input []float64) ([]float64, error)

// HostCallback invokes an externally registered callback with the
// current time (if WantTime) and a snapshot of Input (if HasInput),
// writing the returned vector into Output. A shape mismatch in the
// returned vector is fatal.
type HostCallback struct {
	Idx      float64
	Fn       Func
	WantTime bool
	HasInput bool
	Input    signal.Resolved
	Output   signal.Resolved
	now      *float64
}

func (h *HostCallback) Index() float64 { return h.Idx }

// BindClock lets Chunk hand the callback a pointer to its running time so
// Step can read the current value without a dependency cycle on Chunk.
func (h *HostCallback) BindClock(now *float64) { h.now = now }

func (h *HostCallback) Step() error {
	t := 0.0
	if h.WantTime {
		if h.now == nil {
			return &RuntimeError{Reason: "HostCallback: WantTime set but clock not bound"}
		}
		t = *h.now
	}
	var in []float64
	if h.HasInput {
		in = make([]float64, h.Input.Len())
		for i := range in {
			in[i] = h.Input.At(i)
		}
	}
	out, err := h.Fn(t, in)
	if err != nil {
		return &RuntimeError{Reason: "HostCallback: callback failed", Cause: err}
	}
	if len(out) != h.Output.Len() {
		return &RuntimeError{Reason: fmt.Sprintf(
			"HostCallback: callback returned %d values, output expects %d", len(out), h.Output.Len())}
	}
	for i, v := range out {
		h.Output.Set(i, v)
	}
	return nil
}
