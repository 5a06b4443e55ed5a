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

import "golang.org/x/exp/slices"

// Operator is a polymorphic step-callable with a stable execution index.
// The concrete set of operators is closed: Reset, Copy, DotInc,
// ScalarDotInc, ProdUpdate, ScalarProdUpdate, Filter, SimLIF, SimLIFRate,
// SimLIFRateNoisy, SpikingRectifiedLinear, HostCallback, and the MPI
// comm operators implemented in package comm.
type Operator interface {
	// Index is the total-order key assigned at build time; operators
	// execute in ascending Index order each step.
	Index() float64
	// Step mutates the signals this operator reads/writes.
	Step() error
}

// Seedable is implemented by operators whose per-step behavior depends
// on a deterministic noise stream (SimLIFRateNoisy, SpikingRectifiedLinear).
// Chunk calls Seed once at finalize_build and again on every reset so the
// stream is always a pure function of the chunk's current run seed.
type Seedable interface {
	Seed(runSeed uint64)
}

// entry pairs an Operator with the insertion sequence number used to
// break ties between operators that share an Index, deterministically
// and in insertion order (spec requires stable ties).
type entry struct {
	op  Operator
	seq int
}

// Schedule is the ordered list of operators a Chunk executes once per
// step. Operators are kept sorted by (Index, insertion sequence).
type Schedule struct {
	entries []entry
	nextSeq int
}

// Add appends op to the schedule. The schedule is not resorted until
// Sort is called, so multiple operators may be added cheaply during the
// build phase.
func (s *Schedule) Add(op Operator) {
	s.entries = append(s.entries, entry{op: op, seq: s.nextSeq})
	s.nextSeq++
}

// Sort orders the schedule by ascending Index, breaking ties by
// insertion sequence. It is stable: entries already in order are left
// untouched relative to one another.
func (s *Schedule) Sort() {
	slices.SortStableFunc(s.entries, func(a, b entry) int {
		switch {
		case a.op.Index() < b.op.Index():
			return -1
		case a.op.Index() > b.op.Index():
			return 1
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
}

// Len returns the number of operators currently scheduled.
func (s *Schedule) Len() int { return len(s.entries) }

// Operators returns the operators in their current scheduled order.
func (s *Schedule) Operators() []Operator {
	out := make([]Operator, len(s.entries))
	for i := range s.entries {
		out[i] = s.entries[i].op
	}
	return out
}

// StepAll invokes every operator in order, stopping at the first error.
func (s *Schedule) StepAll() error {
	for i := range s.entries {
		if err := s.entries[i].op.Step(); err != nil {
			return err
		}
	}
	return nil
}
