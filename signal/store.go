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

// Base is a contiguous rank-1 or rank-2 float64 tensor identified by a Key.
type Base struct {
	Key    Key
	Label  string
	Shape1 int
	Shape2 int // 0 for rank-1
	Data   []float64
}

func (b *Base) ndim() int {
	if b.Shape2 == 0 {
		return 1
	}
	return 2
}

func (b *Base) len() int {
	if b.Shape2 == 0 {
		return b.Shape1
	}
	return b.Shape1 * b.Shape2
}

// Error is a build-time error raised by the signal store: duplicate
// key, unknown key, or an out-of-range view spec.
type Error struct {
	Op  string
	Key Key
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("signal: %s key=%d: %s", e.Op, e.Key, e.Msg)
}

// Store owns every BaseSignal added to one chunk, plus the arena their
// backing storage is carved from, plus a snapshot of each signal's
// initial values (used by reset).
type Store struct {
	arena   Arena
	bases   map[Key]*Base
	initial map[Key][]float64
}

// NewStore returns an empty signal store.
func NewStore() *Store {
	return &Store{
		bases:   make(map[Key]*Base),
		initial: make(map[Key][]float64),
	}
}

// AddBase installs a new BaseSignal under key, copying data into
// arena-backed storage. Adding a duplicate key is a build-time error.
func (s *Store) AddBase(key Key, label string, shape1, shape2 int, data []float64) error {
	if _, exists := s.bases[key]; exists {
		return &Error{Op: "add_base", Key: key, Msg: "duplicate key"}
	}
	n := shape1
	if shape2 > 0 {
		n = shape1 * shape2
	}
	if len(data) != n {
		return &Error{Op: "add_base", Key: key,
			Msg: fmt.Sprintf("data length %d does not match shape (%d,%d)", len(data), shape1, shape2)}
	}
	mem := s.arena.Alloc(n)
	copy(mem, data)
	s.bases[key] = &Base{Key: key, Label: label, Shape1: shape1, Shape2: shape2, Data: mem}

	snap := make([]float64, n)
	copy(snap, data)
	s.initial[key] = snap
	return nil
}

// Base returns the BaseSignal for key, or an error if it was never added.
func (s *Store) Base(key Key) (*Base, error) {
	b, ok := s.bases[key]
	if !ok {
		return nil, &Error{Op: "lookup", Key: key, Msg: "unknown key"}
	}
	return b, nil
}

// ViewFull returns the full-extent view of a base signal.
func (s *Store) ViewFull(key Key) (View, error) {
	b, err := s.Base(key)
	if err != nil {
		return View{}, err
	}
	spec := Spec{
		BaseKey: key,
		Label:   b.Label,
		NDim:    b.ndim(),
		Shape1:  b.Shape1,
		Shape2:  b.Shape2,
		Stride1: strideOf(b, 1),
		Stride2: strideOf(b, 2),
		Offset:  0,
	}
	return View{spec: spec}, nil
}

func strideOf(b *Base, dim int) int {
	if b.Shape2 == 0 {
		if dim == 1 {
			return 1
		}
		return 0
	}
	if dim == 1 {
		return b.Shape2
	}
	return 1
}

// ViewFromSpec builds a View from an explicit spec, validating that the
// described window stays in bounds of the named base signal.
func (s *Store) ViewFromSpec(spec Spec) (View, error) {
	b, err := s.Base(spec.BaseKey)
	if err != nil {
		return View{}, err
	}
	if spec.NDim != 1 && spec.NDim != 2 {
		return View{}, &Error{Op: "view", Key: spec.BaseKey, Msg: "ndim must be 1 or 2"}
	}
	if spec.Offset < 0 {
		return View{}, &Error{Op: "view", Key: spec.BaseKey, Msg: "negative offset"}
	}
	maxIdx := spec.Offset
	if spec.NDim == 1 {
		if spec.Shape1 > 0 {
			maxIdx += (spec.Shape1 - 1) * spec.Stride1
		}
	} else {
		if spec.Shape1 > 0 {
			maxIdx += (spec.Shape1 - 1) * spec.Stride1
		}
		if spec.Shape2 > 0 {
			maxIdx += (spec.Shape2 - 1) * spec.Stride2
		}
	}
	if maxIdx < 0 || maxIdx >= b.len() {
		return View{}, &Error{Op: "view", Key: spec.BaseKey,
			Msg: fmt.Sprintf("out-of-range view: max index %d, base length %d", maxIdx, b.len())}
	}
	if spec.Label == "" {
		spec.Label = b.Label
	}
	return View{spec: spec}, nil
}

// Resolve binds a View to its backing storage. Called when an operator
// or probe is added during the build phase, after which the hot path is
// a bare slice walk.
func (s *Store) Resolve(v View) (Resolved, error) {
	spec := v.spec
	b, err := s.Base(spec.BaseKey)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{
		Data:    b.Data[spec.Offset:],
		Label:   spec.Label,
		NDim:    spec.NDim,
		Shape1:  spec.Shape1,
		Shape2:  spec.Shape2,
		Stride1: spec.Stride1,
		Stride2: spec.Stride2,
	}, nil
}

// ResetAll restores every BaseSignal to its initial-value snapshot.
func (s *Store) ResetAll() {
	for key, b := range s.bases {
		copy(b.Data, s.initial[key])
	}
}

// Keys returns every key currently installed, for diagnostics and tests.
func (s *Store) Keys() []Key {
	out := make([]Key, 0, len(s.bases))
	for k := range s.bases {
		out = append(out, k)
	}
	return out
}
