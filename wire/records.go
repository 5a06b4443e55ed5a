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

// Package wire implements the build-time message protocol between rank 0
// and a worker chunk process: a typed stream of framed records
// (add_signal, add_op, add_probe, stop) until the stream is closed.
package wire

// Flag identifies a build record's kind on the wire, matching spec.md 6's
// wire protocol table exactly.
type Flag uint8

const (
	FlagAddSignal Flag = 1
	FlagAddOp     Flag = 2
	FlagAddProbe  Flag = 3
	FlagStop      Flag = 4
)

func (f Flag) String() string {
	switch f {
	case FlagAddSignal:
		return "add_signal"
	case FlagAddOp:
		return "add_op"
	case FlagAddProbe:
		return "add_probe"
	case FlagStop:
		return "stop"
	default:
		return "unknown"
	}
}

// AddSignal carries a full BaseSignal payload: the opaque key, a
// diagnostic label, its shape, and the initial tensor values.
type AddSignal struct {
	Key    uint64    `json:"key"`
	Label  string    `json:"label"`
	Shape1 int       `json:"shape1"`
	Shape2 int       `json:"shape2"`
	Data   []float64 `json:"data"`
}

// AddOp carries one operator spec: its kind, its scheduling index, and
// kind-specific parameters. The concrete kinds mirror spec.md 6's
// op_spec enumeration (Reset, Copy, DotInc, ScalarDotInc, ProdUpdate,
// ScalarProdUpdate, Filter, SimLIF, SimLIFRate, SimLIFRateNoisy,
// SpikingRectifiedLinear, HostCallback, MPISend, MPIRecv).
type AddOp struct {
	Kind   string   `json:"kind"`
	Index  float64  `json:"index"`
	Params OpParams `json:"params"`
}

// OpParams is a flat bag of the scalar/key parameters any operator kind
// might need; fields unused by a given Kind are simply left zero. A
// closed Go union would need one type per kind plus a discriminated
// decode step, for marginal benefit over this given Kind already
// disambiguates which fields are meaningful.
type OpParams struct {
	Dst               uint64 `json:"dst,omitempty"`
	Src               uint64 `json:"src,omitempty"`
	A                 uint64 `json:"a,omitempty"`
	X                 uint64 `json:"x,omitempty"`
	Y                 uint64 `json:"y,omitempty"`
	B                 uint64 `json:"b,omitempty"`
	Input             uint64 `json:"input,omitempty"`
	Output            uint64 `json:"output,omitempty"`
	J                 uint64 `json:"j,omitempty"`
	Out               uint64 `json:"out,omitempty"`
	Value             float64
	Numer             []float64 `json:"numer,omitempty"`
	Denom             []float64 `json:"denom,omitempty"`
	N                 int       `json:"n,omitempty"`
	TauRC, TauRef, Dt float64
	Amplitude         float64
	RngKey            uint64 `json:"rng_key,omitempty"`
	ScalarB           bool   `json:"scalar_b,omitempty"`
	Peer              int    `json:"peer,omitempty"`
	Tag               uint64 `json:"tag,omitempty"`
	WantTime          bool   `json:"want_time,omitempty"`
	HasInput          bool   `json:"has_input,omitempty"`
	// Name identifies a HostCallback's registered Go function; the
	// function itself never travels over the wire.
	Name string `json:"name,omitempty"`
}

// AddProbe names a probe to attach to an existing signal.
type AddProbe struct {
	ProbeKey  uint64 `json:"probe_key"`
	SignalKey uint64 `json:"signal_key"`
	Period    int    `json:"period"`
}
