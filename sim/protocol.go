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

// Package sim assembles per-rank Chunks into one running distributed
// simulation: in-process (Pool, used by tests and single-binary runs)
// or across real subprocesses (Manager, grounded on tenant.Manager's
// lazy subprocess lifecycle).
package sim

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Method identifies a control-channel message between the Manager and a
// worker process. The control channel is distinct from package wire's
// build-record stream: a worker's control connection carries both a
// forwarded wire-record stream (during the build phase) and these
// control messages (before and after it), so every message here is
// self-delimited by an explicit length prefix rather than relying on a
// buffering decoder that might overread into the next message.
type Method byte

const (
	MethodHandshake   Method = 1 // worker -> manager: {ListenAddr string}
	MethodPeers       Method = 2 // manager -> worker: {Rank int, Addrs []string}
	MethodBuildRecord Method = 3 // manager -> worker: raw wire-frame bytes
	MethodFinalize    Method = 4 // manager -> worker: {Seed uint64, BarrierPeriod int}
	MethodAck         Method = 5 // worker -> manager: {Error string}
	MethodRun         Method = 6 // manager -> worker: {Steps int}
	MethodProbeReq    Method = 7 // manager -> worker: {ProbeKey uint64}
	MethodProbeResp   Method = 8 // worker -> manager: {Error string, Samples []TensorDTO}
	MethodReset       Method = 9 // manager -> worker: {Seed uint64}
	MethodShutdown    Method = 10
)

// TensorDTO is the wire shape of one probe sample, decoupled from
// engine.Tensor so this package does not need to import engine just to
// move bytes around the control channel.
type TensorDTO struct {
	Shape1, Shape2 int
	Data           []float64
}

// HandshakeMsg is a worker's first message: the address it is
// listening on for the Net transport mesh.
type HandshakeMsg struct {
	ListenAddr string
}

// PeersMsg tells a worker its rank and the full ordered address list of
// every rank in the communicator (including itself).
type PeersMsg struct {
	Rank  int
	Addrs []string
}

// FinalizeMsg carries the run seed and collective-barrier period to
// apply at Chunk.FinalizeBuild.
type FinalizeMsg struct {
	Seed          uint64
	BarrierPeriod int
}

// AckMsg is a generic worker acknowledgement; Error is empty on success.
type AckMsg struct {
	Error string
}

// RunMsg asks a worker to advance its chunk by Steps steps.
type RunMsg struct {
	Steps int
}

// ProbeReqMsg asks a worker to flush one probe's buffered samples.
type ProbeReqMsg struct {
	ProbeKey uint64
}

// ProbeRespMsg returns a probe's flushed samples, or Error if the key
// was not found.
type ProbeRespMsg struct {
	Error   string
	Samples []TensorDTO
}

// ResetMsg asks a worker to reset its chunk under a (possibly new) seed.
type ResetMsg struct {
	Seed uint64
}

// Frame is one control message: a method tag plus its JSON payload.
type Frame struct {
	Method  Method
	Payload []byte
}

// WriteFrame writes one length-prefixed control frame to w.
func WriteFrame(w io.Writer, method Method, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sim: encode control frame %d: %w", method, err)
	}
	var hdr [5]byte
	hdr[0] = byte(method)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("sim: write control header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("sim: write control payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed control frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("sim: truncated control payload for method %d: %w", hdr[0], err)
	}
	return Frame{Method: Method(hdr[0]), Payload: payload}, nil
}

// Decode unmarshals a Frame's payload into T, for either side of the
// control channel to use regardless of which concrete message it
// expects next.
func Decode[T any](f Frame) (T, error) {
	var v T
	err := json.Unmarshal(f.Payload, &v)
	return v, err
}
