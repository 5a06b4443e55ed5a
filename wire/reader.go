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

package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// ErrCorruptRecord is returned by Reader.Next when a frame's payload
// fails its blake2b checksum.
var ErrCorruptRecord = errors.New("wire: corrupt record")

// Record is one decoded frame off the wire: the caller switches on Flag
// and unmarshals Payload into the matching concrete type.
type Record struct {
	Flag    Flag
	Payload json.RawMessage
}

// Reader decodes a build-record stream written by Writer.
type Reader struct {
	r io.Reader
}

// NewReader returns a Reader consuming build records from r.
func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

// Next reads and checksum-verifies the next frame. It returns io.EOF
// only when the stream ends cleanly between frames.
func (rd *Reader) Next() (Record, error) {
	var hdr [1 + 4 + 32]byte
	if _, err := io.ReadFull(rd.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, fmt.Errorf("wire: truncated frame header: %w", err)
		}
		return Record{}, err
	}
	flag := Flag(hdr[0])
	n := binary.BigEndian.Uint32(hdr[1:5])
	payload := make([]byte, n)
	if _, err := io.ReadFull(rd.r, payload); err != nil {
		return Record{}, fmt.Errorf("wire: truncated %s payload: %w", flag, err)
	}
	sum := blake2b.Sum256(payload)
	if !bytes.Equal(sum[:], hdr[5:]) {
		return Record{}, fmt.Errorf("%w: %s record", ErrCorruptRecord, flag)
	}
	return Record{Flag: flag, Payload: payload}, nil
}

// DecodeAddSignal unmarshals an add_signal record's payload.
func (r Record) DecodeAddSignal() (AddSignal, error) {
	var v AddSignal
	err := json.Unmarshal(r.Payload, &v)
	return v, err
}

// DecodeAddOp unmarshals an add_op record's payload.
func (r Record) DecodeAddOp() (AddOp, error) {
	var v AddOp
	err := json.Unmarshal(r.Payload, &v)
	return v, err
}

// DecodeAddProbe unmarshals an add_probe record's payload.
func (r Record) DecodeAddProbe() (AddProbe, error) {
	var v AddProbe
	err := json.Unmarshal(r.Payload, &v)
	return v, err
}
