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
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// Writer encodes a build-record stream onto an underlying io.Writer: one
// frame per record, [1-byte flag][4-byte length][32-byte blake2b
// checksum][JSON payload], grounded on tnproto.Attach's fixed small
// header written in a single call.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer that emits build records to w.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (w *Writer) writeFrame(flag Flag, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encode %s record: %w", flag, err)
	}
	var hdr [1 + 4 + 32]byte
	hdr[0] = byte(flag)
	binary.BigEndian.PutUint32(hdr[1:5], uint32(len(payload)))
	sum := blake2b.Sum256(payload)
	copy(hdr[5:], sum[:])
	if _, err := w.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write %s header: %w", flag, err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return fmt.Errorf("wire: write %s payload: %w", flag, err)
	}
	return nil
}

// WriteAddSignal emits an add_signal record.
func (w *Writer) WriteAddSignal(rec AddSignal) error {
	return w.writeFrame(FlagAddSignal, rec)
}

// WriteAddOp emits an add_op record.
func (w *Writer) WriteAddOp(rec AddOp) error {
	return w.writeFrame(FlagAddOp, rec)
}

// WriteAddProbe emits an add_probe record.
func (w *Writer) WriteAddProbe(rec AddProbe) error {
	return w.writeFrame(FlagAddProbe, rec)
}

// WriteStop emits the terminal stop record.
func (w *Writer) WriteStop() error {
	return w.writeFrame(FlagStop, struct{}{})
}
