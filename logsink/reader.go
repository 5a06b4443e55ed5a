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

package logsink

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/crypto/blake2b"
)

// ErrCorruptBlock is returned by ReadBlock when a block's compressed
// bytes fail their blake2b checksum.
var ErrCorruptBlock = errors.New("logsink: corrupt block")

// ReadBlock decodes the next block from r, verifying its checksum and
// decompressing its payload into per-sample rows. It returns io.EOF
// only when the stream ends cleanly between blocks.
func ReadBlock(r io.Reader, codecs map[byte]Codec) (FileBlock, error) {
	hdr := make([]byte, blockHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return FileBlock{}, fmt.Errorf("logsink: truncated block header: %w", err)
		}
		return FileBlock{}, err
	}
	codecID := hdr[0]
	probeKey := binary.BigEndian.Uint64(hdr[1:9])
	shape1 := int(binary.BigEndian.Uint32(hdr[9:13]))
	shape2 := int(binary.BigEndian.Uint32(hdr[13:17]))
	count := int(binary.BigEndian.Uint32(hdr[17:21]))
	rawLen := int(binary.BigEndian.Uint32(hdr[21:25]))
	compLen := int(binary.BigEndian.Uint32(hdr[25:29]))
	wantSum := hdr[29:61]

	compressed := make([]byte, compLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return FileBlock{}, fmt.Errorf("logsink: truncated block body: %w", err)
	}
	gotSum := blake2b.Sum256(compressed)
	if !bytes.Equal(gotSum[:], wantSum) {
		return FileBlock{}, fmt.Errorf("%w: probe %d", ErrCorruptBlock, probeKey)
	}

	codec, ok := codecs[codecID]
	if !ok {
		return FileBlock{}, fmt.Errorf("logsink: unknown codec id %d", codecID)
	}
	raw, err := codec.Decompress(compressed, make([]byte, rawLen))
	if err != nil {
		return FileBlock{}, fmt.Errorf("logsink: decompress probe %d block: %w", probeKey, err)
	}

	n := shape1
	if shape2 > 0 {
		n *= shape2
	}
	if n == 0 {
		n = 1
	}
	samples := make([][]float64, count)
	for i := 0; i < count; i++ {
		row := make([]float64, n)
		for j := 0; j < n; j++ {
			off := (i*n + j) * 8
			row[j] = math.Float64frombits(binary.LittleEndian.Uint64(raw[off : off+8]))
		}
		samples[i] = row
	}
	return FileBlock{ProbeKey: probeKey, Shape1: shape1, Shape2: shape2, Samples: samples}, nil
}

// DefaultCodecs returns the codec table ReadBlock needs to decode
// blocks written with either built-in codec.
func DefaultCodecs() (map[byte]Codec, error) {
	zstd, err := NewZstdCodec()
	if err != nil {
		return nil, err
	}
	s2 := NewS2Codec()
	return map[byte]Codec{
		zstd.ID(): zstd,
		s2.ID():   s2,
	}, nil
}
