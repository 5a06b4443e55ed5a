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
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/e2crawfo/nengo-mpi/engine"
)

// blockHeaderSize is [1-byte codec id][8-byte probe key][4-byte
// shape1][4-byte shape2][4-byte sample count][4-byte uncompressed
// length][4-byte compressed length][32-byte blake2b digest of the
// compressed bytes].
const blockHeaderSize = 1 + 8 + 4 + 4 + 4 + 4 + 4 + 32

// FileBlock is a decoded on-disk block, exported so a reader tool
// outside the simulation core can walk a probe log.
type FileBlock struct {
	ProbeKey       uint64
	Shape1, Shape2 int
	Samples        [][]float64
}

// FileSink appends one compressed, checksummed block per WriteBatch
// call to a single underlying file, in the teacher's append-only block
// idiom from ion/blockfmt: every block is independently verifiable and
// the file itself never needs random-access rewrites.
type FileSink struct {
	mu    sync.Mutex
	f     *os.File
	codec Codec
}

// NewFileSink creates (or truncates) path and returns a FileSink backed
// by codec.
func NewFileSink(path string, codec Codec) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, &engine.IOError{Reason: fmt.Sprintf("logsink: create %s", path), Cause: err}
	}
	return &FileSink{f: f, codec: codec}, nil
}

// WriteBatch encodes every sample in samples as flat little-endian
// float64s, compresses the result, and appends one checksummed block.
func (s *FileSink) WriteBatch(probeKey uint64, samples []engine.Tensor) error {
	if len(samples) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	shape1, shape2 := samples[0].Shape1, samples[0].Shape2
	raw := make([]byte, 0, len(samples)*len(samples[0].Data)*8)
	for _, t := range samples {
		for _, v := range t.Data {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
			raw = append(raw, b[:]...)
		}
	}
	compressed := s.codec.Compress(raw, nil)
	sum := blake2b.Sum256(compressed)

	hdr := make([]byte, blockHeaderSize)
	hdr[0] = s.codec.ID()
	binary.BigEndian.PutUint64(hdr[1:9], probeKey)
	binary.BigEndian.PutUint32(hdr[9:13], uint32(shape1))
	binary.BigEndian.PutUint32(hdr[13:17], uint32(shape2))
	binary.BigEndian.PutUint32(hdr[17:21], uint32(len(samples)))
	binary.BigEndian.PutUint32(hdr[21:25], uint32(len(raw)))
	binary.BigEndian.PutUint32(hdr[25:29], uint32(len(compressed)))
	copy(hdr[29:], sum[:])

	if _, err := s.f.Write(hdr); err != nil {
		return &engine.IOError{Reason: "logsink: write block header", Cause: err}
	}
	if _, err := s.f.Write(compressed); err != nil {
		return &engine.IOError{Reason: "logsink: write block body", Cause: err}
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.f.Sync(); err != nil {
		return &engine.IOError{Reason: "logsink: sync", Cause: err}
	}
	return s.f.Close()
}
