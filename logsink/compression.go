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
	"fmt"
	"runtime"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Codec is the interface a block compressor/decompressor pair
// implements, mirrored from compr.Compressor/compr.Decompressor: one
// method to grow a destination buffer with compressed bytes, one to
// recover the original bytes given the expected output length.
type Codec interface {
	ID() byte
	Name() string
	Compress(src, dst []byte) []byte
	Decompress(src, dst []byte) ([]byte, error)
}

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCodec returns the default codec: zstd trades a little more CPU
// for a smaller on-disk probe log than s2, which is the right trade for
// a log that is written once and read rarely.
func NewZstdCodec() (Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(runtime.GOMAXPROCS(0)))
	if err != nil {
		return nil, fmt.Errorf("logsink: new zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)))
	if err != nil {
		return nil, fmt.Errorf("logsink: new zstd decoder: %w", err)
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (z *zstdCodec) ID() byte     { return 1 }
func (z *zstdCodec) Name() string { return "zstd" }

func (z *zstdCodec) Compress(src, dst []byte) []byte {
	return z.enc.EncodeAll(src, dst)
}

func (z *zstdCodec) Decompress(src, dst []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, dst[:0:len(dst)])
}

// s2Codec trades compression ratio for raw throughput; useful for a
// run that writes probe data faster than disk bandwidth allows.
type s2Codec struct{}

// NewS2Codec returns the low-latency alternative codec.
func NewS2Codec() Codec { return s2Codec{} }

func (s2Codec) ID() byte     { return 2 }
func (s2Codec) Name() string { return "s2" }

func (s2Codec) Compress(src, dst []byte) []byte {
	return s2.Encode(dst, src)
}

func (s2Codec) Decompress(src, dst []byte) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("logsink: s2 decoded length: %w", err)
	}
	if n != len(dst) {
		return nil, fmt.Errorf("logsink: s2 decoded length %d does not match expected %d", n, len(dst))
	}
	return s2.Decode(dst, src)
}
