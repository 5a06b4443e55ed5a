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

// Package logsink periodically flushes probe samples to durable
// storage: one compressed, checksummed block per (probe, flush
// interval), grounded on the teacher's compr package for the
// compressor abstraction and on its ion/blockfmt block-checksumming
// idiom for the on-disk framing.
package logsink

import "github.com/e2crawfo/nengo-mpi/engine"

// Sink accepts a batch of probe samples for one probe key at a time.
// Chunk.SetLogSink attaches an implementation to a chunk; tests can
// substitute a Sink that just records its calls.
type Sink interface {
	WriteBatch(probeKey uint64, samples []engine.Tensor) error
	Close() error
}

// NopSink discards everything written to it.
type NopSink struct{}

func (NopSink) WriteBatch(uint64, []engine.Tensor) error { return nil }
func (NopSink) Close() error                             { return nil }
