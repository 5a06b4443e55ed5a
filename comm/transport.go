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

// Package comm implements the message-passing fabric the spec calls "MPI":
// non-blocking send/receive/wait and a periodic collective barrier between
// chunk processes. No Go MPI binding is available in the surrounding
// ecosystem, so the fabric is a small custom transport: Send/Recv frames
// ride either in-process Go channels (Local, used for single-process runs
// and tests) or length-prefixed, checksummed TCP frames (Net, used for
// real multi-process runs), both implementing the same Transport contract
// so the comm operators above them never know which is in play.
package comm

import "fmt"

// Tag disambiguates messages between the same ordered (src,dst) pair, per
// spec.md's glossary. Tags are assigned by the network builder and must
// be unique per directed peer pair.
type Tag uint64

// Request is a handle to a previously posted non-blocking send or
// receive. Wait blocks until the operation completes and, for a receive,
// the destination buffer passed to PostRecv holds the received bytes.
type Request interface {
	Wait() error
}

// Transport is the contract the MPI-style comm operators are built on.
// A rank identifies a chunk/process within the run; Transport
// implementations are responsible for routing by (peer rank, tag).
type Transport interface {
	// Rank returns this process's rank within the communicator.
	Rank() int
	// NProcs returns the total number of ranks in the communicator.
	NProcs() int
	// PostSend asynchronously sends buf to peer rank dst tagged with
	// tag. buf must not be modified until the returned Request
	// completes.
	PostSend(dst int, tag Tag, buf []byte) (Request, error)
	// PostRecv asynchronously receives into buf from peer rank src
	// tagged with tag. buf must not be read until the returned
	// Request completes.
	PostRecv(src int, tag Tag, buf []byte) (Request, error)
	// Barrier blocks until every rank in the communicator has called
	// Barrier.
	Barrier() error
	// Close tears down the transport, aborting any outstanding
	// requests.
	Close() error
}

// ErrClosed is returned by a Net receive request that is still waiting
// for its frame when the transport is closed. Other operations issued
// after Close fail with the underlying connection's error instead, and
// Local never returns it.
var ErrClosed = fmt.Errorf("comm: transport closed")
