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

package comm

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// The on-wire header for one Net frame is a small fixed-size binary
// struct written whole, no self-describing encoding, grounded on the
// fixed-size header tenant/tnproto uses to attach a connection to a
// tenant -- both ends already know the payload's exact size from the
// comm operator's content view.
//
//	tag:     8 bytes, big-endian
//	length:  4 bytes, big-endian
//	digest: 32 bytes, blake2b-256 of payload
const frameHeaderSize = 8 + 4 + 32

func writeFrame(w io.Writer, tag Tag, payload []byte) error {
	var hdr [frameHeaderSize]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(tag))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(payload)))
	sum := blake2b.Sum256(payload)
	copy(hdr[12:], sum[:])
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("comm: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("comm: write frame payload: %w", err)
	}
	return nil
}

// ErrCorruptFrame is returned when a frame's checksum does not match its
// payload.
var ErrCorruptFrame = fmt.Errorf("comm: corrupt frame (checksum mismatch)")

// Net is a Transport backed by one persistent net.Conn per peer rank,
// dialed/accepted once before the build phase. Point-to-point sends/receives
// are length-prefixed, blake2b-checksummed frames; the barrier is a
// star topology rooted at rank 0.
type Net struct {
	rank   int
	nprocs int
	peers  map[int]net.Conn // outbound connections, keyed by peer rank

	mu      sync.Mutex
	readers map[linkKey]chan []byte // demuxed inbound payloads by (src,tag)
	errs    chan error

	closeOnce sync.Once
	closed    chan struct{}
}

// NewNet builds a Net transport from a fully connected mesh of peer
// connections (one outbound net.Conn per other rank, indexed by rank).
// The caller is responsible for establishing the mesh (dial/accept);
// cmd/nengompid's connectMesh does this before the build phase.
func NewNet(rank, nprocs int, peers map[int]net.Conn) *Net {
	n := &Net{
		rank:    rank,
		nprocs:  nprocs,
		peers:   peers,
		readers: make(map[linkKey]chan []byte),
		errs:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
	for src, conn := range peers {
		go n.demux(src, conn)
	}
	return n
}

// demux continuously reads frames from one peer connection and routes
// each payload to the channel its (src, tag) pair names, since PostRecv
// may be called with an expected length before the matching frame has
// arrived.
func (n *Net) demux(src int, conn net.Conn) {
	for {
		var probe [frameHeaderSize]byte
		if _, err := io.ReadFull(conn, probe[:]); err != nil {
			select {
			case n.errs <- fmt.Errorf("comm: peer %d: %w", src, err):
			default:
			}
			return
		}
		tag := Tag(binary.BigEndian.Uint64(probe[0:8]))
		length := binary.BigEndian.Uint32(probe[8:12])
		payload := make([]byte, length)
		if _, err := io.ReadFull(conn, payload); err != nil {
			select {
			case n.errs <- fmt.Errorf("comm: peer %d: %w", src, err):
			default:
			}
			return
		}
		sum := blake2b.Sum256(payload)
		var want [32]byte
		copy(want[:], probe[12:])
		if sum != want {
			select {
			case n.errs <- ErrCorruptFrame:
			default:
			}
			return
		}
		n.chanFor(linkKey{src: src, dst: n.rank, tag: tag}) <- payload
	}
}

func (n *Net) chanFor(k linkKey) chan []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.readers[k]
	if !ok {
		ch = make(chan []byte, 1)
		n.readers[k] = ch
	}
	return ch
}

func (n *Net) Rank() int   { return n.rank }
func (n *Net) NProcs() int { return n.nprocs }

func (n *Net) PostSend(dst int, tag Tag, buf []byte) (Request, error) {
	conn, ok := n.peers[dst]
	if !ok {
		return nil, fmt.Errorf("comm: no connection to peer rank %d", dst)
	}
	req := &localRequest{done: make(chan error, 1)}
	payload := make([]byte, len(buf))
	copy(payload, buf)
	go func() {
		req.done <- writeFrame(conn, tag, payload)
	}()
	return req, nil
}

func (n *Net) PostRecv(src int, tag Tag, buf []byte) (Request, error) {
	ch := n.chanFor(linkKey{src: src, dst: n.rank, tag: tag})
	req := &localRequest{done: make(chan error, 1)}
	go func() {
		select {
		case payload := <-ch:
			if len(payload) != len(buf) {
				req.done <- errLenMismatch(len(payload), len(buf))
				return
			}
			copy(buf, payload)
			req.done <- nil
		case err := <-n.errs:
			req.done <- err
		case <-n.closed:
			req.done <- ErrClosed
		}
	}()
	return req, nil
}

// Barrier implements a star-topology collective: rank 0 waits for a
// one-byte token from every other rank, then sends a release token back
// to each. Other ranks send their token and wait for the release.
func (n *Net) Barrier() error {
	const barrierTag Tag = ^Tag(0) // reserved tag, never used by user sends
	token := []byte{1}
	if n.rank == 0 {
		for r := 1; r < n.nprocs; r++ {
			buf := make([]byte, 1)
			req, err := n.PostRecv(r, barrierTag, buf)
			if err != nil {
				return err
			}
			if err := req.Wait(); err != nil {
				return err
			}
		}
		for r := 1; r < n.nprocs; r++ {
			req, err := n.PostSend(r, barrierTag, token)
			if err != nil {
				return err
			}
			if err := req.Wait(); err != nil {
				return err
			}
		}
		return nil
	}
	sendReq, err := n.PostSend(0, barrierTag, token)
	if err != nil {
		return err
	}
	if err := sendReq.Wait(); err != nil {
		return err
	}
	buf := make([]byte, 1)
	recvReq, err := n.PostRecv(0, barrierTag, buf)
	if err != nil {
		return err
	}
	return recvReq.Wait()
}

func (n *Net) Close() error {
	n.closeOnce.Do(func() {
		close(n.closed)
		for _, c := range n.peers {
			c.Close()
		}
	})
	return nil
}
