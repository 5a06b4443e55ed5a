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
	"fmt"

	"github.com/e2crawfo/nengo-mpi/signal"
)

// Drainable is implemented by comm operators that may have an
// outstanding non-blocking request at the end of a run; Chunk calls
// Drain on every comm operator after the last step of run_n_steps.
type Drainable interface {
	Drain() error
	// Rearm discards any pending buffer/request and resets the
	// operator to its build-time first_call state, used by reset.
	Rearm()
}

// Send posts a non-blocking send of Content to peer Dst tagged Tag one
// step before the matching Recv observes it, hiding the network latency
// behind the surrounding step. The first Step call only primes the
// pipeline (per spec.md 4.4): no send is observable until step 2.
type Send struct {
	Idx       float64
	Dst       int
	Tag       Tag
	Content   signal.Resolved
	Transport Transport

	buffer    []byte
	req       Request
	firstCall bool
	armed     bool
}

func (s *Send) Index() float64 { return s.Idx }

func (s *Send) init() {
	if !s.armed {
		s.buffer = make([]byte, s.Content.Len()*8)
		s.firstCall = true
		s.armed = true
	}
}

func (s *Send) Step() error {
	s.init()
	if s.firstCall {
		s.firstCall = false
	} else if s.req != nil {
		if err := s.req.Wait(); err != nil {
			return fmt.Errorf("comm.Send(dst=%d,tag=%d): %w", s.Dst, s.Tag, err)
		}
	}
	encodeView(s.Content, s.buffer)
	req, err := s.Transport.PostSend(s.Dst, s.Tag, s.buffer)
	if err != nil {
		return fmt.Errorf("comm.Send(dst=%d,tag=%d): %w", s.Dst, s.Tag, err)
	}
	s.req = req
	return nil
}

func (s *Send) Drain() error {
	if s.req == nil {
		return nil
	}
	err := s.req.Wait()
	s.req = nil
	return err
}

func (s *Send) Rearm() {
	s.req = nil
	s.firstCall = true
}

// Recv posts a non-blocking receive from peer Src tagged Tag. The value
// Content presents to downstream operators during step s is the value
// the peer sent during step s-1: a fixed one-step communication
// latency, identical across every link.
type Recv struct {
	Idx       float64
	Src       int
	Tag       Tag
	Content   signal.Resolved
	Transport Transport

	buffer    []byte
	req       Request
	firstCall bool
	armed     bool
}

func (r *Recv) Index() float64 { return r.Idx }

func (r *Recv) init() {
	if !r.armed {
		r.buffer = make([]byte, r.Content.Len()*8)
		r.firstCall = true
		r.armed = true
	}
}

func (r *Recv) Step() error {
	r.init()
	if r.firstCall {
		r.firstCall = false
	} else {
		if r.req != nil {
			if err := r.req.Wait(); err != nil {
				return fmt.Errorf("comm.Recv(src=%d,tag=%d): %w", r.Src, r.Tag, err)
			}
		}
		decodeView(r.buffer, r.Content)
	}
	req, err := r.Transport.PostRecv(r.Src, r.Tag, r.buffer)
	if err != nil {
		return fmt.Errorf("comm.Recv(src=%d,tag=%d): %w", r.Src, r.Tag, err)
	}
	r.req = req
	return nil
}

func (r *Recv) Drain() error {
	if r.req == nil {
		return nil
	}
	err := r.req.Wait()
	r.req = nil
	return err
}

func (r *Recv) Rearm() {
	r.req = nil
	r.firstCall = true
	for i := range r.buffer {
		r.buffer[i] = 0
	}
}

// Wait blocks until a specific previously-posted Send or Recv completes,
// without posting a new request of its own. It is used to force an
// explicit drain point between the comm op that posted the request and
// a downstream operator that must observe its result within the same
// step.
type Wait struct {
	Idx    float64
	Target Drainable
}

func (w *Wait) Index() float64 { return w.Idx }

func (w *Wait) Step() error {
	return w.Target.Drain()
}

// Barrier performs a collective synchronization once every Period
// steps, bounding skew between processes without per-step collective
// cost.
type Barrier struct {
	Idx       float64
	Period    int
	Transport Transport

	n int
}

func (b *Barrier) Index() float64 { return b.Idx }

func (b *Barrier) Step() error {
	b.n++
	if b.Period <= 0 || b.n%b.Period != 0 {
		return nil
	}
	if err := b.Transport.Barrier(); err != nil {
		return fmt.Errorf("comm.Barrier: %w", err)
	}
	return nil
}

// encodeView packs a resolved view's elements into buf as little-endian
// float64s in row-major order.
func encodeView(v signal.Resolved, buf []byte) {
	n := v.Len()
	if v.NDim == 1 {
		for i := 0; i < n; i++ {
			putFloat64(buf[i*8:], v.At(i))
		}
		return
	}
	idx := 0
	for i := 0; i < v.Shape1; i++ {
		for j := 0; j < v.Shape2; j++ {
			putFloat64(buf[idx*8:], v.At2(i, j))
			idx++
		}
	}
}

func decodeView(buf []byte, v signal.Resolved) {
	if v.NDim == 1 {
		for i := 0; i < v.Len(); i++ {
			v.Set(i, getFloat64(buf[i*8:]))
		}
		return
	}
	idx := 0
	for i := 0; i < v.Shape1; i++ {
		for j := 0; j < v.Shape2; j++ {
			v.Set2(i, j, getFloat64(buf[idx*8:]))
			idx++
		}
	}
}
