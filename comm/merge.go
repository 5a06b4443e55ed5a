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

// segment names one logical channel's slice of a merged buffer: its
// view and its byte offset/length within the peer's single concatenated
// message.
type segment struct {
	tag    Tag
	view   signal.Resolved
	offset int // byte offset into the merged buffer
	length int // byte length
}

// Plan is a per-peer merge of every individual send (or every individual
// receive) to that peer into one contiguous buffer, plus the segment map
// needed to scatter the buffer back out to (or gather it in from) the
// per-tag views. Building a Plan is an optimization purely in terms of
// the same Send/Recv contract: the non-merged path stays available and
// Plan never bypasses it.
type Plan struct {
	Peer     int
	segments []segment
	size     int
}

// NewPlan builds a merge plan for one peer from the (tag, view) pairs
// registered for it, ordering segments deterministically via tagHash so
// sender and receiver independently compute an identical layout without
// exchanging anything at build time.
func NewPlan(peer int, views map[Tag]signal.Resolved) (*Plan, error) {
	tags := make([]Tag, 0, len(views))
	for t := range views {
		tags = append(tags, t)
	}
	tags = orderTags(tags)

	p := &Plan{Peer: peer}
	off := 0
	for _, t := range tags {
		v := views[t]
		n := v.Len() * 8
		p.segments = append(p.segments, segment{tag: t, view: v, offset: off, length: n})
		off += n
	}
	p.size = off
	if len(p.segments) == 0 {
		return nil, fmt.Errorf("comm: merge plan for peer %d has no segments", peer)
	}
	return p, nil
}

// Size is the total byte length of the plan's merged buffer.
func (p *Plan) Size() int { return p.size }

// Gather packs every segment's current view contents into one buffer in
// the plan's fixed tag order (used before a merged send).
func (p *Plan) Gather(buf []byte) {
	for _, s := range p.segments {
		encodeView(s.view, buf[s.offset:s.offset+s.length])
	}
}

// Scatter writes a received merged buffer back out to every segment's
// view (used after a merged receive).
func (p *Plan) Scatter(buf []byte) {
	for _, s := range p.segments {
		decodeView(buf[s.offset:s.offset+s.length], s.view)
	}
}

// MergedSend is the composite Send operator synthesized at finalize in
// merged mode for every peer with at least one outbound channel: one
// non-blocking send of the whole merged buffer per step, replacing that
// peer's individual Send ops.
type MergedSend struct {
	Idx       float64
	Plan      *Plan
	Transport Transport
	Tag       Tag // reserved merge-channel tag, distinct from user tags

	buffer    []byte
	req       Request
	firstCall bool
	armed     bool
}

func (m *MergedSend) Index() float64 { return m.Idx }

func (m *MergedSend) init() {
	if !m.armed {
		m.buffer = make([]byte, m.Plan.Size())
		m.firstCall = true
		m.armed = true
	}
}

func (m *MergedSend) Step() error {
	m.init()
	if m.firstCall {
		m.firstCall = false
	} else if m.req != nil {
		if err := m.req.Wait(); err != nil {
			return fmt.Errorf("comm.MergedSend(peer=%d): %w", m.Plan.Peer, err)
		}
	}
	m.Plan.Gather(m.buffer)
	req, err := m.Transport.PostSend(m.Plan.Peer, m.Tag, m.buffer)
	if err != nil {
		return fmt.Errorf("comm.MergedSend(peer=%d): %w", m.Plan.Peer, err)
	}
	m.req = req
	return nil
}

func (m *MergedSend) Drain() error {
	if m.req == nil {
		return nil
	}
	err := m.req.Wait()
	m.req = nil
	return err
}

func (m *MergedSend) Rearm() {
	m.req = nil
	m.firstCall = true
}

// MergedRecv is the composite Recv operator synthesized at finalize in
// merged mode for every peer with at least one inbound channel.
type MergedRecv struct {
	Idx       float64
	Plan      *Plan
	Transport Transport
	Tag       Tag

	buffer    []byte
	req       Request
	firstCall bool
	armed     bool
}

func (m *MergedRecv) Index() float64 { return m.Idx }

func (m *MergedRecv) init() {
	if !m.armed {
		m.buffer = make([]byte, m.Plan.Size())
		m.firstCall = true
		m.armed = true
	}
}

func (m *MergedRecv) Step() error {
	m.init()
	if m.firstCall {
		m.firstCall = false
	} else {
		if m.req != nil {
			if err := m.req.Wait(); err != nil {
				return fmt.Errorf("comm.MergedRecv(peer=%d): %w", m.Plan.Peer, err)
			}
		}
		m.Plan.Scatter(m.buffer)
	}
	req, err := m.Transport.PostRecv(m.Plan.Peer, m.Tag, m.buffer)
	if err != nil {
		return fmt.Errorf("comm.MergedRecv(peer=%d): %w", m.Plan.Peer, err)
	}
	m.req = req
	return nil
}

func (m *MergedRecv) Drain() error {
	if m.req == nil {
		return nil
	}
	err := m.req.Wait()
	m.req = nil
	return err
}

func (m *MergedRecv) Rearm() {
	m.req = nil
	m.firstCall = true
	for i := range m.buffer {
		m.buffer[i] = 0
	}
}
